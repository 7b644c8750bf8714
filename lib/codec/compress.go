// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the body compression of a batch request.
type Compression uint8

const (
	// CompressionNone sends the encoded batch as is.
	CompressionNone Compression = iota

	// CompressionZstd is zstd at the default level. Event batches are
	// repetitive text-like records and compress well.
	CompressionZstd

	// CompressionLZ4 is the lz4 frame format. Cheaper on CPU than
	// zstd, lower ratio.
	CompressionLZ4
)

// String returns the configuration name, which is also the
// Content-Encoding token (except for none).
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a configuration name. The empty string is
// none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// CompressionForContentEncoding maps a Content-Encoding header back to
// a Compression. An absent header or "identity" is none.
func CompressionForContentEncoding(encoding string) (Compression, error) {
	if encoding == "identity" {
		return CompressionNone, nil
	}
	return ParseCompression(encoding)
}

// ContentEncoding returns the header value for the compression, or the
// empty string when no header should be sent.
func (c Compression) ContentEncoding() string {
	if c == CompressionNone {
		return ""
	}
	return c.String()
}

// zstd encoders and decoders are safe for concurrent use and costly
// to build, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data. CompressionNone returns data unchanged.
func Compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var out bytes.Buffer
		writer := lz4.NewWriter(&out)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
}

// Decompress reverses Compress. The output is bounded at limit bytes;
// a body that expands beyond it is rejected rather than read into
// memory.
func Decompress(data []byte, c Compression, limit int64) ([]byte, error) {
	var reader io.Reader
	switch c {
	case CompressionNone:
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("body of %d bytes exceeds limit %d", len(data), limit)
		}
		return data, nil
	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if int64(len(decoded)) > limit {
			return nil, fmt.Errorf("decompressed body of %d bytes exceeds limit %d", len(decoded), limit)
		}
		return decoded, nil
	case CompressionLZ4:
		reader = lz4.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}

	decoded, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c, err)
	}
	if int64(len(decoded)) > limit {
		return nil, fmt.Errorf("decompressed body exceeds limit %d", limit)
	}
	return decoded, nil
}

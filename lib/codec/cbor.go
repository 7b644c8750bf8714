// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Event properties decode into map[string]any so they can be
		// re-encoded as JSON by the collector's feed.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Format selects the body encoding of a batch request.
type Format uint8

const (
	// FormatJSON is application/json. The hosted event sink only
	// accepts this format.
	FormatJSON Format = iota

	// FormatCBOR is application/cbor with deterministic encoding.
	FormatCBOR
)

// String returns the configuration name of the format.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("unknown(%d)", f)
	}
}

// ParseFormat parses a configuration name. The empty string is JSON.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	default:
		return 0, fmt.Errorf("unknown encoding format: %q", name)
	}
}

// FormatForContentType maps a request Content-Type back to a Format.
// Parameters such as "; charset=utf-8" are ignored.
func FormatForContentType(contentType string) (Format, error) {
	for i := 0; i < len(contentType); i++ {
		if contentType[i] == ';' {
			contentType = contentType[:i]
			break
		}
	}
	switch contentType {
	case "", "application/json":
		return FormatJSON, nil
	case "application/cbor":
		return FormatCBOR, nil
	default:
		return 0, fmt.Errorf("unsupported content type: %q", contentType)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatCBOR {
		return "application/cbor"
	}
	return "application/json"
}

// Encode encodes v in the format.
func (f Format) Encode(v any) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(v)
	case FormatCBOR:
		return Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported encoding format: %d", f)
	}
}

// Decode decodes data in the format into v.
func (f Format) Decode(data []byte, v any) error {
	switch f {
	case FormatJSON:
		return json.Unmarshal(data, v)
	case FormatCBOR:
		return Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported encoding format: %d", f)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the event sink's wire encodings: the CBOR
// configuration shared by every component, the JSON/CBOR format switch
// used by the HTTP transport, body compression, and batch digests.
//
// Batches go to the collector as JSON by default, which is what the
// hosted event sink accepts. Collectors that understand CBOR can be
// sent Core Deterministic CBOR (RFC 8949 §4.2) instead: sorted map
// keys, smallest integer encoding, no indefinite-length items. The
// same batch always produces the same bytes, which is what makes
// [Digest] stable across resends.
//
// Struct tags follow one rule: wire types carry `json` tags only.
// fxamacker/cbor falls back to `json` tags when `cbor` tags are
// absent, so one tag names the field in both formats.
//
// Bodies may be compressed with zstd or lz4 (frame format). The
// compression is advertised in Content-Encoding and reversed by the
// collector with [Decompress].
package codec

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// digestKey is the BLAKE3 key for batch digests: "eventsink.batch"
// in ASCII, zero-padded to 32 bytes. Changing it changes every digest.
var digestKey = [32]byte{
	'e', 'v', 'e', 'n', 't', 's', 'i', 'n', 'k', '.', 'b', 'a', 't', 'c', 'h',
}

// Digest returns the hex BLAKE3 keyed hash of v's deterministic CBOR
// encoding. Equal values always produce equal digests.
func Digest(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding digest input: %w", err)
	}
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		return "", fmt.Errorf("creating keyed hasher: %w", err)
	}
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

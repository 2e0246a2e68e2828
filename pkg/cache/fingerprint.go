package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Fingerprint derives a deterministic fixed-length digest from a
// structured lookup parameter. The value is canonicalized first, so
// two logically equal parameters produce the same fingerprint no
// matter how their fields were ordered. Values that cannot be
// serialized (cycles, channels, functions) surface an error.
func Fingerprint(v any) (string, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := xxh3.Hash128(canon).Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// Key returns an opaque string key untouched and fingerprints
// everything else.
func Key(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return Fingerprint(v)
}

// canonicalize produces a canonical JSON encoding of v. Marshaling
// twice through an untyped value forces object keys into sorted order,
// which makes struct field order and map insertion order irrelevant.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize lookup key: %w", err)
	}

	var untyped any
	if err := json.Unmarshal(raw, &untyped); err != nil {
		return nil, fmt.Errorf("canonicalize lookup key: %w", err)
	}

	canon, err := json.Marshal(untyped)
	if err != nil {
		return nil, fmt.Errorf("canonicalize lookup key: %w", err)
	}
	return canon, nil
}

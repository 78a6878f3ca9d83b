// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keymap

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrConflictingValue is returned when two maps being merged define the
// same key with different values.
var ErrConflictingValue = errors.New("conflicting values for key")

// Merge returns the key-wise union of a and b as a fresh map in
// canonical order. Keys present on both sides must carry byte-identical
// values; otherwise ErrConflictingValue is returned and neither operand
// is modified. Since the union of two sets is order-free and the result
// is sorted, Merge is commutative and associative.
func Merge(a, b *Map) (*Map, error) {
	merged := a.Clone()
	for _, pair := range b.Pairs() {
		existing, ok := merged.Get(pair.Key)
		if !ok {
			merged.Set(Key{
				Type: pair.Key.Type,
				Data: append([]byte(nil), pair.Key.Data...),
			}, append([]byte(nil), pair.Value...))

			continue
		}

		if !bytes.Equal(existing, pair.Value) {
			return nil, fmt.Errorf("%w: %v", ErrConflictingValue,
				pair.Key)
		}
	}

	merged.Sort()

	return merged, nil
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keymap implements the ordered key-value map structure that
// underlies every section of a PSBT, as defined in BIP 174: a sequence
// of <keylen><keytype><keydata><valuelen><valuedata> entries terminated
// by a zero-length key. Entry order is preserved exactly as parsed so
// that re-encoding a map reproduces the original bytes.
package keymap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/wire"
)

const (
	// MaxKeyLength is the length of the largest key that we'll
	// successfully deserialize from the wire. Anything larger is
	// rejected with ErrMalformedMap.
	MaxKeyLength = 10000

	// MaxValueLength is the size of the largest value that can appear in
	// a map entry. This accommodates a full non-witness UTXO transaction
	// and is definitely less than 4M.
	MaxValueLength = 4000000
)

var (
	// ErrMalformedMap is returned when a serialized map does not follow
	// the structural rules of BIP 174: a length prefix inconsistent with
	// the remaining buffer, a missing terminator, or a repeated
	// (key-type, key-data) pair.
	ErrMalformedMap = errors.New("malformed key-value map")

	// ErrDuplicateKey is returned when two entries of the same map share
	// the full (key-type, key-data) identity. It wraps ErrMalformedMap
	// since duplicate keys render the whole map invalid.
	ErrDuplicateKey = fmt.Errorf("%w: duplicate key", ErrMalformedMap)

	// ErrVarIntOverflow is returned when a compact-size length prefix
	// uses a non-canonical (over-long) encoding.
	ErrVarIntOverflow = errors.New("non-canonical compact-size encoding")
)

// Key is the full identity of a map entry: a one-byte type code followed
// by optional key data. Two entries with equal Type and Data are the
// same key regardless of their values.
type Key struct {
	// Type is the one-byte key-type code.
	Type uint8

	// Data is the remainder of the key after the type byte. A nil and
	// an empty slice are equivalent on the wire.
	Data []byte
}

// Equal returns true if both keys share the same type code and key data.
func (k Key) Equal(other Key) bool {
	return k.Type == other.Type && bytes.Equal(k.Data, other.Data)
}

// String returns a human readable rendering of the key, suitable for
// inclusion in error messages.
func (k Key) String() string {
	return fmt.Sprintf("type 0x%02x, data %x", k.Type, k.Data)
}

// index returns the lookup identity of the key as a string so it can be
// used as an index into the map's entry set.
func (k Key) index() string {
	return string(append([]byte{k.Type}, k.Data...))
}

// Pair is a single (key, value) entry of a map. It is the atomic unit of
// PSBT serialization; every field, known or not, is representable as one
// or more pairs.
type Pair struct {
	Key   Key
	Value []byte
}

// Map is an ordered set of pairs with unique keys. The zero value is not
// usable; construct instances with New or Decode.
type Map struct {
	pairs []Pair
	byKey map[string]int
}

// New returns an empty map.
func New() *Map {
	return &Map{byKey: make(map[string]int)}
}

// Decode reads pairs from r until the zero-length-key terminator is
// found. The pairs are retained in wire order. Structural violations are
// reported as ErrMalformedMap (or ErrVarIntOverflow for non-canonical
// length prefixes); the reader is left in an undefined position on
// error.
func Decode(r io.Reader) (*Map, error) {
	m := New()
	for {
		keyLen, err := readCompactSize(r)
		if err != nil {
			return nil, err
		}

		// A zero-length key is the map terminator.
		if keyLen == 0 {
			return m, nil
		}

		if keyLen > MaxKeyLength {
			return nil, fmt.Errorf("%w: key length %d exceeds "+
				"maximum %d", ErrMalformedMap, keyLen,
				MaxKeyLength)
		}

		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return nil, fmt.Errorf("%w: short read of %d key "+
				"bytes", ErrMalformedMap, keyLen)
		}

		valueLen, err := readCompactSize(r)
		if err != nil {
			return nil, err
		}
		if valueLen > MaxValueLength {
			return nil, fmt.Errorf("%w: value length %d exceeds "+
				"maximum %d", ErrMalformedMap, valueLen,
				MaxValueLength)
		}

		value := make([]byte, valueLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("%w: short read of %d value "+
				"bytes", ErrMalformedMap, valueLen)
		}

		key := Key{Type: keyBytes[0], Data: keyBytes[1:]}
		if err := m.Add(Pair{Key: key, Value: value}); err != nil {
			return nil, err
		}
	}
}

// Encode writes all pairs in their retained order to w, followed by the
// zero-length-key terminator.
func (m *Map) Encode(w io.Writer) error {
	for _, pair := range m.pairs {
		keyLen := uint64(len(pair.Key.Data) + 1)
		if err := wire.WriteVarInt(w, 0, keyLen); err != nil {
			return err
		}
		if _, err := w.Write([]byte{pair.Key.Type}); err != nil {
			return err
		}
		if _, err := w.Write(pair.Key.Data); err != nil {
			return err
		}

		valueLen := uint64(len(pair.Value))
		if err := wire.WriteVarInt(w, 0, valueLen); err != nil {
			return err
		}
		if _, err := w.Write(pair.Value); err != nil {
			return err
		}
	}

	// Terminate the map with a zero-length key.
	_, err := w.Write([]byte{0x00})
	return err
}

// Add appends a pair to the map, returning ErrDuplicateKey if the key is
// already present. The key data and value bytes are copied, so the
// caller may reuse its buffers.
func (m *Map) Add(pair Pair) error {
	idx := pair.Key.index()
	if _, ok := m.byKey[idx]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, pair.Key)
	}

	m.byKey[idx] = len(m.pairs)
	m.pairs = append(m.pairs, copyPair(pair))

	return nil
}

// Set stores the value under the given key, replacing any existing value
// in place so the entry keeps its original position, or appending a new
// entry otherwise. The key data and value bytes are copied, so the
// caller may reuse its buffers.
func (m *Map) Set(key Key, value []byte) {
	if i, ok := m.byKey[key.index()]; ok {
		m.pairs[i].Value = append([]byte(nil), value...)
		return
	}

	m.byKey[key.index()] = len(m.pairs)
	m.pairs = append(m.pairs, copyPair(Pair{Key: key, Value: value}))
}

// copyPair returns a pair owning copies of the key data and value.
func copyPair(pair Pair) Pair {
	return Pair{
		Key: Key{
			Type: pair.Key.Type,
			Data: append([]byte(nil), pair.Key.Data...),
		},
		Value: append([]byte(nil), pair.Value...),
	}
}

// Get returns the value stored under the given key, and whether the key
// is present at all. An absent key is distinguishable from a present key
// with an empty value.
func (m *Map) Get(key Key) ([]byte, bool) {
	i, ok := m.byKey[key.index()]
	if !ok {
		return nil, false
	}

	return m.pairs[i].Value, true
}

// GetType returns the value of the sole entry carrying the given type
// code with empty key data.
func (m *Map) GetType(keyType uint8) ([]byte, bool) {
	return m.Get(Key{Type: keyType})
}

// TypePairs returns all pairs carrying the given type code, in retained
// order. The returned slice aliases the map's storage and must not be
// mutated.
func (m *Map) TypePairs(keyType uint8) []Pair {
	var pairs []Pair
	for _, pair := range m.pairs {
		if pair.Key.Type == keyType {
			pairs = append(pairs, pair)
		}
	}

	return pairs
}

// Delete removes the entry with the given key and reports whether an
// entry was removed.
func (m *Map) Delete(key Key) bool {
	i, ok := m.byKey[key.index()]
	if !ok {
		return false
	}

	m.pairs = append(m.pairs[:i], m.pairs[i+1:]...)
	delete(m.byKey, key.index())

	// Reindex the entries that shifted down.
	for j := i; j < len(m.pairs); j++ {
		m.byKey[m.pairs[j].Key.index()] = j
	}

	return true
}

// DeleteType removes every entry carrying the given type code and
// returns the number of entries removed.
func (m *Map) DeleteType(keyType uint8) int {
	var kept []Pair
	removed := 0
	for _, pair := range m.pairs {
		if pair.Key.Type == keyType {
			removed++
			continue
		}
		kept = append(kept, pair)
	}

	if removed == 0 {
		return 0
	}

	m.pairs = kept
	m.byKey = make(map[string]int, len(kept))
	for i, pair := range kept {
		m.byKey[pair.Key.index()] = i
	}

	return removed
}

// Pairs returns the entries of the map in retained order. The returned
// slice aliases the map's storage and must not be mutated.
func (m *Map) Pairs() []Pair {
	return m.pairs
}

// Len returns the number of entries in the map.
func (m *Map) Len() int {
	return len(m.pairs)
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	clone := &Map{
		pairs: make([]Pair, len(m.pairs)),
		byKey: make(map[string]int, len(m.byKey)),
	}
	for i, pair := range m.pairs {
		clone.pairs[i] = Pair{
			Key: Key{
				Type: pair.Key.Type,
				Data: append([]byte(nil), pair.Key.Data...),
			},
			Value: append([]byte(nil), pair.Value...),
		}
		clone.byKey[pair.Key.index()] = i
	}

	return clone
}

// Sort reorders the entries into canonical order: ascending by type
// code, then lexicographically by key data. Merged maps are sorted this
// way so that combining documents is commutative at the byte level.
func (m *Map) Sort() {
	sort.SliceStable(m.pairs, func(i, j int) bool {
		a, b := m.pairs[i].Key, m.pairs[j].Key
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return bytes.Compare(a.Data, b.Data) < 0
	})

	for i, pair := range m.pairs {
		m.byKey[pair.Key.index()] = i
	}
}

// Equal reports whether both maps hold the same set of pairs, ignoring
// entry order.
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}

	for _, pair := range m.pairs {
		value, ok := other.Get(pair.Key)
		if !ok || !bytes.Equal(value, pair.Value) {
			return false
		}
	}

	return true
}

// readCompactSize reads one canonically encoded compact-size integer
// from r. Over-long encodings are rejected with ErrVarIntOverflow, a
// truncated buffer with ErrMalformedMap.
func readCompactSize(r io.Reader) (uint64, error) {
	value, err := wire.ReadVarInt(r, 0)
	if err != nil {
		// The only message-level failure ReadVarInt produces is the
		// canonical encoding check; everything else surfaces as a
		// plain read error.
		var msgErr *wire.MessageError
		if errors.As(err, &msgErr) {
			return 0, fmt.Errorf("%w: %v", ErrVarIntOverflow, err)
		}

		return 0, fmt.Errorf("%w: missing terminator before end of "+
			"buffer", ErrMalformedMap)
	}

	return value, nil
}

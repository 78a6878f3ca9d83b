// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpsbt/keymap"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

// testOutPoint returns a deterministic outpoint for test transactions.
func testOutPoint(t *testing.T, b byte, index uint32) *wire.OutPoint {
	t.Helper()

	var hashBytes [chainhash.HashSize]byte
	for i := range hashBytes {
		hashBytes[i] = b
	}
	hash, err := chainhash.NewHash(hashBytes[:])
	require.NoError(t, err)

	return wire.NewOutPoint(hash, index)
}

// testPacketV0 returns a two-in, one-out v0 packet.
func testPacketV0(t *testing.T) *Packet {
	t.Helper()

	p, err := New(
		[]*wire.OutPoint{
			testOutPoint(t, 0x01, 0),
			testOutPoint(t, 0x02, 1),
		},
		[]*wire.TxOut{
			wire.NewTxOut(100_000, []byte{0x00, 0x14, 0xab}),
		},
		2, 0,
	)
	require.NoError(t, err)

	return p
}

// serializePacket returns the raw serialization of a packet.
func serializePacket(t *testing.T, p *Packet) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, p.Serialize(&buf))

	return buf.Bytes()
}

// reserializePacket decodes raw bytes and serializes the result again.
func reserializePacket(t *testing.T, raw []byte) []byte {
	t.Helper()

	p, err := NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)

	return serializePacket(t, p)
}

// TestRoundTripByteExact verifies that decode followed by encode
// reproduces the serialized input exactly, including fields this
// package does not interpret and their relative order.
func TestRoundTripByteExact(t *testing.T) {
	t.Parallel()

	p := testPacketV0(t)

	// Sprinkle unknown and proprietary entries over all three map
	// kinds, deliberately out of canonical order.
	p.global.Set(keymap.Key{Type: 0xee, Data: []byte{0x01}}, []byte{0xaa})
	p.global.Set(
		keymap.Key{Type: ProprietaryKeyType, Data: []byte("test")},
		[]byte{0xbb},
	)
	p.Inputs[0].kv.Set(keymap.Key{Type: 0x7f}, []byte{0x01, 0x02})
	p.Inputs[0].kv.Set(keymap.Key{Type: 0x09, Data: []byte{2}}, nil)
	p.Outputs[0].kv.Set(keymap.Key{Type: 0x55}, []byte("opaque"))

	raw := serializePacket(t, p)
	require.Equal(
		t, raw, reserializePacket(t, raw), "document: %s",
		spew.Sdump(p.global.Pairs()),
	)
}

// TestRoundTripBase64 verifies the text interchange form.
func TestRoundTripBase64(t *testing.T) {
	t.Parallel()

	p := testPacketV0(t)

	encoded, err := p.B64Encode()
	require.NoError(t, err)

	decoded, err := NewFromRawBytes(strings.NewReader(encoded), true)
	require.NoError(t, err)
	require.Equal(t, serializePacket(t, p), serializePacket(t, decoded))
}

// TestDecodeRejections verifies whole-document structural checks.
func TestDecodeRejections(t *testing.T) {
	t.Parallel()

	valid := serializePacket(t, testPacketV0(t))

	testCases := []struct {
		name        string
		mutate      func([]byte) []byte
		expectedErr error
	}{{
		name: "bad magic",
		mutate: func(raw []byte) []byte {
			raw[0] ^= 0xff
			return raw
		},
		expectedErr: ErrInvalidMagicBytes,
	}, {
		name: "empty stream",
		mutate: func(raw []byte) []byte {
			return nil
		},
		expectedErr: ErrMalformedMap,
	}, {
		name: "trailing data after final map",
		mutate: func(raw []byte) []byte {
			return append(raw, 0x00)
		},
		expectedErr: ErrMalformedMap,
	}, {
		name: "truncated input section",
		mutate: func(raw []byte) []byte {
			return raw[:len(raw)-1]
		},
		expectedErr: ErrMalformedMap,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			raw := tc.mutate(append([]byte(nil), valid...))
			_, err := NewFromRawBytes(bytes.NewReader(raw), false)
			require.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

// TestDecodeDuplicateKeys verifies that a repeated key within one map
// aborts the decode.
func TestDecodeDuplicateKeys(t *testing.T) {
	t.Parallel()

	p := testPacketV0(t)
	raw := serializePacket(t, p)

	// The stream of the fresh packet ends with three empty maps, one
	// terminator byte each. Splicing a doubled unknown entry before
	// them lands both copies in the first input map.
	entry := []byte{0x01, 0xee, 0x01, 0xaa}
	var tampered []byte
	tampered = append(tampered, raw[:len(raw)-3]...)
	tampered = append(tampered, entry...)
	tampered = append(tampered, entry...)
	tampered = append(tampered, raw[len(raw)-3:]...)

	_, err := NewFromRawBytes(bytes.NewReader(tampered), false)
	require.ErrorIs(t, err, ErrMalformedMap)
}

// TestVersionMatrix verifies field presence rules across document
// versions.
func TestVersionMatrix(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		mutate      func(t *testing.T, p *Packet)
		v2          bool
		expectedErr error
	}{{
		name: "v2 global field in v0 document",
		mutate: func(t *testing.T, p *Packet) {
			p.global.Set(
				keymap.Key{Type: uint8(GlobalTxVersion)},
				[]byte{0x02, 0x00, 0x00, 0x00},
			)
		},
		expectedErr: ErrForbiddenField,
	}, {
		name: "explicit version zero",
		mutate: func(t *testing.T, p *Packet) {
			p.global.Set(
				keymap.Key{Type: uint8(GlobalVersion)},
				[]byte{0x00, 0x00, 0x00, 0x00},
			)
		},
		expectedErr: ErrForbiddenField,
	}, {
		name: "unsupported version",
		mutate: func(t *testing.T, p *Packet) {
			p.global.Set(
				keymap.Key{Type: uint8(GlobalVersion)},
				[]byte{0x01, 0x00, 0x00, 0x00},
			)
		},
		expectedErr: ErrInvalidFieldEncoding,
	}, {
		name: "embedded transaction in v2 document",
		v2:   true,
		mutate: func(t *testing.T, p *Packet) {
			p.global.Set(
				keymap.Key{Type: uint8(GlobalUnsignedTx)},
				[]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00,
					0x00, 0x00, 0x00, 0x00},
			)
		},
		expectedErr: ErrForbiddenField,
	}, {
		name: "v2 missing tx version",
		v2:   true,
		mutate: func(t *testing.T, p *Packet) {
			p.global.Delete(keymap.Key{Type: uint8(GlobalTxVersion)})
		},
		expectedErr: ErrMissingRequiredField,
	}, {
		name: "v2 input missing prevout txid",
		v2:   true,
		mutate: func(t *testing.T, p *Packet) {
			p.Inputs[0].kv.Delete(
				keymap.Key{Type: uint8(InputPreviousTxid)},
			)
		},
		expectedErr: ErrMissingRequiredField,
	}, {
		name: "v2 per-input field in v0 document",
		mutate: func(t *testing.T, p *Packet) {
			p.Inputs[0].kv.Set(
				keymap.Key{Type: uint8(InputSequence)},
				[]byte{0xff, 0xff, 0xff, 0xff},
			)
		},
		expectedErr: ErrForbiddenField,
	}, {
		name: "v2 output missing amount",
		v2:   true,
		mutate: func(t *testing.T, p *Packet) {
			p.Outputs[0].kv.Delete(
				keymap.Key{Type: uint8(OutputAmount)},
			)
		},
		expectedErr: ErrMissingRequiredField,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var p *Packet
			if tc.v2 {
				p = testPacketV2(t)
			} else {
				p = testPacketV0(t)
			}
			tc.mutate(t, p)

			raw := serializePacket(t, p)
			_, err := NewFromRawBytes(bytes.NewReader(raw), false)
			require.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

// TestCombine verifies the union semantics of combining and its
// algebraic properties at the byte level.
func TestCombine(t *testing.T) {
	t.Parallel()

	base := serializePacket(t, testPacketV0(t))
	decode := func() *Packet {
		p, err := NewFromRawBytes(bytes.NewReader(base), false)
		require.NoError(t, err)
		return p
	}

	a := decode()
	a.Inputs[0].kv.Set(keymap.Key{Type: 0xe1}, []byte{0x01})
	a.global.Set(keymap.Key{Type: 0xe0}, []byte{0x10})

	b := decode()
	b.Inputs[0].kv.Set(keymap.Key{Type: 0xe2}, []byte{0x02})
	b.Inputs[1].kv.Set(keymap.Key{Type: 0xe3}, []byte{0x03})

	// Union of disjoint material.
	ab, err := Combine(a, b)
	require.NoError(t, err)
	_, ok := ab.Inputs[0].kv.Get(keymap.Key{Type: 0xe1})
	require.True(t, ok)
	_, ok = ab.Inputs[0].kv.Get(keymap.Key{Type: 0xe2})
	require.True(t, ok)
	_, ok = ab.Inputs[1].kv.Get(keymap.Key{Type: 0xe3})
	require.True(t, ok)

	// Commutative byte for byte, and idempotent under set equality.
	ba, err := Combine(b, a)
	require.NoError(t, err)
	require.Equal(t, serializePacket(t, ab), serializePacket(t, ba))

	aa, err := Combine(a, a)
	require.NoError(t, err)
	require.True(t, aa.Equal(a))

	// Identical overlap is accepted, conflicting overlap is not.
	c := decode()
	c.Inputs[0].kv.Set(keymap.Key{Type: 0xe1}, []byte{0x01})
	_, err = Combine(a, c)
	require.NoError(t, err)

	c.Inputs[0].kv.Set(keymap.Key{Type: 0xe1}, []byte{0xff})
	_, err = Combine(a, c)
	require.ErrorIs(t, err, ErrConflictingValue)

	// A different underlying transaction cannot be combined.
	other, err := New(
		[]*wire.OutPoint{testOutPoint(t, 0x09, 3)},
		[]*wire.TxOut{wire.NewTxOut(1, []byte{0x6a})},
		2, 0,
	)
	require.NoError(t, err)
	_, err = Combine(a, other)
	require.ErrorIs(t, err, ErrIncompatibleTransactions)
}

// TestUnknownsAccessors verifies that uninterpreted and proprietary
// entries are reported while known fields are not.
func TestUnknownsAccessors(t *testing.T) {
	t.Parallel()

	p := testPacketV0(t)
	p.global.Set(
		keymap.Key{Type: ProprietaryKeyType, Data: []byte{0x04, 't',
			'e', 's', 't'}},
		[]byte{0x01},
	)
	p.Inputs[0].kv.Set(keymap.Key{Type: 0x7f}, []byte{0x02})
	p.Inputs[0].SetRedeemScript([]byte{0x51})

	require.Len(t, p.GlobalUnknowns(), 1)
	require.Len(t, p.Inputs[0].Unknowns(), 1)
	require.Equal(t, uint8(0x7f), p.Inputs[0].Unknowns()[0].Key.Type)
	require.Empty(t, p.Outputs[0].Unknowns())
}

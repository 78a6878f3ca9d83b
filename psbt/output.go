// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcpsbt/keymap"
)

// Output is a typed view over the raw key-value map of one PSBT output.
// Like Input, it reads from and writes into the underlying map so that
// uninterpreted fields are preserved byte-for-byte.
type Output struct {
	kv *keymap.Map
}

// newOutput wraps an already validated key-value map.
func newOutput(kv *keymap.Map) *Output {
	return &Output{kv: kv}
}

// emptyOutput returns an output with no entries.
func emptyOutput() *Output {
	return &Output{kv: keymap.New()}
}

// RedeemScript returns the redeem script of this output's P2SH
// scriptPubKey, or nil.
func (out *Output) RedeemScript() []byte {
	value, _ := out.kv.GetType(uint8(OutputRedeemScript))
	return value
}

// WitnessScript returns the witness script of this output's P2WSH
// witness program, or nil.
func (out *Output) WitnessScript() []byte {
	value, _ := out.kv.GetType(uint8(OutputWitnessScript))
	return value
}

// Bip32Derivations returns the derivation metadata of every public key
// attached to this output, in retained map order.
func (out *Output) Bip32Derivations() []*Bip32Derivation {
	return derivationsFromPairs(
		out.kv.TypePairs(uint8(OutputBip32Derivation)),
	)
}

// Amount returns the explicit output value of a v2 output.
func (out *Output) Amount() (btcutil.Amount, bool) {
	value, ok := out.kv.GetType(uint8(OutputAmount))
	if !ok || len(value) != 8 {
		return 0, false
	}

	return btcutil.Amount(binary.LittleEndian.Uint64(value)), true
}

// Script returns the explicit scriptPubKey of a v2 output, or nil.
func (out *Output) Script() []byte {
	value, _ := out.kv.GetType(uint8(OutputScript))
	return value
}

// Unknowns returns every entry of the output map whose key type this
// package does not interpret, including proprietary entries, in
// retained order.
func (out *Output) Unknowns() []keymap.Pair {
	return unknownPairs(out.kv, outputRegistry)
}

// SetRedeemScript attaches the redeem script of this output's P2SH
// scriptPubKey.
func (out *Output) SetRedeemScript(script []byte) {
	out.kv.Set(keymap.Key{Type: uint8(OutputRedeemScript)}, script)
}

// SetWitnessScript attaches the witness script of this output's P2WSH
// witness program.
func (out *Output) SetWitnessScript(script []byte) {
	out.kv.Set(keymap.Key{Type: uint8(OutputWitnessScript)}, script)
}

// AddBip32Derivation attaches derivation metadata for one public key.
func (out *Output) AddBip32Derivation(d *Bip32Derivation) error {
	return addDerivation(out.kv, uint8(OutputBip32Derivation), d)
}

// setAmount installs the mandatory v2 amount field.
func (out *Output) setAmount(amount btcutil.Amount) {
	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], uint64(amount))
	out.kv.Set(keymap.Key{Type: uint8(OutputAmount)}, value[:])
}

// setScript installs the mandatory v2 scriptPubKey field.
func (out *Output) setScript(script []byte) {
	out.kv.Set(keymap.Key{Type: uint8(OutputScript)}, script)
}

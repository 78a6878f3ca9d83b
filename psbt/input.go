// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpsbt/keymap"
)

// InputState describes how far an input has progressed towards being
// spendable.
type InputState uint8

const (
	// StateUnsigned is an input carrying no signing material yet.
	StateUnsigned InputState = iota

	// StatePartiallySigned is an input carrying at least one partial
	// signature or piece of signing metadata, but no final scripts.
	StatePartiallySigned

	// StateFinal is an input whose final scriptSig and/or witness has
	// been constructed. Final is terminal: no further signature
	// attachment is accepted.
	StateFinal
)

// String returns a human readable name of the state.
func (s InputState) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"
	case StatePartiallySigned:
		return "partially signed"
	case StateFinal:
		return "final"
	default:
		return fmt.Sprintf("unknown state %d", uint8(s))
	}
}

// Input is a typed view over the raw key-value map of one PSBT input.
// All reads decode from and all writes re-encode into the underlying
// map, so fields this package does not interpret survive every
// operation untouched and serialization reproduces parsed entries
// byte-for-byte.
type Input struct {
	kv *keymap.Map
}

// newInput wraps an already validated key-value map.
func newInput(kv *keymap.Map) *Input {
	return &Input{kv: kv}
}

// emptyInput returns an input with no entries.
func emptyInput() *Input {
	return &Input{kv: keymap.New()}
}

// NonWitnessUtxo returns the full transaction creating the output this
// input spends, or nil if not present.
func (in *Input) NonWitnessUtxo() *wire.MsgTx {
	value, ok := in.kv.GetType(uint8(InputNonWitnessUtxo))
	if !ok {
		return nil
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(value)); err != nil {
		return nil
	}

	return tx
}

// WitnessUtxo returns the output this input spends, or nil if not
// present.
func (in *Input) WitnessUtxo() *wire.TxOut {
	value, ok := in.kv.GetType(uint8(InputWitnessUtxo))
	if !ok {
		return nil
	}

	txOut, err := readTxOut(value)
	if err != nil {
		return nil
	}

	return txOut
}

// Utxo returns the output this input spends using whichever UTXO field
// is present, preferring the non-witness transaction since it is
// authoritative. The second return value reports whether the output was
// resolved through the witness-UTXO field.
func (in *Input) Utxo(prevOut wire.OutPoint) (*wire.TxOut, bool, error) {
	if prevTx := in.NonWitnessUtxo(); prevTx != nil {
		if prevTx.TxHash() != prevOut.Hash {
			return nil, false,
				ErrInvalidPrevOutNonWitnessTransaction
		}
		if int(prevOut.Index) >= len(prevTx.TxOut) {
			return nil, false, fmt.Errorf("%w: output index %d "+
				"out of range", ErrMissingUtxoData,
				prevOut.Index)
		}

		return prevTx.TxOut[prevOut.Index], false, nil
	}

	if txOut := in.WitnessUtxo(); txOut != nil {
		return txOut, true, nil
	}

	return nil, false, ErrMissingUtxoData
}

// PartialSigs returns all partial signatures attached to this input, in
// retained map order.
func (in *Input) PartialSigs() []*PartialSig {
	pairs := in.kv.TypePairs(uint8(InputPartialSig))
	sigs := make([]*PartialSig, 0, len(pairs))
	for _, pair := range pairs {
		sigs = append(sigs, &PartialSig{
			PubKey:    pair.Key.Data,
			Signature: pair.Value,
		})
	}

	return sigs
}

// SighashType returns the sighash flag signatures over this input must
// commit to, and whether one is declared at all.
func (in *Input) SighashType() (txscript.SigHashType, bool) {
	value, ok := in.kv.GetType(uint8(InputSighashType))
	if !ok || len(value) != 4 {
		return 0, false
	}

	return txscript.SigHashType(binary.LittleEndian.Uint32(value)), true
}

// RedeemScript returns the P2SH redeem script, or nil.
func (in *Input) RedeemScript() []byte {
	value, _ := in.kv.GetType(uint8(InputRedeemScript))
	return value
}

// WitnessScript returns the P2WSH witness script, or nil.
func (in *Input) WitnessScript() []byte {
	value, _ := in.kv.GetType(uint8(InputWitnessScript))
	return value
}

// Bip32Derivations returns the derivation metadata of every public key
// attached to this input, in retained map order.
func (in *Input) Bip32Derivations() []*Bip32Derivation {
	return derivationsFromPairs(
		in.kv.TypePairs(uint8(InputBip32Derivation)),
	)
}

// FinalScriptSig returns the finalized scriptSig, or nil.
func (in *Input) FinalScriptSig() []byte {
	value, _ := in.kv.GetType(uint8(InputFinalScriptSig))
	return value
}

// FinalScriptWitness returns the serialized finalized witness stack, or
// nil.
func (in *Input) FinalScriptWitness() []byte {
	value, _ := in.kv.GetType(uint8(InputFinalScriptWitness))
	return value
}

// FinalWitness returns the decoded finalized witness stack, or nil.
func (in *Input) FinalWitness() wire.TxWitness {
	value := in.FinalScriptWitness()
	if value == nil {
		return nil
	}

	witness, err := readWitness(value)
	if err != nil {
		return nil
	}

	return witness
}

// PreviousTxid returns the explicit previous txid of a v2 input, or nil
// if not present.
func (in *Input) PreviousTxid() *chainhash.Hash {
	value, ok := in.kv.GetType(uint8(InputPreviousTxid))
	if !ok {
		return nil
	}

	hash, err := chainhash.NewHash(value)
	if err != nil {
		return nil
	}

	return hash
}

// PreviousOutputIndex returns the explicit previous output index of a
// v2 input.
func (in *Input) PreviousOutputIndex() (uint32, bool) {
	return in.uint32Field(uint8(InputOutputIndex))
}

// Sequence returns the explicit sequence number of a v2 input.
func (in *Input) Sequence() (uint32, bool) {
	return in.uint32Field(uint8(InputSequence))
}

// RequiredTimeLocktime returns the minimum time-based lock time this
// input requires.
func (in *Input) RequiredTimeLocktime() (uint32, bool) {
	return in.uint32Field(uint8(InputRequiredTimeLocktime))
}

// RequiredHeightLocktime returns the minimum height-based lock time
// this input requires.
func (in *Input) RequiredHeightLocktime() (uint32, bool) {
	return in.uint32Field(uint8(InputRequiredHeightLocktime))
}

// Unknowns returns every entry of the input map whose key type this
// package does not interpret, including proprietary entries, in
// retained order.
func (in *Input) Unknowns() []keymap.Pair {
	return unknownPairs(in.kv, inputRegistry)
}

// State reports the input's position in the signing lifecycle.
func (in *Input) State() InputState {
	if in.isFinal() {
		return StateFinal
	}

	hasSigningData := in.kv.Len() > 0 &&
		(len(in.PartialSigs()) > 0 ||
			in.RedeemScript() != nil ||
			in.WitnessScript() != nil ||
			len(in.Bip32Derivations()) > 0)
	if hasSigningData {
		return StatePartiallySigned
	}

	return StateUnsigned
}

// isFinal returns true if the input carries final script data.
func (in *Input) isFinal() bool {
	return in.FinalScriptSig() != nil || in.FinalScriptWitness() != nil
}

// SetNonWitnessUtxo attaches the full transaction creating the output
// this input spends.
func (in *Input) SetNonWitnessUtxo(tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	in.kv.Set(keymap.Key{Type: uint8(InputNonWitnessUtxo)}, buf.Bytes())

	return nil
}

// SetWitnessUtxo attaches the output this input spends.
func (in *Input) SetWitnessUtxo(txOut *wire.TxOut) {
	in.kv.Set(
		keymap.Key{Type: uint8(InputWitnessUtxo)},
		serializeTxOut(txOut),
	)
}

// AddPartialSig appends a partial signature for the given public key.
// The input must not be final, the signature must be well formed, and
// any existing signature for the same public key must be byte-identical.
func (in *Input) AddPartialSig(sig *PartialSig) error {
	if in.isFinal() {
		return ErrInputAlreadyFinal
	}

	if err := checkPubKey(sig.PubKey); err != nil {
		return fmt.Errorf("%w: partial signature pubkey: %v",
			ErrInvalidFieldEncoding, err)
	}
	if err := checkSignature(sig.Signature); err != nil {
		return fmt.Errorf("%w: partial signature: %v",
			ErrInvalidFieldEncoding, err)
	}

	key := keymap.Key{
		Type: uint8(InputPartialSig),
		Data: append([]byte(nil), sig.PubKey...),
	}
	if existing, ok := in.kv.Get(key); ok {
		if bytes.Equal(existing, sig.Signature) {
			return nil
		}

		return fmt.Errorf("%w: partial signature for pubkey %x",
			ErrConflictingValue, sig.PubKey)
	}

	return in.kv.Add(keymap.Pair{Key: key, Value: sig.Signature})
}

// SetSighashType declares the sighash flag signatures over this input
// must use.
func (in *Input) SetSighashType(sigHash txscript.SigHashType) {
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], uint32(sigHash))
	in.kv.Set(keymap.Key{Type: uint8(InputSighashType)}, value[:])
}

// SetRedeemScript attaches the P2SH redeem script.
func (in *Input) SetRedeemScript(script []byte) {
	in.kv.Set(keymap.Key{Type: uint8(InputRedeemScript)}, script)
}

// SetWitnessScript attaches the P2WSH witness script.
func (in *Input) SetWitnessScript(script []byte) {
	in.kv.Set(keymap.Key{Type: uint8(InputWitnessScript)}, script)
}

// AddBip32Derivation attaches derivation metadata for one public key.
// The metadata is stored as given; no derivation is performed or
// verified.
func (in *Input) AddBip32Derivation(d *Bip32Derivation) error {
	return addDerivation(in.kv, uint8(InputBip32Derivation), d)
}

// setFinal installs the final scriptSig and/or witness stack and clears
// the signing material they replace: partial signatures, the sighash
// type, redeem and witness scripts, and derivation metadata.
func (in *Input) setFinal(scriptSig []byte, witness wire.TxWitness) {
	in.kv.DeleteType(uint8(InputPartialSig))
	in.kv.DeleteType(uint8(InputSighashType))
	in.kv.DeleteType(uint8(InputRedeemScript))
	in.kv.DeleteType(uint8(InputWitnessScript))
	in.kv.DeleteType(uint8(InputBip32Derivation))

	if scriptSig != nil {
		in.kv.Set(
			keymap.Key{Type: uint8(InputFinalScriptSig)},
			scriptSig,
		)
	}
	if witness != nil {
		in.kv.Set(
			keymap.Key{Type: uint8(InputFinalScriptWitness)},
			serializeWitness(witness),
		)
	}
}

// setPreviousOutPoint installs the mandatory v2 prevout fields.
func (in *Input) setPreviousOutPoint(prevOut wire.OutPoint) {
	in.kv.Set(
		keymap.Key{Type: uint8(InputPreviousTxid)},
		prevOut.Hash[:],
	)

	var index [4]byte
	binary.LittleEndian.PutUint32(index[:], prevOut.Index)
	in.kv.Set(keymap.Key{Type: uint8(InputOutputIndex)}, index[:])
}

// SetSequence sets the explicit sequence number of a v2 input.
func (in *Input) SetSequence(sequence uint32) {
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], sequence)
	in.kv.Set(keymap.Key{Type: uint8(InputSequence)}, value[:])
}

// SetRequiredTimeLocktime declares the minimum time-based lock time
// this v2 input requires.
func (in *Input) SetRequiredTimeLocktime(locktime uint32) {
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], locktime)
	in.kv.Set(keymap.Key{Type: uint8(InputRequiredTimeLocktime)}, value[:])
}

// SetRequiredHeightLocktime declares the minimum height-based lock time
// this v2 input requires.
func (in *Input) SetRequiredHeightLocktime(locktime uint32) {
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], locktime)
	in.kv.Set(
		keymap.Key{Type: uint8(InputRequiredHeightLocktime)}, value[:],
	)
}

// sanityCheck enforces cross-field invariants that the per-field
// registry cannot express.
func (in *Input) sanityCheck() error {
	// Finalized inputs must not still carry partial signatures; the
	// two representations are mutually exclusive.
	if in.isFinal() && len(in.PartialSigs()) > 0 {
		return fmt.Errorf("%w: input holds both final and partial "+
			"signature data", ErrInvalidFieldEncoding)
	}

	return nil
}

// uint32Field decodes a 4-byte little endian field.
func (in *Input) uint32Field(keyType uint8) (uint32, bool) {
	value, ok := in.kv.GetType(keyType)
	if !ok || len(value) != 4 {
		return 0, false
	}

	return binary.LittleEndian.Uint32(value), true
}

// derivationsFromPairs decodes a slice of derivation entries.
func derivationsFromPairs(pairs []keymap.Pair) []*Bip32Derivation {
	derivations := make([]*Bip32Derivation, 0, len(pairs))
	for _, pair := range pairs {
		fingerprint, path, err := readBip32Derivation(pair.Value)
		if err != nil {
			continue
		}

		derivations = append(derivations, &Bip32Derivation{
			PubKey:               pair.Key.Data,
			MasterKeyFingerprint: fingerprint,
			Bip32Path:            path,
		})
	}

	return derivations
}

// addDerivation stores derivation metadata under the given key type,
// rejecting conflicting metadata for the same public key.
func addDerivation(kv *keymap.Map, keyType uint8, d *Bip32Derivation) error {
	if err := checkPubKey(d.PubKey); err != nil {
		return fmt.Errorf("%w: derivation pubkey: %v",
			ErrInvalidFieldEncoding, err)
	}

	key := keymap.Key{
		Type: keyType,
		Data: append([]byte(nil), d.PubKey...),
	}
	value := serializeBip32Derivation(d.MasterKeyFingerprint, d.Bip32Path)

	if existing, ok := kv.Get(key); ok {
		if bytes.Equal(existing, value) {
			return nil
		}

		return fmt.Errorf("%w: derivation for pubkey %x",
			ErrConflictingValue, d.PubKey)
	}

	return kv.Add(keymap.Pair{Key: key, Value: value})
}

// unknownPairs returns the entries of kv whose type code is not in the
// registry, plus all proprietary entries.
func unknownPairs(kv *keymap.Map, reg registry) []keymap.Pair {
	var unknowns []keymap.Pair
	for _, pair := range kv.Pairs() {
		if pair.Key.Type == ProprietaryKeyType {
			unknowns = append(unknowns, pair)
			continue
		}
		if _, known := reg[pair.Key.Type]; !known {
			unknowns = append(unknowns, pair)
		}
	}

	return unknowns
}

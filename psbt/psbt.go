// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbt implements Partially Signed Bitcoin Transactions in both
// the legacy wire format defined by BIP 174 (version 0) and the
// extended format defined by BIP 370 (version 2). The format is a
// collaborative container: online wallets, offline signers and
// coordinators each hold a copy of a document, attach the material only
// they can produce, and exchange serialized bytes until the transaction
// can be finalized and extracted.
//
// Each section of a document is backed by its raw ordered key-value map
// (see the keymap package); the types here are views over that storage.
// Fields this package does not interpret are carried through parsing,
// combining and finalization untouched, and re-serializing a parsed
// document reproduces the input bytes exactly.
package psbt

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpsbt/keymap"
)

// psbtMagicLength is the length of the magic bytes used to signal the
// start of a serialized PSBT packet.
const psbtMagicLength = 5

// psbtMagic is the wire prefix of every serialized packet: the ASCII
// bytes "psbt" followed by the 0xff separator.
var psbtMagic = [psbtMagicLength]byte{0x70, 0x73, 0x62, 0x74, 0xff}

// maxMapCount bounds the declared input and output counts of a v2
// document before any per-map allocation happens. Even a maximally
// packed block holds well under this many transaction inputs.
const maxMapCount = 100000

// Flags of the v2 global tx-modifiable field.
const (
	// TxModifiableInputs signals that inputs may still be added or
	// removed.
	TxModifiableInputs uint8 = 1 << 0

	// TxModifiableOutputs signals that outputs may still be added or
	// removed.
	TxModifiableOutputs uint8 = 1 << 1

	// TxModifiableHasSighashSingle signals that the transaction carries
	// a SIGHASH_SINGLE signature, tying input and output ordering.
	TxModifiableHasSighashSingle uint8 = 1 << 2
)

// Packet is an in-memory PSBT document: the global map, one map per
// transaction input and one per output, all in transaction order.
type Packet struct {
	// version is the document version, 0 or 2.
	version uint32

	// global is the raw global key-value map.
	global *keymap.Map

	// unsignedTx is the transaction decoded from the global
	// unsigned-transaction field. It is only set for v0 documents and
	// must not be mutated; the raw global map remains authoritative for
	// serialization.
	unsignedTx *wire.MsgTx

	// Inputs holds the per-input maps, one per transaction input.
	Inputs []*Input

	// Outputs holds the per-output maps, one per transaction output.
	Outputs []*Output
}

// NewFromRawBytes returns a new Packet decoded from r. If b64 is true
// the stream is base64 decoded (standard alphabet) before processing.
// Any violation of the format aborts the whole decode; no partial
// document is ever returned.
func NewFromRawBytes(r io.Reader, b64 bool) (*Packet, error) {
	if b64 {
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	var magic [psbtMagicLength]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: missing magic", ErrMalformedMap)
	}
	if magic != psbtMagic {
		return nil, ErrInvalidMagicBytes
	}

	global, err := keymap.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("global map: %w", err)
	}

	version, err := documentVersion(global)
	if err != nil {
		return nil, err
	}

	if err := globalRegistry.checkMap(version, global); err != nil {
		return nil, fmt.Errorf("global map: %w", err)
	}

	p := &Packet{version: version, global: global}

	var inputCount, outputCount int
	if version == 0 {
		// The registry guarantees the transaction field is present
		// and well formed for v0.
		txBytes, _ := global.GetType(uint8(GlobalUnsignedTx))
		tx := wire.NewMsgTx(wire.TxVersion)
		err := tx.DeserializeNoWitness(bytes.NewReader(txBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: unsigned tx: %v",
				ErrInvalidFieldEncoding, err)
		}

		p.unsignedTx = tx
		inputCount = len(tx.TxIn)
		outputCount = len(tx.TxOut)
	} else {
		inValue, _ := global.GetType(uint8(GlobalInputCount))
		outValue, _ := global.GetType(uint8(GlobalOutputCount))

		// The declared counts size the allocations below, so they
		// must be bounded before conversion.
		in := decodeCompactSize(inValue)
		out := decodeCompactSize(outValue)
		if in > maxMapCount || out > maxMapCount {
			return nil, fmt.Errorf("%w: map count %d exceeds "+
				"maximum %d", ErrInvalidFieldEncoding,
				max(in, out), uint64(maxMapCount))
		}

		inputCount = int(in)
		outputCount = int(out)
	}

	p.Inputs = make([]*Input, inputCount)
	for i := 0; i < inputCount; i++ {
		kv, err := keymap.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if err := inputRegistry.checkMap(version, kv); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		input := newInput(kv)
		if err := input.sanityCheck(); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		p.Inputs[i] = input
	}

	p.Outputs = make([]*Output, outputCount)
	for i := 0; i < outputCount; i++ {
		kv, err := keymap.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if err := outputRegistry.checkMap(version, kv); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}

		p.Outputs[i] = newOutput(kv)
	}

	// The declared map counts must account for the entire stream.
	var trailing [1]byte
	if _, err := r.Read(trailing[:]); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after final "+
			"output map", ErrMalformedMap)
	}

	log.Tracef("Decoded v%d psbt: %d inputs, %d outputs", version,
		inputCount, outputCount)

	return p, nil
}

// Serialize writes the canonical byte stream of the packet to w: the
// magic prefix, then the global map, then every input and output map in
// order. Maps re-encode their entries exactly as parsed.
func (p *Packet) Serialize(w io.Writer) error {
	if _, err := w.Write(psbtMagic[:]); err != nil {
		return err
	}

	if err := p.global.Encode(w); err != nil {
		return err
	}

	for _, input := range p.Inputs {
		if err := input.kv.Encode(w); err != nil {
			return err
		}
	}

	for _, output := range p.Outputs {
		if err := output.kv.Encode(w); err != nil {
			return err
		}
	}

	return nil
}

// B64Encode returns the base64 encoding of the packet's serialization,
// the conventional text interchange form.
func (p *Packet) B64Encode() (string, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Version returns the document version, 0 or 2.
func (p *Packet) Version() uint32 {
	return p.version
}

// UnsignedTx returns the embedded unsigned transaction of a v0
// document, or nil for v2. The returned transaction must not be
// mutated.
func (p *Packet) UnsignedTx() *wire.MsgTx {
	return p.unsignedTx
}

// TxVersion returns the transaction version of the document: the
// embedded transaction's version for v0, the explicit global field for
// v2.
func (p *Packet) TxVersion() int32 {
	if p.version == 0 {
		return p.unsignedTx.Version
	}

	value, _ := p.global.GetType(uint8(GlobalTxVersion))
	return int32(binary.LittleEndian.Uint32(value))
}

// FallbackLocktime returns the v2 fallback lock time.
func (p *Packet) FallbackLocktime() (uint32, bool) {
	value, ok := p.global.GetType(uint8(GlobalFallbackLocktime))
	if !ok || len(value) != 4 {
		return 0, false
	}

	return binary.LittleEndian.Uint32(value), true
}

// TxModifiable returns the v2 modifiable flags.
func (p *Packet) TxModifiable() (uint8, bool) {
	value, ok := p.global.GetType(uint8(GlobalTxModifiable))
	if !ok || len(value) != 1 {
		return 0, false
	}

	return value[0], true
}

// GlobalXpubs returns the extended public keys of the global map with
// their derivation metadata, in retained order.
func (p *Packet) GlobalXpubs() []*XpubDerivation {
	pairs := p.global.TypePairs(uint8(GlobalXpub))
	xpubs := make([]*XpubDerivation, 0, len(pairs))
	for _, pair := range pairs {
		fingerprint, path, err := readBip32Derivation(pair.Value)
		if err != nil {
			continue
		}

		xpubs = append(xpubs, &XpubDerivation{
			ExtendedKey:          pair.Key.Data,
			MasterKeyFingerprint: fingerprint,
			Bip32Path:            path,
		})
	}

	return xpubs
}

// GlobalUnknowns returns every entry of the global map whose key type
// this package does not interpret, including proprietary entries, in
// retained order.
func (p *Packet) GlobalUnknowns() []keymap.Pair {
	return unknownPairs(p.global, globalRegistry)
}

// InputOutPoint returns the previous outpoint spent by input i: the
// embedded transaction's outpoint for v0, the explicit per-input fields
// for v2.
func (p *Packet) InputOutPoint(i int) (wire.OutPoint, error) {
	if i < 0 || i >= len(p.Inputs) {
		return wire.OutPoint{}, fmt.Errorf("input index %d out of "+
			"range", i)
	}

	if p.version == 0 {
		return p.unsignedTx.TxIn[i].PreviousOutPoint, nil
	}

	input := p.Inputs[i]
	txid := input.PreviousTxid()
	index, ok := input.PreviousOutputIndex()
	if txid == nil || !ok {
		return wire.OutPoint{}, fmt.Errorf("%w: previous outpoint "+
			"of input %d", ErrMissingRequiredField, i)
	}

	return wire.OutPoint{Hash: *txid, Index: index}, nil
}

// SanityCheck re-validates the document's version matrix and per-input
// invariants. Freshly decoded packets are already checked; this guards
// packets assembled or mutated in memory before further processing.
func (p *Packet) SanityCheck() error {
	if err := globalRegistry.checkMap(p.version, p.global); err != nil {
		return fmt.Errorf("global map: %w", err)
	}

	if p.version == 0 {
		for _, txIn := range p.unsignedTx.TxIn {
			if len(txIn.SignatureScript) != 0 ||
				len(txIn.Witness) != 0 {

				return ErrUnsignedTxHasScripts
			}
		}
	}

	for i, input := range p.Inputs {
		err := inputRegistry.checkMap(p.version, input.kv)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		if err := input.sanityCheck(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	for i, output := range p.Outputs {
		err := outputRegistry.checkMap(p.version, output.kv)
		if err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}

	return nil
}

// IsComplete returns true only if every input is Final, which decides
// whether extraction to a network-serialized transaction is possible.
func (p *Packet) IsComplete() bool {
	for _, input := range p.Inputs {
		if !input.isFinal() {
			return false
		}
	}

	return true
}

// Equal reports whether both packets hold the same version and the same
// set of entries in every map, ignoring entry order. This is the
// document-level equality under which combining is commutative,
// associative and idempotent.
func (p *Packet) Equal(other *Packet) bool {
	if p.version != other.version ||
		len(p.Inputs) != len(other.Inputs) ||
		len(p.Outputs) != len(other.Outputs) {

		return false
	}

	if !p.global.Equal(other.global) {
		return false
	}
	for i, input := range p.Inputs {
		if !input.kv.Equal(other.Inputs[i].kv) {
			return false
		}
	}
	for i, output := range p.Outputs {
		if !output.kv.Equal(other.Outputs[i].kv) {
			return false
		}
	}

	return true
}

// buildUnsignedTx materializes the unsigned transaction the document
// describes: a copy of the embedded transaction for v0, or a
// transaction constructed from the explicit global and per-input and
// per-output fields for v2.
func (p *Packet) buildUnsignedTx() (*wire.MsgTx, error) {
	if p.version == 0 {
		return p.unsignedTx.Copy(), nil
	}

	tx := wire.NewMsgTx(p.TxVersion())
	tx.LockTime = p.resolveLocktime()

	for i := range p.Inputs {
		prevOut, err := p.InputOutPoint(i)
		if err != nil {
			return nil, err
		}

		sequence := uint32(wire.MaxTxInSequenceNum)
		if explicit, ok := p.Inputs[i].Sequence(); ok {
			sequence = explicit
		}

		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: prevOut,
			Sequence:         sequence,
		})
	}

	for i, output := range p.Outputs {
		amount, ok := output.Amount()
		script := output.Script()
		if !ok || script == nil {
			return nil, fmt.Errorf("output %d: %w: amount or "+
				"script", i, ErrMissingRequiredField)
		}

		tx.AddTxOut(wire.NewTxOut(int64(amount), script))
	}

	return tx, nil
}

// resolveLocktime computes the effective lock time of a v2 document.
// When inputs declare lock time requirements, height requirements win
// if every requiring input can be satisfied by a height, otherwise the
// time requirements are used; in both cases the maximum requirement is
// taken. Without requirements the fallback lock time applies.
func (p *Packet) resolveLocktime() uint32 {
	var (
		maxHeight, maxTime uint32
		heightCount        int
		requireCount       int
	)
	for _, input := range p.Inputs {
		height, hasHeight := input.RequiredHeightLocktime()
		time, hasTime := input.RequiredTimeLocktime()
		if !hasHeight && !hasTime {
			continue
		}

		requireCount++
		if hasHeight {
			heightCount++
			if height > maxHeight {
				maxHeight = height
			}
		}
		if hasTime && time > maxTime {
			maxTime = time
		}
	}

	switch {
	case requireCount == 0:
		fallback, _ := p.FallbackLocktime()
		return fallback

	case heightCount == requireCount:
		return maxHeight

	default:
		return maxTime
	}
}

// documentVersion determines the version of a freshly parsed global
// map from its version field, defaulting to the legacy version 0 when
// the field is absent.
func documentVersion(global *keymap.Map) (uint32, error) {
	value, ok := global.GetType(uint8(GlobalVersion))
	if !ok {
		return 0, nil
	}

	if len(value) != 4 {
		return 0, fmt.Errorf("%w: psbt version value must be 4 "+
			"bytes, got %d", ErrInvalidFieldEncoding, len(value))
	}

	version := binary.LittleEndian.Uint32(value)
	if version != 0 && version != 2 {
		return 0, fmt.Errorf("%w: unsupported psbt version %d",
			ErrInvalidFieldEncoding, version)
	}

	return version, nil
}

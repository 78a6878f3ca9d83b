// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcpsbt/keymap"
)

// New returns a fresh v0 packet on provision of an input and output
// skeleton for the transaction. Only the outpoints of the inputs are
// used; no scriptSig or witness information can exist yet. The version
// and lock time of the underlying transaction are set from the
// arguments.
func New(inputs []*wire.OutPoint, outputs []*wire.TxOut, version int32,
	nLockTime uint32) (*Packet, error) {

	unsignedTx := wire.NewMsgTx(version)
	unsignedTx.LockTime = nLockTime
	for _, in := range inputs {
		unsignedTx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: *in,
			Sequence:         wire.MaxTxInSequenceNum,
		})
	}
	for _, out := range outputs {
		unsignedTx.AddTxOut(out)
	}

	return NewFromUnsignedTx(unsignedTx)
}

// NewFromUnsignedTx returns a fresh v0 packet holding the passed
// transaction in its global map and one empty input and output map per
// transaction input and output. The transaction must be unsigned; any
// scriptSig or witness data is rejected.
func NewFromUnsignedTx(tx *wire.MsgTx) (*Packet, error) {
	for _, txIn := range tx.TxIn {
		if len(txIn.SignatureScript) != 0 || len(txIn.Witness) != 0 {
			return nil, ErrUnsignedTxHasScripts
		}
	}

	var buf bytes.Buffer
	if err := tx.SerializeNoWitness(&buf); err != nil {
		return nil, err
	}

	global := keymap.New()
	global.Set(keymap.Key{Type: uint8(GlobalUnsignedTx)}, buf.Bytes())

	p := &Packet{
		version:    0,
		global:     global,
		unsignedTx: tx,
		Inputs:     make([]*Input, len(tx.TxIn)),
		Outputs:    make([]*Output, len(tx.TxOut)),
	}
	for i := range p.Inputs {
		p.Inputs[i] = emptyInput()
	}
	for i := range p.Outputs {
		p.Outputs[i] = emptyOutput()
	}

	return p, nil
}

// V2TxParams bundles the explicit transaction-level parameters of a
// fresh v2 packet.
type V2TxParams struct {
	// TxVersion is the version of the transaction being built.
	TxVersion int32

	// FallbackLocktime is the lock time to use when no input requires
	// a specific one.
	FallbackLocktime uint32

	// Modifiable holds the TxModifiable* flags describing which parts
	// of the transaction remain open for modification.
	Modifiable uint8
}

// NewV2 returns a fresh v2 packet from explicit parameters. Each input
// outpoint becomes one input map carrying the mandatory prevout fields;
// each output becomes one output map carrying the mandatory amount and
// script fields.
func NewV2(params V2TxParams, inputs []wire.OutPoint,
	outputs []*wire.TxOut) (*Packet, error) {

	global := keymap.New()

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], 2)
	global.Set(keymap.Key{Type: uint8(GlobalVersion)},
		append([]byte(nil), u32[:]...))

	binary.LittleEndian.PutUint32(u32[:], uint32(params.TxVersion))
	global.Set(keymap.Key{Type: uint8(GlobalTxVersion)},
		append([]byte(nil), u32[:]...))

	binary.LittleEndian.PutUint32(u32[:], params.FallbackLocktime)
	global.Set(keymap.Key{Type: uint8(GlobalFallbackLocktime)},
		append([]byte(nil), u32[:]...))

	global.Set(keymap.Key{Type: uint8(GlobalTxModifiable)},
		[]byte{params.Modifiable})

	p := &Packet{version: 2, global: global}

	p.Inputs = make([]*Input, 0, len(inputs))
	for _, prevOut := range inputs {
		input := emptyInput()
		input.setPreviousOutPoint(prevOut)
		p.Inputs = append(p.Inputs, input)
	}

	p.Outputs = make([]*Output, 0, len(outputs))
	for _, txOut := range outputs {
		output := emptyOutput()
		output.setAmount(btcutil.Amount(txOut.Value))
		output.setScript(txOut.PkScript)
		p.Outputs = append(p.Outputs, output)
	}

	p.updateCounts()

	return p, nil
}

// AddInput appends a new input map spending the given outpoint to a v2
// packet. The inputs-modifiable flag must still be set.
func (p *Packet) AddInput(prevOut wire.OutPoint) error {
	if err := p.checkModifiable(TxModifiableInputs, "inputs"); err != nil {
		return err
	}

	input := emptyInput()
	input.setPreviousOutPoint(prevOut)
	p.Inputs = append(p.Inputs, input)
	p.updateCounts()

	return nil
}

// AddOutput appends a new output map to a v2 packet. The
// outputs-modifiable flag must still be set.
func (p *Packet) AddOutput(txOut *wire.TxOut) error {
	err := p.checkModifiable(TxModifiableOutputs, "outputs")
	if err != nil {
		return err
	}

	output := emptyOutput()
	output.setAmount(btcutil.Amount(txOut.Value))
	output.setScript(txOut.PkScript)
	p.Outputs = append(p.Outputs, output)
	p.updateCounts()

	return nil
}

// checkModifiable verifies that the packet is a v2 document whose
// modifiable flags still permit the requested structural change.
func (p *Packet) checkModifiable(flag uint8, what string) error {
	if p.version != 2 {
		return fmt.Errorf("%w: cannot add %s to a v%d document",
			ErrForbiddenField, what, p.version)
	}

	flags, ok := p.TxModifiable()
	if !ok || flags&flag == 0 {
		return fmt.Errorf("%s of this psbt are no longer modifiable",
			what)
	}

	return nil
}

// updateCounts rewrites the v2 global input and output count fields to
// match the number of maps present.
func (p *Packet) updateCounts() {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, 0, uint64(len(p.Inputs)))
	p.global.Set(keymap.Key{Type: uint8(GlobalInputCount)},
		append([]byte(nil), buf.Bytes()...))

	buf.Reset()
	_ = wire.WriteVarInt(&buf, 0, uint64(len(p.Outputs)))
	p.global.Set(keymap.Key{Type: uint8(GlobalOutputCount)},
		append([]byte(nil), buf.Bytes()...))
}

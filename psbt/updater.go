// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Updater attaches UTXO, script and key derivation information to the
// inputs and outputs of an existing packet. All mutations go through
// the packet's raw maps, so entries the updater does not touch are
// preserved exactly.
type Updater struct {
	Upsbt *Packet
}

// NewUpdater returns an updater for the passed packet.
func NewUpdater(p *Packet) (*Updater, error) {
	if err := p.SanityCheck(); err != nil {
		return nil, err
	}

	return &Updater{Upsbt: p}, nil
}

// AddInNonWitnessUtxo attaches the full transaction creating the output
// spent by input inIndex. The transaction's txid must match the
// outpoint the input declares.
func (u *Updater) AddInNonWitnessUtxo(tx *wire.MsgTx, inIndex int) error {
	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrInvalidPrevOutNonWitnessTransaction
	}

	prevOut, err := u.Upsbt.InputOutPoint(inIndex)
	if err != nil {
		return err
	}
	if tx.TxHash() != prevOut.Hash {
		return ErrInvalidPrevOutNonWitnessTransaction
	}
	if int(prevOut.Index) >= len(tx.TxOut) {
		return ErrInvalidPrevOutNonWitnessTransaction
	}

	return u.Upsbt.Inputs[inIndex].SetNonWitnessUtxo(tx)
}

// AddInWitnessUtxo attaches the output spent by input inIndex. The
// output's script must be a witness program or a P2SH script that can
// wrap one; anything else requires the full previous transaction.
func (u *Updater) AddInWitnessUtxo(txOut *wire.TxOut, inIndex int) error {
	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrInvalidPsbtFormat
	}
	if !txscript.IsWitnessProgram(txOut.PkScript) &&
		!txscript.IsPayToScriptHash(txOut.PkScript) {

		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Inputs[inIndex].SetWitnessUtxo(txOut)

	return nil
}

// AddInRedeemScript attaches the redeem script hashing to the P2SH
// output spent by input inIndex.
func (u *Updater) AddInRedeemScript(script []byte, inIndex int) error {
	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Inputs[inIndex].SetRedeemScript(script)

	return nil
}

// AddInWitnessScript attaches the witness script hashing to the P2WSH
// program spent by input inIndex.
func (u *Updater) AddInWitnessScript(script []byte, inIndex int) error {
	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Inputs[inIndex].SetWitnessScript(script)

	return nil
}

// AddInBip32Derivation attaches derivation metadata for one public key
// participating in input inIndex.
func (u *Updater) AddInBip32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32, pubKey []byte, inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrInvalidPsbtFormat
	}

	return u.Upsbt.Inputs[inIndex].AddBip32Derivation(&Bip32Derivation{
		PubKey:               pubKey,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	})
}

// AddInSighashType declares the sighash flag signatures over input
// inIndex must commit to, rejecting an attempt to change the flag on an
// input that already carries signatures.
func (u *Updater) AddInSighashType(sigHash txscript.SigHashType,
	inIndex int) error {

	if inIndex < 0 || inIndex >= len(u.Upsbt.Inputs) {
		return ErrInvalidPsbtFormat
	}

	input := u.Upsbt.Inputs[inIndex]
	if len(input.PartialSigs()) > 0 {
		if existing, ok := input.SighashType(); ok &&
			existing != sigHash {

			return fmt.Errorf("%w: sighash type of a signed "+
				"input", ErrConflictingValue)
		}
	}

	input.SetSighashType(sigHash)

	return nil
}

// AddOutRedeemScript attaches the redeem script of the P2SH output at
// outIndex.
func (u *Updater) AddOutRedeemScript(script []byte, outIndex int) error {
	if outIndex < 0 || outIndex >= len(u.Upsbt.Outputs) {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Outputs[outIndex].SetRedeemScript(script)

	return nil
}

// AddOutWitnessScript attaches the witness script of the P2WSH output
// at outIndex.
func (u *Updater) AddOutWitnessScript(script []byte, outIndex int) error {
	if outIndex < 0 || outIndex >= len(u.Upsbt.Outputs) {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Outputs[outIndex].SetWitnessScript(script)

	return nil
}

// AddOutBip32Derivation attaches derivation metadata for one public key
// controlling the output at outIndex.
func (u *Updater) AddOutBip32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32, pubKey []byte, outIndex int) error {

	if outIndex < 0 || outIndex >= len(u.Upsbt.Outputs) {
		return ErrInvalidPsbtFormat
	}

	return u.Upsbt.Outputs[outIndex].AddBip32Derivation(&Bip32Derivation{
		PubKey:               pubKey,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	})
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Finalize converts the signing material of input inIndex into its
// final scriptSig and/or witness, clearing the material it replaces.
// Four script templates are supported: P2PKH, P2SH wrapping a multisig,
// P2WPKH and P2WSH wrapping a multisig. Finalizing an already final
// input is a no-op.
func Finalize(p *Packet, inIndex int) error {
	if inIndex < 0 || inIndex >= len(p.Inputs) {
		return ErrInvalidPsbtFormat
	}

	input := p.Inputs[inIndex]
	if input.isFinal() {
		return nil
	}

	prevOut, err := p.InputOutPoint(inIndex)
	if err != nil {
		return err
	}
	utxo, _, err := input.Utxo(prevOut)
	if err != nil {
		return err
	}

	pkScript := utxo.PkScript
	switch {
	case txscript.IsPayToPubKeyHash(pkScript):
		err = finalizePubKeyHash(input, nil)

	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		err = finalizePubKeyHash(input, wire.TxWitness{})

	case txscript.IsPayToScriptHash(pkScript):
		redeemScript := input.RedeemScript()
		if redeemScript == nil {
			return fmt.Errorf("%w: redeem script of input %d",
				ErrMissingRequiredField, inIndex)
		}
		// The P2SH script commits to hash160(redeemScript) in bytes
		// 2..22.
		if !bytes.Equal(
			btcutil.Hash160(redeemScript), pkScript[2:22],
		) {
			return fmt.Errorf("%w: redeem script of input %d "+
				"does not hash to the spent output script",
				ErrInvalidFieldEncoding, inIndex)
		}
		err = finalizeMultisig(input, redeemScript, false)

	case txscript.IsPayToWitnessScriptHash(pkScript):
		witnessScript := input.WitnessScript()
		if witnessScript == nil {
			return fmt.Errorf("%w: witness script of input %d",
				ErrMissingRequiredField, inIndex)
		}
		// The P2WSH program commits to sha256(witnessScript) in
		// bytes 2..34.
		scriptHash := sha256.Sum256(witnessScript)
		if !bytes.Equal(scriptHash[:], pkScript[2:34]) {
			return fmt.Errorf("%w: witness script of input %d "+
				"does not hash to the spent output script",
				ErrInvalidFieldEncoding, inIndex)
		}
		err = finalizeMultisig(input, witnessScript, true)

	default:
		return fmt.Errorf("%w: input %d", ErrUnsupportedScriptType,
			inIndex)
	}
	if err != nil {
		return fmt.Errorf("input %d: %w", inIndex, err)
	}

	log.Debugf("Finalized input %d", inIndex)

	return nil
}

// FinalizeAll finalizes every input of the packet, leaving the packet
// ready for extraction. Any input that cannot be finalized aborts the
// call with the packet unchanged up to that input.
func FinalizeAll(p *Packet) error {
	for i := range p.Inputs {
		if err := Finalize(p, i); err != nil {
			return err
		}
	}

	return nil
}

// MaybeFinalizeAll finalizes every input that can be finalized and
// reports whether the packet is complete afterwards.
func MaybeFinalizeAll(p *Packet) bool {
	for i := range p.Inputs {
		if p.Inputs[i].isFinal() {
			continue
		}
		if err := Finalize(p, i); err != nil {
			continue
		}
	}

	return p.IsComplete()
}

// finalizePubKeyHash finalizes a single-key hash input. A nil witness
// argument selects the legacy P2PKH form, a non-nil one the P2WPKH
// form.
func finalizePubKeyHash(input *Input, witness wire.TxWitness) error {
	sigs := input.PartialSigs()
	if len(sigs) == 0 {
		return ErrInsufficientSignatures
	}
	sig := sigs[0]
	if err := checkSigHashFlag(input, sig); err != nil {
		return err
	}

	if witness == nil {
		scriptSig, err := txscript.NewScriptBuilder().
			AddData(sig.Signature).
			AddData(sig.PubKey).
			Script()
		if err != nil {
			return err
		}

		input.setFinal(scriptSig, nil)

		return nil
	}

	input.setFinal(nil, wire.TxWitness{sig.Signature, sig.PubKey})

	return nil
}

// finalizeMultisig finalizes an input spending a multisig script,
// either P2SH wrapped (witness false) or P2WSH wrapped (witness true).
// Signatures are arranged in the order their public keys appear in the
// script, as CHECKMULTISIG requires.
func finalizeMultisig(input *Input, script []byte, witness bool) error {
	isMultisig, err := txscript.IsMultisigScript(script)
	if err != nil || !isMultisig {
		return ErrUnsupportedScriptType
	}

	_, threshold, err := txscript.CalcMultiSigStats(script)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedScriptType, err)
	}

	orderedSigs, err := orderSigsByScript(input, script)
	if err != nil {
		return err
	}
	if len(orderedSigs) < threshold {
		return fmt.Errorf("%w: have %d of %d",
			ErrInsufficientSignatures, len(orderedSigs), threshold)
	}
	orderedSigs = orderedSigs[:threshold]

	if witness {
		// The leading empty element absorbs the extra value
		// CHECKMULTISIG pops.
		stack := wire.TxWitness{nil}
		for _, sig := range orderedSigs {
			stack = append(stack, sig.Signature)
		}
		stack = append(stack, script)

		input.setFinal(nil, stack)

		return nil
	}

	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_FALSE)
	for _, sig := range orderedSigs {
		builder.AddData(sig.Signature)
	}
	builder.AddData(script)

	scriptSig, err := builder.Script()
	if err != nil {
		return err
	}

	input.setFinal(scriptSig, nil)

	return nil
}

// orderSigsByScript returns the input's partial signatures arranged in
// the order their public keys appear in the multisig script, dropping
// signatures whose key does not participate.
func orderSigsByScript(input *Input, script []byte) ([]*PartialSig, error) {
	// The network parameters only shape the address rendering, not the
	// extracted key material.
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		script, &chaincfg.MainNetParams,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScriptType, err)
	}

	sigs := input.PartialSigs()
	ordered := make([]*PartialSig, 0, len(sigs))
	for _, addr := range addrs {
		pubKeyAddr, ok := addr.(*btcutil.AddressPubKey)
		if !ok {
			continue
		}
		compressed := pubKeyAddr.PubKey().SerializeCompressed()

		for _, sig := range sigs {
			if !bytes.Equal(sig.PubKey, compressed) {
				continue
			}
			if err := checkSigHashFlag(input, sig); err != nil {
				return nil, err
			}

			ordered = append(ordered, sig)

			break
		}
	}

	return ordered, nil
}

// checkSigHashFlag verifies that a signature commits to the sighash
// type the input declares, when it declares one.
func checkSigHashFlag(input *Input, sig *PartialSig) error {
	declared, ok := input.SighashType()
	if !ok || len(sig.Signature) == 0 {
		return nil
	}

	flag := txscript.SigHashType(sig.Signature[len(sig.Signature)-1])
	if flag != declared {
		return fmt.Errorf("%w: signature sighash flag %v does not "+
			"match declared type %v", ErrInvalidFieldEncoding,
			flag, declared)
	}

	return nil
}

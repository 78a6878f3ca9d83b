// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"github.com/btcsuite/btcd/txscript"
)

// ScriptTemplate identifies the spending template of an input, as far
// as the finalizer understands it.
type ScriptTemplate uint8

const (
	// TemplateUnknown is any script shape the finalizer does not
	// handle.
	TemplateUnknown ScriptTemplate = iota

	// TemplateP2PKH is a legacy pay-to-pubkey-hash output.
	TemplateP2PKH

	// TemplateP2SHMultisig is a pay-to-script-hash output wrapping a
	// multisig redeem script.
	TemplateP2SHMultisig

	// TemplateP2WPKH is a native witness v0 pay-to-pubkey-hash output.
	TemplateP2WPKH

	// TemplateP2WSHMultisig is a native witness v0 script-hash output
	// wrapping a multisig witness script.
	TemplateP2WSHMultisig
)

// String returns a human readable name of the template.
func (t ScriptTemplate) String() string {
	switch t {
	case TemplateP2PKH:
		return "p2pkh"
	case TemplateP2SHMultisig:
		return "p2sh-multisig"
	case TemplateP2WPKH:
		return "p2wpkh"
	case TemplateP2WSHMultisig:
		return "p2wsh-multisig"
	default:
		return "unknown"
	}
}

// InputScriptTemplate classifies the spending template of input i from
// its UTXO data and attached scripts.
func (p *Packet) InputScriptTemplate(i int) (ScriptTemplate, error) {
	if i < 0 || i >= len(p.Inputs) {
		return TemplateUnknown, ErrInvalidPsbtFormat
	}

	input := p.Inputs[i]
	prevOut, err := p.InputOutPoint(i)
	if err != nil {
		return TemplateUnknown, err
	}
	utxo, _, err := input.Utxo(prevOut)
	if err != nil {
		return TemplateUnknown, err
	}

	pkScript := utxo.PkScript
	switch {
	case txscript.IsPayToPubKeyHash(pkScript):
		return TemplateP2PKH, nil

	case txscript.IsPayToWitnessPubKeyHash(pkScript):
		return TemplateP2WPKH, nil

	case txscript.IsPayToScriptHash(pkScript):
		isMultisig, _ := txscript.IsMultisigScript(
			input.RedeemScript(),
		)
		if isMultisig {
			return TemplateP2SHMultisig, nil
		}

	case txscript.IsPayToWitnessScriptHash(pkScript):
		isMultisig, _ := txscript.IsMultisigScript(
			input.WitnessScript(),
		)
		if isMultisig {
			return TemplateP2WSHMultisig, nil
		}
	}

	return TemplateUnknown, nil
}

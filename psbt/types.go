// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcpsbt/keymap"
)

// GlobalType is the set of defined key-type codes of the global map.
type GlobalType uint8

// The global key types defined by BIP 174 and BIP 370.
const (
	// GlobalUnsignedTx holds the consensus-serialized unsigned
	// transaction, without witness data. Legacy (v0) documents only.
	GlobalUnsignedTx GlobalType = 0x00

	// GlobalXpub holds an extended public key and the derivation path
	// used to reach it.
	GlobalXpub GlobalType = 0x01

	// GlobalTxVersion holds the 32-bit transaction version (v2 only).
	GlobalTxVersion GlobalType = 0x02

	// GlobalFallbackLocktime holds the lock time to use when no input
	// requires a specific one (v2 only).
	GlobalFallbackLocktime GlobalType = 0x03

	// GlobalInputCount declares the number of input maps (v2 only).
	GlobalInputCount GlobalType = 0x04

	// GlobalOutputCount declares the number of output maps (v2 only).
	GlobalOutputCount GlobalType = 0x05

	// GlobalTxModifiable holds the flags describing which parts of the
	// transaction may still be modified (v2 only).
	GlobalTxModifiable GlobalType = 0x06

	// GlobalVersion holds the PSBT version number.
	GlobalVersion GlobalType = 0xFB
)

// InputType is the set of defined key-type codes of input maps.
type InputType uint8

// The per-input key types defined by BIP 174 and BIP 370.
const (
	// InputNonWitnessUtxo holds the full transaction creating the
	// output being spent.
	InputNonWitnessUtxo InputType = 0x00

	// InputWitnessUtxo holds just the output being spent, for segwit
	// spends.
	InputWitnessUtxo InputType = 0x01

	// InputPartialSig maps a public key to a signature over this input.
	InputPartialSig InputType = 0x02

	// InputSighashType holds the sighash flag signatures over this
	// input should commit to.
	InputSighashType InputType = 0x03

	// InputRedeemScript holds the script hashed into a P2SH
	// scriptPubKey.
	InputRedeemScript InputType = 0x04

	// InputWitnessScript holds the script hashed into a P2WSH witness
	// program.
	InputWitnessScript InputType = 0x05

	// InputBip32Derivation maps a public key to its master fingerprint
	// and derivation path.
	InputBip32Derivation InputType = 0x06

	// InputFinalScriptSig holds the fully constructed scriptSig.
	InputFinalScriptSig InputType = 0x07

	// InputFinalScriptWitness holds the fully constructed witness
	// stack.
	InputFinalScriptWitness InputType = 0x08

	// InputPreviousTxid holds the txid of the output being spent (v2
	// only, mandatory).
	InputPreviousTxid InputType = 0x0e

	// InputOutputIndex holds the index of the output being spent (v2
	// only, mandatory).
	InputOutputIndex InputType = 0x0f

	// InputSequence holds the sequence number of this input (v2 only).
	InputSequence InputType = 0x10

	// InputRequiredTimeLocktime holds the minimum Unix timestamp this
	// input requires the transaction lock time to be (v2 only).
	InputRequiredTimeLocktime InputType = 0x11

	// InputRequiredHeightLocktime holds the minimum block height this
	// input requires the transaction lock time to be (v2 only).
	InputRequiredHeightLocktime InputType = 0x12
)

// OutputType is the set of defined key-type codes of output maps.
type OutputType uint8

// The per-output key types defined by BIP 174 and BIP 370.
const (
	// OutputRedeemScript holds the script hashed into this output's
	// P2SH scriptPubKey.
	OutputRedeemScript OutputType = 0x00

	// OutputWitnessScript holds the script hashed into this output's
	// P2WSH witness program.
	OutputWitnessScript OutputType = 0x01

	// OutputBip32Derivation maps a public key to its master fingerprint
	// and derivation path.
	OutputBip32Derivation OutputType = 0x02

	// OutputAmount holds the output's value in satoshis (v2 only,
	// mandatory).
	OutputAmount OutputType = 0x03

	// OutputScript holds the output's scriptPubKey (v2 only,
	// mandatory).
	OutputScript OutputType = 0x04
)

// ProprietaryKeyType is the key-type code reserved by BIP 174 for
// proprietary use in every map namespace. Entries of this type are
// preserved verbatim and never interpreted.
const ProprietaryKeyType uint8 = 0xFC

// presence describes whether a field may, must, or must not appear for a
// given document version.
type presence uint8

const (
	optional presence = iota
	required
	forbidden
)

// fieldRule is one row of the static field registry: the human readable
// field name, the per-version presence requirement, and the shape checks
// applied to the key data and value of every occurrence.
type fieldRule struct {
	name string

	// v0 and v2 state the presence requirement of the field per
	// document version.
	v0, v2 presence

	// keyData validates the key-data portion of the entry. A nil
	// checker requires empty key data.
	keyData func(keyData []byte) error

	// value validates the value bytes of the entry.
	value func(value []byte) error
}

// checkPair validates a single occurrence of the field.
func (fr *fieldRule) checkPair(version uint32, pair keymap.Pair) error {
	p := fr.v0
	if version == 2 {
		p = fr.v2
	}
	if p == forbidden {
		return fmt.Errorf("%w: %s in v%d document", ErrForbiddenField,
			fr.name, version)
	}

	if fr.keyData == nil {
		if len(pair.Key.Data) != 0 {
			return fmt.Errorf("%w: %s must have an empty key",
				ErrInvalidFieldEncoding, fr.name)
		}
	} else if err := fr.keyData(pair.Key.Data); err != nil {
		return fmt.Errorf("%w: %s key data: %v",
			ErrInvalidFieldEncoding, fr.name, err)
	}

	if fr.value != nil {
		if err := fr.value(pair.Value); err != nil {
			return fmt.Errorf("%w: %s value: %v",
				ErrInvalidFieldEncoding, fr.name, err)
		}
	}

	return nil
}

// registry is the static table mapping a key-type code to its rule for
// one map namespace.
type registry map[uint8]fieldRule

// checkMap validates every known entry of the map against the registry
// and then enforces the presence matrix for the given version. Entries
// with unrecognized type codes, and proprietary entries, pass through
// untouched.
func (reg registry) checkMap(version uint32, m *keymap.Map) error {
	for _, pair := range m.Pairs() {
		if pair.Key.Type == ProprietaryKeyType {
			continue
		}

		rule, known := reg[pair.Key.Type]
		if !known {
			// Unknown fields are never an error; they are carried
			// for forward compatibility.
			continue
		}

		if err := rule.checkPair(version, pair); err != nil {
			return err
		}
	}

	for keyType, rule := range reg {
		p := rule.v0
		if version == 2 {
			p = rule.v2
		}
		if p != required {
			continue
		}

		if len(m.TypePairs(keyType)) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingRequiredField,
				rule.name)
		}
	}

	return nil
}

// The three per-namespace registries. Together they express the
// (namespace, version, key-type) -> presence matrix as data rather than
// scattered conditionals.
var (
	globalRegistry = registry{
		uint8(GlobalUnsignedTx): {
			name:  "unsigned tx",
			v0:    required,
			v2:    forbidden,
			value: checkUnsignedTx,
		},
		uint8(GlobalXpub): {
			name:    "global xpub",
			keyData: checkXpubKey,
			value:   checkDerivationValue,
		},
		uint8(GlobalTxVersion): {
			name:  "tx version",
			v0:    forbidden,
			v2:    required,
			value: checkLen(4),
		},
		uint8(GlobalFallbackLocktime): {
			name:  "fallback locktime",
			v0:    forbidden,
			v2:    required,
			value: checkLen(4),
		},
		uint8(GlobalInputCount): {
			name:  "input count",
			v0:    forbidden,
			v2:    required,
			value: checkCompactSize,
		},
		uint8(GlobalOutputCount): {
			name:  "output count",
			v0:    forbidden,
			v2:    required,
			value: checkCompactSize,
		},
		uint8(GlobalTxModifiable): {
			name:  "tx modifiable flags",
			v0:    forbidden,
			v2:    required,
			value: checkLen(1),
		},
		uint8(GlobalVersion): {
			name:  "psbt version",
			v0:    forbidden,
			v2:    required,
			value: checkLen(4),
		},
	}

	inputRegistry = registry{
		uint8(InputNonWitnessUtxo): {
			name:  "non-witness utxo",
			value: checkTx,
		},
		uint8(InputWitnessUtxo): {
			name:  "witness utxo",
			value: checkTxOut,
		},
		uint8(InputPartialSig): {
			name:    "partial signature",
			keyData: checkPubKey,
			value:   checkSignature,
		},
		uint8(InputSighashType): {
			name:  "sighash type",
			value: checkLen(4),
		},
		uint8(InputRedeemScript): {
			name: "input redeem script",
		},
		uint8(InputWitnessScript): {
			name: "input witness script",
		},
		uint8(InputBip32Derivation): {
			name:    "input bip32 derivation",
			keyData: checkPubKey,
			value:   checkDerivationValue,
		},
		uint8(InputFinalScriptSig): {
			name: "final scriptSig",
		},
		uint8(InputFinalScriptWitness): {
			name:  "final script witness",
			value: checkWitness,
		},
		uint8(InputPreviousTxid): {
			name:  "previous txid",
			v0:    forbidden,
			v2:    required,
			value: checkLen(32),
		},
		uint8(InputOutputIndex): {
			name:  "previous output index",
			v0:    forbidden,
			v2:    required,
			value: checkLen(4),
		},
		uint8(InputSequence): {
			name:  "sequence",
			v0:    forbidden,
			value: checkLen(4),
		},
		uint8(InputRequiredTimeLocktime): {
			name:  "required time locktime",
			v0:    forbidden,
			value: checkLen(4),
		},
		uint8(InputRequiredHeightLocktime): {
			name:  "required height locktime",
			v0:    forbidden,
			value: checkLen(4),
		},
	}

	outputRegistry = registry{
		uint8(OutputRedeemScript): {
			name: "output redeem script",
		},
		uint8(OutputWitnessScript): {
			name: "output witness script",
		},
		uint8(OutputBip32Derivation): {
			name:    "output bip32 derivation",
			keyData: checkPubKey,
			value:   checkDerivationValue,
		},
		uint8(OutputAmount): {
			name:  "output amount",
			v0:    forbidden,
			v2:    required,
			value: checkLen(8),
		},
		uint8(OutputScript): {
			name: "output script",
			v0:   forbidden,
			v2:   required,
		},
	}
)

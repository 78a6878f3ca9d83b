// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// p2pkhScript returns the P2PKH output script of a compressed pubkey.
func p2pkhScript(t *testing.T, pubKey []byte) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pubKey), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// prevTxTo returns a transaction paying the given script, for use as a
// non-witness UTXO.
func prevTxTo(t *testing.T, pkScript []byte, value int64) *wire.MsgTx {
	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *testOutPoint(t, 0x77, 0),
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	return tx
}

// TestUpdaterUtxoAttachment verifies the validation around attaching
// UTXO data to inputs.
func TestUpdaterUtxoAttachment(t *testing.T) {
	t.Parallel()

	_, pubKey := testKey(t)
	prevTx := prevTxTo(t, p2pkhScript(t, pubKey), 100_000)
	prevTxHash := prevTx.TxHash()

	p, err := New(
		[]*wire.OutPoint{wire.NewOutPoint(&prevTxHash, 0)},
		[]*wire.TxOut{wire.NewTxOut(99_000, []byte{0x6a})},
		2, 0,
	)
	require.NoError(t, err)

	u, err := NewUpdater(p)
	require.NoError(t, err)

	// A transaction whose hash does not match the input's outpoint is
	// rejected.
	wrongTx := prevTxTo(t, []byte{0x6a}, 1)
	err = u.AddInNonWitnessUtxo(wrongTx, 0)
	require.ErrorIs(t, err, ErrInvalidPrevOutNonWitnessTransaction)

	require.NoError(t, u.AddInNonWitnessUtxo(prevTx, 0))
	require.Equal(t, prevTxHash, p.Inputs[0].NonWitnessUtxo().TxHash())

	// A witness UTXO must carry a witness-spendable script.
	err = u.AddInWitnessUtxo(wire.NewTxOut(1, []byte{0x6a}), 0)
	require.ErrorIs(t, err, ErrInvalidPsbtFormat)

	_, pubKey2 := testKey(t)
	err = u.AddInWitnessUtxo(
		wire.NewTxOut(1, p2wkhScript(t, pubKey2)), 0,
	)
	require.NoError(t, err)

	// Out of range indices are rejected throughout.
	err = u.AddInRedeemScript([]byte{0x51}, 5)
	require.ErrorIs(t, err, ErrInvalidPsbtFormat)
	err = u.AddOutWitnessScript([]byte{0x51}, -1)
	require.ErrorIs(t, err, ErrInvalidPsbtFormat)
}

// TestSignFinalizeExtractP2PKH walks a legacy pay-to-pubkey-hash input
// through the whole lifecycle using a non-witness UTXO.
func TestSignFinalizeExtractP2PKH(t *testing.T) {
	t.Parallel()

	privKey, pubKey := testKey(t)
	prevTx := prevTxTo(t, p2pkhScript(t, pubKey), 100_000)
	prevTxHash := prevTx.TxHash()

	p, err := New(
		[]*wire.OutPoint{wire.NewOutPoint(&prevTxHash, 0)},
		[]*wire.TxOut{wire.NewTxOut(99_000, []byte{0x6a})},
		2, 0,
	)
	require.NoError(t, err)

	u, err := NewUpdater(p)
	require.NoError(t, err)
	require.NoError(t, u.AddInNonWitnessUtxo(prevTx, 0))
	require.NoError(t, u.AddInSighashType(txscript.SigHashAll, 0))

	err = SignInput(p, 0, NewPrivKeySigner(privKey), pubKey)
	require.NoError(t, err)

	template, err := p.InputScriptTemplate(0)
	require.NoError(t, err)
	require.Equal(t, TemplateP2PKH, template)

	require.NoError(t, FinalizeAll(p))
	require.NotNil(t, p.Inputs[0].FinalScriptSig())
	require.Nil(t, p.Inputs[0].FinalWitness())

	tx, err := Extract(p)
	require.NoError(t, err)
	verifyExtracted(t, p, tx)
}

// TestUpdaterDerivations verifies attaching and reading BIP 32
// derivation metadata on inputs, outputs and the packet itself.
func TestUpdaterDerivations(t *testing.T) {
	t.Parallel()

	seed := make([]byte, 32)
	seed[0] = 0x01
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	child, err := master.Derive(hdkeychain.HardenedKeyStart + 84)
	require.NoError(t, err)
	childPub, err := child.ECPubKey()
	require.NoError(t, err)
	pubKey := childPub.SerializeCompressed()

	p := testPacketV0(t)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	path := []uint32{hdkeychain.HardenedKeyStart + 84, 0, 7}
	require.NoError(t, u.AddInBip32Derivation(0x1234, path, pubKey, 0))
	require.NoError(t, u.AddOutBip32Derivation(0x1234, path, pubKey, 0))

	inDerivs := p.Inputs[0].Bip32Derivations()
	require.Len(t, inDerivs, 1)
	require.Equal(t, pubKey, inDerivs[0].PubKey)
	require.Equal(t, uint32(0x1234), inDerivs[0].MasterKeyFingerprint)
	require.Equal(t, path, inDerivs[0].Bip32Path)

	outDerivs := p.Outputs[0].Bip32Derivations()
	require.Len(t, outDerivs, 1)
	require.Equal(t, path, outDerivs[0].Bip32Path)

	// Identical metadata is absorbed, conflicting metadata rejected.
	require.NoError(t, u.AddInBip32Derivation(0x1234, path, pubKey, 0))
	require.Len(t, p.Inputs[0].Bip32Derivations(), 1)

	err = u.AddInBip32Derivation(0x9999, path, pubKey, 0)
	require.ErrorIs(t, err, ErrConflictingValue)

	// The metadata survives a serialization round trip.
	decoded, err := NewFromRawBytes(
		bytes.NewReader(serializePacket(t, p)), false,
	)
	require.NoError(t, err)
	require.Len(t, decoded.Inputs[0].Bip32Derivations(), 1)
}

// TestInputScriptTemplate verifies template classification over the
// supported script shapes.
func TestInputScriptTemplate(t *testing.T) {
	t.Parallel()

	_, pubKey := testKey(t)
	addrKey, err := btcutil.NewAddressPubKey(
		pubKey, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	multisig, err := txscript.MultiSigScript(
		[]*btcutil.AddressPubKey{addrKey}, 1,
	)
	require.NoError(t, err)

	testCases := []struct {
		name     string
		pkScript []byte
		setup    func(in *Input)
		expected ScriptTemplate
	}{{
		name:     "p2wpkh",
		pkScript: p2wkhScript(t, pubKey),
		expected: TemplateP2WPKH,
	}, {
		name:     "p2pkh",
		pkScript: p2pkhScript(t, pubKey),
		expected: TemplateP2PKH,
	}, {
		name:     "p2wsh multisig",
		pkScript: p2wshScript(t, multisig),
		setup: func(in *Input) {
			in.SetWitnessScript(multisig)
		},
		expected: TemplateP2WSHMultisig,
	}, {
		name:     "p2wsh without witness script",
		pkScript: p2wshScript(t, multisig),
		expected: TemplateUnknown,
	}, {
		name:     "op_return",
		pkScript: []byte{txscript.OP_RETURN},
		expected: TemplateUnknown,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := signingPacket(
				t, wire.NewTxOut(100_000, tc.pkScript),
			)
			if tc.setup != nil {
				tc.setup(p.Inputs[0])
			}

			template, err := p.InputScriptTemplate(0)
			require.NoError(t, err)
			require.Equal(t, tc.expected, template)
		})
	}
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

// testKey returns a fresh key pair.
func testKey(t *testing.T) (*btcec.PrivateKey, []byte) {
	t.Helper()

	privKey, err := secp.GeneratePrivateKey()
	require.NoError(t, err)

	return privKey, privKey.PubKey().SerializeCompressed()
}

// p2wkhScript returns the P2WPKH output script of a compressed pubkey.
func p2wkhScript(t *testing.T, pubKey []byte) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// p2wshScript returns the P2WSH output script of a witness script.
func p2wshScript(t *testing.T, witnessScript []byte) []byte {
	t.Helper()

	scriptHash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(
		scriptHash[:], &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// signingPacket returns a one-in, one-out v0 packet spending the given
// output.
func signingPacket(t *testing.T, utxo *wire.TxOut) *Packet {
	t.Helper()

	p, err := New(
		[]*wire.OutPoint{testOutPoint(t, 0x42, 0)},
		[]*wire.TxOut{wire.NewTxOut(utxo.Value-1_000, []byte{0x6a})},
		2, 0,
	)
	require.NoError(t, err)
	p.Inputs[0].SetWitnessUtxo(utxo)

	return p
}

// verifyExtracted runs the final transaction through the script engine.
func verifyExtracted(t *testing.T, p *Packet, tx *wire.MsgTx) {
	t.Helper()

	fetcher := PrevOutputFetcher(p)
	prevOut, err := p.InputOutPoint(0)
	require.NoError(t, err)
	utxo := fetcher.FetchPrevOutput(prevOut)
	require.NotNil(t, utxo)

	vm, err := txscript.NewEngine(
		utxo.PkScript, tx, 0, txscript.StandardVerifyFlags, nil,
		txscript.NewTxSigHashes(tx, fetcher), utxo.Value, fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

// TestSignFinalizeExtractP2WPKH walks one input through the whole
// lifecycle: sign, finalize, extract, execute.
func TestSignFinalizeExtractP2WPKH(t *testing.T) {
	t.Parallel()

	privKey, pubKey := testKey(t)
	utxo := wire.NewTxOut(100_000, p2wkhScript(t, pubKey))
	p := signingPacket(t, utxo)

	require.Equal(t, StateUnsigned, p.Inputs[0].State())

	err := SignInput(p, 0, NewPrivKeySigner(privKey), pubKey)
	require.NoError(t, err)
	require.Equal(t, StatePartiallySigned, p.Inputs[0].State())

	// Not extractable before finalization.
	_, err = Extract(p)
	require.ErrorIs(t, err, ErrNotFullyFinalized)

	require.NoError(t, Finalize(p, 0))
	require.Equal(t, StateFinal, p.Inputs[0].State())
	require.True(t, p.IsComplete())

	// The witness is [signature, pubkey] and the signing material is
	// gone.
	witness := p.Inputs[0].FinalWitness()
	require.Len(t, witness, 2)
	require.Equal(t, pubKey, witness[1])
	require.Empty(t, p.Inputs[0].PartialSigs())

	// Finalizing again is a no-op, signing again is rejected.
	require.NoError(t, Finalize(p, 0))
	err = SignInput(p, 0, NewPrivKeySigner(privKey), pubKey)
	require.ErrorIs(t, err, ErrInputAlreadyFinal)

	tx, err := Extract(p)
	require.NoError(t, err)
	verifyExtracted(t, p, tx)
}

// TestCombineSignaturesFinalizeMultisig exercises the collaborative
// path: two signers work on separate copies of a 2-of-3 P2WSH multisig
// packet, the copies are combined and the result finalized.
func TestCombineSignaturesFinalizeMultisig(t *testing.T) {
	t.Parallel()

	var (
		privKeys []*btcec.PrivateKey
		addrKeys []*btcutil.AddressPubKey
	)
	for i := 0; i < 3; i++ {
		privKey, pubKey := testKey(t)
		addrKey, err := btcutil.NewAddressPubKey(
			pubKey, &chaincfg.MainNetParams,
		)
		require.NoError(t, err)

		privKeys = append(privKeys, privKey)
		addrKeys = append(addrKeys, addrKey)
	}

	witnessScript, err := txscript.MultiSigScript(addrKeys, 2)
	require.NoError(t, err)

	utxo := wire.NewTxOut(100_000, p2wshScript(t, witnessScript))
	base := signingPacket(t, utxo)
	base.Inputs[0].SetWitnessScript(witnessScript)
	raw := serializePacket(t, base)

	// Each signer receives their own serialized copy. Key 2 signs
	// before key 0 to prove the finalizer orders by script position.
	signedCopy := func(keyIdx int) *Packet {
		copyP, err := NewFromRawBytes(bytes.NewReader(raw), false)
		require.NoError(t, err)

		pubKey := addrKeys[keyIdx].PubKey().SerializeCompressed()
		err = SignInput(
			copyP, 0, NewPrivKeySigner(privKeys[keyIdx]), pubKey,
		)
		require.NoError(t, err)

		return copyP
	}

	combined, err := Combine(signedCopy(2), signedCopy(0))
	require.NoError(t, err)
	require.Len(t, combined.Inputs[0].PartialSigs(), 2)

	require.NoError(t, FinalizeAll(combined))

	// Witness: empty dummy, sig of key 0, sig of key 2, script.
	witness := combined.Inputs[0].FinalWitness()
	require.Len(t, witness, 4)
	require.Empty(t, witness[0])
	require.Equal(t, witnessScript, witness[3])

	tx, err := Extract(combined)
	require.NoError(t, err)
	verifyExtracted(t, combined, tx)
}

// TestFinalizeInsufficientSignatures verifies the threshold check.
func TestFinalizeInsufficientSignatures(t *testing.T) {
	t.Parallel()

	var addrKeys []*btcutil.AddressPubKey
	privKey, pubKey := testKey(t)
	for i := 0; i < 2; i++ {
		_, otherPub := testKey(t)
		addrKey, err := btcutil.NewAddressPubKey(
			otherPub, &chaincfg.MainNetParams,
		)
		require.NoError(t, err)
		addrKeys = append(addrKeys, addrKey)
	}
	addrKey, err := btcutil.NewAddressPubKey(
		pubKey, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	addrKeys = append(addrKeys, addrKey)

	witnessScript, err := txscript.MultiSigScript(addrKeys, 2)
	require.NoError(t, err)

	p := signingPacket(
		t, wire.NewTxOut(100_000, p2wshScript(t, witnessScript)),
	)
	p.Inputs[0].SetWitnessScript(witnessScript)

	err = SignInput(p, 0, NewPrivKeySigner(privKey), pubKey)
	require.NoError(t, err)

	err = Finalize(p, 0)
	require.ErrorIs(t, err, ErrInsufficientSignatures)
	require.False(t, MaybeFinalizeAll(p))
}

// TestFinalizeUnsupportedScript verifies rejection of script shapes
// outside the finalizer's template set.
func TestFinalizeUnsupportedScript(t *testing.T) {
	t.Parallel()

	p := signingPacket(t, wire.NewTxOut(100_000, []byte{
		txscript.OP_RETURN,
	}))

	err := Finalize(p, 0)
	require.ErrorIs(t, err, ErrUnsupportedScriptType)
}

// TestFinalizeScriptHashMismatch verifies that an attached redeem or
// witness script that does not hash to the spent output's script is
// rejected instead of being finalized into an unspendable input.
func TestFinalizeScriptHashMismatch(t *testing.T) {
	t.Parallel()

	multisigFor := func(pubKey []byte) []byte {
		addrKey, err := btcutil.NewAddressPubKey(
			pubKey, &chaincfg.MainNetParams,
		)
		require.NoError(t, err)

		script, err := txscript.MultiSigScript(
			[]*btcutil.AddressPubKey{addrKey}, 1,
		)
		require.NoError(t, err)

		return script
	}

	_, pubKeyA := testKey(t)
	_, pubKeyB := testKey(t)
	committed := multisigFor(pubKeyA)
	attached := multisigFor(pubKeyB)

	// P2WSH: the program commits to sha256 of the witness script.
	p := signingPacket(
		t, wire.NewTxOut(100_000, p2wshScript(t, committed)),
	)
	p.Inputs[0].SetWitnessScript(attached)

	err := Finalize(p, 0)
	require.ErrorIs(t, err, ErrInvalidFieldEncoding)

	// P2SH: the script commits to hash160 of the redeem script.
	scriptAddr, err := btcutil.NewAddressScriptHash(
		committed, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(scriptAddr)
	require.NoError(t, err)

	p = signingPacket(t, wire.NewTxOut(100_000, pkScript))
	p.Inputs[0].SetRedeemScript(attached)

	err = Finalize(p, 0)
	require.ErrorIs(t, err, ErrInvalidFieldEncoding)
}

// TestFinalizeMissingUtxo verifies that finalization requires UTXO
// information.
func TestFinalizeMissingUtxo(t *testing.T) {
	t.Parallel()

	p, err := New(
		[]*wire.OutPoint{testOutPoint(t, 0x42, 0)},
		[]*wire.TxOut{wire.NewTxOut(1, []byte{0x6a})},
		2, 0,
	)
	require.NoError(t, err)

	err = Finalize(p, 0)
	require.ErrorIs(t, err, ErrMissingUtxoData)
}

// TestConflictingPartialSig verifies that a differing signature for the
// same key is rejected while an identical one is absorbed.
func TestConflictingPartialSig(t *testing.T) {
	t.Parallel()

	privKey, pubKey := testKey(t)
	utxo := wire.NewTxOut(100_000, p2wkhScript(t, pubKey))
	p := signingPacket(t, utxo)

	require.NoError(t, SignInput(
		p, 0, NewPrivKeySigner(privKey), pubKey,
	))
	sig := p.Inputs[0].PartialSigs()[0]

	// Re-adding the identical signature is idempotent.
	require.NoError(t, p.Inputs[0].AddPartialSig(sig))
	require.Len(t, p.Inputs[0].PartialSigs(), 1)

	// A different but still well-formed signature conflicts.
	otherPriv, _ := testKey(t)
	otherSig := append(
		ecdsa.Sign(
			otherPriv, bytes.Repeat([]byte{0x11}, 32),
		).Serialize(),
		byte(txscript.SigHashAll),
	)
	err := p.Inputs[0].AddPartialSig(&PartialSig{
		PubKey:    pubKey,
		Signature: otherSig,
	})
	require.ErrorIs(t, err, ErrConflictingValue)
}

// TestFeeSummary verifies input value summation and fee calculation.
func TestFeeSummary(t *testing.T) {
	t.Parallel()

	_, pubKey := testKey(t)
	utxo := wire.NewTxOut(100_000, p2wkhScript(t, pubKey))
	p := signingPacket(t, utxo)

	inputSum, err := SumUtxoInputValues(p)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100_000), inputSum)

	fee, err := GetTxFee(p)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1_000), fee)
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DigestSigner produces signatures over sighash digests. The packet
// code never touches private key material itself; callers plug in a
// wallet, an HSM or a plain in-memory key through this interface.
type DigestSigner interface {
	// SignDigest returns the DER encoded ECDSA signature of digest
	// made with the private key belonging to pubKey. The sighash flag
	// byte is appended by the caller.
	SignDigest(pubKey, digest []byte) ([]byte, error)
}

// PrivKeySigner is a DigestSigner backed by a single in-memory private
// key.
type PrivKeySigner struct {
	privKey *btcec.PrivateKey
}

// NewPrivKeySigner returns a signer for the given key.
func NewPrivKeySigner(privKey *btcec.PrivateKey) *PrivKeySigner {
	return &PrivKeySigner{privKey: privKey}
}

// SignDigest implements DigestSigner. It refuses to sign for a public
// key other than its own.
func (s *PrivKeySigner) SignDigest(pubKey, digest []byte) ([]byte, error) {
	serialized := s.privKey.PubKey().SerializeCompressed()
	if !bytes.Equal(pubKey, serialized) {
		return nil, fmt.Errorf("no private key for pubkey %x", pubKey)
	}

	return ecdsa.Sign(s.privKey, digest).Serialize(), nil
}

// SignInput computes the sighash digest of input inIndex, obtains a
// signature for pubKey from the signer, and attaches it as a partial
// signature. The digest algorithm follows the input's script template:
// BIP 143 for witness v0 programs (native or nested), legacy otherwise.
// The declared per-input sighash type is used, defaulting to
// SIGHASH_ALL.
func SignInput(p *Packet, inIndex int, signer DigestSigner,
	pubKey []byte) error {

	if inIndex < 0 || inIndex >= len(p.Inputs) {
		return ErrInvalidPsbtFormat
	}

	input := p.Inputs[inIndex]
	if input.isFinal() {
		return ErrInputAlreadyFinal
	}

	prevOut, err := p.InputOutPoint(inIndex)
	if err != nil {
		return err
	}
	utxo, _, err := input.Utxo(prevOut)
	if err != nil {
		return err
	}

	tx, err := p.buildUnsignedTx()
	if err != nil {
		return err
	}

	sigHashType, ok := input.SighashType()
	if !ok {
		sigHashType = txscript.SigHashAll
	}

	// The program being satisfied is the output script itself unless a
	// redeem script peels off a P2SH layer.
	program := utxo.PkScript
	if redeemScript := input.RedeemScript(); redeemScript != nil {
		program = redeemScript
	}

	var digest []byte
	switch {
	case txscript.IsPayToWitnessPubKeyHash(program):
		digest, err = witnessDigest(
			tx, inIndex, program, utxo, sigHashType,
		)

	case txscript.IsPayToWitnessScriptHash(program):
		witnessScript := input.WitnessScript()
		if witnessScript == nil {
			return fmt.Errorf("%w: witness script of input %d",
				ErrMissingRequiredField, inIndex)
		}
		digest, err = witnessDigest(
			tx, inIndex, witnessScript, utxo, sigHashType,
		)

	default:
		digest, err = txscript.CalcSignatureHash(
			program, sigHashType, tx, inIndex,
		)
	}
	if err != nil {
		return fmt.Errorf("sighash of input %d: %w", inIndex, err)
	}

	sig, err := signer.SignDigest(pubKey, digest)
	if err != nil {
		return fmt.Errorf("signing input %d: %w", inIndex, err)
	}

	log.Debugf("Signed input %d with pubkey %x, sighash type %v",
		inIndex, pubKey, sigHashType)

	return input.AddPartialSig(&PartialSig{
		PubKey:    pubKey,
		Signature: append(sig, byte(sigHashType)),
	})
}

// witnessDigest computes the BIP 143 digest of one input.
func witnessDigest(tx *wire.MsgTx, inIndex int, script []byte,
	utxo *wire.TxOut, sigHashType txscript.SigHashType) ([]byte, error) {

	fetcher := txscript.NewCannedPrevOutputFetcher(
		utxo.PkScript, utxo.Value,
	)
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	return txscript.CalcWitnessSigHash(
		script, hashes, sigHashType, tx, inIndex, utxo.Value,
	)
}

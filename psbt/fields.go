// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/wire"
)

// minSigLength is the shortest serialization of a DER encoded ECDSA
// signature plus the trailing sighash byte.
const minSigLength = 9

// bip32KeyLength is the length of a serialized BIP 32 extended key
// including its 4 version bytes.
const bip32KeyLength = 78

// maxWitnessItems bounds the declared item count of a witness stack
// before any allocation happens.
const maxWitnessItems = 500000

// PartialSig encapsulates a (public key, signature) pair from the
// partial-signature map of an input. The signature carries the trailing
// sighash-type byte exactly as it will appear in the final scriptSig or
// witness.
type PartialSig struct {
	PubKey    []byte
	Signature []byte
}

// Bip32Derivation encapsulates the BIP 32 derivation metadata attached
// to a public key: the fingerprint of the master key and the path from
// it to the derived key. The library stores and validates this metadata
// but never performs any key derivation itself.
type Bip32Derivation struct {
	// PubKey is the compressed serialization of the derived public key.
	PubKey []byte

	// MasterKeyFingerprint is the fingerprint of the master key.
	MasterKeyFingerprint uint32

	// Bip32Path is the derivation path from the master key, with
	// hardened elements offset by 2^31.
	Bip32Path []uint32
}

// XpubDerivation encapsulates an extended public key from the global map
// together with its derivation metadata.
type XpubDerivation struct {
	// ExtendedKey is the 78-byte serialized extended public key,
	// including version bytes.
	ExtendedKey []byte

	// MasterKeyFingerprint is the fingerprint of the master key.
	MasterKeyFingerprint uint32

	// Bip32Path is the derivation path from the master key.
	Bip32Path []uint32
}

// readBip32Derivation deserializes a byte slice containing a master key
// fingerprint followed by a derivation path of 32-bit child indices.
func readBip32Derivation(value []byte) (uint32, []uint32, error) {
	if err := checkDerivationValue(value); err != nil {
		return 0, nil, err
	}

	fingerprint := binary.LittleEndian.Uint32(value[:4])
	path := make([]uint32, 0, len(value)/4-1)
	for i := 4; i < len(value); i += 4 {
		path = append(path, binary.LittleEndian.Uint32(value[i:i+4]))
	}

	return fingerprint, path, nil
}

// serializeBip32Derivation returns the wire form of a master key
// fingerprint and derivation path.
func serializeBip32Derivation(fingerprint uint32, path []uint32) []byte {
	value := make([]byte, 0, 4+4*len(path))

	var child [4]byte
	binary.LittleEndian.PutUint32(child[:], fingerprint)
	value = append(value, child[:]...)

	for _, idx := range path {
		binary.LittleEndian.PutUint32(child[:], idx)
		value = append(value, child[:]...)
	}

	return value
}

// readTxOut deserializes a wire.TxOut from the witness-UTXO value
// encoding: an 8-byte little endian amount followed by a compact-size
// prefixed scriptPubKey. The whole buffer must be consumed.
func readTxOut(value []byte) (*wire.TxOut, error) {
	if len(value) < 9 {
		return nil, fmt.Errorf("%d bytes is too short for a txout",
			len(value))
	}

	amount := int64(binary.LittleEndian.Uint64(value[:8]))
	r := bytes.NewReader(value[8:])
	pkScript, err := wire.ReadVarBytes(r, 0, wire.MaxMessagePayload,
		"pkScript")
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after txout")
	}

	return wire.NewTxOut(amount, pkScript), nil
}

// serializeTxOut returns the witness-UTXO value encoding of the given
// output.
func serializeTxOut(txOut *wire.TxOut) []byte {
	var buf bytes.Buffer
	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], uint64(txOut.Value))
	buf.Write(amount[:])

	// The script length is bounded well below any compact-size failure
	// mode, so the write cannot fail against a bytes.Buffer.
	_ = wire.WriteVarBytes(&buf, 0, txOut.PkScript)

	return buf.Bytes()
}

// readWitness deserializes a witness stack from its value encoding: a
// compact-size item count followed by compact-size prefixed items.
func readWitness(value []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(value)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > maxWitnessItems {
		return nil, fmt.Errorf("%d witness items exceeds maximum %d",
			count, maxWitnessItems)
	}

	witness := make(wire.TxWitness, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(r, 0, wire.MaxMessagePayload,
			"witness item")
		if err != nil {
			return nil, err
		}
		witness[i] = item
	}

	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after witness stack")
	}

	return witness, nil
}

// serializeWitness returns the value encoding of a witness stack.
func serializeWitness(witness wire.TxWitness) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, 0, uint64(len(witness)))
	for _, item := range witness {
		_ = wire.WriteVarBytes(&buf, 0, item)
	}

	return buf.Bytes()
}

// checkLen returns a value checker requiring an exact byte length.
func checkLen(n int) func([]byte) error {
	return func(value []byte) error {
		if len(value) != n {
			return fmt.Errorf("expected %d bytes, got %d", n,
				len(value))
		}

		return nil
	}
}

// checkPubKey validates that the key data is a parseable compressed
// secp256k1 public key.
func checkPubKey(keyData []byte) error {
	if len(keyData) != btcec.PubKeyBytesLenCompressed {
		return fmt.Errorf("expected %d byte compressed pubkey, got "+
			"%d bytes", btcec.PubKeyBytesLenCompressed,
			len(keyData))
	}

	_, err := btcec.ParsePubKey(keyData)
	return err
}

// checkSignature validates that the value is a DER encoded ECDSA
// signature followed by a one-byte sighash flag.
func checkSignature(value []byte) error {
	if len(value) < minSigLength {
		return fmt.Errorf("%d bytes is too short for a signature",
			len(value))
	}

	_, err := ecdsa.ParseDERSignature(value[:len(value)-1])
	return err
}

// checkUnsignedTx validates the global unsigned-transaction value: a
// consensus serialization without witness data whose inputs carry no
// scriptSigs or witnesses.
func checkUnsignedTx(value []byte) error {
	tx := wire.NewMsgTx(wire.TxVersion)
	err := tx.DeserializeNoWitness(bytes.NewReader(value))
	if err != nil {
		return err
	}

	for _, txIn := range tx.TxIn {
		if len(txIn.SignatureScript) != 0 || len(txIn.Witness) != 0 {
			return ErrUnsignedTxHasScripts
		}
	}

	return nil
}

// checkTx validates that the value is a parseable full transaction.
func checkTx(value []byte) error {
	tx := wire.NewMsgTx(wire.TxVersion)
	return tx.Deserialize(bytes.NewReader(value))
}

// checkTxOut validates that the value is a parseable transaction
// output.
func checkTxOut(value []byte) error {
	_, err := readTxOut(value)
	return err
}

// checkWitness validates that the value is a parseable witness stack.
func checkWitness(value []byte) error {
	_, err := readWitness(value)
	return err
}

// checkDerivationValue validates a fingerprint-plus-path value: at least
// the 4 fingerprint bytes, and a whole number of 4-byte path elements.
func checkDerivationValue(value []byte) error {
	if len(value) < 4 || len(value)%4 != 0 {
		return fmt.Errorf("derivation value length %d is not a "+
			"multiple of 4", len(value))
	}

	return nil
}

// checkXpubKey validates the key data of a global xpub entry: a 78-byte
// serialized extended key.
func checkXpubKey(keyData []byte) error {
	if len(keyData) != bip32KeyLength {
		return fmt.Errorf("expected %d byte extended key, got %d "+
			"bytes", bip32KeyLength, len(keyData))
	}

	return nil
}

// checkCompactSize validates that the value holds exactly one
// canonically encoded compact-size integer.
func checkCompactSize(value []byte) error {
	r := bytes.NewReader(value)
	if _, err := wire.ReadVarInt(r, 0); err != nil {
		return err
	}
	if r.Len() != 0 {
		return errors.New("trailing bytes after compact-size value")
	}

	return nil
}

// decodeCompactSize decodes a canonically encoded compact-size value
// that has already passed checkCompactSize.
func decodeCompactSize(value []byte) uint64 {
	v, _ := wire.ReadVarInt(bytes.NewReader(value), 0)
	return v
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"errors"

	"github.com/btcsuite/btcpsbt/keymap"
)

var (
	// ErrInvalidMagicBytes is returned when a serialization does not
	// begin with the expected 0x70736274ff prefix.
	ErrInvalidMagicBytes = errors.New("invalid psbt magic bytes")

	// ErrInvalidPsbtFormat is returned for usage errors against the
	// document structure, such as referencing an input or output index
	// the packet does not have, or attaching a witness UTXO whose
	// script cannot be spent with a witness.
	ErrInvalidPsbtFormat = errors.New("invalid psbt format")

	// ErrMalformedMap is returned for structural violations of the
	// key-value map format: bad length prefixes, missing terminators,
	// duplicate keys, or map counts that disagree with the declared
	// input/output counts.
	ErrMalformedMap = keymap.ErrMalformedMap

	// ErrVarIntOverflow is returned when a compact-size length prefix
	// uses a non-canonical (over-long) encoding.
	ErrVarIntOverflow = keymap.ErrVarIntOverflow

	// ErrInvalidFieldEncoding is returned when a known field carries
	// key or value data of the wrong shape: a bad length, an
	// unparseable transaction or signature, or an out-of-range enum.
	ErrInvalidFieldEncoding = errors.New("invalid field encoding")

	// ErrMissingRequiredField is returned after a map has parsed when a
	// field that is mandatory for the document's version and map kind
	// is absent.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrForbiddenField is returned when a field appears in a map kind
	// or document version for which the field is not defined, e.g. the
	// legacy unsigned-transaction key inside a v2 document.
	ErrForbiddenField = errors.New("field forbidden for this version")

	// ErrUnsignedTxHasScripts is returned when the embedded v0 global
	// transaction carries non-empty scriptSigs or witnesses. The
	// unsigned transaction of a PSBT must be truly unsigned.
	ErrUnsignedTxHasScripts = errors.New("unsigned transaction contains " +
		"scriptSigs or witnesses")

	// ErrIncompatibleTransactions is returned when two documents being
	// combined describe different underlying transactions: differing
	// versions, input/output counts, or outpoints.
	ErrIncompatibleTransactions = errors.New("cannot combine psbts " +
		"describing different transactions")

	// ErrConflictingValue is returned when merging two documents that
	// define the same key with different values.
	ErrConflictingValue = keymap.ErrConflictingValue

	// ErrInputAlreadyFinal is returned when attempting to attach
	// signatures or signing metadata to an input that already carries
	// final scriptSig or witness data.
	ErrInputAlreadyFinal = errors.New("input is already finalized")

	// ErrInsufficientSignatures is returned by the finalizer when the
	// collected partial signatures do not satisfy the script template's
	// threshold.
	ErrInsufficientSignatures = errors.New("insufficient signatures to " +
		"finalize input")

	// ErrUnsupportedScriptType is returned when an input's script
	// template falls outside the explicitly supported set: P2PKH,
	// P2SH-wrapped multisig, P2WPKH and P2WSH-wrapped multisig.
	ErrUnsupportedScriptType = errors.New("unsupported script type")

	// ErrNotFullyFinalized is returned by Extract when at least one
	// input has not reached the Final state.
	ErrNotFullyFinalized = errors.New("psbt is missing final data for " +
		"at least one input")

	// ErrMissingUtxoData is returned when an operation needs an input's
	// previous-output data (witness or non-witness UTXO) and neither is
	// present.
	ErrMissingUtxoData = errors.New("input has no utxo information")

	// ErrInvalidPrevOutNonWitnessTransaction is returned when the hash
	// of a provided non-witness UTXO transaction does not match the
	// prevout txid declared by the input it is attached to.
	ErrInvalidPrevOutNonWitnessTransaction = errors.New("prevout hash " +
		"does not match the provided non-witness utxo")
)

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcpsbt/keymap"
)

// Combine merges any number of packets describing the same underlying
// transaction into one. Entries from all copies are unioned map by map;
// a key defined with differing values in two copies aborts the combine.
// The inputs are not modified, and the result's maps are in canonical
// key order so that combining is order-independent.
func Combine(packets ...*Packet) (*Packet, error) {
	if len(packets) == 0 {
		return nil, fmt.Errorf("%w: no packets to combine",
			ErrIncompatibleTransactions)
	}

	result := packets[0]
	for _, other := range packets[1:] {
		combined, err := combineTwo(result, other)
		if err != nil {
			return nil, err
		}

		result = combined
	}

	// Canonical ordering makes the result independent of the order the
	// packets were given in.
	sorted := &Packet{
		version:    result.version,
		global:     result.global.Clone(),
		unsignedTx: result.unsignedTx,
		Inputs:     make([]*Input, len(result.Inputs)),
		Outputs:    make([]*Output, len(result.Outputs)),
	}
	sorted.global.Sort()
	for i, input := range result.Inputs {
		kv := input.kv.Clone()
		kv.Sort()
		sorted.Inputs[i] = newInput(kv)
	}
	for i, output := range result.Outputs {
		kv := output.kv.Clone()
		kv.Sort()
		sorted.Outputs[i] = newOutput(kv)
	}

	log.Debugf("Combined %d psbts", len(packets))

	return sorted, nil
}

// combineTwo merges b into a copy of a after verifying both describe
// the same transaction.
func combineTwo(a, b *Packet) (*Packet, error) {
	if err := checkCompatible(a, b); err != nil {
		return nil, err
	}

	global, err := keymap.Merge(a.global, b.global)
	if err != nil {
		return nil, fmt.Errorf("global map: %w", err)
	}

	combined := &Packet{
		version:    a.version,
		global:     global,
		unsignedTx: a.unsignedTx,
		Inputs:     make([]*Input, len(a.Inputs)),
		Outputs:    make([]*Output, len(a.Outputs)),
	}

	for i := range a.Inputs {
		kv, err := keymap.Merge(a.Inputs[i].kv, b.Inputs[i].kv)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		input := newInput(kv)
		if err := input.sanityCheck(); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		combined.Inputs[i] = input
	}

	for i := range a.Outputs {
		kv, err := keymap.Merge(a.Outputs[i].kv, b.Outputs[i].kv)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}

		combined.Outputs[i] = newOutput(kv)
	}

	return combined, nil
}

// checkCompatible verifies that two packets describe the same
// transaction: matching document versions, matching map counts, and
// for v0 an identical unsigned transaction, for v2 identical input
// outpoints.
func checkCompatible(a, b *Packet) error {
	if a.version != b.version {
		return fmt.Errorf("%w: document versions %d and %d",
			ErrIncompatibleTransactions, a.version, b.version)
	}
	if len(a.Inputs) != len(b.Inputs) ||
		len(a.Outputs) != len(b.Outputs) {

		return fmt.Errorf("%w: input/output counts differ",
			ErrIncompatibleTransactions)
	}

	if a.version == 0 {
		if a.unsignedTx.TxHash() != b.unsignedTx.TxHash() {
			return fmt.Errorf("%w: unsigned transactions differ",
				ErrIncompatibleTransactions)
		}

		return nil
	}

	for i := range a.Inputs {
		aPrev, err := a.InputOutPoint(i)
		if err != nil {
			return err
		}
		bPrev, err := b.InputOutPoint(i)
		if err != nil {
			return err
		}
		if aPrev != bPrev {
			return fmt.Errorf("%w: outpoint of input %d differs",
				ErrIncompatibleTransactions, i)
		}
	}

	return nil
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SumUtxoInputValues returns the total value of all inputs, resolved
// through each input's UTXO field. Every input must carry either a
// witness or a non-witness UTXO.
func SumUtxoInputValues(p *Packet) (btcutil.Amount, error) {
	var sum btcutil.Amount
	for i, input := range p.Inputs {
		prevOut, err := p.InputOutPoint(i)
		if err != nil {
			return 0, err
		}

		utxo, _, err := input.Utxo(prevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		sum += btcutil.Amount(utxo.Value)
	}

	return sum, nil
}

// GetTxFee returns the fee the described transaction pays: the total
// input value minus the total output value.
func GetTxFee(p *Packet) (btcutil.Amount, error) {
	inputSum, err := SumUtxoInputValues(p)
	if err != nil {
		return 0, err
	}

	tx, err := p.buildUnsignedTx()
	if err != nil {
		return 0, err
	}

	var outputSum btcutil.Amount
	for _, txOut := range tx.TxOut {
		outputSum += btcutil.Amount(txOut.Value)
	}

	return inputSum - outputSum, nil
}

// PrevOutputFetcher returns a prevout fetcher primed with the UTXO
// information of every input that carries any, suitable for sighash
// calculation over the described transaction.
func PrevOutputFetcher(p *Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, input := range p.Inputs {
		prevOut, err := p.InputOutPoint(i)
		if err != nil {
			continue
		}

		utxo, _, err := input.Utxo(prevOut)
		if err != nil {
			continue
		}

		fetcher.AddPrevOut(prevOut, utxo)
	}

	return fetcher
}

// TxOutsEqual reports whether two transaction outputs are identical.
func TxOutsEqual(a, b *wire.TxOut) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Value == b.Value && bytes.Equal(a.PkScript, b.PkScript)
}

// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"github.com/btcsuite/btcd/wire"
)

// Extract returns the fully signed, network-serializable transaction of
// a complete packet: the unsigned transaction the document describes
// with every input's final scriptSig and witness installed. The packet
// must have all inputs in the Final state.
func Extract(p *Packet) (*wire.MsgTx, error) {
	if !p.IsComplete() {
		return nil, ErrNotFullyFinalized
	}

	tx, err := p.buildUnsignedTx()
	if err != nil {
		return nil, err
	}

	for i, input := range p.Inputs {
		if scriptSig := input.FinalScriptSig(); scriptSig != nil {
			tx.TxIn[i].SignatureScript = scriptSig
		}
		if witness := input.FinalWitness(); witness != nil {
			tx.TxIn[i].Witness = witness
		}
	}

	return tx, nil
}

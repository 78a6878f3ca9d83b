// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command psbt is a small workbench for partially signed bitcoin
// transactions: it decodes, creates, combines, finalizes and extracts
// documents in both the v0 and v2 formats, reading and writing the
// conventional base64 text form.
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/btcpsbt/psbt"
	flags "github.com/jessevdk/go-flags"
)

// globalOptions are the options shared by every subcommand.
type globalOptions struct {
	TestNet bool `long:"testnet" description:"Render addresses for testnet3 instead of mainnet"`
	Debug   bool `long:"debug" description:"Enable debug logging to stderr"`
}

var opts globalOptions

// chainParams returns the network parameters selected on the command
// line.
func chainParams() *chaincfg.Params {
	if opts.TestNet {
		return &chaincfg.TestNet3Params
	}

	return &chaincfg.MainNetParams
}

// readPacket loads a packet from the given file, or from stdin when the
// name is empty or "-". Both the base64 and the hex text form are
// accepted; the latter is recognized by the magic prefix.
func readPacket(fileName string) (*psbt.Packet, error) {
	var src io.Reader = os.Stdin
	if fileName != "" && fileName != "-" {
		f, err := os.Open(fileName)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src = f
	}

	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(raw))

	if strings.HasPrefix(text, "70736274ff") {
		decoded, err := hex.DecodeString(text)
		if err != nil {
			return nil, err
		}

		return psbt.NewFromRawBytes(bytes.NewReader(decoded), false)
	}

	return psbt.NewFromRawBytes(strings.NewReader(text), true)
}

// writePacket prints the base64 form of the packet to stdout.
func writePacket(p *psbt.Packet) error {
	encoded, err := p.B64Encode()
	if err != nil {
		return err
	}

	fmt.Println(encoded)

	return nil
}

// renderScript returns a human readable form of an output script,
// preferring its address rendering.
func renderScript(script []byte) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		script, chainParams(),
	)
	if err == nil && len(addrs) == 1 {
		return addrs[0].EncodeAddress()
	}

	return hex.EncodeToString(script)
}

// decodeCommand prints a summary of a document.
type decodeCommand struct {
	File string `short:"f" long:"file" description:"Input file, defaults to stdin"`
}

func (c *decodeCommand) Execute(_ []string) error {
	p, err := readPacket(c.File)
	if err != nil {
		return err
	}

	fmt.Printf("psbt version: %d\n", p.Version())
	fmt.Printf("tx version:   %d\n", p.TxVersion())
	fmt.Printf("complete:     %v\n", p.IsComplete())

	if fee, err := psbt.GetTxFee(p); err == nil {
		fmt.Printf("fee:          %v\n", fee)
	}

	for i, input := range p.Inputs {
		prevOut, err := p.InputOutPoint(i)
		if err != nil {
			return err
		}

		fmt.Printf("input %d: %s\n", i, prevOut.String())
		fmt.Printf("  state: %v\n", input.State())
		if template, err := p.InputScriptTemplate(i); err == nil {
			fmt.Printf("  template: %v\n", template)
		}
		for _, sig := range input.PartialSigs() {
			fmt.Printf("  partial sig for %x\n", sig.PubKey)
		}
		for _, unknown := range input.Unknowns() {
			fmt.Printf("  unknown field: %v\n", unknown.Key)
		}
	}

	tx, err := psbt.Extract(p)
	if err == nil {
		fmt.Printf("final txid: %s\n", tx.TxHash())
	}

	for i, output := range p.Outputs {
		script := output.Script()
		amount, _ := output.Amount()
		if p.Version() == 0 {
			txOut := p.UnsignedTx().TxOut[i]
			script = txOut.PkScript
			amount = btcutil.Amount(txOut.Value)
		}

		fmt.Printf("output %d: %v -> %s\n", i, amount,
			renderScript(script))
	}

	return nil
}

// createCommand builds a fresh unsigned document.
type createCommand struct {
	In       []string `long:"in" description:"Input outpoint as txid:vout" required:"1"`
	Out      []string `long:"out" description:"Output as hexscript:amount" required:"1"`
	V2       bool     `long:"v2" description:"Create a version 2 document"`
	Locktime uint32   `long:"locktime" description:"Transaction locktime (v0) or fallback locktime (v2)"`
}

func (c *createCommand) Execute(_ []string) error {
	var outPoints []*wire.OutPoint
	for _, in := range c.In {
		outPoint, err := parseOutPoint(in)
		if err != nil {
			return err
		}
		outPoints = append(outPoints, outPoint)
	}

	var txOuts []*wire.TxOut
	for _, out := range c.Out {
		txOut, err := parseTxOut(out)
		if err != nil {
			return err
		}
		txOuts = append(txOuts, txOut)
	}

	var (
		p   *psbt.Packet
		err error
	)
	if c.V2 {
		inputs := make([]wire.OutPoint, len(outPoints))
		for i, outPoint := range outPoints {
			inputs[i] = *outPoint
		}

		p, err = psbt.NewV2(psbt.V2TxParams{
			TxVersion:        2,
			FallbackLocktime: c.Locktime,
			Modifiable: psbt.TxModifiableInputs |
				psbt.TxModifiableOutputs,
		}, inputs, txOuts)
	} else {
		p, err = psbt.New(outPoints, txOuts, 2, c.Locktime)
	}
	if err != nil {
		return err
	}

	return writePacket(p)
}

// combineCommand merges several copies of one document.
type combineCommand struct {
	Files []string `short:"f" long:"file" description:"Input files" required:"2"`
}

func (c *combineCommand) Execute(_ []string) error {
	packets := make([]*psbt.Packet, 0, len(c.Files))
	for _, fileName := range c.Files {
		p, err := readPacket(fileName)
		if err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}
		packets = append(packets, p)
	}

	combined, err := psbt.Combine(packets...)
	if err != nil {
		return err
	}

	return writePacket(combined)
}

// finalizeCommand finalizes every input of a document.
type finalizeCommand struct {
	File    string `short:"f" long:"file" description:"Input file, defaults to stdin"`
	Extract bool   `long:"extract" description:"Also extract and print the final transaction hex"`
}

func (c *finalizeCommand) Execute(_ []string) error {
	p, err := readPacket(c.File)
	if err != nil {
		return err
	}

	if err := psbt.FinalizeAll(p); err != nil {
		return err
	}

	if !c.Extract {
		return writePacket(p)
	}

	return printFinalTx(p)
}

// extractCommand prints the final transaction of a complete document.
type extractCommand struct {
	File string `short:"f" long:"file" description:"Input file, defaults to stdin"`
}

func (c *extractCommand) Execute(_ []string) error {
	p, err := readPacket(c.File)
	if err != nil {
		return err
	}

	return printFinalTx(p)
}

// printFinalTx prints the network serialization of the extracted
// transaction as hex.
func printFinalTx(p *psbt.Packet) error {
	tx, err := psbt.Extract(p)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(buf.Bytes()))

	return nil
}

// parseOutPoint parses the txid:vout form.
func parseOutPoint(s string) (*wire.OutPoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid outpoint %q, expected "+
			"txid:vout", s)
	}

	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid txid in %q: %w", s, err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid output index in %q: %w", s, err)
	}

	return wire.NewOutPoint(hash, uint32(index)), nil
}

// parseTxOut parses the hexscript:amount form.
func parseTxOut(s string) (*wire.TxOut, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid output %q, expected "+
			"hexscript:amount", s)
	}

	script, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid script in %q: %w", s, err)
	}
	amount, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount in %q: %w", s, err)
	}

	return wire.NewTxOut(amount, script), nil
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.CommandHandler = func(cmd flags.Commander,
		args []string) error {

		if opts.Debug {
			backend := btclog.NewBackend(os.Stderr)
			logger := backend.Logger("PSBT")
			level, _ := btclog.LevelFromString("debug")
			logger.SetLevel(level)
			psbt.UseLogger(logger)
		}

		return cmd.Execute(args)
	}

	mustAddCommand(parser, "decode",
		"Decode and summarize a document", &decodeCommand{})
	mustAddCommand(parser, "create",
		"Create a fresh unsigned document", &createCommand{})
	mustAddCommand(parser, "combine",
		"Combine several copies of one document", &combineCommand{})
	mustAddCommand(parser, "finalize",
		"Finalize every input of a document", &finalizeCommand{})
	mustAddCommand(parser, "extract",
		"Extract the final transaction", &extractCommand{})

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mustAddCommand(parser *flags.Parser, name, description string,
	cmd interface{}) {

	if _, err := parser.AddCommand(name, description, "", cmd); err != nil {
		panic(err)
	}
}

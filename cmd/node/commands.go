package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"MultiBridge/internal/genesis"
	"MultiBridge/internal/message"
	"MultiBridge/internal/network"
	"MultiBridge/internal/receipt"
)

var (
	outFlag = &cli.StringFlag{
		Name:     "out",
		Aliases:  []string{"o"},
		Usage:    "Path of the key file to create",
		Required: true,
	}
	selfFlag = &cli.StringFlag{
		Name:     "self",
		Usage:    "Hex address of the target node (its public key)",
		Required: true,
	}
	dstFlag = &cli.Uint64Flag{
		Name:  "dst",
		Usage: "Destination chain id of the governance message",
	}
	nonceFlag = &cli.Uint64Flag{
		Name:  "nonce",
		Usage: "Nonce of the governance message",
	}
	srcChainFlag = &cli.Uint64Flag{
		Name:  "src",
		Usage: "Source chain id the message will be sent from, to print its id",
	}

	keygenCommand = &cli.Command{
		Name:      "keygen",
		Usage:     "Generate an ed25519 key file for a node or an adapter",
		ArgsUsage: " ",
		Flags:     []cli.Flag{outFlag},
		Action:    keygen,
	}
	idCommand = &cli.Command{
		Name:      "id",
		Usage:     "Print the address and receipt key of a key file",
		ArgsUsage: "<keyfile>",
		Action:    printID,
	}
	proposeCommand = &cli.Command{
		Name:      "propose",
		Usage:     "Encode a governance proposal TOML file into a self-targeted message",
		ArgsUsage: "<proposal.toml>",
		Flags:     []cli.Flag{selfFlag, dstFlag, nonceFlag, srcChainFlag},
		Action:    propose,
		Description: `
The printed target and payload must be sent through the trusted upstream of
every source chain. Once enough sources attest it, the node applies it.`,
	}
)

// keygen writes a fresh private key and prints its address.
func keygen(ctx *cli.Context) error {
	priv, err := network.GenerateKey()
	if err != nil {
		return err
	}

	path := ctx.String(outFlag.Name)
	if err := network.SaveKey(path, priv); err != nil {
		return err
	}

	fmt.Printf("Address: %x\n", priv.Public().(ed25519.PublicKey))
	fmt.Printf("Key file: %s\n", path)

	return nil
}

// printID prints the identity of an existing key file.
func printID(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected one key file argument")
	}

	data, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	priv := ed25519.PrivateKey(data)

	bls, err := receipt.DeriveKey(priv)
	if err != nil {
		return err
	}

	fmt.Printf("Address:     %x\n", priv.Public().(ed25519.PublicKey))
	fmt.Printf("Receipt key: %x\n", bls.PublicKey())

	return nil
}

// proposalOutput is the JSON printed by propose.
type proposalOutput struct {
	Target  string `json:"target"`
	DstID   uint64 `json:"dstChainId"`
	Nonce   uint64 `json:"nonce"`
	Payload string `json:"payload"`
	ID      string `json:"id,omitempty"`
}

// propose encodes a proposal file.
func propose(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected one proposal file argument")
	}

	self, err := message.ParseAddress(ctx.String(selfFlag.Name))
	if err != nil {
		return err
	}

	var p genesis.Proposal
	if err := loadTOML(ctx.Args().First(), &p); err != nil {
		return fmt.Errorf("load proposal:\n%w", err)
	}

	msg, err := p.Message(self, message.ChainID(ctx.Uint64(dstFlag.Name)), ctx.Uint64(nonceFlag.Name))
	if err != nil {
		return err
	}

	out := proposalOutput{
		Target:  msg.Target.String(),
		DstID:   uint64(msg.DstChainID),
		Nonce:   msg.Nonce,
		Payload: hex.EncodeToString(msg.Payload),
	}

	if src := ctx.Uint64(srcChainFlag.Name); src != 0 {
		out.ID = message.ComputeID(message.ChainID(src), msg).String()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

package client

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"MultiBridge/internal/ledger"
	"MultiBridge/internal/message"
	"MultiBridge/internal/receipt"
)

// Client queries a MultiBridge node via HTTP.
type Client struct {
	nodeAddr string // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
}

// Source is a registered attestor.
type Source struct {
	Address string `json:"address"`
	Weight  uint64 `json:"weight"`
}

// Origin is a trusted upstream.
type Origin struct {
	ChainID  uint64 `json:"chainId"`
	Upstream string `json:"upstream"`
}

// Status is the node configuration returned by /status.
type Status struct {
	Self        string   `json:"self"`
	ChainID     uint64   `json:"chainId"`
	Initialized bool     `json:"initialized"`
	Threshold   uint64   `json:"threshold"`
	TotalWeight uint64   `json:"totalWeight"`
	Sources     []Source `json:"sources"`
	Origins     []Origin `json:"origins"`
}

// MessageStatus is the quorum state of one message.
type MessageStatus struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Attestors []string `json:"attestors"`
	Power     uint64   `json:"power"`
	Required  uint64   `json:"required"`
}

// Executed reports whether the message was executed.
func (m *MessageStatus) Executed() bool {
	return m.Status == ledger.Executed.String()
}

// NewClient creates a client for the node at nodeAddr.
func NewClient(nodeAddr string) *Client {
	return &Client{nodeAddr: nodeAddr}
}

// Status fetches the node configuration.
func (c *Client) Status() (*Status, error) {
	var st Status
	if err := httpGet(c.url("/status"), &st); err != nil {
		return nil, err
	}

	return &st, nil
}

// Self returns the governance target of the node.
func (c *Client) Self() (message.Address, error) {
	st, err := c.Status()
	if err != nil {
		return message.Address{}, err
	}

	return message.ParseAddress(st.Self)
}

// Message fetches the quorum state of id.
func (c *Client) Message(id message.ID) (*MessageStatus, error) {
	var st MessageStatus
	if err := httpGet(c.url("/messages/"+id.String()), &st); err != nil {
		return nil, err
	}

	return &st, nil
}

// Receipt fetches and verifies the execution receipt of id.
// Returns nil without error when the node has no receipt.
func (c *Client) Receipt(id message.ID) (*receipt.Receipt, error) {
	var raw struct {
		MsgID      string `json:"msgId"`
		SrcChainID uint64 `json:"srcChainId"`
		Signer     string `json:"signer"`
		Signature  string `json:"signature"`
	}

	err := httpGet(c.url("/receipts/"+id.String()), &raw)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msgID, err := message.ParseID(raw.MsgID)
	if err != nil {
		return nil, err
	}

	signer, err := hex.DecodeString(raw.Signer)
	if err != nil {
		return nil, fmt.Errorf("decode signer:\n%w", err)
	}

	sig, err := hex.DecodeString(raw.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature:\n%w", err)
	}

	rc := &receipt.Receipt{
		MsgID:      msgID,
		SrcChainID: message.ChainID(raw.SrcChainID),
		Signer:     signer,
		Signature:  sig,
	}

	if rc.MsgID != id || !rc.Verify() {
		return nil, receipt.ErrInvalidReceipt
	}

	return rc, nil
}

// Snapshot downloads a compressed snapshot of the node's store into w.
func (c *Client) Snapshot(w io.Writer) error {
	return httpDownload(c.url("/snapshot"), w)
}

// url builds the URL of an API path.
func (c *Client) url(path string) string {
	return "http://" + c.nodeAddr + path
}

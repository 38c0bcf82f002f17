// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package ledger defines the vault's view of a ledger network: transaction
// and balance queries, contract calls and event subscriptions.
package ledger

import (
	"context"
	"encoding/json"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/dex"
)

const (
	// ErrNetworkUnresponsive is returned when no endpoint of a network
	// answers.
	ErrNetworkUnresponsive = dex.ErrorKind("network unresponsive")
	// ErrAlreadyDeployed is returned when deploying a contract whose
	// constructor was already called.
	ErrAlreadyDeployed = dex.ErrorKind("constructor was already called")
	// ErrABIUnavailable is returned for operations that need contract ABI
	// encoding when none is configured.
	ErrABIUnavailable = dex.ErrorKind("contract ABI support unavailable")
	// ErrUnknownSubscription is returned when unsubscribing an unknown
	// handle.
	ErrUnknownSubscription = dex.ErrorKind("unknown subscription")
)

// Account types reported by the ledger.
const (
	AccTypeUninit = 0
	AccTypeActive = 1
	AccTypeFrozen = 2
)

// Subscription response types passed to a SubscriptionHandler.
const (
	ResponseData  = 100
	ResponseError = 101
)

// Contract names.
const (
	SafeMultisigWallet = "SafeMultisigWallet"
	TokenWallet        = "TokenWalletTip3"
	TokenRoot          = "RootTokenContract"
	GiverV2            = "GiverV2"
)

// SafeMultisigCodeHash is the code hash of the wallet contract deployed for
// every account.
const SafeMultisigCodeHash = "80d6c47c4a25543c9b397b71716f3fae1e2c5d247174c52e2c19bd896442b105"

// Message is a ledger message.
type Message struct {
	ID   string `json:"id,omitempty"`
	Boc  string `json:"boc"`
	Body string `json:"body"`
}

// Transaction is a raw ledger transaction.
type Transaction struct {
	ID           string     `json:"id"`
	AccountAddr  string     `json:"account_addr"`
	Now          int64      `json:"now"`
	InMessage    *Message   `json:"in_message"`
	OutMessages  []*Message `json:"out_messages"`
	Aborted      bool       `json:"aborted"`
	OrigStatus   int        `json:"orig_status"`
	EndStatus    int        `json:"end_status"`
	BlockID      string     `json:"block_id"`
	BalanceDelta string     `json:"balance_delta"`
	TotalFees    string     `json:"total_fees"`
}

// AccountState is the on-chain state of an account.
type AccountState struct {
	ID       string `json:"id"`
	Balance  string `json:"balance"`
	CodeHash string `json:"code_hash"`
	Boc      string `json:"boc"`
	AccType  int    `json:"acc_type"`
}

// Call is a signed call of a contract function.
type Call struct {
	Address  string
	Contract string
	Function string
	Input    map[string]any
	Keys     *keys.KeyPair
	// Comment, if set, is encoded as a transfer comment body and passed as
	// the call's payload input.
	Comment string
	// Payload, if set, is encoded as an internal message body of
	// Payload.Function on Payload.Contract and passed as the call's payload
	// input instead. Its own Comment becomes the body's payload.
	Payload *Call
}

// Deploy describes the deployment of a contract with its constructor input.
type Deploy struct {
	Address  string
	Contract string
	Input    map[string]any
	Keys     *keys.KeyPair
}

// TokenTransfer is a decoded fungible token transfer message.
type TokenTransfer struct {
	Name   string         `json:"name"`
	Amount string         `json:"amount"`
	Value  map[string]any `json:"value"`
}

// TokenInfo describes a token root.
type TokenInfo struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Icon     string `json:"icon"`
}

// SubscribeParams selects the ledger events to subscribe to.
type SubscribeParams struct {
	Collection string          `json:"collection"`
	Filter     json.RawMessage `json:"filter"`
	Result     string          `json:"result"`
}

// SubscriptionHandler receives subscription events.
type SubscriptionHandler func(params json.RawMessage, responseType int)

// Client is a connection to one ledger network.
type Client interface {
	// Endpoint is the endpoint currently in use.
	Endpoint() string
	// Transactions retrieves transactions of the addresses with a time after
	// since, newest first.
	Transactions(ctx context.Context, addrs []string, since int64) ([]*Transaction, error)
	// Balances retrieves the native balances of the addresses. Addresses
	// unknown to the ledger are omitted.
	Balances(ctx context.Context, addrs []string) (map[string]uint64, error)
	// AccountState retrieves the account's state. A nil state is returned for
	// an account the ledger doesn't know.
	AccountState(ctx context.Context, addr string) (*AccountState, error)
	// Run sends a signed contract call and waits for its transaction.
	Run(ctx context.Context, call *Call) (*Transaction, error)
	// Deploy deploys a contract and waits for the deploy transaction.
	Deploy(ctx context.Context, d *Deploy) (*Transaction, error)
	// EstimateFee estimates the fees of the call.
	EstimateFee(ctx context.Context, call *Call) (string, error)
	// DecodeTokenTransfer decodes the message as a token wallet call. A nil
	// transfer is returned for messages that are not token wallet calls.
	DecodeTokenTransfer(ctx context.Context, boc string) (*TokenTransfer, error)
	// TokenInfo retrieves the details of a token root.
	TokenInfo(ctx context.Context, root string) (*TokenInfo, error)
	// TokenWallet is the owner's token wallet address for the token root.
	TokenWallet(ctx context.Context, root, owner string) (string, error)
	// TokenBalance is the balance of a token wallet.
	TokenBalance(ctx context.Context, wallet string) (string, error)
	// Subscribe subscribes to ledger events, returning a handle for
	// Unsubscribe.
	Subscribe(ctx context.Context, params *SubscribeParams, h SubscriptionHandler) (uint32, error)
	// Unsubscribe cancels a subscription.
	Unsubscribe(handle uint32) error
	// Close closes any open connections.
	Close()
}

// Dialer creates a Client for a network.
type Dialer func(net *db.Network) (Client, error)

// ExternalMessage is an encoded, signed inbound message.
type ExternalMessage struct {
	ID  string
	Boc string
}

// DecodedBody is a decoded message body.
type DecodedBody struct {
	Name  string
	Value map[string]any
}

// ABI encodes and decodes contract messages and runs contract getters
// against account state. It is supplied by a contract SDK binding.
type ABI interface {
	EncodeCall(call *Call) (*ExternalMessage, error)
	EncodeDeploy(d *Deploy) (*ExternalMessage, error)
	DecodeBody(contract, boc string) (*DecodedBody, error)
	RunGetter(accountBoc, contract, function string, input map[string]any) (map[string]any, error)
	EstimateFee(accountBoc string, msg *ExternalMessage) (string, error)
	Version() string
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"decred.org/evervault/client/ledger"
)

// TLedger is an in-memory ledger.Client. Every method call is counted.
type TLedger struct {
	Mtx sync.Mutex
	// Txs are returned by Transactions when their account is queried and
	// their time is after since.
	Txs          []*ledger.Transaction
	TxsErr       error
	Bals         map[string]uint64
	BalsErr      error
	States       map[string]*ledger.AccountState
	RunTx        *ledger.Transaction
	RunErr       error
	DeployErr    error
	Fee          string
	Transfers    map[string]*ledger.TokenTransfer
	Tokens       map[string]*ledger.TokenInfo
	Wallets      map[[2]string]string
	TokenBals    map[string]string
	Runs         []*ledger.Call
	Deploys      []*ledger.Deploy
	Calls        map[string]int
	Subs         map[uint32]ledger.SubscriptionHandler
	QueriedSince []int64
	nextSub      uint32
}

var _ ledger.Client = (*TLedger)(nil)

// New creates an empty TLedger.
func New() *TLedger {
	return &TLedger{
		Bals:      make(map[string]uint64),
		States:    make(map[string]*ledger.AccountState),
		Transfers: make(map[string]*ledger.TokenTransfer),
		Tokens:    make(map[string]*ledger.TokenInfo),
		Wallets:   make(map[[2]string]string),
		TokenBals: make(map[string]string),
		Calls:     make(map[string]int),
		Subs:      make(map[uint32]ledger.SubscriptionHandler),
		Fee:       "1000",
	}
}

func (l *TLedger) called(name string) {
	l.Calls[name]++
}

// CallCount is the number of calls of the method so far.
func (l *TLedger) CallCount(name string) int {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	return l.Calls[name]
}

// LedgerCalls is the total number of calls of any method.
func (l *TLedger) LedgerCalls() int {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	var n int
	for _, c := range l.Calls {
		n += c
	}
	return n
}

// AddTx adds a transaction to the ledger.
func (l *TLedger) AddTx(tx *ledger.Transaction) {
	l.Mtx.Lock()
	l.Txs = append(l.Txs, tx)
	l.Mtx.Unlock()
}

func (l *TLedger) Endpoint() string { return "tledger" }

func (l *TLedger) Transactions(_ context.Context, addrs []string, since int64) ([]*ledger.Transaction, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("Transactions")
	l.QueriedSince = append(l.QueriedSince, since)
	if l.TxsErr != nil {
		return nil, l.TxsErr
	}
	want := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}
	var txs []*ledger.Transaction
	for _, tx := range l.Txs {
		if want[tx.AccountAddr] && tx.Now > since {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (l *TLedger) Balances(_ context.Context, addrs []string) (map[string]uint64, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("Balances")
	if l.BalsErr != nil {
		return nil, l.BalsErr
	}
	bals := make(map[string]uint64)
	for _, a := range addrs {
		if bal, found := l.Bals[a]; found {
			bals[a] = bal
		}
	}
	return bals, nil
}

func (l *TLedger) AccountState(_ context.Context, addr string) (*ledger.AccountState, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("AccountState")
	return l.States[addr], nil
}

func (l *TLedger) Run(_ context.Context, call *ledger.Call) (*ledger.Transaction, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("Run")
	l.Runs = append(l.Runs, call)
	if l.RunErr != nil {
		return nil, l.RunErr
	}
	if l.RunTx != nil {
		return l.RunTx, nil
	}
	return &ledger.Transaction{ID: "run-tx", AccountAddr: call.Address}, nil
}

func (l *TLedger) Deploy(_ context.Context, d *ledger.Deploy) (*ledger.Transaction, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("Deploy")
	l.Deploys = append(l.Deploys, d)
	if l.DeployErr != nil {
		return nil, l.DeployErr
	}
	return &ledger.Transaction{ID: "deploy-tx", AccountAddr: d.Address}, nil
}

func (l *TLedger) EstimateFee(_ context.Context, _ *ledger.Call) (string, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("EstimateFee")
	return l.Fee, nil
}

func (l *TLedger) DecodeTokenTransfer(_ context.Context, boc string) (*ledger.TokenTransfer, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("DecodeTokenTransfer")
	return l.Transfers[boc], nil
}

func (l *TLedger) TokenInfo(_ context.Context, root string) (*ledger.TokenInfo, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("TokenInfo")
	info, found := l.Tokens[root]
	if !found {
		return nil, errors.New("unknown token root")
	}
	return info, nil
}

func (l *TLedger) TokenWallet(_ context.Context, root, owner string) (string, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("TokenWallet")
	w, found := l.Wallets[[2]string{root, owner}]
	if !found {
		return "", errors.New("no token wallet")
	}
	return w, nil
}

func (l *TLedger) TokenBalance(_ context.Context, wallet string) (string, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("TokenBalance")
	bal, found := l.TokenBals[wallet]
	if !found {
		return "", errors.New("unknown token wallet")
	}
	return bal, nil
}

func (l *TLedger) Subscribe(_ context.Context, _ *ledger.SubscribeParams, h ledger.SubscriptionHandler) (uint32, error) {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("Subscribe")
	l.nextSub++
	l.Subs[l.nextSub] = h
	return l.nextSub, nil
}

func (l *TLedger) Unsubscribe(handle uint32) error {
	l.Mtx.Lock()
	defer l.Mtx.Unlock()
	l.called("Unsubscribe")
	if _, found := l.Subs[handle]; !found {
		return ledger.ErrUnknownSubscription
	}
	delete(l.Subs, handle)
	return nil
}

// Publish sends the params to the subscription's handler.
func (l *TLedger) Publish(handle uint32, params json.RawMessage, responseType int) bool {
	l.Mtx.Lock()
	h := l.Subs[handle]
	l.Mtx.Unlock()
	if h == nil {
		return false
	}
	h(params, responseType)
	return true
}

func (l *TLedger) Close() {}

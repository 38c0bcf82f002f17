// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package txsync discovers new ledger transactions of the vault's accounts,
// classifies and records them, and reports the changes to subscribers.
package txsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/ledger"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval is the period of the recurring sync pass.
	DefaultInterval = 15 * time.Second
	eventBuffer     = 64
)

// Event is sent to subscribers. It is one of *AccountUpdated or *DepositNote.
type Event interface {
	AccountAddr() string
}

// AccountUpdated reports newly recorded transactions of an account.
type AccountUpdated struct {
	Address string
	Network string
	New     []*db.Transaction
}

// AccountAddr is the updated account.
func (u *AccountUpdated) AccountAddr() string { return u.Address }

// DepositNote is a user notification for funds received.
type DepositNote struct {
	Address  string
	Network  string
	TxID     string
	Type     string
	Amount   string
	CoinName string
	// Link is the explorer page of the transaction.
	Link string
}

// AccountAddr is the receiving account.
func (n *DepositNote) AccountAddr() string { return n.Address }

// LedgerFunc returns the ledger client for a network.
type LedgerFunc func(net *db.Network) (ledger.Client, error)

// Config is the Engine configuration.
type Config struct {
	DB       db.DB
	Ledger   LedgerFunc
	Interval time.Duration
}

// Engine polls the networks for transactions of the vault's accounts.
type Engine struct {
	db       db.DB
	ledger   LedgerFunc
	interval time.Duration

	seenMtx  sync.Mutex
	lastSeen map[string]int64

	triggerMtx sync.Mutex
	pending    map[string]bool
	pendingAll bool
	trigger    chan struct{}

	subMtx sync.RWMutex
	subs   map[int]chan Event
	subID  int
}

// New creates an Engine.
func New(cfg *Config) *Engine {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		db:       cfg.DB,
		ledger:   cfg.Ledger,
		interval: interval,
		lastSeen: make(map[string]int64),
		pending:  make(map[string]bool),
		trigger:  make(chan struct{}, 1),
		subs:     make(map[int]chan Event),
	}
}

// Run runs sync passes on the timer and on triggers until the context is
// canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	e.Sync(ctx)
	for {
		select {
		case <-ticker.C:
			e.Sync(ctx)
		case <-e.trigger:
			e.triggerMtx.Lock()
			all, addrs := e.pendingAll, e.pending
			e.pendingAll, e.pending = false, make(map[string]bool)
			e.triggerMtx.Unlock()
			if all {
				e.Sync(ctx)
				continue
			}
			list := make([]string, 0, len(addrs))
			for addr := range addrs {
				list = append(list, addr)
			}
			e.Sync(ctx, list...)
		case <-ctx.Done():
			e.subMtx.Lock()
			for id, ch := range e.subs {
				close(ch)
				delete(e.subs, id)
			}
			e.subMtx.Unlock()
			return
		}
	}
}

// Trigger requests a sync pass for the addresses, or for every account if
// none are given. Triggers received before the pass starts are coalesced.
// Trigger never blocks.
func (e *Engine) Trigger(addrs ...string) {
	e.triggerMtx.Lock()
	if len(addrs) == 0 {
		e.pendingAll = true
	}
	for _, addr := range addrs {
		e.pending[addr] = true
	}
	e.triggerMtx.Unlock()
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Subscribe registers for events. Events are dropped for a subscriber that
// is not keeping up. The returned function unsubscribes.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	e.subMtx.Lock()
	id := e.subID
	e.subID++
	e.subs[id] = ch
	e.subMtx.Unlock()
	return ch, func() {
		e.subMtx.Lock()
		if _, found := e.subs[id]; found {
			delete(e.subs, id)
			close(ch)
		}
		e.subMtx.Unlock()
	}
}

func (e *Engine) emit(ev Event) {
	e.subMtx.RLock()
	defer e.subMtx.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("Dropping %T event for %s. Subscriber not keeping up.", ev, ev.AccountAddr())
		}
	}
}

// Sync runs one pass for the addresses, or for every account if none are
// given. Networks are synced concurrently. A network that fails is logged and
// skipped.
func (e *Engine) Sync(ctx context.Context, addrs ...string) {
	nets, err := e.db.Networks()
	if err != nil {
		log.Errorf("Error loading networks: %v", err)
		return
	}
	accts, err := e.accounts(addrs)
	if err != nil {
		log.Errorf("Error loading accounts: %v", err)
		return
	}
	if len(accts) == 0 {
		return
	}
	full := len(addrs) == 0
	var g errgroup.Group
	for _, n := range nets {
		g.Go(func() error {
			if err := e.syncNetwork(ctx, n, accts, full); err != nil {
				if errors.Is(err, ledger.ErrNetworkUnresponsive) {
					log.Warnf("Skipping %s this pass: %v", n.Server, err)
				} else {
					log.Errorf("Error syncing %s: %v", n.Server, err)
				}
			}
			return nil
		})
	}
	g.Wait()
}

func (e *Engine) accounts(addrs []string) ([]*db.Account, error) {
	if len(addrs) == 0 {
		return e.db.Accounts()
	}
	accts := make([]*db.Account, 0, len(addrs))
	for _, addr := range addrs {
		acct, err := e.db.Account(addr)
		if err != nil {
			if errors.Is(err, db.ErrAccountNotFound) {
				continue
			}
			return nil, err
		}
		accts = append(accts, acct)
	}
	return accts, nil
}

// latestStored is the oldest of the accounts' newest stored transaction times
// on the network. An account with no transactions yields 0.
func latestStored(accts []*db.Account, net string) int64 {
	var since int64 = -1
	for _, acct := range accts {
		var newest int64
		for _, tx := range acct.Transactions[net] {
			if tx.Now > newest {
				newest = tx.Now
			}
		}
		if since < 0 || newest < since {
			since = newest
		}
	}
	if since < 0 {
		return 0
	}
	return since
}

// since is the time after which to query. Full passes use the network's
// last seen time. Targeted passes start from what the accounts have stored.
func (e *Engine) since(net string, accts []*db.Account, full bool) int64 {
	if !full {
		return latestStored(accts, net)
	}
	e.seenMtx.Lock()
	defer e.seenMtx.Unlock()
	seen, found := e.lastSeen[net]
	if !found {
		seen = latestStored(accts, net)
		e.lastSeen[net] = seen
	}
	return seen
}

func (e *Engine) setLastSeen(net string, t int64) {
	e.seenMtx.Lock()
	if t > e.lastSeen[net] {
		e.lastSeen[net] = t
	}
	e.seenMtx.Unlock()
}

// related maps each polled address to the account that owns it, and token
// wallet addresses to their token. Token wallets are resolved for this pass
// only.
type related struct {
	owner map[string]string
	token map[string]*db.TokenEntry
}

func (e *Engine) relatedAddresses(ctx context.Context, cl ledger.Client, net string, accts []*db.Account) *related {
	r := &related{
		owner: make(map[string]string),
		token: make(map[string]*db.TokenEntry),
	}
	for _, acct := range accts {
		r.owner[acct.Address] = acct.Address
		for _, tok := range acct.TokenList[net] {
			wallet := tok.WalletAddress
			if wallet == "" {
				var err error
				wallet, err = cl.TokenWallet(ctx, tok.Address, acct.Address)
				if err != nil {
					log.Debugf("No %s wallet for %s on %s: %v", tok.Symbol, acct.Address, net, err)
					continue
				}
			}
			r.owner[wallet] = acct.Address
			r.token[wallet] = tok
		}
	}
	return r
}

func (e *Engine) syncNetwork(ctx context.Context, net *db.Network, accts []*db.Account, full bool) error {
	cl, err := e.ledger(net)
	if err != nil {
		return fmt.Errorf("no ledger client: %w", err)
	}
	rel := e.relatedAddresses(ctx, cl, net.Server, accts)
	addrs := make([]string, 0, len(rel.owner))
	for addr := range rel.owner {
		addrs = append(addrs, addr)
	}
	since := e.since(net.Server, accts, full)
	txs, err := cl.Transactions(ctx, addrs, since)
	if err != nil {
		return err
	}

	byOwner := make(map[string][]*db.Transaction)
	var newest int64
	for _, tx := range txs {
		if tx.Now > newest {
			newest = tx.Now
		}
		owner, found := rel.owner[tx.AccountAddr]
		if !found {
			continue
		}
		var tt *ledger.TokenTransfer
		if tx.InMessage != nil && tx.InMessage.Body != "" {
			tt, err = cl.DecodeTokenTransfer(ctx, tx.InMessage.Body)
			if err != nil {
				log.Debugf("Error decoding message of %s: %v", tx.ID, err)
				tt = nil
			}
		}
		// Only token receipts are recorded from a token wallet.
		token := rel.token[tx.AccountAddr]
		if token != nil && (tt == nil || tt.Name != acceptTransfer) {
			continue
		}
		byOwner[owner] = append(byOwner[owner], convert(tx, tt, owner, net, token))
	}

	// A failed write holds the network cursor back so the next full pass
	// fetches the batch again.
	seen := newest
	for owner, recs := range byOwner {
		added, err := e.db.AddTransactions(owner, net.Server, recs)
		if err != nil {
			log.Errorf("Error recording transactions of %s on %s: %v", owner, net.Server, err)
			for _, rec := range recs {
				if rec.Now-1 < seen {
					seen = rec.Now - 1
				}
			}
			continue
		}
		if len(added) == 0 {
			continue
		}
		log.Infof("Recorded %d new transactions for %s on %s", len(added), owner, net.Server)
		e.emit(&AccountUpdated{Address: owner, Network: net.Server, New: added})
		for _, tx := range added {
			if tx.Type != db.TxIncoming && tx.Type != db.TxTokenIncoming {
				continue
			}
			e.emit(&DepositNote{
				Address:  owner,
				Network:  net.Server,
				TxID:     tx.ID,
				Type:     tx.Type,
				Amount:   tx.Amount,
				CoinName: tx.CoinName,
				Link:     net.TxLink(tx.ID),
			})
		}
	}
	if full {
		e.setLastSeen(net.Server, seen)
	}
	return nil
}

// UpdateAllBalances refreshes the native balances of every account on the
// network.
func (e *Engine) UpdateAllBalances(ctx context.Context, server string) error {
	net, err := e.db.Network(server)
	if err != nil {
		return err
	}
	accts, err := e.db.Accounts()
	if err != nil {
		return err
	}
	if len(accts) == 0 {
		return nil
	}
	cl, err := e.ledger(net)
	if err != nil {
		return err
	}
	addrs := make([]string, 0, len(accts))
	for _, acct := range accts {
		addrs = append(addrs, acct.Address)
	}
	bals, err := cl.Balances(ctx, addrs)
	if err != nil {
		return err
	}
	for addr, bal := range bals {
		if err := e.db.UpdateBalance(addr, server, bal); err != nil {
			return fmt.Errorf("error saving balance of %s: %w", addr, err)
		}
	}
	return nil
}

// UpdateTokenBalances refreshes the balances of every tracked token on the
// network. Token wallets that were not yet resolved are looked up and saved.
// Every token is attempted, and the first error is returned.
func (e *Engine) UpdateTokenBalances(ctx context.Context, server string) error {
	net, err := e.db.Network(server)
	if err != nil {
		return err
	}
	accts, err := e.db.Accounts()
	if err != nil {
		return err
	}
	cl, err := e.ledger(net)
	if err != nil {
		return err
	}
	var firstErr error
	setErr := func(err error) {
		log.Errorf("Error updating token balance: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, acct := range accts {
		for _, tok := range acct.TokenList[server] {
			if tok.WalletAddress == "" {
				wallet, err := cl.TokenWallet(ctx, tok.Address, acct.Address)
				if err != nil {
					setErr(fmt.Errorf("%s wallet of %s: %w", tok.Symbol, acct.Address, err))
					continue
				}
				t := *tok
				t.WalletAddress = wallet
				if err := e.db.AddToken(acct.Address, server, &t); err != nil {
					setErr(err)
					continue
				}
				tok = &t
			}
			bal, err := cl.TokenBalance(ctx, tok.WalletAddress)
			if err != nil {
				setErr(fmt.Errorf("%s balance of %s: %w", tok.Symbol, acct.Address, err))
				continue
			}
			if err := e.db.UpdateTokenBalance(acct.Address, server, tok.Address, bal); err != nil {
				setErr(err)
			}
		}
	}
	return firstErr
}

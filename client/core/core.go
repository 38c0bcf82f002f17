// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"decred.org/evervault/client/broker"
	"decred.org/evervault/client/db"
	"decred.org/evervault/client/db/bolt"
	"decred.org/evervault/client/ledger"
	"decred.org/evervault/client/ledger/graphql"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/client/txsync"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/wait"
)

const (
	// deployExpiration is how long a deployment is watched for confirmation.
	deployExpiration = 10 * time.Minute
	// ledgerTimeout bounds ledger requests made outside of a caller's
	// context.
	ledgerTimeout = 30 * time.Second
)

// multisigCodeHash is the decoded ledger.SafeMultisigCodeHash.
var multisigCodeHash, _ = hex.DecodeString(ledger.SafeMultisigCodeHash)

// Config is the configuration for the Core.
type Config struct {
	// DBPath is a filepath to use for the vault database. If the database
	// does not already exist, it will be created.
	DBPath string
	// LoggerMaker creates the loggers of the core and its subsystems.
	LoggerMaker *dex.LoggerMaker
	// TorProxy is an optional SOCKS5 proxy for ledger connections.
	TorProxy string
	// SyncInterval is the period of the transaction sync pass.
	SyncInterval time.Duration
	// ApprovalTimeout is how long a page request waits for the user.
	ApprovalTimeout time.Duration
	// ABI encodes contract messages. Contract calls fail without it.
	ABI ledger.ABI
	// Dialer creates ledger clients. The GraphQL client is used if nil.
	Dialer ledger.Dialer
}

// subscription is a page's ledger subscription.
type subscription struct {
	origin string
	server string
	handle uint32
}

// Core is the vault application. Core manages the vault database, the lock
// state, ledger connections, the sync engine and page requests.
type Core struct {
	wg      sync.WaitGroup
	cfg     *Config
	db      db.DB
	lock    *lock.Controller
	broker  *broker.Broker
	sync    *txsync.Engine
	tickers *wait.TaperingTickerQueue
	dial    ledger.Dialer
	ready   chan struct{}

	ledgerMtx sync.Mutex
	ledgers   map[string]ledger.Client

	selMtx  sync.RWMutex
	account string
	network string

	noteMtx   sync.RWMutex
	noteChans []chan Notification

	subMtx sync.Mutex
	subs   map[subKey]*subscription
	// links counts the open page links of each origin.
	links map[string]int
}

// New is the constructor for a new Core.
func New(cfg *Config) (*Core, error) {
	if cfg.LoggerMaker != nil {
		UseLoggerMaker(cfg.LoggerMaker)
	}
	dbLog := dex.Disabled
	if cfg.LoggerMaker != nil {
		dbLog = cfg.LoggerMaker.NewLogger("DB")
	}
	vault, err := bolt.NewDB(cfg.DBPath, dbLog)
	if err != nil {
		return nil, fmt.Errorf("database initialization error: %w", err)
	}
	errCloser := dex.NewErrorCloser()
	defer errCloser.Done(log)
	errCloser.Add("vault", func() error { return closeVault(vault) })

	dial := cfg.Dialer
	if dial == nil {
		dial = graphql.NewDialer(cfg.TorProxy, cfg.ABI)
	}

	c := &Core{
		cfg:     cfg,
		db:      vault,
		lock:    lock.New(vault),
		tickers: wait.NewTaperingTickerQueue(time.Second, 30*time.Second),
		dial:    dial,
		ready:   make(chan struct{}),
		ledgers: make(map[string]ledger.Client),
		subs:    make(map[subKey]*subscription),
		links:   make(map[string]int),
	}
	c.sync = txsync.New(&txsync.Config{
		DB:       vault,
		Ledger:   c.ledger,
		Interval: cfg.SyncInterval,
	})
	c.broker = broker.New(&broker.Config{
		Store:           vault,
		Approver:        c,
		Handler:         c,
		Lock:            c.lock,
		ApprovalTimeout: cfg.ApprovalTimeout,
	})

	if err = c.initSelection(); err != nil {
		return nil, err
	}
	errCloser.Success()
	log.Tracef("new vault core created")
	return c, nil
}

// closeVault closes a database that was never Run.
func closeVault(vault db.DB) error {
	if closer, ok := vault.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// initSelection selects the first network and the first account.
func (c *Core) initSelection() error {
	nets, err := c.db.Networks()
	if err != nil {
		return fmt.Errorf("error loading networks: %w", err)
	}
	accts, err := c.db.Accounts()
	if err != nil {
		return fmt.Errorf("error loading accounts: %w", err)
	}
	c.selMtx.Lock()
	defer c.selMtx.Unlock()
	if len(nets) > 0 {
		c.network = nets[0].Server
	}
	if len(accts) > 0 {
		c.account = accts[0].Address
	}
	return nil
}

// Run runs the core. Satisfies the dex.Runner interface.
func (c *Core) Run(ctx context.Context) {
	log.Infof("Started vault core")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.db.Run(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.tickers.Run(ctx)
	}()

	events, unsub := c.sync.Subscribe()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsub()
		c.relaySyncEvents(ctx, events)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sync.Run(ctx)
	}()

	close(c.ready)
	<-ctx.Done()
	c.broker.RejectAll()
	c.wg.Wait()
	c.closeLedgers()
	log.Infof("Vault core off")
}

// Ready is closed once Run has started every subsystem.
func (c *Core) Ready() <-chan struct{} {
	return c.ready
}

// relaySyncEvents converts sync engine events into notifications.
func (c *Core) relaySyncEvents(ctx context.Context, events <-chan txsync.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case *txsync.DepositNote:
				c.notify(newDepositNote(ev.Address, ev.Network, ev.TxID, ev.Amount, ev.CoinName, ev.Link))
			case *txsync.AccountUpdated:
				c.notify(newWalletUpdateNote(ev.Address, ev.Network))
			}
		case <-ctx.Done():
			return
		}
	}
}

// ledger gets the client for the network, connecting on first use.
func (c *Core) ledger(net *db.Network) (ledger.Client, error) {
	c.ledgerMtx.Lock()
	defer c.ledgerMtx.Unlock()
	if cl, found := c.ledgers[net.Server]; found {
		return cl, nil
	}
	cl, err := c.dial(net)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", net.Server, err)
	}
	c.ledgers[net.Server] = cl
	return cl, nil
}

// networkLedger gets the network and its client.
func (c *Core) networkLedger(server string) (*db.Network, ledger.Client, error) {
	net, err := c.db.Network(server)
	if err != nil {
		return nil, nil, codedError(networkErr, err)
	}
	cl, err := c.ledger(net)
	if err != nil {
		return nil, nil, codedError(ledgerErr, err)
	}
	return net, cl, nil
}

// dropLedger closes and forgets the network's client.
func (c *Core) dropLedger(server string) {
	c.ledgerMtx.Lock()
	cl, found := c.ledgers[server]
	delete(c.ledgers, server)
	c.ledgerMtx.Unlock()
	if found {
		cl.Close()
	}
}

func (c *Core) closeLedgers() {
	c.ledgerMtx.Lock()
	defer c.ledgerMtx.Unlock()
	for server, cl := range c.ledgers {
		cl.Close()
		delete(c.ledgers, server)
	}
}

// keyPairError codes a key retrieval error.
func keyPairError(err error) error {
	if errors.Is(err, lock.ErrWalletLocked) {
		return codedError(walletLockedErr, err)
	}
	return codedError(keyErr, err)
}

// Sync runs a sync pass for the accounts, or for every account if none are
// given.
func (c *Core) Sync(ctx context.Context, addrs ...string) {
	c.sync.Sync(ctx, addrs...)
}

// UpdateBalances refreshes the balances of every account on the network.
func (c *Core) UpdateBalances(ctx context.Context, server string) error {
	if err := c.sync.UpdateAllBalances(ctx, server); err != nil {
		return codedError(ledgerErr, err)
	}
	return nil
}

// Backup makes a copy of the vault database.
func (c *Core) Backup() error {
	if err := c.db.Backup(); err != nil {
		return codedError(dbErr, err)
	}
	return nil
}

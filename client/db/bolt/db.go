// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	dexdb "decred.org/evervault/client/db"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encode"
	"go.etcd.io/bbolt"
)

// Short names for some commonly used imported functions.
var (
	uint32Bytes = encode.Uint32Bytes
	bCopy       = encode.CopySlice
)

// Bolt works on []byte keys and values. These are some commonly used key and
// value encodings.
var (
	appBucket        = []byte("appBucket")
	masterKeysBucket = []byte("masterKeys")
	accountsBucket   = []byte("accounts")
	networksBucket   = []byte("networks")
	versionKey       = []byte("version")
	backupDir        = "backup"
)

// errStop is returned from an update function to abort the bbolt transaction
// without reporting an error to the caller.
var errStop = errors.New("stop")

// BoltDB is a bbolt-based database backend for the vault. BoltDB satisfies
// the db.DB interface defined at decred.org/evervault/client/db.
type BoltDB struct {
	*bbolt.DB
	log dex.Logger
}

// Check that BoltDB satisfies the db.DB interface.
var _ dexdb.DB = (*BoltDB)(nil)

// NewDB is a constructor for a *BoltDB. A new database file is created at the
// current DBVersion and seeded with the default networks. An existing file is
// upgraded to the current DBVersion.
func NewDB(dbPath string, logger dex.Logger) (dexdb.DB, error) {
	_, err := os.Stat(dbPath)
	isNew := os.IsNotExist(err)

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	bdb := &BoltDB{
		DB:  db,
		log: logger,
	}

	if isNew {
		if err = bdb.initialize(); err != nil {
			db.Close()
			return nil, fmt.Errorf("error initializing database: %w", err)
		}
		logger.Infof("Created new vault database at %s", dbPath)
	}

	if err = bdb.makeTopLevelBuckets([][]byte{appBucket, masterKeysBucket,
		accountsBucket, networksBucket}); err != nil {
		db.Close()
		return nil, err
	}

	if err = bdb.upgradeDB(); err != nil {
		db.Close()
		return nil, err
	}

	return bdb, nil
}

// initialize creates the buckets of a fresh database, records the current
// version and stores the default networks.
func (db *BoltDB) initialize() error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, bkt := range [][]byte{appBucket, masterKeysBucket, accountsBucket, networksBucket} {
			if _, err := tx.CreateBucketIfNotExists(bkt); err != nil {
				return err
			}
		}
		if err := setDBVersion(tx, DBVersion); err != nil {
			return err
		}
		nets := tx.Bucket(networksBucket)
		for _, n := range dexdb.DefaultNetworks() {
			b, err := n.Encode()
			if err != nil {
				return err
			}
			if err = nets.Put([]byte(n.Server), b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run waits for context cancellation and closes the database.
func (db *BoltDB) Run(ctx context.Context) {
	<-ctx.Done()
	err := db.Backup()
	if err != nil {
		db.log.Errorf("unable to backup database: %v", err)
	}
	db.Close()
}

// AddAccount saves the Account. If an account with the same address exists,
// ErrDuplicateAccount is returned and the stored account is not modified.
func (db *BoltDB) AddAccount(a *dexdb.Account) error {
	if a.Address == "" {
		return fmt.Errorf("empty address not allowed")
	}
	if len(a.Encrypted) == 0 {
		return fmt.Errorf("zero-length key material not allowed")
	}
	b, err := a.Encode()
	if err != nil {
		return err
	}
	k := []byte(a.Address)
	return db.acctsUpdate(func(accts *bbolt.Bucket) error {
		if accts.Get(k) != nil {
			return dex.NewError(dexdb.ErrDuplicateAccount, a.Address)
		}
		return accts.Put(k, b)
	})
}

// Account gets the Account with the address.
func (db *BoltDB) Account(addr string) (*dexdb.Account, error) {
	var acct *dexdb.Account
	err := db.acctsView(func(accts *bbolt.Bucket) error {
		var err error
		acct, err = getAccount(accts, addr)
		return err
	})
	return acct, err
}

func getAccount(accts *bbolt.Bucket, addr string) (*dexdb.Account, error) {
	b := accts.Get([]byte(addr))
	if b == nil {
		return nil, dex.NewError(dexdb.ErrAccountNotFound, addr)
	}
	return dexdb.DecodeAccount(bCopy(b))
}

// Accounts returns all stored accounts, oldest first.
func (db *BoltDB) Accounts() ([]*dexdb.Account, error) {
	accounts := make([]*dexdb.Account, 0)
	err := db.acctsView(func(accts *bbolt.Bucket) error {
		return accts.ForEach(func(k, v []byte) error {
			acct, err := dexdb.DecodeAccount(bCopy(v))
			if err != nil {
				return fmt.Errorf("error decoding account %s: %w", string(k), err)
			}
			accounts = append(accounts, acct)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].CreatedDate < accounts[j].CreatedDate
	})
	return accounts, nil
}

// AccountCount is the number of stored accounts.
func (db *BoltDB) AccountCount() (int, error) {
	var n int
	err := db.acctsView(func(accts *bbolt.Bucket) error {
		n = accts.Stats().KeyN
		return nil
	})
	return n, err
}

// RemoveAccount deletes the account. Removing an account that does not exist
// is not an error.
func (db *BoltDB) RemoveAccount(addr string) (bool, error) {
	var existed bool
	k := []byte(addr)
	err := db.acctsUpdate(func(accts *bbolt.Bucket) error {
		existed = accts.Get(k) != nil
		if !existed {
			return nil
		}
		return accts.Delete(k)
	})
	return existed, err
}

// UpdateAccount loads the account, applies f and stores the result, all in a
// single read-write transaction.
func (db *BoltDB) UpdateAccount(addr string, f func(*dexdb.Account) error) (*dexdb.Account, error) {
	var acct *dexdb.Account
	err := db.acctsUpdate(func(accts *bbolt.Bucket) error {
		a, err := getAccount(accts, addr)
		if err != nil {
			return err
		}
		if err = f(a); err != nil {
			return err
		}
		a.UpdatedDate = time.Now().Unix()
		b, err := a.Encode()
		if err != nil {
			return err
		}
		if err = accts.Put([]byte(addr), b); err != nil {
			return err
		}
		acct = a
		return nil
	})
	return acct, err
}

// accountUpdate is UpdateAccount for mutations that don't return the account.
func (db *BoltDB) accountUpdate(addr string, f func(*dexdb.Account) error) error {
	_, err := db.UpdateAccount(addr, f)
	return err
}

// UpdateNickname sets the account nickname.
func (db *BoltDB) UpdateNickname(addr, nickname string) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		a.Nickname = nickname
		return nil
	})
}

// UpdateBalance sets the account's balance on the network.
func (db *BoltDB) UpdateBalance(addr, net string, balance uint64) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		a.Balance[net] = balance
		return nil
	})
}

// MarkDeployed adds the network to the account's deployed set.
func (db *BoltDB) MarkDeployed(addr, net string) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		if !a.IsDeployed(net) {
			a.Deployed = append(a.Deployed, net)
		}
		return nil
	})
}

// AddTransactions records the transactions that are not already stored for
// the account on the network. The newly added transactions are returned. If
// there are none, the stored record is not rewritten.
func (db *BoltDB) AddTransactions(addr, net string, txs []*dexdb.Transaction) ([]*dexdb.Transaction, error) {
	added := make([]*dexdb.Transaction, 0, len(txs))
	_, err := db.UpdateAccount(addr, func(a *dexdb.Account) error {
		stored := a.Transactions[net]
		if stored == nil {
			stored = make(map[string]*dexdb.Transaction, len(txs))
			a.Transactions[net] = stored
		}
		for _, tx := range txs {
			if _, found := stored[tx.ID]; found {
				continue
			}
			stored[tx.ID] = tx
			added = append(added, tx)
		}
		if len(added) == 0 {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return added, nil
}

// Transactions retrieves a page of the account's transactions on the network,
// newest first.
func (db *BoltDB) Transactions(addr, net string, pageSize, page int) ([]*dexdb.Transaction, error) {
	acct, err := db.Account(addr)
	if err != nil {
		return nil, err
	}
	return dexdb.Page(acct.SortedTransactions(net), pageSize, page), nil
}

// AddToken adds or replaces the token entry with the same root address.
func (db *BoltDB) AddToken(addr, net string, token *dexdb.TokenEntry) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		if t := a.Token(net, token.Address); t != nil {
			*t = *token
			return nil
		}
		a.TokenList[net] = append(a.TokenList[net], token)
		return nil
	})
}

// RemoveToken removes the token with the root address.
func (db *BoltDB) RemoveToken(addr, net, root string) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		tokens := a.TokenList[net]
		for i, t := range tokens {
			if t.Address == root {
				a.TokenList[net] = append(tokens[:i:i], tokens[i+1:]...)
				break
			}
		}
		return nil
	})
}

// UpdateTokenBalance sets the cached balance of a tracked token.
func (db *BoltDB) UpdateTokenBalance(addr, net, root, balance string) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		t := a.Token(net, root)
		if t == nil {
			return fmt.Errorf("token %s not tracked on %s", root, net)
		}
		t.Balance = balance
		return nil
	})
}

// AddContact adds a contact address for the network.
func (db *BoltDB) AddContact(addr, net, contact string) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		a.ContactList[net] = addUnique(a.ContactList[net], contact)
		return nil
	})
}

// RemoveContact removes a contact address from the network.
func (db *BoltDB) RemoveContact(addr, net, contact string) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		a.ContactList[net] = removeString(a.ContactList[net], contact)
		return nil
	})
}

// AddContract adds a contract address for the network.
func (db *BoltDB) AddContract(addr, net, contract string) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		a.ContractList[net] = addUnique(a.ContractList[net], contract)
		return nil
	})
}

// RemoveContract removes a contract address from the network.
func (db *BoltDB) RemoveContract(addr, net, contract string) error {
	return db.accountUpdate(addr, func(a *dexdb.Account) error {
		a.ContractList[net] = removeString(a.ContractList[net], contract)
		return nil
	})
}

// Permissions are the methods granted to the origin for the account.
func (db *BoltDB) Permissions(addr, origin string) ([]string, error) {
	acct, err := db.Account(addr)
	if err != nil {
		return nil, err
	}
	perms := acct.Permissions[origin]
	if perms == nil {
		perms = []string{}
	}
	return perms, nil
}

// SavePermissions adds the methods to the origin's grant set and returns the
// resulting set.
func (db *BoltDB) SavePermissions(addr, origin string, methods []string) ([]string, error) {
	acct, err := db.UpdateAccount(addr, func(a *dexdb.Account) error {
		perms := a.Permissions[origin]
		for _, m := range methods {
			perms = addUnique(perms, m)
		}
		if perms == nil {
			perms = []string{}
		}
		a.Permissions[origin] = perms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct.Permissions[origin], nil
}

// CheckPermission checks whether the method is granted to the origin.
func (db *BoltDB) CheckPermission(addr, origin, method string) (bool, error) {
	perms, err := db.Permissions(addr, origin)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == method {
			return true, nil
		}
	}
	return false, nil
}

// acctsView is a convenience function for reading from the account bucket.
func (db *BoltDB) acctsView(f bucketFunc) error {
	return db.withBucket(accountsBucket, db.View, f)
}

// acctsUpdate is a convenience function for updating the account bucket.
func (db *BoltDB) acctsUpdate(f bucketFunc) error {
	return db.withBucket(accountsBucket, db.Update, f)
}

// AddNetwork saves a new network. ErrDuplicateNetwork is returned if a
// network with the same server exists.
func (db *BoltDB) AddNetwork(n *dexdb.Network) error {
	if n.Server == "" {
		return fmt.Errorf("empty server not allowed")
	}
	b, err := n.Encode()
	if err != nil {
		return err
	}
	k := []byte(n.Server)
	return db.netsUpdate(func(nets *bbolt.Bucket) error {
		if nets.Get(k) != nil {
			return dex.NewError(dexdb.ErrDuplicateNetwork, n.Server)
		}
		return nets.Put(k, b)
	})
}

// RemoveNetwork deletes a custom network.
func (db *BoltDB) RemoveNetwork(server string) error {
	k := []byte(server)
	return db.netsUpdate(func(nets *bbolt.Bucket) error {
		b := nets.Get(k)
		if b == nil {
			return dex.NewError(dexdb.ErrNetworkNotFound, server)
		}
		n, err := dexdb.DecodeNetwork(bCopy(b))
		if err != nil {
			return err
		}
		if !n.Custom {
			return dex.NewError(dexdb.ErrNetworkNotCustom, server)
		}
		return nets.Delete(k)
	})
}

// Network retrieves the network with the server.
func (db *BoltDB) Network(server string) (*dexdb.Network, error) {
	var n *dexdb.Network
	err := db.netsView(func(nets *bbolt.Bucket) error {
		b := nets.Get([]byte(server))
		if b == nil {
			return dex.NewError(dexdb.ErrNetworkNotFound, server)
		}
		var err error
		n, err = dexdb.DecodeNetwork(bCopy(b))
		return err
	})
	return n, err
}

// Networks retrieves all networks, ordered by id.
func (db *BoltDB) Networks() ([]*dexdb.Network, error) {
	nets := make([]*dexdb.Network, 0)
	err := db.netsView(func(bkt *bbolt.Bucket) error {
		return bkt.ForEach(func(k, v []byte) error {
			n, err := dexdb.DecodeNetwork(bCopy(v))
			if err != nil {
				return fmt.Errorf("error decoding network %s: %w", string(k), err)
			}
			nets = append(nets, n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(nets, func(i, j int) bool {
		return nets[i].ID < nets[j].ID
	})
	return nets, nil
}

func (db *BoltDB) netsView(f bucketFunc) error {
	return db.withBucket(networksBucket, db.View, f)
}

func (db *BoltDB) netsUpdate(f bucketFunc) error {
	return db.withBucket(networksBucket, db.Update, f)
}

// MasterKey retrieves the master key record with the id.
func (db *BoltDB) MasterKey(id uint32) (*dexdb.MasterKey, error) {
	var k *dexdb.MasterKey
	err := db.withBucket(masterKeysBucket, db.View, func(keys *bbolt.Bucket) error {
		b := keys.Get(uint32Bytes(id))
		if b == nil {
			return dex.NewError(dexdb.ErrNoMasterKey, fmt.Sprintf("id %d", id))
		}
		var err error
		k, err = dexdb.DecodeMasterKey(bCopy(b))
		return err
	})
	return k, err
}

// SetMasterKey stores the master key record.
func (db *BoltDB) SetMasterKey(k *dexdb.MasterKey) error {
	return db.withBucket(masterKeysBucket, db.Update, func(keys *bbolt.Bucket) error {
		return keys.Put(uint32Bytes(k.ID), k.Encode())
	})
}

// DeleteMasterKey deletes the master key record with the id.
func (db *BoltDB) DeleteMasterKey(id uint32) error {
	return db.withBucket(masterKeysBucket, db.Update, func(keys *bbolt.Bucket) error {
		return keys.Delete(uint32Bytes(id))
	})
}

// txFunc is a function that runs a bbolt transaction, e.g. db.View or
// db.Update.
type txFunc func(func(*bbolt.Tx) error) error

// bucketFunc is a function that operates on a bucket.
type bucketFunc func(*bbolt.Bucket) error

// makeTopLevelBuckets creates a top-level bucket for each of the provided keys,
// if the bucket doesn't already exist.
func (db *BoltDB) makeTopLevelBuckets(buckets [][]byte) error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// withBucket creates a view into a top-level bucket. The viewer can be
// read-only (db.View), or read-write (db.Update). The provided bucketFunc will
// be called with the requested bucket as its only argument.
func (db *BoltDB) withBucket(bkt []byte, viewer txFunc, f bucketFunc) error {
	return viewer(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bkt)
		if bucket == nil {
			return fmt.Errorf("failed to open %s bucket", string(bkt))
		}
		return f(bucket)
	})
}

// Backup makes a copy of the database.
func (db *BoltDB) Backup() error {
	dir := filepath.Join(filepath.Dir(db.Path()), backupDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err := os.Mkdir(dir, 0700)
		if err != nil {
			return fmt.Errorf("unable to create backup directory: %w", err)
		}
	}

	path := filepath.Join(dir, filepath.Base(db.Path()))
	return db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
}

func addUnique(list []string, s string) []string {
	for _, e := range list {
		if e == s {
			return list
		}
	}
	return append(list, s)
}

func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		if e != s {
			out = append(out, e)
		}
	}
	return out
}

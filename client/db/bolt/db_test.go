// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	dexdb "decred.org/evervault/client/db"
	dbtest "decred.org/evervault/client/db/test"
	"decred.org/evervault/dex"
	"go.etcd.io/bbolt"
)

var (
	tDir     string
	tCounter int
	tLogger  = dex.StdOutLogger("db_TEST", dex.LevelTrace)
)

func newTestDB(t *testing.T) *BoltDB {
	t.Helper()
	tCounter++
	dbPath := filepath.Join(tDir, fmt.Sprintf("db%d.db", tCounter))
	dbi, err := NewDB(dbPath, tLogger)
	if err != nil {
		t.Fatalf("error creating dB: %v", err)
	}
	db, ok := dbi.(*BoltDB)
	if !ok {
		t.Fatalf("DB is not a *BoltDB")
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMain(m *testing.M) {
	doIt := func() int {
		var err error
		tDir, err = os.MkdirTemp("", "dbtest")
		if err != nil {
			fmt.Println("error creating temporary directory:", err)
			return -1
		}
		defer os.RemoveAll(tDir)
		return m.Run()
	}
	os.Exit(doIt())
}

func TestNewDBDefaults(t *testing.T) {
	db := newTestDB(t)
	nets, err := db.Networks()
	if err != nil {
		t.Fatalf("Networks error: %v", err)
	}
	defaults := dexdb.DefaultNetworks()
	if len(nets) != len(defaults) {
		t.Fatalf("expected %d networks, got %d", len(defaults), len(nets))
	}
	for i := range nets {
		dbtest.MustCompareNetworks(t, nets[i], defaults[i])
	}
	err = db.View(func(tx *bbolt.Tx) error {
		v, err := fetchDBVersion(tx)
		if err != nil {
			return err
		}
		if v != DBVersion {
			return fmt.Errorf("wrong version %d", v)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// Reopening doesn't reseed or upgrade.
	path := db.Path()
	db.Close()
	dbi, err := NewDB(path, tLogger)
	if err != nil {
		t.Fatalf("error reopening: %v", err)
	}
	defer dbi.(*BoltDB).Close()
	nets, _ = dbi.Networks()
	if len(nets) != len(defaults) {
		t.Fatalf("expected %d networks after reopen, got %d", len(defaults), len(nets))
	}
}

func TestAccounts(t *testing.T) {
	db := newTestDB(t)
	if n, _ := db.AccountCount(); n != 0 {
		t.Fatalf("unexpected non-empty accounts in fresh DB")
	}

	const numToDo = 50
	accts := make([]*dexdb.Account, 0, numToDo)
	for i := 0; i < numToDo; i++ {
		a := dbtest.RandomAccount()
		a.CreatedDate += int64(i)
		accts = append(accts, a)
		if err := db.AddAccount(a); err != nil {
			t.Fatalf("AddAccount error: %v", err)
		}
	}
	for _, a := range accts {
		reA, err := db.Account(a.Address)
		if err != nil {
			t.Fatalf("error fetching account: %v", err)
		}
		dbtest.MustCompareAccounts(t, a, reA)
	}

	all, err := db.Accounts()
	if err != nil {
		t.Fatalf("Accounts error: %v", err)
	}
	if len(all) != numToDo {
		t.Fatalf("expected %d accounts, got %d", numToDo, len(all))
	}
	for i := range all {
		if all[i].Address != accts[i].Address {
			t.Fatalf("accounts out of order at %d", i)
		}
	}

	// Duplicate address, even with different content, is rejected and the
	// stored record is kept.
	dupe := dbtest.RandomAccount()
	dupe.Address = accts[0].Address
	err = db.AddAccount(dupe)
	if !errors.Is(err, dexdb.ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
	reA, _ := db.Account(accts[0].Address)
	dbtest.MustCompareAccounts(t, accts[0], reA)
	if n, _ := db.AccountCount(); n != numToDo {
		t.Fatalf("count changed to %d", n)
	}

	if _, err = db.Account("0:nope"); !errors.Is(err, dexdb.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	existed, err := db.RemoveAccount(accts[1].Address)
	if err != nil || !existed {
		t.Fatalf("RemoveAccount = %t, %v", existed, err)
	}
	existed, err = db.RemoveAccount(accts[1].Address)
	if err != nil || existed {
		t.Fatalf("second RemoveAccount = %t, %v", existed, err)
	}
}

func TestAccountMutations(t *testing.T) {
	db := newTestDB(t)
	a := dbtest.RandomAccount()
	if err := db.AddAccount(a); err != nil {
		t.Fatalf("AddAccount error: %v", err)
	}
	addr := a.Address
	net := dexdb.DevNet

	mustOK := func(tag string, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s error: %v", tag, err)
		}
	}
	mustOK("UpdateNickname", db.UpdateNickname(addr, "savings"))
	mustOK("UpdateBalance", db.UpdateBalance(addr, net, 12345))
	mustOK("MarkDeployed", db.MarkDeployed(addr, net))
	mustOK("MarkDeployed", db.MarkDeployed(addr, net))
	tkn := dbtest.RandomToken()
	mustOK("AddToken", db.AddToken(addr, net, tkn))
	mustOK("UpdateTokenBalance", db.UpdateTokenBalance(addr, net, tkn.Address, "77"))
	mustOK("AddContact", db.AddContact(addr, net, "0:c1"))
	mustOK("AddContact", db.AddContact(addr, net, "0:c1"))
	mustOK("AddContact", db.AddContact(addr, net, "0:c2"))
	mustOK("RemoveContact", db.RemoveContact(addr, net, "0:c1"))
	mustOK("AddContract", db.AddContract(addr, net, "0:k1"))

	reA, err := db.Account(addr)
	mustOK("Account", err)
	if reA.Nickname != "savings" {
		t.Fatalf("wrong nickname %q", reA.Nickname)
	}
	if reA.Balance[net] != 12345 || reA.Balance[dexdb.MainNet] != a.Balance[dexdb.MainNet] {
		t.Fatalf("wrong balances %v", reA.Balance)
	}
	if len(reA.Deployed) != 1 || !reA.IsDeployed(net) {
		t.Fatalf("wrong deployed set %v", reA.Deployed)
	}
	if tk := reA.Token(net, tkn.Address); tk == nil || tk.Balance != "77" {
		t.Fatalf("wrong token %+v", tk)
	}
	if len(reA.ContactList[net]) != 1 || reA.ContactList[net][0] != "0:c2" {
		t.Fatalf("wrong contacts %v", reA.ContactList[net])
	}
	if len(reA.ContractList[net]) != 1 {
		t.Fatalf("wrong contracts %v", reA.ContractList[net])
	}

	mustOK("RemoveToken", db.RemoveToken(addr, net, tkn.Address))
	reA, _ = db.Account(addr)
	if len(reA.TokenList[net]) != 0 {
		t.Fatalf("token not removed")
	}
	if err = db.UpdateTokenBalance(addr, net, tkn.Address, "1"); err == nil {
		t.Fatalf("no error updating untracked token")
	}
	if err = db.UpdateBalance("0:nope", net, 1); !errors.Is(err, dexdb.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	// Writers touching different fields of the same record never lose each
	// other's changes.
	db := newTestDB(t)
	a := dbtest.RandomAccount()
	db.AddAccount(a)
	var wg sync.WaitGroup
	const n = 20
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			db.AddContact(a.Address, dexdb.MainNet, fmt.Sprintf("0:%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			db.AddTransactions(a.Address, dexdb.MainNet, dbtest.RandomTransactions(a.Address, 1, int64(i)))
		}(i)
	}
	wg.Wait()
	reA, _ := db.Account(a.Address)
	if len(reA.ContactList[dexdb.MainNet]) != n {
		t.Fatalf("expected %d contacts, got %d", n, len(reA.ContactList[dexdb.MainNet]))
	}
	if len(reA.Transactions[dexdb.MainNet]) != n {
		t.Fatalf("expected %d transactions, got %d", n, len(reA.Transactions[dexdb.MainNet]))
	}
}

func TestTransactions(t *testing.T) {
	db := newTestDB(t)
	a := dbtest.RandomAccount()
	db.AddAccount(a)
	net := dexdb.MainNet

	txs := dbtest.RandomTransactions(a.Address, 20, 1000)
	added, err := db.AddTransactions(a.Address, net, txs)
	if err != nil {
		t.Fatalf("AddTransactions error: %v", err)
	}
	if len(added) != 20 {
		t.Fatalf("expected 20 added, got %d", len(added))
	}

	// Re-adding is a no-op.
	added, err = db.AddTransactions(a.Address, net, txs[:5])
	if err != nil {
		t.Fatalf("AddTransactions error: %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("expected no duplicates added, got %d", len(added))
	}

	page1, err := db.Transactions(a.Address, net, 15, 1)
	if err != nil {
		t.Fatalf("Transactions error: %v", err)
	}
	if len(page1) != 15 {
		t.Fatalf("expected 15 on page 1, got %d", len(page1))
	}
	for i := 1; i < len(page1); i++ {
		if page1[i].Now > page1[i-1].Now {
			t.Fatalf("page 1 not sorted newest first")
		}
	}
	if page1[0].Now != 1019 {
		t.Fatalf("expected newest first, got %d", page1[0].Now)
	}
	page2, _ := db.Transactions(a.Address, net, 15, 2)
	if len(page2) != 5 || page2[4].Now != 1000 {
		t.Fatalf("wrong page 2: %d transactions", len(page2))
	}
	page3, _ := db.Transactions(a.Address, net, 15, 3)
	if len(page3) != 0 {
		t.Fatalf("expected empty page 3, got %d", len(page3))
	}
}

func TestPermissions(t *testing.T) {
	db := newTestDB(t)
	a := dbtest.RandomAccount()
	db.AddAccount(a)
	const origin = "https://dapp.example"

	perms, err := db.Permissions(a.Address, origin)
	if err != nil || len(perms) != 0 {
		t.Fatalf("fresh permissions = %v, %v", perms, err)
	}
	perms, err = db.SavePermissions(a.Address, origin, []string{"ever_account", "ever_signMessage"})
	if err != nil || len(perms) != 2 {
		t.Fatalf("SavePermissions = %v, %v", perms, err)
	}
	perms, _ = db.SavePermissions(a.Address, origin, []string{"ever_account", "ever_endpoint"})
	if len(perms) != 3 {
		t.Fatalf("expected union of 3, got %v", perms)
	}
	if ok, _ := db.CheckPermission(a.Address, origin, "ever_endpoint"); !ok {
		t.Fatalf("granted method not permitted")
	}
	if ok, _ := db.CheckPermission(a.Address, "https://other.example", "ever_endpoint"); ok {
		t.Fatalf("method permitted for other origin")
	}
}

func TestNetworks(t *testing.T) {
	db := newTestDB(t)
	custom := &dexdb.Network{ID: 4, Server: "my.node", Name: "Mine", Endpoints: []string{"my.node"}, Custom: true}
	if err := db.AddNetwork(custom); err != nil {
		t.Fatalf("AddNetwork error: %v", err)
	}
	if err := db.AddNetwork(custom); !errors.Is(err, dexdb.ErrDuplicateNetwork) {
		t.Fatalf("expected ErrDuplicateNetwork, got %v", err)
	}
	if err := db.RemoveNetwork(dexdb.MainNet); !errors.Is(err, dexdb.ErrNetworkNotCustom) {
		t.Fatalf("expected ErrNetworkNotCustom, got %v", err)
	}
	n, err := db.Network("my.node")
	if err != nil {
		t.Fatalf("Network error: %v", err)
	}
	dbtest.MustCompareNetworks(t, custom, n)
	if err = db.RemoveNetwork("my.node"); err != nil {
		t.Fatalf("RemoveNetwork error: %v", err)
	}
	if _, err = db.Network("my.node"); !errors.Is(err, dexdb.ErrNetworkNotFound) {
		t.Fatalf("expected ErrNetworkNotFound, got %v", err)
	}
}

func TestMasterKeys(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.MasterKey(dexdb.PasswordKeyID); !errors.Is(err, dexdb.ErrNoMasterKey) {
		t.Fatalf("expected ErrNoMasterKey, got %v", err)
	}
	k := &dexdb.MasterKey{ID: dexdb.PasswordKeyID, Key: "k", Encrypted: []byte{1, 2}}
	if err := db.SetMasterKey(k); err != nil {
		t.Fatalf("SetMasterKey error: %v", err)
	}
	reK, err := db.MasterKey(dexdb.PasswordKeyID)
	if err != nil || reK.Key != "k" {
		t.Fatalf("MasterKey = %+v, %v", reK, err)
	}
	if err = db.DeleteMasterKey(dexdb.PasswordKeyID); err != nil {
		t.Fatalf("DeleteMasterKey error: %v", err)
	}
	if err = db.DeleteMasterKey(dexdb.PasswordKeyID); err != nil {
		t.Fatalf("second DeleteMasterKey error: %v", err)
	}
}

func TestRunBackup(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		db.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	backup := filepath.Join(filepath.Dir(db.Path()), backupDir, filepath.Base(db.Path()))
	if !dex.FileExists(backup) {
		t.Fatalf("no backup at %s", backup)
	}
}

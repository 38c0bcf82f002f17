// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/client/ledger"
	ledgertest "decred.org/evervault/client/ledger/test"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
)

var (
	tCtx context.Context
	tPW  = []byte("correct horse")
)

func TestMain(m *testing.M) {
	log = dex.StdOutLogger("TEST", dex.LevelTrace)
	var shutdown context.CancelFunc
	tCtx, shutdown = context.WithCancel(context.Background())
	doIt := func() int {
		defer shutdown()
		return m.Run()
	}
	os.Exit(doIt())
}

// closeDB closes the vault of a Core that was never Run.
func (c *Core) closeDB() {
	closeVault(c.db)
}

type testRig struct {
	core    *Core
	ledgers map[string]*ledgertest.TLedger
	feed    <-chan Notification
}

// newTestRig creates a Core with a fresh vault and a TLedger for every
// default network.
func newTestRig(t *testing.T) *testRig {
	t.Helper()
	ledgers := make(map[string]*ledgertest.TLedger)
	for _, n := range db.DefaultNetworks() {
		ledgers[n.Server] = ledgertest.New()
	}
	var mtx sync.Mutex
	dial := func(n *db.Network) (ledger.Client, error) {
		mtx.Lock()
		defer mtx.Unlock()
		l, found := ledgers[n.Server]
		if !found {
			l = ledgertest.New()
			ledgers[n.Server] = l
		}
		return l, nil
	}
	c, err := New(&Config{
		DBPath:          filepath.Join(t.TempDir(), "vault.db"),
		Dialer:          dial,
		ApprovalTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(c.closeDB)
	return &testRig{
		core:    c,
		ledgers: ledgers,
		feed:    c.NotificationFeed(),
	}
}

// run runs the Core until the test ends.
func (rig *testRig) run(t *testing.T) {
	ctx, cancel := context.WithCancel(tCtx)
	done := make(chan struct{})
	go func() {
		rig.core.Run(ctx)
		close(done)
	}()
	<-rig.core.Ready()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (rig *testRig) ledgerCalls() int {
	var n int
	for _, l := range rig.ledgers {
		n += l.LedgerCalls()
	}
	return n
}

// waitNote waits for a notification of the type, skipping others.
func (rig *testRig) waitNote(t *testing.T, noteType string) Notification {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-rig.feed:
			if n.Type() == noteType {
				return n
			}
		case <-timeout:
			t.Fatalf("no %s notification", noteType)
			return nil
		}
	}
}

func (rig *testRig) unlockedWithAccount(t *testing.T) *db.Account {
	t.Helper()
	if err := rig.core.InitializeClient(tPW); err != nil {
		t.Fatalf("InitializeClient error: %v", err)
	}
	_, acct, err := rig.core.CreateAccount(tCtx, "A")
	if err != nil {
		t.Fatalf("CreateAccount error: %v", err)
	}
	return acct
}

func TestLoginLogout(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core

	st, _ := c.State()
	if st != lock.Uninitialized {
		t.Fatalf("new vault state %s", st)
	}
	if err := c.InitializeClient(tPW); err != nil {
		t.Fatalf("InitializeClient error: %v", err)
	}
	if err := c.InitializeClient(tPW); !errorHasCode(err, passwordErr) || !errors.Is(err, lock.ErrAlreadyInitialized) {
		t.Fatalf("wrong error for second password: %v", err)
	}
	note := rig.waitNote(t, NoteTypeUnlockState).(*UnlockStateNote)
	if note.State.IsLocked {
		t.Fatalf("locked after initialization")
	}

	c.Logout()
	note = rig.waitNote(t, NoteTypeUnlockState).(*UnlockStateNote)
	if !note.State.IsLocked || note.State.Account != nil {
		t.Fatalf("wrong lock note %+v", note.State)
	}
	if !c.IsLocked() {
		t.Fatalf("not locked")
	}
	if c.Login(&lock.Credential{Type: lock.CredPassword, Value: []byte("wrong")}) {
		t.Fatalf("logged in with wrong password")
	}
	if !c.Login(&lock.Credential{Type: lock.CredPassword, Value: tPW}) {
		t.Fatalf("login failed")
	}
	if !c.CheckPassword(tPW) || c.CheckPassword([]byte("wrong")) {
		t.Fatalf("CheckPassword mismatch")
	}

	if err := c.SetPincode([]byte("1234")); err != nil {
		t.Fatalf("SetPincode error: %v", err)
	}
	c.Logout()
	if !c.Login(&lock.Credential{Type: lock.CredPincode, Value: []byte("1234")}) {
		t.Fatalf("PIN login failed")
	}
	if err := c.DisablePincode(); err != nil {
		t.Fatalf("DisablePincode error: %v", err)
	}
	if c.PinEnabled() {
		t.Fatalf("PIN still enabled")
	}
}

func TestAccounts(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	if err := c.InitializeClient(tPW); err != nil {
		t.Fatalf("InitializeClient error: %v", err)
	}

	phrase, a, err := c.CreateAccount(tCtx, "A")
	if err != nil {
		t.Fatalf("CreateAccount error: %v", err)
	}
	if len(strings.Fields(phrase)) != 12 {
		t.Fatalf("expected 12 word phrase, got %q", phrase)
	}
	if !strings.HasPrefix(a.Address, "0:") || a.Encrypted != nil || a.Nickname != "A" {
		t.Fatalf("bad account %+v", a)
	}
	if c.SelectedAccount() != a.Address {
		t.Fatalf("first account not selected")
	}
	if n := rig.waitNote(t, NoteTypeAccount).(*AccountChangedNote); n.Address != a.Address {
		t.Fatalf("wrong account note %s", n.Address)
	}

	_, err = c.ImportAccount(tCtx, "again", phrase)
	if !errors.Is(err, db.ErrDuplicateAccount) || !errorHasCode(err, accountErr) {
		t.Fatalf("wrong error for duplicate import: %v", err)
	}
	if _, err = c.ImportAccount(tCtx, "bad", "not a seed phrase"); !errorHasCode(err, keyErr) {
		t.Fatalf("wrong error for bad phrase: %v", err)
	}

	kp := keys.Generate()
	b, err := c.ImportKeys(tCtx, "", kp.Secret)
	if err != nil {
		t.Fatalf("ImportKeys error: %v", err)
	}
	wantAddr, _ := keys.Address(multisigCodeHash, kp.Public)
	if b.Address != wantAddr || b.PublicKey != kp.Public || b.Nickname == "" {
		t.Fatalf("bad imported account %+v", b)
	}

	accts, err := c.Accounts()
	if err != nil {
		t.Fatalf("Accounts error: %v", err)
	}
	if len(accts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accts))
	}
	for _, acct := range accts {
		if acct.Encrypted != nil {
			t.Fatalf("key material returned for %s", acct.Address)
		}
	}

	if err = c.UpdateNickname(b.Address, "B"); err != nil {
		t.Fatalf("UpdateNickname error: %v", err)
	}
	if got, _ := c.Account(b.Address); got.Nickname != "B" {
		t.Fatalf("nickname not updated")
	}

	if err = c.DeleteAccount(a.Address, []byte("wrong")); !errorHasCode(err, passwordErr) {
		t.Fatalf("wrong error for bad password: %v", err)
	}
	if err = c.DeleteAccount(a.Address, tPW); err != nil {
		t.Fatalf("DeleteAccount error: %v", err)
	}
	if c.SelectedAccount() != b.Address {
		t.Fatalf("selection not moved after delete")
	}
	if err = c.DeleteAccount(a.Address, tPW); !errors.Is(err, db.ErrAccountNotFound) {
		t.Fatalf("wrong error deleting twice: %v", err)
	}

	// The seed phrase restores the same account.
	restored, err := c.ImportAccount(tCtx, "A", phrase)
	if err != nil {
		t.Fatalf("ImportAccount error: %v", err)
	}
	if restored.Address != a.Address {
		t.Fatalf("restored %s, want %s", restored.Address, a.Address)
	}

	c.Logout()
	if _, _, err = c.CreateAccount(tCtx, "locked"); !errorHasCode(err, walletLockedErr) {
		t.Fatalf("wrong error creating account while locked: %v", err)
	}
}

func TestImportDeployStatus(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	if err := c.InitializeClient(tPW); err != nil {
		t.Fatalf("InitializeClient error: %v", err)
	}
	kp := keys.Generate()
	addr, _ := keys.Address(multisigCodeHash, kp.Public)
	rig.ledgers[db.DevNet].States[addr] = &ledger.AccountState{ID: addr, AccType: ledger.AccTypeActive}

	if _, err := c.ImportKeys(tCtx, "dev", kp.Secret); err != nil {
		t.Fatalf("ImportKeys error: %v", err)
	}
	acct, _ := c.Account(addr)
	if !acct.IsDeployed(db.DevNet) || acct.IsDeployed(db.MainNet) {
		t.Fatalf("wrong deployed set %v", acct.Deployed)
	}
}

func TestNetworks(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	if c.SelectedNetwork() != db.MainNet {
		t.Fatalf("default network %s", c.SelectedNetwork())
	}

	custom := &db.Network{Server: "custom.example", CoinName: "TST"}
	if err := c.AddNetwork(custom); err != nil {
		t.Fatalf("AddNetwork error: %v", err)
	}
	if err := c.AddNetwork(&db.Network{Server: "custom.example"}); !errors.Is(err, db.ErrDuplicateNetwork) {
		t.Fatalf("wrong error for duplicate network: %v", err)
	}
	nets, _ := c.Networks()
	if len(nets) != 4 {
		t.Fatalf("expected 4 networks, got %d", len(nets))
	}
	last := nets[len(nets)-1]
	if !last.Custom || last.Name != "custom.example" || len(last.Endpoints) != 1 {
		t.Fatalf("bad custom network %+v", last)
	}

	if err := c.SelectNetwork("custom.example"); err != nil {
		t.Fatalf("SelectNetwork error: %v", err)
	}
	if n := rig.waitNote(t, NoteTypeEndpoint).(*EndpointChangedNote); n.Server != "custom.example" {
		t.Fatalf("wrong endpoint note %s", n.Server)
	}
	if err := c.SelectNetwork("unknown"); !errors.Is(err, db.ErrNetworkNotFound) {
		t.Fatalf("wrong error selecting unknown network: %v", err)
	}

	if err := c.RemoveNetwork(db.MainNet); !errors.Is(err, db.ErrNetworkNotCustom) {
		t.Fatalf("wrong error removing built-in network: %v", err)
	}
	if err := c.RemoveNetwork("custom.example"); err != nil {
		t.Fatalf("RemoveNetwork error: %v", err)
	}
	if c.SelectedNetwork() != db.MainNet {
		t.Fatalf("selection not reset, got %s", c.SelectedNetwork())
	}
}

func TestSendFlow(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	a := rig.unlockedWithAccount(t)
	_, b, err := c.CreateAccount(tCtx, "B")
	if err != nil {
		t.Fatalf("CreateAccount error: %v", err)
	}
	tl := rig.ledgers[db.MainNet]
	tl.States[b.Address] = &ledger.AccountState{ID: b.Address, AccType: ledger.AccTypeActive}
	tl.RunTx = &ledger.Transaction{ID: "tx1", AccountAddr: a.Address, Now: 500, BalanceDelta: "-1000000010", TotalFees: "10"}
	tl.Bals[a.Address] = 99

	res, err := c.Send(tCtx, a.Address, db.MainNet, &SendParams{
		Destination: b.Address,
		Amount:      1_000_000_000,
		Message:     "rent",
	})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if res.ID != "tx1" || !strings.Contains(res.Reason, b.Address) {
		t.Fatalf("bad result %+v", res)
	}
	call := tl.Runs[0]
	if call.Function != "submitTransaction" || call.Comment != "rent" || call.Input["bounce"] != true {
		t.Fatalf("bad call %+v", call)
	}

	txs, _ := c.Transactions(a.Address, db.MainNet, 20, 1)
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	tx := txs[0]
	if tx.Type != db.TxTransfer || tx.Amount != "-1000000010" || tx.Fees != "10" || tx.CoinName != "EVER" {
		t.Fatalf("bad transaction %+v", tx)
	}
	if tx.Parameters["initFunctionName"] != "submitTransaction" {
		t.Fatalf("bad parameters %+v", tx.Parameters)
	}
	acct, _ := c.Account(a.Address)
	if acct.Balance[db.MainNet] != 99 {
		t.Fatalf("balance not updated")
	}

	// Whole balance uses sendTransaction with flags.
	if _, err = c.Send(tCtx, a.Address, db.MainNet, &SendParams{Destination: "0:00", AllBalance: true}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	call = tl.Runs[1]
	if call.Function != "sendTransaction" || call.Input["flags"] != allBalanceFlags || call.Input["bounce"] != false {
		t.Fatalf("bad whole-balance call %+v", call)
	}

	tl.RunErr = errors.New("insufficient funds")
	if _, err = c.Send(tCtx, a.Address, db.MainNet, &SendParams{Destination: b.Address, Amount: 1}); !errorHasCode(err, sendErr) {
		t.Fatalf("wrong error for failed send: %v", err)
	}
	if _, err = c.Send(tCtx, a.Address, db.MainNet, &SendParams{Destination: b.Address}); !errorHasCode(err, paramsErr) {
		t.Fatalf("wrong error for zero amount: %v", err)
	}

	fee, err := c.EstimateFee(tCtx, a.Address, db.MainNet, &SendParams{Destination: b.Address, Amount: 5})
	if err != nil || fee != "1000" {
		t.Fatalf("EstimateFee = %s, %v", fee, err)
	}

	c.Logout()
	if _, err = c.Send(tCtx, a.Address, db.MainNet, &SendParams{Destination: b.Address, Amount: 1}); !errorHasCode(err, walletLockedErr) {
		t.Fatalf("wrong error sending while locked: %v", err)
	}
}

func TestDeploy(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	a := rig.unlockedWithAccount(t)
	rig.run(t)

	tl := rig.ledgers[db.MainNet]
	tl.States[a.Address] = &ledger.AccountState{ID: a.Address, AccType: ledger.AccTypeActive}
	already, err := c.Deploy(tCtx, a.Address, db.MainNet)
	if err != nil || already {
		t.Fatalf("Deploy = %t, %v", already, err)
	}
	d := tl.Deploys[0]
	owners := d.Input["owners"].([]string)
	if d.Contract != ledger.SafeMultisigWallet || owners[0] != "0x"+a.PublicKey {
		t.Fatalf("bad deploy %+v", d)
	}
	note := rig.waitNote(t, NoteTypeDeploy)
	if note.Severity() != Success {
		t.Fatalf("deploy not confirmed: %s", note.Details())
	}
	if acct, _ := c.Account(a.Address); !acct.IsDeployed(db.MainNet) {
		t.Fatalf("not marked deployed")
	}

	dev := rig.ledgers[db.DevNet]
	dev.DeployErr = dex.NewError(ledger.ErrAlreadyDeployed, "exit code 51")
	already, err = c.Deploy(tCtx, a.Address, db.DevNet)
	if err != nil || !already {
		t.Fatalf("Deploy of deployed contract = %t, %v", already, err)
	}
	if acct, _ := c.Account(a.Address); !acct.IsDeployed(db.DevNet) {
		t.Fatalf("already deployed contract not marked deployed")
	}

	dev.DeployErr = errors.New("no funds")
	if _, err = c.Deploy(tCtx, a.Address, db.DevNet); !errorHasCode(err, deployErr) {
		t.Fatalf("wrong deploy error: %v", err)
	}
}

func TestTakeFromGiver(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	a := rig.unlockedWithAccount(t)

	if err := c.TakeFromGiver(tCtx, a.Address, db.MainNet); !errorHasCode(err, giverErr) {
		t.Fatalf("wrong error for network without giver: %v", err)
	}
	if err := c.TakeFromGiver(tCtx, a.Address, db.LocalNet); err != nil {
		t.Fatalf("TakeFromGiver error: %v", err)
	}
	local, _ := c.db.Network(db.LocalNet)
	call := rig.ledgers[db.LocalNet].Runs[0]
	if call.Address != local.Giver || call.Contract != ledger.GiverV2 || call.Keys != giverKeys {
		t.Fatalf("bad giver call %+v", call)
	}
	if call.Input["dest"] != a.Address || call.Input["value"] != giverValue || call.Input["bounce"] != false {
		t.Fatalf("bad giver input %+v", call.Input)
	}
}

func TestTokens(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	a := rig.unlockedWithAccount(t)
	tl := rig.ledgers[db.DevNet]
	const root, wallet = "0:root", "0:wallet"
	tl.Tokens[root] = &ledger.TokenInfo{Name: "Tether", Symbol: "USDT", Decimals: 6}
	tl.Wallets[[2]string{root, a.Address}] = wallet
	tl.TokenBals[wallet] = "42"

	entry, err := c.AddToken(tCtx, a.Address, db.DevNet, root)
	if err != nil {
		t.Fatalf("AddToken error: %v", err)
	}
	if entry.Symbol != "USDT" || entry.WalletAddress != wallet || entry.Balance != "42" {
		t.Fatalf("bad token entry %+v", entry)
	}
	if _, err = c.AddToken(tCtx, a.Address, db.DevNet, "0:unknown"); !errorHasCode(err, tokenErr) {
		t.Fatalf("wrong error for unknown token: %v", err)
	}

	tl.TokenBals[wallet] = "50"
	if err = c.UpdateTokenBalances(tCtx, db.DevNet); err != nil {
		t.Fatalf("UpdateTokenBalances error: %v", err)
	}
	acct, _ := c.Account(a.Address)
	if tok := acct.Token(db.DevNet, root); tok == nil || tok.Balance != "50" {
		t.Fatalf("token balance not updated: %+v", tok)
	}

	if err = c.RemoveToken(a.Address, db.DevNet, root); err != nil {
		t.Fatalf("RemoveToken error: %v", err)
	}
	acct, _ = c.Account(a.Address)
	if acct.Token(db.DevNet, root) != nil {
		t.Fatalf("token not removed")
	}

	if err = c.AddContact(a.Address, db.DevNet, "0:friend"); err != nil {
		t.Fatalf("AddContact error: %v", err)
	}
	if err = c.AddContract(a.Address, db.DevNet, "0:dapp"); err != nil {
		t.Fatalf("AddContract error: %v", err)
	}
	acct, _ = c.Account(a.Address)
	if len(acct.ContactList[db.DevNet]) != 1 || len(acct.ContractList[db.DevNet]) != 1 {
		t.Fatalf("lists not saved")
	}
	if err = c.RemoveContact(a.Address, db.DevNet, "0:friend"); err != nil {
		t.Fatalf("RemoveContact error: %v", err)
	}
	if err = c.RemoveContract(a.Address, db.DevNet, "0:dapp"); err != nil {
		t.Fatalf("RemoveContract error: %v", err)
	}
}

func TestTransferToken(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	a := rig.unlockedWithAccount(t)
	tl := rig.ledgers[db.DevNet]
	const root, wallet = "0:root", "0:wallet"
	tl.Tokens[root] = &ledger.TokenInfo{Name: "Tether", Symbol: "USDT", Decimals: 6}
	tl.Wallets[[2]string{root, a.Address}] = wallet
	tl.TokenBals[wallet] = "100"
	if _, err := c.AddToken(tCtx, a.Address, db.DevNet, root); err != nil {
		t.Fatalf("AddToken error: %v", err)
	}
	tl.RunTx = &ledger.Transaction{ID: "ttx", AccountAddr: a.Address, Now: 700, TotalFees: "30"}
	tl.TokenBals[wallet] = "75"

	p := &TokenSendParams{Root: root, Destination: "0:friend", Amount: "25", Message: "gift"}
	res, err := c.TransferToken(tCtx, a.Address, db.DevNet, p)
	if err != nil {
		t.Fatalf("TransferToken error: %v", err)
	}
	if res.ID != "ttx" {
		t.Fatalf("bad result %+v", res)
	}
	call := tl.Runs[len(tl.Runs)-1]
	if call.Function != "sendTransaction" || call.Input["dest"] != wallet || call.Input["value"] != 2*deployWalletValue {
		t.Fatalf("bad wallet call %+v", call)
	}
	body := call.Payload
	if body == nil || body.Contract != ledger.TokenWallet || body.Function != "transfer" || body.Comment != "gift" ||
		body.Input["recipient"] != "0:friend" || body.Input["deployWalletValue"] != deployWalletValue {
		t.Fatalf("bad transfer payload %+v", body)
	}

	txs, _ := c.Transactions(a.Address, db.DevNet, 20, 1)
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	tx := txs[0]
	if tx.Type != db.TxTokenTransfer || tx.Amount != "25" || tx.CoinName != "USDT" ||
		tx.ContractName != ledger.TokenWallet || tx.Fees != "30" || tx.Parameters["initFunctionName"] != "transfer" {
		t.Fatalf("bad token transfer record %+v", tx)
	}
	acct, _ := c.Account(a.Address)
	if tok := acct.Token(db.DevNet, root); tok.Balance != "75" {
		t.Fatalf("token balance not refreshed: %s", tok.Balance)
	}

	fee, err := c.EstimateTokenFee(tCtx, a.Address, db.DevNet, p)
	if err != nil || fee != "1000" {
		t.Fatalf("EstimateTokenFee = %s, %v", fee, err)
	}

	tests := []struct {
		name string
		p    *TokenSendParams
		code int
	}{
		{"untracked token", &TokenSendParams{Root: "0:other", Destination: "0:friend", Amount: "1"}, tokenErr},
		{"negative amount", &TokenSendParams{Root: root, Destination: "0:friend", Amount: "-1"}, paramsErr},
		{"non-numeric amount", &TokenSendParams{Root: root, Destination: "0:friend", Amount: "1.5"}, paramsErr},
		{"no destination", &TokenSendParams{Root: root, Amount: "1"}, paramsErr},
	}
	for _, tt := range tests {
		if _, err = c.TransferToken(tCtx, a.Address, db.DevNet, tt.p); !errorHasCode(err, tt.code) {
			t.Fatalf("%s: wrong error %v", tt.name, err)
		}
	}

	c.Logout()
	if _, err = c.TransferToken(tCtx, a.Address, db.DevNet, p); !errorHasCode(err, walletLockedErr) {
		t.Fatalf("wrong error transferring while locked: %v", err)
	}
}

func TestExportImportAccounts(t *testing.T) {
	rig := newTestRig(t)
	c := rig.core
	a := rig.unlockedWithAccount(t)

	if _, err := c.ExportKeys(a.Address, []byte("wrong")); !errorHasCode(err, passwordErr) {
		t.Fatalf("wrong error for bad password: %v", err)
	}
	kp, err := c.ExportKeys(a.Address, tPW)
	if err != nil {
		t.Fatalf("ExportKeys error: %v", err)
	}
	if addr, _ := keys.Address(multisigCodeHash, kp.Public); addr != a.Address {
		t.Fatalf("exported keys belong to %s, not %s", addr, a.Address)
	}
	if _, err = c.ExportKeys("0:nobody", tPW); !errorHasCode(err, accountErr) {
		t.Fatalf("wrong error for unknown account: %v", err)
	}
	exported, err := c.ExportAccounts(tPW)
	if err != nil {
		t.Fatalf("ExportAccounts error: %v", err)
	}
	if len(exported) != 1 || exported[0].Nickname != "A" || exported[0].KeyPair.Secret != kp.Secret {
		t.Fatalf("bad export %+v", exported)
	}

	rig2 := newTestRig(t)
	c2 := rig2.core
	if err = c2.InitializeClient([]byte("other password")); err != nil {
		t.Fatalf("InitializeClient error: %v", err)
	}
	// A mismatched entry rejects the whole batch.
	bad := []*ExportedAccount{exported[0], {Address: "0:bad", KeyPair: keys.Generate()}}
	if _, err = c2.ImportAccounts(tCtx, bad); !errorHasCode(err, keyErr) {
		t.Fatalf("wrong error for mismatched address: %v", err)
	}
	if n, _ := c2.Accounts(); len(n) != 0 {
		t.Fatalf("accounts stored from a rejected batch")
	}
	forged := []*ExportedAccount{{KeyPair: &keys.KeyPair{Public: keys.Generate().Public, Secret: kp.Secret}}}
	if _, err = c2.ImportAccounts(tCtx, forged); !errorHasCode(err, keyErr) {
		t.Fatalf("wrong error for mismatched public key: %v", err)
	}

	added, err := c2.ImportAccounts(tCtx, exported)
	if err != nil {
		t.Fatalf("ImportAccounts error: %v", err)
	}
	if len(added) != 1 || added[0].Address != a.Address || added[0].Nickname != "A" || added[0].Encrypted != nil {
		t.Fatalf("bad imported accounts %+v", added)
	}
	if c2.SelectedAccount() != a.Address {
		t.Fatalf("imported account not selected")
	}
	if _, err = c2.ImportAccounts(tCtx, exported); !errors.Is(err, db.ErrDuplicateAccount) {
		t.Fatalf("wrong error for duplicate import: %v", err)
	}
	if _, err = c2.ImportAccounts(tCtx, nil); !errorHasCode(err, paramsErr) {
		t.Fatalf("wrong error for empty import: %v", err)
	}

	c.Logout()
	if _, err = c.ExportKeys(a.Address, tPW); !errorHasCode(err, walletLockedErr) {
		t.Fatalf("wrong error exporting while locked: %v", err)
	}
}

func TestRelaySyncEvents(t *testing.T) {
	rig := newTestRig(t)
	a := rig.unlockedWithAccount(t)
	rig.ledgers[db.MainNet].AddTx(&ledger.Transaction{
		ID:           "in1",
		AccountAddr:  a.Address,
		Now:          100,
		InMessage:    &ledger.Message{ID: "m1"},
		BalanceDelta: "5000",
		TotalFees:    "1",
	})
	rig.run(t)

	note := rig.waitNote(t, NoteTypeDeposit).(*DepositNote)
	if note.TxID != "in1" || note.Address != a.Address || !strings.HasSuffix(note.Link, "in1") {
		t.Fatalf("bad deposit note %+v", note)
	}
}

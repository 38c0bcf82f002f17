// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package dbtest provides random vault records and comparison helpers for
// tests of db.DB implementations and their consumers.
package dbtest

import (
	"encoding/hex"
	"math/rand"
	"reflect"
	"strconv"
	"testing"

	"decred.org/evervault/client/db"
)

func randBytes(l int) []byte {
	b := make([]byte, l)
	rand.Read(b)
	return b
}

// RandomAddress creates a random workchain-0 account address.
func RandomAddress() string {
	return "0:" + hex.EncodeToString(randBytes(32))
}

// RandomTxID creates a random transaction id.
func RandomTxID() string {
	return hex.EncodeToString(randBytes(32))
}

// RandomAccount creates an Account with random key material and a balance
// and token on the main network.
func RandomAccount() *db.Account {
	a := db.NewAccount(RandomAddress(), "acct-"+strconv.Itoa(rand.Intn(1000)),
		hex.EncodeToString(randBytes(32)), randBytes(120))
	a.Balance[db.MainNet] = uint64(rand.Int63n(1e12))
	a.TokenList[db.MainNet] = []*db.TokenEntry{RandomToken()}
	return a
}

// RandomToken creates a TokenEntry with a random root address.
func RandomToken() *db.TokenEntry {
	return &db.TokenEntry{
		Address:  RandomAddress(),
		Symbol:   "TKN",
		Name:     "Token",
		Decimals: 9,
		Balance:  strconv.FormatInt(rand.Int63n(1e9), 10),
	}
}

// RandomTransaction creates a transaction for the account at the time now.
func RandomTransaction(addr string, now int64) *db.Transaction {
	return &db.Transaction{
		ID:           RandomTxID(),
		AccountAddr:  addr,
		Now:          now,
		Type:         db.TxIncoming,
		Amount:       strconv.FormatInt(rand.Int63n(1e9), 10),
		CoinName:     "EVER",
		ContractName: "SafeMultisigWallet",
	}
}

// RandomTransactions creates n transactions for the account with timestamps
// start, start+1, ... in shuffled order.
func RandomTransactions(addr string, n int, start int64) []*db.Transaction {
	txs := make([]*db.Transaction, 0, n)
	for i := 0; i < n; i++ {
		txs = append(txs, RandomTransaction(addr, start+int64(i)))
	}
	rand.Shuffle(len(txs), func(i, j int) { txs[i], txs[j] = txs[j], txs[i] })
	return txs
}

// MustCompareAccounts ensures the two accounts are identical, calling Fatalf
// if not.
func MustCompareAccounts(t testing.TB, a1, a2 *db.Account) {
	t.Helper()
	if !reflect.DeepEqual(a1, a2) {
		t.Fatalf("accounts not equal:\n%+v\n%+v", a1, a2)
	}
}

// MustCompareNetworks ensures the two networks are identical, calling Fatalf
// if not.
func MustCompareNetworks(t testing.TB, n1, n2 *db.Network) {
	t.Helper()
	if !reflect.DeepEqual(n1, n2) {
		t.Fatalf("networks not equal:\n%+v\n%+v", n1, n2)
	}
}

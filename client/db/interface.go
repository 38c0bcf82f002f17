// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"decred.org/evervault/dex"
)

// DB is an interface that must be satisfied by the vault's persistent storage
// manager. Every account mutation is an atomic read-modify-write of the full
// account record.
type DB interface {
	dex.Runner
	// AddAccount stores a new account. ErrDuplicateAccount is returned if an
	// account with the same address exists, and the stored record is left
	// unchanged.
	AddAccount(a *Account) error
	// Account retrieves the account with the address.
	Account(addr string) (*Account, error)
	// Accounts retrieves all accounts, ordered by creation date.
	Accounts() ([]*Account, error)
	// AccountCount is the number of stored accounts.
	AccountCount() (int, error)
	// RemoveAccount deletes the account, returning whether it existed.
	RemoveAccount(addr string) (bool, error)
	// UpdateAccount applies f to the current stored record and writes the
	// result back in the same transaction. If f returns an error, nothing is
	// written.
	UpdateAccount(addr string, f func(*Account) error) (*Account, error)
	// UpdateNickname sets the account nickname.
	UpdateNickname(addr, nickname string) error
	// UpdateBalance sets the account's balance on the network.
	UpdateBalance(addr, net string, balance uint64) error
	// MarkDeployed adds the network to the account's deployed set.
	MarkDeployed(addr, net string) error
	// AddTransactions records transactions for the account on the network,
	// skipping any whose id is already stored. The newly stored transactions
	// are returned.
	AddTransactions(addr, net string, txs []*Transaction) ([]*Transaction, error)
	// Transactions retrieves a page of the account's transactions on the
	// network, sorted by time, newest first. Pages are 1-indexed.
	Transactions(addr, net string, pageSize, page int) ([]*Transaction, error)
	// AddToken adds a token entry for the network, replacing any entry with
	// the same root address.
	AddToken(addr, net string, token *TokenEntry) error
	// RemoveToken removes the token with the root address from the network.
	RemoveToken(addr, net, root string) error
	// UpdateTokenBalance sets the cached balance of a tracked token.
	UpdateTokenBalance(addr, net, root, balance string) error
	// AddContact adds a contact address for the network.
	AddContact(addr, net, contact string) error
	// RemoveContact removes a contact address from the network.
	RemoveContact(addr, net, contact string) error
	// AddContract adds a contract address for the network.
	AddContract(addr, net, contract string) error
	// RemoveContract removes a contract address from the network.
	RemoveContract(addr, net, contract string) error
	// Permissions are the methods granted to the origin for the account.
	Permissions(addr, origin string) ([]string, error)
	// SavePermissions unions the methods into the origin's grant set and
	// returns the resulting set.
	SavePermissions(addr, origin string, methods []string) ([]string, error)
	// CheckPermission checks whether the method is granted to the origin.
	CheckPermission(addr, origin, method string) (bool, error)

	// AddNetwork stores a new network. ErrDuplicateNetwork is returned if the
	// server already exists.
	AddNetwork(n *Network) error
	// RemoveNetwork deletes a custom network. Built-in networks cannot be
	// removed.
	RemoveNetwork(server string) error
	// Network retrieves the network by its server.
	Network(server string) (*Network, error)
	// Networks retrieves all networks, ordered by id.
	Networks() ([]*Network, error)

	// MasterKey retrieves the master key record with the id. ErrNoMasterKey
	// is returned if it does not exist.
	MasterKey(id uint32) (*MasterKey, error)
	// SetMasterKey stores the master key record, replacing any existing record
	// with the same id.
	SetMasterKey(k *MasterKey) error
	// DeleteMasterKey deletes the master key record. Deleting a missing record
	// is not an error.
	DeleteMasterKey(id uint32) error

	// Backup makes a copy of the database.
	Backup() error
}

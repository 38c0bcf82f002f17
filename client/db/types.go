// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"decred.org/evervault/dex/encode"
)

// Transaction types.
const (
	TxDeploy        = "deploy"
	TxIncoming      = "incoming"
	TxTransfer      = "transfer"
	TxTokenIncoming = "tokenIncoming"
	TxTokenTransfer = "tokenTransfer"
	TxError         = "error"
)

// Master key ids.
const (
	PasswordKeyID uint32 = 1
	PincodeKeyID  uint32 = 2
)

// Transaction is an on-chain transaction recorded for an account on one
// network.
type Transaction struct {
	ID            string         `json:"id"`
	AccountAddr   string         `json:"account_addr"`
	Now           int64          `json:"now"`
	Type          string         `json:"type"`
	Amount        string         `json:"amount"`
	CoinName      string         `json:"coinName"`
	ContractName  string         `json:"contractName"`
	Fees          string         `json:"fees,omitempty"`
	DetectedToken *TokenEntry    `json:"detectedToken,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// TokenEntry is a fungible token tracked by an account.
type TokenEntry struct {
	// Address is the token root address.
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	Icon     string `json:"icon,omitempty"`
	Balance  string `json:"balance"`
	// WalletAddress is the owner's token wallet for this root, once known.
	WalletAddress string `json:"walletAddress,omitempty"`
}

// Account is a wallet account. Address is the primary key. Encrypted is the
// sealed key pair and must never leave the vault or the lock controller.
type Account struct {
	Address      string                             `json:"address"`
	Nickname     string                             `json:"nickname"`
	PublicKey    string                             `json:"publicKey"`
	Balance      map[string]uint64                  `json:"balance"`
	Transactions map[string]map[string]*Transaction `json:"transactions"`
	ContactList  map[string][]string                `json:"contactList"`
	ContractList map[string][]string                `json:"contractList"`
	TokenList    map[string][]*TokenEntry           `json:"tokenList"`
	Deployed     []string                           `json:"deployed"`
	Permissions  map[string][]string                `json:"permissions"`
	Encrypted    []byte                             `json:"encrypted,omitempty"`
	CreatedDate  int64                              `json:"createdDate"`
	UpdatedDate  int64                              `json:"updatedDate"`
}

// NewAccount creates an Account with every collection initialized.
func NewAccount(addr, nickname, pubKey string, encrypted []byte) *Account {
	now := time.Now().Unix()
	a := &Account{
		Address:     addr,
		Nickname:    nickname,
		PublicKey:   pubKey,
		Encrypted:   encrypted,
		CreatedDate: now,
		UpdatedDate: now,
	}
	a.init()
	return a
}

// init replaces nil collections with empty ones so that no field is ever
// absent.
func (a *Account) init() {
	if a.Balance == nil {
		a.Balance = make(map[string]uint64)
	}
	if a.Transactions == nil {
		a.Transactions = make(map[string]map[string]*Transaction)
	}
	if a.ContactList == nil {
		a.ContactList = make(map[string][]string)
	}
	if a.ContractList == nil {
		a.ContractList = make(map[string][]string)
	}
	if a.TokenList == nil {
		a.TokenList = make(map[string][]*TokenEntry)
	}
	if a.Deployed == nil {
		a.Deployed = []string{}
	}
	if a.Permissions == nil {
		a.Permissions = make(map[string][]string)
	}
}

// Encode encodes the Account as a versioned blob.
func (a *Account) Encode() ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return encode.BuildyBytes{0}.AddData(b), nil
}

// DecodeAccount decodes the versioned blob into an *Account.
func DecodeAccount(b []byte) (*Account, error) {
	ver, pushes, err := encode.DecodeBlob(b)
	if err != nil {
		return nil, err
	}
	switch ver {
	case 0:
		if len(pushes) != 1 {
			return nil, fmt.Errorf("DecodeAccount: expected 1 push, got %d", len(pushes))
		}
		a := new(Account)
		if err := json.Unmarshal(pushes[0], a); err != nil {
			return nil, fmt.Errorf("DecodeAccount: %w", err)
		}
		a.init()
		return a, nil
	}
	return nil, fmt.Errorf("unknown Account version %d", ver)
}

// Sanitized returns a shallow copy of the Account with the key material
// removed.
func (a *Account) Sanitized() *Account {
	c := *a
	c.Encrypted = nil
	return &c
}

// IsDeployed checks whether the account contract is deployed on the network.
func (a *Account) IsDeployed(net string) bool {
	for _, n := range a.Deployed {
		if n == net {
			return true
		}
	}
	return false
}

// Token finds the account's token entry for the token root on the network.
func (a *Account) Token(net, root string) *TokenEntry {
	for _, t := range a.TokenList[net] {
		if t.Address == root {
			return t
		}
	}
	return nil
}

// SortedTransactions returns the account's transactions on the network,
// ordered by Now descending. Transactions with the same timestamp are ordered
// by id.
func (a *Account) SortedTransactions(net string) []*Transaction {
	txs := make([]*Transaction, 0, len(a.Transactions[net]))
	for _, tx := range a.Transactions[net] {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Now != txs[j].Now {
			return txs[i].Now > txs[j].Now
		}
		return txs[i].ID < txs[j].ID
	})
	return txs
}

// Page returns the page'th slice of length pageSize from txs. Pages are
// 1-indexed. An out-of-range page yields an empty slice.
func Page(txs []*Transaction, pageSize, page int) []*Transaction {
	if pageSize <= 0 || page < 1 {
		return []*Transaction{}
	}
	if len(txs) == 0 || page-1 > (len(txs)-1)/pageSize {
		return []*Transaction{}
	}
	start := (page - 1) * pageSize
	end := len(txs)
	if pageSize < end-start {
		end = start + pageSize
	}
	return txs[start:end]
}

// Network is a ledger network the wallet can connect to. Server is the
// primary key.
type Network struct {
	ID        uint32   `json:"id"`
	Server    string   `json:"server"`
	Name      string   `json:"name"`
	Explorer  string   `json:"explorer"`
	Endpoints []string `json:"endpoints"`
	CoinName  string   `json:"coinName"`
	Giver     string   `json:"giver"`
	Test      bool     `json:"test"`
	Custom    bool     `json:"custom"`
}

// Encode encodes the Network as a versioned blob.
func (n *Network) Encode() ([]byte, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return encode.BuildyBytes{0}.AddData(b), nil
}

// DecodeNetwork decodes the versioned blob into a *Network.
func DecodeNetwork(b []byte) (*Network, error) {
	ver, pushes, err := encode.DecodeBlob(b)
	if err != nil {
		return nil, err
	}
	switch ver {
	case 0:
		if len(pushes) != 1 {
			return nil, fmt.Errorf("DecodeNetwork: expected 1 push, got %d", len(pushes))
		}
		n := new(Network)
		if err := json.Unmarshal(pushes[0], n); err != nil {
			return nil, fmt.Errorf("DecodeNetwork: %w", err)
		}
		if n.Endpoints == nil {
			n.Endpoints = []string{}
		}
		return n, nil
	}
	return nil, fmt.Errorf("unknown Network version %d", ver)
}

// TxLink is the explorer deep link for the transaction.
func (n *Network) TxLink(txID string) string {
	return n.Explorer + "/transactions/transactionDetails?id=" + txID
}

// MasterKey is a random secret sealed with a password (id 1) or a PIN (id 2).
// Successfully opening Encrypted and finding Key inside proves the password or
// PIN.
type MasterKey struct {
	ID        uint32
	Key       string
	Encrypted []byte
}

// Encode encodes the MasterKey as a versioned blob.
func (k *MasterKey) Encode() []byte {
	return encode.BuildyBytes{0}.
		AddData(encode.Uint32Bytes(k.ID)).
		AddData([]byte(k.Key)).
		AddData(k.Encrypted)
}

// DecodeMasterKey decodes the versioned blob into a *MasterKey.
func DecodeMasterKey(b []byte) (*MasterKey, error) {
	ver, pushes, err := encode.DecodeBlob(b)
	if err != nil {
		return nil, err
	}
	switch ver {
	case 0:
		if len(pushes) != 3 {
			return nil, fmt.Errorf("DecodeMasterKey: expected 3 pushes, got %d", len(pushes))
		}
		if len(pushes[0]) != 4 {
			return nil, fmt.Errorf("DecodeMasterKey: bad id length %d", len(pushes[0]))
		}
		return &MasterKey{
			ID:        encode.BytesToUint32(pushes[0]),
			Key:       string(pushes[1]),
			Encrypted: pushes[2],
		}, nil
	}
	return nil, fmt.Errorf("unknown MasterKey version %d", ver)
}

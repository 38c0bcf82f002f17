// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"context"
	"errors"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/client/ledger"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex/encode"
)

// CreateAccount creates an account from a new seed phrase. The phrase is
// returned for the user to write down. It is not stored.
func (c *Core) CreateAccount(ctx context.Context, nickname string) (string, *db.Account, error) {
	phrase, err := keys.NewMnemonic()
	if err != nil {
		return "", nil, codedError(keyErr, err)
	}
	kp, err := keys.FromMnemonic(phrase)
	if err != nil {
		return "", nil, codedError(keyErr, err)
	}
	acct, err := c.addAccount(ctx, nickname, kp)
	if err != nil {
		return "", nil, err
	}
	return phrase, acct, nil
}

// ImportAccount restores the account of a seed phrase.
func (c *Core) ImportAccount(ctx context.Context, nickname, phrase string) (*db.Account, error) {
	kp, err := keys.FromMnemonic(phrase)
	if err != nil {
		return nil, codedError(keyErr, err)
	}
	return c.addAccount(ctx, nickname, kp)
}

// ImportKeys restores the account of a hex-encoded secret key.
func (c *Core) ImportKeys(ctx context.Context, nickname, secret string) (*db.Account, error) {
	kp, err := keys.FromSecret(secret)
	if err != nil {
		return nil, codedError(keyErr, err)
	}
	return c.addAccount(ctx, nickname, kp)
}

// addAccount stores the account of the key pair, checks its deploy status on
// every network and schedules a sync of its history.
func (c *Core) addAccount(ctx context.Context, nickname string, kp *keys.KeyPair) (*db.Account, error) {
	addr, err := keys.Address(multisigCodeHash, kp.Public)
	if err != nil {
		return nil, codedError(keyErr, err)
	}
	enc, err := c.lock.SealKeyPair(kp)
	if err != nil {
		return nil, keyPairError(err)
	}
	if nickname == "" {
		nickname = addr[:8]
	}
	acct := db.NewAccount(addr, nickname, kp.Public, enc)
	if err = c.db.AddAccount(acct); err != nil {
		return nil, codedError(accountErr, err)
	}
	log.Infof("Added account %s (%s)", nickname, addr)

	c.checkDeployStatus(ctx, addr)
	c.sync.Trigger(addr)

	c.selMtx.Lock()
	first := c.account == ""
	if first {
		c.account = addr
	}
	c.selMtx.Unlock()
	if first {
		c.notify(newAccountChangedNote(addr))
	}
	return acct.Sanitized(), nil
}

// checkDeployStatus marks the account deployed on every network where its
// contract is active. Unreachable networks are skipped.
func (c *Core) checkDeployStatus(ctx context.Context, addr string) {
	nets, err := c.db.Networks()
	if err != nil {
		log.Errorf("Error loading networks: %v", err)
		return
	}
	for _, net := range nets {
		cl, err := c.ledger(net)
		if err != nil {
			log.Warnf("Deploy status of %s unknown on %s: %v", addr, net.Server, err)
			continue
		}
		st, err := cl.AccountState(ctx, addr)
		if err != nil {
			log.Warnf("Deploy status of %s unknown on %s: %v", addr, net.Server, err)
			continue
		}
		if st == nil || st.AccType != ledger.AccTypeActive {
			continue
		}
		if err = c.db.MarkDeployed(addr, net.Server); err != nil {
			log.Errorf("Error marking %s deployed on %s: %v", addr, net.Server, err)
		}
	}
}

// Accounts are the vault's accounts, without key material.
func (c *Core) Accounts() ([]*db.Account, error) {
	accts, err := c.db.Accounts()
	if err != nil {
		return nil, codedError(dbErr, err)
	}
	for i, a := range accts {
		accts[i] = a.Sanitized()
	}
	return accts, nil
}

// Account is the account with the address, without key material.
func (c *Core) Account(addr string) (*db.Account, error) {
	acct, err := c.db.Account(addr)
	if err != nil {
		return nil, codedError(accountErr, err)
	}
	return acct.Sanitized(), nil
}

// DeleteAccount removes an account. The password must match the session
// password.
func (c *Core) DeleteAccount(addr string, pw encode.PassBytes) error {
	if err := c.checkSession(pw); err != nil {
		return err
	}
	existed, err := c.db.RemoveAccount(addr)
	if err != nil {
		return codedError(dbErr, err)
	}
	if !existed {
		return codedError(accountErr, db.ErrAccountNotFound)
	}
	log.Infof("Removed account %s", addr)

	c.selMtx.Lock()
	wasSelected := c.account == addr
	c.selMtx.Unlock()
	if !wasSelected {
		return nil
	}
	var next string
	accts, err := c.db.Accounts()
	if err != nil {
		log.Errorf("Error loading accounts: %v", err)
	} else if len(accts) > 0 {
		next = accts[0].Address
	}
	c.selMtx.Lock()
	c.account = next
	c.selMtx.Unlock()
	c.notify(newAccountChangedNote(next))
	return nil
}

// UpdateNickname renames an account.
func (c *Core) UpdateNickname(addr, nickname string) error {
	if err := c.db.UpdateNickname(addr, nickname); err != nil {
		return codedError(accountErr, err)
	}
	c.notify(newWalletUpdateNote(addr, c.SelectedNetwork()))
	return nil
}

// SelectAccount makes the account the one exposed to pages.
func (c *Core) SelectAccount(addr string) error {
	if _, err := c.db.Account(addr); err != nil {
		return codedError(accountErr, err)
	}
	c.selMtx.Lock()
	changed := c.account != addr
	c.account = addr
	c.selMtx.Unlock()
	if changed {
		c.notify(newAccountChangedNote(addr))
	}
	return nil
}

// SelectedAccount is the address of the selected account, or empty if the
// vault has none.
func (c *Core) SelectedAccount() string {
	c.selMtx.RLock()
	defer c.selMtx.RUnlock()
	return c.account
}

// Transactions retrieves a page of the account's transactions on the network,
// newest first.
func (c *Core) Transactions(addr, server string, pageSize, page int) ([]*db.Transaction, error) {
	txs, err := c.db.Transactions(addr, server, pageSize, page)
	if err != nil {
		return nil, codedError(accountErr, err)
	}
	return txs, nil
}

// AddContact saves an address to the account's contacts on the network.
func (c *Core) AddContact(addr, server, contact string) error {
	if err := c.db.AddContact(addr, server, contact); err != nil {
		return codedError(accountErr, err)
	}
	return nil
}

// RemoveContact removes an address from the account's contacts.
func (c *Core) RemoveContact(addr, server, contact string) error {
	if err := c.db.RemoveContact(addr, server, contact); err != nil {
		return codedError(accountErr, err)
	}
	return nil
}

// AddContract saves a contract address to the account's list on the network.
func (c *Core) AddContract(addr, server, contract string) error {
	if err := c.db.AddContract(addr, server, contract); err != nil {
		return codedError(accountErr, err)
	}
	return nil
}

// RemoveContract removes a contract address from the account's list.
func (c *Core) RemoveContract(addr, server, contract string) error {
	if err := c.db.RemoveContract(addr, server, contract); err != nil {
		return codedError(accountErr, err)
	}
	return nil
}

// isOwnAccount checks whether the address is one of the vault's accounts.
func (c *Core) isOwnAccount(addr string) bool {
	_, err := c.db.Account(addr)
	if err != nil && !errors.Is(err, db.ErrAccountNotFound) {
		log.Errorf("Error loading account %s: %v", addr, err)
	}
	return err == nil
}

// ExportedAccount is an account with its plain key pair.
type ExportedAccount struct {
	Address  string        `json:"address"`
	Nickname string        `json:"nickname"`
	KeyPair  *keys.KeyPair `json:"keyPair"`
}

// checkSession requires an unlocked vault and the session password.
func (c *Core) checkSession(pw encode.PassBytes) error {
	if c.lock.IsLocked() {
		return codedError(walletLockedErr, lock.ErrWalletLocked)
	}
	if !c.lock.CheckPassword(pw) {
		return newError(passwordErr, "incorrect password")
	}
	return nil
}

// ExportKeys reveals the key pair of an account. The password must match the
// session password.
func (c *Core) ExportKeys(addr string, pw encode.PassBytes) (*keys.KeyPair, error) {
	if err := c.checkSession(pw); err != nil {
		return nil, err
	}
	acct, err := c.db.Account(addr)
	if err != nil {
		return nil, codedError(accountErr, err)
	}
	kp, err := c.lock.KeyPair(acct)
	if err != nil {
		return nil, keyPairError(err)
	}
	log.Warnf("Key pair of %s exported", addr)
	return kp, nil
}

// ExportAccounts reveals the key pairs of every account. The password must
// match the session password.
func (c *Core) ExportAccounts(pw encode.PassBytes) ([]*ExportedAccount, error) {
	if err := c.checkSession(pw); err != nil {
		return nil, err
	}
	accts, err := c.db.Accounts()
	if err != nil {
		return nil, codedError(dbErr, err)
	}
	exported := make([]*ExportedAccount, 0, len(accts))
	for _, acct := range accts {
		kp, err := c.lock.KeyPair(acct)
		if err != nil {
			return nil, keyPairError(err)
		}
		exported = append(exported, &ExportedAccount{
			Address:  acct.Address,
			Nickname: acct.Nickname,
			KeyPair:  kp,
		})
	}
	log.Warnf("Key pairs of %d accounts exported", len(exported))
	return exported, nil
}

// ImportAccounts restores exported accounts. Every entry is checked before any
// is stored: the public key and address, if given, must belong to the secret
// key. Each stored account is scheduled for a sync. On a storage error, the
// accounts stored so far are returned with the error.
func (c *Core) ImportAccounts(ctx context.Context, exported []*ExportedAccount) ([]*db.Account, error) {
	if len(exported) == 0 {
		return nil, newError(paramsErr, "no accounts to import")
	}
	kps := make([]*keys.KeyPair, len(exported))
	for i, e := range exported {
		if e == nil || e.KeyPair == nil {
			return nil, newError(keyErr, "account %d has no key pair", i)
		}
		kp, err := keys.FromSecret(e.KeyPair.Secret)
		if err != nil {
			return nil, codedError(keyErr, err)
		}
		if e.KeyPair.Public != "" && e.KeyPair.Public != kp.Public {
			return nil, newError(keyErr, "account %d public key does not match its secret", i)
		}
		if e.Address != "" {
			addr, err := keys.Address(multisigCodeHash, kp.Public)
			if err != nil {
				return nil, codedError(keyErr, err)
			}
			if addr != e.Address {
				return nil, newError(keyErr, "account %d address %s does not match its keys", i, e.Address)
			}
		}
		kps[i] = kp
	}
	added := make([]*db.Account, 0, len(exported))
	for i, e := range exported {
		acct, err := c.addAccount(ctx, e.Nickname, kps[i])
		if err != nil {
			return added, err
		}
		added = append(added, acct)
	}
	return added, nil
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex/encode"
)

// State is the lock state of the vault.
func (c *Core) State() (lock.State, error) {
	st, err := c.lock.State()
	if err != nil {
		return st, codedError(dbErr, err)
	}
	return st, nil
}

// IsLocked reports whether the vault is locked.
func (c *Core) IsLocked() bool {
	return c.lock.IsLocked()
}

// PinEnabled reports whether a PIN is set.
func (c *Core) PinEnabled() bool {
	return c.lock.PinEnabled()
}

// InitializeClient sets the password of a new vault. The vault is unlocked
// afterwards.
func (c *Core) InitializeClient(pw []byte) error {
	if err := c.lock.CreatePassword(pw); err != nil {
		return codedError(passwordErr, err)
	}
	c.notify(newUnlockStateNote(false, c.SelectedAccount()))
	return nil
}

// Login unlocks the vault with a password or PIN. A wrong credential yields
// false and leaves the vault locked. A successful login starts a sync of every
// account.
func (c *Core) Login(cred *lock.Credential) bool {
	if !c.lock.Unlock(cred) {
		return false
	}
	log.Infof("Vault unlocked with %s", cred.Type)
	c.notify(newUnlockStateNote(false, c.SelectedAccount()))
	c.sync.Trigger()
	return true
}

// Logout locks the vault. Pending page requests are rejected.
func (c *Core) Logout() {
	c.lock.Lock()
	c.broker.RejectAll()
	log.Infof("Vault locked")
	c.notify(newUnlockStateNote(true, ""))
}

// SetPincode sets a PIN for unlocking. The vault must be unlocked.
func (c *Core) SetPincode(pin []byte) error {
	if err := c.lock.SetPincode(pin); err != nil {
		return keyPairError(err)
	}
	return nil
}

// DisablePincode removes the PIN.
func (c *Core) DisablePincode() error {
	if err := c.lock.DisablePincode(); err != nil {
		return codedError(dbErr, err)
	}
	return nil
}

// CheckPassword checks the password against the session password.
func (c *Core) CheckPassword(pw encode.PassBytes) bool {
	return c.lock.CheckPassword(pw)
}

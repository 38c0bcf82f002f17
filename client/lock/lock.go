// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package lock implements the vault's lock state machine. A Controller holds
// the session password while unlocked and performs every operation that
// needs it.
package lock

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encode"
	"decred.org/evervault/dex/encrypt"
)

const (
	// ErrWalletLocked is returned by credential-dependent operations while
	// the wallet is locked.
	ErrWalletLocked = dex.ErrorKind("wallet is locked")
	// ErrAlreadyInitialized is returned by CreatePassword if a password
	// already exists.
	ErrAlreadyInitialized = dex.ErrorKind("password already set")
	// ErrEmptyPassword is returned when setting an empty password or PIN.
	ErrEmptyPassword = dex.ErrorKind("empty password")

	// Credential types accepted by Unlock.
	CredPassword = "password"
	CredPincode  = "pincode"

	keySize = 32
)

// State is the lock state.
type State uint8

const (
	// Uninitialized means no password was ever created.
	Uninitialized State = iota
	// Locked means a password exists but the session password is absent.
	Locked
	// Unlocked means the session password is held.
	Unlocked
)

// String gives the state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	}
	return "unknown"
}

// Credential is a password or PIN presented to Unlock.
type Credential struct {
	Type  string           `json:"type"`
	Value encode.PassBytes `json:"value"`
}

// keyContents is the plaintext of a sealed master key. The PIN record also
// carries the password it unlocks.
type keyContents struct {
	Key      string           `json:"key"`
	Password encode.PassBytes `json:"password,omitempty"`
}

// MasterKeyStore is the part of the vault the Controller needs.
type MasterKeyStore interface {
	MasterKey(id uint32) (*db.MasterKey, error)
	SetMasterKey(k *db.MasterKey) error
	DeleteMasterKey(id uint32) error
}

// Controller guards the session password. The zero value is not usable; use
// New.
type Controller struct {
	db MasterKeyStore

	mtx sync.RWMutex
	pw  []byte
}

// New is the constructor for a *Controller. The Controller starts locked.
func New(store MasterKeyStore) *Controller {
	return &Controller{db: store}
}

// State reports the lock state.
func (c *Controller) State() (State, error) {
	if !c.IsLocked() {
		return Unlocked, nil
	}
	_, err := c.db.MasterKey(db.PasswordKeyID)
	if errors.Is(err, db.ErrNoMasterKey) {
		return Uninitialized, nil
	}
	if err != nil {
		return Locked, err
	}
	return Locked, nil
}

// IsLocked is true if the session password is absent.
func (c *Controller) IsLocked() bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.pw == nil
}

// PinEnabled is true if a PIN record exists.
func (c *Controller) PinEnabled() bool {
	_, err := c.db.MasterKey(db.PincodeKeyID)
	return err == nil
}

// sealKey creates a master key record for the id, sealing a new random key
// and the optional password with secret.
func sealKey(id uint32, secret, pw []byte) (*db.MasterKey, error) {
	key := hex.EncodeToString(encode.RandomBytes(keySize))
	b, err := json.Marshal(&keyContents{Key: key, Password: pw})
	if err != nil {
		return nil, err
	}
	defer encode.ClearBytes(b)
	sealed, err := encrypt.Seal(secret, b)
	if err != nil {
		return nil, err
	}
	return &db.MasterKey{ID: id, Key: key, Encrypted: sealed}, nil
}

// openKey opens the master key record with secret and checks the key inside.
func openKey(k *db.MasterKey, secret []byte) (*keyContents, error) {
	b, err := encrypt.Open(secret, k.Encrypted)
	if err != nil {
		return nil, err
	}
	defer encode.ClearBytes(b)
	contents := new(keyContents)
	if err = json.Unmarshal(b, contents); err != nil {
		return nil, dex.NewError(encrypt.ErrDecryption, "bad master key contents")
	}
	if subtle.ConstantTimeCompare([]byte(contents.Key), []byte(k.Key)) != 1 {
		contents.Password.Clear()
		return nil, dex.NewError(encrypt.ErrDecryption, "master key mismatch")
	}
	return contents, nil
}

// CreatePassword sets the first password and unlocks the wallet.
func (c *Controller) CreatePassword(pw []byte) error {
	if len(pw) == 0 {
		return ErrEmptyPassword
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	_, err := c.db.MasterKey(db.PasswordKeyID)
	if err == nil {
		return ErrAlreadyInitialized
	}
	if !errors.Is(err, db.ErrNoMasterKey) {
		return err
	}
	k, err := sealKey(db.PasswordKeyID, pw, nil)
	if err != nil {
		return fmt.Errorf("error sealing master key: %w", err)
	}
	if err = c.db.SetMasterKey(k); err != nil {
		return fmt.Errorf("error storing master key: %w", err)
	}
	c.setPW(pw)
	log.Infof("Password created")
	return nil
}

// setPW replaces the session password with a copy of pw. The caller must hold
// the write lock.
func (c *Controller) setPW(pw []byte) {
	encode.ClearBytes(c.pw)
	c.pw = encode.CopySlice(pw)
}

// Unlock checks the credential and unlocks the wallet on success. Any failure
// leaves the state unchanged and yields false. A PIN that fails at either
// layer deletes the PIN record.
func (c *Controller) Unlock(cred *Credential) bool {
	switch cred.Type {
	case CredPassword:
		return c.unlockPassword(cred.Value)
	case CredPincode:
		return c.unlockPincode(cred.Value)
	}
	return false
}

func (c *Controller) unlockPassword(pw []byte) bool {
	if len(pw) == 0 {
		return false
	}
	k, err := c.db.MasterKey(db.PasswordKeyID)
	if err != nil {
		return false
	}
	if _, err = openKey(k, pw); err != nil {
		log.Debugf("Password unlock failed: %v", err)
		return false
	}
	c.mtx.Lock()
	c.setPW(pw)
	c.mtx.Unlock()
	log.Infof("Wallet unlocked")
	return true
}

func (c *Controller) unlockPincode(pin []byte) bool {
	pinKey, err := c.db.MasterKey(db.PincodeKeyID)
	if err != nil {
		return false
	}
	pw, err := c.recoverPassword(pinKey, pin)
	if err != nil {
		log.Warnf("PIN unlock failed, disabling PIN: %v", err)
		if err = c.db.DeleteMasterKey(db.PincodeKeyID); err != nil {
			log.Errorf("Error deleting PIN record: %v", err)
		}
		return false
	}
	defer pw.Clear()
	c.mtx.Lock()
	c.setPW(pw)
	c.mtx.Unlock()
	log.Infof("Wallet unlocked with PIN")
	return true
}

// recoverPassword opens the PIN record and verifies the password inside it
// against the password record.
func (c *Controller) recoverPassword(pinKey *db.MasterKey, pin []byte) (encode.PassBytes, error) {
	if len(pin) == 0 {
		return nil, ErrEmptyPassword
	}
	contents, err := openKey(pinKey, pin)
	if err != nil {
		return nil, fmt.Errorf("PIN layer: %w", err)
	}
	pwKey, err := c.db.MasterKey(db.PasswordKeyID)
	if err != nil {
		contents.Password.Clear()
		return nil, err
	}
	if _, err = openKey(pwKey, contents.Password); err != nil {
		contents.Password.Clear()
		return nil, fmt.Errorf("password layer: %w", err)
	}
	return contents.Password, nil
}

// Lock clears the session password.
func (c *Controller) Lock() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	encode.ClearBytes(c.pw)
	c.pw = nil
}

// SetPincode enables PIN unlock, replacing any existing PIN.
func (c *Controller) SetPincode(pin []byte) error {
	if len(pin) == 0 {
		return ErrEmptyPassword
	}
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.pw == nil {
		return ErrWalletLocked
	}
	k, err := sealKey(db.PincodeKeyID, pin, c.pw)
	if err != nil {
		return fmt.Errorf("error sealing PIN record: %w", err)
	}
	return c.db.SetMasterKey(k)
}

// DisablePincode deletes the PIN record.
func (c *Controller) DisablePincode() error {
	return c.db.DeleteMasterKey(db.PincodeKeyID)
}

// CheckPassword compares the candidate with the session password in constant
// time. It is always false while locked.
func (c *Controller) CheckPassword(candidate []byte) bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.pw == nil {
		return false
	}
	return subtle.ConstantTimeCompare(c.pw, candidate) == 1
}

// Seal encrypts the plaintext with the session password.
func (c *Controller) Seal(plaintext []byte) ([]byte, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.pw == nil {
		return nil, ErrWalletLocked
	}
	return encrypt.Seal(c.pw, plaintext)
}

// Open decrypts a blob created by Seal.
func (c *Controller) Open(sealed []byte) ([]byte, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if c.pw == nil {
		return nil, ErrWalletLocked
	}
	return encrypt.Open(c.pw, sealed)
}

// SealKeyPair encrypts the key pair for storage in an account record.
func (c *Controller) SealKeyPair(kp *keys.KeyPair) ([]byte, error) {
	b := kp.Encode()
	defer encode.ClearBytes(b)
	return c.Seal(b)
}

// KeyPair decrypts the account's key pair.
func (c *Controller) KeyPair(a *db.Account) (*keys.KeyPair, error) {
	b, err := c.Open(a.Encrypted)
	if err != nil {
		return nil, err
	}
	defer encode.ClearBytes(b)
	return keys.Decode(b)
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package lock

import (
	"errors"
	"os"
	"sync"
	"testing"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encrypt"
)

type tStore struct {
	mtx  sync.Mutex
	keys map[uint32]*db.MasterKey
}

func newTStore() *tStore {
	return &tStore{keys: make(map[uint32]*db.MasterKey)}
}

func (s *tStore) MasterKey(id uint32) (*db.MasterKey, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	k, found := s.keys[id]
	if !found {
		return nil, db.ErrNoMasterKey
	}
	return k, nil
}

func (s *tStore) SetMasterKey(k *db.MasterKey) error {
	s.mtx.Lock()
	s.keys[k.ID] = k
	s.mtx.Unlock()
	return nil
}

func (s *tStore) DeleteMasterKey(id uint32) error {
	s.mtx.Lock()
	delete(s.keys, id)
	s.mtx.Unlock()
	return nil
}

func TestMain(m *testing.M) {
	UseLogger(dex.StdOutLogger("LOCK_TEST", dex.LevelTrace))
	os.Exit(m.Run())
}

func password(s string) *Credential {
	return &Credential{Type: CredPassword, Value: []byte(s)}
}

func pincode(s string) *Credential {
	return &Credential{Type: CredPincode, Value: []byte(s)}
}

func mustState(t *testing.T, c *Controller, want State) {
	t.Helper()
	s, err := c.State()
	if err != nil {
		t.Fatalf("State error: %v", err)
	}
	if s != want {
		t.Fatalf("expected state %s, got %s", want, s)
	}
}

func TestPasswordLifecycle(t *testing.T) {
	store := newTStore()
	c := New(store)
	mustState(t, c, Uninitialized)
	if c.Unlock(password("P1")) {
		t.Fatalf("unlocked without a password")
	}

	if err := c.CreatePassword([]byte("P1")); err != nil {
		t.Fatalf("CreatePassword error: %v", err)
	}
	mustState(t, c, Unlocked)
	if err := c.CreatePassword([]byte("P2")); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	if !c.CheckPassword([]byte("P1")) || c.CheckPassword([]byte("P2")) {
		t.Fatalf("CheckPassword wrong")
	}

	c.Lock()
	c.Lock()
	mustState(t, c, Locked)
	if c.CheckPassword([]byte("P1")) {
		t.Fatalf("CheckPassword true while locked")
	}
	if c.Unlock(password("wrong")) {
		t.Fatalf("unlocked with wrong password")
	}
	if c.Unlock(&Credential{Type: "fingerprint", Value: []byte("P1")}) {
		t.Fatalf("unlocked with unknown credential type")
	}
	mustState(t, c, Locked)
	if !c.Unlock(password("P1")) {
		t.Fatalf("failed to unlock with right password")
	}
	mustState(t, c, Unlocked)
}

func TestPincode(t *testing.T) {
	store := newTStore()
	c := New(store)
	c.CreatePassword([]byte("P1"))
	c.Lock()
	if err := c.SetPincode([]byte("1234")); !errors.Is(err, ErrWalletLocked) {
		t.Fatalf("expected ErrWalletLocked, got %v", err)
	}
	c.Unlock(password("P1"))
	if err := c.SetPincode([]byte("1234")); err != nil {
		t.Fatalf("SetPincode error: %v", err)
	}
	if !c.PinEnabled() {
		t.Fatalf("PIN not enabled")
	}
	c.Lock()

	// PIN recovers the exact password.
	if !c.Unlock(pincode("1234")) {
		t.Fatalf("failed to unlock with PIN")
	}
	if !c.CheckPassword([]byte("P1")) {
		t.Fatalf("PIN unlock did not recover the password")
	}
	c.Lock()

	// One wrong PIN burns it.
	for i := 0; i < 3; i++ {
		if c.Unlock(pincode("0000")) {
			t.Fatalf("unlocked with wrong PIN")
		}
		if c.PinEnabled() {
			t.Fatalf("PIN still enabled after failure %d", i)
		}
	}
	if c.Unlock(pincode("1234")) {
		t.Fatalf("unlocked with revoked PIN")
	}
	mustState(t, c, Locked)
	if !c.Unlock(password("P1")) {
		t.Fatalf("password unlock failed after PIN revocation")
	}
}

func TestPincodeInnerLayer(t *testing.T) {
	// A PIN record carrying a stale password fails at the second layer and is
	// revoked.
	store := newTStore()
	c := New(store)
	c.CreatePassword([]byte("P1"))
	k, err := sealKey(db.PincodeKeyID, []byte("1234"), []byte("stale"))
	if err != nil {
		t.Fatal(err)
	}
	store.SetMasterKey(k)
	c.Lock()
	if c.Unlock(pincode("1234")) {
		t.Fatalf("unlocked with stale PIN record")
	}
	if c.PinEnabled() {
		t.Fatalf("stale PIN record not revoked")
	}
}

func TestCredentialGate(t *testing.T) {
	c := New(newTStore())
	c.CreatePassword([]byte("P1"))
	kp := keys.Generate()
	sealed, err := c.SealKeyPair(kp)
	if err != nil {
		t.Fatalf("SealKeyPair error: %v", err)
	}
	acct := db.NewAccount("0:01", "", kp.Public, sealed)
	re, err := c.KeyPair(acct)
	if err != nil || *re != *kp {
		t.Fatalf("KeyPair = %+v, %v", re, err)
	}

	c.Lock()
	if _, err = c.KeyPair(acct); !errors.Is(err, ErrWalletLocked) {
		t.Fatalf("expected ErrWalletLocked, got %v", err)
	}
	if _, err = c.Seal([]byte("x")); !errors.Is(err, ErrWalletLocked) {
		t.Fatalf("expected ErrWalletLocked, got %v", err)
	}
	if _, err = c.Open(sealed); !errors.Is(err, ErrWalletLocked) {
		t.Fatalf("expected ErrWalletLocked, got %v", err)
	}

	// Material sealed under another password can't be opened.
	other := New(newTStore())
	other.CreatePassword([]byte("P2"))
	c.Unlock(password("P1"))
	if _, err = other.KeyPair(acct); !errors.Is(err, encrypt.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

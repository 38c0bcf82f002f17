// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package keys handles account key pairs: generation from mnemonics, message
// signing and NaCl box encryption.
package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encode"
	"decred.org/evervault/dex/keygen"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"lukechampine.com/blake3"
)

const (
	// ErrInvalidKey is returned for malformed key material.
	ErrInvalidKey = dex.ErrorKind("invalid key")
	// ErrInvalidMnemonic is returned for a seed phrase that fails the
	// checksum.
	ErrInvalidMnemonic = dex.ErrorKind("invalid seed phrase")
	// ErrBoxOpen is returned when a NaCl box fails authentication.
	ErrBoxOpen = dex.ErrorKind("unable to open box")

	// mnemonicEntropyBits gives a 12 word seed phrase.
	mnemonicEntropyBits = 128
	// NonceSize is the size of a NaCl box nonce.
	NonceSize = 24
)

// KeyPair is an account's ed25519 key pair. Both keys are hex encoded and 32
// bytes. Secret is the ed25519 seed.
type KeyPair struct {
	Public string `json:"public"`
	Secret string `json:"secret"`
}

// Generate creates a random key pair.
func Generate() *KeyPair {
	return FromSeed(encode.RandomBytes(ed25519.SeedSize))
}

// FromSeed creates the key pair for the 32-byte ed25519 seed.
func FromSeed(seed []byte) *KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{
		Public: hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
		Secret: hex.EncodeToString(seed),
	}
}

// FromSecret creates the key pair for the hex-encoded secret key.
func FromSecret(secret string) (*KeyPair, error) {
	b, err := hex.DecodeString(secret)
	if err != nil || len(b) != ed25519.SeedSize {
		return nil, dex.NewError(ErrInvalidKey, "secret must be 32 hex-encoded bytes")
	}
	return FromSeed(b), nil
}

// NewMnemonic creates a new random seed phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", err
	}
	defer encode.ClearBytes(entropy)
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives the key pair of the first account of the seed phrase.
func FromMnemonic(phrase string) (*KeyPair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(phrase, "")
	if err != nil {
		return nil, dex.NewError(ErrInvalidMnemonic, err.Error())
	}
	defer encode.ClearBytes(seed)
	keySeed, err := keygen.AccountKeySeed(seed, 0)
	if err != nil {
		return nil, err
	}
	defer encode.ClearBytes(keySeed)
	return FromSeed(keySeed), nil
}

// Encode is the JSON encoding of the key pair, suitable for sealing.
func (kp *KeyPair) Encode() []byte {
	b, _ := json.Marshal(kp)
	return b
}

// Decode decodes a key pair produced by Encode.
func Decode(b []byte) (*KeyPair, error) {
	kp := new(KeyPair)
	if err := json.Unmarshal(b, kp); err != nil {
		return nil, err
	}
	if _, err := FromSecret(kp.Secret); err != nil {
		return nil, err
	}
	return kp, nil
}

func (kp *KeyPair) privKey() (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(kp.Secret)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, dex.NewError(ErrInvalidKey, "bad secret key")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Sign creates a detached ed25519 signature.
func (kp *KeyPair) Sign(msg []byte) ([]byte, error) {
	priv, err := kp.privKey()
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, msg), nil
}

// SignCombined creates a NaCl-style signed message, the signature followed by
// the message.
func (kp *KeyPair) SignCombined(msg []byte) ([]byte, error) {
	sig, err := kp.Sign(msg)
	if err != nil {
		return nil, err
	}
	return append(sig, msg...), nil
}

// Verify checks the detached signature against the hex-encoded public key.
func Verify(pubKey string, msg, sig []byte) bool {
	pub, err := hex.DecodeString(pubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// BoxKeys is a curve25519 key pair for NaCl box encryption.
type BoxKeys struct {
	Public [32]byte
	Secret [32]byte
}

// BoxKeys derives the account's NaCl box key pair, using the account secret
// as the curve25519 private key.
func (kp *KeyPair) BoxKeys() (*BoxKeys, error) {
	b, err := hex.DecodeString(kp.Secret)
	if err != nil || len(b) != 32 {
		return nil, dex.NewError(ErrInvalidKey, "bad secret key")
	}
	defer encode.ClearBytes(b)
	bk := new(BoxKeys)
	copy(bk.Secret[:], b)
	pub, err := curve25519.X25519(bk.Secret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(bk.Public[:], pub)
	return bk, nil
}

// BoxPublicKey is the hex-encoded NaCl box public key.
func (kp *KeyPair) BoxPublicKey() (string, error) {
	bk, err := kp.BoxKeys()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bk.Public[:]), nil
}

func parseBoxArgs(nonceHex, theirPubHex string) (*[NonceSize]byte, *[32]byte, error) {
	nonceB, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonceB) != NonceSize {
		return nil, nil, fmt.Errorf("nonce must be %d hex-encoded bytes", NonceSize)
	}
	pubB, err := hex.DecodeString(theirPubHex)
	if err != nil || len(pubB) != 32 {
		return nil, nil, dex.NewError(ErrInvalidKey, "public key must be 32 hex-encoded bytes")
	}
	var nonce [NonceSize]byte
	var pub [32]byte
	copy(nonce[:], nonceB)
	copy(pub[:], pubB)
	return &nonce, &pub, nil
}

// BoxSeal encrypts and authenticates the message for the holder of
// theirPub.
func (kp *KeyPair) BoxSeal(msg []byte, nonceHex, theirPub string) ([]byte, error) {
	nonce, pub, err := parseBoxArgs(nonceHex, theirPub)
	if err != nil {
		return nil, err
	}
	bk, err := kp.BoxKeys()
	if err != nil {
		return nil, err
	}
	defer encode.ClearBytes(bk.Secret[:])
	return box.Seal(nil, msg, nonce, pub, &bk.Secret), nil
}

// BoxOpen authenticates and decrypts a box sealed by the holder of theirPub.
func (kp *KeyPair) BoxOpen(sealed []byte, nonceHex, theirPub string) ([]byte, error) {
	nonce, pub, err := parseBoxArgs(nonceHex, theirPub)
	if err != nil {
		return nil, err
	}
	bk, err := kp.BoxKeys()
	if err != nil {
		return nil, err
	}
	defer encode.ClearBytes(bk.Secret[:])
	msg, ok := box.Open(nil, sealed, nonce, pub, &bk.Secret)
	if !ok {
		return nil, ErrBoxOpen
	}
	return msg, nil
}

// Address is the workchain 0 address of a contract with the code hash and
// owner public key.
func Address(codeHash []byte, pubKey string) (string, error) {
	pub, err := hex.DecodeString(pubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return "", dex.NewError(ErrInvalidKey, "public key must be 32 hex-encoded bytes")
	}
	h := blake3.Sum256(append(encode.CopySlice(codeHash), pub...))
	return "0:" + hex.EncodeToString(h[:]), nil
}

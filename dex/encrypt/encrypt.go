// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package encrypt implements password-based symmetric encryption for vault
// records. Keys are derived with argon2id and data is sealed with
// xchacha20poly1305. A poly1305 tag over the key-derivation parameters lets a
// wrong password be detected before any decryption is attempted.
package encrypt

import (
	"crypto/rand"
	"fmt"
	"runtime"

	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encode"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/poly1305"
)

// ErrDecryption is returned for any failure to open a sealed record. Callers
// cannot distinguish a wrong password from corrupted data.
const ErrDecryption = dex.ErrorKind("decryption failed")

// Crypter is an interface for an encryption key and encryption/decryption
// algorithms. Create a Crypter with the NewCrypter function.
type Crypter interface {
	// Encrypt encrypts the plaintext.
	Encrypt(b []byte) ([]byte, error)
	// Decrypt decrypts the ciphertext created by Encrypt.
	Decrypt(b []byte) ([]byte, error)
	// Serialize serializes the Crypter. Use the Deserialize function to create
	// a Crypter from the resulting bytes. Deserializing requires the password
	// used to create the Crypter.
	Serialize() []byte
	// Close zeros the encryption key. The Crypter is useless after closing.
	Close()
}

const (
	// defaultTime is the default time parameter for argon2id key derivation.
	defaultTime = 1
	// defaultMem is the default memory parameter for argon2id key derivation.
	defaultMem = 64 * 1024
	// KeySize is the size of the encryption key.
	KeySize = 32
	// SaltSize is the size of the argon2id salt.
	SaltSize = 16

	// sealVersion is the version byte of a blob created by Seal.
	sealVersion = 0
)

// Key is 32 bytes.
type Key [KeySize]byte

// Salt is randomness used as part of key derivation. This is different from
// the nonce generated during xchacha20poly1305 encryption.
type Salt [SaltSize]byte

func newSalt() Salt {
	var s Salt
	if _, err := rand.Read(s[:]); err != nil {
		panic("newSalt: " + err.Error())
	}
	return s
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// NewCrypter derives an encryption key from a password.
func NewCrypter(pw []byte) Crypter {
	return newArgonPolyCrypter(pw)
}

// Deserialize deserializes the Crypter for the password.
func Deserialize(pw, encCrypter []byte) (Crypter, error) {
	return deserialize(pw, encCrypter)
}

func deserialize(pw, encCrypter []byte) (*argonPolyCrypter, error) {
	ver, pushes, err := encode.DecodeBlob(encCrypter)
	if err != nil {
		return nil, err
	}
	switch ver {
	case 0:
		return decodeArgonPolyV0(pw, pushes)
	default:
		return nil, fmt.Errorf("unknown Crypter version %d", ver)
	}
}

// Seal encrypts the plaintext with a key derived from pw and returns a
// self-contained blob holding the key-derivation parameters and the
// ciphertext. The blob can be opened with Open and the same password.
func Seal(pw, plainText []byte) ([]byte, error) {
	c := newArgonPolyCrypter(pw)
	defer c.Close()
	cipherText, err := c.Encrypt(plainText)
	if err != nil {
		return nil, err
	}
	return encode.BuildyBytes{sealVersion}.AddData(c.Serialize()).AddData(cipherText), nil
}

// Open decrypts a blob created by Seal. Any failure, including an incorrect
// password, is reported as ErrDecryption.
func Open(pw, sealed []byte) ([]byte, error) {
	ver, pushes, err := encode.DecodeBlob(sealed)
	if err != nil {
		return nil, dex.NewError(ErrDecryption, err.Error())
	}
	if ver != sealVersion || len(pushes) != 2 {
		return nil, dex.NewError(ErrDecryption, "unknown sealed blob format")
	}
	c, err := deserialize(pw, pushes[0])
	if err != nil {
		return nil, dex.NewError(ErrDecryption, err.Error())
	}
	defer c.Close()
	plainText, err := c.Decrypt(pushes[1])
	if err != nil {
		return nil, dex.NewError(ErrDecryption, err.Error())
	}
	return plainText, nil
}

// argonPolyCrypter is an encryption algorithm based on argon2id for key
// derivation and xchacha20poly1305 for symmetric encryption.
type argonPolyCrypter struct {
	key    Key
	tag    [poly1305.TagSize]byte
	salt   Salt
	params *argonParams
}

func newArgonPolyCrypter(pw []byte) *argonPolyCrypter {
	salt := newSalt()
	threads := uint8(runtime.NumCPU())
	if threads == 0 {
		threads = 1
	}

	// The derived key is split in two: the encryption key, then the MAC key.
	keyB := argon2.IDKey(pw, salt[:], defaultTime, defaultMem, threads, KeySize*2)
	defer encode.ClearBytes(keyB)

	c := &argonPolyCrypter{
		salt: salt,
		params: &argonParams{
			time:    defaultTime,
			memory:  defaultMem,
			threads: threads,
		},
	}
	copy(c.key[:], keyB[:KeySize])
	var polyKey [KeySize]byte
	copy(polyKey[:], keyB[KeySize:])
	poly1305.Sum(&c.tag, c.serializeParams(), &polyKey)
	return c
}

// Encrypt encrypts the plaintext.
func (c *argonPolyCrypter) Encrypt(plainText []byte) ([]byte, error) {
	boxer, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("aead error: %w", err)
	}
	nonce := make([]byte, boxer.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation error: %w", err)
	}
	cipherText := boxer.Seal(nil, nonce, plainText, nil)
	return encode.BuildyBytes{0}.AddData(nonce).AddData(cipherText), nil
}

// Decrypt decrypts the ciphertext created by Encrypt.
func (c *argonPolyCrypter) Decrypt(encrypted []byte) ([]byte, error) {
	ver, pushes, err := encode.DecodeBlob(encrypted)
	if err != nil {
		return nil, fmt.Errorf("DecodeBlob: %w", err)
	}
	if ver != 0 {
		return nil, fmt.Errorf("only version 0 encryptions are known. got version %d", ver)
	}
	if len(pushes) != 2 {
		return nil, fmt.Errorf("expected 2 pushes. got %d", len(pushes))
	}
	boxer, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("aead error: %w", err)
	}
	nonce, cipherText := pushes[0], pushes[1]
	if len(nonce) != boxer.NonceSize() {
		return nil, fmt.Errorf("incompatible nonce length. expected %d, got %d", boxer.NonceSize(), len(nonce))
	}
	plainText, err := boxer.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, fmt.Errorf("aead.Open: %w", err)
	}
	return plainText, nil
}

// Serialize serializes the argonPolyCrypter.
func (c *argonPolyCrypter) Serialize() []byte {
	return c.serializeParams().AddData(c.tag[:])
}

// serializeParams serializes the parameters without the poly1305 auth tag.
func (c *argonPolyCrypter) serializeParams() encode.BuildyBytes {
	return encode.BuildyBytes{0}.
		AddData(c.salt[:]).
		AddData(encode.Uint32Bytes(c.params.time)).
		AddData(encode.Uint32Bytes(c.params.memory)).
		AddData([]byte{c.params.threads})
}

// Close zeros the key.
func (c *argonPolyCrypter) Close() {
	for i := range c.key {
		c.key[i] = 0
	}
}

func decodeArgonPolyV0(pw []byte, pushes [][]byte) (*argonPolyCrypter, error) {
	if len(pushes) != 5 {
		return nil, fmt.Errorf("expected 5 pushes, but got %d", len(pushes))
	}
	saltB, timeB, memB, threadsB, tagB := pushes[0], pushes[1], pushes[2], pushes[3], pushes[4]
	if len(saltB) != SaltSize {
		return nil, fmt.Errorf("expected salt of length %d, got %d", SaltSize, len(saltB))
	}
	if len(timeB) != 4 || len(memB) != 4 {
		return nil, fmt.Errorf("bad argon2 parameter encoding")
	}
	if len(threadsB) != 1 || threadsB[0] == 0 {
		return nil, fmt.Errorf("bad threads parameter encoding")
	}
	if len(tagB) != poly1305.TagSize {
		return nil, fmt.Errorf("mac authenticator of incorrect length. wanted %d, got %d", poly1305.TagSize, len(tagB))
	}

	c := &argonPolyCrypter{
		params: &argonParams{
			time:    encode.BytesToUint32(timeB),
			memory:  encode.BytesToUint32(memB),
			threads: threadsB[0],
		},
	}
	copy(c.salt[:], saltB)
	copy(c.tag[:], tagB)

	keyB := argon2.IDKey(pw, c.salt[:], c.params.time, c.params.memory, c.params.threads, KeySize*2)
	defer encode.ClearBytes(keyB)

	var polyKey [KeySize]byte
	copy(polyKey[:], keyB[KeySize:])
	if !poly1305.Verify(&c.tag, c.serializeParams(), &polyKey) {
		return nil, fmt.Errorf("incorrect password")
	}
	copy(c.key[:], keyB[:KeySize])
	return c, nil
}

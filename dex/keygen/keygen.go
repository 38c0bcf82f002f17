// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package keygen derives account key material from a wallet seed.
package keygen

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/hdkeychain/v3"
)

// CoinType is the registered coin type of the ledger.
const CoinType = 396

// RootKeyParams are the hdkeychain.NetworkParams of vault master keys. The
// versions are never serialized to users.
type RootKeyParams struct{}

// HDPrivKeyVersion is the extended private key version, ASCII "evpr".
func (*RootKeyParams) HDPrivKeyVersion() [4]byte {
	return [4]byte{0x65, 0x76, 0x70, 0x72}
}

// HDPubKeyVersion is the extended public key version, ASCII "evpb".
func (*RootKeyParams) HDPubKeyVersion() [4]byte {
	return [4]byte{0x65, 0x76, 0x70, 0x62}
}

// AccountPath is the derivation path of the account at the index,
// m/44'/396'/0'/0/index.
func AccountPath(index uint32) []uint32 {
	return []uint32{
		44 + hdkeychain.HardenedKeyStart,
		CoinType + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
		0,
		index,
	}
}

// AccountKeySeed derives the 32-byte private key at AccountPath(index). The
// result seeds the account's signing key.
func AccountKeySeed(seed []byte, index uint32) ([]byte, error) {
	extKey, err := DerivePath(seed, AccountPath(index))
	if err != nil {
		return nil, err
	}
	defer extKey.Zero()
	return extKey.SerializedPrivKey()
}

// DerivePath walks the path from the master key of the seed. A path index
// that yields an invalid child is replaced by the next index.
func DerivePath(seed []byte, path []uint32) (*hdkeychain.ExtendedKey, error) {
	key, err := hdkeychain.NewMaster(seed, &RootKeyParams{})
	if err != nil {
		return nil, err
	}
	for depth, idx := range path {
		child, err := key.ChildBIP32Std(idx)
		for errors.Is(err, hdkeychain.ErrInvalidChild) {
			idx++
			child, err = key.ChildBIP32Std(idx)
		}
		key.Zero()
		if err != nil {
			return nil, fmt.Errorf("error deriving child %d at depth %d: %w", idx, depth, err)
		}
		key = child
	}
	return key, nil
}

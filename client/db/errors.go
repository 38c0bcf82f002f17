// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import "decred.org/evervault/dex"

// Vault errors.
const (
	ErrDuplicateAccount = dex.ErrorKind("account already exists")
	ErrAccountNotFound  = dex.ErrorKind("account not found")
	ErrDuplicateNetwork = dex.ErrorKind("network already exists")
	ErrNetworkNotFound  = dex.ErrorKind("network not found")
	ErrNetworkNotCustom = dex.ErrorKind("only custom networks can be removed")
	ErrNoMasterKey      = dex.ErrorKind("master key not found")
)

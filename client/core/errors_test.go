// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"errors"
	"fmt"
	"testing"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
)

func TestCoreError(t *testing.T) {
	notFound := dex.NewError(db.ErrAccountNotFound, "0:aa")
	tests := []struct {
		name string
		err  error
		code int
		is   error
		msg  string
	}{{
		name: "wrapped kind",
		err:  newError(accountErr, "error loading account: %w", notFound),
		code: accountErr,
		is:   db.ErrAccountNotFound,
		msg:  "error loading account: account not found: 0:aa",
	}, {
		name: "coded kind",
		err:  codedError(walletLockedErr, lock.ErrWalletLocked),
		code: walletLockedErr,
		is:   lock.ErrWalletLocked,
		msg:  "wallet is locked",
	}, {
		name: "outer wrap",
		err:  fmt.Errorf("send: %w", codedError(sendErr, errors.New("not enough balance"))),
		code: sendErr,
		msg:  "send: not enough balance",
	}}

	for _, tt := range tests {
		if tt.err.Error() != tt.msg {
			t.Errorf("%s: wanted message %q, got %q", tt.name, tt.msg, tt.err.Error())
		}
		if !errorHasCode(tt.err, tt.code) {
			t.Errorf("%s: code %d not found", tt.name, tt.code)
		}
		if errorHasCode(tt.err, dbErr) {
			t.Errorf("%s: wrong code reported", tt.name)
		}
		if tt.is != nil && !errors.Is(tt.err, tt.is) {
			t.Errorf("%s: errors.Is failed", tt.name)
		}
		var cErr *Error
		if !errors.As(tt.err, &cErr) || *cErr.Code() != tt.code {
			t.Errorf("%s: not a core.Error with code %d", tt.name, tt.code)
		}
	}

	if errorHasCode(errors.New("plain"), dbErr) {
		t.Errorf("plain error has a code")
	}
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package txsync

import (
	"strings"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/ledger"
)

// acceptTransfer is the token wallet function that credits a transfer.
const acceptTransfer = "acceptTransfer"

// Classify determines the type of a ledger transaction. tt is the decoded
// token transfer of the inbound message, or nil if the message is not a token
// wallet call.
func Classify(tx *ledger.Transaction, tt *ledger.TokenTransfer) string {
	if tt != nil && tt.Name == acceptTransfer {
		if tx.Aborted && tx.OrigStatus == 1 {
			return db.TxError
		}
		return db.TxTokenIncoming
	}
	switch {
	case tx.OrigStatus == 0 && tx.EndStatus == 1:
		return db.TxDeploy
	case tx.OrigStatus != 0 && tx.Aborted:
		return db.TxError
	case strings.HasPrefix(tx.BalanceDelta, "-"):
		return db.TxTransfer
	}
	return db.TxIncoming
}

// convert builds the vault record of a classified ledger transaction. token
// is the token the transaction's account is a wallet for, if any.
func convert(tx *ledger.Transaction, tt *ledger.TokenTransfer, owner string, net *db.Network, token *db.TokenEntry) *db.Transaction {
	rec := &db.Transaction{
		ID:          tx.ID,
		AccountAddr: owner,
		Now:         tx.Now,
		Type:        Classify(tx, tt),
		Fees:        tx.TotalFees,
	}
	if tt != nil && tt.Name == acceptTransfer {
		rec.Amount = tt.Amount
		rec.ContractName = ledger.TokenWallet
		if token != nil {
			rec.CoinName = token.Symbol
			tok := *token
			rec.DetectedToken = &tok
		}
		return rec
	}
	rec.Amount = tx.BalanceDelta
	rec.ContractName = ledger.SafeMultisigWallet
	rec.CoinName = net.CoinName
	return rec
}

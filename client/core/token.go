// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/client/ledger"
	"decred.org/evervault/dex/msgjson"
)

// AddToken starts tracking a token for the account. The token details are
// read from its root contract. The account's token wallet and balance are
// resolved if the wallet exists.
func (c *Core) AddToken(ctx context.Context, addr, server, root string) (*db.TokenEntry, error) {
	_, cl, err := c.networkLedger(server)
	if err != nil {
		return nil, err
	}
	if _, err = c.db.Account(addr); err != nil {
		return nil, codedError(accountErr, err)
	}
	info, err := cl.TokenInfo(ctx, root)
	if err != nil {
		return nil, codedError(tokenErr, err)
	}
	entry := &db.TokenEntry{
		Address:  root,
		Symbol:   info.Symbol,
		Name:     info.Name,
		Decimals: info.Decimals,
		Icon:     info.Icon,
		Balance:  "0",
	}
	if wallet, err := cl.TokenWallet(ctx, root, addr); err != nil {
		log.Debugf("No %s wallet yet for %s: %v", info.Symbol, addr, err)
	} else {
		entry.WalletAddress = wallet
		if bal, err := cl.TokenBalance(ctx, wallet); err == nil {
			entry.Balance = bal
		}
	}
	if err = c.db.AddToken(addr, server, entry); err != nil {
		return nil, codedError(tokenErr, err)
	}
	log.Infof("Tracking token %s (%s) for %s on %s", info.Symbol, root, addr, server)
	c.sync.Trigger(addr)
	c.notify(newWalletUpdateNote(addr, server))
	return entry, nil
}

// RemoveToken stops tracking a token.
func (c *Core) RemoveToken(addr, server, root string) error {
	if err := c.db.RemoveToken(addr, server, root); err != nil {
		return codedError(tokenErr, err)
	}
	c.notify(newWalletUpdateNote(addr, server))
	return nil
}

// UpdateTokenBalances refreshes every tracked token balance on the network.
func (c *Core) UpdateTokenBalances(ctx context.Context, server string) error {
	if err := c.sync.UpdateTokenBalances(ctx, server); err != nil {
		return codedError(tokenErr, err)
	}
	return nil
}

// deployWalletValue is attached for the recipient's token wallet deployment.
const deployWalletValue uint64 = 100_000_000

// TokenSendParams are the parameters of a token transfer.
type TokenSendParams struct {
	Root        string `json:"root"`
	Destination string `json:"destination"`
	// Amount is in the token's smallest units.
	Amount  string `json:"amount"`
	Message string `json:"message"`
}

func (p *TokenSendParams) validate() error {
	if p.Root == "" {
		return newError(paramsErr, "no token")
	}
	if p.Destination == "" {
		return newError(paramsErr, "no destination")
	}
	amt, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || amt.Sign() <= 0 {
		return newError(paramsErr, "invalid amount %q", p.Amount)
	}
	return nil
}

// tokenTransferCall builds the wallet contract call that forwards a transfer
// to the owner's token wallet. deployValue is the value offered for deploying
// the recipient's wallet.
func tokenTransferCall(ctx context.Context, cl ledger.Client, from string, kp *keys.KeyPair, tok *db.TokenEntry,
	p *TokenSendParams, deployValue uint64) (*ledger.Call, map[string]any, error) {

	wallet := tok.WalletAddress
	if wallet == "" {
		var err error
		if wallet, err = cl.TokenWallet(ctx, tok.Address, from); err != nil {
			return nil, nil, err
		}
	}
	body := map[string]any{
		"amount":            p.Amount,
		"recipient":         p.Destination,
		"deployWalletValue": deployValue,
		"remainingGasTo":    from,
		"notify":            false,
	}
	return &ledger.Call{
		Address:  from,
		Contract: ledger.SafeMultisigWallet,
		Function: "sendTransaction",
		Input: map[string]any{
			"dest":   wallet,
			"value":  2 * deployWalletValue,
			"bounce": true,
			"flags":  1,
		},
		Keys: kp,
		Payload: &ledger.Call{
			Address:  wallet,
			Contract: ledger.TokenWallet,
			Function: "transfer",
			Input:    body,
			Comment:  p.Message,
		},
	}, body, nil
}

// trackedToken is the account's entry for the token root on the network.
func (c *Core) trackedToken(addr, server, root string) (*db.Account, *db.TokenEntry, error) {
	acct, err := c.db.Account(addr)
	if err != nil {
		return nil, nil, codedError(accountErr, err)
	}
	tok := acct.Token(server, root)
	if tok == nil {
		return nil, nil, newError(tokenErr, "%s does not track token %s on %s", addr, root, server)
	}
	return acct, tok, nil
}

// TransferToken sends tokens from the account's token wallet. The transfer is
// recorded, and the native and token balances on the network are refreshed.
func (c *Core) TransferToken(ctx context.Context, from, server string, p *TokenSendParams) (*msgjson.SendResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	_, cl, err := c.networkLedger(server)
	if err != nil {
		return nil, err
	}
	acct, tok, err := c.trackedToken(from, server, p.Root)
	if err != nil {
		return nil, err
	}
	kp, err := c.lock.KeyPair(acct)
	if err != nil {
		return nil, keyPairError(err)
	}
	call, body, err := tokenTransferCall(ctx, cl, from, kp, tok, p, deployWalletValue)
	if err != nil {
		return nil, codedError(tokenErr, err)
	}
	tx, err := cl.Run(ctx, call)
	if err != nil {
		c.notify(newSendNote("Token transfer failed", err.Error(), ErrorLevel, from, server, ""))
		return nil, codedError(sendErr, err)
	}

	now := tx.Now
	if now == 0 {
		now = time.Now().Unix()
	}
	detected := *tok
	record := &db.Transaction{
		ID:            tx.ID,
		AccountAddr:   from,
		Now:           now,
		Type:          db.TxTokenTransfer,
		Amount:        p.Amount,
		CoinName:      tok.Symbol,
		ContractName:  ledger.TokenWallet,
		Fees:          tx.TotalFees,
		DetectedToken: &detected,
		Parameters: map[string]any{
			"initFunctionName":  "transfer",
			"initFunctionInput": body,
		},
	}
	if _, err = c.db.AddTransactions(from, server, []*db.Transaction{record}); err != nil {
		log.Errorf("Error recording token transfer %s: %v", tx.ID, err)
	}
	if err = c.sync.UpdateAllBalances(ctx, server); err != nil {
		log.Warnf("Error updating balances on %s: %v", server, err)
	}
	if err = c.sync.UpdateTokenBalances(ctx, server); err != nil {
		log.Warnf("Error updating token balances on %s: %v", server, err)
	}
	if c.isOwnAccount(p.Destination) {
		c.sync.Trigger(p.Destination)
	}

	reason := fmt.Sprintf("Transfer of %s %s to %s", p.Amount, tok.Symbol, p.Destination)
	c.notify(newSendNote("Token transfer sent", reason, Success, from, server, tx.ID))
	c.notify(newWalletUpdateNote(from, server))
	return &msgjson.SendResult{ID: tx.ID, Reason: reason}, nil
}

// EstimateTokenFee estimates the fees of a token transfer.
func (c *Core) EstimateTokenFee(ctx context.Context, from, server string, p *TokenSendParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	_, cl, err := c.networkLedger(server)
	if err != nil {
		return "", err
	}
	acct, tok, err := c.trackedToken(from, server, p.Root)
	if err != nil {
		return "", err
	}
	kp, err := c.lock.KeyPair(acct)
	if err != nil {
		return "", keyPairError(err)
	}
	call, _, err := tokenTransferCall(ctx, cl, from, kp, tok, p, 0)
	if err != nil {
		return "", codedError(tokenErr, err)
	}
	fee, err := cl.EstimateFee(ctx, call)
	if err != nil {
		return "", codedError(ledgerErr, err)
	}
	return fee, nil
}

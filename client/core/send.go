// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/client/ledger"
	"decred.org/evervault/dex/msgjson"
	"decred.org/evervault/dex/wait"
)

const (
	// giverValue is the amount sent by TakeFromGiver.
	giverValue uint64 = 5_000_000_000
	// allBalanceFlags sends the whole balance and destroys nothing.
	allBalanceFlags = 130
	// minSubmitValue is the value given to submitTransaction when the whole
	// balance is sent.
	minSubmitValue uint64 = 1_000_000
)

// giverKeys are the well-known keys of the local network's giver contract.
var giverKeys = &keys.KeyPair{
	Public: "2ada2e65ab8eeab09490e3521415f45b6e42df9c760a639bcf53957550b25a16",
	Secret: "172af540e43a524763dd53b26a066d472a97c4de37d5498170564510608250c3",
}

// SendParams are the parameters of a transfer from a wallet contract.
type SendParams struct {
	Destination string `json:"destination"`
	// Amount is in nano units.
	Amount     uint64 `json:"amount"`
	Message    string `json:"message"`
	AllBalance bool   `json:"allBalance"`
}

// transferCall builds the wallet contract call for the transfer. The bounce
// flag is set if the destination exists on the ledger.
func transferCall(ctx context.Context, cl ledger.Client, from string, kp *keys.KeyPair, p *SendParams) (*ledger.Call, map[string]any, error) {
	st, err := cl.AccountState(ctx, p.Destination)
	if err != nil {
		return nil, nil, err
	}
	bounce := st != nil

	value := p.Amount
	if p.AllBalance {
		value = minSubmitValue
	}
	submitInput := map[string]any{
		"dest":       p.Destination,
		"value":      value,
		"bounce":     bounce,
		"allBalance": p.AllBalance,
	}
	call := &ledger.Call{
		Address:  from,
		Contract: ledger.SafeMultisigWallet,
		Function: "submitTransaction",
		Input:    submitInput,
		Keys:     kp,
		Comment:  p.Message,
	}
	if p.AllBalance {
		call.Function = "sendTransaction"
		call.Input = map[string]any{
			"dest":   p.Destination,
			"value":  uint64(0),
			"bounce": bounce,
			"flags":  allBalanceFlags,
		}
	}
	return call, submitInput, nil
}

// Send transfers funds from the account's wallet contract. The transfer is
// recorded, balances on the network are refreshed, and a destination that is
// one of the vault's accounts is synced.
func (c *Core) Send(ctx context.Context, from, server string, p *SendParams) (*msgjson.SendResult, error) {
	if p.Destination == "" {
		return nil, newError(paramsErr, "no destination")
	}
	if p.Amount == 0 && !p.AllBalance {
		return nil, newError(paramsErr, "zero amount")
	}
	net, cl, err := c.networkLedger(server)
	if err != nil {
		return nil, err
	}
	acct, err := c.db.Account(from)
	if err != nil {
		return nil, codedError(accountErr, err)
	}
	kp, err := c.lock.KeyPair(acct)
	if err != nil {
		return nil, keyPairError(err)
	}
	call, submitInput, err := transferCall(ctx, cl, from, kp, p)
	if err != nil {
		return nil, codedError(ledgerErr, err)
	}
	tx, err := cl.Run(ctx, call)
	if err != nil {
		c.notify(newSendNote("Send failed", err.Error(), ErrorLevel, from, server, ""))
		return nil, codedError(sendErr, err)
	}

	amount := tx.BalanceDelta
	if amount == "" {
		amount = "-" + strconv.FormatUint(p.Amount, 10)
	}
	now := tx.Now
	if now == 0 {
		now = time.Now().Unix()
	}
	record := &db.Transaction{
		ID:           tx.ID,
		AccountAddr:  from,
		Now:          now,
		Type:         db.TxTransfer,
		Amount:       amount,
		CoinName:     net.CoinName,
		ContractName: ledger.SafeMultisigWallet,
		Fees:         tx.TotalFees,
		Parameters: map[string]any{
			"initFunctionName":  "submitTransaction",
			"initFunctionInput": submitInput,
		},
	}
	if _, err = c.db.AddTransactions(from, server, []*db.Transaction{record}); err != nil {
		log.Errorf("Error recording transfer %s: %v", tx.ID, err)
	}
	if err = c.sync.UpdateAllBalances(ctx, server); err != nil {
		log.Warnf("Error updating balances on %s: %v", server, err)
	}
	if c.isOwnAccount(p.Destination) {
		c.sync.Trigger(p.Destination)
	}

	reason := fmt.Sprintf("SubmitTransaction for %s with amount %d", p.Destination, p.Amount)
	c.notify(newSendNote("Transfer sent", reason, Success, from, server, tx.ID))
	c.notify(newWalletUpdateNote(from, server))
	return &msgjson.SendResult{ID: tx.ID, Reason: reason}, nil
}

// EstimateFee estimates the fees of a transfer.
func (c *Core) EstimateFee(ctx context.Context, from, server string, p *SendParams) (string, error) {
	_, cl, err := c.networkLedger(server)
	if err != nil {
		return "", err
	}
	acct, err := c.db.Account(from)
	if err != nil {
		return "", codedError(accountErr, err)
	}
	kp, err := c.lock.KeyPair(acct)
	if err != nil {
		return "", keyPairError(err)
	}
	call, _, err := transferCall(ctx, cl, from, kp, p)
	if err != nil {
		return "", codedError(ledgerErr, err)
	}
	fee, err := cl.EstimateFee(ctx, call)
	if err != nil {
		return "", codedError(ledgerErr, err)
	}
	return fee, nil
}

// Deploy deploys the account's wallet contract on the network. A contract
// that was already deployed is not an error, and alreadyDeployed is true. A
// new deployment is watched until the contract is active.
func (c *Core) Deploy(ctx context.Context, addr, server string) (alreadyDeployed bool, err error) {
	_, cl, err := c.networkLedger(server)
	if err != nil {
		return false, err
	}
	acct, err := c.db.Account(addr)
	if err != nil {
		return false, codedError(accountErr, err)
	}
	kp, err := c.lock.KeyPair(acct)
	if err != nil {
		return false, keyPairError(err)
	}
	_, err = cl.Deploy(ctx, &ledger.Deploy{
		Address:  addr,
		Contract: ledger.SafeMultisigWallet,
		Input: map[string]any{
			"owners":      []string{"0x" + kp.Public},
			"reqConfirms": 0,
		},
		Keys: kp,
	})
	if errors.Is(err, ledger.ErrAlreadyDeployed) {
		if err = c.db.MarkDeployed(addr, server); err != nil {
			return true, codedError(dbErr, err)
		}
		c.notify(newWalletUpdateNote(addr, server))
		return true, nil
	}
	if err != nil {
		c.notify(newDeployNote("Deploy failed", err.Error(), ErrorLevel, addr, server))
		return false, codedError(deployErr, err)
	}
	c.watchDeploy(cl, addr, server)
	return false, nil
}

// watchDeploy waits for the deployed contract to become active, then marks
// the account deployed.
func (c *Core) watchDeploy(cl ledger.Client, addr, server string) {
	c.tickers.Wait(&wait.Waiter{
		Expiration: time.Now().Add(deployExpiration),
		TryFunc: func() wait.TryDirective {
			ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
			defer cancel()
			st, err := cl.AccountState(ctx, addr)
			if err != nil {
				log.Debugf("Deploy check of %s on %s: %v", addr, server, err)
				return wait.TryAgain
			}
			if st == nil || st.AccType != ledger.AccTypeActive {
				return wait.TryAgain
			}
			if err = c.db.MarkDeployed(addr, server); err != nil {
				log.Errorf("Error marking %s deployed on %s: %v", addr, server, err)
			}
			c.notify(newDeployNote("Wallet deployed", addr, Success, addr, server))
			c.sync.Trigger(addr)
			return wait.DontTryAgain
		},
		ExpireFunc: func() {
			c.notify(newDeployNote("Deploy unconfirmed",
				fmt.Sprintf("%s is not active on %s", addr, server), WarningLevel, addr, server))
		},
	})
}

// TakeFromGiver requests test funds for the address from the network's giver.
func (c *Core) TakeFromGiver(ctx context.Context, dest, server string) error {
	net, cl, err := c.networkLedger(server)
	if err != nil {
		return err
	}
	if net.Giver == "" {
		return newError(giverErr, "network %s has no giver", server)
	}
	_, err = cl.Run(ctx, &ledger.Call{
		Address:  net.Giver,
		Contract: ledger.GiverV2,
		Function: "sendTransaction",
		Input: map[string]any{
			"dest":   dest,
			"value":  giverValue,
			"bounce": false,
		},
		Keys: giverKeys,
	})
	if err != nil {
		return codedError(giverErr, err)
	}
	log.Infof("Giver on %s sent %d to %s", server, giverValue, dest)
	if err = c.sync.UpdateAllBalances(ctx, server); err != nil {
		log.Warnf("Error updating balances on %s: %v", server, err)
	}
	c.sync.Trigger(dest)
	return nil
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"

	"decred.org/evervault/client/broker"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/client/ledger"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encode"
	"decred.org/evervault/dex/msgjson"
)

// maxRandomBytes limits ever_crypto_generate_random_bytes.
const maxRandomBytes = 4096

// Check that Core satisfies the broker's collaborator interfaces.
var (
	_ broker.Approver = (*Core)(nil)
	_ broker.Handler  = (*Core)(nil)
)

// subKey identifies a ledger subscription. Handles are unique per network.
type subKey struct {
	server string
	handle uint32
}

// ProviderRequest handles a request from a page of the origin. The request is
// made on behalf of the selected account.
func (c *Core) ProviderRequest(ctx context.Context, origin string, msg *msgjson.Message) (any, *msgjson.Error) {
	res, err := c.broker.Dispatch(ctx, &broker.Request{
		ID:      msg.ID,
		Method:  msg.Method,
		Params:  msg.Params,
		Origin:  origin,
		Account: c.SelectedAccount(),
	})
	if err != nil {
		log.Debugf("%s request %s from %s failed: %v", msg.Method, msg.ID, origin, err)
		return nil, ProviderError(err)
	}
	return res, nil
}

// providerCodes maps error kinds to page protocol codes.
var providerCodes = map[dex.ErrorKind]int{
	broker.ErrRejected:            msgjson.CodeRejected,
	broker.ErrRequestTimedOut:     msgjson.CodeTimedOut,
	broker.ErrPermissionDenied:    msgjson.CodeUnauthorized,
	broker.ErrTooManyPending:      msgjson.CodeInvalidReq,
	lock.ErrWalletLocked:          msgjson.CodeWalletLocked,
	broker.ErrUnsupportedMethod:   msgjson.CodeUnsupported,
	broker.ErrInvalidParams:       msgjson.CodeInvalidArgs,
	ledger.ErrNetworkUnresponsive: msgjson.CodeDisconnected,
}

// ProviderError converts an error into a page protocol error. Errors of
// unknown kind are internal errors.
func ProviderError(err error) *msgjson.Error {
	code, found := providerCodes[dex.KindOf(err)]
	if !found {
		code = msgjson.CodeInternal
	}
	return msgjson.NewError(code, "%s", err.Error())
}

// ProviderState is the state reported to pages. Account and endpoint are
// withheld while the vault is locked.
func (c *Core) ProviderState() *msgjson.ProviderState {
	st := &msgjson.ProviderState{IsLocked: c.lock.IsLocked()}
	if st.IsLocked {
		return st
	}
	if acct := c.SelectedAccount(); acct != "" {
		st.Account = &acct
	}
	if net := c.SelectedNetwork(); net != "" {
		st.Endpoint = &net
	}
	return st
}

// RequestApproval shows an approval prompt in the wallet UI. Satisfies
// broker.Approver.
func (c *Core) RequestApproval(req *broker.PendingRequest) error {
	c.notify(newApprovalNote(req))
	return nil
}

// ApprovalDone removes an approval prompt from the wallet UI. Satisfies
// broker.Approver.
func (c *Core) ApprovalDone(id string, outcome broker.Outcome) {
	c.notify(newApprovalDoneNote(id, outcome))
}

// PendingApprovals are the unanswered approval prompts, oldest first.
func (c *Core) PendingApprovals() []*broker.PendingRequest {
	return c.broker.Pending()
}

// Approve approves a pending request. Data is passed to the request handler.
func (c *Core) Approve(id string, data json.RawMessage) error {
	if !c.broker.Resolve(id, true, data) {
		return newError(approvalErr, "no pending request %s", id)
	}
	return nil
}

// Reject rejects a pending request.
func (c *Core) Reject(id string) error {
	if !c.broker.Resolve(id, false, nil) {
		return newError(approvalErr, "no pending request %s", id)
	}
	return nil
}

// Permissions are the methods granted to the origin for the account.
func (c *Core) Permissions(addr, origin string) ([]string, error) {
	perms, err := c.db.Permissions(addr, origin)
	if err != nil {
		return nil, codedError(accountErr, err)
	}
	return perms, nil
}

func invalidParams(what string, err error) error {
	return dex.NewError(broker.ErrInvalidParams, what+": "+err.Error())
}

// uintParam parses a validated number parameter.
func uintParam(params map[string]any, name string) (uint64, error) {
	n, ok := params[name].(json.Number)
	if !ok {
		return 0, dex.NewError(broker.ErrInvalidParams, name+" must be a number")
	}
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, invalidParams(name, err)
	}
	return v, nil
}

// accountKeys decrypts the key pair of the request's account.
func (c *Core) accountKeys(addr string) (*keys.KeyPair, error) {
	acct, err := c.db.Account(addr)
	if err != nil {
		return nil, err
	}
	return c.lock.KeyPair(acct)
}

// HandleRequest runs an admitted page request. Satisfies broker.Handler.
// Approval data is not used by any method.
func (c *Core) HandleRequest(ctx context.Context, req *broker.Request, params map[string]any, _ json.RawMessage) (any, error) {
	switch req.Method {
	case broker.GetProviderState:
		return c.ProviderState(), nil

	case broker.GetSdkVersion:
		version := "unknown"
		if c.cfg.ABI != nil {
			version = c.cfg.ABI.Version()
		}
		return map[string]string{"version": version}, nil

	case broker.Account:
		acct, err := c.db.Account(req.Account)
		if err != nil {
			return nil, err
		}
		return &msgjson.AccountInfo{Address: acct.Address, PublicKey: acct.PublicKey}, nil

	case broker.Endpoint:
		return c.SelectedNetwork(), nil

	case broker.SendTransaction:
		return c.providerSend(ctx, req.Account, params)

	case broker.SignMessage:
		unsigned, err := base64.StdEncoding.DecodeString(params["data"].(string))
		if err != nil {
			return nil, invalidParams("data must be base64", err)
		}
		return c.sign(req.Account, unsigned)

	case broker.GetSignature:
		return c.sign(req.Account, []byte(params["data"].(string)))

	case broker.GetNaclBoxPublicKey:
		kp, err := c.accountKeys(req.Account)
		if err != nil {
			return nil, err
		}
		return kp.BoxPublicKey()

	case broker.GenerateRandomBytes:
		n, err := uintParam(params, "length")
		if err != nil {
			return nil, err
		}
		if n == 0 || n > maxRandomBytes {
			return nil, dex.NewError(broker.ErrInvalidParams, "length out of range")
		}
		b := encode.RandomBytes(int(n))
		return &msgjson.RandomBytes{
			Base64: base64.StdEncoding.EncodeToString(b),
			Hex:    hex.EncodeToString(b),
		}, nil

	case broker.EncryptMessage:
		kp, err := c.accountKeys(req.Account)
		if err != nil {
			return nil, err
		}
		sealed, err := kp.BoxSeal([]byte(params["decrypted"].(string)),
			params["nonce"].(string), params["their_public"].(string))
		if err != nil {
			return nil, invalidParams("cannot encrypt", err)
		}
		return base64.StdEncoding.EncodeToString(sealed), nil

	case broker.DecryptMessage:
		sealed, err := base64.StdEncoding.DecodeString(params["encrypted"].(string))
		if err != nil {
			return nil, invalidParams("encrypted must be base64", err)
		}
		kp, err := c.accountKeys(req.Account)
		if err != nil {
			return nil, err
		}
		msg, err := kp.BoxOpen(sealed, params["nonce"].(string), params["their_public"].(string))
		if err != nil {
			return nil, invalidParams("cannot decrypt", err)
		}
		return string(msg), nil

	case broker.Subscribe:
		return c.subscribe(ctx, req.Origin, params)

	case broker.Unsubscribe:
		return c.unsubscribe(req.Origin, params)
	}
	return nil, broker.ErrUnsupportedMethod
}

// providerSend sends a transfer for a page. A failed transfer is a result
// with an error message, not an error.
func (c *Core) providerSend(ctx context.Context, from string, params map[string]any) (any, error) {
	amount, err := uintParam(params, "amount")
	if err != nil {
		return nil, err
	}
	p := &SendParams{
		Destination: params["destination"].(string),
		Amount:      amount,
		Message:     params["message"].(string),
	}
	if all, ok := params["allBalance"].(bool); ok {
		p.AllBalance = all
	}
	res, err := c.Send(ctx, from, c.SelectedNetwork(), p)
	if err != nil {
		return &msgjson.SendResult{Error: err.Error()}, nil
	}
	return res, nil
}

// sign signs the message with the account's key.
func (c *Core) sign(addr string, msg []byte) (*msgjson.Signed, error) {
	kp, err := c.accountKeys(addr)
	if err != nil {
		return nil, err
	}
	sig, err := kp.Sign(msg)
	if err != nil {
		return nil, err
	}
	combined, err := kp.SignCombined(msg)
	if err != nil {
		return nil, err
	}
	return &msgjson.Signed{
		Signed:    base64.StdEncoding.EncodeToString(combined),
		Signature: hex.EncodeToString(sig),
	}, nil
}

// subscribe subscribes the origin to ledger events on the selected network.
// Events are relayed as message notifications to the origin's pages.
func (c *Core) subscribe(ctx context.Context, origin string, params map[string]any) (uint32, error) {
	filter, err := json.Marshal(params["filter"])
	if err != nil {
		return 0, invalidParams("bad filter", err)
	}
	server := c.SelectedNetwork()
	_, cl, err := c.networkLedger(server)
	if err != nil {
		return 0, err
	}
	sub := &subscription{origin: origin, server: server}
	handle, err := cl.Subscribe(ctx, &ledger.SubscribeParams{
		Collection: params["collection"].(string),
		Filter:     filter,
		Result:     params["result"].(string),
	}, func(p json.RawMessage, responseType int) {
		c.subMtx.Lock()
		h := sub.handle
		c.subMtx.Unlock()
		c.notify(newSubscriptionNote(origin, &msgjson.SubscriptionData{
			SubscriptionID: h,
			Params:         p,
			ResponseType:   responseType,
		}))
	})
	if err != nil {
		return 0, codedError(subscriptionErr, err)
	}
	c.subMtx.Lock()
	sub.handle = handle
	c.subs[subKey{server, handle}] = sub
	c.subMtx.Unlock()
	log.Debugf("%s subscribed to %s on %s (handle %d)", origin, params["collection"], server, handle)
	return handle, nil
}

// unsubscribe cancels one of the origin's subscriptions on the selected
// network.
func (c *Core) unsubscribe(origin string, params map[string]any) (bool, error) {
	h, err := uintParam(params, "handle")
	if err != nil {
		return false, err
	}
	if h > math.MaxUint32 {
		return false, dex.NewError(broker.ErrInvalidParams, "handle out of range")
	}
	key := subKey{c.SelectedNetwork(), uint32(h)}
	c.subMtx.Lock()
	sub, found := c.subs[key]
	if found && sub.origin == origin {
		delete(c.subs, key)
	}
	c.subMtx.Unlock()
	if !found || sub.origin != origin {
		return false, dex.NewError(broker.ErrInvalidParams, "unknown subscription")
	}
	_, cl, err := c.networkLedger(key.server)
	if err != nil {
		return false, err
	}
	if err = cl.Unsubscribe(key.handle); err != nil {
		return false, codedError(subscriptionErr, err)
	}
	return true, nil
}

// ProviderConnected records a new page link of the origin.
func (c *Core) ProviderConnected(origin string) {
	c.subMtx.Lock()
	c.links[origin]++
	c.subMtx.Unlock()
}

// ProviderDisconnected records the close of a page link of the origin. When
// the origin's last link closes, its ledger subscriptions are cancelled.
func (c *Core) ProviderDisconnected(origin string) {
	c.subMtx.Lock()
	n := c.links[origin] - 1
	if n > 0 {
		c.links[origin] = n
		c.subMtx.Unlock()
		return
	}
	delete(c.links, origin)
	var dropped []subKey
	for key, sub := range c.subs {
		if sub.origin == origin {
			dropped = append(dropped, key)
			delete(c.subs, key)
		}
	}
	c.subMtx.Unlock()

	for _, key := range dropped {
		_, cl, err := c.networkLedger(key.server)
		if err != nil {
			log.Debugf("Subscription %d of %s on %s not cancelled: %v", key.handle, origin, key.server, err)
			continue
		}
		if err = cl.Unsubscribe(key.handle); err != nil {
			log.Debugf("Error cancelling subscription %d of %s on %s: %v", key.handle, origin, key.server, err)
		}
	}
	if len(dropped) > 0 {
		log.Debugf("Cancelled %d subscriptions of disconnected page %s", len(dropped), origin)
	}
}

// dropSubscriptions forgets the subscriptions on a removed network.
func (c *Core) dropSubscriptions(server string) {
	c.subMtx.Lock()
	defer c.subMtx.Unlock()
	for key := range c.subs {
		if key.server == server {
			delete(c.subs, key)
		}
	}
}

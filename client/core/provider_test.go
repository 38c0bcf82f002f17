// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"decred.org/evervault/client/broker"
	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/client/ledger"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encode"
	"decred.org/evervault/dex/msgjson"
)

const tOrigin = "https://dapp.example"

type providerResult struct {
	res  any
	mErr *msgjson.Error
}

// request sends a page request from the origin in a goroutine.
func (rig *testRig) request(origin, method, params string) <-chan *providerResult {
	ch := make(chan *providerResult, 1)
	msg := &msgjson.Message{ID: "1", Method: method}
	if params != "" {
		msg.Params = json.RawMessage(params)
	}
	go func() {
		res, mErr := rig.core.ProviderRequest(tCtx, origin, msg)
		ch <- &providerResult{res, mErr}
	}()
	return ch
}

// call makes a request that is not expected to need approval.
func (rig *testRig) call(t *testing.T, origin, method, params string) (any, *msgjson.Error) {
	t.Helper()
	r := <-rig.request(origin, method, params)
	return r.res, r.mErr
}

// autoApprove approves every prompt until the test ends. The feed is consumed
// by the approver.
func (rig *testRig) autoApprove(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		for {
			select {
			case n := <-rig.feed:
				if an, ok := n.(*ApprovalNote); ok {
					if err := rig.core.Approve(an.Request.ID, nil); err != nil {
						t.Errorf("Approve error: %v", err)
					}
				}
			case <-done:
				return
			}
		}
	}()
}

func (rig *testRig) grant(t *testing.T, addr, origin string, methods ...string) {
	t.Helper()
	if _, err := rig.core.db.SavePermissions(addr, origin, methods); err != nil {
		t.Fatalf("SavePermissions error: %v", err)
	}
}

func TestSendApprovalPrecedesLedger(t *testing.T) {
	rig := newTestRig(t)
	a := rig.unlockedWithAccount(t)
	before := rig.ledgerCalls()

	resC := rig.request(tOrigin, broker.SendTransaction,
		`{"destination":"0:dest","amount":1000000000,"message":"hi"}`)

	note := rig.waitNote(t, NoteTypeApproval).(*ApprovalNote)
	if note.Request.Method != broker.SendTransaction || note.Request.Origin != tOrigin || note.Request.Account != a.Address {
		t.Fatalf("wrong approval request %+v", note.Request)
	}
	if n := rig.ledgerCalls(); n != before {
		t.Fatalf("ledger called %d times before approval", n-before)
	}
	if len(rig.core.PendingApprovals()) != 1 {
		t.Fatalf("prompt not pending")
	}
	if err := rig.core.Approve(note.Request.ID, nil); err != nil {
		t.Fatalf("Approve error: %v", err)
	}
	r := <-resC
	if r.mErr != nil {
		t.Fatalf("send error: %v", r.mErr)
	}
	res := r.res.(*msgjson.SendResult)
	if res.ID != "run-tx" || res.Error != "" {
		t.Fatalf("bad send result %+v", res)
	}

	tl := rig.ledgers[db.MainNet]
	if n := tl.CallCount("Run"); n != 1 {
		t.Fatalf("expected 1 Run call, got %d", n)
	}
	call := tl.Runs[0]
	if call.Comment != "hi" || call.Input["bounce"] != false || call.Input["value"] != uint64(1_000_000_000) {
		t.Fatalf("bad transfer call %+v", call)
	}
	txs, err := rig.core.Transactions(a.Address, db.MainNet, 20, 1)
	if err != nil {
		t.Fatalf("Transactions error: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != db.TxTransfer || txs[0].Amount != "-1000000000" {
		t.Fatalf("expected one recorded transfer, got %+v", txs)
	}
	if txs[0].Parameters["initFunctionName"] != "submitTransaction" {
		t.Fatalf("missing call parameters")
	}
	done := rig.waitNote(t, NoteTypeApprovalDone).(*ApprovalDoneNote)
	if done.ID != note.Request.ID || done.Outcome != "approved" {
		t.Fatalf("bad approval done note %+v", done)
	}

	// A failed transfer is a result, and nothing is recorded.
	tl.RunErr = errors.New("not enough balance")
	resC = rig.request(tOrigin, broker.SendTransaction,
		`{"destination":"0:dest","amount":5,"message":""}`)
	note = rig.waitNote(t, NoteTypeApproval).(*ApprovalNote)
	rig.core.Approve(note.Request.ID, nil)
	r = <-resC
	if r.mErr != nil {
		t.Fatalf("failed send returned an error: %v", r.mErr)
	}
	if res = r.res.(*msgjson.SendResult); res.Error == "" || res.ID != "" {
		t.Fatalf("bad failed send result %+v", res)
	}
	if txs, _ = rig.core.Transactions(a.Address, db.MainNet, 20, 1); len(txs) != 1 {
		t.Fatalf("failed transfer recorded")
	}
}

func TestPermissionFlow(t *testing.T) {
	rig := newTestRig(t)
	a := rig.unlockedWithAccount(t)

	if _, mErr := rig.call(t, tOrigin, broker.Account, ""); mErr == nil || mErr.Code != msgjson.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", mErr)
	}

	resC := rig.request(tOrigin, broker.RequestPermissions, `{"permissions":["ever_account"]}`)
	note := rig.waitNote(t, NoteTypeApproval).(*ApprovalNote)
	rig.core.Approve(note.Request.ID, nil)
	r := <-resC
	if r.mErr != nil {
		t.Fatalf("requestPermissions error: %v", r.mErr)
	}
	if perms := r.res.([]string); len(perms) != 1 || perms[0] != broker.Account {
		t.Fatalf("wrong grants %v", perms)
	}

	res, mErr := rig.call(t, tOrigin, broker.Account, "")
	if mErr != nil {
		t.Fatalf("ever_account error: %v", mErr)
	}
	if info := res.(*msgjson.AccountInfo); info.Address != a.Address || info.PublicKey != a.PublicKey {
		t.Fatalf("wrong account info %+v", info)
	}
	// Grants are per origin.
	if _, mErr = rig.call(t, "https://other.example", broker.Account, ""); mErr == nil || mErr.Code != msgjson.CodeUnauthorized {
		t.Fatalf("grant leaked to another origin: %v", mErr)
	}

	// Asking again for a granted method prompts nothing.
	res, mErr = rig.call(t, tOrigin, broker.RequestPermissions, `{"permissions":["ever_account"]}`)
	if mErr != nil || len(res.([]string)) != 1 {
		t.Fatalf("repeated requestPermissions = %v, %v", res, mErr)
	}
	perms, _ := rig.core.Permissions(a.Address, tOrigin)
	if len(perms) != 1 {
		t.Fatalf("wrong stored grants %v", perms)
	}

	resC = rig.request(tOrigin, broker.SignMessage, `{"data":"aGk="}`)
	note = rig.waitNote(t, NoteTypeApproval).(*ApprovalNote)
	if err := rig.core.Reject(note.Request.ID); err != nil {
		t.Fatalf("Reject error: %v", err)
	}
	if r = <-resC; r.mErr == nil || r.mErr.Code != msgjson.CodeRejected {
		t.Fatalf("expected rejection, got %v", r.mErr)
	}
	if err := rig.core.Reject(note.Request.ID); !errorHasCode(err, approvalErr) {
		t.Fatalf("wrong error rejecting twice: %v", err)
	}

	if _, mErr = rig.call(t, tOrigin, "eth_sendTransaction", ""); mErr == nil || mErr.Code != msgjson.CodeUnsupported {
		t.Fatalf("expected unsupported, got %v", mErr)
	}
	if _, mErr = rig.call(t, tOrigin, broker.GenerateRandomBytes, `{"length":"16"}`); mErr == nil || mErr.Code != msgjson.CodeInvalidArgs {
		t.Fatalf("expected invalid args, got %v", mErr)
	}

	// Provider state hides the account while locked.
	res, _ = rig.call(t, tOrigin, broker.GetProviderState, "")
	if st := res.(*msgjson.ProviderState); st.IsLocked || st.Account == nil || *st.Account != a.Address {
		t.Fatalf("bad unlocked provider state %+v", st)
	}
	rig.core.Logout()
	if _, mErr = rig.call(t, tOrigin, broker.Account, ""); mErr == nil || mErr.Code != msgjson.CodeWalletLocked {
		t.Fatalf("expected wallet locked, got %v", mErr)
	}
	res, _ = rig.call(t, tOrigin, broker.GetProviderState, "")
	if st := res.(*msgjson.ProviderState); !st.IsLocked || st.Account != nil || st.Endpoint != nil {
		t.Fatalf("bad locked provider state %+v", st)
	}
}

func TestLogoutRejectsPending(t *testing.T) {
	rig := newTestRig(t)
	rig.unlockedWithAccount(t)
	resC := rig.request(tOrigin, broker.SignMessage, `{"data":"aGk="}`)
	rig.waitNote(t, NoteTypeApproval)
	rig.core.Logout()
	if r := <-resC; r.mErr == nil || r.mErr.Code != msgjson.CodeRejected {
		t.Fatalf("expected rejection, got %v", r.mErr)
	}
	if len(rig.core.PendingApprovals()) != 0 {
		t.Fatalf("prompt still pending")
	}
}

func TestCryptoMethods(t *testing.T) {
	rig := newTestRig(t)
	a := rig.unlockedWithAccount(t)
	rig.grant(t, a.Address, tOrigin, broker.SignMessage, broker.GetSignature,
		broker.GetNaclBoxPublicKey, broker.EncryptMessage, broker.DecryptMessage)
	rig.autoApprove(t)

	res, mErr := rig.call(t, tOrigin, broker.GetSignature, `{"data":"hello"}`)
	if mErr != nil {
		t.Fatalf("getSignature error: %v", mErr)
	}
	signed := res.(*msgjson.Signed)
	sig, _ := hex.DecodeString(signed.Signature)
	if !keys.Verify(a.PublicKey, []byte("hello"), sig) {
		t.Fatalf("signature does not verify")
	}
	combined, _ := base64.StdEncoding.DecodeString(signed.Signed)
	if string(combined[len(combined)-5:]) != "hello" {
		t.Fatalf("signed message does not end with the message")
	}

	res, mErr = rig.call(t, tOrigin, broker.SignMessage, `{"data":"aGVsbG8="}`)
	if mErr != nil {
		t.Fatalf("signMessage error: %v", mErr)
	}
	sig, _ = hex.DecodeString(res.(*msgjson.Signed).Signature)
	if !keys.Verify(a.PublicKey, []byte("hello"), sig) {
		t.Fatalf("signMessage signature does not verify")
	}
	if _, mErr = rig.call(t, tOrigin, broker.SignMessage, `{"data":"%%%"}`); mErr == nil || mErr.Code != msgjson.CodeInvalidArgs {
		t.Fatalf("expected invalid args for bad base64, got %v", mErr)
	}

	res, mErr = rig.call(t, tOrigin, broker.GetNaclBoxPublicKey, "")
	if mErr != nil {
		t.Fatalf("getNaclBoxPublicKey error: %v", mErr)
	}
	ourBox := res.(string)

	other := keys.Generate()
	otherBox, err := other.BoxPublicKey()
	if err != nil {
		t.Fatalf("BoxPublicKey error: %v", err)
	}
	nonce := hex.EncodeToString(encode.RandomBytes(keys.NonceSize))

	res, mErr = rig.call(t, tOrigin, broker.EncryptMessage,
		fmt.Sprintf(`{"decrypted":"secret","nonce":%q,"their_public":%q}`, nonce, otherBox))
	if mErr != nil {
		t.Fatalf("encryptMessage error: %v", mErr)
	}
	sealed, _ := base64.StdEncoding.DecodeString(res.(string))
	opened, err := other.BoxOpen(sealed, nonce, ourBox)
	if err != nil || string(opened) != "secret" {
		t.Fatalf("BoxOpen = %q, %v", opened, err)
	}

	sealed, err = other.BoxSeal([]byte("reply"), nonce, ourBox)
	if err != nil {
		t.Fatalf("BoxSeal error: %v", err)
	}
	res, mErr = rig.call(t, tOrigin, broker.DecryptMessage,
		fmt.Sprintf(`{"encrypted":%q,"nonce":%q,"their_public":%q}`,
			base64.StdEncoding.EncodeToString(sealed), nonce, otherBox))
	if mErr != nil {
		t.Fatalf("decryptMessage error: %v", mErr)
	}
	if res.(string) != "reply" {
		t.Fatalf("decrypted %q", res)
	}

	res, mErr = rig.call(t, tOrigin, broker.GenerateRandomBytes, `{"length":16}`)
	if mErr != nil {
		t.Fatalf("random bytes error: %v", mErr)
	}
	if rb := res.(*msgjson.RandomBytes); len(rb.Hex) != 32 {
		t.Fatalf("wrong random length %d", len(rb.Hex)/2)
	}
	if _, mErr = rig.call(t, tOrigin, broker.GenerateRandomBytes, `{"length":0}`); mErr == nil || mErr.Code != msgjson.CodeInvalidArgs {
		t.Fatalf("expected invalid args for zero length, got %v", mErr)
	}

	res, _ = rig.call(t, tOrigin, broker.GetSdkVersion, "")
	if v := res.(map[string]string)["version"]; v != "unknown" {
		t.Fatalf("wrong sdk version %q", v)
	}
}

func TestSubscriptions(t *testing.T) {
	rig := newTestRig(t)
	a := rig.unlockedWithAccount(t)
	const otherOrigin = "https://other.example"
	rig.grant(t, a.Address, tOrigin, broker.Subscribe, broker.Unsubscribe)
	rig.grant(t, a.Address, otherOrigin, broker.Unsubscribe)

	res, mErr := rig.call(t, tOrigin, broker.Subscribe,
		`{"collection":"transactions","filter":{"account_addr":{"eq":"0:x"}},"result":"id"}`)
	if mErr != nil {
		t.Fatalf("subscribe error: %v", mErr)
	}
	handle := res.(uint32)

	tl := rig.ledgers[db.MainNet]
	if !tl.Publish(handle, json.RawMessage(`{"id":"t1"}`), ledger.ResponseData) {
		t.Fatalf("no subscription on the ledger")
	}
	note := rig.waitNote(t, NoteTypeSubscription).(*SubscriptionNote)
	if note.Recipient() != tOrigin || note.Message.Data.SubscriptionID != handle ||
		note.Message.Data.ResponseType != ledger.ResponseData || string(note.Message.Data.Params) != `{"id":"t1"}` {
		t.Fatalf("bad subscription note %+v", note.Message.Data)
	}

	unsub := fmt.Sprintf(`{"handle":%d}`, handle)
	if _, mErr = rig.call(t, otherOrigin, broker.Unsubscribe, unsub); mErr == nil || mErr.Code != msgjson.CodeInvalidArgs {
		t.Fatalf("another origin unsubscribed: %v", mErr)
	}
	res, mErr = rig.call(t, tOrigin, broker.Unsubscribe, unsub)
	if mErr != nil || res != true {
		t.Fatalf("unsubscribe = %v, %v", res, mErr)
	}
	if _, mErr = rig.call(t, tOrigin, broker.Unsubscribe, unsub); mErr == nil || mErr.Code != msgjson.CodeInvalidArgs {
		t.Fatalf("expected invalid args unsubscribing twice, got %v", mErr)
	}
	if tl.Publish(handle, nil, ledger.ResponseData) {
		t.Fatalf("ledger subscription not removed")
	}
}

func TestUnsubscribeHandleRange(t *testing.T) {
	rig := newTestRig(t)
	a := rig.unlockedWithAccount(t)
	rig.grant(t, a.Address, tOrigin, broker.Subscribe, broker.Unsubscribe)

	res, mErr := rig.call(t, tOrigin, broker.Subscribe,
		`{"collection":"transactions","filter":{},"result":"id"}`)
	if mErr != nil {
		t.Fatalf("subscribe error: %v", mErr)
	}
	handle := res.(uint32)
	// A handle that wraps to a live one is rejected.
	wrapped := fmt.Sprintf(`{"handle":%d}`, uint64(handle)+1<<32)
	if _, mErr = rig.call(t, tOrigin, broker.Unsubscribe, wrapped); mErr == nil || mErr.Code != msgjson.CodeInvalidArgs {
		t.Fatalf("expected invalid args for wrapped handle, got %v", mErr)
	}
	if !rig.ledgers[db.MainNet].Publish(handle, nil, ledger.ResponseData) {
		t.Fatalf("subscription removed by wrapped handle")
	}
}

func TestDisconnectCancelsSubscriptions(t *testing.T) {
	rig := newTestRig(t)
	a := rig.unlockedWithAccount(t)
	const otherOrigin = "https://other.example"
	rig.grant(t, a.Address, tOrigin, broker.Subscribe)
	rig.grant(t, a.Address, otherOrigin, broker.Subscribe)

	subscribe := func(origin string) uint32 {
		t.Helper()
		res, mErr := rig.call(t, origin, broker.Subscribe,
			`{"collection":"messages","filter":{},"result":"id"}`)
		if mErr != nil {
			t.Fatalf("subscribe error: %v", mErr)
		}
		return res.(uint32)
	}
	rig.core.ProviderConnected(tOrigin)
	rig.core.ProviderConnected(tOrigin)
	rig.core.ProviderConnected(otherOrigin)
	h1 := subscribe(tOrigin)
	h2 := subscribe(tOrigin)
	other := subscribe(otherOrigin)

	tl := rig.ledgers[db.MainNet]
	live := func(h uint32) bool { return tl.Publish(h, nil, ledger.ResponseData) }

	// One of two links closes.
	rig.core.ProviderDisconnected(tOrigin)
	if !live(h1) || !live(h2) {
		t.Fatalf("subscriptions cancelled while a link is open")
	}
	rig.core.ProviderDisconnected(tOrigin)
	if live(h1) || live(h2) {
		t.Fatalf("subscriptions not cancelled after the last link closed")
	}
	if !live(other) {
		t.Fatalf("another origin's subscription cancelled")
	}
	rig.core.subMtx.Lock()
	n := len(rig.core.subs)
	_, counted := rig.core.links[tOrigin]
	rig.core.subMtx.Unlock()
	if n != 1 || counted {
		t.Fatalf("%d subscriptions tracked, origin counted = %t", n, counted)
	}
}

func TestProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"rejected", broker.ErrRejected, msgjson.CodeRejected},
		{"timed out", broker.ErrRequestTimedOut, msgjson.CodeTimedOut},
		{"denied", dex.NewError(broker.ErrPermissionDenied, "x"), msgjson.CodeUnauthorized},
		{"locked", codedError(walletLockedErr, lock.ErrWalletLocked), msgjson.CodeWalletLocked},
		{"unsupported", broker.ErrUnsupportedMethod, msgjson.CodeUnsupported},
		{"params", dex.NewError(broker.ErrInvalidParams, "x"), msgjson.CodeInvalidArgs},
		{"disconnected", fmt.Errorf("query: %w", ledger.ErrNetworkUnresponsive), msgjson.CodeDisconnected},
		{"too many", broker.ErrTooManyPending, msgjson.CodeInvalidReq},
		{"other", errors.New("boom"), msgjson.CodeInternal},
	}
	for _, tt := range tests {
		if code := ProviderError(tt.err).Code; code != tt.code {
			t.Errorf("%s: wanted code %d, got %d", tt.name, tt.code, code)
		}
	}
}

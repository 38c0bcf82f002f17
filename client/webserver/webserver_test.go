// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"decred.org/evervault/client/broker"
	"decred.org/evervault/client/core"
	"decred.org/evervault/client/db"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/msgjson"
	"github.com/gorilla/websocket"
)

var (
	tErr    = errors.New("test error")
	tCtx    context.Context
	tOrigin = "https://dapp.example"
)

func TestMain(m *testing.M) {
	log = dex.StdOutLogger("TEST", dex.LevelTrace)
	var shutdown context.CancelFunc
	tCtx, shutdown = context.WithCancel(context.Background())
	doIt := func() int {
		defer shutdown()
		return m.Run()
	}
	os.Exit(doIt())
}

type TCore struct {
	mtx       sync.Mutex
	locked    bool
	initErr   error
	pw        string
	pin       string
	approved  map[string]json.RawMessage
	rejected  map[string]bool
	pending   []*broker.PendingRequest
	feed      chan core.Notification
	accts     []*db.Account
	txs       []*db.Transaction
	txArgs    [3]any
	requests  chan *msgjson.Message
	response  any
	reqErr    *msgjson.Error
	perms     []string
	acctErr   error
	approveOK bool
	linkEvts  chan string
}

func newTCore() *TCore {
	return &TCore{
		locked:    true,
		pw:        "abc",
		approved:  make(map[string]json.RawMessage),
		rejected:  make(map[string]bool),
		feed:      make(chan core.Notification, 16),
		requests:  make(chan *msgjson.Message, 16),
		linkEvts:  make(chan string, 16),
		approveOK: true,
		accts:     []*db.Account{db.NewAccount("0:aa", "A", "pub", nil)},
	}
}

func (c *TCore) State() (lock.State, error) {
	if c.IsLocked() {
		return lock.Locked, nil
	}
	return lock.Unlocked, nil
}
func (c *TCore) IsLocked() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.locked
}
func (c *TCore) InitializeClient(pw []byte) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.initErr != nil {
		return c.initErr
	}
	c.locked = false
	return nil
}
func (c *TCore) Login(cred *lock.Credential) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	ok := (cred.Type == lock.CredPassword && string(cred.Value) == c.pw) ||
		(cred.Type == lock.CredPincode && c.pin != "" && string(cred.Value) == c.pin)
	if ok {
		c.locked = false
	}
	return ok
}
func (c *TCore) Logout() {
	c.mtx.Lock()
	c.locked = true
	c.mtx.Unlock()
}
func (c *TCore) NotificationFeed() <-chan core.Notification { return c.feed }
func (c *TCore) ProviderRequest(_ context.Context, _ string, msg *msgjson.Message) (any, *msgjson.Error) {
	c.requests <- msg
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.response, c.reqErr
}
func (c *TCore) ProviderState() *msgjson.ProviderState {
	return &msgjson.ProviderState{IsLocked: c.IsLocked()}
}
func (c *TCore) linkEvent(evt string) {
	select {
	case c.linkEvts <- evt:
	default:
	}
}
func (c *TCore) ProviderConnected(origin string)            { c.linkEvent("+" + origin) }
func (c *TCore) ProviderDisconnected(origin string)         { c.linkEvent("-" + origin) }
func (c *TCore) PendingApprovals() []*broker.PendingRequest { return c.pending }
func (c *TCore) Approve(id string, data json.RawMessage) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.approveOK {
		return tErr
	}
	c.approved[id] = data
	return nil
}
func (c *TCore) Reject(id string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.approveOK {
		return tErr
	}
	c.rejected[id] = true
	return nil
}
func (c *TCore) Accounts() ([]*db.Account, error) { return c.accts, c.acctErr }
func (c *TCore) Account(addr string) (*db.Account, error) {
	for _, a := range c.accts {
		if a.Address == addr {
			return a, nil
		}
	}
	return nil, db.ErrAccountNotFound
}
func (c *TCore) SelectAccount(addr string) error {
	_, err := c.Account(addr)
	return err
}
func (c *TCore) SelectedAccount() string { return "0:aa" }
func (c *TCore) Transactions(addr, server string, pageSize, page int) ([]*db.Transaction, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.txArgs = [3]any{addr, server, pageSize}
	return c.txs, nil
}
func (c *TCore) Networks() ([]*db.Network, error)  { return db.DefaultNetworks(), nil }
func (c *TCore) SelectNetwork(server string) error { return nil }
func (c *TCore) SelectedNetwork() string           { return db.MainNet }
func (c *TCore) Permissions(addr, origin string) ([]string, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.perms, nil
}

// set modifies the TCore under its lock.
func (c *TCore) set(f func(*TCore)) {
	c.mtx.Lock()
	f(c)
	c.mtx.Unlock()
}

type testServer struct {
	s    *WebServer
	core *TCore
	http *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tc := newTCore()
	s, err := New(&Config{Core: tc, Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx, cancel := context.WithCancel(tCtx)
	s.ctx = ctx
	srv := httptest.NewServer(s.mux)
	go s.readNotifications(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{s: s, core: tc, http: srv}
}

// post sends a JSON body, with the auth cookie if one is given.
func (ts *testServer) post(t *testing.T, route, body string, cookie *http.Cookie) (*http.Response, *standardResponse) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, ts.http.URL+route, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s request error: %v", route, err)
	}
	defer resp.Body.Close()
	sr := new(standardResponse)
	json.NewDecoder(resp.Body).Decode(sr)
	return resp, sr
}

func (ts *testServer) login(t *testing.T) *http.Cookie {
	t.Helper()
	resp, sr := ts.post(t, "/api/login", `{"type":"password","value":"abc"}`, nil)
	if !sr.OK {
		t.Fatalf("login failed: %s", sr.Msg)
	}
	for _, c := range resp.Cookies() {
		if c.Name == authCK {
			return c
		}
	}
	t.Fatalf("no auth cookie")
	return nil
}

func (ts *testServer) dialProvider(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/provider"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{tOrigin}})
	if err != nil {
		t.Fatalf("provider dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) *msgjson.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	msg, err := msgjson.DecodeMessage(b)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return msg
}

func TestLoginAuth(t *testing.T) {
	ts := newTestServer(t)

	if _, sr := ts.post(t, "/api/login", `{"value":"wrong"}`, nil); sr.OK {
		t.Fatalf("logged in with wrong password")
	}
	if _, sr := ts.post(t, "/api/login", `{"type":"fingerprint","value":"abc"}`, nil); sr.OK {
		t.Fatalf("logged in with unknown credential type")
	}
	resp, _ := ts.post(t, "/api/approve", `{"id":"x"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated approve got status %d", resp.StatusCode)
	}

	cookie := ts.login(t)
	if _, sr := ts.post(t, "/api/approve", `{"id":"x","data":{"fee":1}}`, cookie); !sr.OK {
		t.Fatalf("approve failed: %s", sr.Msg)
	}
	if string(ts.core.approved["x"]) != `{"fee":1}` {
		t.Fatalf("approval data not passed: %s", ts.core.approved["x"])
	}
	if _, sr := ts.post(t, "/api/reject", `{"id":"y"}`, cookie); !sr.OK || !ts.core.rejected["y"] {
		t.Fatalf("reject failed: %s", sr.Msg)
	}
	ts.core.set(func(c *TCore) { c.approveOK = false })
	if _, sr := ts.post(t, "/api/approve", `{"id":"z"}`, cookie); sr.OK {
		t.Fatalf("approve error not reported")
	}

	// A stale cookie does not survive a lock.
	ts.core.Logout()
	if resp, _ = ts.post(t, "/api/reject", `{"id":"y"}`, cookie); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("locked vault accepted the session, status %d", resp.StatusCode)
	}

	// A new login invalidates the old token.
	ts.login(t)
	if resp, _ = ts.post(t, "/api/reject", `{"id":"y"}`, cookie); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old token accepted, status %d", resp.StatusCode)
	}
}

func TestInit(t *testing.T) {
	ts := newTestServer(t)
	ts.core.set(func(c *TCore) { c.initErr = tErr })
	if _, sr := ts.post(t, "/api/init", `{"pass":"abc"}`, nil); sr.OK {
		t.Fatalf("init error not reported")
	}
	ts.core.set(func(c *TCore) { c.initErr = nil })
	resp, sr := ts.post(t, "/api/init", `{"pass":"abc"}`, nil)
	if !sr.OK || len(resp.Cookies()) == 0 {
		t.Fatalf("init did not log in: %s", sr.Msg)
	}
}

func TestAPIGets(t *testing.T) {
	ts := newTestServer(t)
	cookie := ts.login(t)

	get := func(route string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, ts.http.URL+route, nil)
		req.AddCookie(cookie)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s error: %v", route, err)
		}
		return resp
	}

	resp := get("/api/accounts")
	var accts struct {
		OK       bool          `json:"ok"`
		Accounts []*db.Account `json:"accounts"`
	}
	json.NewDecoder(resp.Body).Decode(&accts)
	resp.Body.Close()
	if !accts.OK || len(accts.Accounts) != 1 {
		t.Fatalf("bad accounts response %+v", accts)
	}

	resp = get("/api/transactions?size=500&page=2")
	resp.Body.Close()
	var txArgs [3]any
	ts.core.set(func(c *TCore) { txArgs = c.txArgs })
	if txArgs != [3]any{"0:aa", db.MainNet, maxPageSize} {
		t.Fatalf("wrong transactions args %v", txArgs)
	}
	resp = get("/api/transactions?page=0")
	sr := new(standardResponse)
	json.NewDecoder(resp.Body).Decode(sr)
	resp.Body.Close()
	if sr.OK {
		t.Fatalf("page 0 accepted")
	}

	resp = get("/api/qr/0:aa")
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("wrong QR content type %q", ct)
	}
	resp.Body.Close()
	resp = get("/api/qr/0:unknown")
	json.NewDecoder(resp.Body).Decode(sr)
	resp.Body.Close()
	if sr.OK {
		t.Fatalf("QR served for unknown account")
	}

	ts.core.set(func(c *TCore) { c.perms = []string{broker.Account} })
	resp = get("/api/permissions?origin=" + tOrigin)
	var perms struct {
		Permissions []string `json:"permissions"`
	}
	json.NewDecoder(resp.Body).Decode(&perms)
	resp.Body.Close()
	if len(perms.Permissions) != 1 {
		t.Fatalf("wrong permissions %v", perms.Permissions)
	}
}

func TestProviderLink(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dialProvider(t)

	msg := readMsg(t, conn)
	if msg.Method != msgjson.ConnectRoute {
		t.Fatalf("expected connect notification, got %s", msg.Method)
	}
	st := new(msgjson.ProviderState)
	if err := msg.Unmarshal(st); err != nil || !st.IsLocked {
		t.Fatalf("bad connect state %+v, %v", st, err)
	}

	ts.core.set(func(c *TCore) { c.response = &msgjson.AccountInfo{Address: "0:aa"} })
	req, _ := msgjson.NewRequest("7", broker.Account, nil)
	b, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write error: %v", err)
	}
	select {
	case got := <-ts.core.requests:
		if got.ID != "7" || got.Method != broker.Account {
			t.Fatalf("wrong request %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("request not handled")
	}
	resp := readMsg(t, conn)
	info := new(msgjson.AccountInfo)
	if err := resp.UnmarshalResult(info); err != nil || info.Address != "0:aa" {
		t.Fatalf("bad response %+v, %v", info, err)
	}

	ts.core.set(func(c *TCore) { c.reqErr = msgjson.NewError(msgjson.CodeUnauthorized, "not granted") })
	req, _ = msgjson.NewRequest("8", broker.Account, nil)
	b, _ = json.Marshal(req)
	conn.WriteMessage(websocket.TextMessage, b)
	<-ts.core.requests
	resp = readMsg(t, conn)
	if resp.Data == nil || resp.Data.Code != msgjson.CodeUnauthorized {
		t.Fatalf("expected unauthorized response, got %s", resp)
	}

	// Provider notes reach pages. Notes for another origin do not.
	ts.core.feed <- &core.SubscriptionNote{Origin: "https://other.example"}
	ts.core.feed <- &core.AccountChangedNote{Address: "0:bb"}
	msg = readMsg(t, conn)
	if msg.Method != msgjson.AccountChangedRoute || string(msg.Params) != `"0:bb"` {
		t.Fatalf("wrong notification %s", msg)
	}
}

func TestProviderLinkLifecycle(t *testing.T) {
	ts := newTestServer(t)
	nextEvt := func() string {
		t.Helper()
		select {
		case evt := <-ts.core.linkEvts:
			return evt
		case <-time.After(5 * time.Second):
			t.Fatalf("no link event")
		}
		return ""
	}
	conn := ts.dialProvider(t)
	readMsg(t, conn)
	if evt := nextEvt(); evt != "+"+tOrigin {
		t.Fatalf("wrong connect event %q", evt)
	}
	conn.Close()
	if evt := nextEvt(); evt != "-"+tOrigin {
		t.Fatalf("wrong disconnect event %q", evt)
	}
}

func TestProviderRateLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.s.limitMtx.Lock()
	ts.s.originRate = 0.001
	ts.s.originBurst = 1
	ts.s.limitMtx.Unlock()
	conn := ts.dialProvider(t)
	readMsg(t, conn) // connect

	for _, id := range []string{"1", "2"} {
		req, _ := msgjson.NewRequest(id, broker.GetProviderState, nil)
		b, _ := json.Marshal(req)
		conn.WriteMessage(websocket.TextMessage, b)
	}
	var limited bool
	for i := 0; i < 2; i++ {
		resp := readMsg(t, conn)
		if resp.Data != nil && resp.Data.Code == msgjson.CodeInvalidReq {
			limited = resp.ID == "2"
		}
	}
	if !limited {
		t.Fatalf("second request not rate limited")
	}
}

func TestUILink(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ui"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatalf("unauthenticated UI connection accepted")
	}

	cookie := ts.login(t)
	hdr := http.Header{"Cookie": []string{cookie.String()}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("UI dial error: %v", err)
	}
	defer conn.Close()

	// Wait for the server to register the link.
	for i := 0; ; i++ {
		ts.s.mtx.RLock()
		n := len(ts.s.uis)
		ts.s.mtx.RUnlock()
		if n == 1 {
			break
		}
		if i == 100 {
			t.Fatalf("UI link not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	pr := &broker.PendingRequest{ID: "p1", Method: broker.SendTransaction, Origin: tOrigin}
	ts.core.feed <- &core.ApprovalNote{Request: pr}
	msg := readMsg(t, conn)
	got := new(broker.PendingRequest)
	if msg.Method != msgjson.ApprovalRequestRoute || msg.Unmarshal(got) != nil || got.ID != "p1" {
		t.Fatalf("wrong approval notification %s", msg)
	}
	// Subscription events are for pages only.
	ts.core.feed <- &core.SubscriptionNote{Origin: tOrigin}
	ts.core.feed <- &core.ApprovalDoneNote{ID: "p1", Outcome: "approved"}
	msg = readMsg(t, conn)
	if msg.Method != msgjson.ApprovalDoneRoute {
		t.Fatalf("expected approvalDone, got %s", msg)
	}

	req, _ := msgjson.NewRequest("1", "approvalResponse", &msgjson.ApprovalResponse{ID: "p1", Approved: true})
	b, _ := json.Marshal(req)
	conn.WriteMessage(websocket.TextMessage, b)
	resp := readMsg(t, conn)
	var ok bool
	if err = resp.UnmarshalResult(&ok); err != nil || !ok {
		t.Fatalf("bad approval response %s", resp)
	}
	ts.core.mtx.Lock()
	_, approved := ts.core.approved["p1"]
	ts.core.mtx.Unlock()
	if !approved {
		t.Fatalf("prompt not approved")
	}

	req, _ = msgjson.NewRequest("2", "nonsense", nil)
	b, _ = json.Marshal(req)
	conn.WriteMessage(websocket.TextMessage, b)
	if resp = readMsg(t, conn); resp.Data == nil || resp.Data.Code != msgjson.RPCUnknownRoute {
		t.Fatalf("expected unknown route, got %s", resp)
	}
}

func TestFileServer(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(dir+"/index.html", []byte("<html>vault</html>"), 0644)
	os.Mkdir(dir+"/sub", 0755)
	s, err := New(&Config{Core: newTCore(), SiteDir: dir})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for _, tt := range []struct {
		path string
		code int
		body string
	}{
		{"/", http.StatusOK, "vault"},
		{"/index.html", http.StatusOK, "vault"},
		{"/sub", http.StatusForbidden, ""},
		{"/missing.js", http.StatusNotFound, ""},
	} {
		rec := httptest.NewRecorder()
		s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s: wanted %d, got %d", tt.path, tt.code, rec.Code)
		}
		if tt.body != "" && !bytes.Contains(rec.Body.Bytes(), []byte(tt.body)) {
			t.Errorf("%s: wrong body %q", tt.path, rec.Body.String())
		}
	}
	if _, err = New(&Config{Core: newTCore(), SiteDir: dir + "/nope"}); err == nil {
		t.Fatalf("missing site directory accepted")
	}
}

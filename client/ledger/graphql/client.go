// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package graphql implements ledger.Client against a network's GraphQL API.
// Requests fail over across the network's endpoints.
package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"decred.org/evervault/client/db"
	"decred.org/evervault/client/ledger"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/dexnet"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPollInterval   = time.Second
	defaultSendTimeout    = time.Minute
	defaultRateLimit      = 10 // requests per second
)

// Config is the configuration for a Client.
type Config struct {
	Endpoints []string
	// TorProxy is an optional SOCKS5 proxy address.
	TorProxy string
	// RateLimit is the maximum number of requests per second. Zero means
	// defaultRateLimit.
	RateLimit float64
	// PollInterval is the interval between checks for the transaction of a
	// sent message.
	PollInterval time.Duration
	// SendTimeout limits the wait for the transaction of a sent message.
	SendTimeout time.Duration
	// ABI provides contract message encoding. Contract calls fail with
	// ledger.ErrABIUnavailable without it.
	ABI ledger.ABI
}

// Client is a ledger.Client for a GraphQL API.
type Client struct {
	cfg      *Config
	http     *dexnet.Client
	limiter  *rate.Limiter
	epIdx    atomic.Uint32
	abi      ledger.ABI
	dial     dexnet.DialFunc
	subsMtx  sync.Mutex
	subConn  *subscriptionConn
	nextSub  atomic.Uint32
	closed   atomic.Bool
	pollTime time.Duration
	sendTime time.Duration
}

var _ ledger.Client = (*Client)(nil)

// NewClient creates a Client. At least one endpoint is required.
func NewClient(cfg *Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("no endpoints")
	}
	rl := cfg.RateLimit
	if rl <= 0 {
		rl = defaultRateLimit
	}
	c := &Client{
		cfg:      cfg,
		http:     dexnet.NewClient(cfg.TorProxy, defaultRequestTimeout),
		limiter:  rate.NewLimiter(rate.Limit(rl), int(rl)+1),
		abi:      cfg.ABI,
		dial:     dexnet.ProxyDialer(cfg.TorProxy),
		pollTime: cfg.PollInterval,
		sendTime: cfg.SendTimeout,
	}
	if c.pollTime <= 0 {
		c.pollTime = defaultPollInterval
	}
	if c.sendTime <= 0 {
		c.sendTime = defaultSendTimeout
	}
	return c, nil
}

// NewDialer creates a ledger.Dialer that builds a Client from a network's
// endpoints.
func NewDialer(torProxy string, abi ledger.ABI) ledger.Dialer {
	return func(n *db.Network) (ledger.Client, error) {
		return NewClient(&Config{
			Endpoints: n.Endpoints,
			TorProxy:  torProxy,
			ABI:       abi,
		})
	}
}

// Endpoint is the endpoint currently in use.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoints[int(c.epIdx.Load())%len(c.cfg.Endpoints)]
}

// graphqlURL is the GraphQL URL of an endpoint. Bare hosts use https.
func graphqlURL(ep string) string {
	if !strings.Contains(ep, "://") {
		ep = "https://" + ep
	}
	return strings.TrimSuffix(ep, "/") + "/graphql"
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []*gqlError     `json:"errors"`
}

// queryError is an error reported by the API itself. It is not retried on
// other endpoints.
type queryError struct {
	msgs []string
}

func (e *queryError) Error() string {
	return "graphql: " + strings.Join(e.msgs, "; ")
}

func (r *gqlResponse) queryError() *queryError {
	qe := &queryError{}
	for _, e := range r.Errors {
		qe.msgs = append(qe.msgs, e.Message)
	}
	return qe
}

// query runs the query, trying each endpoint in turn starting with the last
// one that worked. The data field of the response is unmarshaled into result.
func (c *Client) query(ctx context.Context, q string, vars map[string]any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &gqlRequest{Query: q, Variables: vars}
	n := len(c.cfg.Endpoints)
	start := int(c.epIdx.Load())
	var errs []string
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		ep := c.cfg.Endpoints[idx]
		var resp, errResp gqlResponse
		var status int
		err := c.http.PostJSON(ctx, graphqlURL(ep), &resp, req, dexnet.WithSizeLimit(16<<20),
			dexnet.WithStatusFunc(func(code int) { status = code }), dexnet.WithErrorParsing(&errResp))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A rejected query fails the same way on every endpoint.
			if status == http.StatusBadRequest && len(errResp.Errors) > 0 {
				return errResp.queryError()
			}
			log.Debugf("Endpoint %s failed: %v", ep, err)
			errs = append(errs, fmt.Sprintf("%s: %v", ep, err))
			continue
		}
		if idx != start {
			log.Infof("Switched to endpoint %s", ep)
			c.epIdx.Store(uint32(idx))
		}
		if len(resp.Errors) > 0 {
			return resp.queryError()
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Data, result)
	}
	return dex.NewError(ledger.ErrNetworkUnresponsive, strings.Join(errs, ", "))
}

const transactionFields = `id account_addr now in_message { id boc body } out_messages { id boc body }
	aborted orig_status end_status block_id balance_delta(format: DEC) total_fees(format: DEC)`

// Transactions retrieves transactions of the addresses newer than since.
func (c *Client) Transactions(ctx context.Context, addrs []string, since int64) ([]*ledger.Transaction, error) {
	if len(addrs) == 0 {
		return []*ledger.Transaction{}, nil
	}
	q := `query($addrs: [String], $since: Float) {
		transactions(
			filter: { account_addr: { in: $addrs }, now: { gt: $since } }
			orderBy: [{ path: "now", direction: DESC }]
		) { ` + transactionFields + ` }
	}`
	var res struct {
		Transactions []*ledger.Transaction `json:"transactions"`
	}
	err := c.query(ctx, q, map[string]any{"addrs": addrs, "since": since}, &res)
	if err != nil {
		return nil, err
	}
	return res.Transactions, nil
}

// Balances retrieves the native balances of the addresses.
func (c *Client) Balances(ctx context.Context, addrs []string) (map[string]uint64, error) {
	bals := make(map[string]uint64, len(addrs))
	if len(addrs) == 0 {
		return bals, nil
	}
	q := `query($ids: [String]) {
		accounts(filter: { id: { in: $ids } }) { id balance(format: DEC) }
	}`
	var res struct {
		Accounts []*ledger.AccountState `json:"accounts"`
	}
	if err := c.query(ctx, q, map[string]any{"ids": addrs}, &res); err != nil {
		return nil, err
	}
	for _, a := range res.Accounts {
		bal, err := parseBalance(a.Balance)
		if err != nil {
			return nil, fmt.Errorf("bad balance %q for %s: %w", a.Balance, a.ID, err)
		}
		bals[a.ID] = bal
	}
	return bals, nil
}

func parseBalance(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// AccountState retrieves the account's state, or nil if the account doesn't
// exist.
func (c *Client) AccountState(ctx context.Context, addr string) (*ledger.AccountState, error) {
	q := `query($id: String) {
		accounts(filter: { id: { eq: $id } }) { id balance(format: DEC) code_hash boc acc_type }
	}`
	var res struct {
		Accounts []*ledger.AccountState `json:"accounts"`
	}
	if err := c.query(ctx, q, map[string]any{"id": addr}, &res); err != nil {
		return nil, err
	}
	if len(res.Accounts) == 0 {
		return nil, nil
	}
	return res.Accounts[0], nil
}

// postMessage sends an external message to the network.
func (c *Client) postMessage(ctx context.Context, msg *ledger.ExternalMessage) error {
	q := `mutation($requests: [Request]) { postRequests(requests: $requests) }`
	vars := map[string]any{
		"requests": []map[string]string{{"id": msg.ID, "body": msg.Boc}},
	}
	return c.query(ctx, q, vars, nil)
}

// awaitTransaction polls for the transaction created by the inbound message.
func (c *Client) awaitTransaction(ctx context.Context, msgID string) (*ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.sendTime)
	defer cancel()
	q := `query($id: String) {
		transactions(filter: { in_msg: { eq: $id } }) { ` + transactionFields + ` }
	}`
	ticker := time.NewTicker(c.pollTime)
	defer ticker.Stop()
	for {
		var res struct {
			Transactions []*ledger.Transaction `json:"transactions"`
		}
		err := c.query(ctx, q, map[string]any{"id": msgID}, &res)
		switch {
		case err == nil && len(res.Transactions) > 0:
			return res.Transactions[0], nil
		case err != nil && !errors.Is(err, ledger.ErrNetworkUnresponsive):
			return nil, err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("no transaction for message %s: %w", msgID, ctx.Err())
		}
	}
}

// send posts the message and waits for its transaction.
func (c *Client) send(ctx context.Context, msg *ledger.ExternalMessage) (*ledger.Transaction, error) {
	if err := c.postMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("error posting message: %w", err)
	}
	tx, err := c.awaitTransaction(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if tx.Aborted {
		return tx, fmt.Errorf("transaction %s aborted", tx.ID)
	}
	return tx, nil
}

// Run sends a signed contract call.
func (c *Client) Run(ctx context.Context, call *ledger.Call) (*ledger.Transaction, error) {
	if c.abi == nil {
		return nil, ledger.ErrABIUnavailable
	}
	msg, err := c.abi.EncodeCall(call)
	if err != nil {
		return nil, fmt.Errorf("error encoding %s.%s: %w", call.Contract, call.Function, err)
	}
	return c.send(ctx, msg)
}

// Deploy deploys a contract. ErrAlreadyDeployed is returned if the account is
// already active.
func (c *Client) Deploy(ctx context.Context, d *ledger.Deploy) (*ledger.Transaction, error) {
	if c.abi == nil {
		return nil, ledger.ErrABIUnavailable
	}
	state, err := c.AccountState(ctx, d.Address)
	if err != nil {
		return nil, err
	}
	if state != nil && state.AccType == ledger.AccTypeActive {
		return nil, dex.NewError(ledger.ErrAlreadyDeployed, d.Address)
	}
	msg, err := c.abi.EncodeDeploy(d)
	if err != nil {
		return nil, fmt.Errorf("error encoding deploy of %s: %w", d.Contract, err)
	}
	return c.send(ctx, msg)
}

// EstimateFee estimates the fees of the call against the account's current
// state.
func (c *Client) EstimateFee(ctx context.Context, call *ledger.Call) (string, error) {
	if c.abi == nil {
		return "", ledger.ErrABIUnavailable
	}
	state, err := c.AccountState(ctx, call.Address)
	if err != nil {
		return "", err
	}
	if state == nil {
		return "", fmt.Errorf("account %s not found", call.Address)
	}
	msg, err := c.abi.EncodeCall(call)
	if err != nil {
		return "", err
	}
	return c.abi.EstimateFee(state.Boc, msg)
}

// DecodeTokenTransfer decodes the message body as a token wallet call.
func (c *Client) DecodeTokenTransfer(_ context.Context, boc string) (*ledger.TokenTransfer, error) {
	if c.abi == nil || boc == "" {
		return nil, nil
	}
	body, err := c.abi.DecodeBody(ledger.TokenWallet, boc)
	if err != nil {
		// Not a token wallet message.
		return nil, nil
	}
	amt, _ := body.Value["amount"].(string)
	return &ledger.TokenTransfer{Name: body.Name, Amount: amt, Value: body.Value}, nil
}

// runGetter runs a getter of the contract deployed at addr.
func (c *Client) runGetter(ctx context.Context, addr, contract, function string, input map[string]any) (map[string]any, error) {
	if c.abi == nil {
		return nil, ledger.ErrABIUnavailable
	}
	state, err := c.AccountState(ctx, addr)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Boc == "" {
		return nil, fmt.Errorf("account %s not found", addr)
	}
	return c.abi.RunGetter(state.Boc, contract, function, input)
}

// TokenInfo retrieves the details of a token root.
func (c *Client) TokenInfo(ctx context.Context, root string) (*ledger.TokenInfo, error) {
	out, err := c.runGetter(ctx, root, ledger.TokenRoot, "getDetails", map[string]any{"_answer_id": 0})
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(out["value0"])
	if err != nil {
		return nil, err
	}
	var details struct {
		Name     string      `json:"name"`
		Symbol   string      `json:"symbol"`
		Decimals json.Number `json:"decimals"`
		Icon     string      `json:"icon"`
	}
	if err = json.Unmarshal(b, &details); err != nil {
		return nil, fmt.Errorf("bad token details: %w", err)
	}
	dec, err := strconv.ParseUint(details.Decimals.String(), 10, 8)
	if err != nil {
		return nil, fmt.Errorf("bad token decimals %q", details.Decimals)
	}
	return &ledger.TokenInfo{
		Name:     details.Name,
		Symbol:   details.Symbol,
		Decimals: uint8(dec),
		Icon:     details.Icon,
	}, nil
}

// TokenWallet is the owner's token wallet address for the token root.
func (c *Client) TokenWallet(ctx context.Context, root, owner string) (string, error) {
	out, err := c.runGetter(ctx, root, ledger.TokenRoot, "getWalletAddress",
		map[string]any{"_answer_id": 0, "wallet_public_key_": 0, "owner_address_": owner})
	if err != nil {
		return "", err
	}
	addr, _ := out["value0"].(string)
	if addr == "" {
		return "", errors.New("no wallet address returned")
	}
	return addr, nil
}

// TokenBalance is the balance of a token wallet.
func (c *Client) TokenBalance(ctx context.Context, wallet string) (string, error) {
	out, err := c.runGetter(ctx, wallet, ledger.TokenWallet, "balance", map[string]any{"_answer_id": 0})
	if err != nil {
		return "", err
	}
	switch bal := out["value0"].(type) {
	case string:
		return bal, nil
	case json.Number:
		return bal.String(), nil
	case float64:
		return strconv.FormatFloat(bal, 'f', 0, 64), nil
	}
	return "", errors.New("no balance returned")
}

// Close closes the subscription connection, if any.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.subsMtx.Lock()
	sc := c.subConn
	c.subConn = nil
	c.subsMtx.Unlock()
	if sc != nil {
		sc.close()
	}
}

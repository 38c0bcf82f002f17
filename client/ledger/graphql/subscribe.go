// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"decred.org/evervault/client/ledger"
	"decred.org/evervault/dex"
	"github.com/gorilla/websocket"
)

const (
	// graphql-ws message types.
	gqlConnInit      = "connection_init"
	gqlConnAck       = "connection_ack"
	gqlConnError     = "connection_error"
	gqlConnKeepAlive = "ka"
	gqlConnTerminate = "connection_terminate"
	gqlStart         = "start"
	gqlStop          = "stop"
	gqlData          = "data"
	gqlErrorMsg      = "error"
	gqlComplete      = "complete"

	wsWriteWait     = 5 * time.Second
	wsHandshakeWait = 10 * time.Second
)

var (
	identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// Result selections are field names, nested selections and field
	// arguments like balance(format: DEC).
	resultRE = regexp.MustCompile(`^[A-Za-z0-9_{}(),:\s]+$`)
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscription struct {
	handle     uint32
	collection string
	handler    ledger.SubscriptionHandler
}

// subscriptionConn is a graphql-ws connection multiplexing subscriptions.
type subscriptionConn struct {
	ws     *websocket.Conn
	wsMtx  sync.Mutex
	subMtx sync.Mutex
	subs   map[string]*subscription
	done   chan struct{}
	once   sync.Once
}

// wsURL is the websocket URL of an endpoint's GraphQL API.
func wsURL(ep string) string {
	u := graphqlURL(ep)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func (sc *subscriptionConn) send(msg *wsMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	sc.wsMtx.Lock()
	defer sc.wsMtx.Unlock()
	sc.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return sc.ws.WriteMessage(websocket.TextMessage, b)
}

func (sc *subscriptionConn) close() {
	sc.once.Do(func() {
		sc.send(&wsMessage{Type: gqlConnTerminate})
		sc.wsMtx.Lock()
		sc.ws.Close()
		sc.wsMtx.Unlock()
		close(sc.done)
	})
}

func (sc *subscriptionConn) add(id string, sub *subscription) {
	sc.subMtx.Lock()
	sc.subs[id] = sub
	sc.subMtx.Unlock()
}

func (sc *subscriptionConn) remove(handle uint32) (string, bool) {
	sc.subMtx.Lock()
	defer sc.subMtx.Unlock()
	for id, sub := range sc.subs {
		if sub.handle == handle {
			delete(sc.subs, id)
			return id, true
		}
	}
	return "", false
}

func (sc *subscriptionConn) get(id string) *subscription {
	sc.subMtx.Lock()
	defer sc.subMtx.Unlock()
	return sc.subs[id]
}

// read dispatches incoming messages until the connection fails. Remaining
// subscriptions then receive a ResponseError.
func (sc *subscriptionConn) read(onClose func()) {
	defer func() {
		sc.close()
		onClose()
		sc.subMtx.Lock()
		subs := sc.subs
		sc.subs = make(map[string]*subscription)
		sc.subMtx.Unlock()
		errMsg, _ := json.Marshal(map[string]string{"message": "subscription connection closed"})
		for _, sub := range subs {
			sub.handler(errMsg, ledger.ResponseError)
		}
	}()
	for {
		_, b, err := sc.ws.ReadMessage()
		if err != nil {
			select {
			case <-sc.done:
			default:
				log.Errorf("Subscription connection read error: %v", err)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(b, &msg); err != nil {
			log.Errorf("Bad subscription message: %v", err)
			continue
		}
		switch msg.Type {
		case gqlData:
			sub := sc.get(msg.ID)
			if sub == nil {
				continue
			}
			var payload struct {
				Data   map[string]json.RawMessage `json:"data"`
				Errors []*gqlError                `json:"errors"`
			}
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				log.Errorf("Bad subscription payload: %v", err)
				continue
			}
			if len(payload.Errors) > 0 {
				errMsg, _ := json.Marshal(payload.Errors[0])
				sub.handler(errMsg, ledger.ResponseError)
				continue
			}
			sub.handler(payload.Data[sub.collection], ledger.ResponseData)
		case gqlErrorMsg:
			if sub := sc.get(msg.ID); sub != nil {
				sub.handler(msg.Payload, ledger.ResponseError)
			}
		case gqlComplete:
			if sub := sc.get(msg.ID); sub != nil {
				sc.remove(sub.handle)
			}
		case gqlConnKeepAlive:
		default:
			log.Debugf("Unhandled subscription message type %q", msg.Type)
		}
	}
}

// subscriptionConn returns the open subscription connection, dialing one if
// needed.
func (c *Client) subscriptionConn(ctx context.Context) (*subscriptionConn, error) {
	c.subsMtx.Lock()
	defer c.subsMtx.Unlock()
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}
	if c.subConn != nil {
		return c.subConn, nil
	}
	dialer := &websocket.Dialer{
		NetDialContext:   c.dial,
		HandshakeTimeout: wsHandshakeWait,
		Subprotocols:     []string{"graphql-ws"},
	}
	uri := wsURL(c.Endpoint())
	ws, _, err := dialer.DialContext(ctx, uri, http.Header{})
	if err != nil {
		return nil, dex.NewError(ledger.ErrNetworkUnresponsive, err.Error())
	}
	sc := &subscriptionConn{
		ws:   ws,
		subs: make(map[string]*subscription),
		done: make(chan struct{}),
	}
	if err := sc.send(&wsMessage{Type: gqlConnInit, Payload: json.RawMessage(`{}`)}); err != nil {
		ws.Close()
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(wsHandshakeWait))
	var ack wsMessage
	if err := ws.ReadJSON(&ack); err != nil {
		ws.Close()
		return nil, fmt.Errorf("no connection_ack from %s: %w", uri, err)
	}
	if ack.Type != gqlConnAck {
		ws.Close()
		return nil, fmt.Errorf("expected %s, got %s: %s", gqlConnAck, ack.Type, string(ack.Payload))
	}
	ws.SetReadDeadline(time.Time{})
	c.subConn = sc
	go sc.read(func() {
		c.subsMtx.Lock()
		if c.subConn == sc {
			c.subConn = nil
		}
		c.subsMtx.Unlock()
	})
	return sc, nil
}

// subscriptionQuery builds the subscription document.
func subscriptionQuery(params *ledger.SubscribeParams) (string, error) {
	if !identifierRE.MatchString(params.Collection) {
		return "", fmt.Errorf("invalid collection %q", params.Collection)
	}
	if !resultRE.MatchString(params.Result) {
		return "", fmt.Errorf("invalid result %q", params.Result)
	}
	var filter string
	if len(params.Filter) > 0 && string(params.Filter) != "null" {
		var v any
		dec := json.NewDecoder(bytes.NewReader(params.Filter))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return "", fmt.Errorf("invalid filter: %w", err)
		}
		if _, ok := v.(map[string]any); !ok {
			return "", fmt.Errorf("filter must be an object")
		}
		var sb strings.Builder
		if err := writeLiteral(&sb, v); err != nil {
			return "", err
		}
		filter = "(filter: " + sb.String() + ")"
	}
	return fmt.Sprintf("subscription { %s%s { %s } }", params.Collection, filter, params.Result), nil
}

// writeLiteral writes the JSON value as a GraphQL input literal.
func writeLiteral(sb *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(t))
	case json.Number:
		sb.WriteString(t.String())
	case string:
		sb.WriteString(strconv.Quote(t))
	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := writeLiteral(sb, e); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if !identifierRE.MatchString(k) {
				return fmt.Errorf("invalid filter field %q", k)
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			if err := writeLiteral(sb, t[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("unsupported filter value %T", v)
	}
	return nil
}

// Subscribe subscribes to a ledger collection.
func (c *Client) Subscribe(ctx context.Context, params *ledger.SubscribeParams, h ledger.SubscriptionHandler) (uint32, error) {
	q, err := subscriptionQuery(params)
	if err != nil {
		return 0, err
	}
	sc, err := c.subscriptionConn(ctx)
	if err != nil {
		return 0, err
	}
	handle := c.nextSub.Add(1)
	id := strconv.FormatUint(uint64(handle), 10)
	payload, _ := json.Marshal(&gqlRequest{Query: q})
	sc.add(id, &subscription{handle: handle, collection: params.Collection, handler: h})
	if err := sc.send(&wsMessage{ID: id, Type: gqlStart, Payload: payload}); err != nil {
		sc.remove(handle)
		return 0, err
	}
	log.Debugf("Subscribed to %s with handle %d", params.Collection, handle)
	return handle, nil
}

// Unsubscribe stops the subscription.
func (c *Client) Unsubscribe(handle uint32) error {
	c.subsMtx.Lock()
	sc := c.subConn
	c.subsMtx.Unlock()
	if sc == nil {
		return ledger.ErrUnknownSubscription
	}
	id, found := sc.remove(handle)
	if !found {
		return ledger.ErrUnknownSubscription
	}
	return sc.send(&wsMessage{ID: id, Type: gqlStop})
}

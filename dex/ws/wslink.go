// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package ws carries msgjson messages over websocket connections with pages
// and the wallet UI.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"decred.org/evervault/dex"
	"decred.org/evervault/dex/msgjson"
	"github.com/gorilla/websocket"
)

const (
	// outBufferSize is the size of the WSLink's buffered channel for outgoing
	// messages.
	outBufferSize = 128
	writeWait     = 5 * time.Second
	// maxMessageSize limits incoming messages.
	maxMessageSize = 1 << 20
)

// ErrPeerDisconnected is returned if Send is called on a disconnected link.
const ErrPeerDisconnected = dex.ErrorKind("peer disconnected")

// Connection is a websocket connection. It is satisfied by *websocket.Conn.
// Tests use a stub.
type Connection interface {
	Close() error

	SetReadDeadline(t time.Time) error
	ReadMessage() (int, []byte, error)

	SetWriteDeadline(t time.Time) error
	WriteMessage(int, []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Handler handles an incoming message. A returned error is sent back as the
// response to the message.
type Handler func(link *WSLink, msg *msgjson.Message) *msgjson.Error

// WSLink is a websocket connection to a page or the wallet UI.
type WSLink struct {
	addr   string
	origin string
	conn   Connection
	on     atomic.Bool
	quit   context.CancelFunc
	// stopped is closed when the link goes down, unblocking senders.
	stopped    chan struct{}
	outChan    chan *sendData
	wg         sync.WaitGroup
	handler    Handler
	pingPeriod time.Duration
}

type sendData struct {
	data []byte
	ret  chan<- error
}

// NewWSLink creates a WSLink. origin identifies the remote page.
func NewWSLink(addr, origin string, conn Connection, pingPeriod time.Duration, handler Handler) *WSLink {
	return &WSLink{
		addr:       addr,
		origin:     origin,
		conn:       conn,
		stopped:    make(chan struct{}),
		outChan:    make(chan *sendData, outBufferSize),
		pingPeriod: pingPeriod,
		handler:    handler,
	}
}

// Origin is the origin of the remote page.
func (c *WSLink) Origin() string {
	return c.origin
}

// Addr is the remote address.
func (c *WSLink) Addr() string {
	return c.addr
}

// Off is true once the link is disconnected.
func (c *WSLink) Off() bool {
	return !c.on.Load()
}

// Send queues the message. A nil error only means the link was up.
func (c *WSLink) Send(msg *msgjson.Message) error {
	return c.send(msg, nil)
}

// SendNow sends the message and waits for the write.
func (c *WSLink) SendNow(msg *msgjson.Message) error {
	errc := make(chan error, 1)
	if err := c.send(msg, errc); err != nil {
		return err
	}
	return <-errc
}

func (c *WSLink) send(msg *msgjson.Message, ret chan<- error) error {
	if c.Off() {
		return ErrPeerDisconnected
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.outChan <- &sendData{b, ret}:
	case <-c.stopped:
		return ErrPeerDisconnected
	}
	return nil
}

// SendError sends an error response.
func (c *WSLink) SendError(id string, rpcErr *msgjson.Error) {
	msg, _ := msgjson.NewResponse(id, nil, rpcErr)
	if err := c.Send(msg); err != nil {
		log.Debugf("SendError: failed to send message to %s: %v", c.addr, err)
	}
}

// Notify sends a notification.
func (c *WSLink) Notify(method string, params any) error {
	msg, err := msgjson.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Connect starts the link's goroutines. The returned WaitGroup is done when
// the link has shut down.
func (c *WSLink) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	if !c.on.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("attempted to start a running WSLink")
	}
	linkCtx, quit := context.WithCancel(ctx)
	c.quit = quit
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pingPeriod * 2)); err != nil {
		quit()
		return nil, fmt.Errorf("failed to set initial read deadline for %s: %w", c.addr, err)
	}
	log.Tracef("Starting websocket messaging with %s (%s)", c.addr, c.origin)
	c.wg.Add(3)
	go c.inHandler(linkCtx)
	go c.outHandler(linkCtx)
	go c.pingHandler(linkCtx)
	return &c.wg, nil
}

func (c *WSLink) stop() bool {
	if !c.on.CompareAndSwap(true, false) {
		return false
	}
	close(c.stopped)
	c.quit()
	return true
}

// Disconnect shuts the link down. Queued messages are written before the
// connection closes.
func (c *WSLink) Disconnect() {
	if !c.stop() {
		log.Debugf("Disconnect attempted on stopped WSLink.")
	}
}

func (c *WSLink) inHandler(ctx context.Context) {
	defer c.wg.Done()
	defer c.stop()
	for ctx.Err() == nil {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				log.Errorf("Websocket receive error from %s: %v", c.addr, err)
			}
			return
		}
		msg, err := msgjson.DecodeMessage(b)
		if err != nil {
			c.SendError("", msgjson.NewError(msgjson.CodeParseError, "failed to parse message: %v", err))
			continue
		}
		if msg.Type() != msgjson.Request {
			c.SendError(msg.ID, msgjson.NewError(msgjson.CodeInvalidReq, "expected a request with an id and a method"))
			continue
		}
		if rpcErr := c.handler(c, msg); rpcErr != nil {
			c.SendError(msg.ID, rpcErr)
		}
	}
}

func (c *WSLink) write(sd *sendData) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.TextMessage, sd.data)
	if sd.ret != nil {
		sd.ret <- err
	}
	if err != nil {
		c.stop()
		return false
	}
	return true
}

func (c *WSLink) outHandler(ctx context.Context) {
	defer c.wg.Done()
	defer c.conn.Close()
	defer func() {
		// Anything left could not be written.
		for {
			select {
			case sd := <-c.outChan:
				if sd.ret != nil {
					sd.ret <- ErrPeerDisconnected
				}
			default:
				return
			}
		}
	}()
	defer c.stop()
	for {
		select {
		case sd := <-c.outChan:
			if !c.write(sd) {
				return
			}
		case <-ctx.Done():
			// Flush what was queued before the stop.
			for {
				select {
				case sd := <-c.outChan:
					if !c.write(sd) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *WSLink) pingHandler(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			if err != nil {
				c.stop()
				log.Debugf("Ping error for %s: %v", c.addr, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// NewConnection upgrades the request to a websocket. checkOrigin decides
// which origins may connect.
func NewConnection(w http.ResponseWriter, r *http.Request, readTimeout time.Duration, checkOrigin func(*http.Request) bool) (Connection, error) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		var hsErr websocket.HandshakeError
		if errors.As(err, &hsErr) {
			log.Errorf("Unexpected websocket error: %v", err)
		}
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return ws, nil
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"decred.org/evervault/dex"
	"decred.org/evervault/dex/msgjson"
)

// tConn is a stub Connection. Reads come from in, writes go to out.
type tConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
}

func newTConn() *tConn {
	return &tConn{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (c *tConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *tConn) SetReadDeadline(time.Time) error  { return nil }
func (c *tConn) SetWriteDeadline(time.Time) error { return nil }

func (c *tConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *tConn) WriteMessage(_ int, b []byte) error {
	c.out <- b
	return nil
}

func (c *tConn) WriteControl(int, []byte, time.Time) error { return nil }

func readMsg(t *testing.T, c *tConn) *msgjson.Message {
	t.Helper()
	select {
	case b := <-c.out:
		msg, err := msgjson.DecodeMessage(b)
		if err != nil {
			t.Fatalf("bad message written: %v", err)
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("nothing written")
	}
	return nil
}

func TestLink(t *testing.T) {
	UseLogger(dex.StdOutLogger("TWS", dex.LevelTrace))
	conn := newTConn()
	handled := make(chan *msgjson.Message, 1)
	link := NewWSLink("127.0.0.1:1", "https://dapp.example", conn, time.Minute, func(l *WSLink, msg *msgjson.Message) *msgjson.Error {
		if msg.Method == "fail" {
			return msgjson.NewError(msgjson.CodeUnsupported, "unsupported")
		}
		handled <- msg
		return nil
	})
	wg, err := link.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if link.Origin() != "https://dapp.example" {
		t.Fatalf("wrong origin")
	}

	conn.in <- []byte(`{"id":"1","method":"getProviderState"}`)
	select {
	case msg := <-handled:
		if msg.ID != "1" {
			t.Fatalf("wrong id %s", msg.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("request not handled")
	}

	conn.in <- []byte(`{"id":"2","method":"fail"}`)
	if msg := readMsg(t, conn); msg.ID != "2" || msg.Data.Code != msgjson.CodeUnsupported {
		t.Fatalf("wrong error response %s", msg)
	}
	conn.in <- []byte(`not json`)
	if msg := readMsg(t, conn); msg.Data.Code != msgjson.CodeParseError {
		t.Fatalf("wrong parse error response %s", msg)
	}
	conn.in <- []byte(`{"id":"3"}`)
	if msg := readMsg(t, conn); msg.ID != "3" || msg.Data.Code != msgjson.CodeInvalidReq {
		t.Fatalf("wrong invalid request response %s", msg)
	}

	if err = link.Notify(msgjson.ConnectRoute, nil); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if msg := readMsg(t, conn); msg.Type() != msgjson.Notification || msg.Method != msgjson.ConnectRoute {
		t.Fatalf("wrong notification %s", msg)
	}

	link.Disconnect()
	wg.Wait()
	if !link.Off() {
		t.Fatalf("link still on")
	}
	if err = link.Send(&msgjson.Message{Method: "x"}); !errors.Is(err, ErrPeerDisconnected) {
		t.Fatalf("expected ErrPeerDisconnected, got %v", err)
	}
}

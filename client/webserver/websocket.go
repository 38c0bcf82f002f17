// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package webserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex/msgjson"
	"decred.org/evervault/dex/ws"
)

var (
	// Time allowed to read the next pong message from the peer. The
	// default is intended for production, but leaving as a var instead of const
	// to facilitate testing.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait. The
	// default is intended for production, but leaving as a var instead of const
	// to facilitate testing.
	pingPeriod = (pongWait * 9) / 10
)

// remoteIP is the request's IP address without the port.
func remoteIP(r *http.Request) string {
	ip := r.RemoteAddr
	host, _, err := net.SplitHostPort(ip)
	if err == nil && host != "" {
		ip = host
	}
	return ip
}

// handleProviderWS upgrades a page's connection. The page is identified by
// its Origin header.
func (s *WebServer) handleProviderWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		http.Error(w, "missing Origin header", http.StatusBadRequest)
		return
	}
	anyOrigin := func(*http.Request) bool { return true }
	wsConn, err := ws.NewConnection(w, r, pingPeriod+pongWait, anyOrigin)
	if err != nil {
		log.Errorf("ws connection error: %v", err)
		return
	}
	ip := remoteIP(r)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.providerHandler(wsConn, ip, origin)
	}()
}

// providerHandler runs a page's link until it disconnects. Requests are
// handled concurrently because approvals can take minutes. Pending approvals
// of a page that goes away are rejected.
func (s *WebServer) providerHandler(conn ws.Connection, ip, origin string) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	link := ws.NewWSLink(ip, origin, conn, pingPeriod, func(link *ws.WSLink, msg *msgjson.Message) *msgjson.Error {
		if !s.limiter(origin).Allow() {
			return msgjson.NewError(msgjson.CodeInvalidReq, "too many requests")
		}
		go func() {
			res, mErr := s.core.ProviderRequest(ctx, origin, msg)
			resp, err := msgjson.NewResponse(msg.ID, res, mErr)
			if err != nil {
				log.Errorf("Error encoding %s response: %v", msg.Method, err)
				resp, _ = msgjson.NewResponse(msg.ID, nil, msgjson.NewError(msgjson.CodeInternal, "encoding error"))
			}
			if err = link.Send(resp); err != nil {
				log.Debugf("Error sending %s response to %s: %v", msg.Method, origin, err)
			}
		}()
		return nil
	})
	wg, err := link.Connect(ctx)
	if err != nil {
		log.Errorf("Error connecting provider link for %s: %v", origin, err)
		return
	}
	id := s.addLink(s.providers, link)
	defer s.removeLink(s.providers, id)
	s.core.ProviderConnected(origin)
	defer s.core.ProviderDisconnected(origin)
	log.Debugf("Page %s connected from %s", origin, ip)

	if err = link.Notify(msgjson.ConnectRoute, s.core.ProviderState()); err != nil {
		log.Debugf("Error sending connect notification to %s: %v", origin, err)
	}
	wg.Wait()
	log.Debugf("Page %s disconnected", origin)
}

// handleUIWS upgrades the wallet UI's connection. Only same-origin
// connections are accepted.
func (s *WebServer) handleUIWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := ws.NewConnection(w, r, pingPeriod+pongWait, nil)
	if err != nil {
		log.Errorf("ws connection error: %v", err)
		return
	}
	ip := remoteIP(r)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.uiHandler(wsConn, ip)
	}()
}

// uiHandler runs a UI link until it disconnects.
func (s *WebServer) uiHandler(conn ws.Connection, ip string) {
	link := ws.NewWSLink(ip, "", conn, pingPeriod, func(link *ws.WSLink, msg *msgjson.Message) *msgjson.Error {
		return s.handleUIMessage(link, msg)
	})
	wg, err := link.Connect(s.ctx)
	if err != nil {
		log.Errorf("Error connecting UI link: %v", err)
		return
	}
	id := s.addLink(s.uis, link)
	defer s.removeLink(s.uis, id)
	wg.Wait()
	log.Tracef("Disconnected UI client %s", ip)
}

func (s *WebServer) addLink(links map[uint64]*ws.WSLink, link *ws.WSLink) uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.nextID++
	links[s.nextID] = link
	return s.nextID
}

func (s *WebServer) removeLink(links map[uint64]*ws.WSLink, id uint64) {
	s.mtx.Lock()
	delete(links, id)
	s.mtx.Unlock()
}

// handleUIMessage handles a UI request, calling the right handler for the
// method.
func (s *WebServer) handleUIMessage(link *ws.WSLink, msg *msgjson.Message) *msgjson.Error {
	log.Tracef("UI request %s (%s)", msg.Method, msg.ID)
	handler, found := uiHandlers[msg.Method]
	if !found {
		return msgjson.NewError(msgjson.RPCUnknownRoute, "unknown method %q", msg.Method)
	}
	if s.core.IsLocked() && msg.Method != "providerState" {
		return msgjson.NewError(msgjson.CodeWalletLocked, "%v", lock.ErrWalletLocked)
	}
	res, mErr := handler(s, msg)
	if mErr != nil {
		return mErr
	}
	resp, err := msgjson.NewResponse(msg.ID, res, nil)
	if err != nil {
		return msgjson.NewError(msgjson.CodeInternal, "encoding error: %v", err)
	}
	if err = link.Send(resp); err != nil {
		log.Debugf("Error sending UI response: %v", err)
	}
	return nil
}

// uiHandlers is the map used by the server to locate the handler for a UI
// request.
var uiHandlers = map[string]func(*WebServer, *msgjson.Message) (any, *msgjson.Error){
	"approvalResponse": wsApprovalResponse,
	"pending":          wsPending,
	"providerState":    wsProviderState,
}

// wsApprovalResponse is the handler for the 'approvalResponse' UI method. It
// answers a pending approval prompt.
func wsApprovalResponse(s *WebServer, msg *msgjson.Message) (any, *msgjson.Error) {
	ar := new(msgjson.ApprovalResponse)
	if err := msg.Unmarshal(ar); err != nil {
		return nil, msgjson.NewError(msgjson.CodeInvalidArgs, "invalid approval response: %v", err)
	}
	var err error
	if ar.Approved {
		err = s.core.Approve(ar.ID, ar.Data)
	} else {
		err = s.core.Reject(ar.ID)
	}
	if err != nil {
		return nil, msgjson.NewError(msgjson.CodeInvalidArgs, "%v", err)
	}
	return true, nil
}

// wsPending is the handler for the 'pending' UI method.
func wsPending(s *WebServer, _ *msgjson.Message) (any, *msgjson.Error) {
	return s.core.PendingApprovals(), nil
}

// wsProviderState is the handler for the 'providerState' UI method.
func wsProviderState(s *WebServer, _ *msgjson.Message) (any, *msgjson.Error) {
	return s.core.ProviderState(), nil
}

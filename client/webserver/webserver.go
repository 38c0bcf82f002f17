// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package webserver serves the provider websocket used by pages and the
// wallet UI's websocket and HTTP API.
package webserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"decred.org/evervault/client/broker"
	"decred.org/evervault/client/core"
	"decred.org/evervault/client/db"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/msgjson"
	"decred.org/evervault/dex/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

const (
	// rpcTimeoutSeconds is the number of seconds a connection to the
	// server is allowed to stay open without authenticating before it
	// is closed.
	rpcTimeoutSeconds = 10
	// authCK is the authorization token cookie key.
	authCK = "evauth"
	// maxBodySize limits API request bodies.
	maxBodySize = 1 << 16

	// DefaultOriginRate is the default sustained request rate of one origin,
	// per second.
	DefaultOriginRate = 5
	// DefaultOriginBurst is the default request burst of one origin.
	DefaultOriginBurst = 20
)

type ctxKey int

const ctxKeyUserInfo ctxKey = iota

var log = dex.Disabled

// clientCore is satisfied by core.Core.
type clientCore interface {
	State() (lock.State, error)
	IsLocked() bool
	InitializeClient(pw []byte) error
	Login(cred *lock.Credential) bool
	Logout()
	NotificationFeed() <-chan core.Notification
	ProviderRequest(ctx context.Context, origin string, msg *msgjson.Message) (any, *msgjson.Error)
	ProviderState() *msgjson.ProviderState
	ProviderConnected(origin string)
	ProviderDisconnected(origin string)
	PendingApprovals() []*broker.PendingRequest
	Approve(id string, data json.RawMessage) error
	Reject(id string) error
	Accounts() ([]*db.Account, error)
	Account(addr string) (*db.Account, error)
	SelectAccount(addr string) error
	SelectedAccount() string
	Transactions(addr, server string, pageSize, page int) ([]*db.Transaction, error)
	Networks() ([]*db.Network, error)
	SelectNetwork(server string) error
	SelectedNetwork() string
	Permissions(addr, origin string) ([]string, error)
}

var _ clientCore = (*core.Core)(nil)

// Config is the configuration for the WebServer.
type Config struct {
	Core clientCore
	Addr string
	// SiteDir is an optional directory of static UI files served at /.
	SiteDir string
	Logger  dex.Logger
	// OriginRate and OriginBurst limit the requests of each page origin.
	// Defaults are DefaultOriginRate and DefaultOriginBurst.
	OriginRate  float64
	OriginBurst int
}

// originLimiter tracks an origin's request rate.
type originLimiter struct {
	*rate.Limiter
	lastHit time.Time
}

// WebServer is a single-user http and websocket server for pages and the
// wallet UI.
type WebServer struct {
	wg          sync.WaitGroup
	ctx         context.Context
	core        clientCore
	addr        string
	srv         *http.Server
	mux         *chi.Mux
	indent      bool
	originRate  rate.Limit
	originBurst int

	mtx       sync.RWMutex
	authToken string
	providers map[uint64]*ws.WSLink
	uis       map[uint64]*ws.WSLink
	nextID    uint64

	limitMtx sync.Mutex
	limiters map[string]*originLimiter
}

// New is the constructor for a new WebServer.
func New(cfg *Config) (*WebServer, error) {
	if cfg.Logger != nil {
		log = cfg.Logger
	}
	if cfg.SiteDir != "" && !dex.FileExists(cfg.SiteDir) {
		return nil, fmt.Errorf("site directory %s not found", cfg.SiteDir)
	}

	mux := chi.NewRouter()
	httpServer := &http.Server{
		Handler:     mux,
		ReadTimeout: rpcTimeoutSeconds * time.Second, // slow requests should not hold connections opened
		// No write timeout. Approvals keep API requests open.
	}

	s := &WebServer{
		ctx:         context.Background(),
		core:        cfg.Core,
		addr:        cfg.Addr,
		srv:         httpServer,
		mux:         mux,
		originRate:  rate.Limit(cfg.OriginRate),
		originBurst: cfg.OriginBurst,
		providers:   make(map[uint64]*ws.WSLink),
		uis:         make(map[uint64]*ws.WSLink),
		limiters:    make(map[string]*originLimiter),
	}
	if s.originRate <= 0 {
		s.originRate = DefaultOriginRate
	}
	if s.originBurst <= 0 {
		s.originBurst = DefaultOriginBurst
	}

	mux.Use(middleware.Recoverer)
	mux.Use(securityMiddleware)
	mux.Use(s.authMiddleware)

	// Pages connect from any origin. The broker gates what they can do.
	mux.Get("/provider", s.handleProviderWS)
	mux.With(s.requireLogin).Get("/ui", s.handleUIWS)

	mux.Route("/api", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Get("/state", s.apiState)
		r.Post("/init", s.apiInit)
		r.Post("/login", s.apiLogin)
		r.Group(func(rr chi.Router) {
			rr.Use(s.requireLogin)
			rr.Post("/logout", s.apiLogout)
			rr.Get("/pending", s.apiPending)
			rr.Post("/approve", s.apiApprove)
			rr.Post("/reject", s.apiReject)
			rr.Get("/accounts", s.apiAccounts)
			rr.Post("/selectaccount", s.apiSelectAccount)
			rr.Get("/transactions", s.apiTransactions)
			rr.Get("/networks", s.apiNetworks)
			rr.Post("/selectnetwork", s.apiSelectNetwork)
			rr.Get("/permissions", s.apiPermissions)
			rr.Get("/qr/{address}", s.apiQRCode)
		})
	})

	if cfg.SiteDir != "" {
		fileServer(mux, "/", cfg.SiteDir)
	}

	return s, nil
}

// Run starts the web server. Satisfies the dex.Runner interface.
func (s *WebServer) Run(ctx context.Context) {
	s.ctx = ctx
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Errorf("Can't listen on %s. web server quitting: %v", s.addr, err)
		return
	}
	s.serve(ctx, listener)
}

// serve serves on the listener until the context is canceled.
func (s *WebServer) serve(ctx context.Context, listener net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		if err := s.srv.Shutdown(context.Background()); err != nil {
			log.Errorf("Problem shutting down web server: %v", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readNotifications(ctx)
	}()

	log.Infof("Web server listening on http://%s", listener.Addr())
	err := s.srv.Serve(listener)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Warnf("unexpected (http.Server).Serve error: %v", err)
	}
	log.Infof("Web server off")

	// Shutdown does not close hijacked websocket connections.
	s.mtx.RLock()
	for _, link := range s.providers {
		link.Disconnect()
	}
	for _, link := range s.uis {
		link.Disconnect()
	}
	s.mtx.RUnlock()

	s.wg.Wait()
}

// auth creates, stores, and returns a new auth token. Only one token is valid
// at a time.
func (s *WebServer) auth() string {
	b := make([]byte, 32)
	rand.Read(b)
	token := hex.EncodeToString(b)
	s.mtx.Lock()
	s.authToken = token
	s.mtx.Unlock()
	return token
}

// deauth invalidates the auth token.
func (s *WebServer) deauth() {
	s.mtx.Lock()
	s.authToken = ""
	s.mtx.Unlock()
}

// token returns the current auth token.
func (s *WebServer) token() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.authToken
}

// isAuthed checks the request's auth cookie.
func (s *WebServer) isAuthed(r *http.Request) bool {
	cookie, err := r.Cookie(authCK)
	if err != nil {
		return false
	}
	token := s.token()
	return token != "" && cookie.Value == token
}

// limiter gets the rate limiter for the origin.
func (s *WebServer) limiter(origin string) *originLimiter {
	s.limitMtx.Lock()
	defer s.limitMtx.Unlock()
	l := s.limiters[origin]
	if l == nil {
		l = &originLimiter{Limiter: rate.NewLimiter(s.originRate, s.originBurst)}
		s.limiters[origin] = l
	}
	l.lastHit = time.Now()
	return l
}

// pruneLimiters forgets origins that have been idle for an hour.
func (s *WebServer) pruneLimiters() {
	s.limitMtx.Lock()
	defer s.limitMtx.Unlock()
	for origin, l := range s.limiters {
		if time.Since(l.lastHit) > time.Hour {
			delete(s.limiters, origin)
		}
	}
}

// readNotifications reads from the Core notification channel and relays to
// websocket clients.
func (s *WebServer) readNotifications(ctx context.Context) {
	ch := s.core.NotificationFeed()
	prune := time.NewTicker(10 * time.Minute)
	defer prune.Stop()
	for {
		select {
		case n := <-ch:
			s.relayNote(n)
		case <-prune.C:
			s.pruneLimiters()
		case <-ctx.Done():
			return
		}
	}
}

// relayNote sends a notification to the links that should see it. Provider
// notes go to pages. Everything but subscription events goes to the UI.
func (s *WebServer) relayNote(n core.Notification) {
	if pn, ok := n.(core.ProviderNote); ok {
		s.notifyProviders(pn.Recipient(), pn.Route(), pn.Payload())
	}
	switch note := n.(type) {
	case *core.SubscriptionNote:
		return
	case *core.ApprovalNote:
		s.notifyUI(msgjson.ApprovalRequestRoute, note.Request)
	case *core.ApprovalDoneNote:
		s.notifyUI(msgjson.ApprovalDoneRoute, &msgjson.ApprovalDone{ID: note.ID, Outcome: note.Outcome})
	case *core.WalletUpdateNote:
		s.notifyUI(msgjson.UpdateWalletUIRoute, note)
	default:
		s.notifyUI(msgjson.NotifyRoute, n)
	}
}

// notifyProviders sends the notification to the provider links of the
// origin, or to every provider link if origin is empty.
func (s *WebServer) notifyProviders(origin, route string, payload any) {
	msg, err := msgjson.NewNotification(route, payload)
	if err != nil {
		log.Errorf("%q notification encoding error: %v", route, err)
		return
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	for _, link := range s.providers {
		if origin != "" && link.Origin() != origin {
			continue
		}
		if err := link.Send(msg); err != nil {
			log.Debugf("Error sending %s to %s: %v", route, link.Origin(), err)
		}
	}
}

// notifyUI sends the notification to every UI link.
func (s *WebServer) notifyUI(route string, payload any) {
	msg, err := msgjson.NewNotification(route, payload)
	if err != nil {
		log.Errorf("%q notification encoding error: %v", route, err)
		return
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	for _, link := range s.uis {
		if err := link.Send(msg); err != nil {
			log.Debugf("Error sending %s to UI %s: %v", route, link.Addr(), err)
		}
	}
}

// readPost unmarshals the request body into the provided interface.
func readPost(w http.ResponseWriter, r *http.Request, thing any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	r.Body.Close()
	if err != nil {
		log.Debugf("Error reading request body: %v", err)
		http.Error(w, "error reading JSON message", http.StatusBadRequest)
		return false
	}
	err = json.Unmarshal(body, thing)
	if err != nil {
		log.Debugf("failed to unmarshal JSON request: %v", err)
		http.Error(w, "failed to unmarshal JSON request", http.StatusBadRequest)
		return false
	}
	return true
}

// userInfo is information about the connected user.
type userInfo struct {
	Authed bool
	Locked bool
}

// Extract the userInfo from the request context.
func extractUserInfo(r *http.Request) *userInfo {
	ai, ok := r.Context().Value(ctxKeyUserInfo).(*userInfo)
	if !ok {
		log.Errorf("no auth info retrieved from client")
		return &userInfo{}
	}
	return ai
}

// fileServer sets up a http.FileServer handler to serve static files from a
// path on the file system. Directory listings are denied, as are URL paths
// containing "..".
func fileServer(r chi.Router, pathRoot, fsRoot string) {
	if strings.ContainsAny(pathRoot, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	hf := func(w http.ResponseWriter, r *http.Request) {
		upath := r.URL.Path
		if strings.Contains(upath, "..") {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		if !strings.HasPrefix(upath, "/") {
			upath = "/" + upath
			r.URL.Path = upath
		}
		upath = path.Clean(strings.TrimPrefix(upath, pathRoot))
		if upath == "." || upath == "/" {
			upath = "/index.html"
		}

		fullFilePath := filepath.Join(fsRoot, upath)
		fi, err := os.Stat(fullFilePath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		// Deny directory listings
		if fi.IsDir() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		http.ServeFile(w, r, fullFilePath)
	}

	muxRoot := pathRoot
	if pathRoot != "/" && pathRoot[len(pathRoot)-1] != '/' {
		r.Get(pathRoot, http.RedirectHandler(pathRoot+"/", http.StatusMovedPermanently).ServeHTTP)
		muxRoot += "/"
	}
	muxRoot += "*"
	r.Get(muxRoot, hf)
}

// writeJSON marshals the provided interface and writes the bytes to the
// ResponseWriter. The response code is assumed to be StatusOK.
func writeJSON(w http.ResponseWriter, thing any, indent bool) {
	writeJSONWithStatus(w, thing, http.StatusOK, indent)
}

// writeJSONWithStatus marshals the provided interface and writes the bytes to
// the ResponseWriter with the specified response code.
func writeJSONWithStatus(w http.ResponseWriter, thing any, code int, indent bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	encoder := json.NewEncoder(w)
	indentStr := ""
	if indent {
		indentStr = "    "
	}
	encoder.SetIndent("", indentStr)
	if err := encoder.Encode(thing); err != nil {
		log.Infof("JSON encode error: %v", err)
	}
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package rpcserver provides a JSON RPC to administer the vault from the
// command line.
package rpcserver

import (
	"context"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"decred.org/evervault/client/broker"
	"decred.org/evervault/client/core"
	"decred.org/evervault/client/db"
	"decred.org/evervault/client/keys"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encode"
	"decred.org/evervault/dex/msgjson"
	"github.com/decred/dcrd/certgen"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// rpcTimeoutSeconds is the number of seconds a connection to the RPC
	// server is allowed to stay open without authenticating before it is
	// closed.
	rpcTimeoutSeconds = 10

	// RPC version. Move major up one for breaking changes. Move minor for
	// backwards compatible features. Move patch for bug fixes.
	rpcSemverMajor = 0
	rpcSemverMinor = 1
	rpcSemverPatch = 0

	// maxBodySize limits request bodies.
	maxBodySize = 1 << 20
)

var (
	// Check that core.Core satisfies clientCore.
	_   clientCore = (*core.Core)(nil)
	log            = dex.Disabled
)

// clientCore is satisfied by core.Core.
type clientCore interface {
	State() (lock.State, error)
	InitializeClient(pw []byte) error
	Login(cred *lock.Credential) bool
	Logout()
	SetPincode(pin []byte) error
	DisablePincode() error
	CheckPassword(pw encode.PassBytes) bool
	CreateAccount(ctx context.Context, nickname string) (string, *db.Account, error)
	ImportAccount(ctx context.Context, nickname, phrase string) (*db.Account, error)
	ImportKeys(ctx context.Context, nickname, secret string) (*db.Account, error)
	Accounts() ([]*db.Account, error)
	DeleteAccount(addr string, pw encode.PassBytes) error
	UpdateNickname(addr, nickname string) error
	SelectAccount(addr string) error
	SelectedAccount() string
	Transactions(addr, server string, pageSize, page int) ([]*db.Transaction, error)
	Networks() ([]*db.Network, error)
	AddNetwork(n *db.Network) error
	RemoveNetwork(server string) error
	SelectNetwork(server string) error
	SelectedNetwork() string
	Send(ctx context.Context, from, server string, p *core.SendParams) (*msgjson.SendResult, error)
	EstimateFee(ctx context.Context, from, server string, p *core.SendParams) (string, error)
	Deploy(ctx context.Context, addr, server string) (alreadyDeployed bool, err error)
	TakeFromGiver(ctx context.Context, dest, server string) error
	AddToken(ctx context.Context, addr, server, root string) (*db.TokenEntry, error)
	RemoveToken(addr, server, root string) error
	TransferToken(ctx context.Context, from, server string, p *core.TokenSendParams) (*msgjson.SendResult, error)
	EstimateTokenFee(ctx context.Context, from, server string, p *core.TokenSendParams) (string, error)
	ExportKeys(addr string, pw encode.PassBytes) (*keys.KeyPair, error)
	ExportAccounts(pw encode.PassBytes) ([]*core.ExportedAccount, error)
	ImportAccounts(ctx context.Context, exported []*core.ExportedAccount) ([]*db.Account, error)
	PendingApprovals() []*broker.PendingRequest
	Approve(id string, data json.RawMessage) error
	Reject(id string) error
	Sync(ctx context.Context, addrs ...string)
	UpdateBalances(ctx context.Context, server string) error
	Backup() error
}

// RPCServer is a single-client https server enabling a JSON
// interface to the vault.
type RPCServer struct {
	core      clientCore
	mux       *chi.Mux
	srv       *http.Server
	addr      string
	tlsConfig *tls.Config
	authSHA   [32]byte
	version   string

	ctxMtx sync.RWMutex
	ctx    context.Context
}

// genCertPair generates a key/cert pair to the paths provided.
func genCertPair(certFile, keyFile string, hosts []string) error {
	log.Infof("Generating TLS certificates...")

	org := "evervault autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := certgen.NewTLSCertPair(elliptic.P521(), org,
		validUntil, hosts)
	if err != nil {
		return err
	}

	// Write cert and key files.
	if err = os.WriteFile(certFile, cert, 0644); err != nil {
		return err
	}
	if err = os.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return err
	}

	log.Infof("Done generating TLS certificates")
	return nil
}

// writeJSON marshals the provided interface and writes the bytes to the
// ResponseWriter. The response code is assumed to be StatusOK.
func writeJSON(w http.ResponseWriter, thing any) {
	writeJSONWithStatus(w, thing, http.StatusOK)
}

// writeJSONWithStatus marshals the provided interface and writes the bytes to
// the ResponseWriter with the specified response code.
func writeJSONWithStatus(w http.ResponseWriter, thing any, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	b, err := json.Marshal(thing)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		log.Errorf("JSON encode error: %v", err)
		return
	}
	w.WriteHeader(code)
	_, err = w.Write(append(b, byte('\n')))
	if err != nil {
		log.Errorf("Write error: %v", err)
	}
}

// handleJSON handles all https json requests.
func (s *RPCServer) handleJSON(w http.ResponseWriter, r *http.Request) {
	// No persistent http connections.
	w.Header().Set("Connection", "close")
	w.Header().Set("Content-Type", "application/json")
	r.Close = true

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	r.Body.Close()
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}
	req, err := msgjson.DecodeMessage(body)
	if err != nil {
		http.Error(w, "JSON decode error", http.StatusUnprocessableEntity)
		return
	}
	if req.Type() != msgjson.Request {
		http.Error(w, "Responses not accepted", http.StatusMethodNotAllowed)
		return
	}
	s.parseHTTPRequest(w, req)
}

// Config is the configuration for the RPCServer.
type Config struct {
	Core             clientCore
	Addr, User, Pass string
	Cert, Key        string
	CertHosts        []string
	// Version is the application version reported by the version route.
	Version string
	Logger  dex.Logger
}

// New is the constructor for an RPCServer.
func New(cfg *Config) (*RPCServer, error) {
	if cfg.Logger != nil {
		log = cfg.Logger
	}
	if cfg.Pass == "" {
		return nil, errors.New("missing RPC password")
	}

	// Find or create the key pair.
	keyExists := dex.FileExists(cfg.Key)
	certExists := dex.FileExists(cfg.Cert)
	if certExists == !keyExists {
		return nil, fmt.Errorf("missing cert pair file")
	}
	if !keyExists && !certExists {
		hosts := cfg.CertHosts
		if len(hosts) == 0 {
			hosts = []string{"localhost"}
		}
		err := genCertPair(cfg.Cert, cfg.Key, hosts)
		if err != nil {
			return nil, err
		}
	}
	keypair, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, err
	}

	// Prepare the TLS configuration.
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{keypair},
		MinVersion:   tls.VersionTLS12,
	}

	// Create an HTTP router.
	mux := chi.NewRouter()
	httpServer := &http.Server{
		Handler:      mux,
		ReadTimeout:  rpcTimeoutSeconds * time.Second, // slow requests should not hold connections opened
		WriteTimeout: 2 * time.Minute,                 // hung responses must die
	}

	// Make the server.
	s := &RPCServer{
		core:      cfg.Core,
		mux:       mux,
		srv:       httpServer,
		addr:      cfg.Addr,
		tlsConfig: tlsConfig,
		version:   cfg.Version,
		ctx:       context.Background(),
	}

	// Create authSHA to verify requests against.
	login := cfg.User + ":" + cfg.Pass
	auth := "Basic " +
		base64.StdEncoding.EncodeToString([]byte(login))
	s.authSHA = sha256.Sum256([]byte(auth))

	// Middleware
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RealIP)
	mux.Use(s.authMiddleware)

	// The RPC route.
	mux.Post("/", s.handleJSON)

	return s, nil
}

// Connect starts the RPC server. The WaitGroup is done after ctx is canceled
// and the server has shut down.
func (s *RPCServer) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	// Create listener.
	listener, err := tls.Listen("tcp", s.addr, s.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("can't listen on %s. rpc server quitting: %w", s.addr, err)
	}
	// Update the listening address in case a :0 was provided.
	s.addr = listener.Addr().String()

	s.ctxMtx.Lock()
	s.ctx = ctx
	s.ctxMtx.Unlock()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := s.srv.Shutdown(context.Background()); err != nil {
			// Error from closing listeners:
			log.Errorf("HTTP server Shutdown: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("unexpected (http.Server).Serve error: %v", err)
		}
		log.Infof("RPC server off")
	}()

	log.Infof("RPC server listening on %s", s.addr)
	return &wg, nil
}

// context is the context handlers run their core calls with.
func (s *RPCServer) context() context.Context {
	s.ctxMtx.RLock()
	defer s.ctxMtx.RUnlock()
	return s.ctx
}

// authMiddleware checks incoming requests for authentication.
func (s *RPCServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fail := func() {
			log.Warnf("authentication failure from ip: %s", r.RemoteAddr)
			w.Header().Add("WWW-Authenticate", `Basic realm="evervault RPC"`)
			http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
		}
		auth := r.Header["Authorization"]
		if len(auth) == 0 {
			fail()
			return
		}
		authSHA := sha256.Sum256([]byte(auth[0]))
		if subtle.ConstantTimeCompare(s.authSHA[:], authSHA[:]) != 1 {
			fail()
			return
		}
		log.Debugf("authenticated user with ip: %s", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// parseHTTPRequest parses the msgjson message in the request body, creates a
// response message, and writes it to the http.ResponseWriter.
func (s *RPCServer) parseHTTPRequest(w http.ResponseWriter, req *msgjson.Message) {
	payload := s.handleRequest(req)
	resp, err := msgjson.NewResponse(req.ID, payload, nil)
	if err != nil {
		msg := fmt.Sprintf("error encoding response: %v", err)
		http.Error(w, msg, http.StatusInternalServerError)
		log.Errorf("parseHTTPRequest: NewResponse failed: %s", msg)
		return
	}
	writeJSON(w, resp)
}

// handleRequest sends the request to the correct handler function if able.
func (s *RPCServer) handleRequest(req *msgjson.Message) *msgjson.ResponsePayload {
	payload := new(msgjson.ResponsePayload)
	if req.ID == "" {
		payload.Error = msgjson.NewError(msgjson.RPCParseError, "request id cannot be empty")
		return payload
	}
	if req.Method == "" {
		payload.Error = msgjson.NewError(msgjson.RPCParseError, "request route cannot be empty")
		return payload
	}

	log.Tracef("RPC request %s", req.Method)
	routeHandler, exists := routes[req.Method]
	if !exists {
		payload.Error = msgjson.NewError(msgjson.RPCUnknownRoute, "unknown route %q", req.Method)
		return payload
	}

	params := new(RawParams)
	if len(req.Params) > 0 {
		if err := req.Unmarshal(params); err != nil {
			payload.Error = msgjson.NewError(msgjson.RPCParseError, "unable to unmarshal request")
			return payload
		}
	}

	return routeHandler(s, params)
}

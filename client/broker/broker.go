// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package broker gates requests from untrusted origins. Requests are checked
// against the method registry and the origin's grants, and the user approves
// sensitive calls through an Approver.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
	"github.com/google/uuid"
)

const (
	ErrUnsupportedMethod = dex.ErrorKind("unsupported method")
	ErrInvalidParams     = dex.ErrorKind("invalid params")
	ErrPermissionDenied  = dex.ErrorKind("permission denied")
	ErrRejected          = dex.ErrorKind("rejected by user")
	ErrRequestTimedOut   = dex.ErrorKind("request timed out")
	ErrTooManyPending    = dex.ErrorKind("too many pending requests")

	// DefaultApprovalTimeout is how long a prompt waits for the user.
	DefaultApprovalTimeout = 5 * time.Minute
	// DefaultMaxPending limits the number of unanswered prompts.
	DefaultMaxPending = 64
)

// Outcome is the result of an approval prompt.
type Outcome uint8

const (
	Approved Outcome = iota
	Rejected
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Result is the resolution of an approval prompt. Data is whatever the
// approving UI attached.
type Result struct {
	Outcome Outcome
	Data    json.RawMessage
}

// Request is a request from an origin.
type Request struct {
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Origin  string          `json:"-"`
	Account string          `json:"-"`
}

// PendingRequest is an approval prompt awaiting the user.
type PendingRequest struct {
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Origin  string          `json:"origin"`
	Account string          `json:"account"`
	Stamp   int64           `json:"stamp"`
}

// Approver presents approval prompts to the user. Answers are delivered with
// Broker.Resolve.
type Approver interface {
	// RequestApproval shows the prompt. It must not block on the user.
	RequestApproval(req *PendingRequest) error
	// ApprovalDone reports that the prompt was resolved and can be removed.
	ApprovalDone(id string, outcome Outcome)
}

// PermissionStore persists grants.
type PermissionStore interface {
	Permissions(addr, origin string) ([]string, error)
	SavePermissions(addr, origin string, methods []string) ([]string, error)
	CheckPermission(addr, origin, method string) (bool, error)
}

// Handler performs an admitted request. approval is the data attached to
// the approval, if one was required.
type Handler interface {
	HandleRequest(ctx context.Context, req *Request, params map[string]any, approval json.RawMessage) (any, error)
}

// LockState reports whether the wallet is locked.
type LockState interface {
	IsLocked() bool
}

// Config is the Broker configuration.
type Config struct {
	Store    PermissionStore
	Approver Approver
	Handler  Handler
	Lock     LockState
	// ApprovalTimeout defaults to DefaultApprovalTimeout.
	ApprovalTimeout time.Duration
	// MaxPending defaults to DefaultMaxPending.
	MaxPending int
}

type waiter struct {
	req   *PendingRequest
	res   chan *Result
	timer *time.Timer
}

// Broker admits requests.
type Broker struct {
	store      PermissionStore
	approver   Approver
	handler    Handler
	lock       LockState
	timeout    time.Duration
	maxPending int

	mtx     sync.Mutex
	pending map[string]*waiter
}

// New creates a Broker.
func New(cfg *Config) *Broker {
	b := &Broker{
		store:      cfg.Store,
		approver:   cfg.Approver,
		handler:    cfg.Handler,
		lock:       cfg.Lock,
		timeout:    cfg.ApprovalTimeout,
		maxPending: cfg.MaxPending,
		pending:    make(map[string]*waiter),
	}
	if b.timeout <= 0 {
		b.timeout = DefaultApprovalTimeout
	}
	if b.maxPending <= 0 {
		b.maxPending = DefaultMaxPending
	}
	return b
}

// CheckPermission checks whether the origin was granted the method for the
// account.
func (b *Broker) CheckPermission(account, origin, method string) (bool, error) {
	if account == "" {
		return false, nil
	}
	return b.store.CheckPermission(account, origin, method)
}

// RequestPermissions asks the user to grant methods to the origin. Methods
// that need no grant, or are already granted, are not prompted for. On
// approval the methods are added to the grant set, which is returned. On
// rejection or timeout nothing is saved and an empty set is returned.
func (b *Broker) RequestPermissions(ctx context.Context, account, origin string, requested []string) ([]string, error) {
	if account == "" {
		return nil, dex.NewError(ErrPermissionDenied, "no account")
	}
	granted, err := b.store.Permissions(account, origin)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(granted))
	for _, m := range granted {
		have[m] = true
	}
	var needed []string
	for _, name := range requested {
		m, err := Lookup(name)
		if err != nil {
			return nil, dex.NewError(ErrInvalidParams, fmt.Sprintf("unknown permission %q", name))
		}
		if m.MustBeAllowed && !have[name] {
			needed = append(needed, name)
			have[name] = true
		}
	}
	if len(needed) == 0 {
		return granted, nil
	}
	params, _ := json.Marshal(map[string][]string{"permissions": needed})
	res, err := b.approve(ctx, &PendingRequest{
		Method:  RequestPermissions,
		Params:  params,
		Origin:  origin,
		Account: account,
	})
	if err != nil {
		return nil, err
	}
	if res.Outcome != Approved {
		log.Infof("Permissions %v for %s %s", needed, origin, res.Outcome)
		return []string{}, nil
	}
	return b.store.SavePermissions(account, origin, needed)
}

// Dispatch admits the request and passes it to the Handler. Requests with
// invalid parameters are refused before anything else. A MustBeAllowed method
// needs a grant unless it requires approval, in which case the approval
// authorizes just this call. Methods requiring approval are always prompted
// for.
func (b *Broker) Dispatch(ctx context.Context, req *Request) (any, error) {
	m, err := Lookup(req.Method)
	if err != nil {
		return nil, err
	}
	params, err := DecodeParams(req.Params)
	if err != nil {
		return nil, err
	}
	if err = m.Validate(params); err != nil {
		return nil, err
	}

	if m.MustBeAllowed {
		granted, err := b.CheckPermission(req.Account, req.Origin, m.Name)
		if err != nil {
			return nil, err
		}
		if !granted && !m.RequiresApproval {
			return nil, dex.NewError(ErrPermissionDenied, fmt.Sprintf("%s not granted to %s", m.Name, req.Origin))
		}
		if req.Account == "" {
			return nil, dex.NewError(ErrPermissionDenied, "no account")
		}
	}
	if m.RequiresUnlocked && b.lock.IsLocked() {
		return nil, lock.ErrWalletLocked
	}

	switch m.Name {
	case RequestPermissions:
		perms := params["permissions"].([]any)
		requested := make([]string, 0, len(perms))
		for _, p := range perms {
			s, ok := p.(string)
			if !ok {
				return nil, dex.NewError(ErrInvalidParams, "permissions must be strings")
			}
			requested = append(requested, s)
		}
		return b.RequestPermissions(ctx, req.Account, req.Origin, requested)
	case GetPermissions:
		if req.Account == "" {
			return []string{}, nil
		}
		return b.store.Permissions(req.Account, req.Origin)
	}

	var approval json.RawMessage
	if m.RequiresApproval {
		res, err := b.approve(ctx, &PendingRequest{
			Method:  m.Name,
			Params:  req.Params,
			Origin:  req.Origin,
			Account: req.Account,
		})
		if err != nil {
			return nil, err
		}
		switch res.Outcome {
		case Rejected:
			return nil, ErrRejected
		case TimedOut:
			return nil, ErrRequestTimedOut
		}
		approval = res.Data
	}
	return b.handler.HandleRequest(ctx, req, params, approval)
}

// approve shows the prompt and waits for its resolution. A canceled context
// rejects the prompt.
func (b *Broker) approve(ctx context.Context, req *PendingRequest) (*Result, error) {
	req.ID = uuid.NewString()
	req.Stamp = time.Now().UnixMilli()
	w := &waiter{
		req: req,
		res: make(chan *Result, 1),
	}
	b.mtx.Lock()
	if len(b.pending) >= b.maxPending {
		b.mtx.Unlock()
		return nil, ErrTooManyPending
	}
	b.pending[req.ID] = w
	w.timer = time.AfterFunc(b.timeout, func() {
		b.resolve(req.ID, &Result{Outcome: TimedOut})
	})
	b.mtx.Unlock()

	if err := b.approver.RequestApproval(req); err != nil {
		b.resolve(req.ID, &Result{Outcome: Rejected})
		return nil, fmt.Errorf("error requesting approval: %w", err)
	}
	log.Debugf("Awaiting approval %s of %s from %s", req.ID, req.Method, req.Origin)

	select {
	case res := <-w.res:
		return res, nil
	case <-ctx.Done():
		b.resolve(req.ID, &Result{Outcome: Rejected})
		return nil, ctx.Err()
	}
}

// resolve delivers the result to the waiter and forgets it. Only the first
// resolution of an id has any effect.
func (b *Broker) resolve(id string, res *Result) bool {
	b.mtx.Lock()
	w, found := b.pending[id]
	if found {
		delete(b.pending, id)
	}
	b.mtx.Unlock()
	if !found {
		return false
	}
	w.timer.Stop()
	w.res <- res
	b.approver.ApprovalDone(id, res.Outcome)
	return true
}

// Resolve answers an approval prompt. False is returned if the id is unknown
// or was already resolved.
func (b *Broker) Resolve(id string, approved bool, data json.RawMessage) bool {
	res := &Result{Outcome: Rejected}
	if approved {
		res = &Result{Outcome: Approved, Data: data}
	}
	return b.resolve(id, res)
}

// Pending lists the unanswered prompts, oldest first.
func (b *Broker) Pending() []*PendingRequest {
	b.mtx.Lock()
	reqs := make([]*PendingRequest, 0, len(b.pending))
	for _, w := range b.pending {
		reqs = append(reqs, w.req)
	}
	b.mtx.Unlock()
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].Stamp < reqs[j].Stamp
	})
	return reqs
}

// RejectAll rejects every unanswered prompt, e.g. when the wallet locks.
func (b *Broker) RejectAll() {
	for _, req := range b.Pending() {
		b.resolve(req.ID, &Result{Outcome: Rejected})
	}
}

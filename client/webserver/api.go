// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package webserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"decred.org/evervault/client/core"
	"decred.org/evervault/client/db"
	"decred.org/evervault/client/lock"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	qrSize          = 256
)

// apiState is the handler for the '/state' API request.
func (s *WebServer) apiState(w http.ResponseWriter, r *http.Request) {
	st, err := s.core.State()
	if err != nil {
		s.writeAPIError(w, "state error: %v", err)
		return
	}
	resp := &stateResponse{
		OK:     true,
		State:  st.String(),
		Authed: extractUserInfo(r).Authed,
	}
	if resp.Authed {
		resp.Account = s.core.SelectedAccount()
		resp.Endpoint = s.core.SelectedNetwork()
	}
	writeJSON(w, resp, s.indent)
}

// apiInit is the handler for the '/init' API request. The vault is unlocked
// and the user logged in.
func (s *WebServer) apiInit(w http.ResponseWriter, r *http.Request) {
	form := new(initForm)
	defer form.Pass.Clear()
	if !readPost(w, r, form) {
		return
	}
	if err := s.core.InitializeClient(form.Pass); err != nil {
		s.writeAPIError(w, "initialization error: %v", err)
		return
	}
	s.actuallyLogin(w)
}

// apiLogin is the handler for the '/login' API request.
func (s *WebServer) apiLogin(w http.ResponseWriter, r *http.Request) {
	form := new(loginForm)
	defer form.Value.Clear()
	if !readPost(w, r, form) {
		return
	}
	if form.Type == "" {
		form.Type = lock.CredPassword
	}
	if form.Type != lock.CredPassword && form.Type != lock.CredPincode {
		s.writeAPIError(w, "unknown credential type %q", form.Type)
		return
	}
	if !s.core.Login(&lock.Credential{Type: form.Type, Value: form.Value}) {
		s.writeAPIError(w, "incorrect %s", form.Type)
		return
	}
	s.actuallyLogin(w)
}

// actuallyLogin sets the auth cookie of a new session.
func (s *WebServer) actuallyLogin(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCK,
		Path:     "/",
		Value:    s.auth(),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, simpleAck(), s.indent)
}

// apiLogout is the handler for the '/logout' API request. The vault is
// locked.
func (s *WebServer) apiLogout(w http.ResponseWriter, r *http.Request) {
	s.core.Logout()
	s.deauth()
	http.SetCookie(w, &http.Cookie{
		Name:    authCK,
		Path:    "/",
		Value:   "",
		Expires: time.Unix(0, 0),
	})
	writeJSON(w, simpleAck(), s.indent)
}

// apiPending is the handler for the '/pending' API request.
func (s *WebServer) apiPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, &struct {
		OK       bool `json:"ok"`
		Requests any  `json:"requests"`
	}{
		OK:       true,
		Requests: s.core.PendingApprovals(),
	}, s.indent)
}

// apiApprove is the handler for the '/approve' API request.
func (s *WebServer) apiApprove(w http.ResponseWriter, r *http.Request) {
	form := new(approvalForm)
	if !readPost(w, r, form) {
		return
	}
	if err := s.core.Approve(form.ID, form.Data); err != nil {
		s.writeAPIError(w, "approve error: %v", err)
		return
	}
	writeJSON(w, simpleAck(), s.indent)
}

// apiReject is the handler for the '/reject' API request.
func (s *WebServer) apiReject(w http.ResponseWriter, r *http.Request) {
	form := new(approvalForm)
	if !readPost(w, r, form) {
		return
	}
	if err := s.core.Reject(form.ID); err != nil {
		s.writeAPIError(w, "reject error: %v", err)
		return
	}
	writeJSON(w, simpleAck(), s.indent)
}

// apiAccounts is the handler for the '/accounts' API request.
func (s *WebServer) apiAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := s.core.Accounts()
	if err != nil {
		s.writeAPIError(w, "error loading accounts: %v", err)
		return
	}
	writeJSON(w, &struct {
		OK       bool          `json:"ok"`
		Accounts []*db.Account `json:"accounts"`
		Selected string        `json:"selected"`
	}{
		OK:       true,
		Accounts: accts,
		Selected: s.core.SelectedAccount(),
	}, s.indent)
}

// apiSelectAccount is the handler for the '/selectaccount' API request.
func (s *WebServer) apiSelectAccount(w http.ResponseWriter, r *http.Request) {
	form := new(addressForm)
	if !readPost(w, r, form) {
		return
	}
	if err := s.core.SelectAccount(form.Address); err != nil {
		s.writeAPIError(w, "select account error: %v", err)
		return
	}
	writeJSON(w, simpleAck(), s.indent)
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 1 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return i, nil
}

// apiTransactions is the handler for the '/transactions' API request. Query
// parameters are address, network, page and size. The selected account and
// network are the defaults.
func (s *WebServer) apiTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	addr, server := q.Get("address"), q.Get("network")
	if addr == "" {
		addr = s.core.SelectedAccount()
	}
	if server == "" {
		server = s.core.SelectedNetwork()
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		s.writeAPIError(w, "%v", err)
		return
	}
	size, err := queryInt(r, "size", defaultPageSize)
	if err != nil {
		s.writeAPIError(w, "%v", err)
		return
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	txs, err := s.core.Transactions(addr, server, size, page)
	if err != nil {
		s.writeAPIError(w, "error loading transactions: %v", err)
		return
	}
	writeJSON(w, &struct {
		OK           bool              `json:"ok"`
		Transactions []*db.Transaction `json:"transactions"`
	}{
		OK:           true,
		Transactions: txs,
	}, s.indent)
}

// apiNetworks is the handler for the '/networks' API request.
func (s *WebServer) apiNetworks(w http.ResponseWriter, r *http.Request) {
	nets, err := s.core.Networks()
	if err != nil {
		s.writeAPIError(w, "error loading networks: %v", err)
		return
	}
	writeJSON(w, &struct {
		OK       bool          `json:"ok"`
		Networks []*db.Network `json:"networks"`
		Selected string        `json:"selected"`
	}{
		OK:       true,
		Networks: nets,
		Selected: s.core.SelectedNetwork(),
	}, s.indent)
}

// apiSelectNetwork is the handler for the '/selectnetwork' API request.
func (s *WebServer) apiSelectNetwork(w http.ResponseWriter, r *http.Request) {
	form := new(serverForm)
	if !readPost(w, r, form) {
		return
	}
	if err := s.core.SelectNetwork(form.Server); err != nil {
		s.writeAPIError(w, "select network error: %v", err)
		return
	}
	writeJSON(w, simpleAck(), s.indent)
}

// apiPermissions is the handler for the '/permissions' API request. It lists
// the methods granted to the origin for the selected account.
func (s *WebServer) apiPermissions(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		s.writeAPIError(w, "no origin")
		return
	}
	perms, err := s.core.Permissions(s.core.SelectedAccount(), origin)
	if err != nil {
		s.writeAPIError(w, "permissions error: %v", err)
		return
	}
	writeJSON(w, &struct {
		OK          bool     `json:"ok"`
		Permissions []string `json:"permissions"`
	}{
		OK:          true,
		Permissions: perms,
	}, s.indent)
}

// apiQRCode is the handler for the '/qr/{address}' API request. It serves a
// PNG QR code of one of the vault's addresses.
func (s *WebServer) apiQRCode(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	if _, err := s.core.Account(addr); err != nil {
		s.writeAPIError(w, "unknown account %s", addr)
		return
	}
	png, err := qrcode.Encode(addr, qrcode.Medium, qrSize)
	if err != nil {
		s.writeAPIError(w, "QR code error: %v", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// writeAPIError logs the formatted error and sends a standardResponse with
// the error message. The code of a core.Error argument is included.
func (s *WebServer) writeAPIError(w http.ResponseWriter, format string, a ...any) {
	errMsg := fmt.Sprintf(format, a...)
	log.Debug(errMsg)
	resp := &standardResponse{
		OK:  false,
		Msg: errMsg,
	}
	for _, arg := range a {
		var cErr *core.Error
		if err, is := arg.(error); is && errors.As(err, &cErr) {
			resp.Code = cErr.Code()
			break
		}
	}
	writeJSON(w, resp, s.indent)
}

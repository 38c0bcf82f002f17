// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package webserver

import (
	"encoding/json"

	"decred.org/evervault/dex/encode"
)

// standardResponse is a basic API response when no data needs to be returned.
type standardResponse struct {
	OK   bool   `json:"ok"`
	Msg  string `json:"msg,omitempty"`
	Code *int   `json:"code,omitempty"`
}

// simpleAck is a plain standardResponse with "ok" = true.
func simpleAck() *standardResponse {
	return &standardResponse{
		OK: true,
	}
}

// initForm is sent to set the vault password.
type initForm struct {
	Pass encode.PassBytes `json:"pass"`
}

// loginForm is sent to unlock the vault with the password or the PIN.
type loginForm struct {
	Type  string           `json:"type"`
	Value encode.PassBytes `json:"value"`
}

// approvalForm answers an approval prompt.
type approvalForm struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

type addressForm struct {
	Address string `json:"address"`
}

type serverForm struct {
	Server string `json:"server"`
}

// stateResponse is the /api/state response.
type stateResponse struct {
	OK       bool   `json:"ok"`
	State    string `json:"state"`
	Authed   bool   `json:"authed"`
	Account  string `json:"account,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

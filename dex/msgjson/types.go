// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package msgjson defines the messages exchanged with provider pages and the
// wallet UI, and the response payload of the admin RPC server.
package msgjson

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response codes. Successful responses carry CodeSuccess.
const (
	CodeSuccess      = 4000
	CodeRejected     = 4001
	CodeTimedOut     = 4002
	CodeUnauthorized = 4100
	CodeWalletLocked = 4101
	CodeUnsupported  = 4200
	CodeDisconnected = 4900
	CodeParseError   = -32700
	CodeInvalidReq   = -32600
	CodeInvalidArgs  = -32602
	CodeInternal     = -32603

	// Admin RPC codes.
	RPCParseError   = -32700
	RPCUnknownRoute = -32601
	RPCArgsError    = -32602
	RPCInternal     = -32603
)

// Admin RPC route error codes.
const (
	RPCErrorUnspecified = iota + 1
	RPCInitError
	RPCLoginError
	RPCPasswordError
	RPCAccountError
	RPCNetworkError
	RPCSendError
	RPCDeployError
	RPCTokenError
	RPCApprovalError
	RPCSyncError
	RPCBackupError
)

// Notification methods sent to provider pages.
const (
	ConnectRoute            = "connect"
	DisconnectRoute         = "disconnect"
	AccountChangedRoute     = "accountChanged"
	UnlockStateChangedRoute = "unlockStateChanged"
	EndpointChangedRoute    = "endpointChanged"
	MessageRoute            = "message"
)

// Notification methods sent to the wallet UI.
const (
	ApprovalRequestRoute = "approvalRequest"
	ApprovalDoneRoute    = "approvalDone"
	UpdateWalletUIRoute  = "updateWalletUI"
	NotifyRoute          = "notify"
)

// SubscriptionMessageType is the type of subscription event messages.
const SubscriptionMessageType = "ever_subscription"

var errNullData = errors.New("null response data")

// Error is an error response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("error code %d: %s", e.Code, e.Message)
}

// NewError is a constructor for an Error.
func NewError(code int, format string, a ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
	}
}

// MessageType is the kind of a Message, inferred from its fields.
type MessageType uint8

const (
	InvalidMessageType MessageType = iota
	Request
	Response
	Notification
)

func (mt MessageType) String() string {
	switch mt {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return "unknown MessageType"
	}
}

// ResponseData is the data of a response. Successful responses have
// CodeSuccess and Data. Failed responses have Error.
type ResponseData struct {
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Message is a request {id, method, params}, a response {id, data} or a
// notification {method, params}.
type Message struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Data   *ResponseData   `json:"data,omitempty"`
}

// Type infers the MessageType.
func (msg *Message) Type() MessageType {
	switch {
	case msg.ID != "" && msg.Method != "" && msg.Data == nil:
		return Request
	case msg.ID != "" && msg.Data != nil:
		return Response
	case msg.ID == "" && msg.Method != "":
		return Notification
	}
	return InvalidMessageType
}

// DecodeMessage decodes a *Message.
func DecodeMessage(b []byte) (*Message, error) {
	msg := new(Message)
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewRequest creates a request.
func NewRequest(id, method string, params any) (*Message, error) {
	if id == "" {
		return nil, fmt.Errorf("empty id not allowed for a request")
	}
	if method == "" {
		return nil, fmt.Errorf("empty method not allowed for a request")
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Method: method, Params: b}, nil
}

// NewResponse creates a successful response, or an error response if rpcErr
// is non-nil.
func NewResponse(id string, result any, rpcErr *Error) (*Message, error) {
	if rpcErr != nil {
		return &Message{ID: id, Data: &ResponseData{Code: rpcErr.Code, Error: rpcErr.Message}}, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Data: &ResponseData{Code: CodeSuccess, Data: b}}, nil
}

// NewNotification creates a notification.
func NewNotification(method string, params any) (*Message, error) {
	if method == "" {
		return nil, fmt.Errorf("empty method not allowed for a notification")
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Message{Method: method, Params: b}, nil
}

// Unmarshal decodes the params.
func (msg *Message) Unmarshal(params any) error {
	return json.Unmarshal(msg.Params, params)
}

// UnmarshalResult decodes the data of a successful response.
func (msg *Message) UnmarshalResult(result any) error {
	if msg.Data == nil {
		return errNullData
	}
	if msg.Data.Error != "" || msg.Data.Code != CodeSuccess {
		return &Error{Code: msg.Data.Code, Message: msg.Data.Error}
	}
	return json.Unmarshal(msg.Data.Data, result)
}

// String prints the message as JSON.
func (msg *Message) String() string {
	b, err := json.Marshal(msg)
	if err != nil {
		return "[Message encode error]"
	}
	return string(b)
}

// ResponsePayload is the admin RPC response.
type ResponsePayload struct {
	// Result is the payload, if successful, else nil.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is the error, or nil if none was encountered.
	Error *Error `json:"error,omitempty"`
}

// ProviderState is the getProviderState result. Account and Endpoint are nil
// while locked.
type ProviderState struct {
	IsLocked bool    `json:"isLocked"`
	Account  *string `json:"account"`
	Endpoint *string `json:"endpoint"`
}

// AccountInfo is the ever_account result.
type AccountInfo struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// UnlockState is the unlockStateChanged notification.
type UnlockState struct {
	IsLocked bool    `json:"isLocked"`
	Account  *string `json:"account"`
}

// SendResult is the ever_sendTransaction result. Error is set when the
// transaction failed.
type SendResult struct {
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Signed is the ever_signMessage result.
type Signed struct {
	Signed    string `json:"signed"`
	Signature string `json:"signature"`
}

// RandomBytes is the ever_crypto_generate_random_bytes result.
type RandomBytes struct {
	Base64 string `json:"base64"`
	Hex    string `json:"hex"`
}

// SubscriptionData is the data of a subscription message.
type SubscriptionData struct {
	SubscriptionID uint32          `json:"subscriptionId"`
	Params         json.RawMessage `json:"params"`
	ResponseType   int             `json:"responseType"`
}

// SubscriptionMessage is the message notification relaying a subscription
// event.
type SubscriptionMessage struct {
	Type string            `json:"type"`
	Data *SubscriptionData `json:"data"`
}

// ApprovalResponse is the UI's answer to an approval request.
type ApprovalResponse struct {
	ID       string          `json:"id"`
	Approved bool            `json:"approved"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ApprovalDone tells the UI a prompt is gone.
type ApprovalDone struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

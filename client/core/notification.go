// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"fmt"
	"time"

	"decred.org/evervault/client/broker"
	"decred.org/evervault/dex/msgjson"
)

// Severity is the notification severity.
type Severity uint8

const (
	// Ignorable notifications are not displayed.
	Ignorable Severity = iota
	// Data notifications update the UI without a message for the user.
	Data
	// Poke notifications are shown briefly.
	Poke
	// Success is an operation completing.
	Success
	// WarningLevel is a problem the user should know about.
	WarningLevel
	// ErrorLevel is a failed operation.
	ErrorLevel
)

// Notification types.
const (
	NoteTypeApproval     = "approval"
	NoteTypeApprovalDone = "approvaldone"
	NoteTypeUnlockState  = "unlockstate"
	NoteTypeAccount      = "account"
	NoteTypeEndpoint     = "endpoint"
	NoteTypeSubscription = "subscription"
	NoteTypeDeposit      = "deposit"
	NoteTypeWalletUpdate = "walletupdate"
	NoteTypeDeploy       = "deploy"
	NoteTypeSend         = "send"
)

// notify sends a notification to all subscribers.
func (c *Core) notify(n Notification) {
	if n.Severity() >= WarningLevel {
		log.Warnf("%s: %s", n.Subject(), n.Details())
	} else if n.Severity() >= Poke {
		log.Debugf("%s: %s", n.Subject(), n.Details())
	}
	c.noteMtx.RLock()
	for _, ch := range c.noteChans {
		select {
		case ch <- n:
		default:
			log.Errorf("blocking notification channel")
		}
	}
	c.noteMtx.RUnlock()
}

// NotificationFeed returns a new receiving channel for notifications. The
// channel has capacity 16, and should be monitored for the lifetime of the
// Core. Blocking channels are silently ignored.
func (c *Core) NotificationFeed() <-chan Notification {
	ch := make(chan Notification, 16)
	c.noteMtx.Lock()
	c.noteChans = append(c.noteChans, ch)
	c.noteMtx.Unlock()
	return ch
}

// Notification is an interface for a user notification. Concrete types embed
// Note.
type Notification interface {
	// Type is a string ID unique to the concrete type.
	Type() string
	// Subject is a short description of the notification contents.
	Subject() string
	// Details should contain more detailed information.
	Details() string
	// Severity is the notification severity.
	Severity() Severity
	// Time is the notification timestamp, a UNIX timestamp in milliseconds.
	Time() uint64
}

// ProviderNote is a Notification that is also relayed to provider pages.
type ProviderNote interface {
	Notification
	// Route is the page notification method.
	Route() string
	// Payload is the notification params.
	Payload() any
	// Recipient is the only origin to receive the notification, or empty for
	// every page.
	Recipient() string
}

// Note is the common part of the concrete notification types.
type Note struct {
	NoteType    string   `json:"type"`
	SubjectText string   `json:"subject"`
	DetailText  string   `json:"details"`
	Severeness  Severity `json:"severity"`
	TimeStamp   uint64   `json:"stamp"`
}

func newNote(noteType, subject, details string, severity Severity) Note {
	return Note{
		NoteType:    noteType,
		SubjectText: subject,
		DetailText:  details,
		Severeness:  severity,
		TimeStamp:   uint64(time.Now().UnixMilli()),
	}
}

// Type is the notification type.
func (n *Note) Type() string { return n.NoteType }

// Subject is the notification subject.
func (n *Note) Subject() string { return n.SubjectText }

// Details are the notification details.
func (n *Note) Details() string { return n.DetailText }

// Severity is the notification severity.
func (n *Note) Severity() Severity { return n.Severeness }

// Time is the notification timestamp in milliseconds.
func (n *Note) Time() uint64 { return n.TimeStamp }

// ApprovalNote asks the user to approve or reject a page request.
type ApprovalNote struct {
	Note
	Request *broker.PendingRequest `json:"request"`
}

func newApprovalNote(req *broker.PendingRequest) *ApprovalNote {
	return &ApprovalNote{
		Note:    newNote(NoteTypeApproval, "Approval requested", fmt.Sprintf("%s requests %s", req.Origin, req.Method), Data),
		Request: req,
	}
}

// ApprovalDoneNote tells the UI that an approval prompt is gone.
type ApprovalDoneNote struct {
	Note
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

func newApprovalDoneNote(id string, outcome broker.Outcome) *ApprovalDoneNote {
	return &ApprovalDoneNote{
		Note:    newNote(NoteTypeApprovalDone, "Approval "+outcome.String(), id, Data),
		ID:      id,
		Outcome: outcome.String(),
	}
}

// UnlockStateNote reports the wallet being locked or unlocked.
type UnlockStateNote struct {
	Note
	State *msgjson.UnlockState `json:"state"`
}

func newUnlockStateNote(locked bool, account string) *UnlockStateNote {
	subject := "Wallet unlocked"
	state := &msgjson.UnlockState{IsLocked: locked}
	if locked {
		subject = "Wallet locked"
	} else if account != "" {
		state.Account = &account
	}
	return &UnlockStateNote{
		Note:  newNote(NoteTypeUnlockState, subject, "", Data),
		State: state,
	}
}

// Route is the unlockStateChanged route.
func (n *UnlockStateNote) Route() string { return msgjson.UnlockStateChangedRoute }

// Payload is the unlock state.
func (n *UnlockStateNote) Payload() any { return n.State }

// Recipient is empty. Every page is told.
func (n *UnlockStateNote) Recipient() string { return "" }

// AccountChangedNote reports a new selected account.
type AccountChangedNote struct {
	Note
	Address string `json:"address"`
}

func newAccountChangedNote(addr string) *AccountChangedNote {
	return &AccountChangedNote{
		Note:    newNote(NoteTypeAccount, "Account changed", addr, Data),
		Address: addr,
	}
}

// Route is the accountChanged route.
func (n *AccountChangedNote) Route() string { return msgjson.AccountChangedRoute }

// Payload is the new account address.
func (n *AccountChangedNote) Payload() any { return n.Address }

// Recipient is empty. Every page is told.
func (n *AccountChangedNote) Recipient() string { return "" }

// EndpointChangedNote reports a new selected network.
type EndpointChangedNote struct {
	Note
	Server string `json:"server"`
}

func newEndpointChangedNote(server string) *EndpointChangedNote {
	return &EndpointChangedNote{
		Note:   newNote(NoteTypeEndpoint, "Network changed", server, Data),
		Server: server,
	}
}

// Route is the endpointChanged route.
func (n *EndpointChangedNote) Route() string { return msgjson.EndpointChangedRoute }

// Payload is the new network server.
func (n *EndpointChangedNote) Payload() any { return n.Server }

// Recipient is empty. Every page is told.
func (n *EndpointChangedNote) Recipient() string { return "" }

// SubscriptionNote relays a ledger subscription event to the subscribing
// origin.
type SubscriptionNote struct {
	Note
	Origin  string                       `json:"origin"`
	Message *msgjson.SubscriptionMessage `json:"message"`
}

func newSubscriptionNote(origin string, data *msgjson.SubscriptionData) *SubscriptionNote {
	return &SubscriptionNote{
		Note:   newNote(NoteTypeSubscription, "Subscription event", origin, Ignorable),
		Origin: origin,
		Message: &msgjson.SubscriptionMessage{
			Type: msgjson.SubscriptionMessageType,
			Data: data,
		},
	}
}

// Route is the message route.
func (n *SubscriptionNote) Route() string { return msgjson.MessageRoute }

// Payload is the subscription message.
func (n *SubscriptionNote) Payload() any { return n.Message }

// Recipient is the subscribing origin.
func (n *SubscriptionNote) Recipient() string { return n.Origin }

// DepositNote reports funds received by an account.
type DepositNote struct {
	Note
	Address  string `json:"address"`
	Network  string `json:"network"`
	TxID     string `json:"txid"`
	Amount   string `json:"amount"`
	CoinName string `json:"coinName"`
	Link     string `json:"link"`
}

func newDepositNote(address, network, txID, amount, coinName, link string) *DepositNote {
	return &DepositNote{
		Note:     newNote(NoteTypeDeposit, "Deposit received", fmt.Sprintf("%s %s received by %s", amount, coinName, address), Success),
		Address:  address,
		Network:  network,
		TxID:     txID,
		Amount:   amount,
		CoinName: coinName,
		Link:     link,
	}
}

// WalletUpdateNote asks the UI to refresh an account's view.
type WalletUpdateNote struct {
	Note
	Address string `json:"address"`
	Network string `json:"network"`
}

func newWalletUpdateNote(address, network string) *WalletUpdateNote {
	return &WalletUpdateNote{
		Note:    newNote(NoteTypeWalletUpdate, "Wallet updated", address, Data),
		Address: address,
		Network: network,
	}
}

// DeployNote reports the outcome of a wallet contract deployment.
type DeployNote struct {
	Note
	Address string `json:"address"`
	Network string `json:"network"`
}

func newDeployNote(subject, details string, severity Severity, address, network string) *DeployNote {
	return &DeployNote{
		Note:    newNote(NoteTypeDeploy, subject, details, severity),
		Address: address,
		Network: network,
	}
}

// SendNote reports a sent transfer.
type SendNote struct {
	Note
	Address string `json:"address"`
	Network string `json:"network"`
	TxID    string `json:"txid"`
}

func newSendNote(subject, details string, severity Severity, address, network, txID string) *SendNote {
	return &SendNote{
		Note:    newNote(NoteTypeSend, subject, details, severity),
		Address: address,
		Network: network,
		TxID:    txID,
	}
}

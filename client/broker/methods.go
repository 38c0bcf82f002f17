// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"decred.org/evervault/dex"
)

// Provider methods.
const (
	GetProviderState    = "getProviderState"
	GetSdkVersion       = "wallet_getSdkVersion"
	RequestPermissions  = "wallet_requestPermissions"
	GetPermissions      = "wallet_getPermissions"
	Account             = "ever_account"
	Endpoint            = "ever_endpoint"
	SendTransaction     = "ever_sendTransaction"
	SignMessage         = "ever_signMessage"
	GetNaclBoxPublicKey = "ever_getNaclBoxPublicKey"
	GetSignature        = "ever_getSignature"
	GenerateRandomBytes = "ever_crypto_generate_random_bytes"
	EncryptMessage      = "ever_encryptMessage"
	DecryptMessage      = "ever_decryptMessage"
	Subscribe           = "ever_subscribe"
	Unsubscribe         = "ever_unsubscribe"
)

// ParamType is the JSON type of a request parameter.
type ParamType string

// Parameter types.
const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param is a required request parameter.
type Param struct {
	Name string
	Type ParamType
}

// Method describes how requests for a provider method are gated.
type Method struct {
	Name string
	// RequiresApproval methods are approved by the user on every call.
	RequiresApproval bool
	// RequiresUnlocked methods fail while the wallet is locked.
	RequiresUnlocked bool
	// MustBeAllowed methods need a grant for the requesting origin.
	MustBeAllowed bool
	Params        []Param
}

// Methods is the registry of supported provider methods.
var Methods = map[string]*Method{
	GetProviderState: {Name: GetProviderState},
	GetSdkVersion:    {Name: GetSdkVersion},
	RequestPermissions: {
		Name:             RequestPermissions,
		RequiresApproval: true,
		Params:           []Param{{"permissions", TypeArray}},
	},
	GetPermissions: {Name: GetPermissions},
	Account: {
		Name:             Account,
		MustBeAllowed:    true,
		RequiresUnlocked: true,
	},
	Endpoint: {
		Name:             Endpoint,
		MustBeAllowed:    true,
		RequiresUnlocked: true,
	},
	SendTransaction: {
		Name:             SendTransaction,
		MustBeAllowed:    true,
		RequiresApproval: true,
		RequiresUnlocked: true,
		Params: []Param{
			{"destination", TypeString},
			{"amount", TypeNumber},
			{"message", TypeString},
		},
	},
	SignMessage: {
		Name:             SignMessage,
		MustBeAllowed:    true,
		RequiresApproval: true,
		RequiresUnlocked: true,
		Params:           []Param{{"data", TypeString}},
	},
	GetNaclBoxPublicKey: {
		Name:             GetNaclBoxPublicKey,
		MustBeAllowed:    true,
		RequiresUnlocked: true,
	},
	GetSignature: {
		Name:             GetSignature,
		MustBeAllowed:    true,
		RequiresApproval: true,
		RequiresUnlocked: true,
		Params:           []Param{{"data", TypeString}},
	},
	GenerateRandomBytes: {
		Name:   GenerateRandomBytes,
		Params: []Param{{"length", TypeNumber}},
	},
	EncryptMessage: {
		Name:             EncryptMessage,
		MustBeAllowed:    true,
		RequiresApproval: true,
		RequiresUnlocked: true,
		Params: []Param{
			{"decrypted", TypeString},
			{"nonce", TypeString},
			{"their_public", TypeString},
		},
	},
	DecryptMessage: {
		Name:             DecryptMessage,
		MustBeAllowed:    true,
		RequiresApproval: true,
		RequiresUnlocked: true,
		Params: []Param{
			{"encrypted", TypeString},
			{"nonce", TypeString},
			{"their_public", TypeString},
		},
	},
	Subscribe: {
		Name:          Subscribe,
		MustBeAllowed: true,
		Params: []Param{
			{"collection", TypeString},
			{"filter", TypeObject},
			{"result", TypeString},
		},
	},
	Unsubscribe: {
		Name:          Unsubscribe,
		MustBeAllowed: true,
		Params:        []Param{{"handle", TypeNumber}},
	},
}

// Prohibited methods are refused even if a later registry adds them.
var Prohibited = map[string]bool{
	"net_subscribe_collection": true,
}

// MethodNames lists the registered methods, sorted.
func MethodNames() []string {
	names := make([]string, 0, len(Methods))
	for name := range Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds the registered method.
func Lookup(name string) (*Method, error) {
	if Prohibited[name] {
		return nil, dex.NewError(ErrUnsupportedMethod, name+" is prohibited")
	}
	m, found := Methods[name]
	if !found {
		return nil, dex.NewError(ErrUnsupportedMethod, name)
	}
	return m, nil
}

// DecodeParams decodes request parameters. Numbers are kept as json.Number.
// Absent parameters decode to an empty map.
func DecodeParams(raw json.RawMessage) (map[string]any, error) {
	params := make(map[string]any)
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		return params, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, dex.NewError(ErrInvalidParams, "params must be an object")
	}
	return params, nil
}

func hasType(v any, t ParamType) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(json.Number)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

// Validate checks that every required parameter is present with the right
// type.
func (m *Method) Validate(params map[string]any) error {
	for _, p := range m.Params {
		v, found := params[p.Name]
		if !found {
			return dex.NewError(ErrInvalidParams, fmt.Sprintf("missing %s param %q", p.Type, p.Name))
		}
		if !hasType(v, p.Type) {
			return dex.NewError(ErrInvalidParams, fmt.Sprintf("param %q must be a %s", p.Name, p.Type))
		}
	}
	return nil
}

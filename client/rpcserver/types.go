// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rpcserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"decred.org/evervault/client/core"
	"decred.org/evervault/client/db"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/encode"
)

// errArgs is wrapped when arguments to the known command cannot be parsed.
var errArgs = errors.New("unable to parse arguments")

// RawParams is used for all server requests.
type RawParams struct {
	PWArgs []encode.PassBytes `json:"PWArgs"`
	Args   []string           `json:"args"`
}

// VersionResult holds the versions of the RPC server and the application.
type VersionResult struct {
	RPCServerVer *dex.Semver `json:"rpcServerVersion"`
	Version      string      `json:"version"`
}

// newAccountResult is the newaccount result. The phrase is shown once.
type newAccountResult struct {
	Phrase  string      `json:"phrase"`
	Account *db.Account `json:"account"`
}

// deployResult is the deploy result.
type deployResult struct {
	Address         string `json:"address"`
	AlreadyDeployed bool   `json:"alreadyDeployed"`
}

// feeResult is the estimatefee result, in nano units.
type feeResult struct {
	Fee string `json:"fee"`
}

// helpForm is information necessary to obtain help.
type helpForm struct {
	helpWith         string
	includePasswords bool
}

// unlockForm is a credential and its type.
type unlockForm struct {
	cred *lock.Credential
}

// importForm is a nickname and a secret phrase or key.
type importForm struct {
	nickname string
	secret   encode.PassBytes
	keys     bool
}

// transactionsForm selects a page of an account's history on a network.
type transactionsForm struct {
	addr     string
	server   string
	pageSize int
	page     int
}

// sendForm is a transfer from one of the vault's accounts.
type sendForm struct {
	from   string
	params *core.SendParams
}

// tokenSendForm is a token transfer from one of the vault's accounts.
type tokenSendForm struct {
	from   string
	params *core.TokenSendParams
}

// accountTokenForm is an account and a token root.
type accountTokenForm struct {
	addr string
	root string
}

// approvalForm answers a pending approval.
type approvalForm struct {
	id   string
	data json.RawMessage
}

// checkNArgs checks that args and pwArgs are the correct length.
func checkNArgs(params *RawParams, nPWArgs, nArgs []int) error {
	// For want, one integer indicates an exact match, two are the min and max.
	check := func(have int, want []int) error {
		if len(want) == 1 {
			if want[0] != have {
				return fmt.Errorf("%w: wanted %d but got %d", errArgs, want[0], have)
			}
		} else {
			if have < want[0] || have > want[1] {
				return fmt.Errorf("%w: wanted between %d and %d but got %d", errArgs, want[0], want[1], have)
			}
		}
		return nil
	}
	if err := check(len(params.Args), nArgs); err != nil {
		return fmt.Errorf("arguments: %w", err)
	}
	if err := check(len(params.PWArgs), nPWArgs); err != nil {
		return fmt.Errorf("password arguments: %w", err)
	}
	return nil
}

func checkUIntArg(arg, name string, bitSize int) (uint64, error) {
	i, err := strconv.ParseUint(arg, 10, bitSize)
	if err != nil {
		return i, fmt.Errorf("%w: cannot parse %s: %v", errArgs, name, err)
	}
	return i, nil
}

func checkBoolArg(arg, name string) (bool, error) {
	b, err := strconv.ParseBool(arg)
	if err != nil {
		return b, fmt.Errorf("%w: %s must be a boolean: %v", errArgs, name, err)
	}
	return b, nil
}

func parseHelpArgs(params *RawParams) (*helpForm, error) {
	if err := checkNArgs(params, []int{0}, []int{0, 2}); err != nil {
		return nil, err
	}
	var helpWith string
	if len(params.Args) > 0 {
		helpWith = params.Args[0]
	}
	var includePasswords bool
	if len(params.Args) > 1 {
		var err error
		includePasswords, err = checkBoolArg(params.Args[1], "includepasswords")
		if err != nil {
			return nil, err
		}
	}
	return &helpForm{
		helpWith:         helpWith,
		includePasswords: includePasswords,
	}, nil
}

func parseInitArgs(params *RawParams) (encode.PassBytes, error) {
	if err := checkNArgs(params, []int{1}, []int{0}); err != nil {
		return nil, err
	}
	return params.PWArgs[0], nil
}

func parseUnlockArgs(params *RawParams) (*unlockForm, error) {
	if err := checkNArgs(params, []int{1}, []int{0, 1}); err != nil {
		return nil, err
	}
	credType := lock.CredPassword
	if len(params.Args) > 0 {
		credType = params.Args[0]
	}
	if credType != lock.CredPassword && credType != lock.CredPincode {
		return nil, fmt.Errorf("%w: unknown credential type %q", errArgs, credType)
	}
	return &unlockForm{cred: &lock.Credential{Type: credType, Value: params.PWArgs[0]}}, nil
}

func parsePincodeArgs(params *RawParams) (encode.PassBytes, error) {
	if err := checkNArgs(params, []int{1}, []int{0}); err != nil {
		return nil, err
	}
	return params.PWArgs[0], nil
}

func parseImportArgs(params *RawParams) (*importForm, error) {
	if err := checkNArgs(params, []int{1}, []int{1, 2}); err != nil {
		return nil, err
	}
	form := &importForm{
		nickname: params.Args[0],
		secret:   params.PWArgs[0],
	}
	if len(params.Args) > 1 {
		switch params.Args[1] {
		case "phrase":
		case "keys":
			form.keys = true
		default:
			return nil, fmt.Errorf("%w: secret type must be phrase or keys", errArgs)
		}
	}
	return form, nil
}

func parseDeleteAccountArgs(params *RawParams) (string, encode.PassBytes, error) {
	if err := checkNArgs(params, []int{1}, []int{1}); err != nil {
		return "", nil, err
	}
	return params.Args[0], params.PWArgs[0], nil
}

func parseTransactionsArgs(params *RawParams, defAddr, defServer string) (*transactionsForm, error) {
	if err := checkNArgs(params, []int{0}, []int{0, 4}); err != nil {
		return nil, err
	}
	form := &transactionsForm{
		addr:     defAddr,
		server:   defServer,
		pageSize: defaultPageSize,
		page:     1,
	}
	if len(params.Args) > 0 && params.Args[0] != "" {
		form.addr = params.Args[0]
	}
	if len(params.Args) > 1 && params.Args[1] != "" {
		form.server = params.Args[1]
	}
	if len(params.Args) > 2 {
		size, err := checkUIntArg(params.Args[2], "pagesize", 32)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return nil, fmt.Errorf("%w: pagesize must be positive", errArgs)
		}
		form.pageSize = int(size)
	}
	if len(params.Args) > 3 {
		page, err := checkUIntArg(params.Args[3], "page", 32)
		if err != nil {
			return nil, err
		}
		if page == 0 {
			return nil, fmt.Errorf("%w: pages start at 1", errArgs)
		}
		form.page = int(page)
	}
	if form.addr == "" {
		return nil, fmt.Errorf("%w: no account given or selected", errArgs)
	}
	return form, nil
}

func parseAddNetworkArgs(params *RawParams) (*db.Network, error) {
	if err := checkNArgs(params, []int{0}, []int{1, 6}); err != nil {
		return nil, err
	}
	n := &db.Network{Server: params.Args[0]}
	if len(params.Args) > 1 {
		n.Name = params.Args[1]
	}
	if len(params.Args) > 2 {
		n.Explorer = params.Args[2]
	}
	if len(params.Args) > 3 && params.Args[3] != "" {
		n.Endpoints = strings.Split(params.Args[3], ",")
	}
	if len(params.Args) > 4 {
		n.CoinName = params.Args[4]
	}
	if len(params.Args) > 5 {
		n.Giver = params.Args[5]
	}
	return n, nil
}

// parseSingleArg parses routes with exactly one argument.
func parseSingleArg(params *RawParams, name string) (string, error) {
	if err := checkNArgs(params, []int{0}, []int{1}); err != nil {
		return "", err
	}
	if params.Args[0] == "" {
		return "", fmt.Errorf("%w: empty %s", errArgs, name)
	}
	return params.Args[0], nil
}

func parseNicknameArgs(params *RawParams) (addr, nickname string, err error) {
	if err = checkNArgs(params, []int{0}, []int{2}); err != nil {
		return "", "", err
	}
	return params.Args[0], params.Args[1], nil
}

func parseSendArgs(params *RawParams) (*sendForm, error) {
	if err := checkNArgs(params, []int{0}, []int{3, 5}); err != nil {
		return nil, err
	}
	amt, err := checkUIntArg(params.Args[2], "amount", 64)
	if err != nil {
		return nil, err
	}
	form := &sendForm{
		from: params.Args[0],
		params: &core.SendParams{
			Destination: params.Args[1],
			Amount:      amt,
		},
	}
	if len(params.Args) > 3 {
		form.params.Message = params.Args[3]
	}
	if len(params.Args) > 4 {
		if form.params.AllBalance, err = checkBoolArg(params.Args[4], "allbalance"); err != nil {
			return nil, err
		}
	}
	return form, nil
}

func parseTokenSendArgs(params *RawParams) (*tokenSendForm, error) {
	if err := checkNArgs(params, []int{0}, []int{4, 5}); err != nil {
		return nil, err
	}
	// Token amounts may exceed 64 bits.
	if amt, ok := new(big.Int).SetString(params.Args[3], 10); !ok || amt.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be a positive integer", errArgs)
	}
	form := &tokenSendForm{
		from: params.Args[0],
		params: &core.TokenSendParams{
			Root:        params.Args[1],
			Destination: params.Args[2],
			Amount:      params.Args[3],
		},
	}
	if len(params.Args) > 4 {
		form.params.Message = params.Args[4]
	}
	return form, nil
}

// parseImportAccountsArgs decodes the exported accounts JSON array, passed as
// a password argument because it holds secret keys.
func parseImportAccountsArgs(params *RawParams) ([]*core.ExportedAccount, error) {
	if err := checkNArgs(params, []int{1}, []int{0}); err != nil {
		return nil, err
	}
	defer params.PWArgs[0].Clear()
	var exported []*core.ExportedAccount
	if err := json.Unmarshal(params.PWArgs[0], &exported); err != nil {
		return nil, fmt.Errorf("%w: accounts must be a JSON array: %v", errArgs, err)
	}
	if len(exported) == 0 {
		return nil, fmt.Errorf("%w: no accounts", errArgs)
	}
	return exported, nil
}

func parseAccountTokenArgs(params *RawParams) (*accountTokenForm, error) {
	if err := checkNArgs(params, []int{0}, []int{2}); err != nil {
		return nil, err
	}
	return &accountTokenForm{addr: params.Args[0], root: params.Args[1]}, nil
}

func parseApproveArgs(params *RawParams) (*approvalForm, error) {
	if err := checkNArgs(params, []int{0}, []int{1, 2}); err != nil {
		return nil, err
	}
	form := &approvalForm{id: params.Args[0]}
	if len(params.Args) > 1 && params.Args[1] != "" {
		if !json.Valid([]byte(params.Args[1])) {
			return nil, fmt.Errorf("%w: approval data is not JSON", errArgs)
		}
		form.data = json.RawMessage(params.Args[1])
	}
	return form, nil
}

// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rpcserver

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"decred.org/evervault/client/db"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/msgjson"
)

// routes
const (
	helpRoute           = "help"
	versionRoute        = "version"
	initRoute           = "init"
	unlockRoute         = "unlock"
	lockRoute           = "lock"
	stateRoute          = "state"
	setPincodeRoute     = "setpincode"
	disablePincodeRoute = "disablepincode"
	checkPasswordRoute  = "checkpassword"
	newAccountRoute     = "newaccount"
	importAccountRoute  = "importaccount"
	accountsRoute       = "accounts"
	deleteAccountRoute  = "deleteaccount"
	nicknameRoute       = "nickname"
	selectAccountRoute  = "selectaccount"
	transactionsRoute   = "transactions"
	networksRoute       = "networks"
	addNetworkRoute     = "addnetwork"
	removeNetworkRoute  = "removenetwork"
	selectNetworkRoute  = "selectnetwork"
	sendRoute           = "send"
	estimateFeeRoute    = "estimatefee"
	deployRoute         = "deploy"
	giverRoute          = "giver"
	addTokenRoute       = "addtoken"
	removeTokenRoute    = "removetoken"
	transferTokenRoute  = "transfertoken"
	tokenFeeRoute       = "estimatetokenfee"
	exportKeysRoute     = "exportkeys"
	exportAcctsRoute    = "exportaccounts"
	importAcctsRoute    = "importaccounts"
	pendingRoute        = "pending"
	approveRoute        = "approve"
	rejectRoute         = "reject"
	syncRoute           = "sync"
	balancesRoute       = "balances"
	backupRoute         = "backup"
)

const (
	initializedStr    = "vault initialized"
	unlockedStr       = "vault unlocked"
	lockedStr         = "vault locked"
	pincodeSetStr     = "pincode set"
	pincodeOffStr     = "pincode disabled"
	deletedStr        = "account %s deleted"
	nicknameStr       = "account %s renamed %q"
	selectedStr       = "%s selected"
	networkAddedStr   = "network %s added"
	networkRemovedStr = "network %s removed"
	giverStr          = "giver funds sent to %s"
	tokenRemovedStr   = "token %s removed"
	approvedStr       = "request %s approved"
	rejectedStr       = "request %s rejected"
	syncStr           = "sync pass started"
	balancesStr       = "balances updated"
	backupStr         = "backup created"

	defaultPageSize = 20
)

// createResponse creates a msgjson response payload.
func createResponse(op string, res any, resErr *msgjson.Error) *msgjson.ResponsePayload {
	encodedRes, err := json.Marshal(res)
	if err != nil {
		err := fmt.Errorf("unable to marshal data for %s: %w", op, err)
		panic(err)
	}
	return &msgjson.ResponsePayload{Result: encodedRes, Error: resErr}
}

// usage creates and returns usage for route combined with a passed error as a
// *msgjson.ResponsePayload.
func usage(route string, err error) *msgjson.ResponsePayload {
	usage, _ := commandUsage(route, false)
	resErr := msgjson.NewError(msgjson.RPCArgsError, "%v\n\n%s", err, usage)
	return createResponse(route, nil, resErr)
}

// errorResponse wraps a core error with the route's code.
func errorResponse(route string, code int, format string, err error) *msgjson.ResponsePayload {
	resErr := msgjson.NewError(code, format, err)
	return createResponse(route, nil, resErr)
}

// routes maps routes to a handler function.
var routes = map[string]func(s *RPCServer, params *RawParams) *msgjson.ResponsePayload{
	helpRoute:           handleHelp,
	versionRoute:        handleVersion,
	initRoute:           handleInit,
	unlockRoute:         handleUnlock,
	lockRoute:           handleLock,
	stateRoute:          handleState,
	setPincodeRoute:     handleSetPincode,
	disablePincodeRoute: handleDisablePincode,
	checkPasswordRoute:  handleCheckPassword,
	newAccountRoute:     handleNewAccount,
	importAccountRoute:  handleImportAccount,
	accountsRoute:       handleAccounts,
	deleteAccountRoute:  handleDeleteAccount,
	nicknameRoute:       handleNickname,
	selectAccountRoute:  handleSelectAccount,
	transactionsRoute:   handleTransactions,
	networksRoute:       handleNetworks,
	addNetworkRoute:     handleAddNetwork,
	removeNetworkRoute:  handleRemoveNetwork,
	selectNetworkRoute:  handleSelectNetwork,
	sendRoute:           handleSend,
	estimateFeeRoute:    handleEstimateFee,
	deployRoute:         handleDeploy,
	giverRoute:          handleGiver,
	addTokenRoute:       handleAddToken,
	removeTokenRoute:    handleRemoveToken,
	transferTokenRoute:  handleTransferToken,
	tokenFeeRoute:       handleEstimateTokenFee,
	exportKeysRoute:     handleExportKeys,
	exportAcctsRoute:    handleExportAccounts,
	importAcctsRoute:    handleImportAccounts,
	pendingRoute:        handlePending,
	approveRoute:        handleApprove,
	rejectRoute:         handleReject,
	syncRoute:           handleSync,
	balancesRoute:       handleBalances,
	backupRoute:         handleBackup,
}

// handleHelp handles requests for help. Returns general help for all commands
// if no arguments are passed or verbose help if the passed argument is a known
// command.
func handleHelp(_ *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseHelpArgs(params)
	if err != nil {
		return usage(helpRoute, err)
	}
	res := ""
	if form.helpWith == "" {
		// List all commands if no arguments.
		res = ListCommands(form.includePasswords)
	} else {
		var err error
		res, err = commandUsage(form.helpWith, form.includePasswords)
		if err != nil {
			resErr := msgjson.NewError(msgjson.RPCUnknownRoute, "%v", err)
			return createResponse(helpRoute, nil, resErr)
		}
	}
	return createResponse(helpRoute, &res, nil)
}

// handleVersion handles requests for version. It returns the rpc server version
// and the application version.
func handleVersion(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	result := &VersionResult{
		RPCServerVer: &dex.Semver{
			Major: rpcSemverMajor,
			Minor: rpcSemverMinor,
			Patch: rpcSemverPatch,
		},
	}
	if s != nil {
		result.Version = s.version
	}
	return createResponse(versionRoute, result, nil)
}

// handleInit handles requests for init. *msgjson.ResponsePayload.Error is empty
// if successful.
func handleInit(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	pass, err := parseInitArgs(params)
	if err != nil {
		return usage(initRoute, err)
	}
	defer pass.Clear()
	if err := s.core.InitializeClient(pass); err != nil {
		return errorResponse(initRoute, msgjson.RPCInitError, "unable to initialize vault: %v", err)
	}
	res := initializedStr
	return createResponse(initRoute, &res, nil)
}

// handleUnlock handles requests for unlock with the password or the pincode.
func handleUnlock(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseUnlockArgs(params)
	if err != nil {
		return usage(unlockRoute, err)
	}
	defer form.cred.Value.Clear()
	if !s.core.Login(form.cred) {
		resErr := msgjson.NewError(msgjson.RPCLoginError, "incorrect %s", form.cred.Type)
		return createResponse(unlockRoute, nil, resErr)
	}
	res := unlockedStr
	return createResponse(unlockRoute, &res, nil)
}

// handleLock handles requests for lock. Pending page requests are rejected.
func handleLock(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	s.core.Logout()
	res := lockedStr
	return createResponse(lockRoute, &res, nil)
}

// handleState handles requests for state.
func handleState(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	st, err := s.core.State()
	if err != nil {
		return errorResponse(stateRoute, msgjson.RPCErrorUnspecified, "state error: %v", err)
	}
	res := st.String()
	return createResponse(stateRoute, &res, nil)
}

// handleSetPincode handles requests for setpincode.
func handleSetPincode(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	pin, err := parsePincodeArgs(params)
	if err != nil {
		return usage(setPincodeRoute, err)
	}
	defer pin.Clear()
	if err := s.core.SetPincode(pin); err != nil {
		return errorResponse(setPincodeRoute, msgjson.RPCPasswordError, "unable to set pincode: %v", err)
	}
	res := pincodeSetStr
	return createResponse(setPincodeRoute, &res, nil)
}

// handleDisablePincode handles requests for disablepincode.
func handleDisablePincode(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	if err := s.core.DisablePincode(); err != nil {
		return errorResponse(disablePincodeRoute, msgjson.RPCPasswordError, "unable to disable pincode: %v", err)
	}
	res := pincodeOffStr
	return createResponse(disablePincodeRoute, &res, nil)
}

// handleCheckPassword handles requests for checkpassword. The result is
// whether the password is the vault password.
func handleCheckPassword(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	pass, err := parseInitArgs(params)
	if err != nil {
		return usage(checkPasswordRoute, err)
	}
	defer pass.Clear()
	ok := s.core.CheckPassword(pass)
	return createResponse(checkPasswordRoute, ok, nil)
}

// handleNewAccount handles requests for newaccount. The secret phrase is in
// the result and is not stored in plain text.
func handleNewAccount(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	nickname, err := parseSingleArg(params, "nickname")
	if err != nil {
		return usage(newAccountRoute, err)
	}
	phrase, acct, err := s.core.CreateAccount(s.context(), nickname)
	if err != nil {
		return errorResponse(newAccountRoute, msgjson.RPCAccountError, "unable to create account: %v", err)
	}
	return createResponse(newAccountRoute, &newAccountResult{Phrase: phrase, Account: acct.Sanitized()}, nil)
}

// handleImportAccount handles requests for importaccount from a secret phrase
// or a secret key.
func handleImportAccount(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseImportArgs(params)
	if err != nil {
		return usage(importAccountRoute, err)
	}
	defer form.secret.Clear()
	var acct *db.Account
	if form.keys {
		acct, err = s.core.ImportKeys(s.context(), form.nickname, string(form.secret))
	} else {
		acct, err = s.core.ImportAccount(s.context(), form.nickname, string(form.secret))
	}
	if err != nil {
		return errorResponse(importAccountRoute, msgjson.RPCAccountError, "unable to import account: %v", err)
	}
	return createResponse(importAccountRoute, acct.Sanitized(), nil)
}

// handleAccounts handles requests for accounts.
func handleAccounts(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	accts, err := s.core.Accounts()
	if err != nil {
		return errorResponse(accountsRoute, msgjson.RPCAccountError, "unable to load accounts: %v", err)
	}
	for i, acct := range accts {
		accts[i] = acct.Sanitized()
	}
	return createResponse(accountsRoute, accts, nil)
}

// handleDeleteAccount handles requests for deleteaccount. The vault password
// is required.
func handleDeleteAccount(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	addr, pass, err := parseDeleteAccountArgs(params)
	if err != nil {
		return usage(deleteAccountRoute, err)
	}
	defer pass.Clear()
	if err := s.core.DeleteAccount(addr, pass); err != nil {
		return errorResponse(deleteAccountRoute, msgjson.RPCAccountError, "unable to delete account: %v", err)
	}
	res := fmt.Sprintf(deletedStr, addr)
	return createResponse(deleteAccountRoute, &res, nil)
}

// handleNickname handles requests for nickname.
func handleNickname(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	addr, nickname, err := parseNicknameArgs(params)
	if err != nil {
		return usage(nicknameRoute, err)
	}
	if err := s.core.UpdateNickname(addr, nickname); err != nil {
		return errorResponse(nicknameRoute, msgjson.RPCAccountError, "unable to rename account: %v", err)
	}
	res := fmt.Sprintf(nicknameStr, addr, nickname)
	return createResponse(nicknameRoute, &res, nil)
}

// handleSelectAccount handles requests for selectaccount.
func handleSelectAccount(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	addr, err := parseSingleArg(params, "address")
	if err != nil {
		return usage(selectAccountRoute, err)
	}
	if err := s.core.SelectAccount(addr); err != nil {
		return errorResponse(selectAccountRoute, msgjson.RPCAccountError, "unable to select account: %v", err)
	}
	res := fmt.Sprintf(selectedStr, addr)
	return createResponse(selectAccountRoute, &res, nil)
}

// handleTransactions handles requests for transactions. The selected account
// and network are the defaults.
func handleTransactions(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseTransactionsArgs(params, s.core.SelectedAccount(), s.core.SelectedNetwork())
	if err != nil {
		return usage(transactionsRoute, err)
	}
	txs, err := s.core.Transactions(form.addr, form.server, form.pageSize, form.page)
	if err != nil {
		return errorResponse(transactionsRoute, msgjson.RPCAccountError, "unable to load transactions: %v", err)
	}
	return createResponse(transactionsRoute, txs, nil)
}

// handleNetworks handles requests for networks.
func handleNetworks(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	nets, err := s.core.Networks()
	if err != nil {
		return errorResponse(networksRoute, msgjson.RPCNetworkError, "unable to load networks: %v", err)
	}
	return createResponse(networksRoute, nets, nil)
}

// handleAddNetwork handles requests for addnetwork.
func handleAddNetwork(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	n, err := parseAddNetworkArgs(params)
	if err != nil {
		return usage(addNetworkRoute, err)
	}
	if err := s.core.AddNetwork(n); err != nil {
		return errorResponse(addNetworkRoute, msgjson.RPCNetworkError, "unable to add network: %v", err)
	}
	res := fmt.Sprintf(networkAddedStr, n.Server)
	return createResponse(addNetworkRoute, &res, nil)
}

// handleRemoveNetwork handles requests for removenetwork. Only custom networks
// can be removed.
func handleRemoveNetwork(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	server, err := parseSingleArg(params, "server")
	if err != nil {
		return usage(removeNetworkRoute, err)
	}
	if err := s.core.RemoveNetwork(server); err != nil {
		return errorResponse(removeNetworkRoute, msgjson.RPCNetworkError, "unable to remove network: %v", err)
	}
	res := fmt.Sprintf(networkRemovedStr, server)
	return createResponse(removeNetworkRoute, &res, nil)
}

// handleSelectNetwork handles requests for selectnetwork.
func handleSelectNetwork(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	server, err := parseSingleArg(params, "server")
	if err != nil {
		return usage(selectNetworkRoute, err)
	}
	if err := s.core.SelectNetwork(server); err != nil {
		return errorResponse(selectNetworkRoute, msgjson.RPCNetworkError, "unable to select network: %v", err)
	}
	res := fmt.Sprintf(selectedStr, server)
	return createResponse(selectNetworkRoute, &res, nil)
}

// handleSend handles requests for send on the selected network.
func handleSend(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseSendArgs(params)
	if err != nil {
		return usage(sendRoute, err)
	}
	res, err := s.core.Send(s.context(), form.from, s.core.SelectedNetwork(), form.params)
	if err != nil {
		return errorResponse(sendRoute, msgjson.RPCSendError, "unable to send: %v", err)
	}
	return createResponse(sendRoute, res, nil)
}

// handleEstimateFee handles requests for estimatefee on the selected network.
func handleEstimateFee(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseSendArgs(params)
	if err != nil {
		return usage(estimateFeeRoute, err)
	}
	fee, err := s.core.EstimateFee(s.context(), form.from, s.core.SelectedNetwork(), form.params)
	if err != nil {
		return errorResponse(estimateFeeRoute, msgjson.RPCSendError, "unable to estimate fee: %v", err)
	}
	return createResponse(estimateFeeRoute, &feeResult{Fee: fee}, nil)
}

// handleDeploy handles requests for deploy of an account's wallet contract
// on the selected network.
func handleDeploy(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	addr, err := parseSingleArg(params, "address")
	if err != nil {
		return usage(deployRoute, err)
	}
	already, err := s.core.Deploy(s.context(), addr, s.core.SelectedNetwork())
	if err != nil {
		return errorResponse(deployRoute, msgjson.RPCDeployError, "unable to deploy: %v", err)
	}
	return createResponse(deployRoute, &deployResult{Address: addr, AlreadyDeployed: already}, nil)
}

// handleGiver handles requests for giver. Only networks with a giver fund
// accounts.
func handleGiver(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	addr, err := parseSingleArg(params, "address")
	if err != nil {
		return usage(giverRoute, err)
	}
	if err := s.core.TakeFromGiver(s.context(), addr, s.core.SelectedNetwork()); err != nil {
		return errorResponse(giverRoute, msgjson.RPCSendError, "giver error: %v", err)
	}
	res := fmt.Sprintf(giverStr, addr)
	return createResponse(giverRoute, &res, nil)
}

// handleAddToken handles requests for addtoken on the selected network.
func handleAddToken(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseAccountTokenArgs(params)
	if err != nil {
		return usage(addTokenRoute, err)
	}
	tkn, err := s.core.AddToken(s.context(), form.addr, s.core.SelectedNetwork(), form.root)
	if err != nil {
		return errorResponse(addTokenRoute, msgjson.RPCTokenError, "unable to add token: %v", err)
	}
	return createResponse(addTokenRoute, tkn, nil)
}

// handleRemoveToken handles requests for removetoken on the selected network.
func handleRemoveToken(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseAccountTokenArgs(params)
	if err != nil {
		return usage(removeTokenRoute, err)
	}
	if err := s.core.RemoveToken(form.addr, s.core.SelectedNetwork(), form.root); err != nil {
		return errorResponse(removeTokenRoute, msgjson.RPCTokenError, "unable to remove token: %v", err)
	}
	res := fmt.Sprintf(tokenRemovedStr, form.root)
	return createResponse(removeTokenRoute, &res, nil)
}

// handleTransferToken handles requests for transfertoken on the selected
// network.
func handleTransferToken(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseTokenSendArgs(params)
	if err != nil {
		return usage(transferTokenRoute, err)
	}
	res, err := s.core.TransferToken(s.context(), form.from, s.core.SelectedNetwork(), form.params)
	if err != nil {
		return errorResponse(transferTokenRoute, msgjson.RPCTokenError, "unable to transfer token: %v", err)
	}
	return createResponse(transferTokenRoute, res, nil)
}

// handleEstimateTokenFee handles requests for estimatetokenfee on the
// selected network.
func handleEstimateTokenFee(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseTokenSendArgs(params)
	if err != nil {
		return usage(tokenFeeRoute, err)
	}
	fee, err := s.core.EstimateTokenFee(s.context(), form.from, s.core.SelectedNetwork(), form.params)
	if err != nil {
		return errorResponse(tokenFeeRoute, msgjson.RPCTokenError, "unable to estimate fee: %v", err)
	}
	return createResponse(tokenFeeRoute, &feeResult{Fee: fee}, nil)
}

// handleExportKeys handles requests for exportkeys. The vault password is
// required.
func handleExportKeys(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	addr, pass, err := parseDeleteAccountArgs(params)
	if err != nil {
		return usage(exportKeysRoute, err)
	}
	defer pass.Clear()
	kp, err := s.core.ExportKeys(addr, pass)
	if err != nil {
		return errorResponse(exportKeysRoute, msgjson.RPCAccountError, "unable to export keys: %v", err)
	}
	return createResponse(exportKeysRoute, kp, nil)
}

// handleExportAccounts handles requests for exportaccounts. The result is
// accepted by importaccounts.
func handleExportAccounts(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	pass, err := parseInitArgs(params)
	if err != nil {
		return usage(exportAcctsRoute, err)
	}
	defer pass.Clear()
	accts, err := s.core.ExportAccounts(pass)
	if err != nil {
		return errorResponse(exportAcctsRoute, msgjson.RPCAccountError, "unable to export accounts: %v", err)
	}
	return createResponse(exportAcctsRoute, accts, nil)
}

// handleImportAccounts handles requests for importaccounts.
func handleImportAccounts(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	exported, err := parseImportAccountsArgs(params)
	if err != nil {
		return usage(importAcctsRoute, err)
	}
	accts, err := s.core.ImportAccounts(s.context(), exported)
	if err != nil {
		return errorResponse(importAcctsRoute, msgjson.RPCAccountError, "unable to import accounts: %v", err)
	}
	return createResponse(importAcctsRoute, accts, nil)
}

// handlePending handles requests for pending page requests.
func handlePending(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	return createResponse(pendingRoute, s.core.PendingApprovals(), nil)
}

// handleApprove handles requests for approve.
func handleApprove(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	form, err := parseApproveArgs(params)
	if err != nil {
		return usage(approveRoute, err)
	}
	if err := s.core.Approve(form.id, form.data); err != nil {
		return errorResponse(approveRoute, msgjson.RPCApprovalError, "unable to approve: %v", err)
	}
	res := fmt.Sprintf(approvedStr, form.id)
	return createResponse(approveRoute, &res, nil)
}

// handleReject handles requests for reject.
func handleReject(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	id, err := parseSingleArg(params, "id")
	if err != nil {
		return usage(rejectRoute, err)
	}
	if err := s.core.Reject(id); err != nil {
		return errorResponse(rejectRoute, msgjson.RPCApprovalError, "unable to reject: %v", err)
	}
	res := fmt.Sprintf(rejectedStr, id)
	return createResponse(rejectRoute, &res, nil)
}

// handleSync handles requests for sync. With no arguments every account is
// synced.
func handleSync(s *RPCServer, params *RawParams) *msgjson.ResponsePayload {
	if len(params.PWArgs) > 0 {
		return usage(syncRoute, fmt.Errorf("%w: no password arguments", errArgs))
	}
	s.core.Sync(s.context(), params.Args...)
	res := syncStr
	return createResponse(syncRoute, &res, nil)
}

// handleBalances handles requests for balances. Every account's balance on the
// selected network is refreshed.
func handleBalances(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	if err := s.core.UpdateBalances(s.context(), s.core.SelectedNetwork()); err != nil {
		return errorResponse(balancesRoute, msgjson.RPCSyncError, "unable to update balances: %v", err)
	}
	res := balancesStr
	return createResponse(balancesRoute, &res, nil)
}

// handleBackup handles requests for backup.
func handleBackup(s *RPCServer, _ *RawParams) *msgjson.ResponsePayload {
	if err := s.core.Backup(); err != nil {
		return errorResponse(backupRoute, msgjson.RPCBackupError, "unable to back up: %v", err)
	}
	res := backupStr
	return createResponse(backupRoute, &res, nil)
}

// ListCommands prints a short usage string for every route available to the
// rpcserver.
func ListCommands(includePasswords bool) string {
	var sb strings.Builder
	var err error
	for _, r := range sortHelpKeys() {
		msg := helpMsgs[r]
		// help should have no password arguments
		if includePasswords && r != helpRoute {
			_, err = sb.WriteString(fmt.Sprintf("%s %s %s\n", r, msg.pwArgsShort, msg.argsShort))
		} else {
			_, err = sb.WriteString(fmt.Sprintf("%s %s\n", r, msg.argsShort))
		}
		if err != nil {
			log.Errorf("unable to parse help message for %s", r)
			return ""
		}
	}
	s := sb.String()
	// Remove trailing newline.
	return s[:len(s)-1]
}

// commandUsage returns a help message for cmd or an error if cmd is unknown.
func commandUsage(cmd string, includePasswords bool) (string, error) {
	msg, exists := helpMsgs[cmd]
	if !exists {
		return "", fmt.Errorf("%w: %s", errUnknownCmd, cmd)
	}
	// help should have no password arguments
	if includePasswords && cmd != helpRoute {
		return fmt.Sprintf("%s %s %s\n\n%s\n\n%s%s%s",
			cmd, msg.pwArgsShort, msg.argsShort, msg.cmdSummary, msg.pwArgsLong, msg.argsLong, msg.returns), nil
	}
	return fmt.Sprintf("%s %s\n\n%s\n\n%s%s",
		cmd, msg.argsShort, msg.cmdSummary, msg.argsLong, msg.returns), nil
}

// sortHelpKeys returns a sorted list of helpMsgs keys.
func sortHelpKeys() []string {
	keys := make([]string, 0, len(helpMsgs))
	for k := range helpMsgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

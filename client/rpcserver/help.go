// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rpcserver

import "errors"

// errUnknownCmd is wrapped when the command is not known.
var errUnknownCmd = errors.New("unknown command")

type helpMsg struct {
	pwArgsShort, argsShort, cmdSummary, pwArgsLong, argsLong, returns string
}

// helpMsgs are a map of routes to help messages. They are broken down into six
// sections.
// In descending order:
//  1. Password argument example inputs. These are arguments the caller may not
//     want to echo listed in order of input.
//  2. Argument example inputs. These are non-sensitive arguments listed in
//     order of input.
//  3. A description of the command.
//  4. An extensive breakdown of the password arguments.
//  5. An extensive breakdown of the arguments.
//  6. An extensive breakdown of the returned values.
var helpMsgs = map[string]helpMsg{
	helpRoute: {
		argsShort:  `("cmd") (includePasswords)`,
		cmdSummary: `Print a help message.`,
		argsLong: `Args:
    cmd (string): Optional. The command to print help for.
    includePasswords (bool): Optional. Default is false. Whether to include
      password arguments in the returned help.`,
		returns: `Returns:
    string: The help message for command.`,
	},
	versionRoute: {
		cmdSummary: `Print the rpcserver and application versions.`,
		returns: `Returns:
    obj: The versions.
    {
      "rpcServerVersion" (obj): {"major", "minor", "patch"},
      "version" (string): The application version.
    }`,
	},
	initRoute: {
		pwArgsShort: `"password"`,
		cmdSummary:  `Initialize the vault with a password. The vault is unlocked.`,
		pwArgsLong: `Password Args:
    password (string): The vault password.`,
		returns: `Returns:
    string: The message "` + initializedStr + `"`,
	},
	unlockRoute: {
		pwArgsShort: `"credential"`,
		argsShort:   `("type")`,
		cmdSummary:  `Unlock the vault.`,
		pwArgsLong: `Password Args:
    credential (string): The vault password or pincode.`,
		argsLong: `Args:
    type (string): Optional. "password" (default) or "pincode".`,
		returns: `Returns:
    string: The message "` + unlockedStr + `"`,
	},
	lockRoute: {
		cmdSummary: `Lock the vault. Pending page requests are rejected.`,
		returns: `Returns:
    string: The message "` + lockedStr + `"`,
	},
	stateRoute: {
		cmdSummary: `Print the vault state.`,
		returns: `Returns:
    string: uninitialized, locked or unlocked.`,
	},
	setPincodeRoute: {
		pwArgsShort: `"pincode"`,
		cmdSummary:  `Set a pincode that unlocks the vault. The vault must be unlocked.`,
		pwArgsLong: `Password Args:
    pincode (string): The new pincode.`,
		returns: `Returns:
    string: The message "` + pincodeSetStr + `"`,
	},
	disablePincodeRoute: {
		cmdSummary: `Remove the pincode.`,
		returns: `Returns:
    string: The message "` + pincodeOffStr + `"`,
	},
	checkPasswordRoute: {
		pwArgsShort: `"password"`,
		cmdSummary:  `Check a password against the vault password.`,
		pwArgsLong: `Password Args:
    password (string): The password to check.`,
		returns: `Returns:
    bool: Whether the password is correct.`,
	},
	newAccountRoute: {
		argsShort:  `"nickname"`,
		cmdSummary: `Create an account from a new secret phrase. Write the phrase down.`,
		argsLong: `Args:
    nickname (string): The account nickname.`,
		returns: `Returns:
    obj: The phrase and the account.
    {
      "phrase" (string): The 12 word secret phrase.
      "account" (obj): The account.
    }`,
	},
	importAccountRoute: {
		pwArgsShort: `"secret"`,
		argsShort:   `"nickname" ("type")`,
		cmdSummary:  `Import an account from a secret phrase or a secret key.`,
		pwArgsLong: `Password Args:
    secret (string): The secret phrase, or the hex secret key.`,
		argsLong: `Args:
    nickname (string): The account nickname.
    type (string): Optional. "phrase" (default) or "keys".`,
		returns: `Returns:
    obj: The account.`,
	},
	accountsRoute: {
		cmdSummary: `List the vault's accounts.`,
		returns: `Returns:
    array: The accounts, without secrets.`,
	},
	deleteAccountRoute: {
		pwArgsShort: `"password"`,
		argsShort:   `"address"`,
		cmdSummary:  `Delete an account.`,
		pwArgsLong: `Password Args:
    password (string): The vault password.`,
		argsLong: `Args:
    address (string): The account address.`,
		returns: `Returns:
    string: A deletion message.`,
	},
	nicknameRoute: {
		argsShort:  `"address" "nickname"`,
		cmdSummary: `Rename an account.`,
		argsLong: `Args:
    address (string): The account address.
    nickname (string): The new nickname.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	selectAccountRoute: {
		argsShort:  `"address"`,
		cmdSummary: `Select the account pages see.`,
		argsLong: `Args:
    address (string): The account address.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	transactionsRoute: {
		argsShort:  `("address") ("network") (pageSize) (page)`,
		cmdSummary: `List an account's transactions, newest first.`,
		argsLong: `Args:
    address (string): Optional. The account. Default is the selected account.
    network (string): Optional. The network server. Default is the selected
      network.
    pageSize (int): Optional. Default is 20.
    page (int): Optional. Default is 1.`,
		returns: `Returns:
    array: The transactions.`,
	},
	networksRoute: {
		cmdSummary: `List the networks.`,
		returns: `Returns:
    array: The networks, ordered by id.`,
	},
	addNetworkRoute: {
		argsShort:  `"server" ("name") ("explorer") ("endpoints") ("coin") ("giver")`,
		cmdSummary: `Add a custom network.`,
		argsLong: `Args:
    server (string): The network server.
    name (string): Optional. Default is the server.
    explorer (string): Optional. The block explorer URL.
    endpoints (string): Optional. Comma separated endpoints. Default is the
      server.
    coin (string): Optional. The coin name.
    giver (string): Optional. The giver contract address.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	removeNetworkRoute: {
		argsShort:  `"server"`,
		cmdSummary: `Remove a custom network.`,
		argsLong: `Args:
    server (string): The network server.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	selectNetworkRoute: {
		argsShort:  `"server"`,
		cmdSummary: `Select the network pages see.`,
		argsLong: `Args:
    server (string): The network server.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	sendRoute: {
		argsShort:  `"from" "destination" amount ("message") (allBalance)`,
		cmdSummary: `Send coins on the selected network. The vault must be unlocked.`,
		argsLong: `Args:
    from (string): The sending account.
    destination (string): The receiving address.
    amount (int): The amount in nano units.
    message (string): Optional. A comment.
    allBalance (bool): Optional. Send the whole balance.`,
		returns: `Returns:
    obj: The transaction id, or the error.`,
	},
	estimateFeeRoute: {
		argsShort:  `"from" "destination" amount ("message") (allBalance)`,
		cmdSummary: `Estimate the fee of a send on the selected network.`,
		argsLong: `Args:
    Same as send.`,
		returns: `Returns:
    obj: {"fee" (string): The fee in nano units.}`,
	},
	deployRoute: {
		argsShort:  `"address"`,
		cmdSummary: `Deploy an account's wallet contract on the selected network.`,
		argsLong: `Args:
    address (string): The account address.`,
		returns: `Returns:
    obj: The address and whether it was already deployed.`,
	},
	giverRoute: {
		argsShort:  `"address"`,
		cmdSummary: `Fund an address from the selected network's giver.`,
		argsLong: `Args:
    address (string): The address to fund.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	addTokenRoute: {
		argsShort:  `"address" "root"`,
		cmdSummary: `Add a token to an account on the selected network.`,
		argsLong: `Args:
    address (string): The account address.
    root (string): The token root address.`,
		returns: `Returns:
    obj: The token.`,
	},
	removeTokenRoute: {
		argsShort:  `"address" "root"`,
		cmdSummary: `Remove a token from an account on the selected network.`,
		argsLong: `Args:
    address (string): The account address.
    root (string): The token root address.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	transferTokenRoute: {
		argsShort:  `"from" "root" "destination" "amount" ("message")`,
		cmdSummary: `Send tokens on the selected network. The vault must be unlocked.`,
		argsLong: `Args:
    from (string): The sending account.
    root (string): The token root address. The account must track the token.
    destination (string): The receiving owner address.
    amount (string): The amount in the token's smallest units.
    message (string): Optional. A comment.`,
		returns: `Returns:
    obj: The transaction id and a description.`,
	},
	tokenFeeRoute: {
		argsShort:  `"from" "root" "destination" "amount" ("message")`,
		cmdSummary: `Estimate the fee of a token transfer on the selected network.`,
		argsLong: `Args:
    Same as transfertoken.`,
		returns: `Returns:
    obj: {"fee" (string): The fee in nano units.}`,
	},
	exportKeysRoute: {
		pwArgsShort: `"password"`,
		argsShort:   `"address"`,
		cmdSummary:  `Print an account's key pair. Anyone with the secret key controls the account.`,
		pwArgsLong: `Password Args:
    password (string): The vault password.`,
		argsLong: `Args:
    address (string): The account address.`,
		returns: `Returns:
    obj: {"public" (string), "secret" (string)}`,
	},
	exportAcctsRoute: {
		pwArgsShort: `"password"`,
		cmdSummary:  `Print every account with its key pair.`,
		pwArgsLong: `Password Args:
    password (string): The vault password.`,
		returns: `Returns:
    array: The accounts, as accepted by importaccounts.
    [{"address" (string), "nickname" (string), "keyPair" (obj)}, ...]`,
	},
	importAcctsRoute: {
		pwArgsShort: `"accounts"`,
		cmdSummary:  `Import accounts exported by exportaccounts. The vault must be unlocked.`,
		pwArgsLong: `Password Args:
    accounts (string): The JSON array of exported accounts.`,
		returns: `Returns:
    array: The imported accounts, without secrets.`,
	},
	pendingRoute: {
		cmdSummary: `List page requests waiting for approval.`,
		returns: `Returns:
    array: The pending requests.`,
	},
	approveRoute: {
		argsShort:  `"id" ("data")`,
		cmdSummary: `Approve a pending page request.`,
		argsLong: `Args:
    id (string): The request id.
    data (string): Optional. JSON data for the request.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	rejectRoute: {
		argsShort:  `"id"`,
		cmdSummary: `Reject a pending page request.`,
		argsLong: `Args:
    id (string): The request id.`,
		returns: `Returns:
    string: A confirmation message.`,
	},
	syncRoute: {
		argsShort:  `("address") ...`,
		cmdSummary: `Start a transaction sync pass.`,
		argsLong: `Args:
    address (string): Optional. Accounts to sync. Default is every account.`,
		returns: `Returns:
    string: The message "` + syncStr + `"`,
	},
	balancesRoute: {
		cmdSummary: `Refresh every account's balance on the selected network.`,
		returns: `Returns:
    string: The message "` + balancesStr + `"`,
	},
	backupRoute: {
		cmdSummary: `Copy the vault database to the backup directory.`,
		returns: `Returns:
    string: The message "` + backupStr + `"`,
	},
}

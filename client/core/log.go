// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package core

import (
	"decred.org/evervault/client/broker"
	"decred.org/evervault/client/ledger/graphql"
	"decred.org/evervault/client/lock"
	"decred.org/evervault/client/txsync"
	"decred.org/evervault/dex"
	"decred.org/evervault/dex/wait"
)

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests it.
var log = dex.Disabled

// DisableLog disables all library log output.  Logging output is disabled
// by default until UseLogger is called.
func DisableLog() {
	log = dex.Disabled
}

// UseLoggerMaker sets the loggers of core and the packages it drives.
func UseLoggerMaker(maker *dex.LoggerMaker) {
	log = maker.NewLogger("CORE")
	lock.UseLogger(maker.NewLogger("LOCK"))
	broker.UseLogger(maker.NewLogger("BRKR"))
	txsync.UseLogger(maker.NewLogger("SYNC"))
	graphql.UseLogger(maker.NewLogger("GQL"))
	wait.UseLogger(maker.NewLogger("WAIT"))
}

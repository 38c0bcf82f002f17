// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package app

import (
	"fmt"
	"os"
	"path/filepath"

	"decred.org/evervault/dex"
	"github.com/jrick/logrotate/rotator"
)

// logRollThreshold is the log file size in KiB at which the file is rolled.
const logRollThreshold = 32 * 1024

// logWriter implements an io.Writer that outputs to a rotating log file.
type logWriter struct {
	*rotator.Rotator
	stdout bool
}

// Write writes the data in p to the log file.
func (w logWriter) Write(p []byte) (n int, err error) {
	if w.stdout {
		os.Stdout.Write(p)
	}
	return w.Rotator.Write(p)
}

// InitLogging initializes the logging rotater to write logs to logFile and
// create roll files in the same directory. The returned function closes the
// rotator and should be called on shutdown.
func InitLogging(logFilename, lvl string, stdout bool, maxRolls int) (lm *dex.LoggerMaker, closeFn func(), err error) {
	logDirectory := filepath.Dir(logFilename)
	if err = os.MkdirAll(logDirectory, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logRotator, err := rotator.New(logFilename, logRollThreshold, false, maxRolls)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file rotator: %w", err)
	}
	if !stdout {
		fmt.Println("Logging to", logFilename)
	}
	lm, err = dex.NewLoggerMaker(&logWriter{logRotator, stdout}, lvl)
	if err != nil {
		logRotator.Close()
		return nil, nil, fmt.Errorf("failed to create custom logger: %w", err)
	}
	return lm, func() {
		logRotator.Close()
	}, nil
}

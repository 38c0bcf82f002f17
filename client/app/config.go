// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package app

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"decred.org/evervault/client/core"
	"decred.org/evervault/client/db"
	"decred.org/evervault/client/rpcserver"
	"decred.org/evervault/client/webserver"
	"decred.org/evervault/dex"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/jessevdk/go-flags"
)

const (
	defaultRPCCertFile     = "rpc.cert"
	defaultRPCKeyFile      = "rpc.key"
	defaultHost            = "127.0.0.1"
	defaultRPCPort         = "5767"
	defaultWebPort         = "5768"
	defaultLogLevel        = "info"
	defaultMaxLogRolls     = 16
	defaultSyncInterval    = 15 * time.Second
	defaultApprovalTimeout = 5 * time.Minute
	configFilename         = "evervault.conf"
	dbFilename             = "vault.db"
	logFilename            = "evervault.log"
)

// Version is the application version.
var Version = "0.1.0"

var (
	defaultApplicationDirectory = dcrutil.AppDataDir("evervault", false)
	defaultConfigPath           = filepath.Join(defaultApplicationDirectory, configFilename)

	// netServers maps the --net names to the built-in network servers.
	netServers = map[string]string{
		"mainnet": db.MainNet,
		"devnet":  db.DevNet,
		"local":   db.LocalNet,
	}
)

// RPCConfig encapsulates the configuration needed for the RPC server.
type RPCConfig struct {
	RPCAddr string `long:"rpcaddr" description:"RPC server listen address"`
	RPCUser string `long:"rpcuser" description:"RPC server user name"`
	RPCPass string `long:"rpcpass" description:"RPC server password"`
	RPCCert string `long:"rpccert" description:"RPC server certificate file location"`
	RPCKey  string `long:"rpckey" description:"RPC server key file location"`
	// CertHosts is a list of hosts given to certgen.NewTLSCertPair for the
	// "Subject Alternate Name" values of the generated TLS certificate. It is
	// set automatically, not via the config file or cli args.
	CertHosts []string
}

// RPC creates a rpc server configuration.
func (cfg *RPCConfig) RPC(c *core.Core, log dex.Logger) *rpcserver.Config {
	return &rpcserver.Config{
		Core:      c,
		Addr:      cfg.RPCAddr,
		User:      cfg.RPCUser,
		Pass:      cfg.RPCPass,
		Cert:      cfg.RPCCert,
		Key:       cfg.RPCKey,
		CertHosts: cfg.CertHosts,
		Version:   Version,
		Logger:    log,
	}
}

// CoreConfig encapsulates the settings specific to core.Core.
type CoreConfig struct {
	DBPath          string        `long:"db" description:"Database filepath. Database will be created if it does not exist."`
	TorProxy        string        `long:"torproxy" description:"Connect to the ledger via TOR (eg. 127.0.0.1:9050)."`
	SyncInterval    time.Duration `long:"syncinterval" description:"Period of the transaction sync pass."`
	ApprovalTimeout time.Duration `long:"approvaltimeout" description:"How long a page request waits for the user's approval."`
	Net             string        `long:"net" description:"Network selected at startup {mainnet, devnet, local}. The last selection is kept if unset."`
}

// Server is the built-in network server named by Net, or "" if Net is unset.
func (cfg *CoreConfig) Server() string {
	return netServers[cfg.Net]
}

// WebConfig encapsulates the configuration needed for the web server.
type WebConfig struct {
	WebAddr     string `long:"webaddr" description:"HTTP server address"`
	SiteDir     string `long:"sitedir" description:"Path to a directory of UI files served at the web server root."`
	OpenBrowser bool   `long:"browser" description:"Open the UI in the default browser at startup."`
}

// LogConfig encapsulates the logging-related settings.
type LogConfig struct {
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `long:"log" description:"Logging level {trace, debug, info, warn, error, critical}, or per subsystem, e.g. info,CORE=debug"`
	LogStdout   bool   `long:"logstdout" description:"Also write logs to standard out."`
	MaxLogRolls int    `long:"maxlogrolls" description:"Maximum number of rolled log files to keep."`
}

// Config is the common application configuration definition. This composite
// struct captures the configuration needed for core and both web and rpc
// servers, as well as some application-level directives.
type Config struct {
	CoreConfig
	RPCConfig
	WebConfig
	LogConfig
	// AppData and ConfigPath should be parsed from the command-line,
	// as it makes no sense to set these in the config file itself. If no values
	// are assigned, defaults will be used.
	AppData    string `long:"appdata" description:"Path to application directory."`
	ConfigPath string `long:"config" description:"Path to an INI configuration file."`
	RPCOn      bool   `long:"rpc" description:"turn on the rpc server"`
	NoWeb      bool   `long:"noweb" description:"disable the web server."`
	ShowVer    bool   `short:"V" long:"version" description:"Display version information and exit"`
}

// Web creates a configuration for the webserver.
func (cfg *Config) Web(c *core.Core, log dex.Logger) *webserver.Config {
	return &webserver.Config{
		Core:    c,
		Addr:    cfg.WebAddr,
		SiteDir: cfg.SiteDir,
		Logger:  log,
	}
}

// Core creates a core.Core configuration.
func (cfg *Config) Core(lm *dex.LoggerMaker) *core.Config {
	return &core.Config{
		DBPath:          cfg.DBPath,
		LoggerMaker:     lm,
		TorProxy:        cfg.TorProxy,
		SyncInterval:    cfg.SyncInterval,
		ApprovalTimeout: cfg.ApprovalTimeout,
	}
}

// UIAddress is the URL of the wallet UI.
func (cfg *Config) UIAddress() string {
	return "http://" + cfg.WebAddr
}

// DefaultConfig is the Config before any flags are parsed.
var DefaultConfig = Config{
	AppData:    defaultApplicationDirectory,
	ConfigPath: defaultConfigPath,
	LogConfig: LogConfig{
		DebugLevel:  defaultLogLevel,
		MaxLogRolls: defaultMaxLogRolls,
	},
	CoreConfig: CoreConfig{
		SyncInterval:    defaultSyncInterval,
		ApprovalTimeout: defaultApprovalTimeout,
	},
	RPCConfig: RPCConfig{
		CertHosts: []string{defaultHost, "localhost"},
	},
}

// ParseCLIConfig parses the command-line arguments into the provided struct
// with go-flags tags. If the --help flag has been passed, the struct is
// described back to the terminal and the program exits using os.Exit.
func ParseCLIConfig(cfg any) error {
	preParser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	_, flagerr := preParser.Parse()

	if flagerr != nil {
		e, ok := flagerr.(*flags.Error)
		if !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		if ok && e.Type == flags.ErrHelp {
			preParser.WriteHelp(os.Stdout)
			os.Exit(0)
		}
		return flagerr
	}
	return nil
}

// ResolveCLIConfigPaths resolves the app data directory path and the
// configuration file path from the CLI config, (presumably parsed with
// ParseCLIConfig).
func ResolveCLIConfigPaths(cfg *Config) (appData, configPath string) {
	// If the app directory has been changed, replace shortcut chars such
	// as "~" with the full path.
	if cfg.AppData != defaultApplicationDirectory {
		cfg.AppData = dex.CleanAndExpandPath(cfg.AppData)
		// If the app directory has been changed, but the config file path hasn't,
		// reform the config file path with the new directory.
		if cfg.ConfigPath == defaultConfigPath {
			cfg.ConfigPath = filepath.Join(cfg.AppData, configFilename)
		}
	}
	cfg.ConfigPath = dex.CleanAndExpandPath(cfg.ConfigPath)
	return cfg.AppData, cfg.ConfigPath
}

// ParseFileConfig parses the INI file into the provided struct with go-flags
// tags. The CLI args are then parsed, and take precedence over the file values.
func ParseFileConfig(path string, cfg any) error {
	parser := flags.NewParser(cfg, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(path)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return err
		}
		// Missing file is not an error.
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return err
	}
	return nil
}

// ResolveConfig sets derivative fields of the Config struct using the specified
// app data directory (presumably returned from ResolveCLIConfigPaths). Some
// unset values are given defaults.
func ResolveConfig(appData string, cfg *Config) error {
	if cfg.Net != "" && cfg.Server() == "" {
		return fmt.Errorf("unknown network %q", cfg.Net)
	}
	if cfg.SyncInterval < time.Second {
		return fmt.Errorf("sync interval %s is too short", cfg.SyncInterval)
	}
	if cfg.ApprovalTimeout <= 0 {
		return fmt.Errorf("invalid approval timeout %s", cfg.ApprovalTimeout)
	}
	if cfg.MaxLogRolls < 0 {
		return fmt.Errorf("negative maxlogrolls")
	}
	if cfg.RPCOn && cfg.RPCPass == "" {
		return fmt.Errorf("rpc server enabled without an rpcpass")
	}

	cfg.AppData = appData

	if cfg.WebAddr == "" {
		cfg.WebAddr = net.JoinHostPort(defaultHost, defaultWebPort)
	}
	if cfg.RPCAddr == "" {
		cfg.RPCAddr = net.JoinHostPort(defaultHost, defaultRPCPort)
	}

	if cfg.RPCCert == "" {
		cfg.RPCCert = filepath.Join(appData, defaultRPCCertFile)
	} else {
		cfg.RPCCert = dex.CleanAndExpandPath(cfg.RPCCert)
	}
	if cfg.RPCKey == "" {
		cfg.RPCKey = filepath.Join(appData, defaultRPCKeyFile)
	} else {
		cfg.RPCKey = dex.CleanAndExpandPath(cfg.RPCKey)
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(appData, dbFilename)
	} else {
		cfg.DBPath = dex.CleanAndExpandPath(cfg.DBPath)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(appData, "logs")
	} else {
		cfg.LogDir = dex.CleanAndExpandPath(cfg.LogDir)
	}
	if cfg.SiteDir != "" {
		cfg.SiteDir = dex.CleanAndExpandPath(cfg.SiteDir)
	}
	cfg.DebugLevel = strings.TrimSpace(cfg.DebugLevel)
	if cfg.DebugLevel == "" {
		cfg.DebugLevel = defaultLogLevel
	}

	if err := os.MkdirAll(appData, 0700); err != nil {
		return fmt.Errorf("failed to create app directory: %w", err)
	}
	return nil
}

// LogPath is the path of the current log file.
func (cfg *Config) LogPath() string {
	return filepath.Join(cfg.LogDir, logFilename)
}

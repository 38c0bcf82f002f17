// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"

	"decred.org/evervault/client/app"
	"decred.org/evervault/client/core"
	"decred.org/evervault/client/rpcserver"
	"decred.org/evervault/client/webserver"
	"decred.org/evervault/dex"
	"github.com/pkg/browser"
)

const appName = "evervault"

var log dex.Logger = dex.Disabled

// loadConfig reads the command line, then the config file it names. Command
// line values override the file.
func loadConfig() (*app.Config, error) {
	cliCfg := app.DefaultConfig
	if err := app.ParseCLIConfig(&cliCfg); err != nil {
		return nil, err
	}
	if cliCfg.ShowVer {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n",
			appName, app.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}
	appData, cfgPath := app.ResolveCLIConfigPaths(&cliCfg)

	cfg := app.DefaultConfig
	if err := app.ParseFileConfig(cfgPath, &cfg); err != nil {
		return nil, err
	}
	return &cfg, app.ResolveConfig(appData, &cfg)
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if err = runCore(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCore(cfg *app.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Without the web server, the rpc server is the only way in.
	if cfg.NoWeb && !cfg.RPCOn {
		return fmt.Errorf("cannot run without web server unless --rpc is specified")
	}

	logMaker, closeLogger, err := app.InitLogging(cfg.LogPath(), cfg.DebugLevel, cfg.LogStdout, cfg.MaxLogRolls)
	if err != nil {
		return err
	}
	defer closeLogger()
	log = logMaker.NewLogger("EV")
	log.Infof("%s version %v (Go version %s)", appName, app.Version, runtime.Version())

	defer func() {
		if pv := recover(); pv != nil {
			log.Criticalf("Uh-oh! \n\nPanic:\n\n%v\n\nStack:\n\n%v\n\n",
				pv, string(debug.Stack()))
		}
	}()

	vaultCore, err := core.New(cfg.Core(logMaker))
	if err != nil {
		return fmt.Errorf("error creating vault core: %w", err)
	}
	if server := cfg.Server(); server != "" {
		if err := vaultCore.SelectNetwork(server); err != nil {
			return fmt.Errorf("error selecting network %s: %w", cfg.Net, err)
		}
		log.Infof("Selected network %s", server)
	}

	killChan := make(chan os.Signal, 1)
	signal.Notify(killChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-killChan:
			log.Infof("Shutting down...")
			vaultCore.Logout()
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		vaultCore.Run(ctx)
		cancel() // in the event that Run returns prematurely
	}()

	<-vaultCore.Ready()

	defer func() {
		log.Info("Exiting evervault main.")
		cancel()
		wg.Wait()
	}()

	if cfg.RPCOn {
		rpcSrv, err := rpcserver.New(cfg.RPC(vaultCore, logMaker.NewLogger("RPC")))
		if err != nil {
			return fmt.Errorf("failed to create rpc server: %w", err)
		}
		rpcWG, err := rpcSrv.Connect(ctx)
		if err != nil {
			return fmt.Errorf("error starting rpc server: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			rpcWG.Wait()
		}()
	}

	if !cfg.NoWeb {
		webSrv, err := webserver.New(cfg.Web(vaultCore, logMaker.NewLogger("WEB")))
		if err != nil {
			return fmt.Errorf("failed creating web server: %w", err)
		}
		ssw := dex.NewStartStopWaiter(webSrv)
		ssw.Start(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ssw.WaitForShutdown()
			cancel() // the web server quits early if it cannot listen
		}()
		if cfg.OpenBrowser {
			if err := browser.OpenURL(cfg.UIAddress()); err != nil {
				log.Warnf("Unable to open the browser: %v", err)
			}
		}
	}

	wg.Wait()
	return nil
}

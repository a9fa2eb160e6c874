package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/slog"
	"github.com/vctt94/betvault/betdb"
	"github.com/vctt94/betvault/settle"
	"github.com/vctt94/betvault/vault"
	"github.com/vctt94/bisonbotkit/logging"
	"github.com/vctt94/bisonbotkit/utils"
)

type daemon struct {
	log         slog.Logger
	db          betdb.DB
	resolver    *settle.Resolver
	vaults      []*vault.Vault
	watchers    []*vault.Watcher
	minBetAtoms int64

	httpServer *http.Server
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	datadir := flag.String("datadir", utils.AppDataDir("betvaultd", false),
		"Directory for config, logs and database")
	flag.Parse()

	cfg, err := LoadBetVaultConfig(*datadir, "betvaultd.conf")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	debugLevel := cfg.ExtraConfig["debuglevel"]
	if debugLevel == "" {
		debugLevel = "info"
	}
	bknd, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(*datadir, "logs", "betvaultd.log"),
		DebugLevel:     debugLevel,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := bknd.Logger("BVD")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := betdb.NewBoltDB(filepath.Join(*datadir, "betvault.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	d := &daemon{
		log:         log,
		db:          db,
		minBetAtoms: cfg.MinBetAtoms,
	}

	var backend settle.PaymentBackend
	if cfg.Backend == "simulated" {
		log.Warnf("Using SIMULATED payment backend: no real transfers will happen")
		backend = settle.NewSimulatedBackend(bknd.Logger("SIM"))
	} else {
		var dcrd *rpcclient.Client
		if cfg.DcrdHost != "" {
			if cfg.DcrdUser == "" || cfg.DcrdPass == "" || cfg.DcrdCert == "" {
				return fmt.Errorf("incomplete dcrd config: host=%q user=%q pass_set=%t cert=%q",
					cfg.DcrdHost, cfg.DcrdUser, cfg.DcrdPass != "", cfg.DcrdCert)
			}
			cert, err := os.ReadFile(cfg.DcrdCert)
			if err != nil {
				return fmt.Errorf("failed to read dcrd rpc cert at %s: %w", cfg.DcrdCert, err)
			}
			dcrd, err = rpcclient.New(&rpcclient.ConnConfig{
				Host:         cfg.DcrdHost,
				User:         cfg.DcrdUser,
				Pass:         cfg.DcrdPass,
				Endpoint:     "ws",
				Certificates: cert,
			}, nil)
			if err != nil {
				return fmt.Errorf("failed to create dcrd rpc client: %w", err)
			}
			log.Infof("Connected to dcrd at %s", cfg.DcrdHost)
		}

		nets := []struct {
			params  *chaincfg.Params
			addr    string
			key     []byte
			apiBase string
		}{
			{chaincfg.MainNetParams(), cfg.VaultAddress, cfg.VaultPrivKey, cfg.APIBase},
			{chaincfg.TestNet3Params(), cfg.TestVaultAddress, cfg.TestVaultPrivKey, cfg.TestAPIBase},
		}
		for _, n := range nets {
			if n.addr == "" {
				continue
			}
			var chain vault.ChainService
			switch {
			case dcrd != nil:
				addr, err := stdaddr.DecodeAddress(n.addr, n.params)
				if err != nil {
					return fmt.Errorf("bad vault address %q: %w", n.addr, err)
				}
				vers, script := addr.PaymentScript()
				w := vault.NewWatcher(bknd.Logger("CHWT"), dcrd, vers, script)
				d.watchers = append(d.watchers, w)
				go w.Run(ctx)
				chain = w
			case n.apiBase != "":
				chain = vault.NewWebAPI(n.apiBase, bknd.Logger("LAPI"))
			default:
				return fmt.Errorf("vault %s: neither dcrd nor a ledger api is configured", n.addr)
			}

			v, err := vault.New(vault.Config{
				Address:   n.addr,
				PrivKey:   n.key,
				Params:    n.params,
				Chain:     chain,
				Log:       bknd.Logger("VALT"),
				FeeAtoms:  cfg.FeeAtoms,
				MaxInputs: cfg.MaxInputs,
			})
			if err != nil {
				return err
			}
			log.Infof("Vault %s ready on %s", v.Address(), n.params.Name)
			d.vaults = append(d.vaults, v)
		}
		backend = &settle.VaultBackend{Vaults: settle.NewVaultSet(d.vaults...)}
	}

	policy := settle.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}
	batcher := settle.NewBatcher(backend, policy, bknd.Logger("BTCH"))
	d.resolver = settle.NewResolver(db, batcher, bknd.Logger("RSLV"))

	if cfg.HTTPPort != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/pool", d.handlePool)
		mux.HandleFunc("/unsettled", d.handleUnsettled)
		mux.HandleFunc("/resolve", d.handleResolve)
		mux.HandleFunc("/refund", d.handleRefund)
		mux.HandleFunc("/reconcile", d.handleReconcile)
		mux.HandleFunc("/vault", d.handleVaultStatus)
		d.httpServer = &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
			Handler: mux,
		}
		go func() {
			log.Infof("Starting HTTP server on port %s", cfg.HTTPPort)
			if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("HTTP server error: %v", err)
			}
		}()
	}

	<-ctx.Done()
	return d.shutdown()
}

func (d *daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, w := range d.watchers {
		w.Stop()
	}
	if d.httpServer != nil {
		d.log.Info("Shutting down HTTP server...")
		if err := d.httpServer.Shutdown(ctx); err != nil {
			d.log.Errorf("Error shutting down HTTP server: %v", err)
		}
	}
	d.log.Info("Server shut down completed.")
	return nil
}

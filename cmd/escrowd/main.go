package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/arenaescrow/config"
	"github.com/alejandrodnm/arenaescrow/internal/adapters/manual"
	"github.com/alejandrodnm/arenaescrow/internal/adapters/notify"
	"github.com/alejandrodnm/arenaescrow/internal/adapters/onchain"
	"github.com/alejandrodnm/arenaescrow/internal/adapters/storage"
	"github.com/alejandrodnm/arenaescrow/internal/application/escrow"
	"github.com/alejandrodnm/arenaescrow/internal/domain"
	"github.com/alejandrodnm/arenaescrow/internal/ports"
	"github.com/alejandrodnm/arenaescrow/internal/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "verify payments manually instead of against the chain")
	autoApprove := flag.Bool("auto-approve", false, "with -dry-run, treat every payment as verified")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.String("report", "", "print the payout ledger of a challenge and exit")
	reconcile := flag.String("reconcile", "", "re-check unverified payments of a challenge and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("escrowd starting",
		"config", *configPath,
		"dsn", cfg.Storage.DSN,
		"dry_run", *dryRun,
		"platform_wallet", cfg.Engine.PlatformWallet,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	verifier, oracle, closeChain, err := paymentAdapters(ctx, cfg, *dryRun, *autoApprove)
	if err != nil {
		slog.Error("failed to set up payment adapters", "err", err)
		os.Exit(1)
	}
	defer closeChain()

	console := notify.NewConsole()
	eng := escrow.New(escrow.Config{
		PlatformWallet: cfg.Engine.PlatformWallet,
		MinEntryFee:    domain.Amount(cfg.Engine.MinEntryFee),
		MinAgents:      cfg.Engine.MinAgents,
		MaxAgents:      cfg.Engine.MaxAgents,
		CompeteWindow:  cfg.CompeteWindow(),
		RefundWindow:   cfg.RefundWindow(),
		VerifyWorkers:  cfg.Engine.VerifyWorkers,
	}, store, verifier, oracle, console)

	switch {
	case *report != "":
		if err := runReport(ctx, eng, console, *report); err != nil {
			slog.Error("report failed", "challenge", *report, "err", err)
			os.Exit(1)
		}
		return
	case *reconcile != "":
		if err := runReconcile(ctx, eng, *reconcile); err != nil {
			slog.Error("reconcile failed", "challenge", *reconcile, "err", err)
			os.Exit(1)
		}
		return
	}

	opts := server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout(),
	}
	// En -dry-run sin auto-approve la plataforma decide los pagos por la API de admin.
	if mv, ok := verifier.(*manual.Verifier); ok && !*autoApprove {
		opts.Approver = mv
		opts.AdminWallet = cfg.Engine.PlatformWallet
		slog.Info("manual payment approval enabled", "admin_wallet", opts.AdminWallet)
	}

	if err := serve(ctx, cfg, eng, opts); err != nil {
		slog.Error("server exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("escrowd stopped cleanly")
}

// paymentAdapters elige entre la verificación on-chain y la manual.
func paymentAdapters(ctx context.Context, cfg *config.Config, dryRun, autoApprove bool) (ports.PaymentVerifier, ports.BalanceOracle, func(), error) {
	if dryRun {
		slog.Warn("dry-run: payments are verified manually", "auto_approve", autoApprove)
		return manual.NewVerifier(autoApprove), manual.NewBalanceOracle(), func() {}, nil
	}
	if cfg.Chain.RPCURL == "" {
		return nil, nil, nil, errors.New("chain.rpc_url is empty (set ESCROW_RPC_URL or use -dry-run)")
	}

	minBalance, err := cfg.Chain.MinVoteBalanceWei()
	if err != nil {
		return nil, nil, nil, err
	}
	client, ec, err := onchain.Dial(ctx, cfg.Chain.RPCURL, onchain.Config{
		EscrowAddress:  cfg.Chain.EscrowAddress,
		Confirmations:  cfg.Chain.Confirmations,
		MinVoteBalance: minBalance,
		RPS:            cfg.Chain.RPS,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	slog.Info("connected to chain", "escrow", cfg.Chain.EscrowAddress, "confirmations", cfg.Chain.Confirmations)
	return client, client, ec.Close, nil
}

func serve(ctx context.Context, cfg *config.Config, eng *escrow.Engine, opts server.Options) error {
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.New(eng, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/spendperm/server/internal/api"
	"github.com/BrandonDHaskell/spendperm/server/internal/callerauth"
	"github.com/BrandonDHaskell/spendperm/server/internal/clock"
	"github.com/BrandonDHaskell/spendperm/server/internal/config"
	"github.com/BrandonDHaskell/spendperm/server/internal/db"
	"github.com/BrandonDHaskell/spendperm/server/internal/grpcapi"
	"github.com/BrandonDHaskell/spendperm/server/internal/httpapi"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/dispatch"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/policy"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/service"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/signature"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store/memory"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/store/sqlite"
	"github.com/BrandonDHaskell/spendperm/server/internal/spendperm/types"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, stop, cfg)
		},
	}
}

// openLedger returns the configured ledger and a func releasing it.
func openLedger(ctx context.Context, cfg config.Config, logger *log.Logger) (store.Ledger, func(), error) {
	if cfg.Store == "memory" {
		logger.Printf("store: memory (state is lost on exit)")
		return memory.New(), func() {}, nil
	}

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	writer := db.NewWorker(sqlDB)
	logger.Printf("store: sqlite at %s", cfg.DBPath)

	return sqlite.NewLedger(sqlDB, writer), func() {
		writer.Close()
		_ = sqlDB.Close()
	}, nil
}

// newDispatcher returns the configured dispatcher. The memory dispatcher
// starts with the dev funding from cfg; without it every spend would fail
// for lack of funds.
func newDispatcher(cfg config.Config, logger *log.Logger) dispatch.Dispatcher {
	if cfg.Dispatcher != "memory" {
		logger.Printf("dispatcher: record")
		return dispatch.NewRecorder(logger)
	}

	m := dispatch.NewMemory()
	funds := cfg.DevFunding()
	for addr, amount := range funds {
		m.Fund(addr, amount)
		logger.Printf("dev funds: %s %s", addr.Hex(), amount)
	}
	if len(funds) == 0 {
		logger.Printf("dispatcher: memory with no balances (set dev_funds in dev)")
	} else {
		logger.Printf("dispatcher: memory")
	}
	return m
}

// app is the wired server core, without listeners.
type app struct {
	backend    *api.Backend
	dispatcher dispatch.Dispatcher
	pruner     *service.ExpiryPruner
	close      func()
}

func newApp(ctx context.Context, cfg config.Config, logger *log.Logger, clk clock.Clock) (*app, error) {
	ledger, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	domain := types.Domain{ChainID: cfg.ChainID, Engine: cfg.Engine()}
	registry := service.NewRegistry(domain, ledger, signature.NewVerifier(nil), policy.DefaultRegistry(), clk)
	dispatcher := newDispatcher(cfg, logger)
	spends := service.NewSpendService(registry, ledger, dispatcher)
	overseers := service.NewOverseerService(ledger, cfg.Owner(), logger)
	if err := overseers.Bootstrap(ctx, cfg.Overseer()); err != nil {
		closeLedger()
		return nil, fmt.Errorf("bootstrap overseer: %w", err)
	}
	logger.Printf("domain: chain=%d engine=%s", domain.ChainID, domain.Engine.Hex())

	backend := &api.Backend{
		Registry:  registry,
		Spends:    spends,
		Overseers: overseers,
		Callers:   callerauth.NewAuthenticator(domain, clk),
	}
	pruner := service.NewExpiryPruner(ledger, service.PrunerConfig{
		RetentionDays: cfg.CycleRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, clk, logger)

	return &app{backend: backend, dispatcher: dispatcher, pruner: pruner, close: closeLedger}, nil
}

func runServe(ctx context.Context, stop context.CancelFunc, cfg config.Config) error {
	logger := log.New(os.Stdout, "spendperm ", log.LstdFlags|log.LUTC)

	a, err := newApp(ctx, cfg, logger, clock.Real())
	if err != nil {
		return err
	}
	defer a.close()

	a.pruner.Start(ctx)
	defer a.pruner.Stop()

	// HTTP
	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Backend: a.backend,
	})
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server error: %v", err)
			stop()
		}
	}()

	// gRPC
	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(grpcapi.Dependencies{
			Logger:  logger,
			Addr:    cfg.GRPCAddr,
			Backend: a.backend,
		})
		go func() {
			logger.Printf("grpc listening on %s", cfg.GRPCAddr)
			if err := grpcSrv.Start(); err != nil {
				logger.Printf("grpc server error: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		_ = grpcSrv.Shutdown(shutdownCtx)
	}
	logger.Printf("shut down")
	return nil
}

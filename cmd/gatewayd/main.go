// Command gatewayd runs the serverless function gateway: an HTTP front end
// over the Wasm runtime store, grounded on cmd/gateway/main.go's
// signal-driven graceful-shutdown server loop (without the ACME/CertMagic
// branch — TLS provisioning is orthogonal to this runtime's scope).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sanderpick/tableland-functions/internal/config"
	"github.com/sanderpick/tableland-functions/internal/logging"
	"github.com/sanderpick/tableland-functions/pkg/bytecode"
	"github.com/sanderpick/tableland-functions/pkg/gateway"
	"github.com/sanderpick/tableland-functions/pkg/runtime"
	"github.com/sanderpick/tableland-functions/pkg/sqladapter"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func setupLogger() *logging.ColoredLogger {
	logger, err := logging.NewDefaultLogger()
	if err != nil {
		panic(err)
	}
	return logger
}

func main() {
	logger := setupLogger()

	fs := flag.NewFlagSet("gatewayd", flag.ExitOnError)
	configPath := config.FlagConfigPath(fs, "")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(configPath())
	if err != nil {
		logger.ComponentError(logging.ComponentGateway, "failed to load configuration", zap.Error(err))
		os.Exit(1)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.ComponentError(logging.ComponentGateway, "invalid configuration", zap.Error(e))
		}
		os.Exit(1)
	}

	logger.ComponentInfo(logging.ComponentGateway, "starting gateway initialization")

	ctx := context.Background()

	var adapter sqladapter.Adapter
	if endpoint := sqladapter.ResolveEndpoint(cfg.Chain.ID, cfg.SQL.Endpoint); endpoint != "" {
		adapter = sqladapter.NewHTTPAdapter(endpoint, 0)
	} else {
		logger.ComponentWarn(logging.ComponentSQL, "no sql backend resolved for chain.id, using mock adapter",
			zap.String("chain_id", cfg.Chain.ID))
		adapter = sqladapter.NewMockAdapter()
	}

	engineCfg := runtime.DefaultEngineConfig()
	engineCfg.GasLimit = cfg.Gas.DefaultLimit

	engine, err := runtime.NewEngine(ctx, engineCfg, adapter, logger.Logger)
	if err != nil {
		logger.ComponentError(logging.ComponentEngine, "failed to construct engine", zap.Error(err))
		os.Exit(1)
	}

	bcStore := bytecode.New(cfg.Cache.Directory, cfg.IPFS.Gateway, logger.Logger)

	store, err := runtime.NewStore(engine, bcStore, logger.Logger, 16)
	if err != nil {
		logger.ComponentError(logging.ComponentStore, "failed to construct runtime store", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.ComponentWarn(logging.ComponentStore, "error closing runtime store", zap.Error(err))
		}
	}()

	logger.ComponentInfo(logging.ComponentGateway, "gateway initialization completed successfully")

	handlers := gateway.NewHandlers(store, logger.Logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := gateway.NewServer(addr, handlers)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.ComponentError(logging.ComponentGateway, "failed to bind listen address", zap.Error(err))
		os.Exit(1)
	}
	logger.ComponentInfo(logging.ComponentGateway, "gateway listener bound", zap.String("addr", ln.Addr().String()))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.ComponentInfo(logging.ComponentGateway, "shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serveErrCh:
		if err != nil {
			logger.ComponentError(logging.ComponentGateway, "server error", zap.Error(err))
		} else {
			logger.ComponentInfo(logging.ComponentGateway, "server exited normally")
		}
	}

	logger.ComponentInfo(logging.ComponentGateway, "shutting down gateway server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ComponentError(logging.ComponentGateway, "server shutdown error", zap.Error(err))
	} else {
		logger.ComponentInfo(logging.ComponentGateway, "gateway shutdown complete")
	}
}

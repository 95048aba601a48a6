package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"molttok/internal/config"
	"molttok/internal/factory"
	"molttok/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	f, err := factory.NewFactory(context.Background(), cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	router := f.Router()

	if !cfg.Server.EnableTLS {
		server := newServer(cfg, cfg.GetServerAddress(), router)
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
			util.Bool("dev_mode", cfg.DevMode),
		)
		serve(server, server.ListenAndServe)
		waitForShutdown(f, server)
		return
	}

	// HTTPS for the API, plain HTTP for ACME challenges and redirects
	tlsManager := f.TLSManager()
	httpsServer := newServer(cfg, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort), router)
	httpsServer.TLSConfig = tlsManager.GetTLSConfig()

	redirectServer := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           tlsManager.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.String("address", httpsServer.Addr),
		util.Bool("auto_cert", cfg.Server.AutoCert),
		util.String("domain", cfg.Server.Domain),
	)
	serve(httpsServer, func() error { return httpsServer.ListenAndServeTLS("", "") })
	serve(redirectServer, redirectServer.ListenAndServe)

	waitForShutdown(f, httpsServer, redirectServer)
}

func newServer(cfg *config.Config, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func serve(server *http.Server, listen func() error) {
	go func() {
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.String("address", server.Addr), util.ErrorField(err))
		}
	}()
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully",
				util.String("address", srv.Addr), util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
	f.Close()
}

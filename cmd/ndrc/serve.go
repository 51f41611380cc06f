package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/ndr-runtime/config"
	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/examples/calc"
	"github.com/wippyai/ndr-runtime/server"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host the Calc interface until interrupted",
		Long: `Host the Calc interface on the configured server endpoint until
SIGINT or SIGTERM. With nats.embedded set, a NATS server is started on
nats.url first.

Example:
  ndrc serve --config ndrc.toml
  NDR_SERVER_PROTSEQ=ncacn_nats NDR_NATS_EMBEDDED=true ndrc serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root.cfg, root.log, nil)
		},
	}
}

// serve blocks until ctx is done. ready, if not nil, is closed once the
// server is listening.
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, ready chan<- struct{}) error {
	if cfg.NATS.Embedded {
		ns, err := startEmbeddedNATS(cfg.NATS)
		if err != nil {
			return err
		}
		defer func() {
			ns.Shutdown()
			ns.WaitForShutdown()
		}()
		log.Info("embedded nats started", zap.String("url", ns.ClientURL()))
		local := *cfg
		local.NATS.URL = ns.ClientURL()
		cfg = &local
	}

	host, err := engine.NewHost(ctx, cfg.Server.ScratchPages)
	if err != nil {
		return err
	}
	defer host.Close(context.WithoutCancel(ctx))

	srv, err := server.New(calc.Interface(), calc.New(log.Named("calc")),
		server.WithWorkers(cfg.Server.Workers),
		server.WithMaxCalls(cfg.Server.MaxCalls),
		server.WithHost(host))
	if err != nil {
		return err
	}
	binding := cfg.ServerBinding()
	if err := srv.Register(ctx, binding); err != nil {
		return err
	}
	if err := srv.ListenAsync(ctx); err != nil {
		_ = srv.Stop(context.WithoutCancel(ctx))
		return err
	}
	log.Info("serving", zap.String("binding", binding), zap.Int("workers", srv.Endpoint().Workers()))
	if ready != nil {
		close(ready)
	}

	<-ctx.Done()
	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Stop(stopCtx)
}

func startEmbeddedNATS(cfg config.NATS) (*natsserver.Server, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("nats url %q: %w", cfg.URL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("nats url %q: %w", cfg.URL, err)
	}
	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: cfg.Name,
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats on %s not ready", u.Host)
	}
	return ns, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"linewire/pkg/log"
	"linewire/pkg/rpc"
	"linewire/pkg/rpc/nats"
	"linewire/pkg/rpc/tcp"
	"linewire/pkg/rpc/unix"
	"linewire/pkg/rpc/websocket"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func parseLogLevel(name string) log.Level {
	switch name {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func buildServerTransports(cfg Config) []rpc.ServerTransport {
	var transports []rpc.ServerTransport
	if cfg.Listen.TCPPort != 0 {
		transports = append(transports, tcp.NewServerTransport(tcp.ServerTransportConfig{
			Port:    cfg.Listen.TCPPort,
			NoDelay: true,
		}))
	}
	if cfg.Listen.WSPort != 0 {
		transports = append(transports, websocket.NewServerTransport(websocket.ServerTransportConfig{
			Port: cfg.Listen.WSPort,
		}))
	}
	if cfg.Listen.UnixSocket != "" {
		transports = append(transports, unix.NewServerTransport(unix.ServerTransportConfig{
			SocketPath: cfg.Listen.UnixSocket,
		}))
	}
	if cfg.NATS.URL != "" {
		transports = append(transports, nats.NewServerTransport(nats.ServerTransportConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
		}))
	}
	return transports
}

func runServe(cfg Config) error {
	logger := log.NewTermLogger(parseLogLevel(cfg.LogLevel))

	server := rpc.NewServer(rpc.ServerConfig{
		Transport: newMultiTransport(buildServerTransports(cfg)),
		Token:     cfg.Token,
		Logger:    logger,
		ErrHandler: func(err error) {
			logger.Error(err.Error())
		},
	})

	server.Middleware(loggingMiddleware(logger))

	started := time.Now()
	registerMethods(server, started)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HeartbeatSeconds > 0 {
		go heartbeatLoop(ctx, server, started, time.Duration(cfg.HeartbeatSeconds)*time.Second)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error: " + err.Error())
		}
	}()

	return server.ListenAndServe()
}

func registerMethods(server *rpc.Server, started time.Time) {
	server.Register("ping", func(ctx context.Context, req *rpc.Request) (any, error) {
		return map[string]bool{"ok": true}, nil
	})

	server.Register("status", func(ctx context.Context, req *rpc.Request) (any, error) {
		return map[string]any{
			"version":        version,
			"started_at":     started.UTC().Format(time.RFC3339),
			"uptime_seconds": int64(time.Since(started).Seconds()),
		}, nil
	})

	server.Register("echo", func(ctx context.Context, req *rpc.Request) (any, error) {
		if len(req.Params) == 0 {
			return map[string]any{}, nil
		}
		return json.RawMessage(req.Params), nil
	})
}

// heartbeatLoop pushes a periodic notification so connected clients can tell
// a quiet daemon from a dead one.
func heartbeatLoop(ctx context.Context, server *rpc.Server, started time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			server.Notify("heartbeat", map[string]any{
				"uptime_seconds": int64(time.Since(started).Seconds()),
			})
		}
	}
}

func loggingMiddleware(logger log.Logger) rpc.Middleware {
	return func(ctx context.Context, req *rpc.Request, next rpc.Handler) (any, error) {
		start := time.Now()
		result, err := next(ctx, req)
		elapsed := time.Since(start)
		if err != nil {
			logger.Warn(fmt.Sprintf("%s failed in %s: %s", req.Method, elapsed, err.Error()))
		} else {
			logger.Debug(fmt.Sprintf("%s handled in %s", req.Method, elapsed))
		}
		return result, err
	}
}

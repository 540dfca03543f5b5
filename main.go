// Command textrelay starts the text relay server.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing the identity page, the WebSocket relay, and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server while the relay keeps serving WebSocket clients
//
// Flags control host/port, log level, the identity collision policy, the
// inbound message size limit, and optional ngrok tunneling for easy external
// access during development. Every flag can also be set from the environment
// or a .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/textrelay/api"
	"github.com/wricardo/textrelay/relay"
	"github.com/wricardo/textrelay/transport/mcp"
	"github.com/wricardo/textrelay/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Text Relay Server"
)

const shutdownTimeout = 10 * time.Second

// config holds the settings shared by every mode.
type config struct {
	addr           string
	logLevel       slog.Level
	policy         relay.CollisionPolicy
	maxMessageSize int64
}

// main loads .env, then runs the selected command.
func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("error loading .env file", "error", err)
		}
	}

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:           "textrelay",
		Usage:          AppName,
		Version:        Version,
		DefaultCommand: "server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Value:   "localhost",
				Usage:   "HTTP server host",
				Sources: cli.EnvVars("HOST"),
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "HTTP server port",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level: debug, info, warn, error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging (same as --log-level debug)",
			},
			&cli.StringFlag{
				Name:    "collision-policy",
				Value:   string(relay.CollisionExact),
				Usage:   "Identity collision check: exact, or contains (reject identities contained in a connected one)",
				Sources: cli.EnvVars("RELAY_COLLISION_POLICY"),
			},
			&cli.Int64Flag{
				Name:    "max-message-size",
				Value:   websocket.DefaultMaxMessageSize,
				Usage:   "Maximum size in bytes of one inbound message",
				Sources: cli.EnvVars("RELAY_MAX_MESSAGE_SIZE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "server",
				Aliases: []string{"http"},
				Usage:   "Run HTTP server with the identity page, WebSocket relay, and MCP endpoint",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "ngrok",
						Usage:   "Enable ngrok tunnel",
						Sources: cli.EnvVars("NGROK_ENABLED"),
					},
					&cli.StringFlag{
						Name:    "ngrok-auth",
						Usage:   "Ngrok auth token",
						Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
					},
					&cli.StringFlag{
						Name:    "ngrok-domain",
						Usage:   "Custom ngrok domain (optional)",
						Sources: cli.EnvVars("NGROK_DOMAIN"),
					},
				},
				Action: runHTTPServer,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run MCP stdio server alongside the relay",
				Action:  runStdioMCP,
			},
		},
	}
}

// loadConfig reads and validates the shared flags.
func loadConfig(cmd *cli.Command) (*config, error) {
	level, err := parseLogLevel(cmd.String("log-level"))
	if err != nil {
		return nil, err
	}
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}

	policy, err := relay.ParseCollisionPolicy(cmd.String("collision-policy"))
	if err != nil {
		return nil, err
	}

	port := cmd.Int("port")
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", port)
	}

	return &config{
		addr:           net.JoinHostPort(cmd.String("host"), fmt.Sprint(port)),
		logLevel:       level,
		policy:         policy,
		maxMessageSize: cmd.Int64("max-message-size"),
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func setupLogger(level slog.Level, w io.Writer) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})))
}

// services bundles the relay components wired for one process.
type services struct {
	registry *relay.Registry
	mcp      *mcp.Server
	handler  http.Handler
}

// initializeServices wires the registry, dispatcher, WebSocket handler, API
// server and MCP endpoint.
func initializeServices(cfg *config) *services {
	registry := relay.NewRegistryWithPolicy(cfg.policy)
	dispatcher := relay.NewDispatcher(registry)

	relayHandler := websocket.NewHandler(dispatcher, cfg.maxMessageSize)
	relayMCP := mcp.NewServer(dispatcher, Version)

	apiServer := api.NewServer(registry, relayHandler)
	apiServer.Mount("/mcp", relayMCP)

	return &services{
		registry: registry,
		mcp:      relayMCP,
		handler:  apiServer,
	}
}

func newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Relay connections inherit this context, so cancelling it tears them down
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

// runHTTPServer starts the HTTP server and, when enabled, an ngrok tunnel.
// It returns after a shutdown signal once both have stopped.
func runHTTPServer(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogger(cfg.logLevel, os.Stdout)
	slog.Info("starting", "app", AppName, "version", Version, "mode", "server", "collision_policy", cfg.policy)

	svc := initializeServices(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := newHTTPServer(ctx, cfg.addr, svc.handler)
	serveErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		slog.Info("HTTP server listening", "addr", cfg.addr)
		slog.Info("endpoints",
			"page", fmt.Sprintf("http://%s/", cfg.addr),
			"websocket", fmt.Sprintf("ws://%s/ws?identity=<name>", cfg.addr),
			"mcp", fmt.Sprintf("http://%s/mcp", cfg.addr))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
			stop()
		}
	}()

	if cmd.Bool("ngrok") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrokTunnel(ctx, cmd.String("ngrok-auth"), cmd.String("ngrok-domain"), svc.handler)
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	wg.Wait()
	slog.Info("server stopped")

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// runNgrokTunnel serves handler through an ngrok tunnel until ctx is done.
func runNgrokTunnel(ctx context.Context, authToken, domain string, handler http.Handler) {
	if authToken == "" {
		slog.Warn("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		slog.Info("using custom ngrok domain", "domain", domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		slog.Error("failed to start ngrok tunnel", "error", err)
		return
	}

	slog.Info("ngrok tunnel established", "url", tun.URL())

	tunnelServer := newHTTPServer(ctx, "", handler)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		tunnelServer.Shutdown(shutdownCtx)
	}()

	if err := tunnelServer.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("ngrok server error", "error", err)
	}
	slog.Info("ngrok tunnel closed")
}

// runStdioMCP serves MCP over stdin/stdout while the relay listens on the
// configured address. Logs go to stderr so they never mix with MCP traffic.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogger(cfg.logLevel, os.Stderr)
	slog.Info("starting", "app", AppName, "version", Version, "mode", "stdio-mcp")

	svc := initializeServices(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.addr, err)
	}

	httpServer := newHTTPServer(ctx, cfg.addr, svc.handler)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	slog.Info("relay listening", "addr", listener.Addr().String())

	serveErr := server.ServeStdio(svc.mcp.GetMCPServer())
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("MCP stdio server error: %w", serveErr)
	}
	return nil
}

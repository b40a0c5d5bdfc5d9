// Command wsnexus runs the WebSocket rendezvous relay.
//
// It supports two modes:
//  1. default: serves the relay endpoint, the status API and an /mcp HTTP endpoint
//  2. "mcp": runs an MCP stdio server over a relay's status API, starting an
//     in-process relay when none answers at --url
//
// Every flag can also be set from the environment or a .env file, and ngrok
// tunneling gives a public wss:// address during development.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/wsnexus/config"
	"github.com/wricardo/wsnexus/logging"
	"github.com/wricardo/wsnexus/server"
	"github.com/wricardo/wsnexus/transport/mcp"
)

// Version information
const (
	Version = "1.2.0"
	AppName = "wsnexus"
)

func main() {
	// A missing .env file is fine
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	defaults := config.Default()

	return &cli.Command{
		Name:    AppName,
		Usage:   "WebSocket rendezvous relay for hosts and their clients",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Value:   defaults.Host,
				Usage:   "interface to listen on (empty for all)",
				Sources: cli.EnvVars("NEXUS_HOST"),
			},
			&cli.IntFlag{
				Name:    "port",
				Value:   defaults.Port,
				Usage:   "relay port",
				Sources: cli.EnvVars("NEXUS_PORT", "PORT"),
			},
			&cli.StringFlag{
				Name:    "tls-cert",
				Usage:   "PEM certificate file; enables wss:// together with --tls-key",
				Sources: cli.EnvVars("NEXUS_TLS_CERT"),
			},
			&cli.StringFlag{
				Name:    "tls-key",
				Usage:   "PEM private key file",
				Sources: cli.EnvVars("NEXUS_TLS_KEY"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   defaults.LogLevel,
				Usage:   "trace, debug, info, warn or error",
				Sources: cli.EnvVars("NEXUS_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-file",
				Value:   defaults.LogFile,
				Usage:   `rotating log file, or "console" for stderr`,
				Sources: cli.EnvVars("NEXUS_LOG_FILE"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "serve Prometheus metrics on this port (0 disables)",
				Sources: cli.EnvVars("NEXUS_METRICS_PORT"),
			},
			&cli.DurationFlag{
				Name:    "ping-interval",
				Value:   defaults.PingInterval,
				Usage:   "heartbeat interval; silent sockets are dropped after two",
				Sources: cli.EnvVars("NEXUS_PING_INTERVAL"),
			},
			&cli.Int64Flag{
				Name:    "max-message-size",
				Value:   defaults.MaxMessageSize,
				Usage:   "largest accepted frame in bytes",
				Sources: cli.EnvVars("NEXUS_MAX_MESSAGE_SIZE"),
			},
			&cli.BoolFlag{
				Name:    "ngrok",
				Usage:   "expose the relay through an ngrok tunnel",
				Sources: cli.EnvVars("NGROK_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "ngrok-auth",
				Usage:   "ngrok auth token",
				Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "ngrok-domain",
				Usage:   "custom ngrok domain (optional)",
				Sources: cli.EnvVars("NGROK_DOMAIN"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, logging.InitLog(cmd.String("log-level"), cmd.String("log-file"))
		},
		Action: runRelay,
		Commands: []*cli.Command{
			{
				Name:  "mcp",
				Usage: "run an MCP stdio server over a relay's status API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "url",
						Value:   "http://localhost:8080",
						Usage:   "status API of a running relay",
						Sources: cli.EnvVars("NEXUS_STATUS_URL"),
					},
				},
				Action: runStdioMCP,
			},
		},
	}
}

// configFromCommand reads the relay configuration from parsed flags
func configFromCommand(cmd *cli.Command) config.Config {
	return config.Config{
		Host:           cmd.String("host"),
		Port:           cmd.Int("port"),
		TLSCertFile:    cmd.String("tls-cert"),
		TLSKeyFile:     cmd.String("tls-key"),
		LogLevel:       cmd.String("log-level"),
		LogFile:        cmd.String("log-file"),
		MetricsPort:    cmd.Int("metrics-port"),
		PingInterval:   cmd.Duration("ping-interval"),
		MaxMessageSize: cmd.Int64("max-message-size"),
		Ngrok: config.Ngrok{
			Enabled:   cmd.Bool("ngrok"),
			AuthToken: cmd.String("ngrok-auth"),
			Domain:    cmd.String("ngrok-domain"),
		},
	}
}

// runRelay serves the relay until the process is signalled
func runRelay(ctx context.Context, cmd *cli.Command) error {
	cfg := configFromCommand(cmd)
	log.Infof("starting %s v%s", AppName, Version)

	var opts []server.Option
	if cfg.Ngrok.Enabled {
		if err := cfg.Validate(); err != nil {
			return err
		}
		tun, err := listenNgrok(ctx, cfg.Ngrok)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithListener(tun))
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

func listenNgrok(ctx context.Context, cfg config.Ngrok) (ngrok.Tunnel, error) {
	log.Info("starting ngrok tunnel")

	var endpoint ngrokConfig.Tunnel
	if cfg.Domain != "" {
		endpoint = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		log.Infof("using custom ngrok domain: %s", cfg.Domain)
	} else {
		endpoint = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, endpoint, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return nil, fmt.Errorf("start ngrok tunnel: %w", err)
	}
	log.Infof("ngrok tunnel established: %s (relay at %s)", tun.URL(), wsURL(tun.URL()))
	return tun, nil
}

// wsURL turns an http(s) tunnel address into the matching ws(s) one
func wsURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}

// runStdioMCP runs an MCP stdio server. It uses the relay at --url when one
// answers, otherwise it starts a relay on a random loopback port and targets
// that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	baseURL := cmd.String("url")
	log.Infof("checking for a relay at %s", baseURL)

	probe := &http.Client{Timeout: 2 * time.Second}
	resp, err := probe.Get(baseURL + "/api/info")
	if err == nil && resp.StatusCode < 500 {
		resp.Body.Close()
		log.Infof("relay found at %s, using it for MCP", baseURL)
	} else {
		log.Info("no relay found, starting an internal one")

		cfg := configFromCommand(cmd)
		cfg.Host = "127.0.0.1"
		cfg.Port = 0
		cfg.MetricsPort = 0
		cfg.TLSCertFile, cfg.TLSKeyFile = "", ""
		cfg.Ngrok = config.Ngrok{}

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		baseURL = "http://" + srv.Addr()
		log.Infof("internal relay on %s", srv.URL())
	}

	return mcpserver.ServeStdio(mcp.NewClient(baseURL).GetMCPServer())
}

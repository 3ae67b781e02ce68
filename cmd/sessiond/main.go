package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelinkhealth/go-session-client/auth"
	"github.com/carelinkhealth/go-session-client/authclient"
	"github.com/carelinkhealth/go-session-client/authclient/backendfake"
	"github.com/carelinkhealth/go-session-client/broadcast/wsbus"
	"github.com/carelinkhealth/go-session-client/gateway"
	"github.com/carelinkhealth/go-session-client/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:   "sessiond",
		Short: "Session gateway for the CareLink web frontend",
	}
	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cookie gateway and cross-tab broadcast hub",
		RunE: func(*cobra.Command, []string) error {
			logger := newLogger(config.New())
			for {
				err := run(logger)
				if err == nil {
					break
				}
				logger.Error().Err(err).Msg("server exited, restarting")
				time.Sleep(1 * time.Second)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
}

func run(logger zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	backend, err := buildBackend(c, logger)
	if err != nil {
		return errors.Wrap(err, "[run]")
	}

	gw, err := gateway.New(backend,
		gateway.WithLogger(logger),
		gateway.WithSecureCookies(c.GetEnv() != "development"),
		gateway.WithCookieMaxAges(c.GetAccessCookieMaxAge(), c.GetRefreshCookieMaxAge()),
	)
	if err != nil {
		return errors.Wrap(err, "[run]")
	}

	hub := wsbus.NewHub(wsbus.WithHubLogger(logger))
	defer hub.Close()

	mux := http.NewServeMux()
	mux.Handle("/api/auth/", gw.Router())
	mux.Handle("/events", hub)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: c.GetPort(), Handler: mux}
	go listenAndServe(server, logger)
	waitForStopSignal()
	return shutdown(server)
}

// buildBackend talks to a real backend when BACKEND_URL is set, otherwise
// runs an embedded in-memory one seeded with a demo account so the
// gateway is usable out of the box.
func buildBackend(c config.Config, logger zerolog.Logger) (auth.Backend, error) {
	if baseURL := c.GetBackendBaseURL(); baseURL != "" {
		logger.Info().Str("backend", baseURL).Msg("using remote backend")
		client, err := authclient.New(baseURL, authclient.WithLogger(logger))
		if err != nil {
			return nil, errors.Wrap(err, "[buildBackend]")
		}
		return client, nil
	}

	fake := backendfake.New()
	if err := fake.AddAccount("demo-password", backendfake.Account{
		Username:       "demo@carelinkhealth.example",
		Email:          "demo@carelinkhealth.example",
		Role:           "provider",
		EmailVerified:  true,
		ApprovalStatus: "approved",
	}); err != nil {
		return nil, errors.Wrap(err, "[buildBackend]")
	}
	logger.Warn().
		Str("username", "demo@carelinkhealth.example").
		Str("password", "demo-password").
		Msg("no BACKEND_URL set, using embedded in-memory backend")
	return fake, nil
}

func newLogger(c config.Config) zerolog.Logger {
	if c.GetEnv() == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func listenAndServe(server *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

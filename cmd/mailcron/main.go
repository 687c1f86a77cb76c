package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mailcron/internal/api"
	"mailcron/internal/config"
	"mailcron/internal/mailer"
	"mailcron/internal/scheduler"
	"mailcron/internal/store"
	"mailcron/internal/tasks"
	"mailcron/internal/version"
	"mailcron/internal/webhook"
)

func main() {
	root := &cobra.Command{
		Use:   "mailcron",
		Short: "Scheduled email dispatch service",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info())
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(level)

			return serve(cfg)
		},
	}

	command.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides MAILCRON_ADDR)")
	return command
}

func serve(cfg *config.Config) error {
	st, err := store.Open(store.Config{Driver: cfg.Store.Driver, Path: cfg.Store.Path}, log.Logger)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer st.Close()
	log.Info().Str("driver", cfg.Store.Driver).Str("path", cfg.Store.Path).Msg("task store ready")

	dispatcher := mailer.New(cfg.Tick.TransportTTL)
	defer dispatcher.Close()

	sched := scheduler.New(st, dispatcher, webhook.New(), scheduler.Config{
		Interval:    cfg.Tick.Interval,
		Grace:       cfg.Tick.Grace,
		SendTimeout: cfg.Tick.SendTimeout,
		BackoffBase: cfg.Tick.BackoffBase,
		BackoffMax:  cfg.Tick.BackoffMax,
	}, log.Logger)
	sched.Start()
	defer sched.Stop()

	svc := tasks.New(st, sched, log.Logger)
	server := api.NewServer(svc)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("forced shutdown")
		}
		close(done)
	}()

	log.Info().Str("addr", cfg.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}

	<-done
	log.Info().Msg("server stopped")
	return nil
}

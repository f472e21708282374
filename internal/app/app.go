// Package app holds the leadsync command line: configuration, logging and
// the serve and migrate commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Martian-dev/leadsync/internal/store"
	"github.com/Martian-dev/leadsync/internal/sync"
)

// NewRootCmd builds the command tree around a fresh viper instance.
func NewRootCmd() *cobra.Command {
	v := newViper()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "leadsync",
		Short:         "Mailbox sync and lead management service",
		Long:          "Syncs Gmail and Outlook mailboxes into a lead store and serves it over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfig(v, cfgFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	flags.String("env", "dev", "Environment: 'dev' or 'prod'")
	flags.String("log.level", "info", "Log level")
	flags.String("database.driver", string(store.DialectSQLite), "Database driver: 'sqlite' or 'postgres'")
	flags.String("database.url", "data/leadsync.db", "Database file path or connection URL")
	for _, name := range []string{"env", "log.level", "database.driver", "database.url"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	serveCmd.Flags().String("server.addr", ":8080", "HTTP listen address")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("server.addr"))

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(v)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg, NewLogger(cfg.Env, cfg.Log.Level))
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
	return rootCmd
}

func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
		return nil
	}
	fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	return nil
}

func migrate(ctx context.Context, cfg *Config, log zerolog.Logger) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("driver", cfg.Database.Driver).Int("version", version).Msg("schema up to date")
	return nil
}

func serve(ctx context.Context, cfg *Config) error {
	log := NewLogger(cfg.Env, cfg.Log.Level)
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	var wg stdsync.WaitGroup
	if svc.dispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.dispatcher.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		purgeStates(ctx, svc.store, log)
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           svc.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	wg.Wait()
	return nil
}

// purgeStates deletes expired OAuth states every StateTTL.
func purgeStates(ctx context.Context, st *store.Store, log zerolog.Logger) {
	ticker := time.NewTicker(sync.StateTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := st.PurgeOAuthStates(ctx, now.UTC())
			if err != nil {
				log.Error().Err(err).Msg("purging oauth states")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired oauth states removed")
			}
		}
	}
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/server"
	"github.com/jmylchreest/sitescout/internal/session"
	"github.com/jmylchreest/sitescout/internal/snapshot"
	"github.com/jmylchreest/sitescout/pkg/sitescout"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP crawl service",
	Long: `Serve the crawl API:

  POST /crawl                      {"url": "example.org"} starts a crawl
  GET  /progress/{id}              poll a crawl
  GET  /download/{id}/sitemap.xml  sitemap of a finished crawl
  GET  /download/{id}/urls.csv     URL and title table
  GET  /download/{id}/urls.xlsx    same as a spreadsheet
  GET  /healthz                    liveness

Finished crawls expire after session.ttl without polls.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("addr", ":5000", "listen address")
	flags.Int("max-sessions", 5, "max concurrent crawls")
	flags.Bool("trust-proxy", false, "rate limit by X-Forwarded-For")
	flags.String("snapshot-dsn", "", "snapshot store (default: in memory)")

	_ = viper.BindPFlag("server.addr", flags.Lookup("addr"))
	_ = viper.BindPFlag("session.max_active", flags.Lookup("max-sessions"))
	_ = viper.BindPFlag("server.trust_proxy", flags.Lookup("trust-proxy"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// the crawl command binds the same key; read this command's flag directly
	if dsn, _ := cmd.Flags().GetString("snapshot-dsn"); dsn != "" {
		cfg.Snapshot.DSN = dsn
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := snapshot.Open(ctx, cfg.Snapshot.DSN)
	if err != nil {
		logger.Error("failed to open snapshot store", "error", err)
		return err
	}
	defer func() { _ = store.Close() }()

	scout, err := sitescout.New(sitescout.WithConfig(cfg.Config), sitescout.WithStore(store))
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer func() { _ = scout.Close() }()

	registry := session.NewRegistry(scout, cfg.Session, session.WithContext(ctx))
	go registry.Run(ctx)

	logger.Info("crawl service starting",
		"addr", cfg.Server.Addr,
		"max_sessions", cfg.Session.MaxActive,
		"session_ttl", cfg.Session.TTL,
		"rate", cfg.Server.RateRequests,
		"rate_window", cfg.Server.RateWindow)
	return server.New(registry, cfg.Server).ListenAndServe(ctx)
}

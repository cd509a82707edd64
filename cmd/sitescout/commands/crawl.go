package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/sitescout/internal/logger"
	"github.com/jmylchreest/sitescout/internal/output"
	"github.com/jmylchreest/sitescout/internal/snapshot"
	"github.com/jmylchreest/sitescout/pkg/sitescout"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Discover the pages of a site",
	Long: `Run the full discovery pipeline against a seed URL and write the
result.

The seed may omit the scheme; https is assumed. The crawl stops at
--max-urls discovered URLs.

Examples:
  # Report on stdout, sitemap and CSV on disk
  sitescout crawl example.org --sitemap sitemap.xml --csv urls.csv

  # Spreadsheet plus a YAML report file
  sitescout crawl https://www.example.org --xlsx urls.xlsx --format yaml -o report.yaml

  # Smaller, faster crawl
  sitescout crawl example.org --max-urls 500 --max-depth 2 --workers 4`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	flags := crawlCmd.Flags()

	// Limits
	flags.Int("max-urls", 10000, "stop after this many discovered URLs")
	flags.Int("max-depth", 8, "max link depth from the deep-crawl batch (0=unlimited)")
	flags.Int("workers", 1, "concurrent deep-crawl fetches")
	flags.Float64("rate-limit", 0, "requests per second per host (0=unlimited)")
	flags.String("user-agent", "", "user agent for every request")
	flags.Bool("hubs", false, "probe common blog and news hub pages")
	flags.Bool("no-robots", false, "ignore robots.txt exclusions in the deep crawl")

	// Output
	flags.String("sitemap", "", "write a sitemap.xml to this file")
	flags.String("csv", "", "write a URL,Title CSV to this file")
	flags.String("xlsx", "", "write a spreadsheet to this file")
	flags.StringP("output", "o", "", "report file (default: stdout)")
	flags.String("format", "json", "report format: json, jsonl, yaml (none to skip)")

	// Persistence
	flags.String("snapshot-dsn", "", "snapshot store: sqlite path, sqlite3://path or postgres://...")

	_ = viper.BindPFlag("max_urls", flags.Lookup("max-urls"))
	_ = viper.BindPFlag("max_depth", flags.Lookup("max-depth"))
	_ = viper.BindPFlag("crawler.workers", flags.Lookup("workers"))
	_ = viper.BindPFlag("rate_limit", flags.Lookup("rate-limit"))
	_ = viper.BindPFlag("hubs.enabled", flags.Lookup("hubs"))
	_ = viper.BindPFlag("snapshot.dsn", flags.Lookup("snapshot-dsn"))
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ua, _ := cmd.Flags().GetString("user-agent"); ua != "" {
		cfg.UserAgent = ua
		cfg.Fetch.UserAgent = ua
		cfg.Crawler.UserAgent = ua
	}
	if noRobots, _ := cmd.Flags().GetBool("no-robots"); noRobots {
		cfg.Crawler.RespectRobots = false
	}

	formatStr, _ := cmd.Flags().GetString("format")
	var reportFormat output.Format
	if formatStr != "none" {
		if reportFormat, err = output.ParseFormat(formatStr); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []sitescout.Option{sitescout.WithConfig(cfg.Config)}
	if cfg.Snapshot.DSN != "" {
		store, err := snapshot.Open(ctx, cfg.Snapshot.DSN)
		if err != nil {
			logger.Error("failed to open snapshot store", "error", err)
			return err
		}
		defer func() { _ = store.Close() }()
		opts = append(opts, sitescout.WithStore(store))
		logger.Debug("snapshots enabled", "dsn", cfg.Snapshot.DSN)
	}

	scout, err := sitescout.New(opts...)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer func() { _ = scout.Close() }()

	logInfo("Crawling %s (max %s URLs)...", args[0], humanize.Comma(int64(cfg.MaxURLs)))
	result, err := scout.Discover(ctx, args[0])
	if err != nil {
		var npe *sitescout.NoPagesError
		if errors.As(err, &npe) {
			logError("no pages found for %s", npe.Diagnostics.StartURL)
			logError("%s", npe.Diagnostics)
		}
		return err
	}

	records := result.Records()
	lastMod := output.WithLastMod(result.CompletedAt)
	exports := []struct {
		flag   string
		format output.Format
	}{
		{"sitemap", output.FormatSitemap},
		{"csv", output.FormatCSV},
		{"xlsx", output.FormatXLSX},
	}
	for _, e := range exports {
		path, _ := cmd.Flags().GetString(e.flag)
		if path == "" {
			continue
		}
		if err := writeFile(path, func(w io.Writer) error {
			return output.WriteRecords(w, e.format, records, lastMod)
		}); err != nil {
			logger.Error("failed to write export", "format", e.format, "path", path, "error", err)
			return err
		}
		logInfo("Wrote %s (%s)", path, e.format)
	}

	if reportFormat != "" {
		outPath, _ := cmd.Flags().GetString("output")
		write := func(w io.Writer) error {
			return output.WriteRecords(w, reportFormat, records, lastMod)
		}
		if outPath == "" {
			err = write(os.Stdout)
		} else {
			err = writeFile(outPath, write)
		}
		if err != nil {
			logger.Error("failed to write report", "format", reportFormat, "error", err)
			return err
		}
	}

	logInfo("Found %s URLs (%s with page titles) across %d host(s) in %s",
		humanize.Comma(int64(len(records))),
		humanize.Comma(int64(result.Titled())),
		len(result.Snapshot.AllowedDomains),
		result.Duration.Round(time.Millisecond))
	return nil
}

// writeFile creates path and hands it to fn.
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path) //#nosec G304 -- CLI tool writes to user-specified output file
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

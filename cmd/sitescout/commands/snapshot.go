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
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/sitescout/internal/config"
	"github.com/jmylchreest/sitescout/internal/output"
	"github.com/jmylchreest/sitescout/internal/snapshot"
	"github.com/jmylchreest/sitescout/internal/state"
	"github.com/jmylchreest/sitescout/pkg/sitescout"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect, export or resume stored crawl snapshots",
	Long: `Work with snapshots written by "crawl --snapshot-dsn" or the service.

Snapshots are keyed by the seed's host, e.g. www.example.org.

Examples:
  sitescout snapshot list --dsn sitescout.db
  sitescout snapshot show www.example.org --dsn sitescout.db
  sitescout snapshot export www.example.org --dsn sitescout.db --format csv -o urls.csv
  sitescout snapshot resume www.example.org --dsn sitescout.db --sitemap sitemap.xml`,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <domain>",
	Short: "Print a snapshot summary as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotShow,
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <domain>",
	Short: "Export a snapshot's URLs",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotExport,
}

var snapshotResumeCmd = &cobra.Command{
	Use:   "resume <domain>",
	Short: "Restore a snapshot and run the pipeline on it again",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotResume,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotListCmd, snapshotShowCmd, snapshotExportCmd, snapshotResumeCmd)

	snapshotCmd.PersistentFlags().String("dsn", "", "snapshot store (default: snapshot.dsn from config)")

	snapshotExportCmd.Flags().String("format", "csv", "export format: "+formatList())
	snapshotExportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	snapshotResumeCmd.Flags().String("sitemap", "", "write a sitemap.xml to this file")
	snapshotResumeCmd.Flags().String("csv", "", "write a URL,Title CSV to this file")
}

func formatList() string {
	s := ""
	for i, f := range output.Formats() {
		if i > 0 {
			s += ", "
		}
		s += string(f)
	}
	return s
}

// openStore resolves the DSN from the flag or config. An in-memory store
// would always be empty here, so a DSN is required.
func openStore(ctx context.Context, cmd *cobra.Command) (config.Config, snapshot.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		dsn = cfg.Snapshot.DSN
	}
	if dsn == "" || dsn == "memory" {
		return cfg, nil, errors.New("a persistent snapshot store is required (--dsn or snapshot.dsn)")
	}
	store, err := snapshot.Open(ctx, dsn)
	return cfg, store, err
}

func loadSnapshot(ctx context.Context, cmd *cobra.Command, domain string) (config.Config, state.Snapshot, error) {
	cfg, store, err := openStore(ctx, cmd)
	if err != nil {
		return cfg, state.Snapshot{}, err
	}
	defer func() { _ = store.Close() }()

	snap, err := store.Load(ctx, domain)
	if errors.Is(err, snapshot.ErrNotFound) {
		return cfg, snap, fmt.Errorf("no snapshot for %s", domain)
	}
	return cfg, snap, err
}

func runSnapshotList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	_, store, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		logInfo("No snapshots stored")
		return nil
	}
	for _, s := range list {
		status := s.Phase
		if s.Completed {
			status = "completed"
		}
		fmt.Printf("%-40s %10s URLs  %-12s %s\n",
			s.Domain, humanize.Comma(int64(s.Visited)), status, humanize.Time(s.UpdatedAt))
	}
	return nil
}

type snapshotView struct {
	Domain         string    `yaml:"domain"`
	StartURL       string    `yaml:"start_url"`
	BaseDomain     string    `yaml:"base_domain"`
	AllowedDomains []string  `yaml:"allowed_domains"`
	Visited        int       `yaml:"visited"`
	Titled         int       `yaml:"titled"`
	Crawled        int       `yaml:"crawled"`
	Patterns       []string  `yaml:"patterns,omitempty"`
	Phase          string    `yaml:"phase,omitempty"`
	Completed      bool      `yaml:"completed"`
	TakenAt        time.Time `yaml:"taken_at"`
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	_, snap, err := loadSnapshot(cmd.Context(), cmd, args[0])
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(snapshotView{
		Domain:         snap.Domain,
		StartURL:       snap.StartURL,
		BaseDomain:     snap.BaseDomain,
		AllowedDomains: snap.AllowedDomains,
		Visited:        len(snap.Visited),
		Titled:         len(snap.Titles),
		Crawled:        snap.Crawled,
		Patterns:       snap.Patterns,
		Phase:          snap.Phase,
		Completed:      snap.Completed,
		TakenAt:        snap.TakenAt,
	})
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	formatStr, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		return err
	}
	_, snap, err := loadSnapshot(cmd.Context(), cmd, args[0])
	if err != nil {
		return err
	}

	lastMod := snap.CompletedAt
	if lastMod.IsZero() {
		lastMod = snap.TakenAt
	}
	result := &sitescout.Result{Snapshot: snap, CompletedAt: lastMod}
	write := func(w io.Writer) error {
		return output.WriteRecords(w, format, result.Records(), output.WithLastMod(lastMod))
	}
	if outPath, _ := cmd.Flags().GetString("output"); outPath != "" {
		return writeFile(outPath, write)
	}
	return write(os.Stdout)
}

func runSnapshotResume(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, store, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	snap, err := store.Load(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", args[0], err)
	}
	st := state.Restore(snap)

	scout, err := sitescout.New(sitescout.WithConfig(cfg.Config), sitescout.WithStore(store))
	if err != nil {
		return err
	}
	defer func() { _ = scout.Close() }()

	logInfo("Resuming %s from %s URLs...", snap.StartURL, humanize.Comma(int64(len(snap.Visited))))
	result, err := scout.Run(ctx, st)
	if err != nil {
		return err
	}

	lastMod := output.WithLastMod(result.CompletedAt)
	for _, e := range []struct {
		flag   string
		format output.Format
	}{{"sitemap", output.FormatSitemap}, {"csv", output.FormatCSV}} {
		path, _ := cmd.Flags().GetString(e.flag)
		if path == "" {
			continue
		}
		if err := writeFile(path, func(w io.Writer) error {
			return output.WriteRecords(w, e.format, result.Records(), lastMod)
		}); err != nil {
			return err
		}
		logInfo("Wrote %s (%s)", path, e.format)
	}
	logInfo("Snapshot now holds %s URLs", humanize.Comma(int64(len(result.Snapshot.Visited))))
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/caseimport/internal/config"
	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/logging"
	"github.com/JonMunkholm/caseimport/internal/source"
	"github.com/JonMunkholm/caseimport/internal/store/backend"
)

type runOptions struct {
	input      string
	store      string
	sqliteDir  string
	only       []string
	workers    int
	maxRetries int
	retriesSet bool
	report     string
	org        string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import a directory of CSV files, a CSV file or an .xlsx workbook",
		Long: `Import records in dependency order.

The input is a directory of <entity_type>.csv files, a single CSV file named
after its entity type, or a workbook with one sheet per entity type.

Exit codes: 0 every row imported, 2 rows failed or the run did not complete,
3 usage or configuration error, 4 store error, 5 invalid entity definitions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			opts.retriesSet = cmd.Flags().Changed("max-retries")
			return runImport(cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "Input directory, .csv or .xlsx file (required)")
	cmd.Flags().StringVar(&opts.store, "store", "", "Store driver: memory, sqlite or postgres (default: STORE_DRIVER)")
	cmd.Flags().StringVar(&opts.sqliteDir, "sqlite-dir", "", "SQLite data directory (default: SQLITE_DIR)")
	cmd.Flags().StringSliceVar(&opts.only, "only", nil, "Entity types to import, comma separated (default: all)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent rows per entity (default: IMPORT_WORKERS)")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 0, "Retries for transient store errors, 0 disables (default: IMPORT_MAX_RETRIES)")
	cmd.Flags().StringVar(&opts.report, "report", "", "Write the full JSON report to this file, - for stdout")
	cmd.Flags().StringVar(&opts.org, "org", "", "Organization that owns the imported records")

	return cmd
}

// applyFlags overrides configuration with explicit flags and revalidates.
func (o runOptions) applyFlags(cfg *config.Config) error {
	if o.store != "" {
		cfg.Store.Driver = strings.ToLower(o.store)
	}
	if o.sqliteDir != "" {
		cfg.Store.SQLiteDir = o.sqliteDir
	}
	if o.workers > 0 {
		cfg.Import.Workers = o.workers
	}
	if o.retriesSet {
		cfg.Import.MaxRetries = o.maxRetries
	}
	return cfg.Validate()
}

func runImport(cmd *cobra.Command, cfg *config.Config, opts runOptions) error {
	ctx := cmd.Context()

	if opts.input == "" {
		return withCode(exitUsage, errors.New("--input is required"))
	}
	if err := opts.applyFlags(cfg); err != nil {
		return withCode(exitUsage, err)
	}

	registry, err := loadRegistry()
	if err != nil {
		return err
	}
	only := make([]string, 0, len(opts.only))
	for _, et := range opts.only {
		et = strings.TrimSpace(et)
		if et == "" {
			continue
		}
		if _, ok := registry.Get(et); !ok {
			return withCode(exitUsage, fmt.Errorf("unknown entity type %q (see caseimport entities)", et))
		}
		only = append(only, et)
	}

	src, closer, err := source.Open(opts.input)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("open input: %w", err))
	}
	defer closer.Close()

	st, err := backend.Open(ctx, cfg)
	if err != nil {
		return withCode(exitStore, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err))
	}
	defer st.Close()

	var limiter *rate.Limiter
	if cfg.Import.WriteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Import.WriteRate), max(cfg.Import.WriteBurst, 1))
	}

	logger := logging.FromContext(ctx)
	report, err := core.NewImporter(registry, st).Run(ctx, src, core.RunOptions{
		OrganizationID: opts.org,
		Only:           only,
		Workers:        cfg.Import.Workers,
		MaxRetries:     cfg.Import.RetryLimit(),
		RetryBaseDelay: cfg.Import.RetryBaseDelay,
		RetryMaxDelay:  cfg.Import.RetryMaxDelay,
		Limiter:        limiter,
		OnProgress: func(p core.Progress) {
			if p.EntityType != "" {
				logger.Debug("progress", "entity", p.EntityType, "percent", p.Percent())
			}
		},
	})
	if err != nil {
		return withCode(exitUsage, err)
	}

	// The report outlives a cancelled command context.
	if err := st.SaveReport(context.WithoutCancel(ctx), report); err != nil {
		return withCode(exitStore, fmt.Errorf("save report: %w", err))
	}

	if err := writeReport(cmd.OutOrStdout(), opts.report, report); err != nil {
		return err
	}

	_, failed, skipped := report.Totals()
	switch {
	case report.State != core.RunCompleted:
		return withCode(exitRowsFailed, fmt.Errorf("import run %s: %s", report.State, report.Diagnostic))
	case failed > 0:
		return withCode(exitRowsFailed, fmt.Errorf("import run completed with %d failed and %d skipped rows", failed, skipped))
	}
	return nil
}

// writeReport prints the run summary and, when asked, the full report.
func writeReport(stdout io.Writer, path string, report *core.Report) error {
	if path == "-" {
		return writeJSON(stdout, report)
	}
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return withCode(exitUsage, fmt.Errorf("create report: %w", err))
		}
		if err := writeJSON(f, report); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return withCode(exitUsage, fmt.Errorf("write report: %w", err))
		}
		slog.Info("report written", "path", path)
	}
	return writeJSON(stdout, report.Summary())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

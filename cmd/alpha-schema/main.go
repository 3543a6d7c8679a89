// Command alpha-schema maintains the database behind the built-in record
// types: it creates missing tables, reports schema drift and writes backups.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/alphadevx/alpha-sub000/internal/backup"
	"github.com/alphadevx/alpha-sub000/internal/blob"
	"github.com/alphadevx/alpha-sub000/internal/config"
	"github.com/alphadevx/alpha-sub000/internal/core"
	"github.com/alphadevx/alpha-sub000/internal/logging"
	"github.com/alphadevx/alpha-sub000/internal/model"
	"github.com/alphadevx/alpha-sub000/pkg/record"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
	exitDrift = 3
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

const usage = `usage: alpha-schema [-config path] [-metrics-file path] <command>

commands:
  sync     create missing tables and indexes for the built-in types
  drift    report missing tables and columns (exit 3 when drift is found)
  backup   dump every table to the configured blob store
  runs     list completed backups

-metrics-file writes the record store metrics of the run in the Prometheus
text format, for a node exporter textfile collector.
`

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("alpha-schema", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = io.WriteString(stderr, usage) }
	var cfgPath, metricsPath string
	fs.StringVar(&cfgPath, "config", "", "path to alpha.yaml (default $ALPHA_CONFIG or ./alpha.yaml)")
	fs.StringVar(&metricsPath, "metrics-file", "", "write store metrics to this file when the command ends")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	cmd := fs.Arg(0)

	if cfgPath == "" {
		cfgPath = os.Getenv(config.EnvConfig)
	}
	cfg, _, err := config.Resolve(cfgPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitFail
	}
	log, err := logging.New(cfg.Log, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configure logging: %v\n", err)
		return exitFail
	}

	switch cmd {
	case "runs":
		err = listRuns(ctx, cfg, stdout)
	case "sync", "drift", "backup":
		var code int
		code, err = withStore(ctx, cfg, log, metricsPath, func(store *record.Store) (int, error) {
			switch cmd {
			case "sync":
				return exitOK, syncSchema(ctx, store, stdout)
			case "drift":
				return reportDrift(ctx, store, stdout)
			default:
				return exitOK, runBackup(ctx, cfg, store, log, stdout)
			}
		})
		if err == nil {
			return code
		}
	default:
		fs.Usage()
		return exitUsage
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		return exitFail
	}
	return exitOK
}

// withStore opens the store for fn. Metrics are only collected when
// metricsPath is set; they are written there once fn returns.
func withStore(ctx context.Context, cfg *config.Config, log zerolog.Logger, metricsPath string, fn func(*record.Store) (int, error)) (code int, err error) {
	opts := core.Options{Logger: log}
	var reg *prometheus.Registry
	if metricsPath != "" {
		reg = prometheus.NewRegistry()
		opts.Registerer = reg
	}
	store, err := core.OpenStore(cfg, opts)
	if err != nil {
		return exitFail, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if reg == nil {
			return
		}
		if werr := prometheus.WriteToTextfile(metricsPath, reg); werr != nil && err == nil {
			code, err = exitFail, fmt.Errorf("write metrics: %w", werr)
		}
	}()
	if err := model.Register(store); err != nil {
		return exitFail, err
	}
	return fn(store)
}

func syncSchema(ctx context.Context, store *record.Store, out io.Writer) error {
	if err := model.MakeTables(ctx, store); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "schema in sync (%s)\n", store.ProviderName())
	return err
}

// reportDrift compares each built-in type with its physical table. Lookup
// and option list tables are created on first use and are not reported.
func reportDrift(ctx context.Context, store *record.Store, out io.Writer) (int, error) {
	drift := false
	for _, d := range model.Descriptors() {
		rec, err := store.New(d.Name)
		if err != nil {
			return exitFail, err
		}
		exists, err := rec.CheckTableExists(ctx, false)
		if err != nil {
			return exitFail, err
		}
		var line string
		switch {
		case !exists:
			line = "missing table"
		default:
			missing, err := rec.FindMissingFields(ctx)
			if err != nil {
				return exitFail, err
			}
			if len(missing) == 0 {
				continue
			}
			line = "missing columns " + strings.Join(missing, ", ")
		}
		drift = true
		if _, err := fmt.Fprintf(out, "%s: %s\n", d.Name, line); err != nil {
			return exitFail, err
		}
	}
	if !drift {
		_, err := fmt.Fprintln(out, "no drift")
		return exitOK, err
	}
	return exitDrift, nil
}

func runBackup(ctx context.Context, cfg *config.Config, store *record.Store, log zerolog.Logger, out io.Writer) error {
	blobs, err := blob.Open(ctx, cfg.Backup)
	if err != nil {
		return err
	}
	m, err := backup.New(store, blobs, cfg.Backup.Prefix, log).Run(ctx)
	if err != nil {
		return err
	}
	rows := 0
	for _, t := range m.Tables {
		rows += t.Rows
	}
	_, err = fmt.Fprintf(out, "backup %s: %d tables, %d rows\n", m.RunID, len(m.Tables), rows)
	return err
}

func listRuns(ctx context.Context, cfg *config.Config, out io.Writer) error {
	blobs, err := blob.Open(ctx, cfg.Backup)
	if err != nil {
		return err
	}
	runs, err := backup.Runs(ctx, blobs, cfg.Backup.Prefix)
	if err != nil {
		return err
	}
	for _, id := range runs {
		if _, err := fmt.Fprintln(out, id); err != nil {
			return err
		}
	}
	return nil
}

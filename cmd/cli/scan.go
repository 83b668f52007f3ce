package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/anstrom/stridescan/internal/config"
	"github.com/anstrom/stridescan/internal/db"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/scanning"
)

const storeTimeout = 10 * time.Second

// newScanner builds the scanner for the scan commands.
var newScanner = scanning.New

// scanFlags are the output options of a one-shot scan.
type scanFlags struct {
	format string
	output string
	store  bool
}

func (f *scanFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.format, "format", scanning.FormatText, "output format: text, table, json")
	fs.StringVarP(&f.output, "output", "o", "", "save results to a file (.xml or .json)")
	fs.BoolVar(&f.store, "store", false, "store results in the configured database")
}

func newScanCmd(opts *globalOptions) *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan <ip>",
		Short: "Scan every TCP port of a host",
		Long: `Scan all 65536 TCP ports of one IPv4 or IPv6 address with a full
connect. The -j flag sets how many workers split the port space.

A dot is printed for each open port as it is found, followed by one
"<port> is open" line per open port in ascending order.`,
		Example: `  stridescan scan 10.0.0.1
  stridescan scan -j 512 --format table 10.0.0.1
  stridescan scan --output result.xml --store ::1`,
		Args: scanArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, flags, args[0])
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// runScan validates the input, scans the target and renders the result.
func runScan(cmd *cobra.Command, opts *globalOptions, flags *scanFlags, arg string) error {
	cfg := opts.cfg
	workers := cfg.Scanning.Workers
	if err := scanning.ValidateWorkers(workers); err != nil {
		return err
	}
	target, err := scanning.ParseTarget(arg)
	if err != nil {
		return err
	}
	switch flags.format {
	case scanning.FormatText, scanning.FormatTable, scanning.FormatJSON:
	default:
		return errors.NewScanError(errors.CodeValidation, fmt.Sprintf("unknown output format: %s", flags.format))
	}

	out := cmd.OutOrStdout()
	scanOpts := []scanning.Option{scanning.WithNetwork(cfg.Scanning.Network)}
	progress := &dotPrinter{w: out}
	if flags.format != scanning.FormatJSON {
		scanOpts = append(scanOpts, scanning.WithProgress(progress.dot))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, scanErr := newScanner(scanOpts...).Scan(ctx, target, workers)
	if result == nil {
		return scanErr
	}
	if progress.count() > 0 {
		fmt.Fprintln(out)
	}

	if err := scanning.PrintResults(out, result, flags.format); err != nil {
		return err
	}

	if flags.output != "" {
		if err := scanning.SaveResults(result, flags.output); err != nil {
			return err
		}
		logging.Info("Results saved", "path", flags.output)
	}

	if flags.store {
		status := db.ScanStatusCompleted
		if scanErr != nil {
			status = db.ScanStatusCanceled
		}
		if err := storeResult(cfg, result, status); err != nil {
			return err
		}
	}

	return scanErr
}

// storeResult writes one result to the configured database.
func storeResult(cfg *config.Config, result *scanning.Result, status string) error {
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rec := db.NewScanRecord(result, status)
	if err := db.NewScanRepository(database, nil).Create(ctx, rec); err != nil {
		return err
	}
	logging.InfoDatabase("Scan stored", "scan_id", rec.ID.String())
	return nil
}

// openDatabase connects and migrates, or fails when no database is configured.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	if !cfg.Database.Enabled() {
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			"no database configured", "database.database", "")
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return db.ConnectAndMigrate(ctx, &cfg.Database)
}

// dotPrinter writes one dot per open port. Workers report concurrently.
type dotPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	found int
}

func (p *dotPrinter) dot(uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.found++
	_, _ = io.WriteString(p.w, ".")
}

func (p *dotPrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.found
}

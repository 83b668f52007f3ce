package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/stridescan/internal/db"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/scanning"
)

// historyStore is the part of the scan repository the history command reads.
type historyStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.ScanRecord, error)
	List(ctx context.Context, limit int) ([]*db.ScanRecord, error)
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "history [scan-id]",
		Short: "Show stored scans",
		Long: `List scans stored in the configured PostgreSQL database, newest first.
Given a scan ID, print that scan's open ports instead.`,
		Example: `  stridescan history
  stridescan history --limit 10 --format json
  stridescan history 3f1c2d9e-7a51-4b8e-9d0c-2f6a1b7e4c55`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			repo := db.NewScanRepository(database, nil)
			if len(args) == 1 {
				return showScan(cmd.Context(), cmd.OutOrStdout(), repo, args[0], format)
			}
			return listScans(cmd.Context(), cmd.OutOrStdout(), repo, limit, format)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", db.DefaultListLimit, "maximum number of scans to list")
	cmd.Flags().StringVar(&format, "format", scanning.FormatTable, "output format: table, json (text for a single scan)")
	return cmd
}

// listScans prints the most recent stored scans.
func listScans(ctx context.Context, w io.Writer, store historyStore, limit int, format string) error {
	if limit <= 0 {
		return errors.NewScanError(errors.CodeValidation, "limit must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	records, err := store.List(ctx, limit)
	if err != nil {
		return err
	}

	switch format {
	case scanning.FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	case scanning.FormatTable, "":
		return displayScansTable(w, records)
	default:
		return errors.NewScanError(errors.CodeValidation, fmt.Sprintf("unknown output format: %s", format))
	}
}

// showScan prints one stored scan in any scan output format.
func showScan(ctx context.Context, w io.Writer, store historyStore, rawID, format string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return errors.NewScanError(errors.CodeValidation, fmt.Sprintf("invalid scan ID: %s", rawID))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	result, err := rec.ToResult()
	if err != nil {
		return err
	}
	return scanning.PrintResults(w, result, format)
}

// displayScansTable displays stored scans in a table format
func displayScansTable(w io.Writer, records []*db.ScanRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No scans stored")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Target", "Workers", "Status", "Open Ports", "Started", "Duration")

	for _, rec := range records {
		if err := table.Append([]string{
			rec.ID.String(),
			rec.Target,
			strconv.Itoa(rec.Workers),
			rec.Status,
			strconv.Itoa(len(rec.OpenPorts)),
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%dms", rec.DurationMs),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

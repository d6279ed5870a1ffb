package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"rental-sync/internal/app"
	"rental-sync/internal/infrastructure/snapshot"
	"rental-sync/internal/usecase/geocode"
	"rental-sync/internal/usecase/reconcile"

	"github.com/spf13/cobra"
)

var errJobFailed = errors.New("job finished unsuccessfully")

var (
	market    string
	inputFile string
	limit     int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Upsert a full market snapshot without deactivating anything",
	Long: `Reads a JSON array of listing snapshots (or {"records": [...]}) and
inserts new urls, refreshes known ones and reactivates returning ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := snapshot.LoadImportFile(inputFile)
		if err != nil {
			return err
		}
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			res, err := c.Jobs.Import(ctx, market, records)
			return report(cmd.OutOrStdout(), res, err)
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply a precomputed diff for a market",
	Long: `Reads {"currentUrls", "newRecords", "removedUrls"} and applies it
all-or-nothing: an inconsistent diff is rejected before any write.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := snapshot.LoadSyncFile(inputFile)
		if err != nil {
			return err
		}
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			res, err := c.Jobs.Sync(ctx, market, in)
			return report(cmd.OutOrStdout(), res, err)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Diff a market against the scraper service's latest crawl",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			res, err := c.Jobs.Refresh(ctx, market)
			return report(cmd.OutOrStdout(), res, err)
		})
	},
}

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Backfill coordinates for listings that have none",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
			rep, err := c.Jobs.Backfill(ctx, geocode.Filter{Market: strings.TrimSpace(market), Limit: limit})
			if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
				return werr
			}
			return err
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{importCmd, syncCmd, refreshCmd} {
		cmd.Flags().StringVarP(&market, "market", "m", "", "source market slug")
		_ = cmd.MarkFlagRequired("market")
	}
	for _, cmd := range []*cobra.Command{importCmd, syncCmd} {
		cmd.Flags().StringVarP(&inputFile, "file", "f", "", "JSON input file")
		_ = cmd.MarkFlagRequired("file")
	}
	geocodeCmd.Flags().StringVarP(&market, "market", "m", "", "restrict to one market (default all)")
	geocodeCmd.Flags().IntVar(&limit, "limit", 0, "maximum records to process (default from config)")
}

func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	return fn(ctx, c)
}

// report prints res and turns an unsuccessful run into a non-nil error so the
// process exits non-zero.
func report(w io.Writer, res reconcile.Result, err error) error {
	if werr := writeJSON(w, res); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %d errors", errJobFailed, len(res.Summary.Errors))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leasingborsen/lease-ingest/internal/fetcher"
	"github.com/leasingborsen/lease-ingest/internal/ingest"
	"github.com/leasingborsen/lease-ingest/internal/model"
	"github.com/leasingborsen/lease-ingest/internal/session"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-url>",
	Short: "Load an extraction document and open a review session",
	Long:  "Loads extracted variants from a local JSON/XLSX file or a http(s)/ftp URL, reconciles them against the seller's stored listings, and opens a session holding the proposed changes.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sellerID, _ := cmd.Flags().GetString("seller")
		if sellerID == "" {
			return eris.New("--seller is required")
		}

		source := args[0]
		local, cleanup, err := materialize(cmd, source)
		if err != nil {
			return err
		}
		defer cleanup()

		variants, rejects, err := ingest.LoadFile(local)
		if err != nil {
			return err
		}
		for _, r := range rejects {
			zap.L().Warn("rejected input row",
				zap.Int("row", r.Row),
				zap.Error(r.Err),
			)
		}
		if len(variants) == 0 {
			return eris.New("no valid variants in input")
		}

		st, err := openStore(ctx, "ingest")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mgr := session.NewManager(st)
		result, err := mgr.Start(ctx, sellerID, variants)
		if err != nil {
			return err
		}

		printStartSummary(result, len(rejects))
		return nil
	},
}

// materialize returns a local path for the source, downloading remote
// documents to a temp file first.
func materialize(cmd *cobra.Command, source string) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		if _, statErr := os.Stat(source); statErr != nil {
			return "", noop, eris.Wrapf(statErr, "input %q", source)
		}
		return source, noop, nil
	}

	httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:  cfg.Fetch.Retries + 1,
		RatePerHost: rate.Limit(cfg.Fetch.RatePerSecond),
	})
	ftpF := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout: time.Duration(cfg.Fetch.FTPTimeoutSecs) * time.Second,
	})

	f, err := fetcher.ForURL(source, httpF, ftpF)
	if err != nil {
		return "", noop, err
	}

	dir, err := os.MkdirTemp("", "lease-ingest-")
	if err != nil {
		return "", noop, eris.Wrap(err, "create temp dir")
	}
	cleanup := func() { os.RemoveAll(dir) }

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "document"
	}
	local := filepath.Join(dir, name)

	n, err := f.DownloadToFile(cmd.Context(), source, local)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	zap.L().Info("downloaded document",
		zap.String("url", source),
		zap.Int64("bytes", n),
	)
	return local, cleanup, nil
}

func printStartSummary(result *session.StartResult, rejected int) {
	counts := map[model.ChangeType]int{}
	for _, p := range result.Proposals {
		counts[p.Type]++
	}

	fmt.Printf("Session %s opened for seller %s\n", result.Session.ID, result.Session.SellerID)
	fmt.Printf("  extracted: %d\n", result.Session.TotalExtracted)
	fmt.Printf("  creates:   %d\n", counts[model.ChangeCreate])
	fmt.Printf("  updates:   %d\n", counts[model.ChangeUpdate])
	fmt.Printf("  deletes:   %d\n", counts[model.ChangeDelete])
	fmt.Printf("  unchanged: %d\n", len(result.Unchanged))
	if rejected > 0 {
		fmt.Printf("  rejected input rows: %d\n", rejected)
	}
	fmt.Printf("\nReview with: lease-ingest session show %s\n", result.Session.ID)
}

func init() {
	ingestCmd.Flags().String("seller", "", "seller ID the document belongs to")
	rootCmd.AddCommand(ingestCmd)
}

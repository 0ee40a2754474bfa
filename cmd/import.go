package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/market-atlas/internal/fetcher"
	"github.com/sells-group/market-atlas/internal/metric"
)

var (
	importFiles     []string
	importBatchSize int
	importDelimiter string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load observation CSV files",
	Long:  "Streams observation CSV files (local paths or URLs) into the variable, entity, and observation tables.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}
		delim, err := parseDelimiter(importDelimiter)
		if err != nil {
			return err
		}

		env, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		f := fetcher.NewAuto(fetcher.HTTPOptions{
			Timeout:     cfg.Boundary.Timeout(),
			MaxAttempts: 3,
			RatePerHost: rate.Limit(cfg.Boundary.RateLimit),
		})

		var total importStats
		for _, loc := range importFiles {
			rc, err := f.Download(ctx, loc)
			if err != nil {
				return eris.Wrapf(err, "import %s", loc)
			}
			stats, err := importRecords(ctx, rc, env.Writer, delim, importBatchSize)
			_ = rc.Close()
			if err != nil {
				return eris.Wrapf(err, "import %s", loc)
			}
			zap.L().Info("file imported",
				zap.String("file", loc),
				zap.Int("rows", stats.Rows),
				zap.Int("skipped", stats.Skipped),
				zap.Int64("written", stats.Written),
			)
			total.add(stats)
		}

		zap.L().Info("import complete",
			zap.Int("files", len(importFiles)),
			zap.Int("rows", total.Rows),
			zap.Int("skipped", total.Skipped),
			zap.Int64("written", total.Written),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringSliceVar(&importFiles, "file", nil, "CSV file path or URL (repeatable, required)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 5000, "records per write")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", ",", "field delimiter")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

type importStats struct {
	Rows    int
	Skipped int
	Written int64
}

func (s *importStats) add(o importStats) {
	s.Rows += o.Rows
	s.Skipped += o.Skipped
	s.Written += o.Written
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "", ",":
		return ',', nil
	case `\t`, "\t", "tab":
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, eris.Errorf("delimiter %q must be a single character", s)
	}
	return r[0], nil
}

// importRecords streams CSV rows from r, parses them against the header,
// and writes them in batches. Unparseable rows are skipped.
func importRecords(ctx context.Context, r io.Reader, w metric.RecordWriter, delim rune, batchSize int) (importStats, error) {
	if batchSize <= 0 {
		batchSize = 5000
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	header, rowCh, errCh, err := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		Delimiter: delim,
		TrimSpace: true,
	})
	if err == io.EOF {
		return importStats{}, nil
	}
	if err != nil {
		return importStats{}, err
	}
	parser, err := metric.NewRecordParser(header)
	if err != nil {
		return importStats{}, err
	}

	var (
		stats importStats
		batch = make([]metric.Record, 0, batchSize)
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := w.WriteRecords(ctx, batch)
		if err != nil {
			return err
		}
		stats.Written += n
		batch = batch[:0]
		return nil
	}

	for row := range rowCh {
		stats.Rows++
		rec, err := parser.Parse(row.Fields)
		if err != nil {
			stats.Skipped++
			zap.L().Debug("import: skipping row", zap.Int("line", row.Line), zap.Error(err))
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return stats, err
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

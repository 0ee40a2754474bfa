package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures StreamCSV.
type CSVOptions struct {
	Delimiter rune // default ','
	TrimSpace bool
}

// CSVRow is one data row and its 1-based line in the file.
type CSVRow struct {
	Line   int
	Fields []string
}

// StreamCSV reads the header row synchronously and streams the remaining
// rows. A UTF-8 byte order mark on the header is dropped. The caller must
// drain rows; the error channel yields at most one error once rows is
// closed. An empty input returns io.EOF.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([]string, <-chan CSVRow, <-chan error, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil, io.EOF
	}
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "csv: read header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	trim(header, true)

	rowCh := make(chan CSVRow, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(rowCh)

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			line, _ := reader.FieldPos(0)
			trim(record, opts.TrimSpace)

			select {
			case rowCh <- CSVRow{Line: line, Fields: record}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return header, rowCh, errCh, nil
}

func trim(fields []string, on bool) {
	if !on {
		return
	}
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
}

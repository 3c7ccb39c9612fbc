// Package loader reads filterable GTFS CSV text files in parallel chunks.
//
// It mirrors the chunked-parallel-parse design of the original Python
// gtfs_upcoming.schedule.loader module: the header is read once, the
// remaining lines are split into fixed-size chunks (each re-prefixed with
// the header), and chunks are parsed concurrently by a bounded worker
// pool. A semaphore caps the number of chunks in flight at 2*MaxThreads-1,
// so the reader blocks (providing backpressure) rather than buffering the
// whole file's chunks in memory at once.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/spkg/bom"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Row is a single CSV data row, keyed by column name.
type Row map[string]string

// Filter is an allow-list: a row is retained iff, for every column present
// in Filter, the row's value for that column is in the column's accepting
// set. An empty or absent Filter retains every row. Multiple columns are
// ANDed.
type Filter map[string]map[string]struct{}

// keeps reports whether row survives f.
func (f Filter) keeps(row Row) bool {
	for col, acceptable := range f {
		if _, ok := acceptable[row[col]]; !ok {
			return false
		}
	}
	return true
}

// Config holds the tunables threaded through Loader construction, mirroring
// the module-level MaxThreads/MaxRowsPerChunk tunables of the original
// implementation.
type Config struct {
	// MaxThreads bounds the size of the worker pool. Zero means
	// runtime.NumCPU().
	MaxThreads int

	// MaxRowsPerChunk bounds the number of data rows dispatched to a
	// single worker. Zero means DefaultMaxRowsPerChunk.
	MaxRowsPerChunk int
}

// DefaultMaxRowsPerChunk matches the original loader's default chunk size.
const DefaultMaxRowsPerChunk = 100000

// Loader reads GTFS text files; each Load call names its file by path.
type Loader struct {
	cfg Config
}

// New constructs a Loader, filling in defaults for any zero-valued Config
// fields.
func New(cfg Config) *Loader {
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = runtime.NumCPU()
	}
	if cfg.MaxRowsPerChunk <= 0 {
		cfg.MaxRowsPerChunk = DefaultMaxRowsPerChunk
	}
	return &Loader{cfg: cfg}
}

// Load reads filename, returning every row matching keep. Result order
// across chunks is not defined.
func (l *Loader) Load(filename string, keep Filter) ([]Row, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}
	defer f.Close()

	// Strip a leading BOM if present; some agencies' exports carry one
	// on the first file of the bundle, which would otherwise corrupt
	// the first header name.
	r := bufio.NewReader(bom.NewReader(f))

	header, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", filename, err)
	}

	// Two separate bounds: the errgroup limits actual worker parallelism
	// to MaxThreads, while the semaphore caps submissions in flight at
	// 2*MaxThreads-1, giving the reader loop below backpressure so it
	// blocks rather than buffering the whole file's chunks in memory
	// when workers fall behind.
	maxInFlight := int64(2*l.cfg.MaxThreads - 1)
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	sem := semaphore.NewWeighted(maxInFlight)
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(l.cfg.MaxThreads)

	var (
		resultsMu sync.Mutex
		results   []chunkResult
	)

	lines := make([]string, 0, l.cfg.MaxRowsPerChunk)
	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		chunk := make([]string, len(lines))
		copy(chunk, lines)
		lines = lines[:0]

		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}

		g.Go(func() error {
			defer sem.Release(1)
			res, err := parseChunk(header, chunk, keep)
			if err != nil {
				return err
			}
			resultsMu.Lock()
			results = append(results, res)
			resultsMu.Unlock()
			return nil
		})
		return nil
	}

	var readErr error
	for {
		var line string
		line, readErr = readLine(r)
		if readErr == io.EOF {
			readErr = nil
			break
		}
		if readErr != nil {
			break
		}

		lines = append(lines, line)
		if len(lines) >= l.cfg.MaxRowsPerChunk {
			if err := flush(); err != nil {
				readErr = err
				break
			}
		}
	}
	if readErr == nil {
		readErr = flush()
	}

	waitErr := g.Wait()
	if readErr != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, readErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, waitErr)
	}

	var rows []Row
	for _, res := range results {
		rows = append(rows, res.rows...)
	}

	return rows, nil
}

type chunkResult struct {
	rows    []Row
	discard int
}

// parseChunk is the worker body: parse one CSV chunk (header + data lines)
// into rows matching keep, counting discards.
func parseChunk(header string, lines []string, keep Filter) (chunkResult, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteString("\n")
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\n")
	}

	cr := csv.NewReader(&buf)
	cr.ReuseRecord = true

	cols, err := cr.Read()
	if err != nil {
		return chunkResult{}, errors.Wrap(err, "reading chunk header")
	}
	// cr.ReuseRecord means cols is reused by the next Read; copy it.
	colNames := append([]string(nil), cols...)

	var res chunkResult
	for i := 0; ; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return chunkResult{}, errors.Wrapf(err, "parsing row %d", i+1)
		}

		row := make(Row, len(colNames))
		for j, col := range colNames {
			if j < len(rec) {
				row[col] = rec[j]
			}
		}

		if keep.keeps(row) {
			res.rows = append(res.rows, row)
		} else {
			res.discard++
		}
	}

	return res, nil
}

// readLine reads a single line (without its trailing newline) from r.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if len(line) == 0 && err == io.EOF {
		return "", io.EOF
	}
	line = bytesTrimRight(line)
	return line, nil
}

func bytesTrimRight(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

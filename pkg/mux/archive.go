package mux

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Writer is the opaque archive adapter: one operation, append a
// timestamped tuple to a named series. Implementations
// wrap whatever time-series backend the deployment uses (RRD-like files,
// a TSDB client, …); this package only needs the contract.
type Writer interface {
	Update(seriesFile string, timestampUnix uint64, fieldCSV string) error
}

// MaxArchiveErrors bounds how many archive failures one series logs before
// the archive writer goes quiet for it, mirroring SYMUX_MAXRRDERRORS.
const MaxArchiveErrors = 10

// RateLimitedWriter wraps a Writer and suppresses repeated-failure log
// spam per series, grounded on symuxnet.c's handlemessage() rrd_update
// error path: count failures per series, log up to MaxArchiveErrors, then
// go silent until restart (the counter is never reset).
type RateLimitedWriter struct {
	inner  Writer
	logger *slog.Logger

	mu     sync.Mutex
	errors map[string]int
}

// NewRateLimitedWriter wraps inner with per-series error rate limiting.
func NewRateLimitedWriter(inner Writer, logger *slog.Logger) *RateLimitedWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitedWriter{inner: inner, logger: logger, errors: make(map[string]int)}
}

// Update delegates to the wrapped Writer, counting and rate-limiting any
// failures. The error is still returned to the caller (the caller decides
// whether to treat this tuple's record as dropped); only the logging is
// suppressed.
func (w *RateLimitedWriter) Update(seriesFile string, timestampUnix uint64, fieldCSV string) error {
	err := w.inner.Update(seriesFile, timestampUnix, fieldCSV)
	if err == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.errors[seriesFile]++
	n := w.errors[seriesFile]

	switch {
	case n < MaxArchiveErrors:
		w.logger.Warn("archive update failed", "series", seriesFile, "error", err, "count", n)
	case n == MaxArchiveErrors:
		w.logger.Warn("archive update failing repeatedly, suppressing further warnings",
			"series", seriesFile, "error", err)
	}
	return err
}

// FileWriter is a minimal Writer that appends CSV lines to per-series
// files, a stand-in for the original's RRD bindings: "timestamp,fields\n".
type FileWriter struct{}

// NewFileWriter returns a Writer that opens each series file in append
// mode and writes one CSV line per Update call.
func NewFileWriter() *FileWriter { return &FileWriter{} }

func (w *FileWriter) Update(seriesFile string, timestampUnix uint64, fieldCSV string) error {
	f, err := os.OpenFile(seriesFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("mux: open archive %s: %w", seriesFile, err)
	}
	defer f.Close()
	_, err = f.WriteString(fmt.Sprintf("%d,%s\n", timestampUnix, fieldCSV))
	return err
}

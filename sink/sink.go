// Package sink writes sweep results to CSV with fixed-precision formatting
// and output-path resolution, plus an optional gzip wrapper.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/cwsl/bersim/engine"
)

// Row is one SNR point's recorded outcome.
type Row struct {
	SnrDB float64
	Result engine.BerResult
}

// Writer accumulates rows and flushes them as CSV on Close.
type Writer struct {
	path string
	gzip bool
	f    *os.File
	gz   *gzip.Writer
	w    *csv.Writer
}

// slug turns s into a filesystem-safe token: lowercase alphanumerics, '.',
// '-', '_' pass through, everything else becomes '_'.
func slug(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ResolvePath applies the output-path rule: if outfile names an existing
// directory, or ends in a path separator, the actual file is
// "<coder>_<modem>_<channel>.csv" inside it; otherwise outfile is used
// literally. The parent directory is created either way.
func ResolvePath(outfile, coderName, modemName, channelName string) (string, error) {
	endsWithSep := strings.HasSuffix(outfile, "/") || strings.HasSuffix(outfile, string(os.PathSeparator))
	isDir := false
	if fi, err := os.Stat(outfile); err == nil {
		isDir = fi.IsDir()
	}

	if endsWithSep || isDir {
		if err := os.MkdirAll(outfile, 0o755); err != nil {
			return "", err
		}
		name := slug(coderName) + "_" + slug(modemName) + "_" + slug(channelName) + ".csv"
		return filepath.Join(outfile, name), nil
	}

	if dir := filepath.Dir(outfile); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return outfile, nil
}

// New opens path for writing, wrapping it in gzip when gz is true, and
// writes the CSV header immediately.
func New(path string, gz bool) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{path: path, gzip: gz, f: f}
	if gz {
		w.gz = gzip.NewWriter(f)
		w.w = csv.NewWriter(w.gz)
	} else {
		w.w = csv.NewWriter(f)
	}

	if err := w.w.Write([]string{"snr_db", "ber", "num_bits", "num_errors", "ci_low", "ci_high"}); err != nil {
		w.f.Close()
		return nil, err
	}
	return w, nil
}

// WriteRow appends one SNR point, formatted to six decimal places to match
// the original's std::setprecision(6).
func (w *Writer) WriteRow(r Row) error {
	rec := []string{
		strconv.FormatFloat(r.SnrDB, 'f', 6, 64),
		strconv.FormatFloat(r.Result.Ber, 'f', 6, 64),
		strconv.FormatUint(r.Result.Bits, 10),
		strconv.FormatUint(r.Result.Errs, 10),
		strconv.FormatFloat(r.Result.CILo, 'f', 6, 64),
		strconv.FormatFloat(r.Result.CIHi, 'f', 6, 64),
	}
	if err := w.w.Write(rec); err != nil {
		return err
	}
	w.w.Flush()
	return w.w.Error()
}

// Close flushes and closes the underlying writers.
func (w *Writer) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.f.Close()
		return err
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.f.Close()
			return err
		}
	}
	return w.f.Close()
}

// FormatLine renders a human-readable progress line summarizing one
// completed SNR point.
func FormatLine(snrDB float64, r engine.BerResult) string {
	return fmt.Sprintf("SNR(dB)=%6.2f  BER=%.6f  bits=%d  errors=%d", snrDB, r.Ber, r.Bits, r.Errs)
}

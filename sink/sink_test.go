package sink

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/cwsl/bersim/engine"
)

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"ASK4_Gray":   "ask4_gray",
		"conv_k7_r12": "conv_k7_r12",
		"a/b c":       "a_b_c",
	}
	for in, want := range cases {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolvePathDirectory(t *testing.T) {
	dir := t.TempDir()
	path, err := ResolvePath(dir+"/", "conv_k7_r12", "ask2", "awgn")
	if err != nil {
		t.Fatalf("ResolvePath error: %v", err)
	}
	want := filepath.Join(dir, "conv_k7_r12_ask2_awgn.csv")
	if path != want {
		t.Errorf("ResolvePath = %q, want %q", path, want)
	}
}

func TestResolvePathLiteralFile(t *testing.T) {
	dir := t.TempDir()
	literal := filepath.Join(dir, "results.csv")
	path, err := ResolvePath(literal, "uncoded", "ask2", "awgn")
	if err != nil {
		t.Fatalf("ResolvePath error: %v", err)
	}
	if path != literal {
		t.Errorf("ResolvePath = %q, want %q", path, literal)
	}
}

func TestWriterWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	w, err := New(path, false)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := w.WriteRow(Row{SnrDB: 4, Result: engine.BerResult{Ber: 0.0125, Bits: 1000, Errs: 12, CILo: 0.01, CIHi: 0.015}}); err != nil {
		t.Fatalf("WriteRow returned error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("cannot open output: %v", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("cannot parse CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d records", len(records))
	}
	if records[0][0] != "snr_db" {
		t.Errorf("header missing, got %v", records[0])
	}
	if records[1][0] != "4.000000" {
		t.Errorf("snr_db not formatted to six decimals, got %q", records[1][0])
	}
}

func TestWriterGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv.gz")
	w, err := New(path, true)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := w.WriteRow(Row{SnrDB: 0, Result: engine.BerResult{Ber: 0.5, Bits: 10, Errs: 5}}); err != nil {
		t.Fatalf("WriteRow returned error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("cannot open gzip output: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("cannot open gzip reader: %v", err)
	}
	defer gz.Close()
	r := csv.NewReader(gz)
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("cannot parse gzipped CSV: %v", err)
	}
	if len(records) != 2 || !strings.HasPrefix(records[1][0], "0.000000") {
		t.Errorf("unexpected gzipped CSV content: %v", records)
	}
}

func TestFormatLine(t *testing.T) {
	line := FormatLine(4, engine.BerResult{Ber: 0.0125, Bits: 1000, Errs: 12})
	if !strings.Contains(line, "BER=0.012500") || !strings.Contains(line, "bits=1000") {
		t.Errorf("unexpected FormatLine output: %q", line)
	}
}

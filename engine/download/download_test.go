package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHandle_WritesFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.txt")
	body := "hello, file"

	sum := sha256.Sum256([]byte(body))
	err := Handle(t.Context(), strings.NewReader(body), int64(len(body)), dest, slog.Default(),
		WithChecksum(sha256.New(), hex.EncodeToString(sum[:])),
		WithProgress(),
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading dest: %v", err)
	}
	if string(got) != body {
		t.Errorf("expected %q, got %q", body, got)
	}
}

func TestHandle_Errors(t *testing.T) {
	testCases := []struct {
		name          string
		body          string
		contentLength int64
		opts          []Option
		expErr        error
	}{
		{
			name:          "content length mismatch",
			body:          "short",
			contentLength: 100,
			expErr:        ErrContentLengthMismatch,
		},
		{
			name:          "checksum mismatch",
			body:          "data",
			contentLength: -1,
			opts:          []Option{WithChecksum(sha256.New(), "deadbeef")},
			expErr:        ErrChecksumMismatch,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			dest := filepath.Join(dir, "out.bin")

			err := Handle(t.Context(), strings.NewReader(tc.body), tc.contentLength, dest, slog.Default(), tc.opts...)
			if !errors.Is(err, tc.expErr) {
				t.Fatalf("expected %v, got: %v", tc.expErr, err)
			}

			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Errorf("destination should not exist after failure, stat err: %v", err)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("expected temp file to be cleaned up, found %d entries", len(entries))
			}
		})
	}
}

func TestHandle_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	dest := filepath.Join(t.TempDir(), "out.bin")
	err := Handle(ctx, strings.NewReader("data"), -1, dest, slog.Default())
	if !errors.Is(err, ErrDownloadCancelled) {
		t.Errorf("expected ErrDownloadCancelled, got: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestHandle_SkipExisting(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "exists.txt")
	if err := os.WriteFile(dest, []byte("original"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := Handle(t.Context(), strings.NewReader("replacement"), -1, dest, slog.Default(), WithSkipExisting())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if string(got) != "original" {
		t.Errorf("existing file should be untouched, got %q", got)
	}
}

func TestOptions_Validation(t *testing.T) {
	var opts options
	if err := WithChecksum(nil, "abc")(&opts); err == nil {
		t.Error("expected error for nil hash")
	}
	if err := WithChecksum(sha256.New(), "")(&opts); err == nil {
		t.Error("expected error for empty checksum")
	}
	if err := Handle(t.Context(), strings.NewReader(""), 0, "", nil); err == nil {
		t.Error("expected error for empty destPath")
	}
}

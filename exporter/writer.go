package exporter

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/hazyhaar/docexport/filesplit"
	"github.com/hazyhaar/docexport/generate"
	"github.com/hazyhaar/docexport/schema"
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	Logger *slog.Logger

	// Now stamps file names, replaceable in tests.
	Now func() time.Time
}

// Writer serializes artifacts to the filesystem per the session's output
// options: name pattern expansion, optional gzip, and part-splitting for
// artifacts over the configured size cap.
type Writer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Writer{logger: cfg.Logger, now: cfg.Now}
}

// Write persists one result's artifact and returns the written path and
// byte size. Results without an artifact are a no-op.
func (w *Writer) Write(ctx context.Context, doc *schema.Document, result *schema.ExportResult, out schema.OutputOptions) (string, int64, error) {
	if result.Artifact == nil {
		return "", 0, nil
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	data, ext, err := serializeArtifact(result)
	if err != nil {
		return "", 0, fmt.Errorf("serialize %s artifact: %w", result.Format, err)
	}

	name := expandPattern(out.FileNamePattern, doc, result.Format, w.now())

	if out.Compression {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return "", 0, fmt.Errorf("compress artifact: %w", err)
		}
		if err := gz.Close(); err != nil {
			return "", 0, fmt.Errorf("compress artifact: %w", err)
		}
		data = buf.Bytes()
		ext += ".gz"
	}

	if err := os.MkdirAll(out.Directory, 0o755); err != nil {
		return "", 0, fmt.Errorf("create output directory: %w", err)
	}

	// Oversized artifacts become a part directory with a parts manifest
	// instead of a single file.
	if out.SplitLargeFiles && out.MaxFileSize > 0 && int64(len(data)) > out.MaxFileSize {
		partDir := filepath.Join(out.Directory, name+".parts")
		if err := os.MkdirAll(partDir, 0o755); err != nil {
			return "", 0, fmt.Errorf("create part directory: %w", err)
		}
		if _, err := filesplit.Split(data, name+ext, partDir, out.MaxFileSize); err != nil {
			return "", 0, fmt.Errorf("split artifact: %w", err)
		}
		w.logger.Info("exporter: artifact split into parts",
			"format", result.Format, "dir", partDir, "size", len(data))
		return partDir, int64(len(data)), nil
	}

	path := filepath.Join(out.Directory, name+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", 0, fmt.Errorf("write artifact: %w", err)
	}
	w.logger.Debug("exporter: artifact written",
		"format", result.Format, "path", path, "size", len(data))
	return path, int64(len(data)), nil
}

// serializeArtifact renders the artifact to bytes and picks the extension.
func serializeArtifact(result *schema.ExportResult) ([]byte, string, error) {
	switch a := result.Artifact.(type) {
	case *generate.JSONLArtifact:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, ex := range a.Examples {
			if err := enc.Encode(ex); err != nil {
				return nil, "", err
			}
		}
		return buf.Bytes(), ".jsonl", nil

	case *generate.LogArtifact:
		ext := ".md"
		switch a.Document.Render {
		case schema.LogPlain:
			ext = ".txt"
		case schema.LogJSON:
			ext = ".json"
		case schema.LogHTML:
			ext = ".html"
		}
		return []byte(a.Rendered), ext, nil

	default:
		data, err := json.MarshalIndent(result.Artifact, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return data, ".json", nil
	}
}

// expandPattern substitutes {document}, {format} and {timestamp} in the
// file name pattern.
func expandPattern(pattern string, doc *schema.Document, format schema.Format, now time.Time) string {
	docName := doc.Name
	if docName == "" {
		docName = doc.ID
	}
	r := strings.NewReplacer(
		"{document}", sanitizeFileName(docName),
		"{format}", string(format),
		"{timestamp}", now.UTC().Format("20060102T150405Z"),
	)
	return r.Replace(pattern)
}

// sanitizeFileName keeps letters, digits, dash, underscore and dot; every
// other rune becomes an underscore.
func sanitizeFileName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

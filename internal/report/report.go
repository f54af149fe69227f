// Package report persists scenario results as JSON documents, locally
// and optionally to S3.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Document is one persisted scenario result. Data carries the
// scenario-specific report verbatim.
type Document struct {
	ID          string    `json:"id"`
	Scenario    string    `json:"scenario"`
	GeneratedAt time.Time `json:"generated_at"`
	Pass        bool      `json:"pass"`
	Data        any       `json:"data"`
}

// NewDocument wraps a scenario report for persistence.
func NewDocument(scenario string, pass bool, data any) *Document {
	return &Document{
		ID:          uuid.NewString(),
		Scenario:    scenario,
		GeneratedAt: time.Now().UTC(),
		Pass:        pass,
		Data:        data,
	}
}

// Writer persists documents as pretty-printed JSON files in a
// directory, one file per document.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates a writer, creating the directory if needed.
func NewWriter(dir string, logger *zap.Logger) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("report: directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create directory: %w", err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// Write persists one document and returns its path.
func (w *Writer) Write(doc *Document) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal document: %w", err)
	}

	path := filepath.Join(w.dir, fileName(doc))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("report: write document: %w", err)
	}

	w.logger.Info("report written",
		zap.String("scenario", doc.Scenario),
		zap.Bool("pass", doc.Pass),
		zap.String("path", path))
	return path, nil
}

// fileName builds a stable, sortable name: scenario, timestamp, id.
func fileName(doc *Document) string {
	return fmt.Sprintf("%s_%s_%s.json",
		doc.Scenario,
		doc.GeneratedAt.Format("20060102T150405Z"),
		doc.ID[:8])
}

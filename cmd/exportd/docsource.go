package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/docexport/schema"
)

// fileSource serves documents from a directory of JSON files, one document
// per file, named <id>.json.
type fileSource struct {
	dir string
}

func (s *fileSource) GetDocument(ctx context.Context, id string) (*schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// IDs come from the transport layer; refuse anything that could
	// escape the documents directory.
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return nil, fmt.Errorf("invalid document id %q", id)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document %s not found", id)
		}
		return nil, fmt.Errorf("read document %s: %w", id, err)
	}

	var doc schema.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document %s: %w", id, err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return &doc, nil
}

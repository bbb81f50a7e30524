// Package filesplit splits oversized export artifacts into fixed-size part
// files plus a parts.json manifest, and reassembles them on demand.
//
// The export writer uses it when an artifact's serialized form exceeds the
// configured max file size: consumers that cannot handle a multi-hundred-MB
// JSONL file fetch the parts and reassemble locally, with per-part and
// whole-file SHA-256 verification.
package filesplit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ManifestName is the manifest file written next to the parts.
const ManifestName = "parts.json"

// PartMeta describes a single part within a manifest.
type PartMeta struct {
	Index       int    `json:"index"`
	FileName    string `json:"file_name"`
	OffsetBytes int64  `json:"offset_bytes"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256"`
}

// Manifest describes the original artifact and all its parts.
type Manifest struct {
	ArtifactName   string     `json:"artifact_name"`
	ArtifactSize   int64      `json:"artifact_size"`
	ArtifactSHA256 string     `json:"artifact_sha256"`
	PartSize       int64      `json:"part_size"`
	TotalParts     int        `json:"total_parts"`
	Parts          []PartMeta `json:"parts"`
	CreatedAt      string     `json:"created_at"`
}

// Split writes data as part files of at most partSize bytes into outDir,
// plus a parts.json manifest. partSize must be positive.
func Split(data []byte, artifactName, outDir string, partSize int64) (*Manifest, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("part size must be positive, got %d", partSize)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	total := int(int64(len(data)) / partSize)
	if int64(len(data))%partSize != 0 || len(data) == 0 {
		total++
	}

	fileHash := sha256.Sum256(data)
	manifest := &Manifest{
		ArtifactName:   artifactName,
		ArtifactSize:   int64(len(data)),
		ArtifactSHA256: hex.EncodeToString(fileHash[:]),
		PartSize:       partSize,
		TotalParts:     total,
		Parts:          make([]PartMeta, 0, total),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}

	var offset int64
	for i := 0; i < total; i++ {
		end := offset + partSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		chunk := data[offset:end]

		partHash := sha256.Sum256(chunk)
		fileName := fmt.Sprintf("part_%05d.bin", i)
		if err := os.WriteFile(filepath.Join(outDir, fileName), chunk, 0644); err != nil {
			return nil, fmt.Errorf("write part %d: %w", i, err)
		}

		manifest.Parts = append(manifest.Parts, PartMeta{
			Index:       i,
			FileName:    fileName,
			OffsetBytes: offset,
			SizeBytes:   int64(len(chunk)),
			SHA256:      hex.EncodeToString(partHash[:]),
		})
		offset = end
	}

	mData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, ManifestName), mData, 0644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

// LoadManifest reads and parses the parts.json in dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Assemble reads parts from dir using its manifest, verifies every part
// hash and the whole-artifact hash, and returns the reassembled bytes.
func Assemble(dir string) ([]byte, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	sorted := make([]PartMeta, len(m.Parts))
	copy(sorted, m.Parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	out := make([]byte, 0, m.ArtifactSize)
	for _, pm := range sorted {
		data, err := os.ReadFile(filepath.Join(dir, pm.FileName))
		if err != nil {
			return nil, fmt.Errorf("read part %d: %w", pm.Index, err)
		}
		h := sha256.Sum256(data)
		if hex.EncodeToString(h[:]) != pm.SHA256 {
			return nil, fmt.Errorf("part %d: checksum mismatch", pm.Index)
		}
		out = append(out, data...)
	}

	h := sha256.Sum256(out)
	if hex.EncodeToString(h[:]) != m.ArtifactSHA256 {
		return nil, fmt.Errorf("artifact checksum mismatch after assembly")
	}
	return out, nil
}

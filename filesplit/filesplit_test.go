package filesplit

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

func randomData(t *testing.T, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSplit_And_Assemble(t *testing.T) {
	tmpDir := t.TempDir()
	data := randomData(t, 25*1024)

	manifest, err := Split(data, "chunks.jsonl", tmpDir, 10*1024)
	if err != nil {
		t.Fatal(err)
	}

	if manifest.TotalParts != 3 {
		t.Fatalf("parts: got %d, want 3", manifest.TotalParts)
	}
	if manifest.ArtifactSize != 25*1024 {
		t.Fatalf("size: got %d", manifest.ArtifactSize)
	}
	if manifest.ArtifactName != "chunks.jsonl" {
		t.Fatalf("name: got %q", manifest.ArtifactName)
	}

	assembled, err := Assemble(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, assembled) {
		t.Fatal("assembled bytes differ from original")
	}
}

func TestSplit_ExactMultiple(t *testing.T) {
	tmpDir := t.TempDir()
	data := randomData(t, 20*1024)

	manifest, err := Split(data, "a.json", tmpDir, 10*1024)
	if err != nil {
		t.Fatal(err)
	}
	if manifest.TotalParts != 2 {
		t.Fatalf("parts: got %d, want 2", manifest.TotalParts)
	}
	for i, pm := range manifest.Parts {
		if pm.SizeBytes != 10*1024 {
			t.Errorf("part %d: size %d, want %d", i, pm.SizeBytes, 10*1024)
		}
	}
}

func TestSplit_Empty(t *testing.T) {
	tmpDir := t.TempDir()
	manifest, err := Split(nil, "empty.json", tmpDir, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if manifest.TotalParts != 1 {
		t.Fatalf("parts: got %d, want 1", manifest.TotalParts)
	}
}

func TestAssemble_CorruptPart(t *testing.T) {
	tmpDir := t.TempDir()
	data := randomData(t, 8*1024)
	if _, err := Split(data, "b.json", tmpDir, 4*1024); err != nil {
		t.Fatal(err)
	}

	// Flip a byte in the first part.
	partPath := filepath.Join(tmpDir, "part_00000.bin")
	raw, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] ^= 0xFF
	if err := os.WriteFile(partPath, raw, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Assemble(tmpDir); err == nil {
		t.Fatal("expected checksum error, got nil")
	}
}

func TestSplit_InvalidPartSize(t *testing.T) {
	if _, err := Split([]byte("x"), "c.json", t.TempDir(), 0); err == nil {
		t.Fatal("expected error for zero part size")
	}
}

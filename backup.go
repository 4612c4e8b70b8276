package corestore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	natomic "github.com/natefinch/atomic"
)

// archiveManifest describes one exported segment-archive's contents:
// the source directory's sealed segments, each compressed and
// ascii85-encoded via compress.go so the whole archive is a single
// printable JSON document.
type archiveManifest struct {
	FormatVersion int                `json:"format_version"`
	HashAlgorithm int                `json:"hash_algorithm"`
	Segments      []archiveSegment   `json:"segments"`
}

type archiveSegment struct {
	ID      string `json:"id"`
	Payload string `json:"payload"` // compress(raw segment bytes)
}

const archiveFormatVersion = 1

// ExportArchive reads every sealed segment this Database's storage
// currently holds, compresses each, and writes one JSON manifest to
// destPath via an atomic rename (so a reader never observes a
// half-written archive).
func (db *Database) ExportArchive(destPath string) error {
	sealed := db.storage.Sealed()
	manifest := archiveManifest{
		FormatVersion: archiveFormatVersion,
		HashAlgorithm: db.cfg.HashAlgorithm,
		Segments:      make([]archiveSegment, 0, len(sealed)),
	}

	for _, seg := range sealed {
		raw, err := os.ReadFile(seg.Path())
		if err != nil {
			return err
		}
		manifest.Segments = append(manifest.Segments, archiveSegment{
			ID:      seg.ID.String(),
			Payload: compress(raw),
		})
	}

	encoded, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	return natomic.WriteFile(destPath, bytes.NewReader(encoded))
}

// ImportArchive decodes an archive written by ExportArchive and writes
// each contained segment's bytes into segDir, skipping any whose file
// already exists (treated as already-imported rather than an error, so
// retrying a partially-applied import is safe). It does not touch the
// live SegmentStorage; callers reopen storage afterward to pick up the
// new files.
func ImportArchive(archivePath, segDir string) (int, error) {
	raw, err := os.ReadFile(archivePath)
	if err != nil {
		return 0, err
	}
	var manifest archiveManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return 0, err
	}
	if manifest.FormatVersion > archiveFormatVersion {
		return 0, ErrUnsupportedSchema
	}

	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return 0, err
	}

	imported := 0
	for _, seg := range manifest.Segments {
		path := filepath.Join(segDir, seg.ID+".seg")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		raw, err := decompress(seg.Payload)
		if err != nil {
			return imported, fmt.Errorf("segment %s: %w", seg.ID, err)
		}
		if err := natomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

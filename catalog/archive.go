package catalog

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"strings"

	rardecode "github.com/nwaples/rardecode/v2"

	"outfit_vault/imaging"
)

const (
	defaultMaxArchiveBytes int64 = 200 * 1024 * 1024 // 200 MiB upper guard
	archiveFormatZip             = "zip"
	archiveFormatRar             = "rar"
)

// ArchiveImportResult reports what a bulk photo import did.
type ArchiveImportResult struct {
	Imported int           `json:"imported"`
	IDs      []string      `json:"ids"`
	Skipped  []ArchiveSkip `json:"skipped,omitempty"`
}

// ArchiveSkip names one archive entry the import left out and why.
type ArchiveSkip struct {
	Entry  string `json:"entry"`
	Reason string `json:"reason"`
}

func (r *ArchiveImportResult) skip(entry, reason string) {
	r.Skipped = append(r.Skipped, ArchiveSkip{Entry: entry, Reason: reason})
}

// ImportArchive walks a zip or rar archive and stores every readable image
// entry as a fresh outfit. Unusable entries are skipped one by one; only a
// broken archive fails the whole import.
func (m *Module) ImportArchive(ctx context.Context, fileHeader *multipart.FileHeader) (*ArchiveImportResult, error) {
	if fileHeader == nil {
		return nil, errors.New("catalog: archive file not provided")
	}
	if fileHeader.Size > 0 && fileHeader.Size > m.maxArchiveBytes {
		return nil, fmt.Errorf("catalog: archive size exceeds %d bytes", m.maxArchiveBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("catalog: open archive: %w", err)
	}
	defer src.Close()

	tmpFile, err := os.CreateTemp("", "outfit-archive-*")
	if err != nil {
		return nil, fmt.Errorf("catalog: create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	written, err := io.Copy(tmpFile, io.LimitReader(src, m.maxArchiveBytes+1))
	if err != nil {
		return nil, fmt.Errorf("catalog: copy archive: %w", err)
	}
	if written > m.maxArchiveBytes {
		return nil, fmt.Errorf("catalog: archive size exceeds %d bytes", m.maxArchiveBytes)
	}

	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("catalog: rewind temp file: %w", err)
	}
	format, err := detectArchiveFormat(tmpFile, fileHeader.Filename)
	if err != nil {
		return nil, err
	}

	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("catalog: rewind temp file: %w", err)
	}
	stat, err := tmpFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("catalog: stat temp file: %w", err)
	}

	result := &ArchiveImportResult{IDs: []string{}}
	switch format {
	case archiveFormatZip:
		err = m.importZipEntries(ctx, tmpFile, stat.Size(), result)
	case archiveFormatRar:
		err = m.importRarEntries(ctx, tmpFile.Name(), result)
	default:
		err = errors.New("catalog: unsupported archive format")
	}
	if err != nil {
		return nil, err
	}

	if result.Imported == 0 && len(result.Skipped) == 0 {
		return nil, errors.New("catalog: archive contains no images")
	}

	if result.Imported > 0 {
		if err := m.refresh(ctx); err != nil {
			return nil, err
		}
		m.notify("outfits.imported", result.IDs...)
	}
	return result, nil
}

func (m *Module) importZipEntries(ctx context.Context, tmpFile *os.File, size int64, result *ArchiveImportResult) error {
	reader, err := zip.NewReader(tmpFile, size)
	if err != nil {
		return fmt.Errorf("catalog: parse zip archive: %w", err)
	}

	for _, file := range reader.File {
		name := sanitizeArchiveEntry(file.Name)
		if name == "" || file.FileInfo().IsDir() || !isImageEntry(name) {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			result.skip(name, "unreadable entry")
			continue
		}
		payload, err := readEntry(rc, m.maxUploadBytes)
		rc.Close()
		if err != nil {
			result.skip(name, err.Error())
			continue
		}

		m.storeArchiveEntry(ctx, name, payload, result)
	}
	return nil
}

func (m *Module) importRarEntries(ctx context.Context, tmpPath string, result *ArchiveImportResult) error {
	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("catalog: reopen temp archive: %w", err)
	}
	defer f.Close()

	rr, err := rardecode.NewReader(f)
	if err != nil {
		return fmt.Errorf("catalog: parse rar archive: %w", err)
	}

	for {
		header, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("catalog: read rar entry: %w", err)
		}

		name := sanitizeArchiveEntry(header.Name)
		if name == "" || header.IsDir || !isImageEntry(name) {
			continue
		}

		payload, err := readEntry(rr, m.maxUploadBytes)
		if err != nil {
			result.skip(name, err.Error())
			continue
		}

		m.storeArchiveEntry(ctx, name, payload, result)
	}
	return nil
}

func (m *Module) storeArchiveEntry(ctx context.Context, entryName string, payload []byte, result *ArchiveImportResult) {
	normalized := imaging.Normalize(payload, m.maxImageDim)

	outfit, err := NewOutfit(OutfitParams{
		Name:      nameFromEntry(entryName),
		Image:     normalized,
		ImageMime: imaging.Sniff(normalized),
	})
	if err != nil {
		result.skip(entryName, err.Error())
		return
	}

	if err := m.store.Add(ctx, outfit); err != nil {
		result.skip(entryName, "could not store entry")
		return
	}

	result.Imported++
	result.IDs = append(result.IDs, outfit.ID)
}

// readEntry copies one archive entry into memory under the photo size limit.
func readEntry(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	written, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.New("read failed")
	}
	if written > limit {
		return nil, errors.New("entry exceeds photo size limit")
	}
	if written == 0 {
		return nil, errors.New("empty entry")
	}
	return buf.Bytes(), nil
}

// detectArchiveFormat sniffs the archive kind from the filename extension and
// the leading magic bytes.
func detectArchiveFormat(file *os.File, originalName string) (string, error) {
	ext := strings.ToLower(strings.TrimSpace(path.Ext(originalName)))
	switch ext {
	case ".zip":
		return archiveFormatZip, nil
	case ".rar":
		return archiveFormatRar, nil
	}

	var header [8]byte
	n, err := file.ReadAt(header[:], 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("catalog: read archive header: %w", err)
	}
	headerSlice := header[:n]

	if len(headerSlice) >= 2 && headerSlice[0] == 0x50 && headerSlice[1] == 0x4b {
		return archiveFormatZip, nil
	}
	if len(headerSlice) >= 6 && bytes.Equal(headerSlice[:6], []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07}) {
		return archiveFormatRar, nil
	}

	if ext != "" {
		return "", fmt.Errorf("catalog: unsupported archive format %q", ext)
	}
	return "", errors.New("catalog: unsupported archive format, only .zip and .rar are accepted")
}

// sanitizeArchiveEntry normalizes an entry path and filters out archive junk
// like macOS metadata and traversal entries.
func sanitizeArchiveEntry(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	normalized := strings.ReplaceAll(trimmed, "\\", "/")
	normalized = path.Clean(normalized)
	normalized = strings.TrimPrefix(normalized, "./")
	if normalized == "." || normalized == "" {
		return ""
	}
	if strings.HasPrefix(normalized, "../") {
		return ""
	}

	lower := strings.ToLower(normalized)
	if strings.HasPrefix(lower, "__macosx/") {
		return ""
	}
	if strings.HasPrefix(path.Base(lower), "._") {
		return ""
	}
	return normalized
}

func isImageEntry(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff":
		return true
	default:
		return false
	}
}

// nameFromEntry derives a display name from the entry's file stem.
func nameFromEntry(entry string) string {
	base := path.Base(entry)
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		base = base[:idx]
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}

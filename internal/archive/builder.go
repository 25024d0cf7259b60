// Package archive packages purchased design files into a single zip
// artifact for chat delivery, grouping entries by product and enforcing
// the platform transport size ceiling.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// MaxArchiveBytes is the transport ceiling for a single delivered artifact.
const MaxArchiveBytes int64 = 50 * 1024 * 1024

// fallbackGroupName is used when a product title sanitizes to nothing.
const fallbackGroupName = "files"

// Group is an ordered set of source file paths belonging to one product.
type Group struct {
	Title string
	Paths []string
}

// Builder writes order archives into a working directory.
type Builder struct {
	logger   *slog.Logger
	dir      string
	maxBytes int64
	now      func() time.Time
}

// NewBuilder creates a Builder writing into dir. An empty dir falls back
// to the system temp directory; maxBytes <= 0 falls back to MaxArchiveBytes.
func NewBuilder(log *slog.Logger, dir string, maxBytes int64) *Builder {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if maxBytes <= 0 {
		maxBytes = MaxArchiveBytes
	}
	return &Builder{
		logger:   log.With(slog.String("service", "archive")),
		dir:      dir,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Build creates a zip archive for the given order containing every group's
// files. With more than one group each file is placed under a folder named
// after its sanitized product title; a single group is written flat at the
// archive root. Source files that no longer exist are skipped. On any
// failure path the partially written artifact is removed before returning.
func (b *Builder) Build(orderID int64, groups []Group) (string, error) {
	name := fmt.Sprintf("order_%d_files_%d.zip", orderID, b.now().UnixNano())
	path := filepath.Join(b.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	entries, err := b.writeEntries(file, orderID, groups)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close archive: %w", err)
	}
	if entries == 0 {
		_ = os.Remove(path)
		return "", ErrNoEntries
	}

	info, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("stat archive: %w", err)
	}
	if info.Size() > b.maxBytes {
		_ = os.Remove(path)
		b.logger.Error("archive exceeds size limit",
			slog.Int64("order_id", orderID),
			slog.Int64("size", info.Size()),
			slog.Int64("max", b.maxBytes))
		return "", fmt.Errorf("%w: %d bytes, max %d", ErrArchiveTooLarge, info.Size(), b.maxBytes)
	}
	return path, nil
}

func (b *Builder) writeEntries(file *os.File, orderID int64, groups []Group) (int, error) {
	zw := zip.NewWriter(file)
	nested := len(groups) > 1
	entries := 0
	used := map[string]bool{}
	for _, group := range groups {
		folder := SanitizeTitle(group.Title)
		for _, src := range group.Paths {
			if _, err := os.Stat(src); err != nil {
				// A missing source file must not fail the whole delivery.
				b.logger.Warn("skip missing source file",
					slog.Int64("order_id", orderID),
					slog.String("path", src),
					slog.Any("error", err))
				continue
			}
			entryName := filepath.Base(src)
			if nested {
				entryName = folder + "/" + entryName
			}
			entryName = uniqueEntryName(used, entryName)
			if err := copyEntry(zw, entryName, src); err != nil {
				return entries, fmt.Errorf("write entry %s: %w", entryName, err)
			}
			entries++
		}
	}
	if err := zw.Close(); err != nil {
		return entries, fmt.Errorf("close zip writer: %w", err)
	}
	return entries, nil
}

func copyEntry(zw *zip.Writer, entryName, src string) error {
	reader, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()
	writer, err := zw.Create(entryName)
	if err != nil {
		return err
	}
	_, err = io.Copy(writer, reader)
	return err
}

// uniqueEntryName deduplicates colliding entry names by inserting a
// counter before the extension.
func uniqueEntryName(used map[string]bool, name string) string {
	if !used[name] {
		used[name] = true
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeTitle converts a product title into a safe folder name: keeps
// letters in any script, digits, spaces, '-', '_' and '.', trims, then
// collapses whitespace runs into single underscores. Titles that sanitize
// to nothing fall back to a generic name.
func SanitizeTitle(title string) string {
	var sb strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		case r == '-' || r == '_' || r == '.':
			sb.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(sb.String())
	cleaned = whitespaceRun.ReplaceAllString(cleaned, "_")
	if cleaned == "" {
		return fallbackGroupName
	}
	return cleaned
}

package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Attachment describes a file saved by SaveAttachment.
type Attachment struct {
	Name     string
	Path     string
	MimeType string
}

// SaveAttachment streams r into dir under a timestamp-prefixed copy of name.
// A name without extension gets one from the sniffed content.
func SaveAttachment(dir, name string, r io.Reader) (*Attachment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachments directory: %w", err)
	}

	clean := unsafeName.ReplaceAllString(filepath.Base(name), "_")
	clean = strings.Trim(clean, "._")
	if clean == "" {
		clean = "file"
	}
	localPath := filepath.Join(dir, GenerateTimestampPrefix()+clean)

	out, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(localPath)
		return nil, fmt.Errorf("failed to save attachment: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to save attachment: %w", err)
	}

	mimeType, ext := DetectFileMimeAndExt(localPath)
	if filepath.Ext(localPath) == "" {
		if err := os.Rename(localPath, localPath+ext); err == nil {
			localPath += ext
		}
	}
	return &Attachment{Name: name, Path: localPath, MimeType: mimeType}, nil
}

// PruneAttachments removes files in dir whose timestamp prefix is older
// than maxAge and returns how many were removed.
func PruneAttachments(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !IsOlderThan(e.Name(), maxAge) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// SplitRunes cuts s into chunks of at most limit runes.
func SplitRunes(s string, limit int) []string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return []string{s}
	}
	chunks := make([]string, 0, len(runes)/limit+1)
	for i := 0; i < len(runes); i += limit {
		end := min(i+limit, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

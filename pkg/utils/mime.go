package utils

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// audioTypes covers voice formats the sniffer reports as application/ogg or
// octet-stream.
var audioTypes = map[string]string{
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".flac": "audio/flac",
}

// DetectFileMimeAndExt determines the MIME type of a file on disk, trusting
// a known extension first and sniffing the content otherwise.
func DetectFileMimeAndExt(filePath string) (string, string) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if mt, ok := audioTypes[ext]; ok {
		return mt, ext
	}

	mimeType := "application/octet-stream"
	if f, err := os.Open(filePath); err == nil {
		defer f.Close()
		buffer := make([]byte, 512)
		if n, err := f.Read(buffer); err == nil && n > 0 {
			mimeType = http.DetectContentType(buffer[:n])
		}
	}
	if mimeType == "application/ogg" {
		mimeType = "audio/ogg"
	}
	if ext == "" {
		ext = mimeToExt(mimeType)
	}
	return mimeType, ext
}

// DetectMimeAndExt analyzes a byte slice to determine both its MIME type and standard extension.
func DetectMimeAndExt(data []byte) (string, string) {
	mimeType := "application/octet-stream"
	if len(data) > 0 {
		mimeType = http.DetectContentType(data)
	}
	return mimeType, mimeToExt(mimeType)
}

// mimeToExt converts a MIME type to its first standard extension, defaulting to ".bin".
func mimeToExt(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	if base == "audio/ogg" {
		return ".ogg"
	}
	exts, err := mime.ExtensionsByType(base)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

package utils

import (
	"mime"
	"net/http"
	"os"
)

// DetectFileMimeAndExt sniffs a file on disk for its MIME type and a
// matching extension, defaulting to ("application/octet-stream", ".png").
func DetectFileMimeAndExt(filePath string) (string, string) {
	mimeType := "application/octet-stream"
	if f, err := os.Open(filePath); err == nil {
		defer f.Close()
		buffer := make([]byte, 512)
		if n, err := f.Read(buffer); err == nil && n > 0 {
			mimeType = http.DetectContentType(buffer[:n])
		}
	}
	return mimeType, mimeToExt(mimeType)
}

// DetectMimeAndExt sniffs a byte slice the same way.
func DetectMimeAndExt(data []byte) (string, string) {
	mimeType := "application/octet-stream"
	if len(data) > 0 {
		mimeType = http.DetectContentType(data)
	}
	return mimeType, mimeToExt(mimeType)
}

func mimeToExt(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".png"
	}
	return exts[0]
}

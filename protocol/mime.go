package protocol

import "strings"

// DefaultMIME is served for every extension not in the table
const DefaultMIME = "application/octet-stream"

var mimeTypes = map[string]string{
	"html": "text/html",
	"htm":  "text/html",
	"txt":  "text/plain",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// ResolveMIME maps a file extension (without the dot) to a content type.
// Matching is case-insensitive.
func ResolveMIME(ext string) string {
	if mime, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mime
	}
	return DefaultMIME
}

// Extension returns the part of path after its last dot. It is empty when
// path has no dot or the only dot is its first byte.
func Extension(path string) string {
	dot := strings.LastIndexByte(path, '.')
	if dot <= 0 {
		return ""
	}
	return path[dot+1:]
}

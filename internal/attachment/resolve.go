package attachment

import (
	"mime"
	"path/filepath"
	"strings"
)

const fallbackContentType = "application/octet-stream"

// extensionTypes pins common types so results do not depend on the host mime database.
var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".html": "text/html",
	".json": "application/json",
	".xml":  "application/xml",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
}

// originalFilenamer is implemented by upload sources that carry the name the
// client gave the file.
type originalFilenamer interface {
	OriginalFilename() string
}

// namer is implemented by *os.File and other path-backed sources.
type namer interface {
	Name() string
}

// ResolveName derives the display name of a source: its original filename
// when it has one, else the last path element of its name, else "".
func ResolveName(src any) string {
	if s, ok := src.(originalFilenamer); ok {
		if name := strings.TrimSpace(s.OriginalFilename()); name != "" {
			return name
		}
	}
	if s, ok := src.(namer); ok {
		name := strings.TrimSpace(s.Name())
		if name == "" {
			return ""
		}
		base := filepath.Base(name)
		if base == "." || base == string(filepath.Separator) {
			return ""
		}
		return base
	}
	return ""
}

// ResolveType picks the MIME type for an attachment: the declared type when
// given and well formed, else the type of the name's extension, else
// application/octet-stream.
func ResolveType(name, declaredType string) string {
	if declared := normalizeMediaType(declaredType); declared != "" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return fallbackContentType
	}
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := normalizeMediaType(mime.TypeByExtension(ext)); t != "" {
		return t
	}
	return fallbackContentType
}

func normalizeMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parsed))
}

package util

import (
	"mime"
	"net/http"
	"strings"
)

// SniffMimeHTTP detects the media type of b by its leading bytes.
func SniffMimeHTTP(b []byte) string {
	// JPEG: FF D8
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "image/jpeg"
	}
	// PNG
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "image/png"
	}
	if len(b) > 0 {
		return NormalizeMediaType(http.DetectContentType(b))
	}
	return "application/octet-stream"
}

// NormalizeMediaType lowercases m, drops parameters and folds the image/jpg alias.
func NormalizeMediaType(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(m); err == nil {
		m = mt
	} else if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	m = strings.ToLower(m)
	if m == "image/jpg" || m == "image/pjpeg" {
		return "image/jpeg"
	}
	return m
}

// IsImageMediaType reports whether the declared media type starts with image/.
func IsImageMediaType(m string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(m)), "image/")
}

// ImageLabel picks the MIME type written into the data URI sent to the provider.
// Types the vision APIs accept are kept; anything else falls back to image/jpeg.
func ImageLabel(declared string) string {
	m := NormalizeMediaType(declared)
	switch m {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
		return m
	}
	return "image/jpeg"
}

func MakeDataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

package classify

import (
	"mime"
	"net/http"
	"strings"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
	".bmp":  true,
	".ico":  true,
	".avif": true,
}

// IsImage reports whether p names an image by extension.
func IsImage(p string) bool {
	return imageExtensions[Ext(p)]
}

// ImageMIME returns the media type for an image path.
func ImageMIME(p string) string {
	ext := Ext(p)
	switch ext {
	case ".jpg":
		return "image/jpeg"
	case ".svg":
		return "image/svg+xml"
	case ".ico":
		return "image/x-icon"
	}
	return "image/" + strings.TrimPrefix(ext, ".")
}

// FileMIME returns the media type for a file served as bytes. The extension
// table is consulted first; otherwise head is sniffed.
func FileMIME(p string, head []byte) string {
	if t := mime.TypeByExtension(Ext(p)); t != "" {
		return t
	}
	return http.DetectContentType(head)
}

// IsBinary reports whether a content sample looks like binary data: it
// contains a NUL byte or more than 30% control characters.
func IsBinary(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}

	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sample)) > 0.3
}

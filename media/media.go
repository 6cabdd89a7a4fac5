package media

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	filetype "gopkg.in/h2non/filetype.v1"
)

// Kind is the class of media a template header can carry.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// InferKind classifies a stored attachment from its content type, falling back
// to the file extension and then to substrings of the link itself. Anything we
// can't place is treated as an image, which is what the provider accepts most
// leniently.
func InferKind(contentType string, link string) Kind {
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	if contentType != "" {
		if strings.HasPrefix(contentType, "image/") {
			return KindImage
		}
		if strings.HasPrefix(contentType, "video/") {
			return KindVideo
		}
		if strings.HasPrefix(contentType, "application/vnd.") {
			return KindDocument
		}
		// lookup resolves aliases such as application/x-pdf
		if mt := mimetype.Lookup(contentType); mt != nil && (mt.Is("application/pdf") || mt.Is("application/msword")) {
			return KindDocument
		}
	}

	// no usable content type, try the extension of the link
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(stripQuery(link))), ".")
	if ext != "" {
		if t := filetype.GetType(ext); t != filetype.Unknown {
			switch t.MIME.Type {
			case "image":
				return KindImage
			case "video":
				return KindVideo
			case "application":
				return KindDocument
			}
		}
	}

	lowered := strings.ToLower(link)
	if strings.Contains(lowered, "image") {
		return KindImage
	}
	if strings.Contains(lowered, "video") {
		return KindVideo
	}
	if strings.Contains(lowered, "document") || strings.Contains(lowered, "pdf") {
		return KindDocument
	}

	return KindImage
}

// KindFromString maps a free-form parameter kind onto a media kind, image when
// unrecognized.
func KindFromString(kind string) Kind {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "video":
		return KindVideo
	case "document":
		return KindDocument
	default:
		return KindImage
	}
}

func stripQuery(link string) string {
	if idx := strings.IndexAny(link, "?#"); idx != -1 {
		return link[:idx]
	}
	return link
}

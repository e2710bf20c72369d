package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind is the import classification of a source file.
type Kind int

const (
	KindOther Kind = iota
	KindPDF
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindImage:
		return "image"
	default:
		return "other"
	}
}

// Info contains detected file type information.
type Info struct {
	MIMEType  string
	Extension string
	Kind      Kind
}

// Detector classifies files by magic bytes, not filename.
type Detector struct{}

// New creates a new file type detector.
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type of the file at filePath.
func (d *Detector) Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	info := &Info{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
		Kind:      classify(mtype.String()),
	}

	log.Debug().Str("mime", info.MIMEType).Str("kind", info.Kind.String()).Str("file", filePath).Msg("detected file type")
	return info, nil
}

// classify maps a MIME type onto the import pipeline's three groups.
// Anything that is neither a PDF nor a decodable raster image is
// discarded by the pipeline.
func classify(mimeType string) Kind {
	switch {
	case mimeType == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	default:
		return KindOther
	}
}

package pdfgen

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	fitz "github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/docvault/internal/naming"
	"github.com/local/docvault/internal/raster"
)

// ErrEmptyDocument is returned when an operation would produce a document
// with no pages. No file is written in that case, so nothing empty can ever
// reach the catalog.
var ErrEmptyDocument = errors.New("document would have no pages")

// Options configures an Engine.
type Options struct {
	Dir          string
	ThumbMaxSide int
	JPEGQuality  int
}

// Engine builds, merges and previews PDF documents inside one managed
// storage directory. It is the only writer to that directory: name
// resolution and file creation happen under a single directory-scoped lock,
// so concurrent batch items cannot race to the same resolved name.
type Engine struct {
	dir          string
	thumbMaxSide int
	jpegQuality  int

	mu sync.Mutex
}

// New creates an Engine rooted at opts.Dir, creating the directory if needed.
func New(opts Options) (*Engine, error) {
	if opts.Dir == "" {
		return nil, errors.New("pdfgen: storage dir required")
	}
	if opts.ThumbMaxSide <= 0 {
		opts.ThumbMaxSide = 120
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 70
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Engine{dir: opts.Dir, thumbMaxSide: opts.ThumbMaxSide, jpegQuality: opts.JPEGQuality}, nil
}

// Dir returns the managed storage directory.
func (e *Engine) Dir() string { return e.dir }

// Path resolves a file reference (a bare filename within managed storage)
// to an absolute path. References never persist absolute paths.
func (e *Engine) Path(ref string) string {
	return filepath.Join(e.dir, filepath.Base(ref))
}

// CreateFromRasters builds a new PDF with one page per raster, in input
// order, under a resolver-allocated unique name, and returns its file
// reference. An empty raster sequence yields ErrEmptyDocument.
func (e *Engine) CreateFromRasters(rasters []*image.RGBA, name string) (string, error) {
	if len(rasters) == 0 {
		return "", ErrEmptyDocument
	}

	tmpDir, err := os.MkdirTemp("", "docvault-pages-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pageFiles := make([]string, 0, len(rasters))
	for i, img := range rasters {
		data, err := raster.EncodeJPEG(img, e.jpegQuality)
		if err != nil {
			return "", fmt.Errorf("encode page %d: %w", i, err)
		}
		p := filepath.Join(tmpDir, fmt.Sprintf("page_%04d.jpg", i))
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return "", fmt.Errorf("write page %d: %w", i, err)
		}
		pageFiles = append(pageFiles, p)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ref := naming.Resolve(e.dir, name, ".pdf")
	out := e.Path(ref)
	if err := api.ImportImagesFile(pageFiles, out, nil, nil); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("build pdf: %w", err)
	}
	log.Info().Str("file", ref).Int("pages", len(rasters)).Msg("created pdf from rasters")
	return ref, nil
}

// Merge concatenates the pages of the given documents in argument order
// into a new document. Sources that fail validation are skipped; if no
// source is usable the merge yields ErrEmptyDocument and writes nothing.
func (e *Engine) Merge(refs []string, outputName string) (string, error) {
	usable := make([]string, 0, len(refs))
	for _, ref := range refs {
		p := e.Path(ref)
		if err := api.ValidateFile(p, nil); err != nil {
			log.Warn().Err(err).Str("file", ref).Msg("merge source skipped")
			continue
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return "", ErrEmptyDocument
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ref := naming.Resolve(e.dir, outputName, ".pdf")
	out := e.Path(ref)
	if err := api.MergeCreateFile(usable, out, false, nil); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("merge pdfs: %w", err)
	}
	log.Info().Str("file", ref).Int("sources", len(usable)).Msg("merged pdfs")
	return ref, nil
}

// StoreCopy copies the PDF at srcPath into managed storage under a unique
// name derived from base and returns the new file reference.
func (e *Engine) StoreCopy(srcPath, base string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	ref := naming.Resolve(e.dir, base, ".pdf")
	dst, err := os.OpenFile(e.Path(ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("copy pdf: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("close destination: %w", err)
	}
	return ref, nil
}

// Thumbnail renders the document's first page scaled to fit maxSide on its
// longer edge and returns JPEG bytes. Documents without pages or that fail
// to open yield an error; callers treat that as an absent thumbnail.
// Pure read; safe concurrently with other reads of the same file.
func (e *Engine) Thumbnail(ref string, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		maxSide = e.thumbMaxSide
	}
	doc, err := fitz.New(e.Path(ref))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, ErrEmptyDocument
	}
	img, err := doc.ImageDPI(0, 72)
	if err != nil {
		return nil, fmt.Errorf("render first page: %w", err)
	}
	return raster.EncodeJPEG(raster.Flatten(img, maxSide), e.jpegQuality)
}

// PageCount returns the number of pages in the referenced document.
func (e *Engine) PageCount(ref string) (int, error) {
	n, err := api.PageCountFile(e.Path(ref))
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// RemovePage rewrites the referenced document in place without the page at
// the given zero-based index.
func (e *Engine) RemovePage(ref string, index int) error {
	n, err := e.PageCount(ref)
	if err != nil {
		return err
	}
	if index < 0 || index >= n {
		return fmt.Errorf("page index %d out of range [0,%d)", index, n)
	}
	if n == 1 {
		// A zero-page PDF is not writable; the caller deletes the whole
		// document instead.
		return ErrEmptyDocument
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := api.RemovePagesFile(e.Path(ref), "", []string{strconv.Itoa(index + 1)}, nil); err != nil {
		return fmt.Errorf("remove page: %w", err)
	}
	log.Info().Str("file", ref).Int("page", index).Msg("page removed")
	return nil
}

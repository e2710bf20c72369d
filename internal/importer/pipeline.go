package importer

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/docvault/internal/fetch"
	"github.com/local/docvault/internal/filetype"
	"github.com/local/docvault/internal/metrics"
	"github.com/local/docvault/internal/pdfgen"
	"github.com/local/docvault/internal/raster"
)

// Item is one classified import source, materialized to a local path.
type Item struct {
	Ref  string // the caller's source reference
	Path string // local path (possibly a temp download)
	Base string // default display name, derived from the source filename

	cleanup func()
}

// Batch is the outcome of classifying a set of sources. Sources that are
// neither PDFs nor images are discarded during classification.
type Batch struct {
	PDFs   []Item
	Images []Item
}

// Close removes any temp files downloaded during classification.
func (b *Batch) Close() {
	for _, it := range append(append([]Item{}, b.PDFs...), b.Images...) {
		if it.cleanup != nil {
			it.cleanup()
		}
	}
}

// Options configures a Pipeline.
type Options struct {
	Concurrency  int
	ImageMaxSide int
}

// Pipeline classifies import batches and converts them into managed
// storage files with bounded concurrency. Per-item failures drop only that
// item; a batch degrades rather than aborts.
type Pipeline struct {
	det          *filetype.Detector
	eng          *pdfgen.Engine
	concurrency  int
	imageMaxSide int
}

// New creates a Pipeline over the given detector and engine.
func New(det *filetype.Detector, eng *pdfgen.Engine, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ImageMaxSide <= 0 {
		opts.ImageMaxSide = 3000
	}
	return &Pipeline{det: det, eng: eng, concurrency: opts.Concurrency, imageMaxSide: opts.ImageMaxSide}
}

// Classify resolves each source to a local file and partitions the batch by
// content type. The caller must Close the returned batch after importing.
func (p *Pipeline) Classify(ctx context.Context, sources []string) (*Batch, error) {
	b := &Batch{}
	for _, ref := range sources {
		if err := ctx.Err(); err != nil {
			b.Close()
			return nil, err
		}

		path, cleanup, err := fetch.Localize(ctx, ref)
		if err != nil {
			log.Warn().Err(err).Str("source", ref).Msg("source unavailable; dropped from batch")
			metrics.IncImportItem("other", "failed")
			continue
		}
		info, err := p.det.Detect(path)
		if err != nil {
			log.Warn().Err(err).Str("source", ref).Msg("type detection failed; dropped from batch")
			metrics.IncImportItem("other", "failed")
			cleanup()
			continue
		}

		item := Item{Ref: ref, Path: path, Base: fetch.BaseName(ref), cleanup: cleanup}
		switch info.Kind {
		case filetype.KindPDF:
			b.PDFs = append(b.PDFs, item)
		case filetype.KindImage:
			b.Images = append(b.Images, item)
		default:
			log.Debug().Str("source", ref).Str("mime", info.MIMEType).Msg("unsupported source discarded")
			metrics.IncImportItem("other", "discarded")
			cleanup()
		}
	}
	return b, nil
}

// Import converts a classified batch: PDFs are copied into managed storage
// under unique names, images become new PDF documents, either one combined
// document or one per image. All per-item work runs concurrently under the
// pipeline's limit and joins before returning; the result holds only the
// successful items, PDF copies first, then image-derived conversions, each
// group in completion order.
func (p *Pipeline) Import(ctx context.Context, b *Batch, combineImagesIntoOne bool) []string {
	var (
		mu      sync.Mutex
		pdfRefs []string
		imgRefs []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, it := range b.PDFs {
		it := it
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			ref, err := p.eng.StoreCopy(it.Path, it.Base)
			if err != nil {
				log.Warn().Err(err).Str("source", it.Ref).Msg("pdf copy failed; dropped from batch")
				metrics.IncImportItem("pdf", "failed")
				return nil
			}
			metrics.IncImportItem("pdf", "ok")
			mu.Lock()
			pdfRefs = append(pdfRefs, ref)
			mu.Unlock()
			return nil
		})
	}

	if combineImagesIntoOne {
		p.importImagesCombined(gctx, g, b.Images, &mu, &imgRefs)
	} else {
		p.importImagesIndependent(gctx, g, b.Images, &mu, &imgRefs)
	}

	_ = g.Wait()
	return append(pdfRefs, imgRefs...)
}

// ImportSources is Classify followed by Import with batch cleanup.
func (p *Pipeline) ImportSources(ctx context.Context, sources []string, combineImagesIntoOne bool) ([]string, error) {
	b, err := p.Classify(ctx, sources)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	return p.Import(ctx, b, combineImagesIntoOne), nil
}

// importImagesCombined normalizes every image concurrently, then builds a
// single document from the survivors in input order.
func (p *Pipeline) importImagesCombined(ctx context.Context, g *errgroup.Group, items []Item, mu *sync.Mutex, out *[]string) {
	if len(items) == 0 {
		return
	}
	rasters := make([]*image.RGBA, len(items))

	ng, nctx := errgroup.WithContext(ctx)
	ng.SetLimit(p.concurrency)
	for i, it := range items {
		i, it := i, it
		ng.Go(func() error {
			if nctx.Err() != nil {
				return nil
			}
			r := p.normalizeItem(it)
			rasters[i] = r // nil slot for a dropped item
			return nil
		})
	}
	_ = ng.Wait()

	ordered := make([]*image.RGBA, 0, len(rasters))
	for _, r := range rasters {
		if r != nil {
			ordered = append(ordered, r)
		}
	}

	name := items[0].Base
	g.Go(func() error {
		ref, err := p.eng.CreateFromRasters(ordered, name)
		if err != nil {
			// Fully undecodable batch produces nothing, not a failure.
			log.Warn().Err(err).Int("images", len(items)).Msg("combined image conversion produced no document")
			return nil
		}
		for range ordered {
			metrics.IncImportItem("image", "ok")
		}
		mu.Lock()
		*out = append(*out, ref)
		mu.Unlock()
		return nil
	})
}

// importImagesIndependent converts each image to its own document.
func (p *Pipeline) importImagesIndependent(ctx context.Context, g *errgroup.Group, items []Item, mu *sync.Mutex, out *[]string) {
	for _, it := range items {
		it := it
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r := p.normalizeItem(it)
			if r == nil {
				return nil
			}
			ref, err := p.eng.CreateFromRasters([]*image.RGBA{r}, it.Base)
			if err != nil {
				log.Warn().Err(err).Str("source", it.Ref).Msg("image conversion failed; dropped from batch")
				metrics.IncImportItem("image", "failed")
				return nil
			}
			metrics.IncImportItem("image", "ok")
			mu.Lock()
			*out = append(*out, ref)
			mu.Unlock()
			return nil
		})
	}
}

// normalizeItem decodes and normalizes one image source; undecodable
// sources are logged and dropped.
func (p *Pipeline) normalizeItem(it Item) *image.RGBA {
	f, err := os.Open(it.Path)
	if err != nil {
		log.Warn().Err(err).Str("source", it.Ref).Msg("image unreadable; dropped from batch")
		metrics.IncImportItem("image", "failed")
		return nil
	}
	defer f.Close()

	r, err := raster.Normalize(f, p.imageMaxSide)
	if err != nil {
		log.Warn().Err(err).Str("source", it.Ref).Msg("image undecodable; dropped from batch")
		metrics.IncImportItem("image", "failed")
		return nil
	}
	return r
}

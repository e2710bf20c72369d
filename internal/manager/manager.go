package manager

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/docvault/internal/catalog"
	"github.com/local/docvault/internal/importer"
	"github.com/local/docvault/internal/metrics"
	"github.com/local/docvault/internal/pageedit"
	"github.com/local/docvault/internal/pdfgen"
)

// ErrSelectionTooSmall is returned by MergeSelected when fewer than two
// documents are selected.
var ErrSelectionTooSmall = errors.New("merge requires at least two selected documents")

// Options configures a Manager.
type Options struct {
	Concurrency  int
	ThumbMaxSide int
}

// Manager composes the import pipeline, the generation engine and the
// catalog into the operations the presentation layer calls. It owns the
// transient selection set and the batch-edit toggle; neither is persisted.
type Manager struct {
	store *catalog.Store
	eng   *pdfgen.Engine
	pipe  *importer.Pipeline

	concurrency  int
	thumbMaxSide int

	mu        sync.Mutex
	selecting bool
	selection []string // toggle order, which is also merge order
	selected  map[string]struct{}
}

// New creates a Manager over the given collaborators.
func New(store *catalog.Store, eng *pdfgen.Engine, pipe *importer.Pipeline, opts Options) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ThumbMaxSide <= 0 {
		opts.ThumbMaxSide = 120
	}
	return &Manager{
		store:        store,
		eng:          eng,
		pipe:         pipe,
		concurrency:  opts.Concurrency,
		thumbMaxSide: opts.ThumbMaxSide,
		selected:     map[string]struct{}{},
	}
}

// List returns the catalog, newest first.
func (m *Manager) List(ctx context.Context) ([]catalog.Document, error) {
	return m.store.ListAll(ctx)
}

// Get returns a single catalog record.
func (m *Manager) Get(ctx context.Context, id string) (catalog.Document, error) {
	return m.store.Get(ctx, id)
}

// SetSelecting toggles batch-edit mode. Leaving it clears the selection.
func (m *Manager) SetSelecting(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selecting = on
	if !on {
		m.clearSelectionLocked()
	}
}

// Selecting reports whether batch-edit mode is active.
func (m *Manager) Selecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selecting
}

// ToggleSelection adds or removes a document from the selection set.
func (m *Manager) ToggleSelection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.selected[id]; ok {
		delete(m.selected, id)
		for i, v := range m.selection {
			if v == id {
				m.selection = append(m.selection[:i], m.selection[i+1:]...)
				break
			}
		}
		return
	}
	m.selected[id] = struct{}{}
	m.selection = append(m.selection, id)
}

// Selection returns the selected ids in toggle order.
func (m *Manager) Selection() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.selection))
	copy(out, m.selection)
	return out
}

// CanMerge reports whether a merge is possible (at least two selected).
func (m *Manager) CanMerge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.selection) >= 2
}

// ClearSelection empties the selection set.
func (m *Manager) ClearSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearSelectionLocked()
}

func (m *Manager) clearSelectionLocked() {
	m.selection = nil
	m.selected = map[string]struct{}{}
}

// CreateFromImages builds one document from the given rasters (picker
// output), catalogs it and returns the new record.
func (m *Manager) CreateFromImages(ctx context.Context, rasters []*image.RGBA) (catalog.Document, error) {
	defer observe("create_from_images", time.Now())

	name := "File " + timestamp()
	ref, err := m.eng.CreateFromRasters(rasters, name)
	if err != nil {
		return catalog.Document{}, err
	}
	doc, err := m.record(ctx, ref, time.Now())
	if err != nil {
		return catalog.Document{}, err
	}
	metrics.IncDocumentCreated("images")
	return doc, nil
}

// ImportFiles classifies and converts a batch of source references.
// Images are combined into a single document only when every source is an
// image and there is more than one; otherwise every source converts
// independently. One record per produced file; thumbnail failures do not
// block record creation.
func (m *Manager) ImportFiles(ctx context.Context, sources []string) ([]catalog.Document, error) {
	defer observe("import_files", time.Now())

	batch, err := m.pipe.Classify(ctx, sources)
	if err != nil {
		return nil, err
	}
	defer batch.Close()

	// Combining applies only when every requested source is an image; a
	// source that classified as anything else, or failed to classify at
	// all, defeats it and the survivors convert independently.
	combine := len(batch.PDFs) == 0 && len(batch.Images) > 1 && len(batch.Images) == len(sources)
	refs := m.pipe.Import(ctx, batch, combine)
	if len(refs) == 0 {
		return nil, nil
	}

	// Thumbnails in parallel, then catalog inserts through the single
	// writer. Completion order does not matter: listing re-derives order
	// from createdAt.
	thumbs := make([][]byte, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			thumbs[i] = m.thumbnail(ref)
			return nil
		})
	}
	_ = g.Wait()

	docs := make([]catalog.Document, 0, len(refs))
	var insertErrs []error
	for i, ref := range refs {
		doc := catalog.Document{
			ID:        uuid.NewString(),
			Name:      ref,
			FileRef:   ref,
			CreatedAt: fileCreatedAt(m.eng.Path(ref)),
			Thumbnail: thumbs[i],
		}
		if err := m.store.Insert(ctx, doc); err != nil {
			// Orphan file accepted; a row without a file would not be.
			log.Error().Err(err).Str("file", ref).Msg("catalog insert failed; file left orphaned")
			insertErrs = append(insertErrs, fmt.Errorf("catalog insert %s: %w", ref, err))
			continue
		}
		metrics.IncDocumentCreated("import")
		docs = append(docs, doc)
	}
	return docs, errors.Join(insertErrs...)
}

// MergeSelected merges the selected documents in selection order into a
// new document. On success the selection is cleared; on failure it is left
// intact and no record is created.
func (m *Manager) MergeSelected(ctx context.Context) (catalog.Document, error) {
	defer observe("merge_selected", time.Now())

	picked := m.Selection()
	if len(picked) < 2 {
		return catalog.Document{}, ErrSelectionTooSmall
	}

	refs := make([]string, 0, len(picked))
	for _, id := range picked {
		d, err := m.store.Get(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("selected document missing; skipped from merge")
			continue
		}
		refs = append(refs, d.FileRef)
	}

	ref, err := m.eng.Merge(refs, "Merge "+timestamp())
	if err != nil {
		return catalog.Document{}, fmt.Errorf("merge selected: %w", err)
	}
	doc, err := m.record(ctx, ref, time.Now())
	if err != nil {
		return catalog.Document{}, err
	}
	metrics.IncDocumentCreated("merge")
	m.ClearSelection()
	return doc, nil
}

// Delete removes the catalog row and then the backing file. The row goes
// first: a visible entry pointing at nothing is worse than an orphaned
// file, so file removal failure (or the file being gone already) is not an
// operation failure.
func (m *Manager) Delete(ctx context.Context, id string) error {
	defer observe("delete", time.Now())

	d, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(m.eng.Path(d.FileRef)); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", d.FileRef).Msg("backing file removal failed; file left orphaned")
	}

	m.mu.Lock()
	if _, ok := m.selected[id]; ok {
		delete(m.selected, id)
		for i, v := range m.selection {
			if v == id {
				m.selection = append(m.selection[:i], m.selection[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	metrics.IncDocumentDeleted()
	return nil
}

// OpenEditor opens a page edit context for the document.
func (m *Manager) OpenEditor(ctx context.Context, id string) (*pageedit.Editor, catalog.Document, error) {
	d, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, catalog.Document{}, err
	}
	n, err := m.eng.PageCount(d.FileRef)
	if err != nil {
		return nil, catalog.Document{}, err
	}
	ed, err := pageedit.NewEditor(m.eng, d.FileRef, n)
	if err != nil {
		return nil, catalog.Document{}, err
	}
	return ed, d, nil
}

// DeletePage commits a single page deletion on the document and waits for
// the rewrite outcome. Deleting the final page deletes the whole document,
// mirroring the editor's terminal Empty state.
func (m *Manager) DeletePage(ctx context.Context, id string, index int) (pageedit.Event, error) {
	defer observe("delete_page", time.Now())

	ed, _, err := m.OpenEditor(ctx, id)
	if err != nil {
		return pageedit.Event{}, err
	}
	if err := ed.DeletePage(index); err != nil {
		return pageedit.Event{}, err
	}

	ev := <-ed.Events()
	switch {
	case ev.Err != nil:
		metrics.IncPageDelete("failed")
		return ev, ev.Err
	case ev.State == pageedit.StateEmpty:
		metrics.IncPageDelete("empty")
		if err := m.Delete(ctx, id); err != nil {
			return ev, err
		}
	default:
		metrics.IncPageDelete("ok")
	}
	return ev, nil
}

// record generates a thumbnail and inserts a catalog row for a freshly
// written file. Thumbnail failure leaves the record without one.
func (m *Manager) record(ctx context.Context, ref string, createdAt time.Time) (catalog.Document, error) {
	doc := catalog.Document{
		ID:        uuid.NewString(),
		Name:      ref,
		FileRef:   ref,
		CreatedAt: createdAt,
		Thumbnail: m.thumbnail(ref),
	}
	if err := m.store.Insert(ctx, doc); err != nil {
		log.Error().Err(err).Str("file", ref).Msg("catalog insert failed; file left orphaned")
		return catalog.Document{}, fmt.Errorf("catalog insert: %w", err)
	}
	return doc, nil
}

func (m *Manager) thumbnail(ref string) []byte {
	data, err := m.eng.Thumbnail(ref, m.thumbMaxSide)
	if err != nil {
		log.Warn().Err(err).Str("file", ref).Msg("thumbnail generation failed")
		metrics.IncThumbnailFailure()
		return nil
	}
	return data
}

// fileCreatedAt prefers the backing file's timestamp for imported
// documents, falling back to now.
func fileCreatedAt(path string) time.Time {
	if fi, err := os.Stat(path); err == nil {
		return fi.ModTime()
	}
	return time.Now()
}

func timestamp() string {
	return time.Now().Format("02.01.2006 15:04")
}

func observe(op string, start time.Time) {
	metrics.ObserveOperation(op, time.Since(start))
}

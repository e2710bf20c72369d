package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docvault/internal/catalog"
	"github.com/local/docvault/internal/manager"
	"github.com/local/docvault/internal/pageedit"
	"github.com/local/docvault/internal/pdfgen"
)

// API exposes the document manager over HTTP.
type API struct {
	mgr       *manager.Manager
	eng       *pdfgen.Engine
	uploadDir string
}

// Dependencies carries the collaborators for the API.
type Dependencies struct {
	Manager   *manager.Manager
	Engine    *pdfgen.Engine
	UploadDir string
}

func New(deps Dependencies) *API {
	if deps.UploadDir == "" {
		deps.UploadDir = "uploads"
	}
	return &API{mgr: deps.Manager, eng: deps.Engine, uploadDir: deps.UploadDir}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/documents", a.handleDocuments)
	mux.HandleFunc("/documents/", a.handleDocument)
	mux.HandleFunc("/documents/import", a.handleImport)
	mux.HandleFunc("/documents/upload", a.handleUpload)
	mux.HandleFunc("/documents/merge", a.handleMerge)
}

type documentResp struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	Thumbnail bool   `json:"has_thumbnail"`
}

func toResp(d catalog.Document) documentResp {
	return documentResp{ID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), Thumbnail: len(d.Thumbnail) > 0}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	docs, err := a.mgr.List(r.Context())
	if err != nil {
		http.Error(w, "catalog unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]documentResp, 0, len(docs))
	for _, d := range docs {
		out = append(out, toResp(d))
	}
	writeJSON(w, http.StatusOK, out)
}

type importReq struct {
	Sources []string `json:"sources"`
}

type importResp struct {
	Documents []documentResp `json:"documents"`
	Imported  int            `json:"imported"`
	Skipped   int            `json:"skipped"`
}

// handleImport converts a batch of source references (local paths, URLs or
// s3 locations) into catalog documents.
func (a *API) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req importReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Sources) == 0 {
		http.Error(w, "missing sources", http.StatusBadRequest)
		return
	}
	docs, err := a.mgr.ImportFiles(r.Context(), req.Sources)
	if err != nil && len(docs) == 0 {
		log.Error().Err(err).Msg("import failed")
		http.Error(w, "import failed", http.StatusInternalServerError)
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("import partially failed; returning cataloged records")
	}
	a.respondImported(w, req.Sources, docs)
}

// handleUpload accepts multipart uploads, persists them under the upload
// dir and runs the same import pipeline as handleImport.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	mf := r.MultipartForm
	defer mf.RemoveAll()
	files := mf.File["files"]
	if len(files) == 0 {
		http.Error(w, "missing files", http.StatusBadRequest)
		return
	}
	// Each batch lands in its own directory so uploads keep their client
	// filenames; document names derive from those basenames.
	batchDir := filepath.Join(a.uploadDir, uuid.NewString())
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		http.Error(w, "cannot create upload dir", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(batchDir)

	sources := make([]string, 0, len(files))
	for _, hdr := range files {
		src, err := hdr.Open()
		if err != nil {
			http.Error(w, "cannot read upload", http.StatusBadRequest)
			return
		}
		dst := filepath.Join(batchDir, filepath.Base(hdr.Filename))
		out, err := os.Create(dst)
		if err != nil {
			src.Close()
			http.Error(w, "cannot persist upload", http.StatusInternalServerError)
			return
		}
		_, err = io.Copy(out, src)
		src.Close()
		out.Close()
		if err != nil {
			http.Error(w, "cannot persist upload", http.StatusInternalServerError)
			return
		}
		sources = append(sources, dst)
	}

	docs, err := a.mgr.ImportFiles(r.Context(), sources)
	if err != nil && len(docs) == 0 {
		log.Error().Err(err).Msg("upload import failed")
		http.Error(w, "import failed", http.StatusInternalServerError)
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("upload import partially failed; returning cataloged records")
	}
	a.respondImported(w, sources, docs)
}

func (a *API) respondImported(w http.ResponseWriter, sources []string, docs []catalog.Document) {
	out := make([]documentResp, 0, len(docs))
	for _, d := range docs {
		out = append(out, toResp(d))
	}
	skipped := len(sources) - len(docs)
	if skipped < 0 {
		skipped = 0 // combined image batches produce fewer documents than sources
	}
	writeJSON(w, http.StatusCreated, importResp{Documents: out, Imported: len(out), Skipped: skipped})
}

type mergeReq struct {
	IDs []string `json:"ids"`
}

// handleMerge merges documents in the order given in the request body, or
// the current selection when the body carries no ids.
func (a *API) handleMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req mergeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.IDs) > 0 {
		a.mgr.ClearSelection()
		for _, id := range req.IDs {
			a.mgr.ToggleSelection(id)
		}
	}
	doc, err := a.mgr.MergeSelected(r.Context())
	switch {
	case errors.Is(err, manager.ErrSelectionTooSmall):
		http.Error(w, "merge requires at least two documents", http.StatusBadRequest)
		return
	case errors.Is(err, pdfgen.ErrEmptyDocument):
		http.Error(w, "no mergeable documents", http.StatusUnprocessableEntity)
		return
	case err != nil:
		log.Error().Err(err).Msg("merge failed")
		http.Error(w, "merge failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toResp(doc))
}

// handleDocument dispatches /documents/{id} and its sub-resources.
func (a *API) handleDocument(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		a.deleteDocument(w, r, id)
	case len(parts) == 2 && parts[1] == "select" && r.Method == http.MethodPost:
		a.mgr.ToggleSelection(id)
		writeJSON(w, http.StatusOK, map[string]any{"selection": a.mgr.Selection(), "can_merge": a.mgr.CanMerge()})
	case len(parts) == 2 && parts[1] == "file" && r.Method == http.MethodGet:
		a.serveFile(w, r, id)
	case len(parts) == 2 && parts[1] == "thumbnail" && r.Method == http.MethodGet:
		a.serveThumbnail(w, r, id)
	case len(parts) == 3 && parts[1] == "pages" && r.Method == http.MethodDelete:
		a.deletePage(w, r, id, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (a *API) deleteDocument(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.mgr.Delete(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("id", id).Msg("delete failed")
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) serveFile(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := a.lookup(w, r, id)
	if err != nil {
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Name))
	http.ServeFile(w, r, a.eng.Path(doc.FileRef))
}

func (a *API) serveThumbnail(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := a.lookup(w, r, id)
	if err != nil {
		return
	}
	if len(doc.Thumbnail) == 0 {
		http.Error(w, "no thumbnail", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(doc.Thumbnail)
}

type pageDeleteResp struct {
	State     string `json:"state"`
	PageIndex int    `json:"page_index"`
	Deleted   bool   `json:"document_deleted"`
}

func (a *API) deletePage(w http.ResponseWriter, r *http.Request, id, pageStr string) {
	idx, err := strconv.Atoi(pageStr)
	if err != nil {
		http.Error(w, "invalid page index", http.StatusBadRequest)
		return
	}
	ev, err := a.mgr.DeletePage(r.Context(), id, idx)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, "document not found", http.StatusNotFound)
		return
	case errors.Is(err, pageedit.ErrRewriteInFlight):
		http.Error(w, "page removal already in progress", http.StatusConflict)
		return
	case err != nil:
		log.Error().Err(err).Str("id", id).Int("page", idx).Msg("page delete failed")
		http.Error(w, "page delete failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pageDeleteResp{
		State:     ev.State.String(),
		PageIndex: ev.PageIndex,
		Deleted:   ev.State == pageedit.StateEmpty,
	})
}

// lookup fetches the catalog record, writing the HTTP error response when
// it fails.
func (a *API) lookup(w http.ResponseWriter, r *http.Request, id string) (catalog.Document, error) {
	doc, err := a.mgr.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		http.Error(w, "document not found", http.StatusNotFound)
		return catalog.Document{}, err
	}
	if err != nil {
		http.Error(w, "catalog unavailable", http.StatusInternalServerError)
		return catalog.Document{}, err
	}
	return doc, nil
}

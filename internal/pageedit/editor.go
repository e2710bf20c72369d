package pageedit

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// State is the page editor's lifecycle state for one open document.
type State int

const (
	// StateViewing shows the page at the current index.
	StateViewing State = iota
	// StateDeleting means a page was removed in memory and the backing
	// file rewrite is in flight.
	StateDeleting
	// StateEmpty is terminal: the last page was deleted and the caller is
	// expected to delete the owning document and navigate away.
	StateEmpty
)

func (s State) String() string {
	switch s {
	case StateViewing:
		return "viewing"
	case StateDeleting:
		return "deleting"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// ErrRewriteInFlight rejects a delete requested while a previous rewrite
// has not finished. One rewrite per open document at a time.
var ErrRewriteInFlight = errors.New("page rewrite already in flight")

// ErrDocumentEmpty rejects operations on an editor in the terminal state.
var ErrDocumentEmpty = errors.New("document has no pages left")

// Event reports the outcome of a delete: the state reached, the page index
// now current (-1 when empty), and the rewrite error if any. A non-nil Err
// means the in-memory removal was rolled back, so the page list shown to
// the user always matches the file on disk.
type Event struct {
	State     State
	PageIndex int
	Err       error
}

// Rewriter persists a page removal to the backing file.
type Rewriter interface {
	RemovePage(ref string, index int) error
}

// Editor is the transient edit context for one open document. It tracks
// the in-memory page count and current page, and serializes rewrites of
// the backing file. It holds no state worth persisting; closing the
// document discards it.
type Editor struct {
	rw  Rewriter
	ref string

	mu       sync.Mutex
	state    State
	pages    int
	current  int
	inFlight bool
	events   chan Event
}

// NewEditor opens an edit context over a document with the given page
// count. pages must be positive; empty documents are never cataloged.
func NewEditor(rw Rewriter, ref string, pages int) (*Editor, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("cannot edit %q: %w", ref, ErrDocumentEmpty)
	}
	return &Editor{rw: rw, ref: ref, pages: pages, events: make(chan Event, 8)}, nil
}

// Ref returns the file reference this editor rewrites.
func (e *Editor) Ref() string { return e.ref }

// Events delivers one Event per DeletePage call, in commit order.
func (e *Editor) Events() <-chan Event { return e.events }

// State returns the current state and page index.
func (e *Editor) State() (State, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.current
}

// Pages returns the in-memory page count.
func (e *Editor) Pages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages
}

// SetCurrent moves the current page, e.g. when the viewer scrolls.
func (e *Editor) SetCurrent(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateEmpty {
		return ErrDocumentEmpty
	}
	if index < 0 || index >= e.pages {
		return fmt.Errorf("page index %d out of range [0,%d)", index, e.pages)
	}
	e.current = index
	return nil
}

// DeletePage removes the page at index from the in-memory collection
// immediately, so the view reflects the change, and rewrites the backing
// file asynchronously. The outcome arrives on Events. A second delete
// while a rewrite is pending is rejected with ErrRewriteInFlight. If the
// rewrite fails the in-memory removal is rolled back.
func (e *Editor) DeletePage(index int) error {
	e.mu.Lock()
	if e.state == StateEmpty {
		e.mu.Unlock()
		return ErrDocumentEmpty
	}
	if e.inFlight {
		e.mu.Unlock()
		return ErrRewriteInFlight
	}
	if index < 0 || index >= e.pages {
		e.mu.Unlock()
		return fmt.Errorf("page index %d out of range [0,%d)", index, e.pages)
	}

	prevPages, prevCurrent := e.pages, e.current
	e.pages--
	if e.pages > 0 {
		e.current = clamp(index, 0, e.pages-1)
	}
	e.state = StateDeleting
	e.inFlight = true
	e.mu.Unlock()

	go func() {
		var err error
		if prevPages > 1 {
			err = e.rw.RemovePage(e.ref, index)
		}
		// Deleting the only page skips the rewrite: a zero-page file is
		// not representable, and the caller deletes the whole document
		// when it sees StateEmpty.

		e.mu.Lock()
		e.inFlight = false
		var ev Event
		switch {
		case err != nil:
			e.pages = prevPages
			e.current = prevCurrent
			e.state = StateViewing
			ev = Event{State: StateViewing, PageIndex: prevCurrent, Err: err}
			log.Warn().Err(err).Str("file", e.ref).Int("page", index).Msg("page rewrite failed; removal rolled back")
		case e.pages == 0:
			e.state = StateEmpty
			ev = Event{State: StateEmpty, PageIndex: -1}
		default:
			e.state = StateViewing
			ev = Event{State: StateViewing, PageIndex: e.current}
		}
		e.mu.Unlock()
		e.events <- ev
	}()
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

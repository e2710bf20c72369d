package pageedit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRewriter records removals and can be made to fail or block.
type fakeRewriter struct {
	err     error
	block   chan struct{}
	removed []int
}

func (f *fakeRewriter) RemovePage(ref string, index int) error {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, index)
	return nil
}

func waitEvent(t *testing.T, e *Editor) Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for edit event")
		return Event{}
	}
}

func TestNewEditorRejectsEmpty(t *testing.T) {
	_, err := NewEditor(&fakeRewriter{}, "doc.pdf", 0)
	assert.ErrorIs(t, err, ErrDocumentEmpty)
}

func TestDeleteMiddlePage(t *testing.T) {
	rw := &fakeRewriter{}
	e, err := NewEditor(rw, "doc.pdf", 5)
	require.NoError(t, err)

	require.NoError(t, e.DeletePage(2))
	ev := waitEvent(t, e)

	assert.Equal(t, StateViewing, ev.State)
	assert.Equal(t, 2, ev.PageIndex)
	assert.NoError(t, ev.Err)
	assert.Equal(t, 4, e.Pages())
	assert.Equal(t, []int{2}, rw.removed)
}

func TestDeleteLastIndexClampsCurrent(t *testing.T) {
	e, err := NewEditor(&fakeRewriter{}, "doc.pdf", 3)
	require.NoError(t, err)

	// Deleting page i from n pages leaves current = min(i, n-2).
	require.NoError(t, e.DeletePage(2))
	ev := waitEvent(t, e)

	assert.Equal(t, StateViewing, ev.State)
	assert.Equal(t, 1, ev.PageIndex)
	assert.Equal(t, 2, e.Pages())
}

func TestDeleteOnlyPageReachesEmpty(t *testing.T) {
	rw := &fakeRewriter{}
	e, err := NewEditor(rw, "doc.pdf", 1)
	require.NoError(t, err)

	require.NoError(t, e.DeletePage(0))
	ev := waitEvent(t, e)

	assert.Equal(t, StateEmpty, ev.State)
	assert.Equal(t, -1, ev.PageIndex)
	assert.Empty(t, rw.removed, "no rewrite for the final page")

	assert.ErrorIs(t, e.DeletePage(0), ErrDocumentEmpty)
}

func TestRewriteFailureRollsBack(t *testing.T) {
	boom := errors.New("disk full")
	e, err := NewEditor(&fakeRewriter{err: boom}, "doc.pdf", 3)
	require.NoError(t, err)
	require.NoError(t, e.SetCurrent(1))

	require.NoError(t, e.DeletePage(2))
	ev := waitEvent(t, e)

	assert.Equal(t, StateViewing, ev.State)
	assert.ErrorIs(t, ev.Err, boom)
	assert.Equal(t, 1, ev.PageIndex, "current restored")
	assert.Equal(t, 3, e.Pages(), "in-memory removal rolled back")
}

func TestSecondDeleteWhileInFlightRejected(t *testing.T) {
	rw := &fakeRewriter{block: make(chan struct{})}
	e, err := NewEditor(rw, "doc.pdf", 4)
	require.NoError(t, err)

	require.NoError(t, e.DeletePage(0))
	assert.ErrorIs(t, e.DeletePage(1), ErrRewriteInFlight)

	close(rw.block)
	ev := waitEvent(t, e)
	assert.Equal(t, StateViewing, ev.State)

	// The rejected delete left no trace; a new one is accepted.
	require.NoError(t, e.DeletePage(1))
	waitEvent(t, e)
	assert.Equal(t, 2, e.Pages())
}

func TestDeleteOutOfRange(t *testing.T) {
	e, err := NewEditor(&fakeRewriter{}, "doc.pdf", 2)
	require.NoError(t, err)
	assert.Error(t, e.DeletePage(2))
	assert.Error(t, e.DeletePage(-1))
}

func TestStateDuringRewrite(t *testing.T) {
	rw := &fakeRewriter{block: make(chan struct{})}
	e, err := NewEditor(rw, "doc.pdf", 3)
	require.NoError(t, err)

	require.NoError(t, e.DeletePage(0))
	st, _ := e.State()
	assert.Equal(t, StateDeleting, st)
	assert.Equal(t, 2, e.Pages(), "optimistic removal visible immediately")

	close(rw.block)
	waitEvent(t, e)
	st, idx := e.State()
	assert.Equal(t, StateViewing, st)
	assert.Equal(t, 0, idx)
}

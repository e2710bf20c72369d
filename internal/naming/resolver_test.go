package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestResolveFreeName(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "X.pdf", Resolve(dir, "X", ".pdf"))
}

func TestResolveProbesNumericSuffixes(t *testing.T) {
	dir := t.TempDir()

	touch(t, dir, "X.pdf")
	got := Resolve(dir, "X", ".pdf")
	assert.Equal(t, "X 1.pdf", got)

	touch(t, dir, got)
	assert.Equal(t, "X 2.pdf", Resolve(dir, "X", ".pdf"))
}

func TestResolveIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "X.jpg")
	assert.Equal(t, "X.pdf", Resolve(dir, "X", ".pdf"))
}

func TestResolveStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	got := Resolve(dir, "../../etc/passwd", ".pdf")
	assert.Equal(t, "passwd.pdf", got)
}

func TestResolveEmptyBaseFallsBack(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "File.pdf", Resolve(dir, "", ".pdf"))
}

func TestResolveRandomSuffixPastCap(t *testing.T) {
	if testing.Short() {
		t.Skip("creates many files")
	}
	dir := t.TempDir()
	touch(t, dir, "X.pdf")
	for i := 1; i <= maxProbes; i++ {
		touch(t, dir, fmt.Sprintf("X %d.pdf", i))
	}

	got := Resolve(dir, "X", ".pdf")
	assert.NotEqual(t, "X.pdf", got)
	_, err := os.Stat(filepath.Join(dir, got))
	assert.True(t, os.IsNotExist(err), "resolved name must be free")
}

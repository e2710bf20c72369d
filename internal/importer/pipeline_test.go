package importer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docvault/internal/filetype"
	"github.com/local/docvault/internal/pdfgen"
	"github.com/local/docvault/internal/raster"
)

func newTestPipeline(t *testing.T) (*Pipeline, *pdfgen.Engine) {
	t.Helper()
	eng, err := pdfgen.New(pdfgen.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	return New(filetype.New(), eng, Options{Concurrency: 2, ImageMaxSide: 3000}), eng
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{B: 255, A: 255}), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

// writeCorruptPNG writes a file that classifies as a PNG by magic bytes but
// cannot be decoded.
func writeCorruptPNG(t *testing.T, dir, name string) string {
	t.Helper()
	data := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0xde, 0xad}, 64)...)
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	eng, err := pdfgen.New(pdfgen.Options{Dir: dir})
	require.NoError(t, err)
	img := image.NewNRGBA(image.Rect(0, 0, 300, 400))
	ref, err := eng.CreateFromRasters([]*image.RGBA{raster.Flatten(img, 0)}, name)
	require.NoError(t, err)
	return eng.Path(ref)
}

func TestClassifyPartitionsByContentType(t *testing.T) {
	p, _ := newTestPipeline(t)
	src := t.TempDir()

	pdf := writePDF(t, src, "doc")
	img := writePNG(t, src, "scan.png")
	txt := filepath.Join(src, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("plain text"), 0o644))

	b, err := p.Classify(context.Background(), []string{pdf, img, txt})
	require.NoError(t, err)
	defer b.Close()

	require.Len(t, b.PDFs, 1)
	require.Len(t, b.Images, 1)
	assert.Equal(t, "scan", b.Images[0].Base)
}

func TestImportCopiesPDFsUnderUniqueNames(t *testing.T) {
	p, eng := newTestPipeline(t)
	src := t.TempDir()
	pdf := writePDF(t, src, "report")

	refs, err := p.ImportSources(context.Background(), []string{pdf, pdf}, false)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.ElementsMatch(t, []string{"report.pdf", "report 1.pdf"}, refs)

	for _, ref := range refs {
		n, err := eng.PageCount(ref)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestImportDropsUndecodableImage(t *testing.T) {
	p, eng := newTestPipeline(t)
	src := t.TempDir()

	good := writePNG(t, src, "good.png")
	bad := writeCorruptPNG(t, src, "bad.png")

	refs, err := p.ImportSources(context.Background(), []string{bad, good}, false)
	require.NoError(t, err)
	require.Len(t, refs, 1, "one produced file, no operation-level failure")

	n, err := eng.PageCount(refs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImportCombinesImagesIntoOneDocument(t *testing.T) {
	p, eng := newTestPipeline(t)
	src := t.TempDir()

	a := writePNG(t, src, "first.png")
	b := writePNG(t, src, "second.png")

	refs, err := p.ImportSources(context.Background(), []string{a, b}, true)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "first.pdf", refs[0], "combined document named after first image")

	n, err := eng.PageCount(refs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImportCombinedFullyUndecodableBatch(t *testing.T) {
	p, _ := newTestPipeline(t)
	src := t.TempDir()

	a := writeCorruptPNG(t, src, "a.png")
	b := writeCorruptPNG(t, src, "b.png")

	refs, err := p.ImportSources(context.Background(), []string{a, b}, true)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestImportMissingSourceDropped(t *testing.T) {
	p, _ := newTestPipeline(t)

	refs, err := p.ImportSources(context.Background(), []string{"/nope/missing.pdf"}, false)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

type fakeRaster struct {
	pages   int
	failOn  map[int]bool
	renders []int
}

func (f *fakeRaster) PageCount(context.Context, string) (int, error) { return f.pages, nil }

func (f *fakeRaster) Render(_ context.Context, _ string, page, dpi int) ([]byte, error) {
	f.renders = append(f.renders, page)
	if f.failOn[page] {
		return nil, errors.New("render failed")
	}
	return []byte(fmt.Sprintf("png-%d@%d", page, dpi)), nil
}

// echoModel answers with the image payload so tests can check ordering.
type echoModel struct {
	mu      sync.Mutex
	calls   int
	failFor map[string]error
	reply   func(img string) string
}

func (m *echoModel) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	img := string(req.Images[0].Data)
	if err := m.failFor[img]; err != nil {
		return llm.Response{}, err
	}
	if m.reply != nil {
		return llm.Response{Text: m.reply(img)}, nil
	}
	return llm.Response{Text: "text of " + img}, nil
}

type mapCache map[int]string

func (c mapCache) LoadText(n int) (string, bool) {
	s, ok := c[n]
	return s, ok
}

func pdfFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF"), 0o644))
	return p
}

func TestExtractPagesOrdered(t *testing.T) {
	raster := &fakeRaster{pages: 3}
	model := &echoModel{}
	a := NewAdapter(Config{DPI: 150}, model, raster, nil)

	pages, err := a.ExtractPages(context.Background(), pdfFile(t), nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.Page)
		assert.Equal(t, fmt.Sprintf("text of png-%d@150", i+1), p.Text)
		assert.False(t, p.Failed())
	}
	assert.Equal(t, []int{1, 2, 3}, raster.renders)
}

func TestExtractPagesContinuesOnFailure(t *testing.T) {
	raster := &fakeRaster{pages: 3, failOn: map[int]bool{3: true}}
	model := &echoModel{failFor: map[string]error{"png-2@200": common.Transient(errors.New("timeout"))}}
	a := NewAdapter(Config{}, model, raster, nil)

	pages, err := a.ExtractPages(context.Background(), pdfFile(t), nil)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.False(t, pages[0].Failed())
	assert.True(t, pages[1].Failed())
	assert.Contains(t, pages[1].Err, "timeout")
	assert.Empty(t, pages[1].Text)
	assert.True(t, pages[2].Failed())
	assert.Contains(t, pages[2].Err, "render")
}

func TestExtractPagesAllFailed(t *testing.T) {
	raster := &fakeRaster{pages: 2, failOn: map[int]bool{1: true, 2: true}}
	a := NewAdapter(Config{}, &echoModel{}, raster, nil)

	pages, err := a.ExtractPages(context.Background(), pdfFile(t), nil)
	assert.ErrorIs(t, err, common.ErrAllPagesFailed)
	assert.Len(t, pages, 2)
}

func TestExtractPagesUsesCache(t *testing.T) {
	raster := &fakeRaster{pages: 2}
	model := &echoModel{}
	a := NewAdapter(Config{}, model, raster, nil)

	pages, err := a.ExtractPages(context.Background(), pdfFile(t), mapCache{1: "cached one", 2: "cached two"})
	require.NoError(t, err)
	assert.Equal(t, "cached one", pages[0].Text)
	assert.True(t, pages[1].Cached)
	assert.Zero(t, model.calls)
	assert.Empty(t, raster.renders)
}

func TestExtractPagesImageIsOnePage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "scan.JPG")
	require.NoError(t, os.WriteFile(p, []byte("jpeg-bytes"), 0o644))
	var gotMIME string
	model := llm.CompleterFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		gotMIME = req.Images[0].MIME
		return llm.Response{Text: string(req.Images[0].Data)}, nil
	})
	a := NewAdapter(Config{}, model, &fakeRaster{}, nil)

	pages, err := a.ExtractPages(context.Background(), p, nil)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "jpeg-bytes", pages[0].Text)
	assert.Equal(t, "image/jpeg", gotMIME)
}

func TestExtractPagesRejectsUnknownAndEmpty(t *testing.T) {
	txt := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	a := NewAdapter(Config{}, &echoModel{}, &fakeRaster{}, nil)

	_, err := a.ExtractPages(context.Background(), txt, nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = a.ExtractPages(context.Background(), pdfFile(t), nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestExtractPagesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAdapter(Config{}, &echoModel{}, &fakeRaster{pages: 2}, nil)
	_, err := a.ExtractPages(ctx, pdfFile(t), nil)
	assert.ErrorIs(t, err, common.ErrCanceled)
}

func TestExtractNameColumns(t *testing.T) {
	model := &echoModel{reply: func(img string) string {
		if strings.HasPrefix(img, "png-1") {
			return "no table here"
		}
		return "```json\n[\"Nom\", \"Prénom\", \"Montant\"]\n```"
	}}
	a := NewAdapter(Config{}, model, &fakeRaster{pages: 3}, nil)

	cols, err := a.ExtractNameColumns(context.Background(), pdfFile(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Nom", "Prénom", "Montant"}, cols)
	assert.Equal(t, 2, model.calls)

	none := &echoModel{reply: func(string) string { return `{"a":1}` }}
	cols, err = NewAdapter(Config{}, none, &fakeRaster{pages: 2}, nil).ExtractNameColumns(context.Background(), pdfFile(t))
	require.NoError(t, err)
	assert.Nil(t, cols)
}

type recordingRunner struct {
	name   string
	args   []string
	stdout []byte
	err    error
	onRun  func(args []string)
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.name, r.args = name, args
	if r.onRun != nil {
		r.onRun(args)
	}
	return r.stdout, nil, r.err
}

func TestPopplerRender(t *testing.T) {
	runner := &recordingRunner{onRun: func(args []string) {
		prefix := args[len(args)-1]
		_ = os.WriteFile(prefix+".png", []byte("PNG"), 0o644)
	}}
	p := NewPoppler("", runner)

	img, err := p.Render(context.Background(), "/in.pdf", 4, 300)
	require.NoError(t, err)
	assert.Equal(t, []byte("PNG"), img)
	assert.Equal(t, "pdftoppm", runner.name)
	assert.Equal(t, []string{"-r", "300", "-png", "-f", "4", "-l", "4", "-singlefile", "/in.pdf"}, runner.args[:9])
}

func TestPopplerRenderFailure(t *testing.T) {
	p := NewPoppler("pdftoppm", &recordingRunner{err: errors.New("exit status 1")})
	_, err := p.Render(context.Background(), "/in.pdf", 1, 200)
	assert.Error(t, err)
}

func TestPopplerPageCountRejectsGarbage(t *testing.T) {
	_, err := NewPoppler("", nil).PageCount(context.Background(), pdfFile(t))
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestTesseract(t *testing.T) {
	runner := &recordingRunner{stdout: []byte("  Nom | Prénom \n")}
	tess := NewTesseract("", "fra+eng", 200, runner)

	resp, err := tess.Complete(context.Background(), llm.Request{Images: []llm.Image{{MIME: "image/png", Data: []byte("x")}}})
	require.NoError(t, err)
	assert.Equal(t, "Nom | Prénom", resp.Text)
	assert.Equal(t, "tesseract", runner.name)
	assert.Equal(t, []string{"-", "-l", "fra+eng", "--dpi", "200"}, runner.args[1:])

	_, err = tess.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, common.ErrPermanent)
}

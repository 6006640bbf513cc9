package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

// Rasterizer counts and renders PDF pages.
type Rasterizer interface {
	PageCount(ctx context.Context, path string) (int, error)
	// Render returns page (1-indexed) as PNG bytes at dpi.
	Render(ctx context.Context, path string, page, dpi int) ([]byte, error)
}

// Poppler renders with pdftoppm and counts pages with pdfcpu.
type Poppler struct {
	Bin    string
	Runner Runner
}

func NewPoppler(bin string, runner Runner) *Poppler {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &Poppler{Bin: bin, Runner: runner}
}

func (p *Poppler) PageCount(_ context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, common.LocalIO("read pdf", err)
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("read pdf %s: %w: %w", filepath.Base(path), common.ErrInvalidInput, err)
	}
	return n, nil
}

func (p *Poppler) Render(ctx context.Context, path string, page, dpi int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "scan2csv-pp-*")
	if err != nil {
		return nil, common.LocalIO("create temp dir", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	n := strconv.Itoa(page)
	// pdftoppm -r 200 -png -f N -l N -singlefile <in.pdf> <tmp/page>
	_, errb, err := p.Runner.Run(ctx, p.Bin,
		"-r", strconv.Itoa(dpi), "-png", "-f", n, "-l", n, "-singlefile", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w (%s)", page, err, strings.TrimSpace(string(errb)))
	}
	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no image for page %d: %w", page, err)
	}
	return img, nil
}

package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

// Tesseract is a local OCR backend. It satisfies llm.Completer so the adapter
// treats it like a vision model; instructions are ignored.
type Tesseract struct {
	Bin    string
	Lang   string
	DPI    int
	Runner Runner
}

func NewTesseract(bin, lang string, dpi int, runner Runner) *Tesseract {
	if bin == "" {
		bin = "tesseract"
	}
	if lang == "" {
		lang = "eng"
	}
	return &Tesseract{Bin: bin, Lang: lang, DPI: dpi, Runner: runner}
}

func (t *Tesseract) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if len(req.Images) == 0 {
		return llm.Response{}, common.Permanent(errors.New("tesseract needs an image"))
	}
	f, err := os.CreateTemp("", "scan2csv-tess-*."+imageExt(req.Images[0].MIME))
	if err != nil {
		return llm.Response{}, common.LocalIO("create temp image", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(req.Images[0].Data); err != nil {
		_ = f.Close()
		return llm.Response{}, common.LocalIO("write temp image", err)
	}
	if err := f.Close(); err != nil {
		return llm.Response{}, common.LocalIO("close temp image", err)
	}

	// tesseract <img> - -l fra+eng [--dpi N]
	args := []string{f.Name(), "-", "-l", t.Lang}
	if t.DPI > 0 {
		args = append(args, "--dpi", strconv.Itoa(t.DPI))
	}
	out, errb, err := t.Runner.Run(ctx, t.Bin, args...)
	if err != nil {
		wrapped := fmt.Errorf("tesseract: %w (%s)", err, strings.TrimSpace(string(errb)))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return llm.Response{}, common.Permanent(wrapped)
		}
		return llm.Response{}, wrapped
	}
	return llm.Response{Text: strings.TrimSpace(string(out)), Model: "tesseract"}, nil
}

func imageExt(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	default:
		return "png"
	}
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/joseph-ayodele/scan2csv/internal/async"
)

// progress counts finished documents on stderr.
type progress struct {
	bar *progressbar.ProgressBar
}

func newProgress(total int) *progress {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("documents"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &progress{bar: bar}
}

// Done advances the bar by one document. Safe for concurrent use.
func (p *progress) Done(d async.DocResult) {
	if p == nil {
		return
	}
	p.bar.Describe(fmt.Sprintf("%-10s %s", d.State(), filepath.Base(d.Path)))
	_ = p.bar.Add(1)
}

func (p *progress) Finish() {
	if p == nil {
		return
	}
	_ = p.bar.Finish()
}

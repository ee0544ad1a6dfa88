package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/ZebulonRouseFrantzich/tow/internal/download"
)

// barProgress draws a download.Progress as a terminal progress bar.
type barProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

var _ download.Progress = (*barProgress)(nil)

// newTerminalProgress returns a bar on w, or nil when w is not a terminal.
func newTerminalProgress(w io.Writer) download.Progress {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return newBarProgress(w)
}

func newBarProgress(w io.Writer) *barProgress {
	return &barProgress{out: w}
}

// Start creates the bar. An unknown total (0) shows a spinner.
func (p *barProgress) Start(url string, total int64) {
	max := total
	if max <= 0 {
		max = -1
	}
	p.bar = progressbar.NewOptions64(max,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(p.out)
		}),
	)
}

func (p *barProgress) Update(downloaded int64) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Set64(downloaded)
}

func (p *barProgress) Finish(path string) {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

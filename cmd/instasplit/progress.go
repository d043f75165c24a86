package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/schollz/progressbar/v3"
)

// progressReporter is an events.Publisher that draws analysis and export
// progress as terminal bars instead of buffering events.
type progressReporter struct {
	mu    sync.Mutex
	out   io.Writer
	seq   int64
	phase string
	bar   *progressbar.ProgressBar

	failed []string
}

func newProgressReporter(out io.Writer) *progressReporter {
	return &progressReporter{out: out}
}

func (p *progressReporter) Publish(ev events.Event) events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	ev.Seq = p.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	switch ev.Type {
	case events.TypeAnalysisProgress:
		p.set("Analyzing", ev.Progress)
	case events.TypeAnalysisDone:
		p.set("Analyzing", 100)
		p.finishLocked()
	case events.TypeExportItem:
		if ev.Message != "" {
			p.failed = append(p.failed, ev.Message)
		}
		p.set("Exporting", ev.Progress)
	case events.TypeExportDone, events.TypeError:
		p.finishLocked()
	}
	return ev
}

func (p *progressReporter) set(phase string, percent int) {
	if p.bar == nil || p.phase != phase {
		p.finishLocked()
		p.phase = phase
		p.bar = newBar(p.out, phase)
	}
	_ = p.bar.Set(min(max(percent, 0), 100))
}

// Finish closes any open bar.
func (p *progressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressReporter) finishLocked() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.out)
	p.bar = nil
	p.phase = ""
}

// Failures returns the export item errors seen so far.
func (p *progressReporter) Failures() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failed...)
}

func newBar(out io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Package ui is the system tray front end of the agent.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/instasplit/instasplit-agent/internal/events"
	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/session"
	"github.com/instasplit/instasplit-agent/internal/store"
)

// Sessions is what the tray shows and controls.
type Sessions interface {
	Status() session.Status
	Cancel() bool
}

type Tray struct {
	sessions Sessions
	bus      *events.Bus
	logger   *slog.Logger

	statusItem   *systray.MenuItem
	segmentsItem *systray.MenuItem
	cancelItem   *systray.MenuItem

	mu       sync.Mutex
	progress int

	onOpenOutput func() error
	onQuit       func()
}

type TrayConfig struct {
	Sessions     Sessions
	Events       *events.Bus
	Logger       *slog.Logger
	OnOpenOutput func() error
	OnQuit       func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		sessions:     cfg.Sessions,
		bus:          cfg.Events,
		logger:       logging.WithComponent(cfg.Logger, "tray"),
		onOpenOutput: cfg.OnOpenOutput,
		onQuit:       cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("InstaSplit")
	systray.SetTooltip("InstaSplit Agent")

	t.statusItem = systray.AddMenuItem("Status: No video", "Current agent status")
	t.statusItem.Disable()

	t.segmentsItem = systray.AddMenuItem("Segments: 0", "Accepted segments")
	t.segmentsItem.Disable()

	systray.AddSeparator()

	t.cancelItem = systray.AddMenuItem("Cancel", "Cancel the running analysis or export")
	t.cancelItem.Disable()

	openItem := systray.AddMenuItem("Open Output Folder", "Show exported clips")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit InstaSplit Agent")

	ctx, stop := context.WithCancel(context.Background())
	go t.follow(ctx)

	go func() {
		for {
			select {
			case <-t.cancelItem.ClickedCh:
				if t.sessions.Cancel() {
					t.logger.Info("cancel requested from tray")
				}
			case <-openItem.ClickedCh:
				t.handleOpenOutput()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				stop()
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.refresh()
	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// follow refreshes the menu whenever the bus publishes.
func (t *Tray) follow(ctx context.Context) {
	if t.bus == nil {
		return
	}
	seq := t.bus.Latest()
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		evs := t.bus.Wait(waitCtx, seq)
		cancel()
		for _, ev := range evs {
			seq = ev.Seq
			t.observe(ev)
		}
		t.refresh()
	}
}

func (t *Tray) observe(ev events.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Type {
	case events.TypeAnalysisProgress, events.TypeRenderProgress, events.TypeExportItem:
		t.progress = ev.Progress
	case events.TypeAnalysisDone, events.TypeExportDone, events.TypeError, events.TypeSession:
		t.progress = 0
	}
}

func (t *Tray) refresh() {
	st := t.sessions.Status()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle(StatusLabel(st, t.progress))
	t.segmentsItem.SetTitle(fmt.Sprintf("Segments: %d", st.Segments))
	if st.Op != session.OpNone {
		t.cancelItem.Enable()
	} else {
		t.cancelItem.Disable()
	}
}

func (t *Tray) handleOpenOutput() {
	if t.onOpenOutput != nil {
		if err := t.onOpenOutput(); err != nil {
			t.logger.Error("failed to open output folder", "error", err)
		}
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// StatusLabel is the tray status line for st.
func StatusLabel(st session.Status, progress int) string {
	if !st.Loaded {
		return "Status: No video"
	}
	switch st.Op {
	case session.OpAnalyzing:
		return fmt.Sprintf("Status: Analyzing %d%%", progress)
	case session.OpRendering:
		return fmt.Sprintf("Status: Rendering %d%%", progress)
	case session.OpExporting:
		return fmt.Sprintf("Status: Exporting %d%%", progress)
	}
	if st.State == store.StatusAnalyzed {
		return "Status: Ready"
	}
	return "Status: Idle"
}

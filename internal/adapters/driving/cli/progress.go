package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

// progressPrinter renders ingestion events as text. On a terminal each file
// is redrawn in place; otherwise one line is written per stage change.
type progressPrinter struct {
	w   io.Writer
	tty bool

	mu        sync.Mutex
	names     map[string]string
	lastStage map[string]domain.Stage
	openLine  bool

	// filter limits output to the named files when set.
	filter bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{
		w:         w,
		tty:       isTerminal(w),
		names:     make(map[string]string),
		lastStage: make(map[string]domain.Stage),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// track limits output to id, shown as name.
func (p *progressPrinter) track(id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names[id] = name
	p.filter = true
}

// name returns the display name of id and whether it should be printed.
func (p *progressPrinter) name(id string) (string, bool) {
	if n, ok := p.names[id]; ok {
		return n, true
	}
	return id, !p.filter
}

func (p *progressPrinter) print(ev domain.IngestionProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name, ok := p.name(ev.FileID)
	if !ok {
		return
	}
	line := formatProgress(name, ev)

	if p.tty {
		fmt.Fprintf(p.w, "\r\033[K%s", line)
		p.openLine = !ev.Stage.IsTerminal()
		if !p.openLine {
			fmt.Fprintln(p.w)
		}
		return
	}

	if p.lastStage[ev.FileID] == ev.Stage {
		return
	}
	p.lastStage[ev.FileID] = ev.Stage
	fmt.Fprintln(p.w, line)
}

// finish ends a line left open by an in-place update.
func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openLine {
		fmt.Fprintln(p.w)
		p.openLine = false
	}
}

// follow prints events from sub until stop is closed, then drains what is
// already buffered. The returned channel closes when printing is done.
func (p *progressPrinter) follow(sub driving.ProgressSubscription, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer p.finish()
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				p.print(ev)
			case <-stop:
				for {
					select {
					case ev, ok := <-sub.Events():
						if !ok {
							return
						}
						p.print(ev)
					default:
						return
					}
				}
			}
		}
	}()
	return done
}

func formatProgress(name string, ev domain.IngestionProgress) string {
	switch ev.Stage {
	case domain.StageVectorizing:
		s := fmt.Sprintf("%s: vectorizing %d/%d", name, ev.Current, ev.Total)
		if ev.ETR > 0 {
			s += fmt.Sprintf(" (about %s left)", (time.Duration(ev.ETR * float64(time.Second))).Round(time.Second))
		}
		return s
	case domain.StageError:
		if ev.Reason != "" {
			return fmt.Sprintf("%s: failed: %s", name, ev.Reason)
		}
		return name + ": failed"
	default:
		return fmt.Sprintf("%s: %s", name, ev.Stage)
	}
}

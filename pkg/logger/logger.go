package logger

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
)

// Observer receives progress notifications from the dispatcher. Calls may
// arrive concurrently from several workers.
type Observer interface {
	PhaseStart(phase string, totalItems int)
	ItemProcessed(phase string, item string, action string)
	PhaseComplete(phase string, processedItems int)
}

// Actions reported by ItemProcessed that QuietLogger still prints
const (
	ActionFailed  = "failed"
	ActionErrored = "errored"
)

type VerboseLogger struct {
	Logger *slog.Logger
}

func (l *VerboseLogger) log() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *VerboseLogger) PhaseStart(phase string, totalItems int) {
	l.log().Info("phase start", "phase", phase, "items", totalItems)
}

func (l *VerboseLogger) ItemProcessed(phase string, item string, action string) {
	l.log().Info(action, "phase", phase, "item", item)
}

func (l *VerboseLogger) PhaseComplete(phase string, processedItems int) {
	l.log().Info("phase complete", "phase", phase, "processed", processedItems)
}

type NullLogger struct{}

func (l *NullLogger) PhaseStart(phase string, totalItems int) {}

func (l *NullLogger) ItemProcessed(phase string, item string, action string) {}

func (l *NullLogger) PhaseComplete(phase string, processedItems int) {}

// QuietLogger prints only items that ended in failure
type QuietLogger struct {
	Out io.Writer
	mu  sync.Mutex
}

func (l *QuietLogger) PhaseStart(phase string, totalItems int) {}

func (l *QuietLogger) ItemProcessed(phase string, item string, action string) {
	if action != ActionFailed && action != ActionErrored {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.Out, "%s: %s\n", action, item)
}

func (l *QuietLogger) PhaseComplete(phase string, processedItems int) {}

// BarLogger redraws a single progress line, at most once per interval
type BarLogger struct {
	out      io.Writer
	bar      progress.Model
	interval time.Duration

	total  atomic.Int64
	done   atomic.Int64
	failed atomic.Int64

	mu   sync.Mutex
	last time.Time
}

// NewBarLogger renders to out, typically a terminal
func NewBarLogger(out io.Writer) *BarLogger {
	return &BarLogger{
		out:      out,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		interval: 100 * time.Millisecond,
	}
}

func (l *BarLogger) PhaseStart(phase string, totalItems int) {
	l.total.Store(int64(totalItems))
	l.done.Store(0)
	l.failed.Store(0)
	l.render(phase, true)
}

func (l *BarLogger) ItemProcessed(phase string, item string, action string) {
	l.done.Add(1)
	if action == ActionFailed || action == ActionErrored {
		l.failed.Add(1)
	}
	l.render(phase, false)
}

func (l *BarLogger) PhaseComplete(phase string, processedItems int) {
	l.render(phase, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out)
}

// Done returns the number of items seen so far
func (l *BarLogger) Done() int64 {
	return l.done.Load()
}

func (l *BarLogger) render(phase string, force bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if !force && now.Sub(l.last) < l.interval {
		return
	}
	l.last = now

	done, total := l.done.Load(), l.total.Load()
	percent := 1.0
	if total > 0 {
		percent = float64(done) / float64(total)
	}
	line := fmt.Sprintf("\r%s %s %d/%d", phase, l.bar.ViewAs(percent), done, total)
	if failed := l.failed.Load(); failed > 0 {
		line += fmt.Sprintf(" (%d failed)", failed)
	}
	fmt.Fprint(l.out, line)
}

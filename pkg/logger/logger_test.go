package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	_ Observer = (*VerboseLogger)(nil)
	_ Observer = (*NullLogger)(nil)
	_ Observer = (*QuietLogger)(nil)
	_ Observer = (*BarLogger)(nil)
)

func TestQuietLogger_OnlyFailures(t *testing.T) {
	var buf bytes.Buffer
	l := &QuietLogger{Out: &buf}

	l.PhaseStart("ingest", 3)
	l.ItemProcessed("ingest", "a.txt", "done")
	l.ItemProcessed("ingest", "b.txt", ActionFailed)
	l.ItemProcessed("ingest", "c.txt", "skipped")
	l.ItemProcessed("ingest", "d.txt", ActionErrored)
	l.PhaseComplete("ingest", 4)

	assert.Equal(t, "failed: b.txt\nerrored: d.txt\n", buf.String())
}

func TestVerboseLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &VerboseLogger{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	l.PhaseStart("ingest", 1)
	l.ItemProcessed("ingest", "a.txt", "done")
	l.PhaseComplete("ingest", 1)

	out := buf.String()
	assert.Contains(t, out, "items=1")
	assert.Contains(t, out, "msg=done")
	assert.Contains(t, out, "item=a.txt")
	assert.Contains(t, out, "processed=1")
}

func TestBarLogger_CountsConcurrently(t *testing.T) {
	var buf bytes.Buffer
	l := NewBarLogger(&buf)

	l.PhaseStart("ingest", 100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := "done"
			if i%10 == 0 {
				action = ActionFailed
			}
			l.ItemProcessed("ingest", "f", action)
		}(i)
	}
	wg.Wait()
	l.PhaseComplete("ingest", 100)

	assert.Equal(t, int64(100), l.Done())
	out := buf.String()
	assert.Contains(t, out, "100/100")
	assert.Contains(t, out, "(10 failed)")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestBarLogger_EmptyPhase(t *testing.T) {
	var buf bytes.Buffer
	l := NewBarLogger(&buf)

	l.PhaseStart("ingest", 0)
	l.PhaseComplete("ingest", 0)

	assert.Contains(t, buf.String(), "0/0")
}

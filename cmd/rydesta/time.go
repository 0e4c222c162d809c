package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
)

// timer accumulates named checkpoints between a script's bootstrap and
// each feed, and renders them on request — the implementation behind
// "-t/--time". A disabled timer (enabled=false) is free: mark and
// report are no-ops, so callers don't need to branch on the flag
// themselves.
type timer struct {
	enabled bool
	start   time.Time
	marks   []timerMark
}

type timerMark struct {
	label string
	at    time.Time
}

func newTimer(enabled bool) *timer {
	return &timer{enabled: enabled, start: time.Now()}
}

func (t *timer) mark(label string) {
	if !t.enabled {
		return
	}
	t.marks = append(t.marks, timerMark{label: label, at: time.Now()})
}

// report prints one line per checkpoint: the absolute wall clock it
// happened at (strftime-formatted), how long it took since the previous
// checkpoint (a Go duration), and humanize's rendering of when that
// previous checkpoint happened, relative to now.
func (t *timer) report(w io.Writer) {
	if !t.enabled {
		return
	}
	prev := t.start
	for _, m := range t.marks {
		elapsed := m.at.Sub(prev)
		stamp := strftime.Format("%Y-%m-%d %H:%M:%S", m.at)
		fmt.Fprintf(w, "[%s] %s: %s (%s since %s)\n",
			stamp, m.label, elapsed, humanize.Time(prev), relativeLabel(prev, t.start))
		prev = m.at
	}
}

// relativeLabel names the previous checkpoint, or "start" for the very
// first one, so the report reads naturally even with only one mark.
func relativeLabel(prev, start time.Time) string {
	if prev.Equal(start) {
		return "start"
	}
	return "previous mark"
}

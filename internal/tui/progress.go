// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/quietloop/riftpull/pkg/riftpull"
)

// LiveRenderer renders a cross-platform, adaptive progress table for one
// download: an overall bar plus one row per active worker. Adapted from
// the teacher's per-file progress table to a per-worker one, since
// riftpull drives many workers against a single target rather than many
// files against one repo.
type LiveRenderer struct {
	url  string
	dest string

	mu         sync.Mutex
	events     chan riftpull.Event
	done       chan struct{}
	stopped    bool
	hideCur    bool
	supports   bool
	noColor    bool

	totalBytes uint64
	workers    map[int]*workerState

	lastTotal     uint64
	lastTick      time.Time
	smoothedSpeed float64
}

type workerState struct {
	offset        uint64
	length        uint64
	status        string // "pulling","done","error"
	lastErr       string
	lastOffset    uint64
	lastTime      time.Time
	smoothedSpeed float64
}

const speedSmoothingFactor = 0.3

func smoothSpeed(current, previous float64) float64 {
	if previous == 0 {
		return current
	}
	return speedSmoothingFactor*current + (1-speedSmoothingFactor)*previous
}

// NewLiveRenderer creates a renderer for one download of totalBytes bytes
// (0 if unknown) from url into dest.
func NewLiveRenderer(url, dest string, totalBytes uint64) *LiveRenderer {
	lr := &LiveRenderer{
		url:        url,
		dest:       dest,
		totalBytes: totalBytes,
		events:     make(chan riftpull.Event, 2048),
		done:       make(chan struct{}),
		workers:    map[int]*workerState{},
		noColor:    os.Getenv("NO_COLOR") != "",
	}
	lr.supports = isInteractive() && ansiOkay()
	if lr.supports && !lr.noColor {
		fmt.Fprint(os.Stdout, "\x1b[?25l")
		lr.hideCur = true
	}
	go lr.loop()
	return lr
}

// Close stops the renderer and restores the terminal.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	if lr.stopped {
		lr.mu.Unlock()
		return
	}
	lr.stopped = true
	close(lr.done)
	lr.mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	if lr.hideCur {
		fmt.Fprint(os.Stdout, "\x1b[?25h")
	}
	fmt.Fprintln(os.Stdout)
}

// Observer returns a func(Event) suitable for Args.Observer.
func (lr *LiveRenderer) Observer() func(riftpull.Event) {
	return func(ev riftpull.Event) {
		select {
		case lr.events <- ev:
		default:
			// Drop under congestion; rendering stays smooth rather than
			// backing up on a slow terminal.
		}
	}
}

func (lr *LiveRenderer) loop() {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-lr.done:
			lr.render(true)
			return
		case ev := <-lr.events:
			lr.apply(ev)
		case <-ticker.C:
			lr.render(false)
		}
	}
}

func (lr *LiveRenderer) apply(ev riftpull.Event) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	ws := lr.ensure(ev.ChunkID)
	switch ev.Kind {
	case riftpull.EventPulling:
		ws.status = "pulling"
		ws.offset = ev.Offset
	case riftpull.EventPullProgress:
		ws.offset = ev.Offset + ev.Length
	case riftpull.EventPushProgress:
		// push progress is what actually lands on disk; drive the bar
		// off this rather than pull progress.
		ws.length += ev.Length
	case riftpull.EventPullError:
		ws.status = "error"
		if ev.Err != nil {
			ws.lastErr = ev.Err.Error()
		}
	case riftpull.EventPullTimeout:
		ws.status = "timeout"
	case riftpull.EventFinished:
		ws.status = "done"
	}
}

func (lr *LiveRenderer) ensure(id int) *workerState {
	if ws, ok := lr.workers[id]; ok {
		return ws
	}
	ws := &workerState{status: "queued"}
	lr.workers[id] = ws
	return ws
}

func (lr *LiveRenderer) render(final bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	w, h := termSize()
	if w < 70 {
		w = 70
	}
	if h < 10 {
		h = 10
	}

	var written uint64
	for _, ws := range lr.workers {
		written += ws.length
	}

	now := time.Now()
	if !lr.lastTick.IsZero() && now.After(lr.lastTick) {
		dt := now.Sub(lr.lastTick).Seconds()
		if dt > 0.05 {
			delta := int64(written) - int64(lr.lastTotal)
			instant := float64(delta) / dt
			if instant >= 0 {
				lr.smoothedSpeed = smoothSpeed(instant, lr.smoothedSpeed)
			}
			lr.lastTick = now
			lr.lastTotal = written
		}
	} else if lr.lastTick.IsZero() {
		lr.lastTick = now
		lr.lastTotal = written
	}
	speed := lr.smoothedSpeed

	var etaStr string
	if speed > 0 && lr.totalBytes > 0 && written < lr.totalBytes {
		rem := float64(lr.totalBytes-written) / speed
		etaStr = fmtDuration(time.Duration(rem) * time.Second)
	} else {
		etaStr = "—"
	}

	if lr.supports {
		fmt.Fprint(os.Stdout, "\x1b[H\x1b[2J")
	}

	fmt.Fprintln(os.Stdout, colorize(bold(lr.url), "fg=cyan", lr))
	fmt.Fprintln(os.Stdout, dim(fmt.Sprintf("-> %s", lr.dest)))

	prog := float64(0)
	totalStr := "?"
	if lr.totalBytes > 0 {
		prog = float64(written) / float64(lr.totalBytes)
		if prog > 1 {
			prog = 1
		}
		totalStr = humanize.Bytes(lr.totalBytes)
	}
	bar := renderBar(int(float64(w)*0.4), prog, lr)
	fmt.Fprintf(os.Stdout, "%s  %s  %s/%s  %s/s  ETA %s\n",
		colorize(bar, "fg=green", lr), percent(prog),
		humanize.Bytes(written), totalStr,
		humanize.Bytes(uint64(speed)), etaStr,
	)

	fmt.Fprintln(os.Stdout)
	ids := make([]int, 0, len(lr.workers))
	for id := range lr.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	maxRows := h - 8
	if maxRows < 3 {
		maxRows = 3
	}
	shown := 0
	for _, id := range ids {
		if shown >= maxRows {
			break
		}
		fmt.Fprintln(os.Stdout, renderWorkerRow(id, lr.workers[id], w, lr))
		shown++
	}

	if lr.supports {
		fmt.Fprintln(os.Stdout, dim(fmt.Sprintf("Press Ctrl+C to cancel • %s %s", runtime.GOOS, runtime.GOARCH)))
	}
}

func renderWorkerRow(id int, ws *workerState, w int, lr *LiveRenderer) string {
	var st, col string
	switch ws.status {
	case "pulling":
		st, col = "▶", "fg=yellow"
	case "done":
		st, col = "✓", "fg=green"
	case "error":
		st, col = "×", "fg=red"
	case "timeout":
		st, col = "⏱", "fg=magenta"
	default:
		st, col = "…", "fg=blue"
	}
	label := fmt.Sprintf("worker %d", id)
	status := pad(colorize(st+" "+ws.status, col, lr), 14)

	now := time.Now()
	if !ws.lastTime.IsZero() {
		dt := now.Sub(ws.lastTime).Seconds()
		if dt > 0.05 {
			delta := int64(ws.offset) - int64(ws.lastOffset)
			instant := float64(delta) / dt
			if instant >= 0 {
				ws.smoothedSpeed = smoothSpeed(instant, ws.smoothedSpeed)
			}
			ws.lastTime = now
			ws.lastOffset = ws.offset
		}
	} else {
		ws.lastTime = now
		ws.lastOffset = ws.offset
	}
	speedTxt := pad(humanize.Bytes(uint64(ws.smoothedSpeed))+"/s", 12)

	detail := fmt.Sprintf("offset %s", humanize.Bytes(ws.offset))
	if ws.status == "error" && ws.lastErr != "" {
		detail = ellipsizeMiddle(ws.lastErr, w-40)
	}

	return fmt.Sprintf("%s  %s  %s  %s", status, pad(label, 12), speedTxt, detail)
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return pad(s, w)
	}
	runes := []rune(s)
	half := (w - 3) / 2
	if 2*half+3 > len(runes) {
		return pad(s, w)
	}
	return pad(string(runes[:half])+"..."+string(runes[len(runes)-half:]), w)
}

func pad(s string, w int) string {
	r := utf8.RuneCountInString(s)
	if r >= w {
		return s
	}
	return s + strings.Repeat(" ", w-r)
}

func renderBar(width int, p float64, lr *LiveRenderer) string {
	if width < 3 {
		width = 3
	}
	filled := int(p * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percent(p float64) string {
	return fmt.Sprintf("%3.0f%%", p*100)
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func termSize() (int, int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 100, 30
	}
	return w, h
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}

func colorize(s, style string, lr *LiveRenderer) string {
	if lr.noColor || !lr.supports {
		return s
	}
	switch style {
	case "fg=green":
		return "\x1b[32m" + s + "\x1b[0m"
	case "fg=yellow":
		return "\x1b[33m" + s + "\x1b[0m"
	case "fg=red":
		return "\x1b[31m" + s + "\x1b[0m"
	case "fg=blue":
		return "\x1b[34m" + s + "\x1b[0m"
	case "fg=magenta":
		return "\x1b[35m" + s + "\x1b[0m"
	case "fg=cyan":
		return "\x1b[36m" + s + "\x1b[0m"
	default:
		return s
	}
}

func bold(s string) string { return "\x1b[1m" + s + "\x1b[0m" }
func dim(s string) string  { return "\x1b[2m" + s + "\x1b[0m" }

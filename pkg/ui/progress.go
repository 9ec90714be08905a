package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"znum/pkg/models"
)

const barWidth = 20

// PageProgress renders a one-line progress bar for a document download.
// Observe matches the downloader's progress callback.
type PageProgress struct {
	mu         sync.Mutex
	term       *Terminal
	documentID string
	total      int
	done       int
	skipped    int
	startTime  time.Time
	now        func() time.Time
}

// NewPageProgress creates a progress display for one document
func NewPageProgress(t *Terminal, documentID string, total int) *PageProgress {
	return &PageProgress{
		term:       t,
		documentID: documentID,
		total:      total,
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// Observe records a finished page and redraws the line
func (p *PageProgress) Observe(done, total int, artifact models.PageArtifact) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = done
	p.total = total
	if artifact.Skipped {
		p.skipped++
	}

	if p.term.Quiet {
		return
	}
	line := p.line(artifact.Page)
	if p.term.IsTTY() {
		fmt.Fprintf(p.term.out, "\r%s\r%s", strings.Repeat(" ", 100), line)
	} else {
		fmt.Fprintln(p.term.out, line)
	}
}

func (p *PageProgress) line(page int) string {
	return fmt.Sprintf("%s [%s] %d/%d • page %d • %s",
		p.term.paint(Cyan)(p.documentID),
		Bar(p.done, p.total, barWidth),
		p.done,
		p.total,
		page,
		p.eta(),
	)
}

// Finish ends the progress line with a summary
func (p *PageProgress) Finish(err error, stoppedAt int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.term.IsTTY() && !p.term.Quiet {
		fmt.Fprintln(p.term.out)
	}

	elapsed := p.now().Sub(p.startTime)
	if err != nil {
		p.term.Error(fmt.Sprintf("Stopped at page %d after %d/%d pages", stoppedAt, p.done, p.total), err)
		return
	}

	fetched := p.done - p.skipped
	p.term.Success(fmt.Sprintf("✓ %d pages of %s (%d fetched, %d already on disk) in %s",
		p.done, p.documentID, fetched, p.skipped, FormatDuration(elapsed)))
}

// eta estimates the remaining time from the pages fetched so far
func (p *PageProgress) eta() string {
	fetched := p.done - p.skipped
	if fetched <= 0 {
		return "calculating..."
	}

	per := p.now().Sub(p.startTime) / time.Duration(fetched)
	remaining := time.Duration(p.total-p.done) * per
	return FormatDuration(remaining)
}

// Bar draws a fixed-width progress bar
func Bar(done, total, width int) string {
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	filled = min(max(filled, 0), width)
	return strings.Repeat("━", filled) + strings.Repeat("─", width-filled)
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

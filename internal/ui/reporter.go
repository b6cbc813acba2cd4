// Package ui renders session progress on the console.
package ui

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"peerdrop/internal/session"
)

// Outcome is the terminal result of one transfer as observed on the
// event stream.
type Outcome struct {
	Phase    session.Phase
	Progress *session.Progress
}

// Reporter consumes session events and draws a progress bar for the
// active transfer.
type Reporter struct {
	bar       *progressbar.ProgressBar
	operation string // "Sending" or "Receiving"
	fileName  string
	total     uint64
}

// NewReporter creates a reporter. The operation string prefixes the bar
// description.
func NewReporter(operation string) *Reporter {
	return &Reporter{operation: operation}
}

// Run drains events until the transfer reaches a terminal status, the
// session reaches a terminal phase, or ctx is cancelled. It returns the
// last terminal state it saw.
func (r *Reporter) Run(ctx context.Context, events <-chan session.Event) Outcome {
	var out Outcome

	for {
		select {
		case <-ctx.Done():
			r.finish()
			return out
		case ev, ok := <-events:
			if !ok {
				r.finish()
				return out
			}
			out.Phase = ev.Phase

			if ev.Progress == nil {
				continue
			}
			r.update(*ev.Progress)

			if ev.Progress.Status != session.StatusActive {
				out.Progress = ev.Progress
				r.finish()
				r.showSummary(*ev.Progress)
				return out
			}
			if ev.Phase.Terminal() {
				out.Progress = ev.Progress
				r.finish()
				return out
			}
		}
	}
}

func (r *Reporter) update(p session.Progress) {
	if r.bar == nil && p.FileSize > 0 {
		r.fileName = p.FileName
		r.total = p.FileSize
		r.bar = progressbar.NewOptions64(int64(p.FileSize),
			progressbar.OptionSetDescription(fmt.Sprintf("%s %s", r.operation, p.FileName)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(false),
		)
	}
	if r.bar == nil {
		return
	}

	_ = r.bar.Set64(int64(p.Bytes))
	if p.Speed > 0 {
		r.bar.Describe(fmt.Sprintf("%s %s (%.1f%% - %.2f MB/s)",
			r.operation, r.fileName, p.Percentage, p.Speed/(1024*1024)))
	}
}

func (r *Reporter) finish() {
	if r.bar == nil {
		return
	}
	_ = r.bar.Finish()
	r.bar = nil
}

func (r *Reporter) showSummary(p session.Progress) {
	switch p.Status {
	case session.StatusCompleted:
		fmt.Printf("\n=============================================\n")
		fmt.Printf("File transfer completed successfully!\n")
		fmt.Printf("+ File: %s\n", p.FileName)
		fmt.Printf("+ Total bytes: %s\n", FormatFileSize(int64(p.Bytes)))
		fmt.Printf("+ Completion: %.1f%%\n", p.Percentage)
		if p.Speed > 0 {
			fmt.Printf("+ Average throughput: %.2f MB/s\n", p.Speed/(1024*1024))
		}
		if p.SavedPath != "" {
			fmt.Printf("+ Saved to: %s\n", p.SavedPath)
		}
		fmt.Printf("=============================================\n")
	case session.StatusCancelled:
		fmt.Printf("\nTransfer of %s cancelled after %s.\n",
			p.FileName, FormatFileSize(int64(p.Bytes)))
	case session.StatusErrored:
		fmt.Printf("\nTransfer of %s failed: %v\n", p.FileName, p.Err)
	}
}

// FormatFileSize renders a byte count with a binary unit suffix.
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/ksabench/pkg/sweep"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// numStatsRows is the number of rows of the stats table drawn above the progress bar.
const numStatsRows = 4

// Progress displays the progress of a sweep.
//
// On a terminal it draws a progress bar with a small table of live stats, updated asynchronously
// so that a slow terminal never delays the trials. Otherwise, it prints one line per degree.
type Progress struct {
	out         io.Writer
	interactive bool
	totalTrials int

	bar        *progressbar.ProgressBar
	termenv    *termenv.Output
	statsStyle lipgloss.Style
	statsTable *lgtable.Table

	mu            sync.Mutex
	pending       int
	trialsDone    int
	lastTrial     sweep.Trial
	best          sweep.Summary
	degreesDone   int
	isFirstOutput bool
	closed        bool

	notify      chan struct{}
	drawingDone sync.WaitGroup
}

// NewProgress creates a Progress for a sweep of totalTrials trials written to out.
// If out is not a terminal, or disabled is true, the display is reduced to one line per degree.
func NewProgress(out *os.File, totalTrials int, disabled bool) *Progress {
	p := &Progress{
		out:         out,
		totalTrials: totalTrials,
		interactive: !disabled && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())),
	}
	if !p.interactive {
		return p
	}
	p.isFirstOutput = true
	p.termenv = termenv.NewOutput(out)
	p.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
	p.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	p.bar = progressbar.NewOptions(totalTrials,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("trials"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(out),
	)
	p.notify = make(chan struct{}, 1)
	p.drawingDone.Add(1)
	go p.drawLoop()
	return p
}

// OnTrial records a finished trial. It never blocks on the terminal.
func (p *Progress) OnTrial(trial sweep.Trial) {
	if !p.interactive {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending++
	p.trialsDone++
	p.lastTrial = trial
	select {
	case p.notify <- struct{}{}:
	default:
		// A redraw is already scheduled.
	}
}

// OnDegree records a finished degree.
func (p *Progress) OnDegree(s sweep.Summary) {
	p.mu.Lock()
	p.degreesDone++
	if p.degreesDone == 1 || s.MeanThroughput > p.best.MeanThroughput {
		p.best = s
	}
	p.mu.Unlock()
	if !p.interactive {
		_, _ = fmt.Fprintf(p.out, "degree %d: mean %s over %d trials\n",
			s.Degree, FormatThroughput(s.MeanThroughput), len(s.Trials))
	}
}

func (p *Progress) drawLoop() {
	defer p.drawingDone.Done()
	for range p.notify {
		p.draw()
		time.Sleep(maxUpdateFrequency)
	}
}

// draw prints the stats table and the progress bar, overwriting the previous ones.
func (p *Progress) draw() {
	p.mu.Lock()
	amount := p.pending
	p.pending = 0
	last, best, trialsDone, degreesDone := p.lastTrial, p.best, p.trialsDone, p.degreesDone
	p.mu.Unlock()
	if amount == 0 {
		return
	}

	p.statsTable.Data(lgtable.NewStringData())
	p.statsTable.Row("Trials", fmt.Sprintf("%s of %s", humanize.Comma(int64(trialsDone)), humanize.Comma(int64(p.totalTrials))))
	p.statsTable.Row("Current degree", fmt.Sprintf("%d (%d done)", last.Degree, degreesDone))
	p.statsTable.Row("Last trial", fmt.Sprintf("%s, %s", FormatDuration(time.Duration(last.ElapsedNs)), FormatThroughput(last.Throughput)))
	if degreesDone > 0 {
		p.statsTable.Row("Best so far", fmt.Sprintf("degree %d, %s", best.Degree, FormatThroughput(best.MeanThroughput)))
	} else {
		p.statsTable.Row("Best so far", "-")
	}

	p.termenv.HideCursor()
	if !p.isFirstOutput {
		p.termenv.CursorPrevLine(numStatsRows + 2 + 2)
	}
	p.isFirstOutput = false
	_, _ = fmt.Fprintln(p.out, p.statsStyle.Render(p.statsTable.String()))
	_ = p.bar.Add(amount)
	_, _ = fmt.Fprintln(p.out)
	p.termenv.ShowCursor()
}

// Done flushes the display. It must be called once, after the sweep.
func (p *Progress) Done() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.interactive {
		close(p.notify)
	}
	p.mu.Unlock()
	if !p.interactive {
		return
	}
	p.drawingDone.Wait()
	p.draw()
	p.termenv.ShowCursor()
	_, _ = fmt.Fprintln(p.out)
}

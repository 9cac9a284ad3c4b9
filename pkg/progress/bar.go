// Package progress renders copy progress as a text bar or as log lines.
package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

const (
	fullBlock    = "█"
	maxPercent   = "[100.00%]"
	separator    = " "
	minBarBlocks = 10
	epsilon      = 1e-6
)

// gradient of incompleteness, emptiest first
var partialBlocks = []string{"░", "▒", "▓"}

// Percent returns 100*copied/total clamped to [0, 100]. An empty job is complete.
func Percent(copied, total int64) float64 {
	if total <= 0 {
		return 100
	}
	p := 100 * float64(copied) / float64(total)
	return min(max(p, 0), 100)
}

// Render draws a bar of the given total width followed by the percentage,
// e.g. "█████▒░░░░ [52.10 %]". The bar part is never narrower than ten blocks.
func Render(percent float64, width int) string {
	percent = min(max(percent, 0), 100)

	blocks := max(width-len(separator)-len(maxPercent), minBarBlocks)
	perBlock := 100.0 / float64(blocks)

	full := min(int((percent+epsilon)/perBlock), blocks)
	bar := make([]string, blocks)
	for i := range bar {
		if i < full {
			bar[i] = fullBlock
		} else {
			bar[i] = partialBlocks[0]
		}
	}

	// shade the first empty block by how far into it we are
	if remainder := percent - float64(full)*perBlock; remainder > epsilon && full < blocks {
		idx := min(int(float64(len(partialBlocks))*remainder/perBlock), len(partialBlocks)-1)
		bar[full] = partialBlocks[idx]
	}

	pct := fmt.Sprintf("%-6s", fmt.Sprintf("%.2f", percent))
	return strings.Join(bar, "") + separator + "[" + pct + "%]"
}

// Bar redraws a single terminal line on every update.
type Bar struct {
	Out   io.Writer
	Width int
}

func NewBar(out io.Writer, width int) *Bar {
	return &Bar{Out: out, Width: width}
}

func (b *Bar) Update(copied, total int64) {
	fmt.Fprint(b.Out, "\r"+Render(Percent(copied, total), b.Width))
}

// Done moves the cursor past the bar.
func (b *Bar) Done() {
	fmt.Fprintln(b.Out)
}

// Logger emits a log line each time progress crosses another Step percent.
type Logger struct {
	Step float64
	next float64
}

func NewLogger(step float64) *Logger {
	return &Logger{Step: step, next: step}
}

func (l *Logger) Update(copied, total int64) {
	if l.Step <= 0 {
		l.Step = 10
	}
	p := Percent(copied, total)
	if p < l.next {
		return
	}
	for l.next <= p {
		l.next += l.Step
	}
	log.Info().
		Str("copied", humanize.Bytes(uint64(copied))).
		Str("total", humanize.Bytes(uint64(total))).
		Msgf("%.0f%% complete", p)
}

func (l *Logger) Done() {}

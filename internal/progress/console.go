// Package progress implements progress loggers for lifecycle operations.
package progress

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

const clearLine = "\x1b[K"

// Console writes messages and populate progress to a terminal or a pipe.
// In interactive mode progress is redrawn in place; otherwise one line is
// written per percent step.
type Console struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	lastPercent int
	midLine     bool
}

// NewConsole creates a console logger writing to out.
func NewConsole(out io.Writer, interactive bool) *Console {
	return &Console{out: out, interactive: interactive, lastPercent: -1}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// LogMessage implements indexer.ProgressLogger.
func (c *Console) LogMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.midLine {
		_, _ = fmt.Fprintln(c.out)
		c.midLine = false
	}
	c.lastPercent = -1
	_, _ = fmt.Fprintln(c.out, msg)
}

// LogProgress implements indexer.ProgressLogger.
func (c *Console) LogProgress(total, current int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	percent := Percent(total, current)
	if c.interactive {
		_, _ = fmt.Fprintf(c.out, "\rDone %d%% (%d/%d)", percent, current, total)
		if current < total {
			_, _ = io.WriteString(c.out, clearLine)
			c.midLine = true
			return
		}
		_, _ = fmt.Fprintln(c.out)
		c.midLine = false
		return
	}

	if percent == c.lastPercent && current < total {
		return
	}
	c.lastPercent = percent
	_, _ = fmt.Fprintf(c.out, "Done %d%% (%d/%d)\n", percent, current, total)
}

// Percent rounds current/total up to a whole percentage. An unknown or
// empty total reports 100.
func Percent(total, current int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Ceil(float64(current) * 100 / float64(total)))
}

// Slog forwards messages to a structured logger. Progress is logged at
// debug level.
type Slog struct {
	logger *slog.Logger
}

// NewSlog creates a progress logger backed by logger, or slog.Default.
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

// LogMessage implements indexer.ProgressLogger.
func (s *Slog) LogMessage(msg string) {
	s.logger.Info(msg)
}

// LogProgress implements indexer.ProgressLogger.
func (s *Slog) LogProgress(total, current int) {
	s.logger.Debug("Populate progress", "current", current, "total", total, "percent", Percent(total, current))
}

// Multi fans out to several loggers.
type Multi []interface {
	LogMessage(string)
	LogProgress(int, int)
}

// LogMessage implements indexer.ProgressLogger.
func (m Multi) LogMessage(msg string) {
	for _, l := range m {
		l.LogMessage(msg)
	}
}

// LogProgress implements indexer.ProgressLogger.
func (m Multi) LogProgress(total, current int) {
	for _, l := range m {
		l.LogProgress(total, current)
	}
}

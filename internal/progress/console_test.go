package progress

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		total, current, want int
	}{
		{3, 1, 34},
		{3, 3, 100},
		{200, 1, 1},
		{0, 0, 100},
		{-1, 5, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.total, tt.current), "Percent(%d, %d)", tt.total, tt.current)
	}
}

func TestConsole_Interactive(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)

	c.LogMessage("Indexing documents for index: products")
	c.LogProgress(2, 1)
	c.LogProgress(2, 2)

	assert.Equal(t,
		"Indexing documents for index: products\n"+
			"\rDone 50% (1/2)"+clearLine+
			"\rDone 100% (2/2)\n",
		buf.String())
}

func TestConsole_InteractiveMessageBreaksProgressLine(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)

	c.LogProgress(4, 1)
	c.LogMessage("Creating index: b")

	assert.True(t, strings.HasSuffix(buf.String(), clearLine+"\nCreating index: b\n"))
}

func TestConsole_PlainPrintsOncePerPercent(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)

	for i := 1; i <= 300; i++ {
		c.LogProgress(300, i)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 100)
	assert.Equal(t, "Done 1% (1/300)", lines[0])
	assert.Equal(t, "Done 100% (300/300)", lines[99])
}

func TestSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewSlog(logger)

	s.LogMessage("Creating index: products")
	s.LogProgress(10, 5)

	out := buf.String()
	assert.Contains(t, out, `msg="Creating index: products"`)
	assert.Contains(t, out, "current=5 total=10 percent=50")
}

func TestMulti(t *testing.T) {
	var a, b bytes.Buffer
	m := Multi{NewConsole(&a, false), NewConsole(&b, false)}

	m.LogMessage("hello")
	m.LogProgress(1, 1)

	assert.Equal(t, "hello\nDone 100% (1/1)\n", a.String())
	assert.Equal(t, a.String(), b.String())
}

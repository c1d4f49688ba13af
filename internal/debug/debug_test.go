package debug

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Init(LevelOff)
	})
	return &buf
}

func TestLevelGating(t *testing.T) {
	buf := capture(t, LevelLive)

	Info("info %d", 1)
	Live("live %d", 2)
	Verbose("verbose %d", 3)
	Trace("trace %d", 4)

	got := buf.String()
	assert.Contains(t, got, "info 1")
	assert.Contains(t, got, "[LIVE] live 2")
	assert.NotContains(t, got, "verbose 3")
	assert.NotContains(t, got, "trace 4")
}

func TestOffProducesNothing(t *testing.T) {
	buf := capture(t, LevelOff)

	Info("hidden")
	Error(errors.New("hidden error"))
	Summary("hidden summary")

	assert.Empty(t, buf.String())
	assert.Empty(t, Fmt("x=%d", 1))
}

func TestBusTrace(t *testing.T) {
	buf := capture(t, LevelTrace)

	Bus("write", 3, 0x1801, []uint16{0x4001})

	assert.Contains(t, buf.String(), "[BUS] write slave=3 addr=0x1801 values=[16385]")
}

func TestIsEnabled(t *testing.T) {
	capture(t, LevelVerbose)

	assert.True(t, IsEnabled(LevelInfo))
	assert.True(t, IsEnabled(LevelVerbose))
	assert.False(t, IsEnabled(LevelTrace))
	assert.Equal(t, LevelVerbose, Level())
}

func TestErrorAndValue(t *testing.T) {
	buf := capture(t, LevelInfo)

	Error(errors.New("bus down"))
	Value("Slave", 2)

	got := buf.String()
	assert.Contains(t, got, "ERROR")
	assert.Contains(t, got, "bus down")
	assert.Contains(t, got, "Slave = 2")
}

func TestSummaryAndFmt(t *testing.T) {
	buf := capture(t, LevelInfo)

	Summary(Fmt("Sequence complete (%d waypoints)", 3))

	assert.Contains(t, buf.String(), "Sequence complete (3 waypoints)")
	assert.Equal(t, "x=1", Fmt("x=%d", 1))
}

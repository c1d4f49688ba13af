package teleop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cjeanneret/ICLJog/internal/config"
	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
)

func defaultKeymap() Keymap {
	return NewKeymap(config.DefaultVelocityKeys(), config.DefaultPresetKeys(), 100)
}

func TestDecode_Arrows(t *testing.T) {
	k := defaultKeymap()

	assert.Equal(t, []Intent{ToggleJog(stepper.Clockwise)}, k.Decode([]byte("\x1b[C")))
	assert.Equal(t, []Intent{ToggleJog(stepper.CounterClockwise)}, k.Decode([]byte("\x1b[D")))
	assert.Equal(t, []Intent{StepJogVelocity(100)}, k.Decode([]byte("\x1b[A")))
	assert.Equal(t, []Intent{StepJogVelocity(-100)}, k.Decode([]byte("\x1b[B")))
}

func TestDecode_Digits(t *testing.T) {
	k := defaultKeymap()

	assert.Equal(t, []Intent{Select(2), Select(0)}, k.Decode([]byte("20")))
}

func TestDecode_VelocityAndPresetKeys(t *testing.T) {
	k := defaultKeymap()

	assert.Equal(t, []Intent{SetJogVelocity(400)}, k.Decode([]byte("a")))
	assert.Equal(t, []Intent{SetJogVelocity(1012)}, k.Decode([]byte(";")))
	assert.Equal(t, []Intent{MoveTo(-30000)}, k.Decode([]byte("z")))
	assert.Equal(t, []Intent{MoveTo(0)}, k.Decode([]byte("v")))
	assert.Equal(t, []Intent{MoveTo(30000)}, k.Decode([]byte("m")))
}

func TestDecode_ControlKeys(t *testing.T) {
	k := defaultKeymap()

	assert.Equal(t, []Intent{ReadStatus()}, k.Decode([]byte("w")))
	assert.Equal(t, []Intent{Stop()}, k.Decode([]byte(" ")))
	assert.Equal(t, []Intent{Quit()}, k.Decode([]byte("q")))
	assert.Equal(t, []Intent{Quit()}, k.Decode([]byte{esc}))
	assert.Equal(t, []Intent{Quit()}, k.Decode([]byte{ctrlC}))
}

func TestDecode_MixedChunk(t *testing.T) {
	k := defaultKeymap()

	got := k.Decode([]byte("1\x1b[Cs?w"))

	assert.Equal(t, []Intent{
		Select(1),
		ToggleJog(stepper.Clockwise),
		SetJogVelocity(448),
		ReadStatus(),
	}, got)
}

func TestDecode_IncompleteEscapeIgnored(t *testing.T) {
	k := defaultKeymap()

	assert.Empty(t, k.Decode([]byte("\x1b[")))
	assert.Empty(t, k.Decode([]byte("\x1b[Z")))
	assert.Empty(t, k.Decode(nil))
}

func TestNewKeymap_SkipsLongKeys(t *testing.T) {
	k := NewKeymap(map[string]int{"ab": 1, "x": 2}, map[string]int32{"long": 3}, 10)

	assert.Len(t, k.Velocity, 1)
	assert.Empty(t, k.Presets)
	assert.Equal(t, 10, k.VelocityStep)
}

func TestIntent_StringAndMoves(t *testing.T) {
	assert.Equal(t, "select(3)", Select(3).String())
	assert.Equal(t, "toggle-jog(ccw)", ToggleJog(stepper.CounterClockwise).String())
	assert.Equal(t, "move-to(-100)", MoveTo(-100).String())
	assert.Equal(t, "quit", Quit().String())
	assert.True(t, MoveTo(1).Moves())
	assert.True(t, Jog(stepper.Clockwise).Moves())
	assert.False(t, Stop().Moves())
	assert.False(t, ReadStatus().Moves())
}

func TestKeyDecoder_SplitArrow(t *testing.T) {
	d := NewKeyDecoder(defaultKeymap())

	assert.Empty(t, d.Feed([]byte{esc}))
	assert.True(t, d.Pending())
	assert.Equal(t, []Intent{ToggleJog(stepper.Clockwise)}, d.Feed([]byte("[C")))
	assert.False(t, d.Pending())

	assert.Equal(t, []Intent{Select(1)}, d.Feed([]byte("1\x1b[")))
	assert.True(t, d.Pending())
	assert.Equal(t, []Intent{StepJogVelocity(-100), ReadStatus()}, d.Feed([]byte("Bw")))
}

func TestKeyDecoder_FlushLoneEscQuits(t *testing.T) {
	d := NewKeyDecoder(defaultKeymap())

	assert.Equal(t, []Intent{Stop()}, d.Feed([]byte(" \x1b")))
	assert.Equal(t, []Intent{Quit()}, d.Flush())
	assert.False(t, d.Pending())
	assert.Empty(t, d.Flush())
}

func TestKeyDecoder_FlushDropsPartialArrow(t *testing.T) {
	d := NewKeyDecoder(defaultKeymap())

	assert.Empty(t, d.Feed([]byte("\x1b[")))
	assert.Empty(t, d.Flush())
	assert.Equal(t, []Intent{SetJogVelocity(400)}, d.Feed([]byte("a")))
}

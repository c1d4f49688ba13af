package gpio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingDriver struct {
	MockDriver
	setupErr error
	readErr  error
	modes    map[int]PinMode
}

func (f *failingDriver) SetupPin(pin int, mode PinMode) error {
	if f.modes == nil {
		f.modes = make(map[int]PinMode)
	}
	f.modes[pin] = mode
	return f.setupErr
}

func (f *failingDriver) ReadPin(pin int) (Level, error) {
	if f.readErr != nil {
		return Low, f.readErr
	}
	return f.MockDriver.ReadPin(pin)
}

func TestMockDriver_RemembersLevels(t *testing.T) {
	m := NewMockDriver()

	l, err := m.ReadPin(4)
	require.NoError(t, err)
	assert.Equal(t, Low, l)

	require.NoError(t, m.WritePin(4, High))
	l, _ = m.ReadPin(4)
	assert.Equal(t, High, l)

	m.Set(4, Low)
	l, _ = m.ReadPin(4)
	assert.Equal(t, Low, l)
	assert.NoError(t, m.Close())
}

func TestMockDriver_ZeroValueUsable(t *testing.T) {
	var m MockDriver
	m.Set(1, High)
	l, err := m.ReadPin(1)
	require.NoError(t, err)
	assert.Equal(t, High, l)
}

func TestNewDriver_Mock(t *testing.T) {
	drv, err := NewDriver(true)
	require.NoError(t, err)
	assert.IsType(t, &MockDriver{}, drv)
}

func TestEStop_ActiveLow(t *testing.T) {
	drv := &failingDriver{}
	e, err := NewEStop(drv, 21, true)
	require.NoError(t, err)
	assert.Equal(t, InputPullUp, drv.modes[21])

	drv.Set(21, High)
	pressed, err := e.Pressed()
	require.NoError(t, err)
	assert.False(t, pressed)

	drv.Set(21, Low)
	pressed, err = e.Pressed()
	require.NoError(t, err)
	assert.True(t, pressed)
}

func TestEStop_ActiveHigh(t *testing.T) {
	drv := &failingDriver{}
	e, err := NewEStop(drv, 20, false)
	require.NoError(t, err)
	assert.Equal(t, InputPullDown, drv.modes[20])
	assert.Equal(t, Low, e.IdleLevel())

	pressed, _ := e.Pressed()
	assert.False(t, pressed)
	drv.Set(20, High)
	pressed, _ = e.Pressed()
	assert.True(t, pressed)
}

func TestEStop_Errors(t *testing.T) {
	_, err := NewEStop(NewMockDriver(), 0, true)
	assert.Error(t, err)

	_, err = NewEStop(&failingDriver{setupErr: errors.New("busy")}, 5, true)
	assert.Error(t, err)

	e, err := NewEStop(&failingDriver{readErr: errors.New("io")}, 5, true)
	require.NoError(t, err)
	_, err = e.Pressed()
	assert.Error(t, err)
}

func TestEStop_NilNeverPressed(t *testing.T) {
	var e *EStop
	pressed, err := e.Pressed()
	require.NoError(t, err)
	assert.False(t, pressed)
}

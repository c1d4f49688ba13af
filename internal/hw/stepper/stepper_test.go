package stepper

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/ICLJog/internal/hw/modbus"
)

func newSimDrive(t *testing.T, ids ...uint8) (*Drive, *Simulator) {
	t.Helper()
	sim := NewSimulator(ids...)
	d := NewDrive(modbus.NewBus(sim, nil))
	require.NoError(t, d.Select(ids[0]))
	sim.Reset()
	return d, sim
}

func TestSplitPosition(t *testing.T) {
	cases := []struct {
		pos       int32
		high, low uint16
	}{
		{0, 0x0000, 0x0000},
		{10000, 0x0000, 0x2710},
		{-10000, 0xFFFF, 0xD8F0},
		{70000, 0x0001, 0x1170},
		{-1, 0xFFFF, 0xFFFF},
		{math.MaxInt32, 0x7FFF, 0xFFFF},
		{math.MinInt32, 0x8000, 0x0000},
	}
	for _, tc := range cases {
		high, low := SplitPosition(tc.pos)
		assert.Equal(t, tc.high, high, "high of %d", tc.pos)
		assert.Equal(t, tc.low, low, "low of %d", tc.pos)
		assert.Equal(t, uint16((tc.pos>>16)&0xFFFF), high)
		assert.Equal(t, uint16(tc.pos&0xFFFF), low)
		assert.Equal(t, tc.pos, JoinPosition(high, low))
	}
}

func TestProfile_RegisterOrder(t *testing.T) {
	p := Profile{Position: -30000, Velocity: 400, Acceleration: 50, Deceleration: 60}
	regs := p.Registers()

	require.Len(t, regs, ProfileLength)
	assert.Equal(t, []uint16{PR0ModeAbsolute, 0xFFFF, 0x8AD0, 400, 50, 60}, regs)

	back, err := DecodeProfile(regs)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestDecodeProfile_Invalid(t *testing.T) {
	_, err := DecodeProfile([]uint16{1, 2, 3})
	assert.Error(t, err)

	_, err = DecodeProfile([]uint16{0x0002, 0, 0, 0, 0, 0})
	assert.Error(t, err)
}

func TestDecodeStatus(t *testing.T) {
	s := DecodeStatus(0b0000000000100011)
	assert.True(t, s.Fault)
	assert.True(t, s.Enabled)
	assert.False(t, s.InMotion)
	assert.False(t, s.CommandDone)
	assert.True(t, s.PathDone)
	assert.False(t, s.HomingDone)

	assert.Equal(t, Status{}, DecodeStatus(0))
	assert.Equal(t, Status{}, DecodeStatus(1<<3), "bit 3 is reserved")

	all := DecodeStatus(0xFFFF)
	assert.Equal(t, Status{true, true, true, true, true, true}, all)
}

func TestDecodeStatus_LowBitsOnly(t *testing.T) {
	s := DecodeStatus(0b0000000000000011)
	assert.Equal(t, Status{Fault: true, Enabled: true}, s)
}

func TestStatus_WordRoundTrip(t *testing.T) {
	for w := uint16(0); w < 0x80; w++ {
		want := w &^ (1 << 3)
		assert.Equal(t, want, DecodeStatus(w).Word(), "word 0x%02X", w)
	}
}

func TestStatus_IdleAndString(t *testing.T) {
	assert.True(t, Status{PathDone: true}.Idle())
	assert.False(t, Status{PathDone: true, InMotion: true}.Idle())
	assert.False(t, Status{}.Idle())

	assert.Equal(t, "[]", Status{}.String())
	assert.Equal(t, "[enabled in_motion]", Status{Enabled: true, InMotion: true}.String())
}

func TestDirection(t *testing.T) {
	assert.Equal(t, uint16(0x4001), Clockwise.JogCommand())
	assert.Equal(t, uint16(0x4002), CounterClockwise.JogCommand())
	assert.Equal(t, "cw", Clockwise.String())
	assert.Equal(t, "ccw", CounterClockwise.String())

	d, err := ParseDirection("left")
	require.NoError(t, err)
	assert.Equal(t, CounterClockwise, d)
	_, err = ParseDirection("up")
	assert.Error(t, err)
}

func TestDrive_WriteProfileIsOneTransaction(t *testing.T) {
	d, sim := newSimDrive(t, 1)

	require.NoError(t, d.WriteProfile(Profile{Position: 20000, Velocity: 200, Acceleration: 50, Deceleration: 50}))

	log := sim.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "write-multiple", log[0].Op)
	assert.Equal(t, RegPR0Mode, log[0].Address)
	assert.Equal(t, []uint16{1, 0, 20000, 200, 50, 50}, log[0].Values)
}

func TestDrive_JogWritesCommand(t *testing.T) {
	d, sim := newSimDrive(t, 1)

	require.NoError(t, d.Jog(Clockwise))
	require.NoError(t, d.Jog(CounterClockwise))

	log := sim.Log()
	require.Len(t, log, 2)
	assert.Equal(t, Transaction{Op: "write", SlaveID: 1, Address: 0x1801, Values: []uint16{0x4001}}, log[0])
	assert.Equal(t, Transaction{Op: "write", SlaveID: 1, Address: 0x1801, Values: []uint16{0x4002}}, log[1])
	assert.Equal(t, 2, sim.Jogs(1))
}

func TestDrive_RegisterWrites(t *testing.T) {
	d, sim := newSimDrive(t, 3)

	require.NoError(t, d.Enable(true))
	require.NoError(t, d.SetTargetSpeed(150))
	require.NoError(t, d.SetJogAcceleration(10))
	require.NoError(t, d.Trigger())

	assert.Equal(t, uint16(1), sim.Register(3, RegEnable))
	assert.Equal(t, uint16(150), sim.Register(3, RegTargetSpeed))
	assert.Equal(t, uint16(10), sim.Register(3, RegJogAccel))
	assert.Equal(t, uint16(0x0010), sim.Register(3, RegTrigger))
}

func TestDrive_ReadStatus(t *testing.T) {
	d, sim := newSimDrive(t, 2)
	sim.SetStatus(2, StatusEnabled|StatusHomingDone)

	st, err := d.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, Status{Enabled: true, HomingDone: true}, st)
}

func TestDrive_ReadStatusFailureIsDistinct(t *testing.T) {
	d, sim := newSimDrive(t, 2)
	sim.SetStatus(2, 0)
	sim.Fail(2, RegMotionStatus, modbus.ErrNoResponse)

	st, err := d.ReadStatus()
	require.Error(t, err)
	assert.Equal(t, Status{}, st)

	var dce *DeviceCommandError
	require.True(t, errors.As(err, &dce))
	assert.Equal(t, StepReadStatus, dce.Step)
	assert.Equal(t, RegMotionStatus, dce.Address)

	var te *modbus.TransportError
	assert.True(t, errors.As(err, &te))
}

func TestDrive_DeviceCommandErrorCode(t *testing.T) {
	d, sim := newSimDrive(t, 5)
	sim.Fail(5, RegTargetSpeed, &modbus.ExceptionError{Code: 0x04})

	err := d.SetTargetSpeed(100)

	var dce *DeviceCommandError
	require.True(t, errors.As(err, &dce))
	assert.Equal(t, uint8(5), dce.SlaveID)
	assert.Equal(t, StepTargetSpeed, dce.Step)
	assert.Equal(t, uint8(0x04), dce.Code())
	assert.Contains(t, dce.Error(), "target-speed")
}

func TestDrive_SelectInvalid(t *testing.T) {
	d, _ := newSimDrive(t, 1)

	err := d.Select(0)
	var dce *DeviceCommandError
	require.True(t, errors.As(err, &dce))
	assert.Equal(t, StepSelect, dce.Step)
	assert.ErrorIs(t, err, modbus.ErrInvalidSlaveID)
	assert.Equal(t, uint8(1), d.Bus().Selected())
}

func TestSimulator_UnknownSlaveTimesOut(t *testing.T) {
	d, _ := newSimDrive(t, 1)
	require.NoError(t, d.Select(9))

	err := d.Enable(true)
	assert.ErrorIs(t, err, modbus.ErrNoResponse)
}

func TestSimulator_JogInMotionClearsAfterRead(t *testing.T) {
	d, _ := newSimDrive(t, 1)
	require.NoError(t, d.Jog(Clockwise))

	st, err := d.ReadStatus()
	require.NoError(t, err)
	assert.True(t, st.InMotion)

	st, err = d.ReadStatus()
	require.NoError(t, err)
	assert.False(t, st.InMotion)
}

func TestSimulator_TriggerCompletesMove(t *testing.T) {
	d, sim := newSimDrive(t, 1)
	require.NoError(t, d.WriteProfile(Profile{Position: -20000, Velocity: 200, Acceleration: 50, Deceleration: 50}))
	require.NoError(t, d.Trigger())

	st, err := d.ReadStatus()
	require.NoError(t, err)
	assert.True(t, st.CommandDone)
	assert.True(t, st.PathDone)
	assert.Equal(t, int32(-20000), sim.Position(1))
}

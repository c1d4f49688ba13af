package modbus

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	mb "github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport records transport calls for verification.
type recordingTransport struct {
	calls  []call
	fail   error
	read   []uint16
	closed bool
}

type call struct {
	op      string // "select", "write", "writes", "read"
	slave   uint8
	address uint16
	values  []uint16
}

func (r *recordingTransport) Select(slaveID uint8) error {
	r.calls = append(r.calls, call{op: "select", slave: slaveID})
	return nil
}

func (r *recordingTransport) WriteRegister(slaveID uint8, address, value uint16) error {
	r.calls = append(r.calls, call{op: "write", slave: slaveID, address: address, values: []uint16{value}})
	return r.fail
}

func (r *recordingTransport) WriteRegisters(slaveID uint8, start uint16, values []uint16) error {
	r.calls = append(r.calls, call{op: "writes", slave: slaveID, address: start, values: values})
	return r.fail
}

func (r *recordingTransport) ReadRegisters(slaveID uint8, address, count uint16) ([]uint16, error) {
	r.calls = append(r.calls, call{op: "read", slave: slaveID, address: address})
	if r.fail != nil {
		return nil, r.fail
	}
	return r.read, nil
}

func (r *recordingTransport) Close() error {
	r.closed = true
	return nil
}

func TestBus_TransactionsTargetSelectedSlave(t *testing.T) {
	tr := &recordingTransport{read: []uint16{0x0002}}
	b := NewBus(tr, nil)

	require.NoError(t, b.Select(4))
	require.NoError(t, b.WriteRegister(0x000F, 1))
	require.NoError(t, b.WriteRegisters(0x6200, []uint16{1, 2, 3}))
	vals, err := b.ReadRegisters(0x1003, 1)
	require.NoError(t, err)

	assert.Equal(t, []uint16{0x0002}, vals)
	assert.Equal(t, uint8(4), b.Selected())
	require.Len(t, tr.calls, 4)
	for _, c := range tr.calls {
		assert.Equal(t, uint8(4), c.slave, "op %s", c.op)
	}
	assert.Equal(t, "writes", tr.calls[2].op)
	assert.Equal(t, uint16(0x6200), tr.calls[2].address)
}

func TestBus_ReselectMovesTarget(t *testing.T) {
	tr := &recordingTransport{}
	b := NewBus(tr, nil)

	require.NoError(t, b.Select(1))
	require.NoError(t, b.Select(2))
	require.NoError(t, b.WriteRegister(0x1801, 0x4001))

	last := tr.calls[len(tr.calls)-1]
	assert.Equal(t, uint8(2), last.slave)
}

func TestBus_NoSelection(t *testing.T) {
	tr := &recordingTransport{}
	b := NewBus(tr, nil)

	err := b.WriteRegister(0x000F, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotSelected)
	assert.Empty(t, tr.calls)
}

func TestBus_InvalidSlaveID(t *testing.T) {
	b := NewBus(&recordingTransport{}, nil)

	for _, id := range []uint8{0, 248, 255} {
		err := b.Select(id)
		assert.ErrorIs(t, err, ErrInvalidSlaveID, "id %d", id)
	}
	assert.Equal(t, uint8(0), b.Selected())
}

func TestBus_TransportErrorCarriesContext(t *testing.T) {
	tr := &recordingTransport{fail: &ExceptionError{Code: 0x02}}
	b := NewBus(tr, nil)
	require.NoError(t, b.Select(7))

	err := b.WriteRegister(0x01E1, 100)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "write", te.Op)
	assert.Equal(t, uint8(7), te.SlaveID)
	assert.Equal(t, uint16(0x01E1), te.Address)
	assert.Equal(t, uint8(0x02), te.Code)
	assert.True(t, te.Retryable())
}

func TestBus_ReadFailureReturnsNil(t *testing.T) {
	tr := &recordingTransport{fail: ErrNoResponse, read: []uint16{0xFFFF}}
	b := NewBus(tr, nil)
	require.NoError(t, b.Select(1))

	vals, err := b.ReadRegisters(0x1003, 1)
	assert.Nil(t, vals)
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestBus_Close(t *testing.T) {
	tr := &recordingTransport{}
	b := NewBus(tr, nil)
	require.NoError(t, b.Select(1))

	require.NoError(t, b.Close())
	assert.True(t, tr.closed)
	assert.Equal(t, uint8(0), b.Selected())
}

func TestPacer_NoWaitWhenDelayElapsed(t *testing.T) {
	mock := clock.NewMock()
	p := NewPacer(mock, 10*time.Millisecond)

	p.Wait() // first transaction never waits
	p.Done()
	mock.Add(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked although the settle delay had elapsed")
	}
}

func TestPacer_EnforcesSettleDelay(t *testing.T) {
	tr := &recordingTransport{}
	b := NewBus(tr, NewPacer(clock.New(), 5*time.Millisecond))
	require.NoError(t, b.Select(1))

	start := time.Now()
	require.NoError(t, b.WriteRegister(0x000F, 1))
	require.NoError(t, b.WriteRegister(0x01E1, 100))

	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestPacer_ZeroDelay(t *testing.T) {
	p := NewPacer(nil, 0)
	p.Done()
	p.Wait()
	assert.Equal(t, time.Duration(0), p.Delay())
}

func TestParseParity(t *testing.T) {
	cases := map[string]uint{
		"":     mb.PARITY_NONE,
		"none": mb.PARITY_NONE,
		"ODD":  mb.PARITY_ODD,
		"even": mb.PARITY_EVEN,
	}
	for in, want := range cases {
		got, err := parseParity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseParity("mark")
	assert.Error(t, err)
}

func TestWrapLibError(t *testing.T) {
	assert.NoError(t, wrapLibError(nil))

	var exc *ExceptionError
	require.True(t, errors.As(wrapLibError(mb.ErrIllegalDataAddress), &exc))
	assert.Equal(t, uint8(0x02), exc.Code)

	assert.ErrorIs(t, wrapLibError(mb.ErrRequestTimedOut), ErrNoResponse)

	other := errors.New("port gone")
	assert.Equal(t, other, wrapLibError(other))
}

func TestValidSlaveID(t *testing.T) {
	assert.False(t, ValidSlaveID(0))
	assert.True(t, ValidSlaveID(1))
	assert.True(t, ValidSlaveID(247))
	assert.False(t, ValidSlaveID(248))
}

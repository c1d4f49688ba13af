package modbus

import (
	"sync"

	"github.com/cjeanneret/ICLJog/internal/debug"
)

// Bus is one shared serial line. Exactly one slave id is selected at any
// instant and every transaction targets it; switching devices is an
// explicit Select, never implied by a transaction.
//
// Bus serializes individual transactions. Multi-step sequences must be
// serialized by the caller.
type Bus struct {
	mu       sync.Mutex
	t        Transport
	pacer    *Pacer
	selected uint8
}

// NewBus wraps t. A nil pacer disables settle pacing.
func NewBus(t Transport, pacer *Pacer) *Bus {
	if pacer == nil {
		pacer = NewPacer(nil, 0)
	}
	return &Bus{t: t, pacer: pacer}
}

// Selected returns the currently selected slave id, 0 if none.
func (b *Bus) Selected() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}

// Select makes slaveID the target of all subsequent transactions.
func (b *Bus) Select(slaveID uint8) error {
	if !ValidSlaveID(int(slaveID)) {
		return newTransportError("select", slaveID, 0, ErrInvalidSlaveID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pacer.Wait()
	defer b.pacer.Done()

	debug.Bus("select", slaveID, 0, nil)
	if err := b.t.Select(slaveID); err != nil {
		return newTransportError("select", slaveID, 0, err)
	}
	b.selected = slaveID
	return nil
}

// WriteRegister writes one holding register on the selected slave.
func (b *Bus) WriteRegister(address, value uint16) error {
	return b.do("write", address, []uint16{value}, func(slave uint8) error {
		return b.t.WriteRegister(slave, address, value)
	})
}

// WriteRegisters writes values to consecutive registers from start on the
// selected slave in one transaction.
func (b *Bus) WriteRegisters(start uint16, values []uint16) error {
	return b.do("write-multiple", start, values, func(slave uint8) error {
		return b.t.WriteRegisters(slave, start, values)
	})
}

// ReadRegisters reads count holding registers from address on the selected
// slave.
func (b *Bus) ReadRegisters(address, count uint16) ([]uint16, error) {
	var out []uint16
	err := b.do("read", address, nil, func(slave uint8) error {
		var err error
		out, err = b.t.ReadRegisters(slave, address, count)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bus) do(op string, address uint16, values []uint16, fn func(slave uint8) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	slave := b.selected
	if slave == 0 {
		return newTransportError(op, 0, address, ErrNotSelected)
	}

	b.pacer.Wait()
	defer b.pacer.Done()

	debug.Bus(op, slave, address, values)
	if err := fn(slave); err != nil {
		debug.Trace("%s slave=%d addr=0x%04X failed: %v", op, slave, address, err)
		return newTransportError(op, slave, address, err)
	}
	return nil
}

// Close closes the underlying transport.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = 0
	return b.t.Close()
}

// Package modbus provides the request/response primitive used to talk to
// drives on a shared Modbus-RTU line.
package modbus

import (
	"errors"
	"fmt"
)

// Slave id limits for a multi-drop RTU line. 0 is broadcast and never
// addressed directly.
const (
	MinSlaveID = 1
	MaxSlaveID = 247
)

var (
	ErrInvalidSlaveID = errors.New("slave id out of range 1..247")
	ErrNotSelected    = errors.New("no slave selected on bus")
	ErrClosed         = errors.New("transport closed")
	ErrNoResponse     = errors.New("no response from slave")
)

// Transport is a blocking request/response primitive over a shared serial
// bus. Every call names its slave id. Implementations are not reentrant;
// Bus serializes access.
type Transport interface {
	// Select points the underlying session at slaveID.
	Select(slaveID uint8) error
	WriteRegister(slaveID uint8, address, value uint16) error
	// WriteRegisters writes values to consecutive addresses starting at start
	// in one transaction.
	WriteRegisters(slaveID uint8, start uint16, values []uint16) error
	ReadRegisters(slaveID uint8, address, count uint16) ([]uint16, error)
	Close() error
}

// ValidSlaveID reports whether id can be addressed on the bus.
func ValidSlaveID(id int) bool {
	return id >= MinSlaveID && id <= MaxSlaveID
}

// ExceptionError is a Modbus exception response reported by the device.
type ExceptionError struct {
	Code uint8
	Err  error
}

func (e *ExceptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exception 0x%02X: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exception 0x%02X", e.Code)
}

func (e *ExceptionError) Unwrap() error { return e.Err }

// TransportError is a bus, timeout or framing failure of one transaction.
// It never implies corrupted controller state.
type TransportError struct {
	Op      string
	SlaveID uint8
	Address uint16
	// Code is the Modbus exception code when the device answered with an
	// exception, 0 otherwise.
	Code uint8
	Err  error
}

func newTransportError(op string, slave uint8, address uint16, err error) *TransportError {
	te := &TransportError{Op: op, SlaveID: slave, Address: address, Err: err}
	var exc *ExceptionError
	if errors.As(err, &exc) {
		te.Code = exc.Code
	}
	return te
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus %s slave=%d addr=0x%04X: %v", e.Op, e.SlaveID, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry. Transport failures always
// are; whether it is safe depends on the caller resending the whole sequence.
func (e *TransportError) Retryable() bool { return true }

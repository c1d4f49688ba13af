package modbus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mb "github.com/simonvetter/modbus"

	"github.com/cjeanneret/ICLJog/internal/debug"
)

// RTUConfig describes the serial line.
type RTUConfig struct {
	Port     string
	Baud     uint
	DataBits uint
	Parity   string // "none", "odd" or "even"
	StopBits uint
	Timeout  time.Duration
}

// RTUTransport talks Modbus-RTU over a serial port.
type RTUTransport struct {
	mu     sync.Mutex
	client *mb.ModbusClient
	closed bool
}

// exceptionCodes maps library errors for exception responses back to their
// wire codes.
var exceptionCodes = map[mb.Error]uint8{
	mb.ErrIllegalFunction:         0x01,
	mb.ErrIllegalDataAddress:      0x02,
	mb.ErrIllegalDataValue:        0x03,
	mb.ErrServerDeviceFailure:     0x04,
	mb.ErrAcknowledge:             0x05,
	mb.ErrServerDeviceBusy:        0x06,
	mb.ErrMemoryParityError:       0x08,
	mb.ErrGWPathUnavailable:       0x0A,
	mb.ErrGWTargetFailedToRespond: 0x0B,
}

func parseParity(s string) (uint, error) {
	switch strings.ToLower(s) {
	case "", "none", "n":
		return mb.PARITY_NONE, nil
	case "odd", "o":
		return mb.PARITY_ODD, nil
	case "even", "e":
		return mb.PARITY_EVEN, nil
	default:
		return 0, fmt.Errorf("unknown parity %q (want none, odd or even)", s)
	}
}

// OpenRTU opens the serial port described by cfg.
func OpenRTU(cfg RTUConfig) (*RTUTransport, error) {
	parity, err := parseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}

	debug.Info("Opening RTU port %s at %d baud", cfg.Port, cfg.Baud)
	client, err := mb.NewClient(&mb.ClientConfiguration{
		URL:      "rtu://" + cfg.Port,
		Speed:    cfg.Baud,
		DataBits: cfg.DataBits,
		Parity:   parity,
		StopBits: cfg.StopBits,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create modbus client: %w", err)
	}
	if err := client.Open(); err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}

	return &RTUTransport{client: client}, nil
}

func (r *RTUTransport) setUnit(slaveID uint8) error {
	if r.closed {
		return ErrClosed
	}
	return r.client.SetUnitId(slaveID)
}

func (r *RTUTransport) Select(slaveID uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setUnit(slaveID)
}

func (r *RTUTransport) WriteRegister(slaveID uint8, address, value uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.setUnit(slaveID); err != nil {
		return err
	}
	return wrapLibError(r.client.WriteRegister(address, value))
}

func (r *RTUTransport) WriteRegisters(slaveID uint8, start uint16, values []uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.setUnit(slaveID); err != nil {
		return err
	}
	return wrapLibError(r.client.WriteRegisters(start, values))
}

func (r *RTUTransport) ReadRegisters(slaveID uint8, address, count uint16) ([]uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.setUnit(slaveID); err != nil {
		return nil, err
	}
	values, err := r.client.ReadRegisters(address, count, mb.HOLDING_REGISTER)
	if err != nil {
		return nil, wrapLibError(err)
	}
	return values, nil
}

func (r *RTUTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

func wrapLibError(err error) error {
	if err == nil {
		return nil
	}
	var libErr mb.Error
	if errors.As(err, &libErr) {
		if code, ok := exceptionCodes[libErr]; ok {
			return &ExceptionError{Code: code, Err: err}
		}
		if libErr == mb.ErrRequestTimedOut {
			return fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
	}
	return err
}

package stepper

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/ICLJog/internal/debug"
	"github.com/cjeanneret/ICLJog/internal/hw/modbus"
)

// Transaction is one request seen by the Simulator.
type Transaction struct {
	Op      string // "select", "write", "write-multiple", "read"
	SlaveID uint8
	Address uint16
	Values  []uint16
}

type simDevice struct {
	regs     map[uint16]uint16
	position int32
	jogs     int
}

type faultKey struct {
	slave   uint8
	address uint16
}

// Simulator is an in-memory multi-drop bus of ICL drives. It implements
// modbus.Transport and is used for mock_bus mode and tests.
//
// Enabling sets the enabled status bit, a PR0 trigger completes the move
// instantly (command_done, path_done) and a jog command sets in_motion
// until the next status read.
type Simulator struct {
	mu      sync.Mutex
	devices map[uint8]*simDevice
	faults  map[faultKey]error
	log     []Transaction
}

// NewSimulator creates drives at the given slave ids.
func NewSimulator(ids ...uint8) *Simulator {
	s := &Simulator{
		devices: make(map[uint8]*simDevice),
		faults:  make(map[faultKey]error),
	}
	for _, id := range ids {
		s.devices[id] = &simDevice{regs: make(map[uint16]uint16)}
	}
	debug.Info("Using simulated Modbus bus with %d drive(s)", len(ids))
	return s
}

// Fail makes every transaction on slave touching address fail with err.
// A nil err clears the fault.
func (s *Simulator) Fail(slave uint8, address uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := faultKey{slave, address}
	if err == nil {
		delete(s.faults, k)
		return
	}
	s.faults[k] = err
}

// SetStatus overrides the status word of slave.
func (s *Simulator) SetStatus(slave uint8, word uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[slave]; ok {
		d.regs[RegMotionStatus] = word
	}
}

// Register returns the current value of a register.
func (s *Simulator) Register(slave uint8, address uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[slave]; ok {
		return d.regs[address]
	}
	return 0
}

// Position returns the target of the last triggered PR0 move of slave.
func (s *Simulator) Position(slave uint8) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[slave]; ok {
		return d.position
	}
	return 0
}

// Jogs returns the number of jog commands slave received.
func (s *Simulator) Jogs(slave uint8) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[slave]; ok {
		return d.jogs
	}
	return 0
}

// Log returns a copy of all transactions so far.
func (s *Simulator) Log() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transaction(nil), s.log...)
}

// Reset clears the transaction log.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = nil
}

func (s *Simulator) device(slave uint8, start, count uint16) (*simDevice, error) {
	for a := start; a < start+count; a++ {
		if err, ok := s.faults[faultKey{slave, a}]; ok {
			return nil, err
		}
	}
	d, ok := s.devices[slave]
	if !ok {
		return nil, fmt.Errorf("%w (slave %d)", modbus.ErrNoResponse, slave)
	}
	return d, nil
}

func (s *Simulator) Select(slaveID uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, Transaction{Op: "select", SlaveID: slaveID})
	return nil
}

func (s *Simulator) WriteRegister(slaveID uint8, address, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, Transaction{Op: "write", SlaveID: slaveID, Address: address, Values: []uint16{value}})

	d, err := s.device(slaveID, address, 1)
	if err != nil {
		return err
	}
	d.regs[address] = value

	status := d.regs[RegMotionStatus]
	switch address {
	case RegEnable:
		if value == EnableOn {
			status |= StatusEnabled
		} else {
			status &^= StatusEnabled | StatusInMotion
		}
	case RegTrigger:
		if value == TriggerPR0 {
			prof, err := DecodeProfile(regsFrom(d.regs, RegPR0Mode, ProfileLength))
			if err != nil {
				return &modbus.ExceptionError{Code: 0x03, Err: err}
			}
			d.position = prof.Position
			status &^= StatusInMotion
			status |= StatusCommandDone | StatusPathDone
		}
	case RegJogCommand:
		if value != JogCW && value != JogCCW {
			return &modbus.ExceptionError{Code: 0x03}
		}
		d.jogs++
		status |= StatusInMotion
		status &^= StatusCommandDone | StatusPathDone
	}
	d.regs[RegMotionStatus] = status
	return nil
}

func (s *Simulator) WriteRegisters(slaveID uint8, start uint16, values []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, Transaction{
		Op: "write-multiple", SlaveID: slaveID, Address: start,
		Values: append([]uint16(nil), values...),
	})

	d, err := s.device(slaveID, start, uint16(len(values)))
	if err != nil {
		return err
	}
	for i, v := range values {
		d.regs[start+uint16(i)] = v
	}
	return nil
}

func (s *Simulator) ReadRegisters(slaveID uint8, address, count uint16) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, Transaction{Op: "read", SlaveID: slaveID, Address: address})

	d, err := s.device(slaveID, address, count)
	if err != nil {
		return nil, err
	}
	out := regsFrom(d.regs, address, int(count))
	if address <= RegMotionStatus && RegMotionStatus < address+count {
		// a jog pulse is over once it has been observed
		if d.regs[RegMotionStatus]&StatusInMotion != 0 && d.regs[RegJogCommand] != 0 {
			d.regs[RegMotionStatus] &^= StatusInMotion
			d.regs[RegJogCommand] = 0
		}
	}
	return out, nil
}

func (s *Simulator) Close() error { return nil }

func regsFrom(regs map[uint16]uint16, start uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = regs[start+uint16(i)]
	}
	return out
}

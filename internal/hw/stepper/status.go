package stepper

import "strings"

// Status is one decoded read of the motion status register. It is never
// cached: every read produces a fresh value.
type Status struct {
	Fault       bool `json:"fault"`
	Enabled     bool `json:"enabled"`
	InMotion    bool `json:"in_motion"`
	CommandDone bool `json:"command_done"`
	PathDone    bool `json:"path_done"`
	HomingDone  bool `json:"homing_done"`
}

// DecodeStatus decodes the 16-bit status word. Bit 3 and bits above 6 are
// ignored.
func DecodeStatus(word uint16) Status {
	return Status{
		Fault:       word&StatusFault != 0,
		Enabled:     word&StatusEnabled != 0,
		InMotion:    word&StatusInMotion != 0,
		CommandDone: word&StatusCommandDone != 0,
		PathDone:    word&StatusPathDone != 0,
		HomingDone:  word&StatusHomingDone != 0,
	}
}

// Word encodes s back into a status register value.
func (s Status) Word() uint16 {
	var w uint16
	if s.Fault {
		w |= StatusFault
	}
	if s.Enabled {
		w |= StatusEnabled
	}
	if s.InMotion {
		w |= StatusInMotion
	}
	if s.CommandDone {
		w |= StatusCommandDone
	}
	if s.PathDone {
		w |= StatusPathDone
	}
	if s.HomingDone {
		w |= StatusHomingDone
	}
	return w
}

// Idle reports whether the last command finished and the motor stopped.
func (s Status) Idle() bool {
	return !s.InMotion && (s.CommandDone || s.PathDone)
}

func (s Status) String() string {
	var set []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"fault", s.Fault},
		{"enabled", s.Enabled},
		{"in_motion", s.InMotion},
		{"command_done", s.CommandDone},
		{"path_done", s.PathDone},
		{"homing_done", s.HomingDone},
	} {
		if f.on {
			set = append(set, f.name)
		}
	}
	if len(set) == 0 {
		return "[]"
	}
	return "[" + strings.Join(set, " ") + "]"
}

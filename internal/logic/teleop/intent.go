package teleop

import (
	"fmt"

	"github.com/cjeanneret/ICLJog/internal/hw/stepper"
)

// Kind identifies an operator intent.
type Kind int

const (
	KindNone Kind = iota
	KindSelect
	KindInitialize
	KindToggleJog
	KindJog
	KindSetJogVelocity
	KindStepJogVelocity
	KindSetJogAcceleration
	KindMoveTo
	KindMove
	KindReadStatus
	KindStop
	KindSnapshot
	KindQuit
)

var kindNames = map[Kind]string{
	KindNone:               "none",
	KindSelect:             "select",
	KindInitialize:         "initialize",
	KindToggleJog:          "toggle-jog",
	KindJog:                "jog",
	KindSetJogVelocity:     "set-jog-velocity",
	KindStepJogVelocity:    "step-jog-velocity",
	KindSetJogAcceleration: "set-jog-acceleration",
	KindMoveTo:             "move-to",
	KindMove:               "move",
	KindReadStatus:         "read-status",
	KindStop:               "stop",
	KindSnapshot:           "snapshot",
	KindQuit:               "quit",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Intent is one discrete operator command.
type Intent struct {
	Kind      Kind
	SlaveID   int               // Select, Initialize
	Direction stepper.Direction // ToggleJog, Jog
	Value     int               // velocity, velocity delta or acceleration
	Position  int32             // MoveTo
	Profile   stepper.Profile   // Move
}

func (i Intent) String() string {
	switch i.Kind {
	case KindSelect, KindInitialize:
		return fmt.Sprintf("%s(%d)", i.Kind, i.SlaveID)
	case KindToggleJog, KindJog:
		return fmt.Sprintf("%s(%s)", i.Kind, i.Direction)
	case KindSetJogVelocity, KindStepJogVelocity, KindSetJogAcceleration:
		return fmt.Sprintf("%s(%d)", i.Kind, i.Value)
	case KindMoveTo:
		return fmt.Sprintf("%s(%d)", i.Kind, i.Position)
	case KindMove:
		return fmt.Sprintf("%s(%d@%d)", i.Kind, i.Profile.Position, i.Profile.Velocity)
	default:
		return i.Kind.String()
	}
}

// Moves reports whether the intent can start motion.
func (i Intent) Moves() bool {
	switch i.Kind {
	case KindToggleJog, KindJog, KindMoveTo, KindMove:
		return true
	}
	return false
}

// Select picks the drive at slaveID and applies the jog velocity,
// initializing it first when it is not enabled yet.
func Select(slaveID int) Intent { return Intent{Kind: KindSelect, SlaveID: slaveID} }

// Initialize enables the drive at slaveID and applies the jog settings.
func Initialize(slaveID int) Intent { return Intent{Kind: KindInitialize, SlaveID: slaveID} }

// ToggleJog starts jogging in d, or stops jogging in any direction.
func ToggleJog(d stepper.Direction) Intent { return Intent{Kind: KindToggleJog, Direction: d} }

// Jog sends a single jog pulse.
func Jog(d stepper.Direction) Intent { return Intent{Kind: KindJog, Direction: d} }

func SetJogVelocity(v int) Intent { return Intent{Kind: KindSetJogVelocity, Value: v} }

// StepJogVelocity adds delta to the jog velocity, floored at 0.
func StepJogVelocity(delta int) Intent { return Intent{Kind: KindStepJogVelocity, Value: delta} }

func SetJogAcceleration(v int) Intent { return Intent{Kind: KindSetJogAcceleration, Value: v} }

// MoveTo moves to position at the current jog velocity.
func MoveTo(position int32) Intent { return Intent{Kind: KindMoveTo, Position: position} }

// Move runs a full absolute profile.
func Move(p stepper.Profile) Intent { return Intent{Kind: KindMove, Profile: p} }

func ReadStatus() Intent { return Intent{Kind: KindReadStatus} }
func Stop() Intent       { return Intent{Kind: KindStop} }
func Snapshot() Intent   { return Intent{Kind: KindSnapshot} }
func Quit() Intent       { return Intent{Kind: KindQuit} }

// Outcome is the loop's view after an intent was applied.
type Outcome struct {
	Message     string          `json:"message,omitempty"`
	SlaveID     uint8           `json:"slave_id"`
	State       string          `json:"state"`
	Position    int32           `json:"position"`
	Jogging     bool            `json:"jogging"`
	Direction   string          `json:"direction"`
	JogVelocity int             `json:"jog_velocity"`
	EStop       bool            `json:"estop"`
	Status      *stepper.Status `json:"status,omitempty"`
}

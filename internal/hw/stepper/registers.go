package stepper

// Register map of the ICL drive.
const (
	RegEnable       uint16 = 0x000F // write 1 to enable the motor
	RegTargetSpeed  uint16 = 0x01E1 // target / jog speed, RPM
	RegJogAccel     uint16 = 0x01E7 // jog acceleration/deceleration
	RegPR0Mode      uint16 = 0x6200 // PR0 mode
	RegPR0PosHigh   uint16 = 0x6201 // PR0 position, high 16 bits
	RegPR0PosLow    uint16 = 0x6202 // PR0 position, low 16 bits
	RegPR0Velocity  uint16 = 0x6203 // PR0 velocity, RPM
	RegPR0Accel     uint16 = 0x6204 // PR0 acceleration
	RegPR0Decel     uint16 = 0x6205 // PR0 deceleration
	RegTrigger      uint16 = 0x6002 // motion trigger
	RegJogCommand   uint16 = 0x1801 // jog command
	RegMotionStatus uint16 = 0x1003 // motion status bitfield
)

// Register values.
const (
	EnableOn        uint16 = 0x0001
	EnableOff       uint16 = 0x0000
	PR0ModeAbsolute uint16 = 0x0001
	TriggerPR0      uint16 = 0x0010
	JogCW           uint16 = 0x4001
	JogCCW          uint16 = 0x4002
)

// ProfileLength is the number of registers written by one PR0 profile
// transaction, starting at RegPR0Mode.
const ProfileLength = 6

// Motion status bits.
const (
	StatusFault       uint16 = 1 << 0
	StatusEnabled     uint16 = 1 << 1
	StatusInMotion    uint16 = 1 << 2
	StatusCommandDone uint16 = 1 << 4
	StatusPathDone    uint16 = 1 << 5
	StatusHomingDone  uint16 = 1 << 6
)

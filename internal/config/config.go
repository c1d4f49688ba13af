package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SerialConfig describes the RS-485 line to the drives.
type SerialConfig struct {
	Port      string `yaml:"port"`       // e.g., "/dev/ttyUSB0"
	Baud      int    `yaml:"baud"`       // default 115200
	DataBits  int    `yaml:"data_bits"`  // default 8
	Parity    string `yaml:"parity"`     // none, odd, even
	StopBits  int    `yaml:"stop_bits"`  // default 1
	TimeoutMs int    `yaml:"timeout_ms"` // response timeout (ms), default 1000
}

// BusConfig holds bus timing and the simulator switch.
type BusConfig struct {
	SettleDelayUs int  `yaml:"settle_delay_us"` // minimum gap between transactions (µs)
	Mock          bool `yaml:"mock"`            // use the in-memory simulated bus (dev/test)
}

// MotorConfig names one drive on the bus.
type MotorConfig struct {
	Name    string `yaml:"name"`
	SlaveID int    `yaml:"slave_id"` // 1..247
}

// MotionConfig holds device-native motion parameters. Acceleration and
// deceleration are opaque drive units.
type MotionConfig struct {
	Velocity        int `yaml:"velocity"`          // PR0 velocity (RPM), default 200
	Acceleration    int `yaml:"acceleration"`      // PR0 acceleration, default 50
	Deceleration    int `yaml:"deceleration"`      // PR0 deceleration, default 50
	InitialSpeed    int `yaml:"initial_speed"`     // target speed written by initialize, default 100
	JogVelocity     int `yaml:"jog_velocity"`      // startup jog velocity (RPM), default 100
	JogVelocityStep int `yaml:"jog_velocity_step"` // arrow up/down step, default 100
	JogAcceleration int `yaml:"jog_acceleration"`  // 0 = leave the drive's value
	// SequenceTimeoutMs bounds each waypoint of a sequence (and move --wait),
	// default 30000. -1 waits forever.
	SequenceTimeoutMs int `yaml:"sequence_timeout_ms"`
}

// TeleopConfig configures the keyboard front-end.
type TeleopConfig struct {
	TickMs       int              `yaml:"tick_ms"`       // polling tick (ms), default 50
	VelocityKeys map[string]int   `yaml:"velocity_keys"` // key -> jog velocity
	PresetKeys   map[string]int32 `yaml:"preset_keys"`   // key -> absolute position
}

// EStopConfig describes an optional hardware emergency-stop input.
type EStopConfig struct {
	Pin       int  `yaml:"pin"`        // BCM pin, 0 = disabled
	ActiveLow bool `yaml:"active_low"` // pressed when the pin reads LOW
	MockGPIO  bool `yaml:"mock_gpio"`  // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Waypoint is one step of a named sequence.
type Waypoint struct {
	Position     int32 `yaml:"position"`
	Velocity     int   `yaml:"velocity"`
	Acceleration int   `yaml:"acceleration"`
	Deceleration int   `yaml:"deceleration"`
	DwellMs      int   `yaml:"dwell_ms"`
}

// WebConfig configures the HTTP control panel.
type WebConfig struct {
	Addr string `yaml:"addr"` // default ":8080"
}

// Config aggregates all application configuration.
type Config struct {
	Serial     SerialConfig          `yaml:"serial"`
	Bus        BusConfig             `yaml:"bus"`
	Motors     []MotorConfig         `yaml:"motors"`
	Motion     MotionConfig          `yaml:"motion"`
	Teleop     TeleopConfig          `yaml:"teleop"`
	EStop      EStopConfig           `yaml:"estop"`
	Sequences  map[string][]Waypoint `yaml:"sequences"`
	Web        WebConfig             `yaml:"web"`
	DebugLevel int                   `yaml:"debug_level"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// DefaultVelocityKeys is the home-row velocity map (values doubled).
func DefaultVelocityKeys() map[string]int {
	base := map[string]int{
		"a": 200, "s": 224, "d": 253, "f": 284, "g": 299,
		"h": 336, "j": 376, "k": 400, "l": 449, ";": 506,
	}
	for k, v := range base {
		base[k] = v * 2
	}
	return base
}

// DefaultPresetKeys is the bottom-row position map.
func DefaultPresetKeys() map[string]int32 {
	return map[string]int32{
		"z": -30000, "x": -20000, "c": -10000, "v": 0,
		"b": 10000, "n": 20000, "m": 30000,
	}
}

// ValidateConfigPath checks that path is a .yaml file inside a configs/
// directory and contains no traversal.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path must not contain '..': %s", path)
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the validated configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Port == "" {
		c.Serial.Port = "/dev/ttyUSB0"
	}
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = 115200
	}
	if c.Serial.DataBits <= 0 {
		c.Serial.DataBits = 8
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = "none"
	}
	if c.Serial.StopBits <= 0 {
		c.Serial.StopBits = 1
	}
	if c.Serial.TimeoutMs <= 0 {
		c.Serial.TimeoutMs = 1000 // 1s response timeout
	}
	if c.Bus.SettleDelayUs == 0 {
		c.Bus.SettleDelayUs = 10
	}
	if len(c.Motors) == 0 {
		c.Motors = []MotorConfig{{Name: "motor1", SlaveID: 1}}
	}
	for i := range c.Motors {
		if c.Motors[i].Name == "" {
			c.Motors[i].Name = fmt.Sprintf("motor%d", c.Motors[i].SlaveID)
		}
	}
	if c.Motion.Velocity == 0 {
		c.Motion.Velocity = 200
	}
	if c.Motion.Acceleration == 0 {
		c.Motion.Acceleration = 50
	}
	if c.Motion.Deceleration == 0 {
		c.Motion.Deceleration = 50
	}
	if c.Motion.InitialSpeed == 0 {
		c.Motion.InitialSpeed = 100
	}
	if c.Motion.JogVelocity == 0 {
		c.Motion.JogVelocity = 100
	}
	if c.Motion.JogVelocityStep == 0 {
		c.Motion.JogVelocityStep = 100
	}
	if c.Motion.SequenceTimeoutMs == 0 {
		c.Motion.SequenceTimeoutMs = 30000
	}
	if c.Teleop.TickMs <= 0 {
		c.Teleop.TickMs = 50
	}
	if c.Teleop.VelocityKeys == nil {
		c.Teleop.VelocityKeys = DefaultVelocityKeys()
	}
	if c.Teleop.PresetKeys == nil {
		c.Teleop.PresetKeys = DefaultPresetKeys()
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
}

func checkRegister(name string, v int) error {
	if v < 0 || v > 0xFFFF {
		return fmt.Errorf("%s must be between 0 and 65535, got %d", name, v)
	}
	return nil
}

// reservedKey reports keys the teleop front-end binds itself: digits
// select, q and Ctrl-C quit, w reads status, space stops, Esc and '['
// start arrow sequences.
func reservedKey(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b == 'q', b == 'w', b == ' ', b == '[', b == 0x1b, b == 0x03:
		return true
	}
	return false
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Serial.Parity) {
	case "none", "odd", "even":
	default:
		return fmt.Errorf("serial.parity must be none, odd or even, got %q", c.Serial.Parity)
	}
	if c.Serial.DataBits < 5 || c.Serial.DataBits > 8 {
		return fmt.Errorf("serial.data_bits must be between 5 and 8, got %d", c.Serial.DataBits)
	}
	if c.Serial.StopBits > 2 {
		return fmt.Errorf("serial.stop_bits must be 1 or 2, got %d", c.Serial.StopBits)
	}
	if c.Bus.SettleDelayUs < 0 {
		return fmt.Errorf("bus.settle_delay_us must be >= 0, got %d", c.Bus.SettleDelayUs)
	}

	seen := make(map[int]string)
	for _, m := range c.Motors {
		if m.SlaveID < 1 || m.SlaveID > 247 {
			return fmt.Errorf("motor %q: slave_id must be between 1 and 247, got %d", m.Name, m.SlaveID)
		}
		if other, dup := seen[m.SlaveID]; dup {
			return fmt.Errorf("motors %q and %q share slave_id %d", other, m.Name, m.SlaveID)
		}
		seen[m.SlaveID] = m.Name
	}

	for name, v := range map[string]int{
		"motion.velocity":          c.Motion.Velocity,
		"motion.acceleration":      c.Motion.Acceleration,
		"motion.deceleration":      c.Motion.Deceleration,
		"motion.initial_speed":     c.Motion.InitialSpeed,
		"motion.jog_velocity":      c.Motion.JogVelocity,
		"motion.jog_velocity_step": c.Motion.JogVelocityStep,
		"motion.jog_acceleration":  c.Motion.JogAcceleration,
	} {
		if err := checkRegister(name, v); err != nil {
			return err
		}
	}

	if c.Motion.SequenceTimeoutMs < -1 {
		return fmt.Errorf("motion.sequence_timeout_ms must be -1 (none) or > 0, got %d", c.Motion.SequenceTimeoutMs)
	}

	for key, v := range c.Teleop.VelocityKeys {
		if len(key) != 1 {
			return fmt.Errorf("teleop.velocity_keys: key %q must be a single character", key)
		}
		if reservedKey(key[0]) {
			return fmt.Errorf("teleop.velocity_keys: key %q is reserved", key)
		}
		if err := checkRegister("teleop.velocity_keys["+key+"]", v); err != nil {
			return err
		}
	}
	for key := range c.Teleop.PresetKeys {
		if len(key) != 1 {
			return fmt.Errorf("teleop.preset_keys: key %q must be a single character", key)
		}
		if reservedKey(key[0]) {
			return fmt.Errorf("teleop.preset_keys: key %q is reserved", key)
		}
		if _, clash := c.Teleop.VelocityKeys[key]; clash {
			return fmt.Errorf("key %q is bound to both a velocity and a preset", key)
		}
	}

	if c.EStop.Pin < 0 {
		return fmt.Errorf("estop.pin must be >= 0, got %d", c.EStop.Pin)
	}

	for name, wps := range c.Sequences {
		if len(wps) == 0 {
			return fmt.Errorf("sequence %q has no waypoints", name)
		}
		for i, wp := range wps {
			for field, v := range map[string]int{
				"velocity": wp.Velocity, "acceleration": wp.Acceleration, "deceleration": wp.Deceleration,
			} {
				if err := checkRegister(fmt.Sprintf("sequence %q[%d].%s", name, i, field), v); err != nil {
					return err
				}
			}
			if wp.DwellMs < 0 {
				return fmt.Errorf("sequence %q[%d].dwell_ms must be >= 0", name, i)
			}
		}
	}

	if c.DebugLevel < 0 || c.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.DebugLevel)
	}
	return nil
}

// SerialTimeout returns the response timeout.
func (c *Config) SerialTimeout() time.Duration {
	return time.Duration(c.Serial.TimeoutMs) * time.Millisecond
}

// SettleDelay returns the minimum gap between transactions.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Bus.SettleDelayUs) * time.Microsecond
}

// Tick returns the teleop polling period.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Teleop.TickMs) * time.Millisecond
}

// SequenceTimeout returns the per-waypoint completion timeout, 0 for none.
func (c *Config) SequenceTimeout() time.Duration {
	if c.Motion.SequenceTimeoutMs < 0 {
		return 0
	}
	return time.Duration(c.Motion.SequenceTimeoutMs) * time.Millisecond
}

// SlaveIDs returns the configured slave ids in declaration order.
func (c *Config) SlaveIDs() []uint8 {
	ids := make([]uint8, 0, len(c.Motors))
	for _, m := range c.Motors {
		ids = append(ids, uint8(m.SlaveID))
	}
	return ids
}

// MotorName returns the configured name of slaveID, or "" if unknown.
func (c *Config) MotorName(slaveID uint8) string {
	for _, m := range c.Motors {
		if m.SlaveID == int(slaveID) {
			return m.Name
		}
	}
	return ""
}

// SequenceNames returns the sequence names sorted.
func (c *Config) SequenceNames() []string {
	names := make([]string, 0, len(c.Sequences))
	for name := range c.Sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

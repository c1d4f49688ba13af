package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	path := filepath.Join(cfgDir, "default.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	assert.NoError(t, ValidateConfigPath(path))
}

func TestValidateConfigPath_Rejected(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"traversal":       "../../etc/passwd",
		"inner_traversal": "configs/../../../etc/shadow",
		"json":            "configs/default.json",
		"yml":             "configs/default.yml",
		"no_ext":          "configs/default",
		"other_dir":       "other/default.yaml",
		"bare":            "default.yaml",
		"tmp":             "/tmp/default.yaml",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateConfigPath(path))
		})
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// must not panic
	_ = ValidateConfigPath(long)
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	require.NoError(t, os.Mkdir(cfgDir, 0o755))
	path := filepath.Join(cfgDir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
serial:
  port: "/dev/ttyAMA0"
  baud: 57600
  parity: even
  timeout_ms: 500
bus:
  settle_delay_us: 200
  mock: true
motors:
  - name: pan
    slave_id: 1
  - name: tilt
    slave_id: 2
motion:
  velocity: 300
  acceleration: 20
  deceleration: 30
  jog_velocity: 150
  jog_acceleration: 10
teleop:
  tick_ms: 40
estop:
  pin: 21
  active_low: true
  mock_gpio: true
sequences:
  sweep:
    - position: -10000
      velocity: 400
    - position: 10000
      dwell_ms: 250
web:
  addr: ":9090"
debug_level: 2
`

func TestLoad_ValidFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.Baud)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, "even", cfg.Serial.Parity)
	assert.Equal(t, 500*time.Millisecond, cfg.SerialTimeout())
	assert.Equal(t, 200*time.Microsecond, cfg.SettleDelay())
	assert.True(t, cfg.Bus.Mock)
	assert.Equal(t, []uint8{1, 2}, cfg.SlaveIDs())
	assert.Equal(t, "tilt", cfg.MotorName(2))
	assert.Equal(t, "", cfg.MotorName(3))
	assert.Equal(t, 300, cfg.Motion.Velocity)
	assert.Equal(t, 100, cfg.Motion.InitialSpeed)
	assert.Equal(t, 150, cfg.Motion.JogVelocity)
	assert.Equal(t, 10, cfg.Motion.JogAcceleration)
	assert.Equal(t, 40*time.Millisecond, cfg.Tick())
	assert.Equal(t, 21, cfg.EStop.Pin)
	assert.Equal(t, []string{"sweep"}, cfg.SequenceNames())
	require.Len(t, cfg.Sequences["sweep"], 2)
	assert.Equal(t, int32(-10000), cfg.Sequences["sweep"][0].Position)
	assert.Equal(t, 250, cfg.Sequences["sweep"][1].DwellMs)
	assert.Equal(t, ":9090", cfg.Web.Addr)
	assert.Equal(t, 2, cfg.DebugLevel)
}

func TestLoad_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, "none", cfg.Serial.Parity)
	assert.Equal(t, 1, cfg.Serial.StopBits)
	assert.Equal(t, time.Second, cfg.SerialTimeout())
	assert.Equal(t, 10*time.Microsecond, cfg.SettleDelay())
	assert.Equal(t, []uint8{1}, cfg.SlaveIDs())
	assert.Equal(t, 200, cfg.Motion.Velocity)
	assert.Equal(t, 50, cfg.Motion.Acceleration)
	assert.Equal(t, 50, cfg.Motion.Deceleration)
	assert.Equal(t, 100, cfg.Motion.JogVelocity)
	assert.Equal(t, 100, cfg.Motion.JogVelocityStep)
	assert.Equal(t, 50*time.Millisecond, cfg.Tick())
	assert.Equal(t, 30*time.Second, cfg.SequenceTimeout())
	assert.Equal(t, 400, cfg.Teleop.VelocityKeys["a"])
	assert.Equal(t, 1012, cfg.Teleop.VelocityKeys[";"])
	assert.Equal(t, int32(-30000), cfg.Teleop.PresetKeys["z"])
	assert.Equal(t, int32(0), cfg.Teleop.PresetKeys["v"])
	assert.Equal(t, ":8080", cfg.Web.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "configs", "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "motors: [\n"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"slave_zero":      "motors:\n  - slave_id: 0\n",
		"slave_too_large": "motors:\n  - slave_id: 248\n",
		"duplicate_slave": "motors:\n  - {name: a, slave_id: 3}\n  - {name: b, slave_id: 3}\n",
		"bad_parity":      "serial:\n  parity: mark\n",
		"bad_data_bits":   "serial:\n  data_bits: 9\n",
		"bad_stop_bits":   "serial:\n  stop_bits: 3\n",
		"negative_settle": "bus:\n  settle_delay_us: -5\n",
		"velocity_range":  "motion:\n  velocity: 70000\n",
		"negative_accel":  "motion:\n  acceleration: -1\n",
		"long_key":        "teleop:\n  velocity_keys:\n    ab: 100\n",
		"key_clash":       "teleop:\n  velocity_keys:\n    z: 100\n",
		"empty_sequence":  "sequences:\n  nothing: []\n",
		"neg_dwell":       "sequences:\n  s:\n    - {position: 1, dwell_ms: -1}\n",
		"debug_level":     "debug_level: 5\n",
		"estop_pin":       "estop:\n  pin: -2\n",
		"reserved_quit":   "teleop:\n  velocity_keys:\n    q: 100\n",
		"reserved_status": "teleop:\n  preset_keys:\n    w: 100\n",
		"reserved_space":  "teleop:\n  velocity_keys:\n    \" \": 100\n",
		"reserved_digit":  "teleop:\n  preset_keys:\n    \"5\": 100\n",
		"seq_timeout":     "motion:\n  sequence_timeout_ms: -5\n",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(yml))
			assert.Error(t, err)
		})
	}
}

func TestParse_MotorNameDefaulted(t *testing.T) {
	cfg, err := Parse([]byte("motors:\n  - slave_id: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, "motor7", cfg.MotorName(7))
}

func TestParse_CustomKeysReplaceDefaults(t *testing.T) {
	cfg, err := Parse([]byte("teleop:\n  velocity_keys:\n    a: 50\n  preset_keys:\n    p: 1234\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 50}, cfg.Teleop.VelocityKeys)
	assert.Equal(t, map[string]int32{"p": 1234}, cfg.Teleop.PresetKeys)
}

func TestDefaultConfigFileLoads(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "default.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Motors)
}

func TestParse_SequenceTimeout(t *testing.T) {
	cfg, err := Parse([]byte("motion:\n  sequence_timeout_ms: 1500\n"))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.SequenceTimeout())

	cfg, err = Parse([]byte("motion:\n  sequence_timeout_ms: -1\n"))
	require.NoError(t, err)
	assert.Zero(t, cfg.SequenceTimeout())
}

package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (device selection, errors)
	LevelLive    = 2 // Live info (moves, jog toggles, status reads)
	LevelVerbose = 3 // Verbose (configuration, profile details)
	LevelTrace   = 4 // Trace (every register transaction, GPIO)
)

var (
	level  atomic.Int32
	logger atomic.Pointer[zap.SugaredLogger]

	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (device selection, errors)
// 2 = live info (moves, jog toggles, status reads)
// 3 = verbose (configuration, profile details)
// 4 = trace (register transactions, GPIO)
func Init(debugLevel int) {
	level.Store(int32(debugLevel))
	rebuild()
}

// SetOutput redirects all debug output to w.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
	rebuild()
}

func rebuild() {
	if level.Load() <= LevelOff {
		logger.Store(nil)
		return
	}

	outMu.Lock()
	w := out
	outMu.Unlock()

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = nil
	encCfg.CallerKey = ""

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zapcore.DebugLevel)
	logger.Store(zap.New(core).Named("ICLJog").Sugar())
}

// Sync flushes buffered output.
func Sync() {
	if l := logger.Load(); l != nil {
		_ = l.Sync()
	}
}

// Level returns the current debug level.
func Level() int {
	return int(level.Load())
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func active(minLevel int) *zap.SugaredLogger {
	if Level() < minLevel {
		return nil
	}
	return logger.Load()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l := active(LevelInfo); l != nil {
		l.Infof(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if l := active(LevelInfo); l != nil {
		l.Info("═══════════════════════════════════════")
		l.Infof("  %s", title)
		l.Info("═══════════════════════════════════════")
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if l := active(LevelInfo); l != nil {
		l.Infof("  %s = %v", name, value)
	}
}

// Error prints a debug error (level 1+).
func Error(err error) {
	if l := active(LevelInfo); l != nil {
		l.Errorf("%v", err)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l := active(LevelLive); l != nil {
		l.Infof("[LIVE] "+format, args...)
	}
}

// Move prints an absolute move command (level 2).
func Move(slave uint8, position int32, velocity uint16) {
	if l := active(LevelLive); l != nil {
		l.Infof("[LIVE] Slave %d: move to %d at velocity %d", slave, position, velocity)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if l := active(LevelVerbose); l != nil {
		l.Debugf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l := active(LevelVerbose); l != nil {
		l.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l := active(LevelVerbose); l != nil {
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		l.Debugf("  %s", name)
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if l := active(LevelVerbose); l != nil {
		l.Debugf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if l := active(LevelTrace); l != nil {
		l.Debugf("[TRACE] "+format, args...)
	}
}

// Bus prints one register transaction (level 4).
func Bus(operation string, slave uint8, address uint16, values interface{}) {
	if l := active(LevelTrace); l != nil {
		l.Debugf("[BUS] %s slave=%d addr=0x%04X values=%v", operation, slave, address, values)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if l := active(LevelTrace); l != nil {
		l.Debugf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// --- General functions ---

// Fmt returns a formatted string only if debug is enabled
// (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}

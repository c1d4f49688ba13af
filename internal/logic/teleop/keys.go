package teleop

import "github.com/cjeanneret/ICLJog/internal/hw/stepper"

const (
	esc   = 0x1b
	ctrlC = 0x03
)

// Keymap maps raw terminal bytes to intents.
type Keymap struct {
	Velocity     map[byte]int
	Presets      map[byte]int32
	VelocityStep int
}

// NewKeymap builds a keymap from single-character config keys.
// Longer keys are ignored.
func NewKeymap(velocity map[string]int, presets map[string]int32, step int) Keymap {
	k := Keymap{
		Velocity:     make(map[byte]int, len(velocity)),
		Presets:      make(map[byte]int32, len(presets)),
		VelocityStep: step,
	}
	for key, v := range velocity {
		if len(key) == 1 {
			k.Velocity[key[0]] = v
		}
	}
	for key, p := range presets {
		if len(key) == 1 {
			k.Presets[key[0]] = p
		}
	}
	return k
}

// Decode turns one complete read from a raw terminal into intents. Arrow
// keys are ESC '[' {A,B,C,D}. A lone Esc is a quit, as is Ctrl-C since raw
// mode swallows the signal. Unknown bytes and unfinished escape sequences
// are dropped.
func (k Keymap) Decode(chunk []byte) []Intent {
	out, rest := k.decode(chunk)
	if len(rest) == 1 {
		out = append(out, Quit())
	}
	return out
}

// decode returns the intents of chunk and a trailing unfinished escape
// sequence ("\x1b" or "\x1b[") left undecoded.
func (k Keymap) decode(chunk []byte) ([]Intent, []byte) {
	var out []Intent
	for i := 0; i < len(chunk); i++ {
		ch := chunk[i]
		switch {
		case ch >= '0' && ch <= '9':
			out = append(out, Select(int(ch-'0')))
		case ch == esc:
			rem := chunk[i:]
			if len(rem) == 1 || (len(rem) == 2 && rem[1] == '[') {
				return out, rem
			}
			if rem[1] == '[' {
				if in, ok := k.arrow(rem[2]); ok {
					out = append(out, in)
					i += 2
				}
			}
		case ch == 'q', ch == ctrlC:
			out = append(out, Quit())
		case ch == 'w':
			out = append(out, ReadStatus())
		case ch == ' ':
			out = append(out, Stop())
		default:
			if v, ok := k.Velocity[ch]; ok {
				out = append(out, SetJogVelocity(v))
			} else if p, ok := k.Presets[ch]; ok {
				out = append(out, MoveTo(p))
			}
		}
	}
	return out, nil
}

// KeyDecoder decodes a stream of terminal reads. An escape sequence split
// across reads is held until the rest arrives or Flush is called.
type KeyDecoder struct {
	keys    Keymap
	pending []byte
}

// NewKeyDecoder returns a stream decoder for k.
func NewKeyDecoder(k Keymap) *KeyDecoder {
	return &KeyDecoder{keys: k}
}

// Feed decodes chunk after any bytes held from the previous read.
func (d *KeyDecoder) Feed(chunk []byte) []Intent {
	buf := append(d.pending, chunk...)
	out, rest := d.keys.decode(buf)
	d.pending = append([]byte(nil), rest...)
	return out
}

// Pending reports whether an unfinished escape sequence is held.
func (d *KeyDecoder) Pending() bool { return len(d.pending) > 0 }

// Flush resolves held bytes once no more input is coming: a lone Esc
// quits, a partial arrow sequence is dropped.
func (d *KeyDecoder) Flush() []Intent {
	rest := d.pending
	d.pending = nil
	return d.keys.Decode(rest)
}

func (k Keymap) arrow(b byte) (Intent, bool) {
	switch b {
	case 'C':
		return ToggleJog(stepper.Clockwise), true
	case 'D':
		return ToggleJog(stepper.CounterClockwise), true
	case 'A':
		return StepJogVelocity(k.VelocityStep), true
	case 'B':
		return StepJogVelocity(-k.VelocityStep), true
	}
	return Intent{}, false
}

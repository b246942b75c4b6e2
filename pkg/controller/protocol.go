package controller

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Commands understood by the controller.
const (
	CmdFire          = "FIRE"
	CmdReadVoltages  = "VOLTAGE"
	CmdMainHVOn      = "ON"
	CmdMainHVOff     = "OFF"
	CmdHV            = "HV"    // Followed by a bitvector line
	CmdDrain         = "DRAIN" // Followed by a bitvector line
	CmdCharge        = "CHARGE"
	CmdCountdown     = "COUNTDOWN"
	CmdDisplayCharge = "DISPLAY_CHARGE" // Followed by a percentage line
	CmdTest          = "TEST"
	CmdAbort         = "ABORT"
	CmdSensors       = "SENSORS"
	CmdBlink         = "BLINK"
	CmdPot           = "POT" // Followed by a list of positions
)

// Responses sent by the controller.
const (
	RespOK            = "OK"
	RespHVOn          = "HV ON"
	RespHVOff         = "HV OFF"
	RespDrain         = "Drain pins set to: "
	RespHV            = "HV pins set to: "
	RespAbort         = "ABORTING"
	RespCharge        = "CHARGING"
	RespCountdown     = "COUNTDOWN"
	RespDisplayCharge = "Displaying charge: "
	RespBlink         = "BLINKING"
	RespPot           = "Pot set to: "
)

// Framing characters.
const (
	Terminator = '\n'
	Separator  = ","
)

// Expect reports whether a response acknowledges a command.
type Expect func(response string) bool

// Exactly expects the literal response.
func Exactly(want string) Expect {
	return func(response string) bool { return response == want }
}

// Echo expects prefix followed by the payload that was sent.
func Echo(prefix, payload string) Expect {
	return Exactly(prefix + payload)
}

// Prefixed expects any response starting with prefix.
func Prefixed(prefix string) Expect {
	return func(response string) bool { return strings.HasPrefix(response, prefix) }
}

// EncodeBits converts a per-bank vector into its wire form, one '0' or '1'
// per bank in bank order.
func EncodeBits(bits []bool) string {
	var b strings.Builder
	b.Grow(len(bits))
	for _, bit := range bits {
		if bit {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// DecodeBits parses a wire bitvector.
func DecodeBits(s string) ([]bool, error) {
	bits := make([]bool, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '1':
			bits[i] = true
		case '0':
		default:
			return nil, errors.Errorf("invalid bit %q at position %d", s[i], i)
		}
	}
	return bits, nil
}

// HVPayload builds the per-bank HV wire vector. Banks that are off never get HV.
func HVPayload(hv, on []bool) string {
	bits := make([]bool, len(on))
	for i := range on {
		bits[i] = on[i] && i < len(hv) && hv[i]
	}
	return EncodeBits(bits)
}

// DrainPayload builds the per-bank drain wire vector. The drain relays are
// normally closed, so a '0' on the wire drains the bank. Banks that are off
// always stay drained.
func DrainPayload(drain, on []bool) string {
	bits := make([]bool, len(on))
	for i := range on {
		bits[i] = on[i] && !(i < len(drain) && drain[i])
	}
	return EncodeBits(bits)
}

// ParseInts parses a comma separated list of integers.
func ParseInts(line string) ([]int, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.New("empty value list")
	}

	parts := strings.Split(line, Separator)
	values := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid value %d", i)
		}
		values[i] = v
	}
	return values, nil
}

// FormatInts is the inverse of ParseInts.
func FormatInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, Separator)
}

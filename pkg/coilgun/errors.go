package coilgun

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotReady is returned when firing before every enabled coil reached its target.
var ErrNotReady = errors.New("coilgun is not ready to fire")

// SafetyError reports banks that still hold a dangerous charge after firing.
// They were left undrained; the operator must decide how to empty them.
type SafetyError struct {
	Banks      []string
	Voltages   []float64
	Thresholds []float64
}

func (e *SafetyError) Error() string {
	parts := make([]string, len(e.Banks))
	for i, b := range e.Banks {
		parts[i] = fmt.Sprintf("%s at %.1f V (safe below %.1f V)", b, e.Voltages[i], e.Thresholds[i])
	}
	return "banks still charged: " + strings.Join(parts, ", ")
}

// IsSafety reports whether err is (or wraps) a SafetyError.
func IsSafety(err error) bool {
	var se *SafetyError
	return errors.As(err, &se)
}

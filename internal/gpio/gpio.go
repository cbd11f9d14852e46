// Package gpio provides pin level reads and change notifications with
// hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"context"
	"fmt"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// Reader reads the current raw level of a pin.
type Reader interface {
	// Read returns true when the pin is high.
	Read(pin int) (bool, error)
}

// Watcher reads pins and delivers level changes as samples.
type Watcher interface {
	Reader

	// Subscribe returns a channel of raw samples for pin. The channel is
	// closed when ctx is done or the watcher is closed.
	Subscribe(ctx context.Context, pin int) (<-chan logic.Sample, error)

	// Close releases GPIO resources.
	Close() error
}

// Bias is the internal resistor configuration of an input line.
type Bias string

const (
	BiasPullDown Bias = "pull-down"
	BiasPullUp   Bias = "pull-up"
	BiasDisabled Bias = "disabled"
)

// ParseBias validates a bias string. Empty means pull-down, matching the
// Pi boot default.
func ParseBias(s string) (Bias, error) {
	switch Bias(s) {
	case "", BiasPullDown:
		return BiasPullDown, nil
	case BiasPullUp:
		return BiasPullUp, nil
	case BiasDisabled:
		return BiasDisabled, nil
	}
	return "", fmt.Errorf("unknown bias %q", s)
}

// PinConfig describes one line to request.
type PinConfig struct {
	Pin  int
	Bias Bias
}

// sampleBuffer is the per-pin channel capacity for edge events.
const sampleBuffer = 64

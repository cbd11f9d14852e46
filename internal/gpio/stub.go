//go:build !linux

package gpio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// RealWatcher is not available on non-Linux platforms.
type RealWatcher struct{}

// NewRealWatcher returns an error on non-Linux platforms.
func NewRealWatcher(chipName string, pins []PinConfig, edges bool, logger *slog.Logger) (*RealWatcher, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (w *RealWatcher) Read(pin int) (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Subscribe is not implemented on non-Linux platforms.
func (w *RealWatcher) Subscribe(ctx context.Context, pin int) (<-chan logic.Sample, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (w *RealWatcher) Close() error {
	return nil
}

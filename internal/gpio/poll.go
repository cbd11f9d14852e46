package gpio

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// PollingWatcher turns a Reader into a Watcher by sampling every interval.
// Used on platforms or lines without edge detection.
type PollingWatcher struct {
	reader   Reader
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewPollingWatcher creates a watcher that polls reader. If reader also
// implements io.Closer it is closed by Close.
func NewPollingWatcher(reader Reader, interval time.Duration, logger *slog.Logger) *PollingWatcher {
	return &PollingWatcher{
		reader:   reader,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Read delegates to the underlying reader.
func (p *PollingWatcher) Read(pin int) (bool, error) {
	return p.reader.Read(pin)
}

// Subscribe emits one sample per poll interval until ctx is done.
// Read errors are logged and the tick is skipped.
func (p *PollingWatcher) Subscribe(ctx context.Context, pin int) (<-chan logic.Sample, error) {
	out := make(chan logic.Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			level, err := p.reader.Read(pin)
			if err != nil {
				p.logger.Warn("gpio_read_error", "pin", pin, "error", err)
				continue
			}

			select {
			case out <- logic.Sample{Pin: pin, Level: level, Time: p.now()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the underlying reader when it supports closing.
func (p *PollingWatcher) Close() error {
	if c, ok := p.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

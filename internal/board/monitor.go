package board

import (
	"context"
	"time"

	"github.com/preesu/boardd/internal/events"
)

// Monitor polls the inputs every interval and emits input_changed once a new
// level has held for debounce. It returns when ctx is cancelled.
func (c *Controller) Monitor(ctx context.Context, interval, debounce time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping input monitoring")
			return
		case now := <-ticker.C:
			if err := c.loop.Submit(func() { c.pollInputs(now, debounce) }); err != nil {
				return
			}
		}
	}
}

func (c *Controller) pollInputs(now time.Time, debounce time.Duration) {
	for i, pin := range c.pins.Inputs {
		level, err := c.drv.Read(pin)
		if err != nil {
			c.logger.Warnf("input%d read: %v", i+1, err)
			continue
		}
		if level == c.stable[i] {
			c.candidate[i] = level
			continue
		}
		if level != c.candidate[i] {
			c.candidate[i] = level
			c.since[i] = now
			continue
		}
		if now.Sub(c.since[i]) >= debounce {
			c.stable[i] = level
			c.logger.Infof("input%d changed to %t", i+1, level)
			c.emit(events.Event{Kind: events.InputChanged, Input: i + 1, Value: boolToInt(level)})
		}
	}
}

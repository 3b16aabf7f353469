package price

import (
	"context"
	"sync/atomic"

	"lendwatch/internal/metrics"
	"lendwatch/internal/models"
	"lendwatch/logger"
)

// ChannelStats tracks enqueue/dropped counters.
type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Channels carries price ticks from the feed reader to the aggregator.
type Channels struct {
	Ticks chan models.PriceTick

	sent    atomic.Int64
	dropped atomic.Int64
	log     *logger.Log
}

// NewChannels allocates the buffered tick channel.
func NewChannels(bufferSize int) *Channels {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	log := logger.GetLogger()
	ch := &Channels{
		Ticks: make(chan models.PriceTick, bufferSize),
		log:   log,
	}

	log.WithComponent("price_channels").WithField("buffer_size", bufferSize).Info("price channels initialized")
	return ch
}

// SendTick enqueues a tick without blocking. A full buffer drops the tick; the
// next one for the same feed supersedes it anyway.
func (c *Channels) SendTick(ctx context.Context, tick models.PriceTick) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	select {
	case c.Ticks <- tick:
		c.sent.Add(1)
		return true
	default:
		dropped := c.dropped.Add(1)
		metrics.RecordTick(metrics.TickDropped)
		logger.IncrementCounter("price_ticks_dropped", 1)
		if dropped == 1 || dropped%1000 == 0 {
			c.log.WithComponent("price_channels").WithFields(logger.Fields{
				"mint":    tick.Mint,
				"dropped": dropped,
			}).Warn("tick buffer full, dropping tick")
		}
		return false
	}
}

// GetStats returns a snapshot of the telemetry counters.
func (c *Channels) GetStats() ChannelStats {
	return ChannelStats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
}

// Len reports the number of buffered ticks.
func (c *Channels) Len() int {
	return len(c.Ticks)
}

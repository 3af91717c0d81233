package metrics

import (
	"context"
	"time"

	"github.com/cuemby/vault/pkg/index"
)

// staleNodeThresholdSeconds is how long a node's last_heartbeat may age
// before the node is reported stale. The scheduler sends no heartbeats;
// last_heartbeat changes only through Index.RegisterNode and
// Index.Heartbeat.
const staleNodeThresholdSeconds = 45

// Collector periodically snapshots the index into the task/node gauges.
type Collector struct {
	idx    *index.Index
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over idx.
func NewCollector(idx *index.Index) *Collector {
	return &Collector{
		idx:    idx,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectTaskMetrics(ctx)
	c.collectNodeMetrics(ctx)
}

func (c *Collector) collectTaskMetrics(ctx context.Context) {
	counts, err := c.idx.CountByStatus(ctx)
	if err != nil {
		return
	}
	for status, count := range counts {
		TasksByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectNodeMetrics(ctx context.Context) {
	total, stale, err := c.idx.CountNodes(ctx, staleNodeThresholdSeconds)
	if err != nil {
		return
	}
	NodesTotal.WithLabelValues("active").Set(float64(total - stale))
	NodesTotal.WithLabelValues("stale").Set(float64(stale))
}

package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/osvaldoandrade/panoq/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
)

// DepthReader reports current list lengths.
type DepthReader interface {
	Depth(ctx context.Context) (queue.Depth, error)
}

type queueCollector struct {
	src    DepthReader
	names  queue.Names
	logger *slog.Logger

	queueDepthDesc *prometheus.Desc
}

func NewQueueCollector(src DepthReader, names queue.Names, logger *slog.Logger) prometheus.Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &queueCollector{
		src:    src,
		names:  names,
		logger: logger,
		queueDepthDesc: prometheus.NewDesc(
			"panoq_queue_depth",
			"Current number of items waiting in the task and result lists.",
			[]string{"queue", "key"},
			nil,
		),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepthDesc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d, err := c.src.Depth(ctx)
	if err != nil {
		c.logger.Warn("prometheus queue collector failed", "err", err)
		return
	}
	emitGauge(ch, c.queueDepthDesc, float64(d.Task), "task", c.names.Task)
	emitGauge(ch, c.queueDepthDesc, float64(d.Result), "result", c.names.Result)
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var (
	queueCollectorMu      sync.Mutex
	activeQueueCollectors = map[prometheus.Registerer]prometheus.Collector{}
)

// RegisterQueueCollector installs a depth collector for src on reg, replacing
// the one a previous caller installed. The returned func removes it again
// unless a later call has already replaced it.
func RegisterQueueCollector(reg prometheus.Registerer, src DepthReader, names queue.Names, logger *slog.Logger) (func(), error) {
	queueCollectorMu.Lock()
	defer queueCollectorMu.Unlock()

	if prev, ok := activeQueueCollectors[reg]; ok {
		reg.Unregister(prev)
		delete(activeQueueCollectors, reg)
	}
	c := NewQueueCollector(src, names, logger)
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	activeQueueCollectors[reg] = c

	return func() {
		queueCollectorMu.Lock()
		defer queueCollectorMu.Unlock()
		if activeQueueCollectors[reg] != c {
			return
		}
		reg.Unregister(c)
		delete(activeQueueCollectors, reg)
	}, nil
}

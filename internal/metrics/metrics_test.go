package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/osvaldoandrade/panoq/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherGauges(t *testing.T, c prometheus.Collector) map[string]float64 {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "panoq_queue_depth" {
			continue
		}
		for _, m := range mf.GetMetric() {
			out[labelValue(m, "queue")] = m.GetGauge().GetValue()
		}
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestQueueCollectorReportsDepth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	names := queue.Names{Task: "panorama:task", Result: "panorama:result"}
	mr.Lpush(names.Task, "a")
	mr.Lpush(names.Task, "b")
	mr.Lpush(names.Task, "c")
	mr.Lpush(names.Result, "r")

	got := gatherGauges(t, NewQueueCollector(queue.New(rdb, names), names, nil))
	if got["task"] != 3 || got["result"] != 1 {
		t.Fatalf("depth gauges = %v, want task=3 result=1", got)
	}
}

type failingDepth struct{}

func (failingDepth) Depth(context.Context) (queue.Depth, error) {
	return queue.Depth{}, errors.New("connection refused")
}

func TestQueueCollectorSkipsOnError(t *testing.T) {
	got := gatherGauges(t, NewQueueCollector(failingDepth{}, queue.Names{Task: "t", Result: "r"}, nil))
	if len(got) != 0 {
		t.Fatalf("expected no samples on error, got %v", got)
	}
}

type fixedDepth queue.Depth

func (f fixedDepth) Depth(context.Context) (queue.Depth, error) {
	return queue.Depth(f), nil
}

func gatherRegistry(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "panoq_queue_depth" {
			continue
		}
		for _, m := range mf.GetMetric() {
			out[labelValue(m, "queue")] = m.GetGauge().GetValue()
		}
	}
	return out
}

func TestRegisterQueueCollectorReplacesPrevious(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	names := queue.Names{Task: "t", Result: "r"}

	unregisterFirst, err := RegisterQueueCollector(reg, fixedDepth{Task: 1, Result: 1}, names, nil)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	unregisterSecond, err := RegisterQueueCollector(reg, fixedDepth{Task: 5, Result: 2}, names, nil)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if got := gatherRegistry(t, reg); got["task"] != 5 || got["result"] != 2 {
		t.Fatalf("depth gauges = %v, want task=5 result=2", got)
	}

	// A stale unregister must not remove the newer collector.
	unregisterFirst()
	if got := gatherRegistry(t, reg); got["task"] != 5 {
		t.Fatalf("depth gauges after stale unregister = %v", got)
	}

	unregisterSecond()
	if got := gatherRegistry(t, reg); len(got) != 0 {
		t.Fatalf("expected no samples after unregister, got %v", got)
	}
	if _, err := RegisterQueueCollector(reg, fixedDepth{Task: 7}, names, nil); err != nil {
		t.Fatalf("register after unregister: %v", err)
	}
	if got := gatherRegistry(t, reg); got["task"] != 7 {
		t.Fatalf("depth gauges = %v, want task=7", got)
	}
}

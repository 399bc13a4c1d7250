package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/osvaldoandrade/panoq/internal/backoff"
	"github.com/osvaldoandrade/panoq/internal/metrics"
	"github.com/osvaldoandrade/panoq/internal/services"
	"github.com/osvaldoandrade/panoq/pkg/domain"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// Broker is the queue side of the loop. A nil payload from PopTask means
// the wait elapsed with nothing to consume.
type Broker interface {
	PopTask(ctx context.Context, wait time.Duration) ([]byte, error)
	PushResult(ctx context.Context, payload []byte) error
	Close() error
}

type Options struct {
	PollTimeout      time.Duration
	InferenceTimeout time.Duration
	Backoff          backoff.Policy
	Logger           *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.InferenceTimeout <= 0 {
		o.InferenceTimeout = 600 * time.Second
	}
	if o.Backoff.Name == "" {
		o.Backoff = backoff.Policy{Name: backoff.Fixed, Base: 5 * time.Second, Max: 60 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Loop consumes tasks one at a time until stopped. A Loop runs once; it
// owns its broker and closes it on exit.
type Loop struct {
	broker     Broker
	dispatcher services.DispatchService
	opts       Options
	logger     *slog.Logger

	state    atomic.Int32
	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewLoop(broker Broker, dispatcher services.DispatchService, opts Options) *Loop {
	opts = opts.withDefaults()
	return &Loop{
		broker:     broker,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     opts.Logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start moves the loop to Running and spawns its goroutine. It returns
// false if the loop was already started.
func (l *Loop) Start() bool {
	if !l.started.CompareAndSwap(false, true) {
		return false
	}
	l.state.Store(int32(StateRunning))
	metrics.WorkerRunning.Set(1)
	go l.run()
	return true
}

// Stop asks the loop to exit after the current iteration. It never blocks
// and never interrupts an inference in flight.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	})
}

// Done is closed once the loop has reached Stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) stopping() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *Loop) run() {
	defer func() {
		if err := l.broker.Close(); err != nil {
			l.logger.Warn("worker broker close failed", "err", err)
		}
		// The gauge is cleared first so that a loop started right after the
		// state change is not reported as idle.
		metrics.WorkerRunning.Set(0)
		l.state.Store(int32(StateStopped))
		l.logger.Info("worker loop stopped")
		close(l.done)
	}()

	l.logger.Info("worker loop started",
		"poll_timeout", l.opts.PollTimeout.String(),
		"inference_timeout", l.opts.InferenceTimeout.String(),
	)

	failures := 0
	for !l.stopping() {
		stage, err := l.iterate()
		if err == nil {
			failures = 0
			continue
		}
		metrics.WorkerLoopErrorsTotal.WithLabelValues(stage).Inc()
		delay := l.opts.Backoff.Delay(failures)
		failures++
		l.logger.Error("worker loop iteration failed",
			"stage", stage,
			"consecutive_failures", failures,
			"pause", delay.String(),
			"err", err,
		)
		l.pause(delay)
	}
}

// pause waits for d or until stop is requested.
func (l *Loop) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-l.stop:
	}
}

// iterate performs one pop-dispatch-push cycle and reports the stage that failed.
func (l *Loop) iterate() (stage string, err error) {
	stage = "pop"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			stage = "panic"
		}
	}()

	// Inference and publishing are not tied to the stop signal.
	ctx := context.Background()

	payload, err := l.broker.PopTask(ctx, l.opts.PollTimeout)
	if err != nil {
		return stage, err
	}
	if payload == nil {
		return "", nil
	}
	metrics.TasksConsumedTotal.Inc()

	task, err := domain.DecodeTask(payload)
	if err != nil {
		metrics.MalformedPayloadsTotal.Inc()
		l.logger.Warn("dropping malformed task payload", "err", err, "payload", preview(payload))
		return "", nil
	}

	l.logger.Info("task received", "task_id", task.TaskID, "mode", task.Mode)
	res := l.dispatcher.Dispatch(ctx, task, l.opts.InferenceTimeout)

	stage = "push"
	out, err := domain.EncodeResult(domain.NewResultMessage(task.TaskID, res))
	if err != nil {
		return stage, fmt.Errorf("encode result for task %s: %w", task.TaskID, err)
	}
	if err := l.broker.PushResult(ctx, out); err != nil {
		return stage, fmt.Errorf("publish result for task %s: %w", task.TaskID, err)
	}
	metrics.ResultsPublishedTotal.WithLabelValues(strconv.FormatBool(res.Success)).Inc()
	l.logger.Info("result published", "task_id", task.TaskID, "success", res.Success)
	return "", nil
}

func preview(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/osvaldoandrade/panoq/internal/services"
	"github.com/osvaldoandrade/panoq/pkg/inference"
)

var errNoBroker = errors.New("worker: broker dialer returned nil")

// Dialer opens a fresh broker connection for each loop.
type Dialer func() (Broker, error)

// Controller owns at most one live Loop. It is safe for concurrent use.
type Controller struct {
	dial   Dialer
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	loop *Loop
}

func NewController(dial Dialer, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{dial: dial, opts: opts, logger: opts.Logger}
}

// Start launches a loop backed by capability. While a loop is running or
// draining the call is rejected with a warning and returns false.
func (c *Controller) Start(capability inference.Capability) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loop != nil && c.loop.State() != StateStopped {
		c.logger.Warn("worker already running; start ignored", "state", c.loop.State().String())
		return false
	}

	broker, err := c.dial()
	if err == nil && broker == nil {
		err = errNoBroker
	}
	if err != nil {
		c.logger.Error("worker start failed", "err", err)
		return false
	}

	loop := NewLoop(broker, services.NewDispatchService(capability, c.logger), c.opts)
	c.loop = loop
	return loop.Start()
}

// Stop signals the current loop, if any, and returns immediately.
func (c *Controller) Stop() {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()

	if loop == nil {
		return
	}
	loop.Stop()
}

// Wait blocks until the current loop has stopped or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()

	if loop == nil {
		return nil
	}
	select {
	case <-loop.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loop == nil {
		return StateStopped
	}
	return c.loop.State()
}

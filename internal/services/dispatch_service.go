package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/osvaldoandrade/panoq/internal/metrics"
	"github.com/osvaldoandrade/panoq/pkg/domain"
	"github.com/osvaldoandrade/panoq/pkg/inference"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	MsgOutpaintRequiresImage = "outpaint mode requires image_path"
	MsgMissingArtifacts      = "some output images missing after run"

	maxFailureMessage = 512
)

// DispatchService turns one task into exactly one InferenceResult. It keeps
// no state between calls and is shared by the worker loop and HTTP handlers.
type DispatchService interface {
	Dispatch(ctx context.Context, task domain.TaskMessage, timeout time.Duration) domain.InferenceResult
}

type dispatchService struct {
	capability inference.Capability
	logger     *slog.Logger
}

func NewDispatchService(capability inference.Capability, logger *slog.Logger) DispatchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatchService{capability: capability, logger: logger}
}

type runOutcome struct {
	out inference.Output
	err error
}

func (s *dispatchService) Dispatch(ctx context.Context, task domain.TaskMessage, timeout time.Duration) domain.InferenceResult {
	mode := task.Mode
	if mode == "" {
		mode = domain.ModeText2Pano
	}

	ctx, span := otel.Tracer("panoq/dispatch").Start(ctx, "panoq.dispatch",
		trace.WithAttributes(
			attribute.String("panoq.task_id", task.TaskID),
			attribute.String("panoq.mode", string(mode)),
			attribute.Bool("panoq.gen_video", task.GenVideo),
		),
	)
	defer span.End()

	if mode == domain.ModeOutpaint && !task.HasImage() {
		span.SetStatus(codes.Error, MsgOutpaintRequiresImage)
		metrics.InferenceTotal.WithLabelValues(string(mode), metrics.OutcomePrecondition).Inc()
		s.logger.Warn("task rejected", "task_id", task.TaskID, "mode", mode, "reason", MsgOutpaintRequiresImage)
		return domain.Failed(MsgOutpaintRequiresImage)
	}

	req := inference.Request{
		Text:     task.Text,
		Mode:     mode,
		TextPath: strings.TrimSpace(task.TextPath),
		GenVideo: task.GenVideo,
	}
	// The reference image only means something to outpaint.
	if mode == domain.ModeOutpaint {
		req.ImagePath = strings.TrimSpace(task.ImagePath)
	}

	start := time.Now()
	out, err := s.run(ctx, req, timeout)
	elapsed := time.Since(start)

	res, outcome := s.classify(out, err, timeout)
	metrics.InferenceTotal.WithLabelValues(string(mode), outcome).Inc()
	metrics.InferenceDurationSeconds.WithLabelValues(string(mode), outcome).Observe(elapsed.Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.Error("inference failed",
			"task_id", task.TaskID,
			"mode", mode,
			"outcome", outcome,
			"elapsed", elapsed.String(),
			"err", err,
		)
		return res
	}

	span.SetAttributes(attribute.Int("panoq.images", len(out.ImagePaths)))
	s.logger.Info("inference finished",
		"task_id", task.TaskID,
		"mode", mode,
		"output_dir", out.OutputDir,
		"images", len(out.ImagePaths),
		"elapsed", elapsed.String(),
	)
	return res
}

// run bounds the capability by timeout even when it ignores ctx, and
// converts a panic into an error.
func (s *dispatchService) run(ctx context.Context, req inference.Request, timeout time.Duration) (inference.Output, error) {
	if s.capability == nil {
		return inference.Output{}, errors.New("no inference capability configured")
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: fmt.Errorf("inference panicked: %v", r)}
			}
		}()
		out, err := s.capability.Run(runCtx, req)
		done <- runOutcome{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && runCtx.Err() != nil {
			return inference.Output{}, runCtx.Err()
		}
		return r.out, r.err
	case <-runCtx.Done():
		return inference.Output{}, runCtx.Err()
	}
}

func (s *dispatchService) classify(out inference.Output, err error, timeout time.Duration) (domain.InferenceResult, string) {
	if err == nil {
		return domain.InferenceResult{
			Success:    true,
			OutputDir:  out.OutputDir,
			ImagePaths: out.ImagePaths,
		}, metrics.OutcomeSuccess
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Failed(timeoutMessage(timeout)), metrics.OutcomeTimeout
	}

	var missing *inference.MissingArtifactsError
	if errors.As(err, &missing) {
		res := domain.Failed(MsgMissingArtifacts)
		res.OutputDir = missing.OutputDir
		return res, metrics.OutcomeMissing
	}

	return domain.Failed("inference failed: " + summarize(err)), metrics.OutcomeFailure
}

func timeoutMessage(timeout time.Duration) string {
	secs := int64(math.Ceil(timeout.Seconds()))
	return fmt.Sprintf("inference timed out after %ds", secs)
}

// summarize keeps the first line of err, capped, so callers never see
// multi-line process output or stack traces.
func summarize(err error) string {
	msg := strings.TrimSpace(err.Error())
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	if len(msg) > maxFailureMessage {
		msg = msg[:maxFailureMessage]
		for len(msg) > 0 && !utf8.ValidString(msg) {
			msg = msg[:len(msg)-1]
		}
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}

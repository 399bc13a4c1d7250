package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/panoq/internal/metrics"
	"github.com/osvaldoandrade/panoq/internal/middleware"
	"github.com/osvaldoandrade/panoq/internal/ratelimit"
	"github.com/osvaldoandrade/panoq/internal/services"
	"github.com/osvaldoandrade/panoq/pkg/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const rateLimitScope = "test_inference"

type testInferenceController struct {
	svc     services.DispatchService
	timeout time.Duration
	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket
}

// NewTestInferenceController serves synchronous text2pano runs that bypass
// the queue. limiter may be nil.
func NewTestInferenceController(svc services.DispatchService, timeout time.Duration, limiter ratelimit.Limiter, bucket ratelimit.Bucket) *testInferenceController {
	return &testInferenceController{svc: svc, timeout: timeout, limiter: limiter, bucket: bucket}
}

type testInferenceReq struct {
	Text string `json:"text" binding:"required"`
}

type testInferenceResp struct {
	Success    bool     `json:"success"`
	OutputDir  string   `json:"output_dir,omitempty"`
	ImagePaths []string `json:"image_paths,omitempty"`
	Message    string   `json:"message,omitempty"`
}

func (h *testInferenceController) Handle(c *gin.Context) {
	var req testInferenceReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if !h.allow(c) {
		return
	}

	task := domain.TaskMessage{
		TaskID: "sync-" + uuid.NewString(),
		Text:   strings.TrimSpace(req.Text),
		Mode:   domain.ModeText2Pano,
	}
	middleware.LoggerFrom(c).Info("synchronous inference requested", "task_id", task.TaskID, "text_len", len(task.Text))

	res := h.svc.Dispatch(c.Request.Context(), task, h.timeout)
	c.JSON(http.StatusOK, testInferenceResp{
		Success:    res.Success,
		OutputDir:  res.OutputDir,
		ImagePaths: res.ImagePaths,
		Message:    res.Message,
	})
}

// allow applies the token bucket and writes a 429 when it is exhausted.
// Limiter errors fail open.
func (h *testInferenceController) allow(c *gin.Context) bool {
	if h.limiter == nil || !h.bucket.Enabled() {
		return true
	}
	dec, err := h.limiter.Allow(c.Request.Context(), rateLimitScope, c.ClientIP(), h.bucket)
	if err != nil {
		middleware.LoggerFrom(c).Warn("rate limit check failed", "scope", rateLimitScope, "err", err)
		return true
	}
	if dec.Allowed {
		return true
	}

	retryAfterSeconds := int(dec.RetryAfter.Seconds())
	if retryAfterSeconds <= 0 {
		retryAfterSeconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	metrics.RateLimitHitsTotal.WithLabelValues(rateLimitScope).Inc()
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":             "rate limit exceeded",
		"retryAfterSeconds": retryAfterSeconds,
	})
	return false
}

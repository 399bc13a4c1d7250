// Package placeholder provides a backend that reports a fixed set of view
// images without generating anything. It lets the queue path be exercised
// on hosts without model weights.
package placeholder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/osvaldoandrade/panoq/pkg/inference"
)

const Name = "placeholder"

type Backend struct {
	outputDir string
	views     int
	logger    *slog.Logger
}

func New(s inference.Settings) (inference.Capability, error) {
	root := s.OutputsDir
	if root == "" {
		root = "/app/outputs"
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		outputDir: filepath.Join(root, "placeholder"),
		views:     s.Views,
		logger:    logger,
	}, nil
}

func init() {
	inference.Register(Name, New)
}

func (b *Backend) Run(ctx context.Context, req inference.Request) (inference.Output, error) {
	if err := ctx.Err(); err != nil {
		return inference.Output{}, err
	}
	b.logger.Debug("placeholder inference", "mode", req.Mode, "text_len", len(req.Text), "image_path", req.ImagePath)

	paths := make([]string, b.views)
	for i := range paths {
		paths[i] = filepath.Join(b.outputDir, fmt.Sprintf("%d.png", i))
	}
	return inference.Output{OutputDir: b.outputDir, ImagePaths: paths}, nil
}

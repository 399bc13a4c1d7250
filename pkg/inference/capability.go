package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/panoq/pkg/domain"
)

// DefaultViews is the number of panorama views a run produces.
const DefaultViews = 8

// Request carries everything a backend needs for one generation.
type Request struct {
	Text      string
	Mode      domain.Mode
	ImagePath string
	TextPath  string
	GenVideo  bool
}

// Output lists generated artifacts, one image per view in view order.
type Output struct {
	OutputDir  string
	ImagePaths []string
}

// Capability is the single operation every inference backend exposes.
// Implementations must return once ctx is done.
type Capability interface {
	Run(ctx context.Context, req Request) (Output, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, req Request) (Output, error)

func (f CapabilityFunc) Run(ctx context.Context, req Request) (Output, error) { return f(ctx, req) }

// MissingArtifactsError is returned when a run reported an output folder
// but some expected view images are not on disk.
type MissingArtifactsError struct {
	OutputDir string
	Missing   []string
}

func (e *MissingArtifactsError) Error() string {
	return fmt.Sprintf("output images missing in %s: %s", e.OutputDir, strings.Join(e.Missing, ", "))
}

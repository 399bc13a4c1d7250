// Package subprocess runs the panorama generation script as a child process
// and collects the view images it writes.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/osvaldoandrade/panoq/pkg/domain"
	"github.com/osvaldoandrade/panoq/pkg/inference"
)

const Name = "subprocess"

// The script reports where it wrote images with a line like
// "saved to the folder: outputs/results--20250101-120000".
var savedFolderRe = regexp.MustCompile(`saved to the folder:\s*(\S+)`)

const maxDiagnostic = 500

type Backend struct {
	root      string
	pythonBin string
	script    string
	hfHome    string
	views     int
	logger    *slog.Logger
}

func New(s inference.Settings) (inference.Capability, error) {
	if strings.TrimSpace(s.PythonBin) == "" {
		return nil, errors.New("subprocess backend: python binary is empty")
	}
	if strings.TrimSpace(s.Script) == "" {
		return nil, errors.New("subprocess backend: script is empty")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	views := s.Views
	if views <= 0 {
		views = inference.DefaultViews
	}
	return &Backend{
		root:      s.ProjectRoot,
		pythonBin: s.PythonBin,
		script:    inference.ResolvePath(s.ProjectRoot, s.Script),
		hfHome:    inference.ResolvePath(s.ProjectRoot, s.HFHome),
		views:     views,
		logger:    logger,
	}, nil
}

func init() {
	inference.Register(Name, New)
}

func (b *Backend) Run(ctx context.Context, req inference.Request) (inference.Output, error) {
	args, err := b.args(req)
	if err != nil {
		return inference.Output{}, err
	}

	cmd := exec.CommandContext(ctx, b.pythonBin, args...)
	cmd.Dir = b.root
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if b.hfHome != "" {
		cmd.Env = append(cmd.Env, "HF_HOME="+b.hfHome)
	}
	// Grandchildren holding the pipes open must not pin Wait after a kill.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	b.logger.Debug("inference script finished",
		"script", b.script,
		"elapsed", time.Since(started).String(),
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return inference.Output{}, fmt.Errorf("inference script interrupted: %w", ctxErr)
	}
	if runErr != nil {
		return inference.Output{}, fmt.Errorf("inference script failed: %w\nstderr:\n%s", runErr, clip(stderr.String()))
	}

	m := savedFolderRe.FindStringSubmatch(stdout.String())
	if m == nil {
		return inference.Output{}, fmt.Errorf("could not parse output folder\nstdout:\n%s\nstderr:\n%s", clip(stdout.String()), clip(stderr.String()))
	}
	outDir := inference.ResolvePath(b.root, strings.TrimSpace(m[1]))
	return collect(outDir, b.views)
}

func (b *Backend) args(req inference.Request) ([]string, error) {
	if _, err := os.Stat(b.script); err != nil {
		return nil, fmt.Errorf("inference script not found at %s", b.script)
	}
	args := []string{b.script, "--text", req.Text}

	if req.Mode == domain.ModeOutpaint {
		img := inference.ResolvePath(b.root, strings.TrimSpace(req.ImagePath))
		if img == "" {
			return nil, errors.New("image_path is required for outpaint")
		}
		if _, err := os.Stat(img); err != nil {
			return nil, fmt.Errorf("image_path not found: %s", img)
		}
		args = append(args, "--image_path", img)
	}
	if strings.TrimSpace(req.TextPath) != "" {
		if _, err := inference.LoadPrompts(req.Text, req.TextPath, b.root, b.views); err != nil {
			return nil, err
		}
		args = append(args, "--text_path", inference.ResolvePath(b.root, req.TextPath))
	}
	if req.GenVideo {
		args = append(args, "--gen_video")
	}
	return args, nil
}

func collect(outDir string, views int) (inference.Output, error) {
	paths := make([]string, views)
	var missing []string
	for i := range paths {
		paths[i] = filepath.Join(outDir, fmt.Sprintf("%d.png", i))
		if st, err := os.Stat(paths[i]); err != nil || st.IsDir() {
			missing = append(missing, paths[i])
		}
	}
	if len(missing) > 0 {
		return inference.Output{}, &inference.MissingArtifactsError{OutputDir: outDir, Missing: missing}
	}
	return inference.Output{OutputDir: outDir, ImagePaths: paths}, nil
}

func clip(s string) string {
	if len(s) <= maxDiagnostic {
		return s
	}
	return s[:maxDiagnostic]
}

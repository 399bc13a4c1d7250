// Package remote calls a panorama inference server over HTTP.
// The server only generates from text, so image and prompt-file
// requests are rejected before any network call.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/osvaldoandrade/panoq/internal/tracing"
	"github.com/osvaldoandrade/panoq/pkg/domain"
	"github.com/osvaldoandrade/panoq/pkg/inference"
)

const Name = "remote"

var ErrUnsupported = errors.New("remote backend supports text2pano only")

type request struct {
	Text string `json:"text"`
}

type response struct {
	Success    bool     `json:"success"`
	OutputDir  string   `json:"output_dir"`
	ImagePaths []string `json:"image_paths"`
	Message    string   `json:"message"`
}

type Backend struct {
	endpoint string
	client   *http.Client
}

func New(s inference.Settings) (inference.Capability, error) {
	base := strings.TrimRight(strings.TrimSpace(s.RemoteURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("remote backend: invalid url %q", s.RemoteURL)
	}
	client := s.HTTPClient
	if client == nil {
		// Deadlines come from the request context.
		client = &http.Client{}
	}
	return &Backend{endpoint: base + "/api/inference", client: client}, nil
}

func init() {
	inference.Register(Name, New)
}

func (b *Backend) Run(ctx context.Context, req inference.Request) (inference.Output, error) {
	if req.Mode == domain.ModeOutpaint || strings.TrimSpace(req.TextPath) != "" {
		return inference.Output{}, ErrUnsupported
	}

	body, err := json.Marshal(request{Text: req.Text})
	if err != nil {
		return inference.Output{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return inference.Output{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectHeaders(ctx, httpReq.Header)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return inference.Output{}, ctx.Err()
		}
		return inference.Output{}, fmt.Errorf("remote inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return inference.Output{}, fmt.Errorf("remote inference http error: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return inference.Output{}, fmt.Errorf("decode remote inference response: %w", err)
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = "remote inference reported failure"
		}
		return inference.Output{}, errors.New(msg)
	}
	return inference.Output{OutputDir: out.OutputDir, ImagePaths: out.ImagePaths}, nil
}

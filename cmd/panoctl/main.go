package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/panoq/internal/queue"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	color.NoColor = !isTerminal(int(os.Stdout.Fd()))
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// settings holds the persistent flags shared by every subcommand.
type settings struct {
	baseURL     string
	redisURL    string
	taskQueue   string
	resultQueue string
	timeout     time.Duration
}

func (s *settings) names() queue.Names {
	return queue.Names{Task: s.taskQueue, Result: s.resultQueue}
}

func (s *settings) dial() (*queue.RedisQueue, error) {
	q, err := queue.Dial(s.redisURL, s.names())
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return q, nil
}

type client struct {
	baseURL    string
	httpClient *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *client) request(ctx context.Context, method, path string, body any) (int, http.Header, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header, out, nil
}

// startSpinner shows progress on interactive terminals only.
func startSpinner(suffix string) func() {
	if !isTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " " + suffix
	spin.Start()
	return spin.Stop
}

func main() {
	if err := newRootCmd(newUI()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(ui *ui) *cobra.Command {
	s := &settings{
		baseURL:     getenv("PANOQ_BASE_URL", "http://localhost:9000"),
		redisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		taskQueue:   getenv("TASK_QUEUE", "panorama:task"),
		resultQueue: getenv("RESULT_QUEUE", "panorama:result"),
	}

	root := &cobra.Command{
		Use:   "panoctl",
		Short: "panoq CLI",
		Long:  "panoctl submits panorama tasks, watches results and probes a panoq server.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&s.baseURL, "base-url", s.baseURL, "Base URL of the panoq HTTP server")
	root.PersistentFlags().StringVar(&s.redisURL, "redis-url", s.redisURL, "Redis URL")
	root.PersistentFlags().StringVar(&s.taskQueue, "task-queue", s.taskQueue, "Task queue key")
	root.PersistentFlags().StringVar(&s.resultQueue, "result-queue", s.resultQueue, "Result queue key")
	root.PersistentFlags().DurationVar(&s.timeout, "timeout", 15*time.Minute, "HTTP client timeout")

	root.AddCommand(
		taskCmd(s, ui),
		resultCmd(s, ui),
		queueCmd(s, ui),
		testCmd(s, ui),
		healthCmd(s, ui),
	)
	return root
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

func helpTemplate(ui *ui) string {
	title := ui.title("panoctl")
	return fmt.Sprintf(`%s - CLI for panoq

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Examples:
  panoctl task submit --text "a cozy kitchen"
  panoctl task submit --mode outpaint --text "beach" --image-path inputs/beach.png
  panoctl result watch --count 3 --output yaml
  panoctl queue inspect
  panoctl test infer --text "a cozy kitchen"
  panoctl health

`, title)
}

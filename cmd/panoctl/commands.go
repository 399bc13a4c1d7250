package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/osvaldoandrade/panoq/pkg/domain"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// resultView mirrors domain.ResultMessage with yaml names for printing.
type resultView struct {
	TaskID     string   `json:"task_id" yaml:"task_id"`
	Success    bool     `json:"success" yaml:"success"`
	OutputDir  string   `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	ImagePaths []string `json:"image_paths,omitempty" yaml:"image_paths,omitempty"`
	Message    string   `json:"message,omitempty" yaml:"message,omitempty"`
}

type depthView struct {
	Queues map[string]queueView `json:"queues" yaml:"queues"`
}

type queueView struct {
	Key   string `json:"key" yaml:"key"`
	Depth int64  `json:"depth" yaml:"depth"`
}

func printValue(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "---\n%s", b)
		return err
	case "json", "":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	default:
		return fmt.Errorf("unknown output format %q (json|yaml)", format)
	}
}

func taskCmd(s *settings, ui *ui) *cobra.Command {
	var (
		taskID    string
		text      string
		mode      string
		imagePath string
		textPath  string
		genVideo  bool
	)

	submit := &cobra.Command{
		Use:     "submit",
		Short:   "Push a task onto the task queue",
		Example: "panoctl task submit --text \"a cozy kitchen\" --gen-video",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(text) == "" {
				return errors.New("text is required")
			}
			m := domain.Mode(mode)
			if !m.Valid() {
				return fmt.Errorf("mode must be %s or %s", domain.ModeText2Pano, domain.ModeOutpaint)
			}
			if strings.TrimSpace(taskID) == "" {
				taskID = uuid.NewString()
			}
			task := domain.TaskMessage{
				TaskID:    taskID,
				Text:      text,
				Mode:      m,
				ImagePath: imagePath,
				TextPath:  textPath,
				GenVideo:  genVideo,
			}
			if m == domain.ModeOutpaint && !task.HasImage() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s outpaint without --image-path will fail on the worker\n", ui.warn("[WARN]"))
			}
			payload, err := domain.EncodeTask(task)
			if err != nil {
				return err
			}

			q, err := s.dial()
			if err != nil {
				return err
			}
			defer q.Close()

			stop := startSpinner("Enqueueing task...")
			err = q.PushTask(cmd.Context(), payload)
			stop()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Task queued: %s %s\n", ui.ok("[OK]"), task.TaskID, ui.dim("("+s.taskQueue+")"))
			return nil
		},
	}
	submit.Flags().StringVar(&taskID, "task-id", "", "Task id (random uuid when empty)")
	submit.Flags().StringVar(&text, "text", "", "Prompt text")
	submit.Flags().StringVar(&mode, "mode", string(domain.ModeText2Pano), "Mode: text2pano|outpaint")
	submit.Flags().StringVar(&imagePath, "image-path", "", "Reference image (outpaint)")
	submit.Flags().StringVar(&textPath, "text-path", "", "File with one prompt per view")
	submit.Flags().BoolVar(&genVideo, "gen-video", false, "Also render a video")

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}
	cmd.AddCommand(submit)
	return cmd
}

func resultCmd(s *settings, ui *ui) *cobra.Command {
	var (
		count   int
		waitSec int
		output  string
	)

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Pop results from the result queue and print them",
		Long:  "Pops results from the result queue. Popped results are removed and will not reach other consumers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				count = 1
			}
			if waitSec <= 0 {
				waitSec = 1
			}
			q, err := s.dial()
			if err != nil {
				return err
			}
			defer q.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var bar *progressbar.ProgressBar
			if count > 1 {
				bar = progressbar.NewOptions(count,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("Waiting for results"),
					progressbar.OptionSetWidth(18),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}

			for i := 0; i < count; i++ {
				raw, err := q.PopResult(ctx, time.Duration(waitSec)*time.Second)
				if err != nil {
					if ctx.Err() != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), ui.warn("[WARN]"), "Stopped.")
						return nil
					}
					return err
				}
				if raw == nil {
					return fmt.Errorf("no result within %ds (%d of %d received)", waitSec, i, count)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
				msg, err := domain.DecodeResult(raw)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s skipping %v: %s\n", ui.warn("[WARN]"), err, string(raw))
					continue
				}
				if err := printValue(cmd.OutOrStdout(), output, resultView(msg)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	watch.Flags().IntVar(&count, "count", 1, "Number of results to pop")
	watch.Flags().IntVar(&waitSec, "wait-seconds", 30, "Seconds to wait for each result")
	watch.Flags().StringVarP(&output, "output", "o", "json", "Output format: json|yaml")

	cmd := &cobra.Command{
		Use:   "result",
		Short: "Result operations",
	}
	cmd.AddCommand(watch)
	return cmd
}

func queueCmd(s *settings, ui *ui) *cobra.Command {
	var output string

	inspect := &cobra.Command{
		Use:     "inspect",
		Short:   "Inspect queue depth",
		Example: "panoctl queue inspect -o yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := s.dial()
			if err != nil {
				return err
			}
			defer q.Close()

			stop := startSpinner("Inspecting queues...")
			d, err := q.Depth(cmd.Context())
			stop()
			if err != nil {
				return err
			}
			if output == "text" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d | %s %s: %d\n",
					ui.info("TASK"), ui.dim(s.taskQueue), d.Task,
					ui.ok("RESULT"), ui.dim(s.resultQueue), d.Result,
				)
				return nil
			}
			return printValue(cmd.OutOrStdout(), output, depthView{Queues: map[string]queueView{
				"task":   {Key: s.taskQueue, Depth: d.Task},
				"result": {Key: s.resultQueue, Depth: d.Result},
			}})
		},
	}
	inspect.Flags().StringVarP(&output, "output", "o", "text", "Output format: text|json|yaml")

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue operations",
	}
	cmd.AddCommand(inspect)
	return cmd
}

func testCmd(s *settings, ui *ui) *cobra.Command {
	var (
		text   string
		output string
	)

	infer := &cobra.Command{
		Use:     "infer",
		Short:   "Run a synchronous text2pano inference on the server",
		Example: "panoctl test infer --text \"a cozy kitchen\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(text) == "" {
				return errors.New("text is required")
			}
			c := newClient(s.baseURL, s.timeout)
			stop := startSpinner("Running inference...")
			status, header, resp, err := c.request(cmd.Context(), http.MethodPost, "/api/test/inference", map[string]string{"text": text})
			stop()
			if err != nil {
				return err
			}
			if status == http.StatusTooManyRequests {
				return fmt.Errorf("rate limited, retry after %ss", header.Get("Retry-After"))
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out resultView
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), string(resp))
				return nil
			}
			if out.Success {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %d images in %s\n", ui.ok("[OK]"), len(out.ImagePaths), out.OutputDir)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", ui.err("[FAILED]"), out.Message)
			}
			return printValue(cmd.OutOrStdout(), output, out)
		},
	}
	infer.Flags().StringVar(&text, "text", "", "Prompt text")
	infer.Flags().StringVarP(&output, "output", "o", "json", "Output format: json|yaml")

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Server test endpoints",
	}
	cmd.AddCommand(infer)
	return cmd
}

func healthCmd(s *settings, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server liveness and readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c := newClient(s.baseURL, 10*time.Second)

			status, _, _, err := c.request(ctx, http.MethodGet, "/health", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("health: unexpected status %d", status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s live\n", ui.ok("[OK]"))

			status, _, resp, err := c.request(ctx, http.MethodGet, "/ready", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				var body struct {
					Reason string `json:"reason"`
				}
				_ = json.Unmarshal(resp, &body)
				fmt.Fprintf(cmd.OutOrStdout(), "%s not ready: %s\n", ui.err("[FAIL]"), body.Reason)
				return errors.New("server not ready")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ready\n", ui.ok("[OK]"))
			return nil
		},
	}
}

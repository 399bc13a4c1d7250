package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/osvaldoandrade/panoq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	root := newRootCmd(newUI())
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func redisArgs(mr *miniredis.Miniredis, args ...string) []string {
	return append([]string{"--redis-url", "redis://" + mr.Addr() + "/0", "--task-queue", "t:q", "--result-queue", "r:q"}, args...)
}

func TestTaskSubmitPushesTaskMessage(t *testing.T) {
	mr := miniredis.RunT(t)

	out, err := run(t, redisArgs(mr, "task", "submit", "--text", "a cozy kitchen", "--task-id", "t1", "--gen-video")...)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "t1") {
		t.Fatalf("expected task id in output, got %q", out)
	}

	items, err := mr.List("t:q")
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one queued task, got %v (%v)", items, err)
	}
	task, err := domain.DecodeTask([]byte(items[0]))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := domain.TaskMessage{TaskID: "t1", Text: "a cozy kitchen", Mode: domain.ModeText2Pano, GenVideo: true}
	if task != want {
		t.Fatalf("task = %+v, want %+v", task, want)
	}
}

func TestTaskSubmitGeneratesID(t *testing.T) {
	mr := miniredis.RunT(t)

	if _, err := run(t, redisArgs(mr, "task", "submit", "--text", "x", "--mode", "outpaint", "--image-path", "in.png")...); err != nil {
		t.Fatalf("submit: %v", err)
	}
	items, _ := mr.List("t:q")
	task, err := domain.DecodeTask([]byte(items[0]))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(task.TaskID) != 36 || task.Mode != domain.ModeOutpaint || task.ImagePath != "in.png" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestTaskSubmitValidation(t *testing.T) {
	mr := miniredis.RunT(t)

	if _, err := run(t, redisArgs(mr, "task", "submit")...); err == nil {
		t.Fatal("expected error without text")
	}
	if _, err := run(t, redisArgs(mr, "task", "submit", "--text", "x", "--mode", "inpaint")...); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if mr.Exists("t:q") {
		t.Fatal("nothing should be queued")
	}
}

func TestResultWatchPrintsResults(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Lpush("r:q", `{"task_id":"a","success":true,"output_dir":"/out","image_paths":["/out/0.png"]}`)
	mr.Lpush("r:q", `{"task_id":"b","success":false,"message":"outpaint mode requires image_path"}`)

	out, err := run(t, redisArgs(mr, "result", "watch", "--count", "2", "--wait-seconds", "1", "-o", "yaml")...)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	dec := yaml.NewDecoder(strings.NewReader(out))
	var got []resultView
	for {
		var v resultView
		if err := dec.Decode(&v); err != nil {
			break
		}
		got = append(got, v)
	}
	if len(got) != 2 || got[0].TaskID != "a" || got[1].TaskID != "b" {
		t.Fatalf("unexpected results: %+v\n%s", got, out)
	}
	if got[1].Message != "outpaint mode requires image_path" {
		t.Fatalf("unexpected message: %q", got[1].Message)
	}
	if mr.Exists("r:q") {
		t.Fatal("watched results should be popped")
	}
}

func TestResultWatchTimesOut(t *testing.T) {
	mr := miniredis.RunT(t)

	_, err := run(t, redisArgs(mr, "result", "watch", "--wait-seconds", "1")...)
	if err == nil || !strings.Contains(err.Error(), "no result within 1s") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestQueueInspect(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Lpush("t:q", "a")
	mr.Lpush("t:q", "b")
	mr.Lpush("r:q", "c")

	out, err := run(t, redisArgs(mr, "queue", "inspect", "-o", "json")...)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var v depthView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if v.Queues["task"].Depth != 2 || v.Queues["result"].Depth != 1 || v.Queues["task"].Key != "t:q" {
		t.Fatalf("unexpected depth: %+v", v)
	}

	out, err = run(t, redisArgs(mr, "queue", "inspect")...)
	if err != nil {
		t.Fatalf("inspect text: %v", err)
	}
	if !strings.Contains(out, "t:q: 2") || !strings.Contains(out, "r:q: 1") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestTestInfer(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/test/inference" {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotText = body["text"]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"output_dir":"/out","image_paths":["/out/0.png","/out/1.png"]}`))
	}))
	defer srv.Close()

	out, err := run(t, "--base-url", srv.URL, "test", "infer", "--text", "a cozy kitchen")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if gotText != "a cozy kitchen" {
		t.Fatalf("server got text %q", gotText)
	}
	var v resultView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if !v.Success || len(v.ImagePaths) != 2 {
		t.Fatalf("unexpected result: %+v", v)
	}
}

func TestTestInferRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := run(t, "--base-url", srv.URL, "test", "infer", "--text", "x")
	if err == nil || !strings.Contains(err.Error(), "retry after 12s") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case "/ready":
			if !ready.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"not_ready","reason":"dial tcp: refused"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"ready"}`))
		}
	}))
	defer srv.Close()

	out, err := run(t, "--base-url", srv.URL, "health")
	if err != nil || !strings.Contains(out, "ready") {
		t.Fatalf("health: %v %q", err, out)
	}

	ready.Store(false)
	out, err = run(t, "--base-url", srv.URL, "health")
	if err == nil || !strings.Contains(out, "dial tcp: refused") {
		t.Fatalf("expected not ready, got %v %q", err, out)
	}
}

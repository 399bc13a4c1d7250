package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

var testNames = Names{Task: "panorama:task", Result: "panorama:result"}

func setupQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, testNames), mr
}

func TestPushTaskThenPopIsFIFO(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		if err := q.PushTask(ctx, []byte(p)); err != nil {
			t.Fatalf("PushTask: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.PopTask(ctx, time.Second)
		if err != nil {
			t.Fatalf("PopTask: %v", err)
		}
		if string(got) != want {
			t.Fatalf("PopTask = %q, want %q", got, want)
		}
	}
}

func TestPopTaskTimeoutReturnsNil(t *testing.T) {
	q, _ := setupQueue(t)

	start := time.Now()
	got, err := q.PopTask(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("PopTask: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no payload, got %q", got)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("pop waited too long: %v", time.Since(start))
	}
}

func TestPushResultUsesResultList(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	if err := q.PushResult(ctx, []byte(`{"task_id":"t1","success":true}`)); err != nil {
		t.Fatalf("PushResult: %v", err)
	}
	items, err := mr.List(testNames.Result)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0] != `{"task_id":"t1","success":true}` {
		t.Fatalf("unexpected result list: %v", items)
	}
	if mr.Exists(testNames.Task) {
		t.Fatal("task list should be untouched")
	}

	got, err := q.PopResult(ctx, time.Second)
	if err != nil || string(got) != items[0] {
		t.Fatalf("PopResult = %q, %v", got, err)
	}
}

func TestDepth(t *testing.T) {
	q, mr := setupQueue(t)
	mr.Lpush(testNames.Task, "1")
	mr.Lpush(testNames.Task, "2")
	mr.Lpush(testNames.Result, "r")

	d, err := q.Depth(context.Background())
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if d.Task != 2 || d.Result != 1 {
		t.Fatalf("Depth = %+v, want task=2 result=1", d)
	}
}

func TestPingAndUnreachable(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	if err := q.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	mr.Close()
	if err := q.Ping(ctx); err == nil {
		t.Fatal("expected ping error after server shutdown")
	}
	if _, err := q.PopTask(ctx, time.Second); err == nil {
		t.Fatal("expected pop error after server shutdown")
	}
	if err := q.PushResult(ctx, []byte("x")); err == nil {
		t.Fatal("expected push error after server shutdown")
	}
}

func TestDialOwnsClient(t *testing.T) {
	mr := miniredis.RunT(t)

	q, err := Dial("redis://"+mr.Addr(), testNames)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := q.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Ping(context.Background()); err == nil {
		t.Fatal("expected error on closed client")
	}
}

func TestDialRejectsBadURL(t *testing.T) {
	if _, err := Dial("not a url", testNames); err == nil {
		t.Fatal("expected error")
	}
}

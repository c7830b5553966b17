package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is the worker binary for the
// tests below when GO_WANT_HELPER_PROCESS is set.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	want := []string{"--settings", "cfg.yaml", "--url", "https://r/1", "--token", "tok", "--config", "e30="}
	if !slices.Equal(args, want) {
		fmt.Fprintf(os.Stderr, "args = %q\n", args)
		os.Exit(3)
	}
	if os.Getenv("HELPER_MODE") == "block" {
		time.Sleep(time.Minute)
	}
	os.Exit(0)
}

func helper(mode string) *ExecSpawner {
	return &ExecSpawner{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--", "--settings", "cfg.yaml"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
	}
}

var testArgs = Args{RoomURL: "https://r/1", Token: "tok", Config: "e30="}

func TestExecSpawner_ExitsCleanly(t *testing.T) {
	t.Parallel()
	p, err := helper("exit").Spawn(context.Background(), testArgs)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.PID() <= 0 {
		t.Errorf("PID = %d", p.PID())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !p.Exited() {
		t.Error("Exited() = false after Wait")
	}
	if err := p.Terminate(); err != nil {
		t.Errorf("Terminate after exit: %v", err)
	}
}

func TestExecSpawner_Terminate(t *testing.T) {
	t.Parallel()
	p, err := helper("block").Spawn(context.Background(), testArgs)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.Exited() {
		t.Fatal("Exited() = true right after spawn")
	}
	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err == nil {
		t.Error("Wait() = nil, want signal exit error")
	}
	if !p.Exited() {
		t.Error("Exited() = false after terminated Wait")
	}
}

func TestExecSpawner_WaitContextKills(t *testing.T) {
	t.Parallel()
	p, err := helper("block").Spawn(context.Background(), testArgs)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want DeadlineExceeded", err)
	}
	if !p.Exited() {
		t.Error("worker still running after Wait gave up")
	}
}

func TestExecSpawner_Errors(t *testing.T) {
	t.Parallel()

	if _, err := (&ExecSpawner{}).Spawn(context.Background(), testArgs); err == nil {
		t.Error("expected error without command")
	}
	if _, err := (&ExecSpawner{Command: "/nonexistent/talkinghead-bot"}).Spawn(context.Background(), testArgs); err == nil {
		t.Error("expected error for missing binary")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := helper("exit").Spawn(ctx, testArgs); !errors.Is(err, context.Canceled) {
		t.Errorf("Spawn(cancelled) = %v, want Canceled", err)
	}
}

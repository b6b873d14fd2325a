package kernel

import (
	"context"
	"testing"
	"time"
)

func TestThreadJoinReceivesExitValue(t *testing.T) {
	k := NewKernel()
	p := k.NewProcess(nil)

	started := make(chan struct{})
	tid := p.CreateThread(context.Background(), func(ctx context.Context, arg any) int {
		close(started)
		return 42
	}, nil)

	<-started
	ret, err := p.ThreadJoin(context.Background(), tid)
	if err != nil {
		t.Fatalf("ThreadJoin: %v", err)
	}
	if ret != 42 {
		t.Fatalf("exit value = %d, want 42", ret)
	}
}

func TestThreadJoinAfterAlreadyExitedStillSucceeds(t *testing.T) {
	k := NewKernel()
	p := k.NewProcess(nil)

	done := make(chan struct{})
	tid := p.CreateThread(context.Background(), func(ctx context.Context, arg any) int {
		return 7
	}, nil)
	go func() {
		for p.ThreadCount() > 0 {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	<-done

	ret, err := p.ThreadJoin(context.Background(), tid)
	if err != nil {
		t.Fatalf("ThreadJoin on already-exited thread: %v", err)
	}
	if ret != 7 {
		t.Fatalf("exit value = %d, want 7", ret)
	}
}

func TestThreadDetachRejectsJoin(t *testing.T) {
	k := NewKernel()
	p := k.NewProcess(nil)

	block := make(chan struct{})
	tid := p.CreateThread(context.Background(), func(ctx context.Context, arg any) int {
		<-block
		return 0
	}, nil)

	if err := p.ThreadDetach(tid); err != nil {
		t.Fatalf("ThreadDetach: %v", err)
	}
	if _, err := p.ThreadJoin(context.Background(), tid); err != ErrWrongState {
		t.Fatalf("ThreadJoin on detached thread: got %v, want ErrWrongState", err)
	}
	close(block)
}

func TestThreadExitCalledExplicitlyHaltsGoroutine(t *testing.T) {
	k := NewKernel()
	p := k.NewProcess(nil)

	reachedAfter := false
	tid := p.CreateThread(context.Background(), func(ctx context.Context, arg any) int {
		p.ThreadExit(ctx, 99)
		reachedAfter = true
		return 0
	}, nil)

	ret, err := p.ThreadJoin(context.Background(), tid)
	if err != nil {
		t.Fatalf("ThreadJoin: %v", err)
	}
	if ret != 99 {
		t.Fatalf("exit value = %d, want 99", ret)
	}
	if reachedAfter {
		t.Fatalf("code after ThreadExit ran, but ThreadExit must not return")
	}
}

func TestLastThreadExitReparentsChildrenToInit(t *testing.T) {
	k := NewKernel()
	parent := k.NewProcess(nil)
	child := k.NewProcess(parent)

	done := make(chan struct{})
	parent.CreateThread(context.Background(), func(ctx context.Context, arg any) int {
		return 0
	}, nil)
	go func() {
		for !parent.IsZombie() {
			time.Sleep(time.Millisecond)
		}
		close(done)
	}()
	<-done

	initProc := k.Init()
	found := false
	for _, c := range initProc.children {
		if c == child {
			found = true
		}
	}
	if !found {
		t.Fatalf("child was not reparented to init")
	}
}

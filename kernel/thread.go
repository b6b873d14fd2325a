package kernel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/xtaci/tinykernel/kernel/kstat"
)

// Task is a user thread's entry point; arg carries whatever value the
// creator wants the thread to receive.
type Task func(ctx context.Context, arg any) int

// PTCB is a user thread's control block. It stays in its
// process's thread list from creation until a successful ThreadJoin
// removes it, or, for a detached thread, until it has both exited and
// been detached — a joinable thread that exits before anyone joins it
// simply waits there with exited set, exactly as a joinable pthread would.
type PTCB struct {
	mu sync.Mutex

	tid  Tid_t
	proc *Process

	task Task
	arg  any

	exited   bool
	exitval  int
	detached bool
	exitCV   *CondVar
}

var tidCounter uint64

type selfKeyType struct{}

var selfKey selfKeyType

// WithSelf attaches tid as the "current thread" carried by ctx, the way
// the trampoline attaches it before invoking a thread's Task.
func WithSelf(ctx context.Context, tid Tid_t) context.Context {
	return context.WithValue(ctx, selfKey, tid)
}

// SelfFromContext recovers the Tid_t attached by WithSelf.
func SelfFromContext(ctx context.Context) (Tid_t, bool) {
	tid, ok := ctx.Value(selfKey).(Tid_t)
	return tid, ok
}

// CreateThread allocates a PTCB and spawns a goroutine running a
// trampoline: it runs task(ctx, arg) and then calls ThreadExit with its
// return value (the trampoline's ThreadExit call is skipped if task
// itself already called ThreadExit, since that halts the goroutine via
// runtime.Goexit and control never returns to the trampoline).
func (p *Process) CreateThread(ctx context.Context, task Task, arg any) Tid_t {
	ptcb := &PTCB{task: task, arg: arg, proc: p}
	ptcb.exitCV = NewCondVar(&ptcb.mu)
	ptcb.tid = Tid_t(atomic.AddUint64(&tidCounter, 1))

	p.mu.Lock()
	p.threadCount++
	p.threads = append(p.threads, ptcb)
	p.mu.Unlock()

	go func() {
		childCtx := WithSelf(ctx, ptcb.tid)
		ret := task(childCtx, arg)
		p.finishThread(ptcb, ret)
	}()

	atomic.AddUint64(&kstat.Default.ThreadsCreated, 1)
	return ptcb.tid
}

// ThreadSelf returns the calling thread's tid, as attached by the
// trampoline via WithSelf.
func (p *Process) ThreadSelf(ctx context.Context) Tid_t {
	tid, _ := SelfFromContext(ctx)
	return tid
}

func (p *Process) findThread(tid Tid_t) *PTCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		if t.tid == tid {
			return t
		}
	}
	return nil
}

func (p *Process) removeThread(target *PTCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.threads {
		if t == target {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			return
		}
	}
}

// ThreadJoin waits for tid to exit and reports its exit value. A thread
// that has already exited but not yet been joined is found sitting in
// the process's thread list with exited set, so joining it succeeds
// immediately with its exit value; a detached target is refused instead,
// whether or not it has exited yet.
func (p *Process) ThreadJoin(ctx context.Context, tid Tid_t) (int, error) {
	self, _ := SelfFromContext(ctx)
	if tid == 0 || tid == self {
		return 0, ErrBadDescriptor
	}
	target := p.findThread(tid)
	if target == nil {
		return 0, ErrBadDescriptor
	}

	target.mu.Lock()
	if target.detached {
		target.mu.Unlock()
		return 0, ErrWrongState
	}
	for !target.exited && !target.detached {
		target.exitCV.Wait(SchedUser)
	}
	if target.detached && !target.exited {
		target.mu.Unlock()
		return 0, ErrWrongState
	}
	exitval := target.exitval
	target.mu.Unlock()

	p.removeThread(target)
	atomic.AddUint64(&kstat.Default.ThreadsJoined, 1)
	return exitval, nil
}

// ThreadDetach marks tid as detached, releasing any current or future
// joiners with an error. A thread that has already exited is removed
// from the thread list right away, since nothing will ever join it.
func (p *Process) ThreadDetach(tid Tid_t) error {
	target := p.findThread(tid)
	if target == nil {
		return ErrBadDescriptor
	}
	target.mu.Lock()
	target.detached = true
	exited := target.exited
	target.exitCV.Broadcast()
	target.mu.Unlock()

	if exited {
		p.removeThread(target)
	}
	return nil
}

// ThreadExit terminates the calling thread with exitval. It never
// returns to its caller: it halts the goroutine via runtime.Goexit after
// running its bookkeeping.
func (p *Process) ThreadExit(ctx context.Context, exitval int) {
	tid, ok := SelfFromContext(ctx)
	if ok {
		if ptcb := p.findThread(tid); ptcb != nil {
			p.finishThread(ptcb, exitval)
		}
	}
	runtime.Goexit()
}

// finishThread is the non-halting core of ThreadExit, shared by the
// trampoline's implicit call and any explicit caller of ThreadExit
// (which additionally halts its own goroutine afterwards). An already
// detached thread has no future joiner, so it is removed from the
// process's thread list right away; otherwise it waits there, exited,
// for ThreadJoin to collect its exit value.
func (p *Process) finishThread(ptcb *PTCB, exitval int) {
	p.mu.Lock()
	p.threadCount--
	lastOfProcess := p.threadCount == 0
	p.mu.Unlock()

	ptcb.mu.Lock()
	ptcb.exitval = exitval
	ptcb.exited = true
	ptcb.exitCV.Broadcast()
	detached := ptcb.detached
	ptcb.mu.Unlock()

	if lastOfProcess {
		p.reap()
	}
	if detached {
		p.removeThread(ptcb)
	}
}

// reap runs the bookkeeping a process's last thread dying triggers:
// re-parent surviving children to init, splice the exited-children list
// into init's, notify the parent, release the file table, and mark the
// process a zombie.
func (p *Process) reap() {
	initProc := p.kernel.Init()

	if p != initProc {
		p.mu.Lock()
		kids := p.children
		p.children = nil
		exited := p.exitedChildren
		p.exitedChildren = nil
		parent := p.parent
		p.mu.Unlock()

		if len(kids) > 0 || len(exited) > 0 {
			initProc.mu.Lock()
			for _, c := range kids {
				c.mu.Lock()
				c.parent = initProc
				c.mu.Unlock()
			}
			initProc.children = append(initProc.children, kids...)
			initProc.exitedChildren = append(initProc.exitedChildren, exited...)
			initProc.childExit.Broadcast()
			initProc.mu.Unlock()
		}

		if parent != nil {
			parent.mu.Lock()
			parent.exitedChildren = append(parent.exitedChildren, p)
			parent.childExit.Broadcast()
			parent.mu.Unlock()
		}
	}

	p.files.forEach(func(id Fid_t, fcb *FCB) {
		p.files.Decref(fcb)
	})

	p.mu.Lock()
	p.args = nil
	p.zombie = true
	p.mu.Unlock()
}

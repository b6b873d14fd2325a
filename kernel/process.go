package kernel

import "sync"

// Process owns a descriptor table, a thread list, and a place in the
// process tree.
type Process struct {
	mu sync.Mutex

	kernel *Kernel
	pid    int

	parent         *Process
	children       []*Process
	exitedChildren []*Process
	childExit      *CondVar

	files       *FileTable
	threads     []*PTCB
	threadCount int

	args   any
	zombie bool
}

func newProcess(k *Kernel, pid int, parent *Process) *Process {
	p := &Process{kernel: k, pid: pid, parent: parent, files: NewFileTable()}
	p.childExit = NewCondVar(&p.mu)
	return p
}

// Pid returns this process's process ID.
func (p *Process) Pid() int { return p.pid }

// SetArgs stashes the process's argument blob, released when its last
// thread exits.
func (p *Process) SetArgs(a any) {
	p.mu.Lock()
	p.args = a
	p.mu.Unlock()
}

// ThreadCount reports the number of currently non-exited threads.
func (p *Process) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threadCount
}

// IsZombie reports whether the process has run its last thread to exit.
func (p *Process) IsZombie() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.zombie
}

// Pipe constructs a pipe in this process's descriptor table.
func (p *Process) Pipe() (readFid, writeFid Fid_t, err error) {
	return NewPipe(p.files)
}

// Read dispatches to the descriptor's stream Read operation.
func (p *Process) Read(fid Fid_t, buf []byte) (int, error) {
	fcb, err := p.files.Get(fid)
	if err != nil {
		return -1, err
	}
	return fcb.Read(buf)
}

// Write dispatches to the descriptor's stream Write operation.
func (p *Process) Write(fid Fid_t, buf []byte) (int, error) {
	fcb, err := p.files.Get(fid)
	if err != nil {
		return -1, err
	}
	return fcb.Write(buf)
}

// Close releases descriptor fid, invoking the underlying stream's Close
// once its refcount reaches 0.
func (p *Process) Close(fid Fid_t) error {
	return p.files.Close(fid)
}

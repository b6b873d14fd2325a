package kernel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xtaci/tinykernel/kernel/kstat"
)

// socketVariant tags which of a socket's three lifecycle states a
// socketCB is currently in: an unbound socket can become either a
// listener or a peer, but never both and never back.
type socketVariant int

const (
	socketUnbound socketVariant = iota
	socketListener
	socketPeer
)

// connectionRequest is the rendezvous object queued on a listener by
// Connect and consumed by Accept. It is guarded by the listener's own
// mutex — ready is built on &listener.mu — so every read/write of
// settled/admitted and every Broadcast on ready happens with that lock
// held, by Connect, Accept and the listener's Close alike.
type connectionRequest struct {
	settled  bool
	admitted bool
	peer     *socketCB
	ready    *CondVar
}

// socketCB is a socket's kernel-side control block. Its StreamOps are
// installed on the socket's FCB at Socket() time; read and
// write are legal only once the socket has become a connected peer, and
// simply forward to that peer's half of its pipe pair.
type socketCB struct {
	mu sync.Mutex

	fcb  *FCB
	proc *Process
	port int

	variant socketVariant

	// listener state
	requests []*connectionRequest
	pending  *CondVar

	// peer state
	peer      *socketCB
	readFcb   *FCB
	writeFcb  *FCB
	shutRead  bool
	shutWrite bool
}

func (s *socketCB) Read(buf []byte) (int, error) {
	s.mu.Lock()
	if s.variant != socketPeer {
		s.mu.Unlock()
		return -1, ErrWrongState
	}
	if s.shutRead {
		s.mu.Unlock()
		return -1, ErrClosed
	}
	fcb := s.readFcb
	s.mu.Unlock()
	return fcb.Read(buf)
}

func (s *socketCB) Write(buf []byte) (int, error) {
	s.mu.Lock()
	if s.variant != socketPeer {
		s.mu.Unlock()
		return -1, ErrWrongState
	}
	if s.shutWrite {
		s.mu.Unlock()
		return -1, ErrClosed
	}
	fcb := s.writeFcb
	s.mu.Unlock()
	return fcb.Write(buf)
}

// Close tears down a socket according to its current role: a listener
// vacates its port and wakes any still-queued connecters with failure; a
// peer closes its pipe ends.
func (s *socketCB) Close() error {
	s.mu.Lock()
	variant := s.variant
	port := s.port
	proc := s.proc
	reqs := s.requests
	s.requests = nil
	readFcb, writeFcb := s.readFcb, s.writeFcb

	if variant == socketListener {
		for _, r := range reqs {
			r.settled = true
			r.admitted = false
			r.ready.Broadcast()
		}
	}
	s.mu.Unlock()

	switch variant {
	case socketListener:
		proc.kernel.ports.uninstall(port, s)
	case socketPeer:
		if readFcb != nil {
			proc.files.Decref(readFcb)
		}
		if writeFcb != nil {
			proc.files.Decref(writeFcb)
		}
	}
	return nil
}

// Socket creates a fresh unbound socket, returning its descriptor.
func (p *Process) Socket(port int) (Fid_t, error) {
	if port < NOPORT || port > MAX_PORT {
		return NOFILE, ErrBadDescriptor
	}
	s := &socketCB{proc: p, port: port}
	ids, fcbs, err := p.files.Reserve(s)
	if err != nil {
		return NOFILE, err
	}
	s.fcb = fcbs[0]
	atomic.AddUint64(&kstat.Default.SocketsCreated, 1)
	return ids[0], nil
}

func (p *Process) socketAt(fid Fid_t) (*socketCB, error) {
	fcb, err := p.files.Get(fid)
	if err != nil {
		return nil, err
	}
	s, ok := fcb.ops.(*socketCB)
	if !ok {
		return nil, ErrBadDescriptor
	}
	return s, nil
}

// Listen turns an unbound socket bound to a nonzero port into a listener;
// fails if the socket is already bound to some role, has no port, or the
// port is already occupied.
func (p *Process) Listen(fid Fid_t) error {
	s, err := p.socketAt(fid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.variant != socketUnbound || s.port == NOPORT {
		return ErrWrongState
	}
	if !p.kernel.ports.install(s.port, s) {
		return ErrWrongState
	}
	s.variant = socketListener
	s.pending = NewCondVar(&s.mu)
	return nil
}

// Accept blocks until a connection request arrives on the listener at
// fid, then builds a fresh connected peer socket, wires a pair of pipes
// so each side's write end feeds the other's read end, and admits the
// request.
func (p *Process) Accept(ctx context.Context, fid Fid_t) (Fid_t, error) {
	listener, err := p.socketAt(fid)
	if err != nil {
		return NOFILE, err
	}

	listener.mu.Lock()
	if listener.variant != socketListener {
		listener.mu.Unlock()
		return NOFILE, ErrWrongState
	}
	for len(listener.requests) == 0 {
		if !listener.pending.TimedWait(ctx, SchedUser) {
			listener.mu.Unlock()
			return NOFILE, ErrTimeout
		}
		if listener.variant != socketListener {
			listener.mu.Unlock()
			return NOFILE, ErrWrongState
		}
	}
	req := listener.requests[0]
	listener.requests = listener.requests[1:]
	listener.mu.Unlock()

	reject := func(err error) (Fid_t, error) {
		listener.mu.Lock()
		req.settled = true
		req.admitted = false
		req.ready.Broadcast()
		listener.mu.Unlock()
		return NOFILE, err
	}

	reqSock := req.peer

	newSock := &socketCB{proc: p}
	ids, fcbs, err := p.files.Reserve(newSock)
	if err != nil {
		return reject(err)
	}
	newSock.fcb = fcbs[0]

	pipe1Read, pipe1Write, err := NewPipe(p.files)
	if err != nil {
		p.files.Unreserve(ids, fcbs)
		return reject(err)
	}
	pipe2Read, pipe2Write, err := NewPipe(reqSock.proc.files)
	if err != nil {
		p.files.Close(pipe1Read)
		p.files.Close(pipe1Write)
		p.files.Unreserve(ids, fcbs)
		return reject(err)
	}

	pipe1ReadFcb, _ := p.files.Get(pipe1Read)
	pipe1WriteFcb, _ := p.files.Get(pipe1Write)
	pipe2ReadFcb, _ := reqSock.proc.files.Get(pipe2Read)
	pipe2WriteFcb, _ := reqSock.proc.files.Get(pipe2Write)

	newSock.mu.Lock()
	newSock.variant = socketPeer
	newSock.peer = reqSock
	newSock.readFcb = pipe1ReadFcb
	newSock.writeFcb = pipe2WriteFcb
	newSock.mu.Unlock()

	reqSock.mu.Lock()
	reqSock.variant = socketPeer
	reqSock.peer = newSock
	reqSock.readFcb = pipe2ReadFcb
	reqSock.writeFcb = pipe1WriteFcb
	reqSock.mu.Unlock()

	listener.mu.Lock()
	req.settled = true
	req.admitted = true
	req.ready.Broadcast()
	listener.mu.Unlock()

	return ids[0], nil
}

// Connect requests a rendezvous with the listener bound to port, waiting
// on ctx for an Accept to admit it. On success fid becomes a connected
// peer.
func (p *Process) Connect(ctx context.Context, fid Fid_t, port int) error {
	s, err := p.socketAt(fid)
	if err != nil {
		return err
	}
	if port <= NOPORT || port > MAX_PORT {
		return ErrBadDescriptor
	}

	s.mu.Lock()
	if s.variant != socketUnbound {
		s.mu.Unlock()
		return ErrWrongState
	}
	s.mu.Unlock()

	listener := p.kernel.ports.lookup(port)
	if listener == nil {
		return ErrBadDescriptor
	}

	listener.mu.Lock()
	if listener.variant != socketListener {
		listener.mu.Unlock()
		return ErrBadDescriptor
	}
	req := &connectionRequest{peer: s}
	req.ready = NewCondVar(&listener.mu)
	listener.requests = append(listener.requests, req)
	listener.pending.Broadcast()

	// req.ready shares listener.mu with Accept's and Close's handling of
	// this same request, so the enqueue above, this wait, and whichever
	// of Accept/Close settles the request never race, and no wakeup
	// between them can be lost.
	for !req.settled {
		if !req.ready.TimedWait(ctx, SchedUser) {
			listener.mu.Unlock()
			return ErrTimeout
		}
	}
	admitted := req.admitted
	listener.mu.Unlock()

	if !admitted {
		atomic.AddUint64(&kstat.Default.ConnectionsFailed, 1)
		return ErrWrongState
	}
	atomic.AddUint64(&kstat.Default.ConnectionsMade, 1)
	return nil
}

// ShutDown half- or fully closes a connected peer socket's directions,
// closing the underlying pipe endpoint(s) so the peer on the other side
// observes EOF (read direction) or a closed-pipe error (write direction)
// rather than just blocking forever; reports nil on success. See
// DESIGN.md for the shutdown-mode semantics.
func (p *Process) ShutDown(fid Fid_t, mode ShutdownMode) error {
	s, err := p.socketAt(fid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.variant != socketPeer {
		return ErrWrongState
	}
	if (mode == ShutdownRead || mode == ShutdownBoth) && !s.shutRead {
		s.shutRead = true
		if s.readFcb != nil {
			s.proc.files.Decref(s.readFcb)
			s.readFcb = nil
		}
	}
	if (mode == ShutdownWrite || mode == ShutdownBoth) && !s.shutWrite {
		s.shutWrite = true
		if s.writeFcb != nil {
			s.proc.files.Decref(s.writeFcb)
			s.writeFcb = nil
		}
	}
	return nil
}

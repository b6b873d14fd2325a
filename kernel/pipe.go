package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/xtaci/tinykernel/kernel/kstat"
)

// pipeBuf is a pipe's control block: a fixed-capacity circular byte
// buffer shared by a reader and a writer endpoint FCB. A nil
// reader/writer field means that end is closed.
type pipeBuf struct {
	mu sync.Mutex

	reader *FCB
	writer *FCB

	buffer     [PIPE_BUFFER_SIZE]byte
	rPos, wPos int
	count      int
	hasSpace   *CondVar
	hasData    *CondVar
}

func newPipeBuf() *pipeBuf {
	p := &pipeBuf{}
	p.hasSpace = NewCondVar(&p.mu)
	p.hasData = NewCondVar(&p.mu)
	return p
}

// pipeEnd is the StreamOps installed on one of a pipe's two FCBs.
// isReader selects which of the pipe's two operations are legal on this
// end; the other direction always fails.
type pipeEnd struct {
	p        *pipeBuf
	isReader bool
}

func (e *pipeEnd) Read(buf []byte) (int, error) {
	if !e.isReader {
		return -1, ErrWrongState
	}
	return e.p.read(buf)
}

func (e *pipeEnd) Write(buf []byte) (int, error) {
	if e.isReader {
		return -1, ErrWrongState
	}
	return e.p.write(buf)
}

func (e *pipeEnd) Close() error {
	if e.isReader {
		return e.p.readerClose()
	}
	return e.p.writerClose()
}

// NewPipe reserves two descriptors in ft and wires them to a fresh pipe:
// the first is the read end, the second the write end.
func NewPipe(ft *FileTable) (readFid, writeFid Fid_t, err error) {
	p := newPipeBuf()
	readerEnd := &pipeEnd{p: p, isReader: true}
	writerEnd := &pipeEnd{p: p, isReader: false}

	ids, fcbs, err := ft.Reserve(readerEnd, writerEnd)
	if err != nil {
		return NOFILE, NOFILE, err
	}
	p.reader = fcbs[0]
	p.writer = fcbs[1]
	atomic.AddUint64(&kstat.Default.PipesCreated, 1)
	return ids[0], ids[1], nil
}

// write blocks while the buffer is full and the reader is still open,
// then copies as much of buf as fits without blocking further.
func (p *pipeBuf) write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil || p.reader == nil {
		return -1, ErrClosed
	}

	for p.count == PIPE_BUFFER_SIZE && p.reader != nil {
		p.hasSpace.Wait(SchedPipe)
	}

	if p.reader == nil {
		return -1, ErrClosed
	}

	k := len(buf)
	if avail := PIPE_BUFFER_SIZE - p.count; k > avail {
		k = avail
	}
	for i := 0; i < k; i++ {
		p.buffer[p.wPos] = buf[i]
		p.wPos = (p.wPos + 1) % PIPE_BUFFER_SIZE
	}
	p.count += k

	p.hasData.Broadcast()
	atomic.AddUint64(&kstat.Default.PipeBytesWrite, uint64(k))
	return k, nil
}

// read blocks while the buffer is empty and the writer is still open,
// returns 0, nil (EOF) once the writer is gone and the buffer has
// drained, otherwise returns whatever is currently buffered.
func (p *pipeBuf) read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reader == nil {
		return -1, ErrClosed
	}
	if p.writer == nil && p.count == 0 {
		return 0, nil
	}

	for p.count == 0 && p.writer != nil {
		p.hasData.Wait(SchedPipe)
	}

	if p.writer == nil && p.count == 0 {
		return 0, nil
	}

	k := len(buf)
	if k > p.count {
		k = p.count
	}
	for i := 0; i < k; i++ {
		buf[i] = p.buffer[p.rPos]
		p.rPos = (p.rPos + 1) % PIPE_BUFFER_SIZE
	}
	p.count -= k

	p.hasSpace.Broadcast()
	atomic.AddUint64(&kstat.Default.PipeBytesRead, uint64(k))
	return k, nil
}

// writerClose half-closes the write end; the pipe is fully torn down
// only once both endpoints have closed.
func (p *pipeBuf) writerClose() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		return ErrClosed
	}
	p.writer = nil
	if p.reader == nil {
		return nil
	}
	p.hasData.Broadcast()
	return nil
}

// readerClose half-closes the read end.
func (p *pipeBuf) readerClose() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reader == nil {
		return ErrClosed
	}
	p.reader = nil
	if p.writer == nil {
		return nil
	}
	p.hasSpace.Broadcast()
	return nil
}

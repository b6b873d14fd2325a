// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package kernel implements the IPC core of a small educational kernel:
// stream descriptors, pipes, rendezvous sockets and user threads, all
// synchronized the way a single-CPU cooperative scheduler would, but
// expressed with goroutines and mutexes instead of a custom scheduler.
package kernel

// Fid_t is a descriptor ID: a small non-negative integer, unique within
// its owning process, indexing into that process's FileTable.
type Fid_t int

// Tid_t identifies a user thread: an opaque, process-unique handle
// assigned when the thread is created.
type Tid_t uint64

const (
	// NOFILE is returned by descriptor-producing operations on failure.
	NOFILE Fid_t = -1
	// MAX_FILEID bounds the per-process descriptor table.
	MAX_FILEID = 16
	// NOPORT marks a socket as unbound to any port.
	NOPORT = 0
	// MAX_PORT bounds the kernel-wide port table; ports run 1..MAX_PORT,
	// both ends inclusive, indexing a table of MAX_PORT+1 slots.
	MAX_PORT = 1024
	// PIPE_BUFFER_SIZE is the ring buffer capacity for every pipe.
	PIPE_BUFFER_SIZE = 8192
)

// ShutdownMode selects which direction(s) of a peer socket to shut down.
type ShutdownMode int

const (
	ShutdownRead ShutdownMode = iota
	ShutdownWrite
	ShutdownBoth
)

// SchedCause names why a thread suspended. It carries no behavior: wait
// calls take it as an argument, but nothing in this module records or
// reports it.
type SchedCause int

const (
	SchedPipe SchedCause = iota
	SchedUser
)

func (c SchedCause) String() string {
	switch c {
	case SchedPipe:
		return "pipe"
	case SchedUser:
		return "user"
	default:
		return "unknown"
	}
}

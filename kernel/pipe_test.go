package kernel

import (
	"bytes"
	"testing"
	"time"
)

func TestPipeReadWriteRoundTrip(t *testing.T) {
	ft := NewFileTable()
	rfid, wfid, err := NewPipe(ft)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}

	msg := []byte("hello pipe")
	rfcb, _ := ft.Get(rfid)
	wfcb, _ := ft.Get(wfid)

	n, err := wfcb.Write(msg)
	if err != nil || n != len(msg) {
		t.Fatalf("write = %d, %v", n, err)
	}

	buf := make([]byte, len(msg))
	n, err = rfcb.Read(buf)
	if err != nil || n != len(msg) {
		t.Fatalf("read = %d, %v", n, err)
	}
	if !bytes.Equal(buf, msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}
}

func TestPipeWriteLargerThanBufferBlocksUntilDrained(t *testing.T) {
	ft := NewFileTable()
	rfid, wfid, err := NewPipe(ft)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	rfcb, _ := ft.Get(rfid)
	wfcb, _ := ft.Get(wfid)

	big := bytes.Repeat([]byte{'x'}, PIPE_BUFFER_SIZE+100)
	done := make(chan struct{})
	go func() {
		// Each Write copies at most the free space, so keep writing the
		// remainder; the call that finds the buffer full must block until
		// the reader drains it.
		written := 0
		for written < len(big) {
			n, err := wfcb.Write(big[written:])
			if err != nil {
				t.Errorf("write = %d, %v", n, err)
				break
			}
			written += n
		}
		if written != len(big) {
			t.Errorf("wrote %d of %d bytes", written, len(big))
		}
		close(done)
	}()

	total := 0
	buf := make([]byte, 64)
	deadline := time.After(2 * time.Second)
	for total < len(big) {
		select {
		case <-deadline:
			t.Fatalf("timed out, read %d of %d bytes", total, len(big))
		default:
		}
		n, err := rfcb.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		total += n
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("writer did not unblock after drain")
	}
}

func TestPipeReadAfterWriterCloseDrainsThenEOF(t *testing.T) {
	ft := NewFileTable()
	rfid, wfid, err := NewPipe(ft)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	rfcb, _ := ft.Get(rfid)
	wfcb, _ := ft.Get(wfid)

	if _, err := wfcb.Write([]byte("tail")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ft.Close(wfid); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	buf := make([]byte, 4)
	n, err := rfcb.Read(buf)
	if err != nil || n != 4 {
		t.Fatalf("drain read = %d, %v", n, err)
	}

	n, err = rfcb.Read(buf)
	if err != nil {
		t.Fatalf("eof read returned error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes at EOF, got %d", n)
	}
}

func TestPipeWriteAfterReaderCloseFails(t *testing.T) {
	ft := NewFileTable()
	rfid, wfid, err := NewPipe(ft)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	wfcb, _ := ft.Get(wfid)

	if err := ft.Close(rfid); err != nil {
		t.Fatalf("close reader: %v", err)
	}

	if _, err := wfcb.Write([]byte("x")); err != ErrClosed {
		t.Fatalf("write after reader close: got %v, want ErrClosed", err)
	}
}

func TestPipeEndWrongDirectionFails(t *testing.T) {
	ft := NewFileTable()
	rfid, wfid, err := NewPipe(ft)
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	rfcb, _ := ft.Get(rfid)
	wfcb, _ := ft.Get(wfid)

	if _, err := rfcb.Write([]byte("x")); err != ErrWrongState {
		t.Fatalf("write on read end: got %v, want ErrWrongState", err)
	}
	if _, err := wfcb.Read(make([]byte, 1)); err != ErrWrongState {
		t.Fatalf("read on write end: got %v, want ErrWrongState", err)
	}
}

func TestFileTableExhaustion(t *testing.T) {
	ft := NewFileTable()
	for i := 0; i < MAX_FILEID/2; i++ {
		if _, _, err := NewPipe(ft); err != nil {
			t.Fatalf("pipe %d: %v", i, err)
		}
	}
	if _, _, err := NewPipe(ft); err != ErrExhausted {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
}

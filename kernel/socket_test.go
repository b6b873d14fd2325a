package kernel

import (
	"context"
	"testing"
	"time"
)

func TestSocketConnectAcceptRendezvous(t *testing.T) {
	k := NewKernel()
	server := k.NewProcess(nil)
	client := k.NewProcess(nil)

	const port = 100
	lfid, err := server.Socket(port)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := server.Listen(lfid); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	cfid, err := client.Socket(NOPORT)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}

	acceptDone := make(chan Fid_t, 1)
	acceptErr := make(chan error, 1)
	go func() {
		fid, err := server.Accept(context.Background(), lfid)
		acceptDone <- fid
		acceptErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := client.Connect(context.Background(), cfid, port); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sfid := <-acceptDone
	if err := <-acceptErr; err != nil {
		t.Fatalf("Accept: %v", err)
	}

	msg := []byte("ping")
	if _, err := client.Write(cfid, msg); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buf := make([]byte, len(msg))
	n, err := server.Read(sfid, buf)
	if err != nil || n != len(msg) {
		t.Fatalf("server read = %d, %v", n, err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want ping", buf)
	}

	reply := []byte("pong")
	if _, err := server.Write(sfid, reply); err != nil {
		t.Fatalf("server write: %v", err)
	}
	buf2 := make([]byte, len(reply))
	n, err = client.Read(cfid, buf2)
	if err != nil || n != len(reply) {
		t.Fatalf("client read = %d, %v", n, err)
	}
	if string(buf2) != "pong" {
		t.Fatalf("got %q, want pong", buf2)
	}
}

func TestConnectToUnboundPortFails(t *testing.T) {
	k := NewKernel()
	client := k.NewProcess(nil)

	cfid, err := client.Socket(NOPORT)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := client.Connect(context.Background(), cfid, 999); err != ErrBadDescriptor {
		t.Fatalf("Connect to unbound port: got %v, want ErrBadDescriptor", err)
	}
}

func TestListenTwiceOnSamePortFails(t *testing.T) {
	k := NewKernel()
	p1 := k.NewProcess(nil)
	p2 := k.NewProcess(nil)

	const port = 55
	f1, _ := p1.Socket(port)
	if err := p1.Listen(f1); err != nil {
		t.Fatalf("first Listen: %v", err)
	}

	f2, _ := p2.Socket(port)
	if err := p2.Listen(f2); err != ErrWrongState {
		t.Fatalf("second Listen on same port: got %v, want ErrWrongState", err)
	}
}

func TestConnectTimesOutWithoutAccept(t *testing.T) {
	k := NewKernel()
	server := k.NewProcess(nil)
	client := k.NewProcess(nil)

	const port = 77
	lfid, _ := server.Socket(port)
	if err := server.Listen(lfid); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	cfid, _ := client.Socket(NOPORT)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := client.Connect(ctx, cfid, port); err != ErrTimeout {
		t.Fatalf("Connect without Accept: got %v, want ErrTimeout", err)
	}
}

func TestShutDownBlocksFurtherReadOrWrite(t *testing.T) {
	k := NewKernel()
	server := k.NewProcess(nil)
	client := k.NewProcess(nil)

	const port = 33
	lfid, _ := server.Socket(port)
	if err := server.Listen(lfid); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	cfid, _ := client.Socket(NOPORT)

	acceptDone := make(chan Fid_t, 1)
	go func() {
		fid, _ := server.Accept(context.Background(), lfid)
		acceptDone <- fid
	}()
	time.Sleep(10 * time.Millisecond)
	if err := client.Connect(context.Background(), cfid, port); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-acceptDone

	if err := client.ShutDown(cfid, ShutdownWrite); err != nil {
		t.Fatalf("ShutDown: %v", err)
	}
	if _, err := client.Write(cfid, []byte("x")); err != ErrClosed {
		t.Fatalf("write after shutdown: got %v, want ErrClosed", err)
	}
}

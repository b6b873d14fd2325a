package main

import "github.com/xtaci/tinykernel/kernel"

// kernSockConn adapts a connected peer socket descriptor to
// io.ReadWriteCloser so transport layers that only know about streams
// (smux, std.CompStream, std.CryptStream) can run directly over a kernel
// rendezvous connection.
type kernSockConn struct {
	proc *kernel.Process
	fid  kernel.Fid_t
}

func (c *kernSockConn) Read(p []byte) (int, error) {
	return c.proc.Read(c.fid, p)
}

func (c *kernSockConn) Write(p []byte) (int, error) {
	return c.proc.Write(c.fid, p)
}

func (c *kernSockConn) Close() error {
	return c.proc.Close(c.fid)
}

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

// Command streammux connects two processes over a kernel rendezvous
// socket and runs an smux session on top of that single connection,
// demonstrating how a multiplexed stream transport layers over the
// kernel's IPC primitives instead of a raw network socket.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/xtaci/smux"

	"github.com/xtaci/tinykernel/kernel"
	"github.com/xtaci/tinykernel/std"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "streammux"
	myApp.Usage = "multiplex streams over a kernel rendezvous connection"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "port",
			Value: 7000,
			Usage: "rendezvous port to connect over",
		},
		cli.IntFlag{
			Name:  "streams",
			Value: 4,
			Usage: "number of multiplexed streams to open",
		},
		cli.BoolFlag{
			Name:  "nocomp",
			Usage: "disable snappy compression of the muxed session",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "",
			Usage:  "pre-shared secret; when set, the muxed session is AES-256-GCM encrypted",
			EnvVar: "STREAMMUX_KEY",
		},
		cli.IntFlag{
			Name:  "smuxver",
			Value: 2,
			Usage: "smux protocol version, 1 or 2",
		},
		cli.IntFlag{
			Name:  "framesize",
			Value: 8192,
			Usage: "smux max frame size",
		},
		cli.IntFlag{
			Name:  "keepalive",
			Value: 10,
			Usage: "seconds between smux heartbeats",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(c *cli.Context) error {
	if logPath := c.String("log"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	port := c.Int("port")
	numStreams := c.Int("streams")
	smuxCfg, err := std.BuildSmuxConfig(c.Int("smuxver"), 4*1024*1024, 2*1024*1024, c.Int("framesize"), c.Int("keepalive"))
	if err != nil {
		return errors.Wrap(err, "BuildSmuxConfig")
	}

	log.Println("version:", VERSION)
	log.Println("port:", port, "streams:", numStreams)
	log.Println("compression:", !c.Bool("nocomp"))
	log.Println("encrypted:", c.String("key") != "")

	k := kernel.NewKernel()
	server := k.NewProcess(nil)
	client := k.NewProcess(nil)

	lfid, err := server.Socket(port)
	if err != nil {
		return err
	}
	if err := server.Listen(lfid); err != nil {
		return err
	}

	cfid, err := client.Socket(kernel.NOPORT)
	if err != nil {
		return err
	}

	type acceptResult struct {
		fid kernel.Fid_t
		err error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		fid, err := server.Accept(context.Background(), lfid)
		acceptCh <- acceptResult{fid, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, cfid, port); err != nil {
		return errors.Wrap(err, "Connect")
	}

	res := <-acceptCh
	if res.err != nil {
		return errors.Wrap(res.err, "Accept")
	}
	sfid := res.fid

	clientConn := wrapTransport(&kernSockConn{proc: client, fid: cfid}, c)
	serverConn := wrapTransport(&kernSockConn{proc: server, fid: sfid}, c)

	session, err := smux.Server(serverConn, smuxCfg)
	if err != nil {
		return errors.Wrap(err, "smux.Server")
	}
	go acceptStreams(session)

	clientSession, err := smux.Client(clientConn, smuxCfg)
	if err != nil {
		return errors.Wrap(err, "smux.Client")
	}
	defer clientSession.Close()

	for i := 0; i < numStreams; i++ {
		stream, err := clientSession.OpenStream()
		if err != nil {
			return errors.Wrap(err, "OpenStream")
		}
		msg := fmt.Sprintf("hello on stream %d", stream.ID())
		if _, err := stream.Write([]byte(msg)); err != nil {
			return errors.Wrap(err, "stream write")
		}
		log.Printf("streammux: opened stream %d, sent %q", stream.ID(), msg)
		stream.Close()
	}

	log.Println("streammux: demo complete")
	return nil
}

// wrapTransport layers compression and/or encryption over conn according
// to the CLI flags, matching the client/server wiring of the original
// tunnel tool's createConn.
func wrapTransport(conn io.ReadWriteCloser, c *cli.Context) io.ReadWriteCloser {
	if key := c.String("key"); key != "" {
		conn = std.NewCryptStream(conn, []byte(key))
	}
	if !c.Bool("nocomp") {
		conn = std.NewCompStream(conn)
	}
	return conn
}

func acceptStreams(session *smux.Session) {
	for {
		stream, err := session.AcceptStream()
		if err != nil {
			return
		}
		go func() {
			defer stream.Close()
			buf := make([]byte, 256)
			n, err := stream.Read(buf)
			if err != nil && err != io.EOF {
				log.Println("streammux: stream read:", err)
				return
			}
			log.Printf("streammux: server received on stream %d: %q", stream.ID(), buf[:n])
		}()
	}
}

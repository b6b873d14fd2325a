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

// Command kerndemo boots a kernel and drives every IPC primitive it
// exposes through a scripted demonstration: a pipe, a rendezvous
// socket connection, and a handful of joined/detached user threads.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/xtaci/tinykernel/kernel"
	"github.com/xtaci/tinykernel/kernel/kstat"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "kerndemo"
	myApp.Usage = "scripted walkthrough of the kernel's pipes, sockets and threads"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "kstatlog",
			Value: "",
			Usage: "collect kernel IPC counters to file, aware of timeformat in golang, like: ./kstat-20060102.log",
		},
		cli.IntFlag{
			Name:  "kstatperiod",
			Value: 60,
			Usage: "kstat collect period, in seconds",
		},
		cli.IntFlag{
			Name:  "port",
			Value: 42,
			Usage: "rendezvous port the demo listener binds to",
		},
		cli.IntFlag{
			Name:  "connecttimeout",
			Value: 5,
			Usage: "seconds Connect will wait for a matching Accept",
		},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

// Config mirrors the flags above, with JSON override support matching
// the rest of the stack's -c convention.
type Config struct {
	Port           int    `json:"port"`
	ConnectTimeout int    `json:"connecttimeout"`
	KstatLog       string `json:"kstatlog"`
	KstatPeriod    int    `json:"kstatperiod"`
}

func run(c *cli.Context) error {
	config := Config{
		Port:           c.Int("port"),
		ConnectTimeout: c.Int("connecttimeout"),
		KstatLog:       c.String("kstatlog"),
		KstatPeriod:    c.Int("kstatperiod"),
	}
	if path := c.String("c"); path != "" {
		if err := parseJSONConfig(&config, path); err != nil {
			return errors.Wrap(err, "parseJSONConfig")
		}
	}

	if logPath := c.String("log"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("port:", config.Port)
	log.Println("connecttimeout:", config.ConnectTimeout)

	stopKstat := make(chan struct{})
	if config.KstatLog != "" {
		go kstat.Logger(config.KstatLog, time.Duration(config.KstatPeriod)*time.Second, stopKstat)
		defer close(stopKstat)
	}

	k := kernel.NewKernel()
	if err := demoPipe(k); err != nil {
		return errors.Wrap(err, "demoPipe")
	}
	if err := demoSocket(k, config.Port, time.Duration(config.ConnectTimeout)*time.Second); err != nil {
		return errors.Wrap(err, "demoSocket")
	}
	if err := demoThreads(k); err != nil {
		return errors.Wrap(err, "demoThreads")
	}

	log.Println("demo complete")
	return nil
}

func demoPipe(k *kernel.Kernel) error {
	p := k.NewProcess(nil)
	rfid, wfid, err := p.Pipe()
	if err != nil {
		return err
	}
	defer p.Close(rfid)
	defer p.Close(wfid)

	msg := []byte("hello from a kernel pipe")
	if _, err := p.Write(wfid, msg); err != nil {
		return err
	}
	buf := make([]byte, len(msg))
	n, err := p.Read(rfid, buf)
	if err != nil {
		return err
	}
	log.Printf("pipe: wrote %d bytes, read back %q", n, buf[:n])
	return nil
}

func demoSocket(k *kernel.Kernel, port int, connectTimeout time.Duration) error {
	server := k.NewProcess(nil)
	client := k.NewProcess(nil)

	lfid, err := server.Socket(port)
	if err != nil {
		return err
	}
	if err := server.Listen(lfid); err != nil {
		return err
	}
	defer server.Close(lfid)

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

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Connect(ctx, cfid, port); err != nil {
		return err
	}
	defer client.Close(cfid)

	res := <-acceptCh
	if res.err != nil {
		return res.err
	}
	sfid := res.fid
	defer server.Close(sfid)

	if _, err := client.Write(cfid, []byte("ping")); err != nil {
		return err
	}
	buf := make([]byte, 4)
	if _, err := server.Read(sfid, buf); err != nil {
		return err
	}
	log.Printf("socket: server received %q over the rendezvous connection", buf)
	return nil
}

func demoThreads(k *kernel.Kernel) error {
	p := k.NewProcess(nil)

	joined := p.CreateThread(context.Background(), func(ctx context.Context, arg any) int {
		return arg.(int) * 2
	}, 21)
	ret, err := p.ThreadJoin(context.Background(), joined)
	if err != nil {
		return err
	}
	log.Printf("threads: joined thread returned %d", ret)

	block := make(chan struct{})
	detached := p.CreateThread(context.Background(), func(ctx context.Context, arg any) int {
		<-block
		return 0
	}, nil)
	if err := p.ThreadDetach(detached); err != nil {
		return err
	}
	close(block)
	if _, err := p.ThreadJoin(context.Background(), detached); err == nil {
		return fmt.Errorf("join unexpectedly succeeded on a detached thread")
	}
	log.Println("threads: join on a detached thread correctly refused")

	return nil
}

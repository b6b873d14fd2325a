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

// Package kstat collects running counters for the kernel's IPC
// primitives and periodically flushes them to a CSV file.
package kstat

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Counters holds every lifetime counter kstat tracks. All fields are
// accessed only through atomic add/load; the zero value is ready to use.
type Counters struct {
	PipesCreated   uint64
	PipeBytesRead  uint64
	PipeBytesWrite uint64

	SocketsCreated    uint64
	ConnectionsMade   uint64
	ConnectionsFailed uint64

	ThreadsCreated uint64
	ThreadsJoined  uint64
}

// Default is the process-wide counter set the kernel package updates.
var Default Counters

func (c *Counters) header() []string {
	return []string{
		"PipesCreated", "PipeBytesRead", "PipeBytesWrite",
		"SocketsCreated", "ConnectionsMade", "ConnectionsFailed",
		"ThreadsCreated", "ThreadsJoined",
	}
}

func (c *Counters) toSlice() []string {
	return []string{
		fmt.Sprint(atomic.LoadUint64(&c.PipesCreated)),
		fmt.Sprint(atomic.LoadUint64(&c.PipeBytesRead)),
		fmt.Sprint(atomic.LoadUint64(&c.PipeBytesWrite)),
		fmt.Sprint(atomic.LoadUint64(&c.SocketsCreated)),
		fmt.Sprint(atomic.LoadUint64(&c.ConnectionsMade)),
		fmt.Sprint(atomic.LoadUint64(&c.ConnectionsFailed)),
		fmt.Sprint(atomic.LoadUint64(&c.ThreadsCreated)),
		fmt.Sprint(atomic.LoadUint64(&c.ThreadsJoined)),
	}
}

// Logger periodically appends a row of Default's counters to path, one
// row per interval, creating the file and a header row if it does not
// yet exist. It runs until stop is closed.
func Logger(path string, interval time.Duration, stop <-chan struct{}) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			logdir, logfile := filepath.Split(path)
			f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				log.Println(err)
				return
			}
			w := csv.NewWriter(f)
			if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
				if err := w.Write(append([]string{"Unix"}, Default.header()...)); err != nil {
					log.Println(err)
				}
			}
			if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, Default.toSlice()...)); err != nil {
				log.Println(err)
			}
			w.Flush()
			f.Close()
		}
	}
}

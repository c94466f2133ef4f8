// Package rvlink is a remote debugging bridge for the WCH CH32V003: it
// speaks the GDB Remote Serial Protocol to a debugger over TCP and
// drives the chip through a single-wire debug probe. The protocol
// engine itself lives in pkg/rsp; this package wraps a debugger
// connection with session accounting and pumps its bytes through the
// endpoint.
package rvlink

import (
	"net"
	"time"
)

const (
	SessionOpen  = 0
	SessionClose = 1
)

var StateMap = map[int]string{
	SessionOpen:  "open",
	SessionClose: "close",
}

type ReportStatsFn func(c *Conn, state int)

// Conn wraps a debugger's net.Conn and tracks the byte counts and
// timings of the session. The report callback fires once when the
// session opens and once when it closes.
type Conn struct {
	net.Conn

	reportStats func(*Conn, int)
	ID          string
	OpenedAt    int64
	ClosedAt    int64
	FirstRxAt   int64
	FirstTxAt   int64
	LastRxAt    int64
	LastTxAt    int64
	RxBytes     int64
	TxBytes     int64
	RxErr       error
	TxErr       error
}

// WrapConn wraps the given net.Conn, triggers an immediate report in
// the open state, and returns the wrapped connection. Reads and writes
// are tracked and the final report is triggered on Close.
func WrapConn(ncon net.Conn, id string, reportStatsFn ReportStatsFn) *Conn {
	w := &Conn{
		Conn:        ncon,
		reportStats: reportStatsFn,
		ID:          id,
		OpenedAt:    time.Now().UnixNano(),
	}
	if w.reportStats != nil {
		w.reportStats(w, SessionOpen)
	}
	return w
}

// Close invokes the report callback with a close event before closing
// the connection.
func (w *Conn) Close() error {
	w.ClosedAt = time.Now().UnixNano()
	if w.reportStats != nil {
		w.reportStats(w, SessionClose)
	}
	return w.Conn.Close()
}

// Read wraps the underlying Read method and tracks the bytes received
func (w *Conn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	if err == nil && n > 0 {
		ts := time.Now().UnixNano()
		if w.FirstRxAt == 0 {
			w.FirstRxAt = ts
		}
		w.LastRxAt = ts
	}
	w.RxBytes += int64(n)
	if err, ok := err.(net.Error); ok && !err.Timeout() {
		w.RxErr = err
	}
	return n, err
}

// Write wraps the underlying Write method and tracks the bytes sent
func (w *Conn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	if err == nil && n > 0 {
		ts := time.Now().UnixNano()
		if w.FirstTxAt == 0 {
			w.FirstTxAt = ts
		}
		w.LastTxAt = ts
	}
	w.TxBytes += int64(n)
	if err, ok := err.(net.Error); ok && !err.Timeout() {
		w.TxErr = err
	}
	return n, err
}

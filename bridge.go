package rvlink

import (
	"errors"
	"io"
	"net"

	"github.com/rvlabs/rvlink/pkg/rsp"
)

// Serve pumps bytes between a debugger connection and an endpoint
// until the connection goes away. The endpoint is ticked once per
// inbound byte and then drained: the send side yields one byte per
// tick with no input until it needs the ack. Replies are written out
// per chunk so GDB is never left waiting on a buffered packet. Any
// staged flash page is flushed when the session ends.
func Serve(conn net.Conn, ep *rsp.Endpoint) error {
	defer ep.Close()

	in := make([]byte, 512)
	out := make([]byte, 0, 4096)
	for {
		n, err := conn.Read(in)
		if n > 0 {
			out = out[:0]
			for _, b := range in[:n] {
				if ob, ok := ep.Tick(b, true); ok {
					out = append(out, ob)
				}
				for {
					ob, ok := ep.Tick(0, false)
					if !ok {
						break
					}
					out = append(out, ob)
				}
			}
			if len(out) > 0 {
				if _, werr := conn.Write(out); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

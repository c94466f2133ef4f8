//go:build !linux

package probe

import "github.com/sirupsen/logrus"

// Open is only implemented on Linux, where the probe enumerates as a
// CDC-ACM device.
func Open(device string, baud uint32, log logrus.FieldLogger) (*Conn, error) {
	return nil, ErrUnsupported
}

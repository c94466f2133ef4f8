//go:build linux

package probe

import (
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"
	"github.com/sirupsen/logrus"
)

// readTimeout bounds every response wait; the probe answers in
// microseconds, so a stall this long means the link is gone.
const readTimeout = 500 * time.Millisecond

// Open opens the probe's CDC-ACM device in raw mode at the given baud
// rate and discards anything queued on the line.
func Open(device string, baud uint32, log logrus.FieldLogger) (*Conn, error) {
	port, err := serial.Open(device, serial.NewOptions().SetReadTimeout(readTimeout))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("reading termios for %s: %w", device, err)
	}
	attrs.MakeRaw()
	attrs.SetCustomSpeed(baud)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("configuring %s: %w", device, err)
	}

	if err := port.Flush(serial.TCIOFLUSH); err != nil {
		port.Close()
		return nil, fmt.Errorf("flushing %s: %w", device, err)
	}

	log.WithFields(logrus.Fields{"device": device, "baud": baud}).Info("probe opened")
	return New(port, log), nil
}

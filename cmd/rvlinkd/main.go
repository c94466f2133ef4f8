package main

import (
	"flag"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/rvlabs/rvlink"
	"github.com/rvlabs/rvlink/pkg/dm"
	"github.com/rvlabs/rvlink/pkg/exporter"
	"github.com/rvlabs/rvlink/pkg/probe"
	"github.com/rvlabs/rvlink/pkg/rsp"
	"github.com/rvlabs/rvlink/pkg/sim"
)

var (
	flagListen   string
	flagDevice   string
	flagBaud     uint
	flagSim      bool
	flagMetrics  string
	flagLoglevel string
)

var loglevels = map[string]logrus.Level{
	"error":   logrus.ErrorLevel,
	"err":     logrus.ErrorLevel,
	"warning": logrus.WarnLevel,
	"warn":    logrus.WarnLevel,
	"info":    logrus.InfoLevel,
	"debug":   logrus.DebugLevel,
}

func main() {
	flag.StringVar(&flagListen, "listen", "localhost:3333", "address to accept GDB connections on")
	flag.StringVar(&flagDevice, "device", "/dev/ttyACM0", "probe serial device")
	flag.UintVar(&flagBaud, "baud", 1000000, "probe baud rate")
	flag.BoolVar(&flagSim, "sim", false, "use the built-in simulated target instead of a probe")
	flag.StringVar(&flagMetrics, "metrics", "", "address to serve Prometheus metrics on (empty disables)")
	flag.StringVar(&flagLoglevel, "loglevel", "info", "error, warning, info, debug")
	flag.Parse()

	level, ok := loglevels[flagLoglevel]
	if !ok {
		logrus.Errorf("loglevel must be one of: error, warning, info, debug")
		flag.PrintDefaults()
		os.Exit(1)
	}
	logrus.SetLevel(level)
	log := logrus.StandardLogger()

	var target rsp.Target
	if flagSim {
		log.Info("using simulated target")
		target = sim.New()
	} else {
		pc, err := probe.Open(flagDevice, uint32(flagBaud), log)
		if err != nil {
			log.Fatalf("opening probe: %v", err)
		}
		defer pc.Close()

		client, err := dm.New(pc, log)
		if err != nil {
			log.Fatalf("attaching to debug module: %v", err)
		}
		if err := client.Halt(); err != nil {
			log.Fatalf("halting target: %v", err)
		}
		log.Info("target halted")
		target = client
	}

	collector := exporter.NewSessionCollector("rvlink", []string{"session", "remote"}, nil)
	if flagMetrics != "" {
		prometheus.MustRegister(collector)
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(flagMetrics, nil); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
		log.Infof("metrics on http://%s/metrics", flagMetrics)
	}

	sock, err := net.Listen("tcp", flagListen)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Infof("accepting GDB connections on %s", flagListen)

	for {
		conn, err := sock.Accept()
		if err != nil {
			log.Fatalf("accept: %v", err)
		}

		// Connections are handled one at a time on purpose: a second
		// GDB would trample the first one's target state.
		handle(conn, target, collector, log)
	}
}

func handle(conn net.Conn, target rsp.Target, collector *exporter.SessionCollector, log *logrus.Logger) {
	id := xid.New().String()
	slog := log.WithFields(logrus.Fields{"session": id, "remote": conn.RemoteAddr().String()})

	wrapped := rvlink.WrapConn(conn, id, func(c *rvlink.Conn, state int) {
		slog.WithFields(logrus.Fields{
			"state":   rvlink.StateMap[state],
			"rxBytes": c.RxBytes,
			"txBytes": c.TxBytes,
		}).Info("session report")
	})
	defer wrapped.Close()

	ep := rsp.NewEndpoint(target, slog)
	collector.Add(id, ep.Stats(), []string{id, conn.RemoteAddr().String()})
	defer collector.Remove(id)

	if err := rvlink.Serve(wrapped, ep); err != nil {
		slog.Errorf("session ended with error: %v", err)
	}
}

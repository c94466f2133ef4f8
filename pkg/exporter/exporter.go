// Package exporter publishes per-session debug-bridge counters as
// Prometheus metrics through a custom collector. Sessions are added
// when a debugger connects and removed when it goes away; collection
// reads the endpoint's atomic counters in place.
package exporter

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rvlabs/rvlink/pkg/rsp"
)

type info struct {
	description *prometheus.Desc
	supplier    func(stats *rsp.Stats, labelValues []string) prometheus.Metric
}

type sessionEntry struct {
	stats  *rsp.Stats
	labels []string
}

// SessionCollector implements prometheus.Collector over the live
// sessions of the bridge.
type SessionCollector struct {
	sessions map[string]sessionEntry
	mu       sync.Mutex
	infos    []info
}

func (s *SessionCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, info := range s.infos {
		descs <- info.description
	}
}

func (s *SessionCollector) Collect(metrics chan<- prometheus.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.sessions {
		for _, info := range s.infos {
			metrics <- info.supplier(entry.stats, entry.labels)
		}
	}
}

// Add registers a session's counters under the given label values.
func (s *SessionCollector) Add(id string, stats *rsp.Stats, labels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = sessionEntry{stats: stats, labels: labels}
}

// Remove drops a finished session. Its counters stop being exported.
func (s *SessionCollector) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
}

func makeDescriptions(prefix string, variableLabels []string, constLabels prometheus.Labels) map[string]*prometheus.Desc {
	return map[string]*prometheus.Desc{
		"frames_rx":     prometheus.NewDesc(fmt.Sprintf("%s_frames_rx_total", prefix), "Inbound RSP frames accepted (checksum matched).", variableLabels, constLabels),
		"frames_tx":     prometheus.NewDesc(fmt.Sprintf("%s_frames_tx_total", prefix), "Outbound RSP frames fully transmitted.", variableLabels, constLabels),
		"nacks":         prometheus.NewDesc(fmt.Sprintf("%s_nacks_total", prefix), "Frames the debugger rejected, triggering a retransmit.", variableLabels, constLabels),
		"bad_checksums": prometheus.NewDesc(fmt.Sprintf("%s_bad_checksums_total", prefix), "Inbound frames rejected for a checksum mismatch.", variableLabels, constLabels),
		"parse_errors":  prometheus.NewDesc(fmt.Sprintf("%s_parse_errors_total", prefix), "Packets a handler failed to parse (answered E00).", variableLabels, constLabels),
		"unknown_cmds":  prometheus.NewDesc(fmt.Sprintf("%s_unknown_commands_total", prefix), "Packets with no handler (answered with the empty reply).", variableLabels, constLabels),
		"flash_pages":   prometheus.NewDesc(fmt.Sprintf("%s_flash_pages_programmed_total", prefix), "64-byte flash pages programmed on the target.", variableLabels, constLabels),
		"chip_erases":   prometheus.NewDesc(fmt.Sprintf("%s_flash_chip_erases_total", prefix), "Whole-chip erase operations issued.", variableLabels, constLabels),
		"sector_erases": prometheus.NewDesc(fmt.Sprintf("%s_flash_sector_erases_total", prefix), "1 KiB sector erase operations issued.", variableLabels, constLabels),
		"page_erases":   prometheus.NewDesc(fmt.Sprintf("%s_flash_page_erases_total", prefix), "64-byte page erase operations issued.", variableLabels, constLabels),
	}
}

// NewSessionCollector builds a collector with the given metric name
// prefix. Label names are fixed up front; values are supplied when a
// session is added.
func NewSessionCollector(
	prefix string,
	sessionLabels []string, // sessionLabels are known up front for the collector and values are provided when adding a session.
	constLabels prometheus.Labels, // constLabels is meant for labels with values that are constant for the whole process.
) *SessionCollector {
	desc := makeDescriptions(prefix, sessionLabels, constLabels)

	counter := func(name string, read func(*rsp.Stats) uint64) info {
		return info{description: desc[name], supplier: func(stats *rsp.Stats, labelValues []string) prometheus.Metric {
			return prometheus.MustNewConstMetric(desc[name], prometheus.CounterValue, float64(read(stats)), labelValues...)
		}}
	}

	infos := []info{
		counter("frames_rx", func(s *rsp.Stats) uint64 { return s.FramesRx.Load() }),
		counter("frames_tx", func(s *rsp.Stats) uint64 { return s.FramesTx.Load() }),
		counter("nacks", func(s *rsp.Stats) uint64 { return s.Nacks.Load() }),
		counter("bad_checksums", func(s *rsp.Stats) uint64 { return s.BadChecksums.Load() }),
		counter("parse_errors", func(s *rsp.Stats) uint64 { return s.ParseErrors.Load() }),
		counter("unknown_cmds", func(s *rsp.Stats) uint64 { return s.UnknownCmds.Load() }),
		counter("flash_pages", func(s *rsp.Stats) uint64 { return s.FlashPages.Load() }),
		counter("chip_erases", func(s *rsp.Stats) uint64 { return s.ChipErases.Load() }),
		counter("sector_erases", func(s *rsp.Stats) uint64 { return s.SectorErases.Load() }),
		counter("page_erases", func(s *rsp.Stats) uint64 { return s.PageErases.Load() }),
	}

	return &SessionCollector{
		sessions: make(map[string]sessionEntry),
		infos:    infos,
	}
}

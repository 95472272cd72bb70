// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the assistant's Prometheus metrics.
package observability

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Path labels for streamed turns.
const (
	PathBuffered  = "buffered"
	PathFallback  = "fallback"
	PathError     = "error"
	PathCancelled = "cancelled"
)

// StreamingMetrics records streaming turn metrics.
//
// # Description
//
// Collectors are registered on the Registerer passed to
// NewStreamingMetrics; nothing touches the global registry. A nil
// *StreamingMetrics is valid and records nothing.
//
// # Thread Safety
//
// Safe for concurrent use.
type StreamingMetrics struct {
	turns            *prometheus.CounterVec
	keepalives       prometheus.Counter
	contentFrames    prometheus.Counter
	timeToFirstFrame prometheus.Histogram
	turnDuration     *prometheus.HistogramVec
	validationErrors prometheus.Counter
}

// NewStreamingMetrics creates and registers the streaming collectors.
//
// # Inputs
//
//   - reg: Registerer to register on. Must not be nil.
//
// # Outputs
//
//   - *StreamingMetrics: Ready to record.
//   - error: Non-nil if any collector fails to register.
//
// # Examples
//
//	reg := prometheus.NewRegistry()
//	metrics, err := observability.NewStreamingMetrics(reg)
func NewStreamingMetrics(reg prometheus.Registerer) (*StreamingMetrics, error) {
	if reg == nil {
		return nil, errors.New("observability: registerer must not be nil")
	}

	m := &StreamingMetrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ccnl_assistant",
			Subsystem: "stream",
			Name:      "turns_total",
			Help:      "Streamed chat turns by path taken",
		}, []string{"path"}),
		keepalives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ccnl_assistant",
			Subsystem: "stream",
			Name:      "keepalives_total",
			Help:      "Keepalive frames sent while waiting for the agent graph",
		}),
		contentFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ccnl_assistant",
			Subsystem: "stream",
			Name:      "content_frames_total",
			Help:      "Content frames sent",
		}),
		timeToFirstFrame: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ccnl_assistant",
			Subsystem: "stream",
			Name:      "time_to_first_content_seconds",
			Help:      "Time from turn start to the first content frame",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ccnl_assistant",
			Subsystem: "stream",
			Name:      "turn_duration_seconds",
			Help:      "Total duration of streamed turns",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"path"}),
		validationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ccnl_assistant",
			Subsystem: "chat",
			Name:      "validation_errors_total",
			Help:      "Chat requests rejected by validation",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.turns, m.keepalives, m.contentFrames, m.timeToFirstFrame, m.turnDuration, m.validationErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register streaming metric: %w", err)
		}
	}
	return m, nil
}

// RecordTurn records a finished turn.
func (m *StreamingMetrics) RecordTurn(path string, duration time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(path).Inc()
	m.turnDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordKeepalive counts one keepalive frame.
func (m *StreamingMetrics) RecordKeepalive() {
	if m == nil {
		return
	}
	m.keepalives.Inc()
}

// RecordContentFrame counts one content frame.
func (m *StreamingMetrics) RecordContentFrame() {
	if m == nil {
		return
	}
	m.contentFrames.Inc()
}

// RecordFirstContent observes the delay before the first content frame.
func (m *StreamingMetrics) RecordFirstContent(delay time.Duration) {
	if m == nil {
		return
	}
	m.timeToFirstFrame.Observe(delay.Seconds())
}

// RecordValidationError counts a rejected request.
func (m *StreamingMetrics) RecordValidationError() {
	if m == nil {
		return
	}
	m.validationErrors.Inc()
}

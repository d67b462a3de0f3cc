package socket

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of server counters.
type MetricsSnapshot struct {
	Connections int64
	FramesSent  int64
	FramesRecv  int64
	Errors      int64
}

// Metrics counts connection activity.
type Metrics struct {
	connections atomic.Int64
	framesSent  atomic.Int64
	framesRecv  atomic.Int64
	errors      atomic.Int64
}

func (m *Metrics) RecordConnection(delta int) {
	m.connections.Add(int64(delta))
}

func (m *Metrics) RecordFrameSent(delta int) {
	m.framesSent.Add(int64(delta))
}

func (m *Metrics) RecordFrameRecv(delta int) {
	m.framesRecv.Add(int64(delta))
}

func (m *Metrics) RecordError(delta int) {
	m.errors.Add(int64(delta))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Connections: m.connections.Load(),
		FramesSent:  m.framesSent.Load(),
		FramesRecv:  m.framesRecv.Load(),
		Errors:      m.errors.Load(),
	}
}

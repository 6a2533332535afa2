package hub

import "time"

// Metrics receives lifecycle and fan-out measurements.
type Metrics interface {
	SetLiveConnections(n int)
	ConnectionAdmitted()
	ConnectionRejected(reason string)
	ConnectionClosed(reason string)
	BroadcastSent(scope string)
	SignalRelayed(event string)
	SweepCompleted(duration time.Duration, reaped int)
}

type noopMetrics struct{}

func (noopMetrics) SetLiveConnections(int) {}
func (noopMetrics) ConnectionAdmitted() {}
func (noopMetrics) ConnectionRejected(string) {}
func (noopMetrics) ConnectionClosed(string) {}
func (noopMetrics) BroadcastSent(string) {}
func (noopMetrics) SignalRelayed(string) {}
func (noopMetrics) SweepCompleted(time.Duration, int) {}

// Disconnect reasons reported to Metrics.
const (
	ReasonClientClosed = "client_closed"
	ReasonAuthTimeout  = "auth_timeout"
	ReasonIdle         = "idle"
	ReasonShutdown     = "shutdown"
	ReasonCapacity     = "capacity"
)

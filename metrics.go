package ldapauth

import "time"

// MetricsRecorder receives operational measurements from the connection manager,
// the directory client and the bridge. internal/metrics provides a Prometheus
// implementation.
type MetricsRecorder interface {
	// ConnectAttempt records one dial to host; result is "success" or "failure".
	ConnectAttempt(host, result string)
	// Failover records a connection established on a host other than the first one tried.
	Failover(from, to string)
	// BindResult records a bind; kind is "privileged" or "user".
	BindResult(kind string, success bool)
	// DirectoryDecision records the outcome of one directory login.
	DirectoryDecision(kind AuthDecisionKind, duration time.Duration)
	// BridgeDecision records the outcome of one bridge invocation.
	BridgeDecision(outcome Outcome, reason Reason)
}

type noopMetrics struct{}

func (noopMetrics) ConnectAttempt(string, string) {}
func (noopMetrics) Failover(string, string) {}
func (noopMetrics) BindResult(string, bool) {}
func (noopMetrics) DirectoryDecision(AuthDecisionKind, time.Duration) {}
func (noopMetrics) BridgeDecision(Outcome, Reason) {}

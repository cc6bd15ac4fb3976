package ports

import "streamgrid/internal/core/domain"

// MetricsRecorder receives counters from the protocol handler. The
// prometheus collector implements it; tests run with a no-op.
type MetricsRecorder interface {
	SessionConnected()
	SessionDisconnected()
	StreamCreated()
	StreamActivated()
	StreamDeactivated()
	ProducerCreated()
	ConsumerCreated()
	SubscriberCount(stream domain.StreamID, count int)
	EngineCall(op string, seconds float64, err error)
	SignalingError(code string)
}

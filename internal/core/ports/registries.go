package ports

import (
	"streamgrid/internal/core/domain"
)

// SessionRegistry tracks connected signaling sessions. Every operation is a
// single non-suspending step; missing ids resolve to "not found" results,
// never errors, because disconnect races are expected.
type SessionRegistry interface {
	// Register is an idempotent no-op if the session already exists.
	Register(id domain.SessionID) *domain.Session
	// SetRole promotes a session's role. It reports false if the session
	// is unknown or the role is already set to the requested value's
	// opposite promotion (a session is promoted to ingest at most once).
	SetRole(id domain.SessionID, role domain.Role) bool
	Get(id domain.SessionID) (*domain.Session, bool)
	// Remove returns the removed record so the caller can drive the
	// cascading resource teardown; the registry itself never touches
	// engine resources.
	Remove(id domain.SessionID) (*domain.Session, bool)
	Count() int
}

// StreamDirectory tracks logical streams independent of any transport.
// Reads return defensive copies; all mutation goes through these typed
// operations so the invariants stay centrally enforced.
type StreamDirectory interface {
	Create(name string, ingest domain.SessionID, description string, metadata map[string]string) domain.Stream
	Get(id domain.StreamID) (domain.Stream, bool)
	GetByIngestSession(id domain.SessionID) (domain.Stream, bool)
	ListActive() []domain.Stream
	ListAll() []domain.Stream
	SetRouter(id domain.StreamID, routerID domain.RouterID) bool
	// Activate and Deactivate are idempotent: no error when the stream is
	// already in the target state. changed reports whether the flag
	// flipped, ok whether the stream exists; the flip decision and the
	// write are one atomic step so activation broadcasts happen exactly
	// once.
	Activate(id domain.StreamID) (changed, ok bool)
	Deactivate(id domain.StreamID) (changed, ok bool)
	// AddSubscriber has set semantics and reports whether membership
	// actually changed.
	AddSubscriber(id domain.StreamID, session domain.SessionID) bool
	RemoveSubscriber(id domain.StreamID, session domain.SessionID) bool
	// RemoveSubscriberEverywhere drops the session from every stream's
	// subscriber set and returns the streams that changed.
	RemoveSubscriberEverywhere(session domain.SessionID) []domain.StreamID
	// MergeMetadata shallow-merges the patch: patch keys overwrite,
	// absent keys are preserved.
	MergeMetadata(id domain.StreamID, patch map[string]string) bool
	Delete(id domain.StreamID) bool
}

// ResourceGraph is the authoritative mapping from session to owned engine
// resources per stream. Pure bookkeeping: it never calls the media engine,
// keeping the cleanup algorithm in one place (the protocol handler).
type ResourceGraph interface {
	// RecordProducerTransport stores the transport for (session, stream)
	// and returns the superseded transport id, if any, so the caller can
	// close it instead of leaking it.
	RecordProducerTransport(session domain.SessionID, stream domain.StreamID, transport domain.TransportID) (prev domain.TransportID)
	RecordConsumerTransport(session domain.SessionID, stream domain.StreamID, transport domain.TransportID) (prev domain.TransportID)
	HasProducerTransport(session domain.SessionID, stream domain.StreamID) bool
	HasConsumerTransport(session domain.SessionID, stream domain.StreamID) bool
	AppendProducer(session domain.SessionID, stream domain.StreamID, producer domain.ProducerID)
	AppendConsumer(session domain.SessionID, stream domain.StreamID, consumer domain.ConsumerID)
	Producers(session domain.SessionID, stream domain.StreamID) []domain.ProducerID
	// ProducerCount reports live producers across all sessions of one
	// stream; a stream is active iff this is non-zero.
	ProducerCount(stream domain.StreamID) int
	// FindIngestSessionFor scans owned producer transports for a match.
	// O(sessions), acceptable because ingest count per stream is one at
	// steady state; used only as a defensive fallback when the directory
	// record's owner is gone.
	FindIngestSessionFor(stream domain.StreamID) (domain.SessionID, bool)
	// ReleaseAll returns everything the session owned, ordered for safe
	// teardown, and clears the bookkeeping.
	ReleaseAll(session domain.SessionID) domain.ReleasedResources
}

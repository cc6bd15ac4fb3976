package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
	"streamgrid/internal/infrastructure/registry"
	sgerrors "streamgrid/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeEngine is a scripted media engine. It hands out sequential ids,
// records every close, and can inject failures or run a hook in the
// middle of a call to simulate concurrent disconnects.
type fakeEngine struct {
	mu     sync.Mutex
	nextID int

	failCreateRouter    error
	failCreateTransport error
	consumeNil          bool

	// called between the engine "doing work" and returning, with the
	// engine lock released
	beforeTransportReturn    func()
	beforeProducerReturn     func()
	beforeCapabilitiesReturn func()

	closedProducers  []domain.ProducerID
	closedConsumers  []domain.ConsumerID
	closedTransports []domain.TransportID
	closedRouters    []domain.RouterID
}

func (e *fakeEngine) id(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return fmt.Sprintf("%s-%d", prefix, e.nextID)
}

func (e *fakeEngine) CreateRouter(ctx context.Context, streamID domain.StreamID) (ports.RouterInfo, error) {
	if e.failCreateRouter != nil {
		return ports.RouterInfo{}, e.failCreateRouter
	}
	return ports.RouterInfo{
		ID:              domain.RouterID(e.id("router")),
		RTPCapabilities: json.RawMessage(`{"codecs":[]}`),
	}, nil
}

func (e *fakeEngine) RouterCapabilities(ctx context.Context, routerID domain.RouterID) (json.RawMessage, error) {
	caps := json.RawMessage(`{"codecs":[]}`)
	if e.beforeCapabilitiesReturn != nil {
		e.beforeCapabilitiesReturn()
	}
	return caps, nil
}

func (e *fakeEngine) CreateTransport(ctx context.Context, routerID domain.RouterID, isProducer bool) (ports.TransportInfo, error) {
	if e.failCreateTransport != nil {
		return ports.TransportInfo{}, e.failCreateTransport
	}
	info := ports.TransportInfo{
		ID:             domain.TransportID(e.id("transport")),
		ICEParameters:  json.RawMessage(`{}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{}`),
	}
	if e.beforeTransportReturn != nil {
		e.beforeTransportReturn()
	}
	return info, nil
}

func (e *fakeEngine) ConnectTransport(ctx context.Context, transportID domain.TransportID, dtlsParameters json.RawMessage) error {
	return nil
}

func (e *fakeEngine) CreateProducer(ctx context.Context, transportID domain.TransportID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error) {
	id := domain.ProducerID(e.id("producer"))
	if e.beforeProducerReturn != nil {
		e.beforeProducerReturn()
	}
	return id, nil
}

func (e *fakeEngine) CreateConsumer(ctx context.Context, transportID domain.TransportID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (*ports.ConsumerInfo, error) {
	if e.consumeNil {
		return nil, nil
	}
	return &ports.ConsumerInfo{
		ID:            domain.ConsumerID(e.id("consumer")),
		ProducerID:    producerID,
		Kind:          domain.MediaKindVideo,
		RTPParameters: json.RawMessage(`{}`),
		Type:          "simple",
	}, nil
}

func (e *fakeEngine) PauseConsumer(ctx context.Context, consumerID domain.ConsumerID) error {
	return nil
}

func (e *fakeEngine) ResumeConsumer(ctx context.Context, consumerID domain.ConsumerID) error {
	return nil
}

func (e *fakeEngine) TransportStats(ctx context.Context, transportID domain.TransportID) (json.RawMessage, error) {
	return json.RawMessage(`{"transport":true}`), nil
}

func (e *fakeEngine) ProducerStats(ctx context.Context, producerID domain.ProducerID) (json.RawMessage, error) {
	return json.RawMessage(`{"producer":true}`), nil
}

func (e *fakeEngine) ConsumerStats(ctx context.Context, consumerID domain.ConsumerID) (json.RawMessage, error) {
	return json.RawMessage(`{"consumer":true}`), nil
}

func (e *fakeEngine) CloseProducer(ctx context.Context, producerID domain.ProducerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedProducers = append(e.closedProducers, producerID)
	return nil
}

func (e *fakeEngine) CloseConsumer(ctx context.Context, consumerID domain.ConsumerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedConsumers = append(e.closedConsumers, consumerID)
	return nil
}

func (e *fakeEngine) CloseTransport(ctx context.Context, transportID domain.TransportID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedTransports = append(e.closedTransports, transportID)
	return nil
}

func (e *fakeEngine) CloseRouter(ctx context.Context, routerID domain.RouterID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedRouters = append(e.closedRouters, routerID)
	return nil
}

type sentEvent struct {
	sessions []domain.SessionID
	event    domain.Event
}

// capturingNotifier records every fan-out in delivery order.
type capturingNotifier struct {
	mu         sync.Mutex
	broadcasts []domain.Event
	sends      []sentEvent
	order      []domain.EventType
}

func (n *capturingNotifier) Broadcast(event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, event)
	n.order = append(n.order, event.Type)
}

func (n *capturingNotifier) Send(sessions []domain.SessionID, event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, sentEvent{sessions: sessions, event: event})
	n.order = append(n.order, event.Type)
}

func (n *capturingNotifier) broadcastCount(eventType domain.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, event := range n.broadcasts {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

type harness struct {
	svc      ports.SignalingService
	engine   *fakeEngine
	notifier *capturingNotifier
	sessions ports.SessionRegistry
	streams  ports.StreamDirectory
	graph    ports.ResourceGraph
}

func newHarness(t *testing.T) *harness {
	engine := &fakeEngine{}
	notifier := &capturingNotifier{}
	sessions := registry.NewSessionRegistry()
	streams := registry.NewStreamDirectory()
	graph := registry.NewResourceGraph()

	svc := NewSignalingService(
		sessions, streams, graph, engine, notifier, nil,
		zaptest.NewLogger(t).Sugar(),
	)
	return &harness{
		svc:      svc,
		engine:   engine,
		notifier: notifier,
		sessions: sessions,
		streams:  streams,
		graph:    graph,
	}
}

// startIngest runs a session through register, transport and first
// produce, leaving the stream active.
func (h *harness) startIngest(t *testing.T, sessionID domain.SessionID) (domain.StreamID, domain.ProducerID) {
	t.Helper()
	ctx := context.Background()

	h.svc.Connect(sessionID)
	reg, err := h.svc.RegisterAsIngest(ctx, sessionID, ports.RegisterIngestRequest{StreamName: "demo"})
	require.NoError(t, err)

	transport, err := h.svc.CreateProducerTransport(ctx, sessionID, reg.StreamID)
	require.NoError(t, err)
	require.NoError(t, h.svc.ConnectProducerTransport(ctx, sessionID, transport.ID, json.RawMessage(`{}`)))

	producerID, err := h.svc.Produce(ctx, sessionID, ports.ProduceRequest{
		TransportID:   transport.ID,
		StreamID:      reg.StreamID,
		Kind:          domain.MediaKindVideo,
		RTPParameters: json.RawMessage(`{"encodings":[{"ssrc":1}]}`),
	})
	require.NoError(t, err)
	return reg.StreamID, producerID
}

// startSubscriber subscribes a fresh session and sets up its consumer
// transport.
func (h *harness) startSubscriber(t *testing.T, sessionID domain.SessionID, streamID domain.StreamID) ports.SubscribeResponse {
	t.Helper()
	ctx := context.Background()

	h.svc.Connect(sessionID)
	sub, err := h.svc.SubscribeToStream(ctx, sessionID, streamID, json.RawMessage(`{"codecs":[]}`))
	require.NoError(t, err)

	transport, err := h.svc.CreateConsumerTransport(ctx, sessionID, streamID)
	require.NoError(t, err)
	require.NoError(t, h.svc.ConnectConsumerTransport(ctx, sessionID, transport.ID, json.RawMessage(`{}`)))
	return sub
}

func TestRegisterAsIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("s1")
	resp, err := h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{
		StreamName:  "concert",
		Description: "main hall",
		Metadata:    map[string]string{"genre": "jazz"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.StreamID)
	assert.NotEmpty(t, resp.RouterID)
	assert.NotEmpty(t, resp.RTPCapabilities)

	stream, ok := h.streams.Get(resp.StreamID)
	require.True(t, ok)
	assert.Equal(t, resp.RouterID, stream.RouterID)
	assert.Equal(t, domain.SessionID("s1"), stream.IngestSessionID)
	assert.False(t, stream.Active, "stream must stay inactive until the first producer")
	assert.Equal(t, "jazz", stream.Metadata["genre"])

	session, ok := h.sessions.Get("s1")
	require.True(t, ok)
	assert.Equal(t, domain.RoleIngest, session.Role)
}

func TestRegisterAsIngest_MissingName(t *testing.T) {
	h := newHarness(t)
	h.svc.Connect("s1")

	_, err := h.svc.RegisterAsIngest(context.Background(), "s1", ports.RegisterIngestRequest{})
	assert.Equal(t, sgerrors.CodeInvalidArgument, sgerrors.CodeOf(err))
}

func TestRegisterAsIngest_SecondStreamRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("s1")
	_, err := h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{StreamName: "first"})
	require.NoError(t, err)

	_, err = h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{StreamName: "second"})
	assert.Equal(t, sgerrors.CodeInvalidState, sgerrors.CodeOf(err))
}

func TestRegisterAsIngest_EngineFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.engine.failCreateRouter = fmt.Errorf("no worker available")
	h.svc.Connect("s1")

	_, err := h.svc.RegisterAsIngest(context.Background(), "s1", ports.RegisterIngestRequest{StreamName: "doomed"})
	assert.Equal(t, sgerrors.CodeEngineFailure, sgerrors.CodeOf(err))
	assert.Empty(t, h.streams.ListAll(), "failed registration must not leave a stream behind")
}

func TestProduce_FirstProducerActivatesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, _ := h.startIngest(t, "ingest")

	stream, ok := h.streams.Get(streamID)
	require.True(t, ok)
	assert.True(t, stream.Active)
	assert.Equal(t, 1, h.notifier.broadcastCount(domain.EventStreamActivated))

	// Second producer on the already-active stream: targeted new-producer
	// event, no second activation broadcast.
	h.startSubscriber(t, "sub", streamID)

	_, err := h.svc.Produce(ctx, "ingest", ports.ProduceRequest{
		TransportID:   "transport-2",
		StreamID:      streamID,
		Kind:          domain.MediaKindAudio,
		RTPParameters: json.RawMessage(`{"encodings":[{"ssrc":2}]}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, h.notifier.broadcastCount(domain.EventStreamActivated))
	require.NotEmpty(t, h.notifier.sends)
	last := h.notifier.sends[len(h.notifier.sends)-1]
	assert.Equal(t, domain.EventNewProducer, last.event.Type)
	assert.Equal(t, []domain.SessionID{"sub"}, last.sessions)
}

func TestProduce_WithoutTransport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("s1")
	reg, err := h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{StreamName: "demo"})
	require.NoError(t, err)

	_, err = h.svc.Produce(ctx, "s1", ports.ProduceRequest{
		TransportID:   "bogus",
		StreamID:      reg.StreamID,
		Kind:          domain.MediaKindVideo,
		RTPParameters: json.RawMessage(`{}`),
	})
	assert.Equal(t, sgerrors.CodeInvalidState, sgerrors.CodeOf(err))
}

func TestProduce_InvalidKind(t *testing.T) {
	h := newHarness(t)
	streamID, _ := h.startIngest(t, "ingest")

	_, err := h.svc.Produce(context.Background(), "ingest", ports.ProduceRequest{
		TransportID:   "transport-2",
		StreamID:      streamID,
		Kind:          "screenshare",
		RTPParameters: json.RawMessage(`{}`),
	})
	assert.Equal(t, sgerrors.CodeInvalidArgument, sgerrors.CodeOf(err))
}

func TestSubscribe_InactiveStream_NoMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("ingest")
	reg, err := h.svc.RegisterAsIngest(ctx, "ingest", ports.RegisterIngestRequest{StreamName: "idle"})
	require.NoError(t, err)

	h.svc.Connect("sub")
	_, err = h.svc.SubscribeToStream(ctx, "sub", reg.StreamID, json.RawMessage(`{}`))
	assert.Equal(t, sgerrors.CodeInvalidState, sgerrors.CodeOf(err))

	stream, ok := h.streams.Get(reg.StreamID)
	require.True(t, ok)
	assert.Empty(t, stream.Subscribers, "failed subscribe must not touch the subscriber set")
}

func TestSubscribe_UnknownStream(t *testing.T) {
	h := newHarness(t)
	h.svc.Connect("sub")

	_, err := h.svc.SubscribeToStream(context.Background(), "sub", "missing", json.RawMessage(`{}`))
	assert.Equal(t, sgerrors.CodeNotFound, sgerrors.CodeOf(err))
}

func TestSubscribe_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, producerID := h.startIngest(t, "ingest")
	sub := h.startSubscriber(t, "sub", streamID)
	assert.Equal(t, []domain.ProducerID{producerID}, sub.ProducerIDs)

	// Subscribing again must not duplicate membership.
	_, err := h.svc.SubscribeToStream(ctx, "sub", streamID, json.RawMessage(`{}`))
	require.NoError(t, err)

	stream, ok := h.streams.Get(streamID)
	require.True(t, ok)
	assert.Len(t, stream.Subscribers, 1)
}

func TestSubscribe_SubscriberGoneMidCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, _ := h.startIngest(t, "ingest")
	h.svc.Connect("sub")
	h.engine.beforeCapabilitiesReturn = func() { h.svc.Disconnect(ctx, "sub") }

	_, err := h.svc.SubscribeToStream(ctx, "sub", streamID, json.RawMessage(`{"codecs":[]}`))
	assert.Equal(t, sgerrors.CodeNotFound, sgerrors.CodeOf(err))

	stream, ok := h.streams.Get(streamID)
	require.True(t, ok)
	assert.Empty(t, stream.Subscribers, "disconnected session must not remain in the subscriber set")
}

func TestSubscribe_IngestGoneMidCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, _ := h.startIngest(t, "ingest")
	h.svc.Connect("sub")
	h.engine.beforeCapabilitiesReturn = func() { h.svc.Disconnect(ctx, "ingest") }

	_, err := h.svc.SubscribeToStream(ctx, "sub", streamID, json.RawMessage(`{"codecs":[]}`))
	assert.Equal(t, sgerrors.CodeInvalidState, sgerrors.CodeOf(err))

	stream, ok := h.streams.Get(streamID)
	require.True(t, ok)
	assert.False(t, stream.Active)
	assert.Empty(t, stream.Subscribers, "a deactivated stream must not gain subscribers")
}

func TestConsume_Flow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, producerID := h.startIngest(t, "ingest")
	h.startSubscriber(t, "sub", streamID)

	consumer, err := h.svc.Consume(ctx, "sub", ports.ConsumeRequest{
		TransportID:     "transport-2",
		ProducerID:      producerID,
		StreamID:        streamID,
		RTPCapabilities: json.RawMessage(`{"codecs":[]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, producerID, consumer.ProducerID)
	assert.NotEmpty(t, consumer.ID)

	require.NoError(t, h.svc.ResumeConsumer(ctx, "sub", consumer.ID))
	require.NoError(t, h.svc.PauseConsumer(ctx, "sub", consumer.ID))
}

func TestConsume_CapabilityMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, producerID := h.startIngest(t, "ingest")
	h.startSubscriber(t, "sub", streamID)
	h.engine.consumeNil = true

	_, err := h.svc.Consume(ctx, "sub", ports.ConsumeRequest{
		TransportID:     "transport-2",
		ProducerID:      producerID,
		StreamID:        streamID,
		RTPCapabilities: json.RawMessage(`{"codecs":[]}`),
	})
	assert.Equal(t, sgerrors.CodeInvalidState, sgerrors.CodeOf(err))
}

func TestConsume_WithoutConsumerTransport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, producerID := h.startIngest(t, "ingest")
	h.svc.Connect("sub")
	_, err := h.svc.SubscribeToStream(ctx, "sub", streamID, json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = h.svc.Consume(ctx, "sub", ports.ConsumeRequest{
		TransportID:     "bogus",
		ProducerID:      producerID,
		StreamID:        streamID,
		RTPCapabilities: json.RawMessage(`{}`),
	})
	assert.Equal(t, sgerrors.CodeInvalidState, sgerrors.CodeOf(err))
}

func TestCreateTransport_SupersedesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("s1")
	reg, err := h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{StreamName: "demo"})
	require.NoError(t, err)

	first, err := h.svc.CreateProducerTransport(ctx, "s1", reg.StreamID)
	require.NoError(t, err)
	second, err := h.svc.CreateProducerTransport(ctx, "s1", reg.StreamID)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	assert.Contains(t, h.engine.closedTransports, first.ID, "superseded transport must be closed")
	assert.NotContains(t, h.engine.closedTransports, second.ID)
}

func TestCreateTransport_SessionGoneMidCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("s1")
	reg, err := h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{StreamName: "demo"})
	require.NoError(t, err)

	// The session disconnects while the engine call is in flight; the
	// orphan transport must be closed by the caller.
	h.engine.beforeTransportReturn = func() {
		h.engine.beforeTransportReturn = nil
		h.svc.Disconnect(ctx, "s1")
	}

	_, err = h.svc.CreateProducerTransport(ctx, "s1", reg.StreamID)
	assert.Equal(t, sgerrors.CodeNotFound, sgerrors.CodeOf(err))
	assert.Len(t, h.engine.closedTransports, 1)
}

func TestProduce_SessionGoneMidCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("s1")
	reg, err := h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{StreamName: "demo"})
	require.NoError(t, err)
	transport, err := h.svc.CreateProducerTransport(ctx, "s1", reg.StreamID)
	require.NoError(t, err)

	h.engine.beforeProducerReturn = func() {
		h.engine.beforeProducerReturn = nil
		h.svc.Disconnect(ctx, "s1")
	}

	_, err = h.svc.Produce(ctx, "s1", ports.ProduceRequest{
		TransportID:   transport.ID,
		StreamID:      reg.StreamID,
		Kind:          domain.MediaKindVideo,
		RTPParameters: json.RawMessage(`{"encodings":[{"ssrc":1}]}`),
	})
	assert.Equal(t, sgerrors.CodeNotFound, sgerrors.CodeOf(err))
	assert.Len(t, h.engine.closedProducers, 1, "orphan producer must be closed")
	assert.Equal(t, 0, h.graph.ProducerCount(reg.StreamID))
}

func TestDisconnect_IngestCascade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, producerID := h.startIngest(t, "ingest")
	h.startSubscriber(t, "sub", streamID)

	h.svc.Disconnect(ctx, "ingest")

	stream, ok := h.streams.Get(streamID)
	require.True(t, ok, "stream record survives deactivation")
	assert.False(t, stream.Active)
	assert.Equal(t, 1, h.notifier.broadcastCount(domain.EventStreamDeactivated))

	assert.Contains(t, h.engine.closedProducers, producerID)
	assert.NotEmpty(t, h.engine.closedTransports)

	// The deactivation event precedes resource teardown, so the order of
	// recorded events is activation first, deactivation last.
	require.NotEmpty(t, h.notifier.order)
	assert.Equal(t, domain.EventStreamDeactivated, h.notifier.order[len(h.notifier.order)-1])

	// Second disconnect is a no-op.
	closed := len(h.engine.closedProducers)
	h.svc.Disconnect(ctx, "ingest")
	assert.Len(t, h.engine.closedProducers, closed)
	assert.Equal(t, 1, h.notifier.broadcastCount(domain.EventStreamDeactivated))
}

func TestDisconnect_SubscriberCleanup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, producerID := h.startIngest(t, "ingest")
	h.startSubscriber(t, "sub", streamID)

	consumer, err := h.svc.Consume(ctx, "sub", ports.ConsumeRequest{
		TransportID:     "transport-2",
		ProducerID:      producerID,
		StreamID:        streamID,
		RTPCapabilities: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	h.svc.Disconnect(ctx, "sub")

	stream, ok := h.streams.Get(streamID)
	require.True(t, ok)
	assert.Empty(t, stream.Subscribers)
	assert.True(t, stream.Active, "subscriber loss must not deactivate the stream")
	assert.Contains(t, h.engine.closedConsumers, consumer.ID)
	assert.Empty(t, h.engine.closedProducers, "ingest resources must be untouched")
}

func TestDisconnect_OwnershipSweepDeactivates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// The directory's owner link points at a session that never
	// connected; only the graph knows who really holds the producers.
	h.svc.Connect("holder")
	stream := h.streams.Create("show", "ghost", "", nil)
	h.streams.SetRouter(stream.ID, "router-9")
	h.streams.Activate(stream.ID)
	h.graph.RecordProducerTransport("holder", stream.ID, "pt-1")
	h.graph.AppendProducer("holder", stream.ID, "p-1")

	h.svc.Disconnect(ctx, "holder")

	got, ok := h.streams.Get(stream.ID)
	require.True(t, ok)
	assert.False(t, got.Active, "losing the producing session must deactivate the stream")
	assert.Equal(t, 1, h.notifier.broadcastCount(domain.EventStreamDeactivated))
}

func TestDeleteStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("s1")
	reg, err := h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{StreamName: "demo"})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteStream(ctx, reg.StreamID))
	_, ok := h.streams.Get(reg.StreamID)
	assert.False(t, ok)
	assert.Contains(t, h.engine.closedRouters, reg.RouterID)
}

func TestDeleteStream_ActiveRejected(t *testing.T) {
	h := newHarness(t)
	streamID, _ := h.startIngest(t, "ingest")

	err := h.svc.DeleteStream(context.Background(), streamID)
	assert.Equal(t, sgerrors.CodeInvalidState, sgerrors.CodeOf(err))
}

func TestUpdateStreamMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.Connect("s1")
	reg, err := h.svc.RegisterAsIngest(ctx, "s1", ports.RegisterIngestRequest{
		StreamName: "demo",
		Metadata:   map[string]string{"a": "1", "b": "2"},
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.UpdateStreamMetadata(ctx, "s1", reg.StreamID, map[string]string{"b": "3", "c": "4"}))

	stream, ok := h.streams.Get(reg.StreamID)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, stream.Metadata)

	// Only the owning session may patch.
	h.svc.Connect("intruder")
	err = h.svc.UpdateStreamMetadata(ctx, "intruder", reg.StreamID, map[string]string{"x": "y"})
	assert.Equal(t, sgerrors.CodeInvalidState, sgerrors.CodeOf(err))
}

func TestStreams_ListsActiveOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	streamID, _ := h.startIngest(t, "ingest")

	h.svc.Connect("idle")
	_, err := h.svc.RegisterAsIngest(ctx, "idle", ports.RegisterIngestRequest{StreamName: "registered only"})
	require.NoError(t, err)

	active := h.svc.Streams(ctx)
	require.Len(t, active, 1)
	assert.Equal(t, streamID, active[0].ID)
	assert.True(t, active[0].Active)

	assert.Len(t, h.streams.ListAll(), 2)
}

func TestStreamStats(t *testing.T) {
	h := newHarness(t)
	streamID, _ := h.startIngest(t, "ingest")

	raw, err := h.svc.StreamStats(context.Background(), streamID)
	require.NoError(t, err)

	var stats struct {
		StreamID        domain.StreamID   `json:"streamId"`
		Active          bool              `json:"active"`
		SubscriberCount int               `json:"subscriberCount"`
		Producers       []json.RawMessage `json:"producers"`
	}
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, streamID, stats.StreamID)
	assert.True(t, stats.Active)
	assert.Len(t, stats.Producers, 1)
}

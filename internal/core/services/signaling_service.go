package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
	sgerrors "streamgrid/pkg/errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// signalingService is the protocol handler. Every operation follows the
// same shape: validate against the registries, call the media engine,
// re-validate (a concurrent disconnect may have invalidated what was
// checked before the call), mutate state, then fan out notifications
// synchronously so ordering is preserved.
type signalingService struct {
	registry  ports.SessionRegistry
	directory ports.StreamDirectory
	graph     ports.ResourceGraph
	engine    ports.MediaEngine
	notifier  ports.Notifier
	metrics   ports.MetricsRecorder

	logger *zap.SugaredLogger
}

type nopMetrics struct{}

func (nopMetrics) SessionConnected()                    {}
func (nopMetrics) SessionDisconnected()                 {}
func (nopMetrics) StreamCreated()                       {}
func (nopMetrics) StreamActivated()                     {}
func (nopMetrics) StreamDeactivated()                   {}
func (nopMetrics) ProducerCreated()                     {}
func (nopMetrics) ConsumerCreated()                     {}
func (nopMetrics) SubscriberCount(domain.StreamID, int) {}
func (nopMetrics) EngineCall(string, float64, error)    {}
func (nopMetrics) SignalingError(string)                {}

func NewSignalingService(
	registry ports.SessionRegistry,
	directory ports.StreamDirectory,
	graph ports.ResourceGraph,
	engine ports.MediaEngine,
	notifier ports.Notifier,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) ports.SignalingService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &signalingService{
		registry:  registry,
		directory: directory,
		graph:     graph,
		engine:    engine,
		notifier:  notifier,
		metrics:   metrics,
		logger:    logger,
	}
}

// beginEngineCall opens a span and a timer around one engine call. The
// returned func must be called with the call's error.
func (s *signalingService) beginEngineCall(ctx context.Context, op string) (context.Context, func(error)) {
	tracer := otel.Tracer("streamgrid/signaling")
	ctx, span := tracer.Start(ctx, "engine."+op)
	start := time.Now()
	return ctx, func(err error) {
		s.metrics.EngineCall(op, time.Since(start).Seconds(), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("engine.ok", err == nil))
		span.End()
	}
}

// fail records the error code and returns the error, so every exit path
// ends up classified.
func (s *signalingService) fail(err *sgerrors.SignalError) error {
	s.metrics.SignalingError(string(err.Code))
	return err
}

// engineError classifies a failed engine call: unknown-id sentinels become
// NotFound, everything else an EngineFailure carrying the engine message.
func (s *signalingService) engineError(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrRouterNotFound):
		return s.fail(sgerrors.NewNotFound("router"))
	case errors.Is(err, domain.ErrTransportNotFound):
		return s.fail(sgerrors.NewNotFound("transport"))
	case errors.Is(err, domain.ErrProducerNotFound):
		return s.fail(sgerrors.NewNotFound("producer"))
	case errors.Is(err, domain.ErrConsumerNotFound):
		return s.fail(sgerrors.NewNotFound("consumer"))
	default:
		return s.fail(sgerrors.WrapEngine(op, err))
	}
}

func (s *signalingService) Connect(sessionID domain.SessionID) {
	s.registry.Register(sessionID)
	s.metrics.SessionConnected()
	s.logger.Infow("session connected", "session_id", sessionID)
}

func (s *signalingService) RegisterAsIngest(ctx context.Context, sessionID domain.SessionID, req ports.RegisterIngestRequest) (ports.RegisterIngestResponse, error) {
	if strings.TrimSpace(req.StreamName) == "" {
		return ports.RegisterIngestResponse{}, s.fail(sgerrors.NewInvalidArgument("streamName is required"))
	}

	session, ok := s.registry.Get(sessionID)
	if !ok {
		return ports.RegisterIngestResponse{}, s.fail(sgerrors.NewNotFound("session"))
	}
	if session.Role == domain.RoleIngest {
		if _, owns := s.directory.GetByIngestSession(sessionID); owns {
			return ports.RegisterIngestResponse{}, s.fail(sgerrors.NewInvalidState("session already owns a stream"))
		}
	}

	stream := s.directory.Create(req.StreamName, sessionID, req.Description, req.Metadata)
	s.registry.SetRole(sessionID, domain.RoleIngest)
	s.metrics.StreamCreated()

	ctx, end := s.beginEngineCall(ctx, "create-router")
	router, err := s.engine.CreateRouter(ctx, stream.ID)
	end(err)
	if err != nil {
		// No dangling directory record without a router behind it.
		s.directory.Delete(stream.ID)
		return ports.RegisterIngestResponse{}, s.engineError("create-router", err)
	}

	// The session may have disconnected while the router was being
	// created; its cleanup cannot know about this router, so close it
	// here.
	if _, stillThere := s.registry.Get(sessionID); !stillThere {
		s.closeQuietly(ctx, "router", string(router.ID), func() error {
			return s.engine.CloseRouter(ctx, router.ID)
		})
		s.directory.Delete(stream.ID)
		return ports.RegisterIngestResponse{}, s.fail(sgerrors.NewNotFound("session"))
	}

	s.directory.SetRouter(stream.ID, router.ID)
	s.logger.Infow("stream registered",
		"stream_id", stream.ID,
		"router_id", router.ID,
		"session_id", sessionID,
		"name", req.StreamName,
	)

	return ports.RegisterIngestResponse{
		StreamID:        stream.ID,
		RouterID:        router.ID,
		RTPCapabilities: router.RTPCapabilities,
	}, nil
}

func (s *signalingService) Streams(ctx context.Context) []domain.StreamSummary {
	streams := s.directory.ListActive()
	summaries := make([]domain.StreamSummary, 0, len(streams))
	for _, stream := range streams {
		summaries = append(summaries, stream.Summary())
	}
	return summaries
}

func (s *signalingService) Stream(ctx context.Context, streamID domain.StreamID) (domain.StreamSummary, error) {
	stream, ok := s.directory.Get(streamID)
	if !ok {
		return domain.StreamSummary{}, s.fail(sgerrors.NewNotFound("stream"))
	}
	return stream.Summary(), nil
}

func (s *signalingService) RouterCapabilities(ctx context.Context, streamID domain.StreamID) (json.RawMessage, error) {
	stream, ok := s.directory.Get(streamID)
	if !ok {
		return nil, s.fail(sgerrors.NewNotFound("stream"))
	}
	if stream.RouterID == "" {
		return nil, s.fail(sgerrors.NewNotFound("router"))
	}

	ctx, end := s.beginEngineCall(ctx, "router-capabilities")
	caps, err := s.engine.RouterCapabilities(ctx, stream.RouterID)
	end(err)
	if err != nil {
		return nil, s.engineError("router-capabilities", err)
	}
	return caps, nil
}

func (s *signalingService) UpdateStreamMetadata(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID, patch map[string]string) error {
	if len(patch) == 0 {
		return s.fail(sgerrors.NewInvalidArgument("metadata patch is required"))
	}
	stream, ok := s.directory.Get(streamID)
	if !ok {
		return s.fail(sgerrors.NewNotFound("stream"))
	}
	if stream.IngestSessionID != sessionID {
		return s.fail(sgerrors.NewInvalidState("only the ingest session may update stream metadata"))
	}
	s.directory.MergeMetadata(streamID, patch)
	return nil
}

func (s *signalingService) DeleteStream(ctx context.Context, streamID domain.StreamID) error {
	stream, ok := s.directory.Get(streamID)
	if !ok {
		return s.fail(sgerrors.NewNotFound("stream"))
	}
	if stream.Active {
		return s.fail(sgerrors.NewInvalidState("cannot delete an active stream"))
	}

	s.directory.Delete(streamID)
	if stream.RouterID != "" {
		s.closeQuietly(ctx, "router", string(stream.RouterID), func() error {
			return s.engine.CloseRouter(ctx, stream.RouterID)
		})
	}
	s.logger.Infow("stream deleted", "stream_id", streamID)
	return nil
}

func (s *signalingService) CreateProducerTransport(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID) (ports.TransportInfo, error) {
	return s.createTransport(ctx, sessionID, streamID, true)
}

func (s *signalingService) CreateConsumerTransport(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID) (ports.TransportInfo, error) {
	return s.createTransport(ctx, sessionID, streamID, false)
}

func (s *signalingService) createTransport(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID, isProducer bool) (ports.TransportInfo, error) {
	if streamID == "" {
		return ports.TransportInfo{}, s.fail(sgerrors.NewInvalidArgument("streamId is required"))
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		return ports.TransportInfo{}, s.fail(sgerrors.NewNotFound("session"))
	}
	stream, ok := s.directory.Get(streamID)
	if !ok {
		return ports.TransportInfo{}, s.fail(sgerrors.NewNotFound("stream"))
	}
	if stream.RouterID == "" {
		return ports.TransportInfo{}, s.fail(sgerrors.NewNotFound("router"))
	}

	op := "create-consumer-transport"
	if isProducer {
		op = "create-producer-transport"
	}
	ctx, end := s.beginEngineCall(ctx, op)
	transport, err := s.engine.CreateTransport(ctx, stream.RouterID, isProducer)
	end(err)
	if err != nil {
		return ports.TransportInfo{}, s.engineError(op, err)
	}

	// Re-validate: if the session disconnected while the engine call was
	// in flight its cleanup already ran and missed this transport.
	if _, stillThere := s.registry.Get(sessionID); !stillThere {
		s.closeQuietly(ctx, "transport", string(transport.ID), func() error {
			return s.engine.CloseTransport(ctx, transport.ID)
		})
		return ports.TransportInfo{}, s.fail(sgerrors.NewNotFound("session"))
	}

	var prev domain.TransportID
	if isProducer {
		prev = s.graph.RecordProducerTransport(sessionID, streamID, transport.ID)
	} else {
		prev = s.graph.RecordConsumerTransport(sessionID, streamID, transport.ID)
	}
	// Re-requesting a transport for the same (session, stream) supersedes
	// the old one; close it so the engine resource is not leaked.
	if prev != "" && prev != transport.ID {
		s.closeQuietly(ctx, "superseded transport", string(prev), func() error {
			return s.engine.CloseTransport(ctx, prev)
		})
	}

	s.logger.Infow("transport created",
		"transport_id", transport.ID,
		"stream_id", streamID,
		"session_id", sessionID,
		"producer_side", isProducer,
	)
	return transport, nil
}

func (s *signalingService) ConnectProducerTransport(ctx context.Context, sessionID domain.SessionID, transportID domain.TransportID, dtlsParameters json.RawMessage) error {
	return s.connectTransport(ctx, sessionID, transportID, dtlsParameters)
}

func (s *signalingService) ConnectConsumerTransport(ctx context.Context, sessionID domain.SessionID, transportID domain.TransportID, dtlsParameters json.RawMessage) error {
	return s.connectTransport(ctx, sessionID, transportID, dtlsParameters)
}

func (s *signalingService) connectTransport(ctx context.Context, sessionID domain.SessionID, transportID domain.TransportID, dtlsParameters json.RawMessage) error {
	if transportID == "" {
		return s.fail(sgerrors.NewInvalidArgument("transportId is required"))
	}
	if len(dtlsParameters) == 0 {
		return s.fail(sgerrors.NewInvalidArgument("dtlsParameters are required"))
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		return s.fail(sgerrors.NewNotFound("session"))
	}

	ctx, end := s.beginEngineCall(ctx, "connect-transport")
	err := s.engine.ConnectTransport(ctx, transportID, dtlsParameters)
	end(err)
	if err != nil {
		return s.engineError("connect-transport", err)
	}
	return nil
}

func (s *signalingService) Produce(ctx context.Context, sessionID domain.SessionID, req ports.ProduceRequest) (domain.ProducerID, error) {
	if req.TransportID == "" || req.StreamID == "" {
		return "", s.fail(sgerrors.NewInvalidArgument("transportId and streamId are required"))
	}
	if !req.Kind.Valid() {
		return "", s.fail(sgerrors.NewInvalidArgument("kind must be audio or video"))
	}
	if len(req.RTPParameters) == 0 {
		return "", s.fail(sgerrors.NewInvalidArgument("rtpParameters are required"))
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		return "", s.fail(sgerrors.NewNotFound("session"))
	}
	if _, ok := s.directory.Get(req.StreamID); !ok {
		return "", s.fail(sgerrors.NewNotFound("stream"))
	}
	if !s.graph.HasProducerTransport(sessionID, req.StreamID) {
		return "", s.fail(sgerrors.NewInvalidState("no producer transport for stream"))
	}

	ctx, end := s.beginEngineCall(ctx, "produce")
	producerID, err := s.engine.CreateProducer(ctx, req.TransportID, req.Kind, req.RTPParameters)
	end(err)
	if err != nil {
		return "", s.engineError("produce", err)
	}

	// Re-validate both owners: a disconnect or stream delete during the
	// engine call means nobody else will ever close this producer.
	if _, stillThere := s.registry.Get(sessionID); !stillThere {
		s.closeQuietly(ctx, "producer", string(producerID), func() error {
			return s.engine.CloseProducer(ctx, producerID)
		})
		return "", s.fail(sgerrors.NewNotFound("session"))
	}
	stream, ok := s.directory.Get(req.StreamID)
	if !ok {
		s.closeQuietly(ctx, "producer", string(producerID), func() error {
			return s.engine.CloseProducer(ctx, producerID)
		})
		return "", s.fail(sgerrors.NewNotFound("stream"))
	}

	s.graph.AppendProducer(sessionID, req.StreamID, producerID)
	s.metrics.ProducerCreated()

	event := domain.Event{
		Type:       domain.EventNewProducer,
		StreamID:   req.StreamID,
		ProducerID: producerID,
		Kind:       req.Kind,
	}

	// First producer flips the stream active. The flip is atomic in the
	// directory, so the activation broadcast happens exactly once, and it
	// is sent only after the mutation: no session can see a new-producer
	// event for a stream it does not yet see as active.
	if changed, _ := s.directory.Activate(req.StreamID); changed {
		s.metrics.StreamActivated()
		activated := event
		activated.Type = domain.EventStreamActivated
		s.notifier.Broadcast(activated)
		s.logger.Infow("stream activated", "stream_id", req.StreamID, "producer_id", producerID)
	} else {
		s.notifier.Send(stream.SubscriberIDs(), event)
	}

	return producerID, nil
}

func (s *signalingService) SubscribeToStream(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID, rtpCapabilities json.RawMessage) (ports.SubscribeResponse, error) {
	if streamID == "" {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewInvalidArgument("streamId is required"))
	}
	if len(rtpCapabilities) == 0 {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewInvalidArgument("rtpCapabilities are required"))
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewNotFound("session"))
	}
	stream, ok := s.directory.Get(streamID)
	if !ok {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewNotFound("stream"))
	}
	// A failed subscribe must not mutate the subscriber set, so all
	// validation happens before AddSubscriber.
	if !stream.Active {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewInvalidState("stream is not active"))
	}

	// The owner is stored on the stream record; the graph scan is the
	// defensive fallback for the inconsistency that should not occur but
	// must be handled rather than assumed away.
	ingestID := stream.IngestSessionID
	if _, alive := s.registry.Get(ingestID); !alive {
		ingestID, ok = s.graph.FindIngestSessionFor(streamID)
		if !ok {
			s.logger.Warnw("no ingest session for active stream", "stream_id", streamID)
			return ports.SubscribeResponse{}, s.fail(sgerrors.NewNotFound("ingest session"))
		}
	}

	producerIDs := s.graph.Producers(ingestID, streamID)
	if len(producerIDs) == 0 {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewNotFound("producers"))
	}

	ctx, end := s.beginEngineCall(ctx, "router-capabilities")
	caps, err := s.engine.RouterCapabilities(ctx, stream.RouterID)
	end(err)
	if err != nil {
		return ports.SubscribeResponse{}, s.engineError("router-capabilities", err)
	}

	// A disconnect can land while the engine call is in flight; re-check
	// both sides before touching the subscriber set. A session removed by
	// its own disconnect must not be re-added after the cleanup ran, and
	// a stream deactivated by the ingest's disconnect must not gain
	// subscribers or report success with dead producer ids.
	if _, stillThere := s.registry.Get(sessionID); !stillThere {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewNotFound("session"))
	}
	stream, ok = s.directory.Get(streamID)
	if !ok {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewNotFound("stream"))
	}
	if !stream.Active {
		return ports.SubscribeResponse{}, s.fail(sgerrors.NewInvalidState("stream is not active"))
	}

	if s.directory.AddSubscriber(streamID, sessionID) {
		if updated, ok := s.directory.Get(streamID); ok {
			s.metrics.SubscriberCount(streamID, len(updated.Subscribers))
		}
	}

	return ports.SubscribeResponse{
		ProducerIDs:     producerIDs,
		RouterID:        stream.RouterID,
		RTPCapabilities: caps,
	}, nil
}

func (s *signalingService) Consume(ctx context.Context, sessionID domain.SessionID, req ports.ConsumeRequest) (ports.ConsumerInfo, error) {
	if req.TransportID == "" || req.ProducerID == "" || req.StreamID == "" {
		return ports.ConsumerInfo{}, s.fail(sgerrors.NewInvalidArgument("transportId, producerId and streamId are required"))
	}
	if len(req.RTPCapabilities) == 0 {
		return ports.ConsumerInfo{}, s.fail(sgerrors.NewInvalidArgument("rtpCapabilities are required"))
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		return ports.ConsumerInfo{}, s.fail(sgerrors.NewNotFound("session"))
	}
	stream, ok := s.directory.Get(req.StreamID)
	if !ok {
		return ports.ConsumerInfo{}, s.fail(sgerrors.NewNotFound("stream"))
	}
	if !stream.Active {
		return ports.ConsumerInfo{}, s.fail(sgerrors.NewInvalidState("stream is not active"))
	}
	if !s.graph.HasConsumerTransport(sessionID, req.StreamID) {
		return ports.ConsumerInfo{}, s.fail(sgerrors.NewInvalidState("no consumer transport for stream"))
	}

	ctx, end := s.beginEngineCall(ctx, "consume")
	consumer, err := s.engine.CreateConsumer(ctx, req.TransportID, req.ProducerID, req.RTPCapabilities)
	end(err)
	if err != nil {
		return ports.ConsumerInfo{}, s.engineError("consume", err)
	}
	if consumer == nil {
		// The engine signals capability mismatch with a nil consumer,
		// not an error.
		return ports.ConsumerInfo{}, s.fail(sgerrors.NewInvalidState("cannot consume producer with given capabilities"))
	}

	if _, stillThere := s.registry.Get(sessionID); !stillThere {
		s.closeQuietly(ctx, "consumer", string(consumer.ID), func() error {
			return s.engine.CloseConsumer(ctx, consumer.ID)
		})
		return ports.ConsumerInfo{}, s.fail(sgerrors.NewNotFound("session"))
	}

	s.graph.AppendConsumer(sessionID, req.StreamID, consumer.ID)
	s.metrics.ConsumerCreated()
	return *consumer, nil
}

func (s *signalingService) ResumeConsumer(ctx context.Context, sessionID domain.SessionID, consumerID domain.ConsumerID) error {
	return s.toggleConsumer(ctx, sessionID, consumerID, true)
}

func (s *signalingService) PauseConsumer(ctx context.Context, sessionID domain.SessionID, consumerID domain.ConsumerID) error {
	return s.toggleConsumer(ctx, sessionID, consumerID, false)
}

func (s *signalingService) toggleConsumer(ctx context.Context, sessionID domain.SessionID, consumerID domain.ConsumerID, resume bool) error {
	if consumerID == "" {
		return s.fail(sgerrors.NewInvalidArgument("consumerId is required"))
	}
	if _, ok := s.registry.Get(sessionID); !ok {
		return s.fail(sgerrors.NewNotFound("session"))
	}

	op := "pause-consumer"
	call := s.engine.PauseConsumer
	if resume {
		op = "resume-consumer"
		call = s.engine.ResumeConsumer
	}
	ctx, end := s.beginEngineCall(ctx, op)
	err := call(ctx, consumerID)
	end(err)
	if err != nil {
		return s.engineError(op, err)
	}
	return nil
}

func (s *signalingService) StreamStats(ctx context.Context, streamID domain.StreamID) (json.RawMessage, error) {
	stream, ok := s.directory.Get(streamID)
	if !ok {
		return nil, s.fail(sgerrors.NewNotFound("stream"))
	}

	ingestID := stream.IngestSessionID
	if _, alive := s.registry.Get(ingestID); !alive {
		ingestID, _ = s.graph.FindIngestSessionFor(streamID)
	}

	producers := make([]json.RawMessage, 0)
	for _, producerID := range s.graph.Producers(ingestID, streamID) {
		ctx, end := s.beginEngineCall(ctx, "producer-stats")
		stats, err := s.engine.ProducerStats(ctx, producerID)
		end(err)
		if err != nil {
			// A producer may close between listing and querying; skip it.
			s.logger.Debugw("producer stats unavailable", "producer_id", producerID, "error", err)
			continue
		}
		producers = append(producers, stats)
	}

	return json.Marshal(map[string]interface{}{
		"streamId":        stream.ID,
		"active":          stream.Active,
		"subscriberCount": len(stream.Subscribers),
		"producers":       producers,
	})
}

func (s *signalingService) ProducerStats(ctx context.Context, producerID domain.ProducerID) (json.RawMessage, error) {
	ctx, end := s.beginEngineCall(ctx, "producer-stats")
	stats, err := s.engine.ProducerStats(ctx, producerID)
	end(err)
	if err != nil {
		return nil, s.engineError("producer-stats", err)
	}
	return stats, nil
}

func (s *signalingService) ConsumerStats(ctx context.Context, consumerID domain.ConsumerID) (json.RawMessage, error) {
	ctx, end := s.beginEngineCall(ctx, "consumer-stats")
	stats, err := s.engine.ConsumerStats(ctx, consumerID)
	end(err)
	if err != nil {
		return nil, s.engineError("consumer-stats", err)
	}
	return stats, nil
}

func (s *signalingService) TransportStats(ctx context.Context, transportID domain.TransportID) (json.RawMessage, error) {
	ctx, end := s.beginEngineCall(ctx, "transport-stats")
	stats, err := s.engine.TransportStats(ctx, transportID)
	end(err)
	if err != nil {
		return nil, s.engineError("transport-stats", err)
	}
	return stats, nil
}

// Disconnect drives the cascading cleanup for a lost session. Each close
// is best-effort: a failure is logged and the remaining steps continue,
// because there is no caller left to receive an error.
func (s *signalingService) Disconnect(ctx context.Context, sessionID domain.SessionID) {
	session, ok := s.registry.Get(sessionID)
	if !ok {
		// Already removed; a second disconnect is a no-op.
		return
	}

	// Deactivate and announce before any engine resource goes away, so
	// subscribers stop expecting media before it vanishes.
	if session.Role == domain.RoleIngest {
		if stream, owns := s.directory.GetByIngestSession(sessionID); owns {
			if changed, _ := s.directory.Deactivate(stream.ID); changed {
				s.metrics.StreamDeactivated()
				s.notifier.Broadcast(domain.Event{
					Type:     domain.EventStreamDeactivated,
					StreamID: stream.ID,
				})
				s.logger.Infow("stream deactivated", "stream_id", stream.ID, "session_id", sessionID)
			}
		}
	}

	// Producers and consumers go before the transports carrying them, so
	// the engine never sees a dangling reference.
	released := s.graph.ReleaseAll(sessionID)

	// Ownership sweep: the graph knows which streams this session held
	// producers on. When the directory's owner link is out of step with
	// the graph, the block above missed the deactivation; flip it here,
	// still before any engine resource goes away. Already-inactive
	// streams make this a no-op, so the normal path never broadcasts
	// twice.
	for _, streamID := range released.ProducerStreams {
		if changed, _ := s.directory.Deactivate(streamID); changed {
			s.metrics.StreamDeactivated()
			s.notifier.Broadcast(domain.Event{
				Type:     domain.EventStreamDeactivated,
				StreamID: streamID,
			})
			s.logger.Warnw("stream deactivated by ownership sweep", "stream_id", streamID, "session_id", sessionID)
		}
	}

	for _, id := range released.Producers {
		producerID := id
		s.closeQuietly(ctx, "producer", string(id), func() error {
			return s.engine.CloseProducer(ctx, producerID)
		})
	}
	for _, id := range released.Consumers {
		consumerID := id
		s.closeQuietly(ctx, "consumer", string(id), func() error {
			return s.engine.CloseConsumer(ctx, consumerID)
		})
	}
	for _, id := range released.Transports {
		transportID := id
		s.closeQuietly(ctx, "transport", string(id), func() error {
			return s.engine.CloseTransport(ctx, transportID)
		})
	}

	for _, streamID := range s.directory.RemoveSubscriberEverywhere(sessionID) {
		if stream, ok := s.directory.Get(streamID); ok {
			s.metrics.SubscriberCount(streamID, len(stream.Subscribers))
		}
	}

	s.registry.Remove(sessionID)
	s.metrics.SessionDisconnected()
	s.logger.Infow("session disconnected",
		"session_id", sessionID,
		"role", session.Role,
		"producers_closed", len(released.Producers),
		"consumers_closed", len(released.Consumers),
		"transports_closed", len(released.Transports),
	)
}

func (s *signalingService) closeQuietly(ctx context.Context, kind, id string, close func() error) {
	if err := close(); err != nil {
		s.logger.Warnw("error closing "+kind, "id", id, "error", err)
	}
}

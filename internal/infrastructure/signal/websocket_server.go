package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
	sgerrors "streamgrid/pkg/errors"
	"streamgrid/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketServer owns the signaling connections. Each connection gets a
// generated session id, a reader goroutine and a serialized writer; all
// protocol decisions live in the service, the server only frames and
// dispatches.
type WebSocketServer struct {
	service ports.SignalingService
	hub     *Hub

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	messageRate  rate.Limit
	messageBurst int

	logger *zap.SugaredLogger
}

type ServerOptions struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MessagesPerSecond bounds how fast one connection may issue requests.
	// Zero disables the limit.
	MessagesPerSecond float64
	MessageBurst      int
}

func NewWebSocketServer(service ports.SignalingService, hub *Hub, opts ServerOptions, logger *zap.SugaredLogger) *WebSocketServer {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 20
	}

	return &WebSocketServer{
		service:      service,
		hub:          hub,
		pingInterval: opts.PingInterval,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		messageRate:  rate.Limit(opts.MessagesPerSecond),
		messageBurst: opts.MessageBurst,
		logger:       logger,
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer raw.Close()

	sessionID := domain.SessionID(utils.GenerateSessionID())
	conn := &wsConn{conn: raw, writeTimeout: s.writeTimeout}

	s.hub.register(sessionID, conn)
	s.service.Connect(sessionID)
	s.logger.Infow("session connected", "session_id", sessionID, "remote", r.RemoteAddr)

	welcome, _ := json.Marshal(ConnectedPayload{SessionID: sessionID})
	if err := conn.writeJSON(SignalMessage{Type: "connected", Payload: welcome}); err != nil {
		s.logger.Warnw("welcome send failed", "session_id", sessionID, "error", err)
	}

	raw.SetReadDeadline(time.Now().Add(s.readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	var limiter *rate.Limiter
	if s.messageRate > 0 {
		limiter = rate.NewLimiter(s.messageRate, s.messageBurst)
	}

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := raw.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			raw.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.logger.Warnw("message rate exceeded", "session_id", sessionID, "type", msg.Type)
				s.respondError(conn, msg, sgerrors.NewInvalidState("message rate exceeded"))
				continue
			}
			s.dispatch(r.Context(), sessionID, conn, msg)

		case <-pingTicker.C:
			if err := conn.writePing(); err != nil {
				s.logger.Infow("ping failed", "session_id", sessionID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "session_id", sessionID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.hub.unregister(sessionID)
	s.service.Disconnect(context.Background(), sessionID)
	s.logger.Infow("session disconnected", "session_id", sessionID)
}

// dispatch routes one request frame. The response echoes the request type
// and id; failures carry an ErrorPayload instead of a result.
func (s *WebSocketServer) dispatch(ctx context.Context, sessionID domain.SessionID, conn *wsConn, msg SignalMessage) {
	result, err := s.handle(ctx, sessionID, msg)
	if err != nil {
		s.logger.Infow("request failed",
			"session_id", sessionID,
			"type", msg.Type,
			"code", sgerrors.CodeOf(err),
			"error", err,
		)
		s.respondError(conn, msg, err)
		return
	}
	s.respond(conn, msg, result)
}

func (s *WebSocketServer) handle(ctx context.Context, sessionID domain.SessionID, msg SignalMessage) (interface{}, error) {
	switch msg.Type {
	case "register-as-ingest":
		var req ports.RegisterIngestRequest
		if err := unmarshalPayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return s.service.RegisterAsIngest(ctx, sessionID, req)

	case "get-streams":
		return StreamListPayload{Streams: s.service.Streams(ctx)}, nil

	case "get-stream":
		var p StreamPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return s.service.Stream(ctx, p.StreamID)

	case "get-router-capabilities":
		var p StreamPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		caps, err := s.service.RouterCapabilities(ctx, p.StreamID)
		if err != nil {
			return nil, err
		}
		return map[string]json.RawMessage{"rtpCapabilities": caps}, nil

	case "update-stream-metadata":
		var p UpdateMetadataPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.service.UpdateStreamMetadata(ctx, sessionID, p.StreamID, p.Metadata); err != nil {
			return nil, err
		}
		return s.service.Stream(ctx, p.StreamID)

	case "create-producer-transport":
		var p StreamPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return s.service.CreateProducerTransport(ctx, sessionID, p.StreamID)

	case "connect-producer-transport":
		var p ConnectTransportPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return okResult(), s.service.ConnectProducerTransport(ctx, sessionID, p.TransportID, p.DTLSParameters)

	case "produce":
		var req ports.ProduceRequest
		if err := unmarshalPayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		producerID, err := s.service.Produce(ctx, sessionID, req)
		if err != nil {
			return nil, err
		}
		return map[string]domain.ProducerID{"producerId": producerID}, nil

	case "subscribe-to-stream":
		var p SubscribePayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return s.service.SubscribeToStream(ctx, sessionID, p.StreamID, p.RTPCapabilities)

	case "create-consumer-transport":
		var p StreamPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return s.service.CreateConsumerTransport(ctx, sessionID, p.StreamID)

	case "connect-consumer-transport":
		var p ConnectTransportPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return okResult(), s.service.ConnectConsumerTransport(ctx, sessionID, p.TransportID, p.DTLSParameters)

	case "consume":
		var req ports.ConsumeRequest
		if err := unmarshalPayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return s.service.Consume(ctx, sessionID, req)

	case "resume-consumer":
		var p ConsumerPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return okResult(), s.service.ResumeConsumer(ctx, sessionID, p.ConsumerID)

	case "pause-consumer":
		var p ConsumerPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return okResult(), s.service.PauseConsumer(ctx, sessionID, p.ConsumerID)

	case "get-producer-stats":
		var p ProducerStatsPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		stats, err := s.service.ProducerStats(ctx, p.ProducerID)
		if err != nil {
			return nil, err
		}
		return StatsPayload{Stats: stats}, nil

	case "get-consumer-stats":
		var p ConsumerStatsPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		stats, err := s.service.ConsumerStats(ctx, p.ConsumerID)
		if err != nil {
			return nil, err
		}
		return StatsPayload{Stats: stats}, nil

	case "get-transport-stats":
		var p TransportStatsPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		stats, err := s.service.TransportStats(ctx, p.TransportID)
		if err != nil {
			return nil, err
		}
		return StatsPayload{Stats: stats}, nil

	default:
		return nil, sgerrors.NewInvalidArgument(fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func unmarshalPayload(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return sgerrors.NewInvalidArgument("payload is required")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return sgerrors.NewInvalidArgument(fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}

func okResult() map[string]bool {
	return map[string]bool{"connected": true}
}

func (s *WebSocketServer) respond(conn *wsConn, req SignalMessage, result interface{}) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Errorw("failed to encode response", "type", req.Type, "error", err)
		s.respondError(conn, req, sgerrors.WrapEngine("encode response", err))
		return
	}
	if err := conn.writeJSON(SignalMessage{Type: req.Type, RequestID: req.RequestID, Payload: payload}); err != nil {
		s.logger.Warnw("response send failed", "type", req.Type, "error", err)
	}
}

func (s *WebSocketServer) respondError(conn *wsConn, req SignalMessage, err error) {
	payload, _ := json.Marshal(ErrorPayload{
		Error: err.Error(),
		Code:  string(sgerrors.CodeOf(err)),
	})
	if werr := conn.writeJSON(SignalMessage{Type: req.Type, RequestID: req.RequestID, Payload: payload}); werr != nil {
		s.logger.Warnw("error response send failed", "type", req.Type, "error", werr)
	}
}

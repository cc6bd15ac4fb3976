package signal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"streamgrid/internal/core/domain"
	sgerrors "streamgrid/pkg/errors"
	"streamgrid/pkg/utils"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RelayServer is the direct peer-to-peer signaling variant: peers join
// named rooms and the server forwards offers, answers and ICE candidates
// between them without touching the media engine. Useful for small rooms
// where full fan-out through the engine is overkill.
type RelayServer struct {
	rooms map[string]map[domain.SessionID]*wsConn
	peers map[domain.SessionID]string
	mu    sync.RWMutex

	writeTimeout time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration

	logger *zap.SugaredLogger
}

func NewRelayServer(logger *zap.SugaredLogger) *RelayServer {
	return &RelayServer{
		rooms:        make(map[string]map[domain.SessionID]*wsConn),
		peers:        make(map[domain.SessionID]string),
		writeTimeout: 10 * time.Second,
		readTimeout:  60 * time.Second,
		pingInterval: 30 * time.Second,
		logger:       logger,
	}
}

type JoinRoomPayload struct {
	Room string `json:"room"`
}

type RoomJoinedPayload struct {
	Room   string             `json:"room"`
	PeerID domain.SessionID   `json:"peerId"`
	Peers  []domain.SessionID `json:"peers"`
}

type PeerEventPayload struct {
	PeerID domain.SessionID `json:"peerId"`
}

// DescriptionPayload carries an SDP offer or answer between two peers.
type DescriptionPayload struct {
	To          domain.SessionID          `json:"to,omitempty"`
	From        domain.SessionID          `json:"from,omitempty"`
	Description webrtc.SessionDescription `json:"description"`
}

type CandidatePayload struct {
	To        domain.SessionID        `json:"to,omitempty"`
	From      domain.SessionID        `json:"from,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("relay upgrade failed", "error", err)
		return
	}
	defer raw.Close()

	peerID := domain.SessionID(utils.GenerateSessionID())
	conn := &wsConn{conn: raw, writeTimeout: s.writeTimeout}
	s.logger.Infow("relay peer connected", "peer_id", peerID, "remote", r.RemoteAddr)

	welcome, _ := json.Marshal(ConnectedPayload{SessionID: peerID})
	conn.writeJSON(SignalMessage{Type: "connected", Payload: welcome})

	raw.SetReadDeadline(time.Now().Add(s.readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

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
			if err := s.handleMessage(peerID, conn, msg); err != nil {
				s.logger.Infow("relay message failed", "peer_id", peerID, "type", msg.Type, "error", err)
				payload, _ := json.Marshal(ErrorPayload{Error: err.Error(), Code: string(sgerrors.CodeOf(err))})
				conn.writeJSON(SignalMessage{Type: msg.Type, RequestID: msg.RequestID, Payload: payload})
			}

		case <-pingTicker.C:
			if err := conn.writePing(); err != nil {
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("relay read failed", "peer_id", peerID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.leaveRoom(peerID)
	s.logger.Infow("relay peer disconnected", "peer_id", peerID)
}

func (s *RelayServer) handleMessage(peerID domain.SessionID, conn *wsConn, msg SignalMessage) error {
	switch msg.Type {
	case "join-room":
		var p JoinRoomPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		return s.joinRoom(peerID, conn, p.Room, msg.RequestID)

	case "leave-room":
		s.leaveRoom(peerID)
		return nil

	case "offer", "answer":
		var p DescriptionPayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		p.From = peerID
		return s.forward(peerID, p.To, msg.Type, p)

	case "ice-candidate":
		var p CandidatePayload
		if err := unmarshalPayload(msg.Payload, &p); err != nil {
			return err
		}
		p.From = peerID
		return s.forward(peerID, p.To, msg.Type, p)

	default:
		return sgerrors.NewInvalidArgument(fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (s *RelayServer) joinRoom(peerID domain.SessionID, conn *wsConn, room string, requestID string) error {
	if room == "" {
		return sgerrors.NewInvalidArgument("room is required")
	}

	s.mu.Lock()
	// A peer sits in at most one room; joining again moves it.
	if prev, ok := s.peers[peerID]; ok && prev != room {
		s.removeLocked(peerID, prev)
	}
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[domain.SessionID]*wsConn)
		s.rooms[room] = members
	}
	others := make([]domain.SessionID, 0, len(members))
	for id := range members {
		others = append(others, id)
	}
	members[peerID] = conn
	s.peers[peerID] = room
	s.mu.Unlock()

	s.logger.Infow("peer joined room", "peer_id", peerID, "room", room, "peers", len(others))

	joined, _ := json.Marshal(RoomJoinedPayload{Room: room, PeerID: peerID, Peers: others})
	conn.writeJSON(SignalMessage{Type: "room-joined", RequestID: requestID, Payload: joined})

	event, _ := json.Marshal(PeerEventPayload{PeerID: peerID})
	s.notifyRoom(room, peerID, SignalMessage{Type: string(domain.EventPeerJoined), Payload: event})
	return nil
}

func (s *RelayServer) leaveRoom(peerID domain.SessionID) {
	s.mu.Lock()
	room, ok := s.peers[peerID]
	if ok {
		s.removeLocked(peerID, room)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	event, _ := json.Marshal(PeerEventPayload{PeerID: peerID})
	s.notifyRoom(room, peerID, SignalMessage{Type: string(domain.EventPeerLeft), Payload: event})
	s.logger.Infow("peer left room", "peer_id", peerID, "room", room)
}

// removeLocked drops the peer from a room and deletes the room when it
// empties. Caller holds s.mu.
func (s *RelayServer) removeLocked(peerID domain.SessionID, room string) {
	delete(s.peers, peerID)
	if members, ok := s.rooms[room]; ok {
		delete(members, peerID)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
}

// forward delivers a payload to one peer in the sender's room, or to every
// other peer when no target is given.
func (s *RelayServer) forward(from domain.SessionID, to domain.SessionID, msgType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := SignalMessage{Type: msgType, Payload: body}

	s.mu.RLock()
	room, ok := s.peers[from]
	if !ok {
		s.mu.RUnlock()
		return sgerrors.NewInvalidState("peer has not joined a room")
	}
	members := s.rooms[room]
	targets := make(map[domain.SessionID]*wsConn)
	if to != "" {
		if conn, ok := members[to]; ok {
			targets[to] = conn
		}
	} else {
		for id, conn := range members {
			if id != from {
				targets[id] = conn
			}
		}
	}
	s.mu.RUnlock()

	if to != "" && len(targets) == 0 {
		return sgerrors.NewNotFound("target peer")
	}

	for id, conn := range targets {
		if err := conn.writeJSON(msg); err != nil {
			s.logger.Warnw("relay forward failed", "to", id, "type", msgType, "error", err)
		}
	}
	return nil
}

func (s *RelayServer) notifyRoom(room string, except domain.SessionID, msg SignalMessage) {
	s.mu.RLock()
	members := s.rooms[room]
	conns := make(map[domain.SessionID]*wsConn, len(members))
	for id, conn := range members {
		if id != except {
			conns[id] = conn
		}
	}
	s.mu.RUnlock()

	for id, conn := range conns {
		if err := conn.writeJSON(msg); err != nil {
			s.logger.Warnw("room notify failed", "to", id, "type", msg.Type, "error", err)
		}
	}
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
	"streamgrid/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds the engine-side transport settings.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// codecEntry is one negotiable codec of a router, in the shape clients
// expect in rtpCapabilities.
type codecEntry struct {
	Kind      string            `json:"kind"`
	MimeType  string            `json:"mimeType"`
	ClockRate uint32            `json:"clockRate"`
	Channels  uint16            `json:"channels,omitempty"`
	Params    map[string]string `json:"parameters,omitempty"`
}

type router struct {
	id       domain.RouterID
	streamID domain.StreamID
	caps     json.RawMessage
}

type transport struct {
	id         domain.TransportID
	routerID   domain.RouterID
	isProducer bool

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	connected bool
	closed    bool
	mu        sync.Mutex
}

type producer struct {
	id          domain.ProducerID
	transportID domain.TransportID
	kind        domain.MediaKind
	mimeType    string
	codec       webrtc.RTPCodecCapability
	ssrc        webrtc.SSRC

	receiver *webrtc.RTPReceiver
	dtls     *webrtc.DTLSTransport

	// outputs holds the consumer tracks fed by this producer. The fan-out
	// loop skips paused consumers, so pausing stops media, not just RTCP.
	outputs   map[domain.ConsumerID]*consumer
	outputsMu sync.RWMutex

	packets atomic.Uint64
	bytes   atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

type consumer struct {
	id          domain.ConsumerID
	producerID  domain.ProducerID
	transportID domain.TransportID
	kind        domain.MediaKind

	track  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
	paused atomic.Bool

	packets atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

// PionEngine is an in-process media engine built on pion's ORTC surface:
// routers are codec-capability contexts, transports are ICE+DTLS pairs,
// producers read inbound RTP and fan it out to per-consumer tracks, and
// consumers start paused. The orchestration layer talks to it only
// through the MediaEngine port.
type PionEngine struct {
	api    *webrtc.API
	config Config

	routers       map[domain.RouterID]*router
	streamRouters map[domain.StreamID]domain.RouterID
	transports    map[domain.TransportID]*transport
	producers     map[domain.ProducerID]*producer
	consumers     map[domain.ConsumerID]*consumer
	mu            sync.RWMutex

	logger *zap.SugaredLogger
}

func NewPionEngine(config Config, logger *zap.SugaredLogger) (*PionEngine, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	setting := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := setting.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}

	return &PionEngine{
		api:           webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(setting)),
		config:        config,
		routers:       make(map[domain.RouterID]*router),
		streamRouters: make(map[domain.StreamID]domain.RouterID),
		transports:    make(map[domain.TransportID]*transport),
		producers:     make(map[domain.ProducerID]*producer),
		consumers:     make(map[domain.ConsumerID]*consumer),
		logger:        logger,
	}, nil
}

// routerCodecs is the negotiation context offered per stream.
func routerCodecs() []codecEntry {
	return []codecEntry{
		{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		{Kind: "video", MimeType: webrtc.MimeTypeH264, ClockRate: 90000, Params: map[string]string{
			"packetization-mode":      "1",
			"profile-level-id":        "42e01f",
			"level-asymmetry-allowed": "1",
		}},
	}
}

func (e *PionEngine) CreateRouter(ctx context.Context, streamID domain.StreamID) (ports.RouterInfo, error) {
	caps, err := json.Marshal(struct {
		Codecs []codecEntry `json:"codecs"`
	}{Codecs: routerCodecs()})
	if err != nil {
		return ports.RouterInfo{}, err
	}

	r := &router{
		id:       domain.RouterID(utils.GenerateRouterID()),
		streamID: streamID,
		caps:     caps,
	}

	e.mu.Lock()
	e.routers[r.id] = r
	e.streamRouters[streamID] = r.id
	e.mu.Unlock()

	e.logger.Infow("router created", "router_id", r.id, "stream_id", streamID)
	return ports.RouterInfo{ID: r.id, RTPCapabilities: caps}, nil
}

func (e *PionEngine) RouterCapabilities(ctx context.Context, routerID domain.RouterID) (json.RawMessage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.routers[routerID]
	if !ok {
		return nil, domain.ErrRouterNotFound
	}
	return r.caps, nil
}

func (e *PionEngine) CreateTransport(ctx context.Context, routerID domain.RouterID, isProducer bool) (ports.TransportInfo, error) {
	e.mu.RLock()
	_, ok := e.routers[routerID]
	e.mu.RUnlock()
	if !ok {
		return ports.TransportInfo{}, domain.ErrRouterNotFound
	}

	gatherer, err := e.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: e.config.ICEServers})
	if err != nil {
		return ports.TransportInfo{}, fmt.Errorf("failed to create ICE gatherer: %w", err)
	}

	ice := e.api.NewICETransport(gatherer)
	dtls, err := e.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return ports.TransportInfo{}, fmt.Errorf("failed to create DTLS transport: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return ports.TransportInfo{}, fmt.Errorf("failed to gather candidates: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		return ports.TransportInfo{}, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return ports.TransportInfo{}, err
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return ports.TransportInfo{}, err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return ports.TransportInfo{}, err
	}

	iceJSON, err := json.Marshal(iceParams)
	if err != nil {
		return ports.TransportInfo{}, err
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return ports.TransportInfo{}, err
	}
	dtlsJSON, err := json.Marshal(dtlsParams)
	if err != nil {
		return ports.TransportInfo{}, err
	}

	t := &transport{
		id:         domain.TransportID(utils.GenerateTransportID()),
		routerID:   routerID,
		isProducer: isProducer,
		gatherer:   gatherer,
		ice:        ice,
		dtls:       dtls,
	}

	e.mu.Lock()
	e.transports[t.id] = t
	e.mu.Unlock()

	e.logger.Infow("transport created",
		"transport_id", t.id,
		"router_id", routerID,
		"producer_side", isProducer,
	)

	return ports.TransportInfo{
		ID:             t.id,
		ICEParameters:  iceJSON,
		ICECandidates:  candidatesJSON,
		DTLSParameters: dtlsJSON,
	}, nil
}

// connectParameters is the client half of the ICE/DTLS handshake, carried
// in the connect-transport dtlsParameters blob.
type connectParameters struct {
	ICEParameters webrtc.ICEParameters     `json:"iceParameters"`
	Candidates    []webrtc.ICECandidate    `json:"candidates"`
	Role          string                   `json:"role,omitempty"`
	Fingerprints  []webrtc.DTLSFingerprint `json:"fingerprints"`
}

func (e *PionEngine) ConnectTransport(ctx context.Context, transportID domain.TransportID, dtlsParameters json.RawMessage) error {
	e.mu.RLock()
	t, ok := e.transports[transportID]
	e.mu.RUnlock()
	if !ok {
		return domain.ErrTransportNotFound
	}

	var params connectParameters
	if err := json.Unmarshal(dtlsParameters, &params); err != nil {
		return fmt.Errorf("invalid dtls parameters: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportNotFound
	}
	if t.connected {
		return nil
	}

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, params.ICEParameters, &role); err != nil {
		return fmt.Errorf("ICE start failed: %w", err)
	}
	if len(params.Candidates) > 0 {
		if err := t.ice.SetRemoteCandidates(params.Candidates); err != nil {
			return fmt.Errorf("setting remote candidates failed: %w", err)
		}
	}

	dtlsRole := webrtc.DTLSRoleServer
	if params.Role == "client" {
		dtlsRole = webrtc.DTLSRoleClient
	}
	if err := t.dtls.Start(webrtc.DTLSParameters{
		Role:         dtlsRole,
		Fingerprints: params.Fingerprints,
	}); err != nil {
		return fmt.Errorf("DTLS start failed: %w", err)
	}

	t.connected = true
	e.logger.Infow("transport connected", "transport_id", transportID)
	return nil
}

// produceParameters is the subset of client rtpParameters the engine needs
// to receive the track.
type produceParameters struct {
	Encodings []struct {
		SSRC webrtc.SSRC `json:"ssrc"`
	} `json:"encodings"`
	Codecs []struct {
		MimeType    string `json:"mimeType"`
		PayloadType uint8  `json:"payloadType"`
		ClockRate   uint32 `json:"clockRate"`
	} `json:"codecs"`
}

func (e *PionEngine) CreateProducer(ctx context.Context, transportID domain.TransportID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error) {
	e.mu.RLock()
	t, ok := e.transports[transportID]
	e.mu.RUnlock()
	if !ok {
		return "", domain.ErrTransportNotFound
	}

	var params produceParameters
	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return "", fmt.Errorf("invalid rtp parameters: %w", err)
	}
	if len(params.Encodings) == 0 {
		return "", errors.New("rtp parameters carry no encodings")
	}

	codecType := webrtc.RTPCodecTypeVideo
	mimeType := webrtc.MimeTypeVP8
	clockRate := uint32(90000)
	var channels uint16
	if kind == domain.MediaKindAudio {
		codecType = webrtc.RTPCodecTypeAudio
		mimeType = webrtc.MimeTypeOpus
		clockRate = 48000
		channels = 2
	}
	if len(params.Codecs) > 0 && params.Codecs[0].MimeType != "" {
		mimeType = params.Codecs[0].MimeType
		if params.Codecs[0].ClockRate > 0 {
			clockRate = params.Codecs[0].ClockRate
		}
	}

	receiver, err := e.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return "", fmt.Errorf("failed to create receiver: %w", err)
	}
	ssrc := params.Encodings[0].SSRC
	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{
			{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: ssrc}},
		},
	}); err != nil {
		return "", fmt.Errorf("failed to receive: %w", err)
	}

	p := &producer{
		id:          domain.ProducerID(utils.GenerateProducerID()),
		transportID: transportID,
		kind:        kind,
		mimeType:    mimeType,
		codec:       webrtc.RTPCodecCapability{MimeType: mimeType, ClockRate: clockRate, Channels: channels},
		ssrc:        ssrc,
		receiver:    receiver,
		dtls:        t.dtls,
		outputs:     make(map[domain.ConsumerID]*consumer),
		done:        make(chan struct{}),
	}

	e.mu.Lock()
	e.producers[p.id] = p
	e.mu.Unlock()

	go e.forward(p)

	e.logger.Infow("producer created",
		"producer_id", p.id,
		"transport_id", transportID,
		"kind", kind,
	)
	return p.id, nil
}

// forward copies inbound RTP from the producer's remote track to every
// unpaused consumer until the producer closes.
func (e *PionEngine) forward(p *producer) {
	track := p.receiver.Track()
	buffer := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, _, err := track.Read(buffer)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Debugw("producer read ended", "producer_id", p.id, "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buffer[:n]); err != nil {
			e.logger.Debugw("malformed RTP packet", "producer_id", p.id, "error", err)
			continue
		}

		p.packets.Add(1)
		p.bytes.Add(uint64(n))

		e.fanOut(p, pkt)
	}
}

// fanOut writes one packet to each of the producer's unpaused consumer
// tracks. A write error on one track must not starve the others.
func (e *PionEngine) fanOut(p *producer, pkt *rtp.Packet) {
	p.outputsMu.RLock()
	defer p.outputsMu.RUnlock()

	for _, c := range p.outputs {
		if c.paused.Load() {
			continue
		}
		if err := c.track.WriteRTP(pkt); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				e.logger.Debugw("consumer write failed", "consumer_id", c.id, "error", err)
			}
			continue
		}
		c.packets.Add(1)
	}
}

// consumeCapabilities is the subset of client rtpCapabilities used for the
// compatibility check.
type consumeCapabilities struct {
	Codecs []struct {
		MimeType string `json:"mimeType"`
	} `json:"codecs"`
}

func (e *PionEngine) CreateConsumer(ctx context.Context, transportID domain.TransportID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (*ports.ConsumerInfo, error) {
	e.mu.RLock()
	t, tok := e.transports[transportID]
	p, pok := e.producers[producerID]
	e.mu.RUnlock()
	if !tok {
		return nil, domain.ErrTransportNotFound
	}
	if !pok {
		return nil, domain.ErrProducerNotFound
	}

	var caps consumeCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return nil, fmt.Errorf("invalid rtp capabilities: %w", err)
	}
	// Capability mismatch is a nil consumer, not an error.
	if !canConsume(caps, p.mimeType) {
		return nil, nil
	}

	id := domain.ConsumerID(utils.GenerateConsumerID())
	track, err := webrtc.NewTrackLocalStaticRTP(p.codec, string(id), string(producerID))
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer track: %w", err)
	}
	sender, err := e.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, fmt.Errorf("failed to start sender: %w", err)
	}

	c := &consumer{
		id:          id,
		producerID:  producerID,
		transportID: transportID,
		kind:        p.kind,
		track:       track,
		sender:      sender,
		done:        make(chan struct{}),
	}
	// Consumers start paused; no media reaches the track until the
	// client resumes.
	c.paused.Store(true)

	e.mu.Lock()
	e.consumers[c.id] = c
	e.mu.Unlock()
	p.outputsMu.Lock()
	p.outputs[c.id] = c
	p.outputsMu.Unlock()

	go e.relayFeedback(c, p)

	paramsJSON, err := json.Marshal(sendParams)
	if err != nil {
		return nil, err
	}

	e.logger.Infow("consumer created",
		"consumer_id", c.id,
		"producer_id", producerID,
		"transport_id", transportID,
	)
	return &ports.ConsumerInfo{
		ID:            c.id,
		ProducerID:    producerID,
		Kind:          p.kind,
		RTPParameters: paramsJSON,
		Type:          "simple",
	}, nil
}

func canConsume(caps consumeCapabilities, mimeType string) bool {
	for _, c := range caps.Codecs {
		if c.MimeType == mimeType {
			return true
		}
	}
	return false
}

// relayFeedback forwards keyframe requests from a subscriber up to the
// producing side, so a consumer joining mid-stream gets a decodable
// picture.
func (e *PionEngine) relayFeedback(c *consumer, p *producer) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		packets, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		if c.paused.Load() {
			continue
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(p.ssrc)}
				if _, err := p.dtls.WriteRTCP([]rtcp.Packet{pli}); err != nil {
					e.logger.Debugw("PLI relay failed", "consumer_id", c.id, "error", err)
				}
			}
		}
	}
}

func (e *PionEngine) PauseConsumer(ctx context.Context, consumerID domain.ConsumerID) error {
	e.mu.RLock()
	c, ok := e.consumers[consumerID]
	e.mu.RUnlock()
	if !ok {
		return domain.ErrConsumerNotFound
	}
	c.paused.Store(true)
	return nil
}

func (e *PionEngine) ResumeConsumer(ctx context.Context, consumerID domain.ConsumerID) error {
	e.mu.RLock()
	c, ok := e.consumers[consumerID]
	e.mu.RUnlock()
	if !ok {
		return domain.ErrConsumerNotFound
	}
	c.paused.Store(false)
	return nil
}

func (e *PionEngine) TransportStats(ctx context.Context, transportID domain.TransportID) (json.RawMessage, error) {
	e.mu.RLock()
	t, ok := e.transports[transportID]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrTransportNotFound
	}

	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()

	return json.Marshal(map[string]interface{}{
		"transportId": transportID,
		"connected":   connected,
		"iceState":    t.ice.State().String(),
		"timestamp":   time.Now().Unix(),
	})
}

func (e *PionEngine) ProducerStats(ctx context.Context, producerID domain.ProducerID) (json.RawMessage, error) {
	e.mu.RLock()
	p, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProducerNotFound
	}

	return json.Marshal(map[string]interface{}{
		"producerId": producerID,
		"kind":       p.kind,
		"mimeType":   p.mimeType,
		"packets":    p.packets.Load(),
		"bytes":      p.bytes.Load(),
		"timestamp":  time.Now().Unix(),
	})
}

func (e *PionEngine) ConsumerStats(ctx context.Context, consumerID domain.ConsumerID) (json.RawMessage, error) {
	e.mu.RLock()
	c, ok := e.consumers[consumerID]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrConsumerNotFound
	}

	return json.Marshal(map[string]interface{}{
		"consumerId": consumerID,
		"producerId": c.producerID,
		"kind":       c.kind,
		"paused":     c.paused.Load(),
		"packets":    c.packets.Load(),
		"timestamp":  time.Now().Unix(),
	})
}

// Closes are idempotent: unknown ids are no-ops, per the engine contract.

func (e *PionEngine) CloseProducer(ctx context.Context, producerID domain.ProducerID) error {
	e.mu.Lock()
	p, ok := e.producers[producerID]
	delete(e.producers, producerID)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	p.once.Do(func() { close(p.done) })
	if err := p.receiver.Stop(); err != nil {
		e.logger.Debugw("receiver stop failed", "producer_id", producerID, "error", err)
	}
	e.logger.Infow("producer closed", "producer_id", producerID)
	return nil
}

func (e *PionEngine) CloseConsumer(ctx context.Context, consumerID domain.ConsumerID) error {
	e.mu.Lock()
	c, ok := e.consumers[consumerID]
	delete(e.consumers, consumerID)
	var p *producer
	if ok {
		p = e.producers[c.producerID]
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	if p != nil {
		p.outputsMu.Lock()
		delete(p.outputs, consumerID)
		p.outputsMu.Unlock()
	}

	c.once.Do(func() { close(c.done) })
	if err := c.sender.Stop(); err != nil {
		e.logger.Debugw("sender stop failed", "consumer_id", consumerID, "error", err)
	}
	e.logger.Infow("consumer closed", "consumer_id", consumerID)
	return nil
}

func (e *PionEngine) CloseTransport(ctx context.Context, transportID domain.TransportID) error {
	e.mu.Lock()
	t, ok := e.transports[transportID]
	delete(e.transports, transportID)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	if err := t.dtls.Stop(); err != nil {
		e.logger.Debugw("DTLS stop failed", "transport_id", transportID, "error", err)
	}
	if err := t.ice.Stop(); err != nil {
		e.logger.Debugw("ICE stop failed", "transport_id", transportID, "error", err)
	}
	e.logger.Infow("transport closed", "transport_id", transportID)
	return nil
}

func (e *PionEngine) CloseRouter(ctx context.Context, routerID domain.RouterID) error {
	e.mu.Lock()
	r, ok := e.routers[routerID]
	if ok {
		delete(e.routers, routerID)
		delete(e.streamRouters, r.streamID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	e.logger.Infow("router closed", "router_id", routerID)
	return nil
}

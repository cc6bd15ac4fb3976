package engine

import (
	"context"
	"testing"

	"streamgrid/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newForwardingConsumer(t *testing.T, id domain.ConsumerID, codec webrtc.RTPCodecCapability) *consumer {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(codec, string(id), "test")
	require.NoError(t, err)
	return &consumer{id: id, track: track, done: make(chan struct{})}
}

func TestFanOut_SkipsPausedConsumers(t *testing.T) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	active := newForwardingConsumer(t, "c-active", codec)
	paused := newForwardingConsumer(t, "c-paused", codec)
	paused.paused.Store(true)

	p := &producer{outputs: map[domain.ConsumerID]*consumer{
		active.id: active,
		paused.id: paused,
	}}
	e := &PionEngine{logger: zaptest.NewLogger(t).Sugar()}

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 1}}
	for i := 0; i < 3; i++ {
		e.fanOut(p, pkt)
	}

	assert.EqualValues(t, 3, active.packets.Load())
	assert.EqualValues(t, 0, paused.packets.Load(), "a paused consumer must receive no media")
}

func TestPauseResume_TogglesDelivery(t *testing.T) {
	ctx := context.Background()
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	c := newForwardingConsumer(t, "c1", codec)

	p := &producer{outputs: map[domain.ConsumerID]*consumer{c.id: c}}
	e := &PionEngine{
		consumers: map[domain.ConsumerID]*consumer{c.id: c},
		logger:    zaptest.NewLogger(t).Sugar(),
	}

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2}}
	e.fanOut(p, pkt)
	assert.EqualValues(t, 1, c.packets.Load())

	require.NoError(t, e.PauseConsumer(ctx, c.id))
	e.fanOut(p, pkt)
	assert.EqualValues(t, 1, c.packets.Load(), "no delivery while paused")

	require.NoError(t, e.ResumeConsumer(ctx, c.id))
	e.fanOut(p, pkt)
	assert.EqualValues(t, 2, c.packets.Load())
}

func TestPauseConsumer_UnknownID(t *testing.T) {
	e := &PionEngine{
		consumers: map[domain.ConsumerID]*consumer{},
		logger:    zaptest.NewLogger(t).Sugar(),
	}
	assert.ErrorIs(t, e.PauseConsumer(context.Background(), "nope"), domain.ErrConsumerNotFound)
	assert.ErrorIs(t, e.ResumeConsumer(context.Background(), "nope"), domain.ErrConsumerNotFound)
}

func TestCanConsume(t *testing.T) {
	caps := consumeCapabilities{}
	caps.Codecs = []struct {
		MimeType string `json:"mimeType"`
	}{{MimeType: webrtc.MimeTypeVP8}}

	assert.True(t, canConsume(caps, webrtc.MimeTypeVP8))
	assert.False(t, canConsume(caps, webrtc.MimeTypeOpus))
	assert.False(t, canConsume(consumeCapabilities{}, webrtc.MimeTypeVP8))
}

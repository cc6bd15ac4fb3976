package registry

import (
	"testing"

	"streamgrid/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewSessionRegistry()

	first := r.Register("s1")
	require.NotNil(t, first)
	assert.Equal(t, domain.RoleSubscriber, first.Role)

	r.SetRole("s1", domain.RoleIngest)
	second := r.Register("s1")
	assert.Equal(t, domain.RoleIngest, second.Role, "re-register must keep the existing record")
	assert.Equal(t, 1, r.Count())
}

func TestSessionRegistry_SetRole(t *testing.T) {
	r := NewSessionRegistry()

	assert.False(t, r.SetRole("missing", domain.RoleIngest))

	r.Register("s1")
	assert.True(t, r.SetRole("s1", domain.RoleIngest))
	assert.False(t, r.SetRole("s1", domain.RoleIngest), "ingest promotion happens at most once")
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("s1")

	removed, ok := r.Remove("s1")
	require.True(t, ok)
	assert.Equal(t, domain.SessionID("s1"), removed.ID)

	_, ok = r.Remove("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestStreamDirectory_SnapshotsAreCopies(t *testing.T) {
	d := NewStreamDirectory()

	created := d.Create("demo", "ingest", "", map[string]string{"k": "v"})
	created.Metadata["k"] = "mutated"

	stream, ok := d.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, "v", stream.Metadata["k"], "caller mutation must not reach the stored record")
}

func TestStreamDirectory_ActivateFlipsOnce(t *testing.T) {
	d := NewStreamDirectory()
	stream := d.Create("demo", "ingest", "", nil)

	changed, ok := d.Activate(stream.ID)
	assert.True(t, changed)
	assert.True(t, ok)

	changed, ok = d.Activate(stream.ID)
	assert.False(t, changed, "second activation must report no flip")
	assert.True(t, ok)

	changed, ok = d.Deactivate(stream.ID)
	assert.True(t, changed)
	assert.True(t, ok)

	changed, ok = d.Deactivate(stream.ID)
	assert.False(t, changed)
	assert.True(t, ok)

	_, ok = d.Activate("missing")
	assert.False(t, ok)
}

func TestStreamDirectory_Subscribers(t *testing.T) {
	d := NewStreamDirectory()
	stream := d.Create("demo", "ingest", "", nil)

	assert.True(t, d.AddSubscriber(stream.ID, "a"))
	assert.False(t, d.AddSubscriber(stream.ID, "a"), "set semantics")
	assert.True(t, d.AddSubscriber(stream.ID, "b"))

	assert.True(t, d.RemoveSubscriber(stream.ID, "a"))
	assert.False(t, d.RemoveSubscriber(stream.ID, "a"))

	other := d.Create("other", "ingest2", "", nil)
	d.AddSubscriber(other.ID, "b")

	changed := d.RemoveSubscriberEverywhere("b")
	assert.ElementsMatch(t, []domain.StreamID{stream.ID, other.ID}, changed)
}

func TestStreamDirectory_ListActive(t *testing.T) {
	d := NewStreamDirectory()
	active := d.Create("active", "i1", "", nil)
	d.Create("idle", "i2", "", nil)
	d.Activate(active.ID)

	assert.Len(t, d.ListActive(), 1)
	assert.Len(t, d.ListAll(), 2)
}

func TestStreamDirectory_MergeMetadata(t *testing.T) {
	d := NewStreamDirectory()
	stream := d.Create("demo", "ingest", "", map[string]string{"a": "1", "b": "2"})

	require.True(t, d.MergeMetadata(stream.ID, map[string]string{"b": "3", "c": "4"}))

	got, ok := d.Get(stream.ID)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, got.Metadata)
}

func TestStreamDirectory_GetByIngestSession(t *testing.T) {
	d := NewStreamDirectory()
	stream := d.Create("demo", "ingest", "", nil)

	got, ok := d.GetByIngestSession("ingest")
	require.True(t, ok)
	assert.Equal(t, stream.ID, got.ID)

	_, ok = d.GetByIngestSession("nobody")
	assert.False(t, ok)
}

func TestResourceGraph_TransportSupersede(t *testing.T) {
	g := NewResourceGraph()

	prev := g.RecordProducerTransport("s1", "stream", "t1")
	assert.Empty(t, prev)

	prev = g.RecordProducerTransport("s1", "stream", "t2")
	assert.Equal(t, domain.TransportID("t1"), prev)

	assert.True(t, g.HasProducerTransport("s1", "stream"))
	assert.False(t, g.HasConsumerTransport("s1", "stream"))
}

func TestResourceGraph_ProducerCountSpansSessions(t *testing.T) {
	g := NewResourceGraph()

	g.AppendProducer("s1", "stream", "p1")
	g.AppendProducer("s1", "stream", "p2")
	g.AppendProducer("s2", "stream", "p3")
	g.AppendProducer("s1", "other", "p4")

	assert.Equal(t, 3, g.ProducerCount("stream"))
	assert.ElementsMatch(t, []domain.ProducerID{"p1", "p2"}, g.Producers("s1", "stream"))
	assert.Nil(t, g.Producers("nobody", "stream"))
}

func TestResourceGraph_FindIngestSessionFor(t *testing.T) {
	g := NewResourceGraph()

	_, ok := g.FindIngestSessionFor("stream")
	assert.False(t, ok)

	// A consumer transport alone does not make a session the ingest.
	g.RecordConsumerTransport("viewer", "stream", "ct")
	_, ok = g.FindIngestSessionFor("stream")
	assert.False(t, ok)

	g.RecordProducerTransport("owner", "stream", "pt")
	session, ok := g.FindIngestSessionFor("stream")
	require.True(t, ok)
	assert.Equal(t, domain.SessionID("owner"), session)
}

func TestResourceGraph_ReleaseAll(t *testing.T) {
	g := NewResourceGraph()

	g.RecordProducerTransport("s1", "stream", "pt")
	g.RecordConsumerTransport("s1", "stream", "ct")
	g.AppendProducer("s1", "stream", "p1")
	g.AppendConsumer("s1", "stream", "c1")

	released := g.ReleaseAll("s1")
	assert.Equal(t, []domain.ProducerID{"p1"}, released.Producers)
	assert.Equal(t, []domain.ConsumerID{"c1"}, released.Consumers)
	assert.ElementsMatch(t, []domain.TransportID{"pt", "ct"}, released.Transports)
	assert.Equal(t, []domain.StreamID{"stream"}, released.ProducerStreams)

	// Everything is gone; a second release returns nothing.
	assert.True(t, g.ReleaseAll("s1").Empty())
	assert.False(t, g.HasProducerTransport("s1", "stream"))
}

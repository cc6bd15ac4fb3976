package domain

import "time"

// Stream is a logical broadcast independent of any transport or producer.
// The record outlives deactivation so "no current broadcaster" can be told
// apart from "stream never existed"; it disappears only on explicit delete.
type Stream struct {
	ID              StreamID
	Name            string
	Description     string
	Metadata        map[string]string
	CreatedAt       time.Time
	Active          bool
	IngestSessionID SessionID
	RouterID        RouterID
	Subscribers     map[SessionID]struct{}
}

// SubscriberIDs returns the current subscriber set as a slice.
func (s *Stream) SubscriberIDs() []SessionID {
	ids := make([]SessionID, 0, len(s.Subscribers))
	for id := range s.Subscribers {
		ids = append(ids, id)
	}
	return ids
}

// StreamSummary is the external view of a stream used by get-streams,
// get-stream and the REST surface.
type StreamSummary struct {
	ID              StreamID  `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	SubscriberCount int       `json:"subscriberCount"`
}

// Summary builds the external view from the live record.
func (s *Stream) Summary() StreamSummary {
	return StreamSummary{
		ID:              s.ID,
		Name:            s.Name,
		Description:     s.Description,
		Active:          s.Active,
		CreatedAt:       s.CreatedAt,
		SubscriberCount: len(s.Subscribers),
	}
}

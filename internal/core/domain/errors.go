package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrStreamNotFound    = errors.New("stream not found")
	ErrRouterNotFound    = errors.New("router not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrIngestNotFound    = errors.New("ingest session not found for stream")
	ErrStreamInactive    = errors.New("stream is not active")
	ErrAlreadyIngest     = errors.New("session already registered as ingest")
	ErrCannotConsume     = errors.New("cannot consume producer with given capabilities")
)

package utils

import (
	"github.com/google/uuid"
)

// GenerateSessionID generates a unique session ID.
func GenerateSessionID() string {
	return uuid.NewString()
}

// GenerateStreamID generates a unique stream ID.
func GenerateStreamID() string {
	return uuid.NewString()
}

// GenerateRouterID generates a unique router ID.
func GenerateRouterID() string {
	return uuid.NewString()
}

// GenerateTransportID generates a unique transport ID.
func GenerateTransportID() string {
	return uuid.NewString()
}

// GenerateProducerID generates a unique producer ID.
func GenerateProducerID() string {
	return uuid.NewString()
}

// GenerateConsumerID generates a unique consumer ID.
func GenerateConsumerID() string {
	return uuid.NewString()
}

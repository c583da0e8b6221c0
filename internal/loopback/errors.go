package loopback

import "errors"

var (
	ErrInvalidChannel       = errors.New("invalid channel")
	ErrEndpointInUse        = errors.New("endpoint already in use")
	ErrPublicationClosed    = errors.New("publication closed")
	ErrPayloadTooLarge      = errors.New("payload exceeds max payload length")
	ErrUnknownSession       = errors.New("no publication for session")
	ErrUnknownRecording     = errors.New("unknown recording")
	ErrRecordingActive      = errors.New("session already being recorded")
	ErrPositionOutOfRange   = errors.New("position outside recording")
	ErrUnknownReplaySession = errors.New("unknown replay session")
	ErrDestinationExists    = errors.New("destination already added")
	ErrUnknownDestination   = errors.New("unknown destination")
)

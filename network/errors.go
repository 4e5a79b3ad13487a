package network

import "errors"

var (
	// ErrFrameTooLarge is returned by the framer when a connection
	// accumulates more bytes than allowed without completing a JSON value.
	// It is fatal to the connection.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrDecode marks a framed text that is not valid JSON. The message is
	// dropped; the connection survives.
	ErrDecode = errors.New("malformed message text")

	// ErrUnknownKind marks a message whose kind is missing or unrecognized.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrQueueFull is returned by Peer.Send when the outbound queue is full.
	ErrQueueFull = errors.New("peer send queue full")

	// ErrPeerClosed is returned when sending on a closed connection.
	ErrPeerClosed = errors.New("peer connection closed")
)

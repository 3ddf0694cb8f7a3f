package queue

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed dispatch message")
	ErrNotConnected     = errors.New("rabbitmq channel is not initialized")
)

package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInactive      = errors.New("outside active hours")
)

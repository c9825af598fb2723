package chat

import "errors"

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrNotSessionOwner = errors.New("not the owner of this chat session")
	ErrSessionClosed   = errors.New("chat session is closed")
	ErrClassroomAccess = errors.New("not a member of this classroom")
	ErrEmptyMessage    = errors.New("message content is required")
)

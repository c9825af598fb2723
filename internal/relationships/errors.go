package relationships

import "errors"

var (
	ErrSelfLink        = errors.New("cannot link a user to themselves")
	ErrDuplicateLink   = errors.New("an open link already exists between these users")
	ErrRoleMismatch    = errors.New("user roles do not match the link kind")
	ErrInvalidLinkType = errors.New("invalid link type for kind")
	ErrUserNotFound    = errors.New("user not found")
	ErrLinkNotFound    = errors.New("link not found")
	ErrNotInvitee      = errors.New("only the invitee can respond")
	ErrNotPending      = errors.New("link is not pending")
	ErrBlockNotAllowed = errors.New("only student links can be blocked")
	ErrNotParticipant  = errors.New("user is not part of this link")
	ErrInvalidAction   = errors.New("invalid response action")
)

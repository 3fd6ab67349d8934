package collab

import "errors"

var (
	// ErrImageLocked rejects an assignment attempt against an unexpired
	// lock held by someone else.
	ErrImageLocked = errors.New("image locked by another user")

	// ErrNotOwner rejects release attempts by anyone but the current
	// assignee. It is a rejection value, never a panic.
	ErrNotOwner = errors.New("assignment held by another user")

	// ErrProjectFull denies occupancy admission once the concurrent user
	// cap is reached.
	ErrProjectFull = errors.New("max_users_reached")
)

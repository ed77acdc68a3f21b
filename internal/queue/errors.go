package queue

import "errors"

var (
	// ErrItemNotFound indicates the requested queue item does not exist.
	ErrItemNotFound = errors.New("queue item not found")
	// ErrAlreadyQueued indicates an item for the same webhook attachment exists.
	ErrAlreadyQueued = errors.New("attachment already queued")
	// ErrNotClaimed indicates the conditional queued->processing update
	// matched no row, meaning another claimer won or the item moved on.
	ErrNotClaimed = errors.New("item not claimed")
)

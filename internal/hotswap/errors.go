package hotswap

import "errors"

var (
	// ErrDisabled is returned by Start when hot swapping is switched off.
	ErrDisabled = errors.New("hotswap: disabled")
	// ErrWatchFailure is returned by Start when no root can be watched.
	ErrWatchFailure = errors.New("hotswap: watcher unavailable")
	// ErrIllegalState is returned when a reload step cannot proceed.
	ErrIllegalState = errors.New("hotswap: illegal state")
	// ErrDuplicateID is returned when registering an id that is already taken.
	ErrDuplicateID = errors.New("hotswap: duplicate component id")
	// ErrUnknownID is returned for ids that are not registered.
	ErrUnknownID = errors.New("hotswap: unknown component id")
)

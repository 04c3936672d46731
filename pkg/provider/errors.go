package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID reports two enabled entries sharing an id. Match it
	// with errors.Is; errors.As with *DuplicateIDError yields the id.
	ErrDuplicateID = errors.New("duplicate provider id")
	// ErrUnknownType reports an entry whose type has no registration.
	ErrUnknownType = errors.New("unknown provider type")
	// ErrConstructTimeout reports a constructor that exceeded its time bound.
	ErrConstructTimeout = errors.New("provider construction timed out")
	// ErrInvalidState reports a lifecycle call made in the wrong state.
	ErrInvalidState = errors.New("invalid provider manager state")
	// ErrProviderNotFound reports a lookup of an id with no live instance.
	ErrProviderNotFound = errors.New("provider not found")
)

// DuplicateIDError names the id shared by two enabled entries.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate provider id %q among enabled providers", e.ID)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrDuplicateID
}

package playlist

import (
	"errors"
	"fmt"
)

var (
	ErrEmpty     = errors.New("playlist is empty")
	ErrNoEntries = errors.New("no entries could be added")
	ErrPosition  = errors.New("position out of range")
	ErrTooLong   = errors.New("entry exceeds the maximum duration")
)

// WrongEntryKindError is returned when a collection is added as a single
// entry. CorrectedRef is the reference to add in bulk instead.
type WrongEntryKindError struct {
	Ref          string
	CorrectedRef string
}

func (e *WrongEntryKindError) Error() string {
	return fmt.Sprintf("%s is a collection, add %s in bulk instead", e.Ref, e.CorrectedRef)
}

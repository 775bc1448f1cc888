package bus

// Track is the view of a queued entry carried by events. Handlers that need
// the concrete entry type-assert it.
type Track interface {
	EntryID() string
	DisplayTitle() string
}

type EntryAddedEvent struct {
	Track    Track
	Position int
}

type EntryFailedEvent struct {
	Track Track
	Err   error
}

type PlayEvent struct{ Track Track }

type ResumeEvent struct{ Track Track }

type PauseEvent struct{ Track Track }

type StopEvent struct{}

type FinishedPlayingEvent struct {
	Track Track
	Err   error
}

func (EntryAddedEvent) Kind() Kind      { return EntryAdded }
func (EntryFailedEvent) Kind() Kind     { return EntryFailed }
func (PlayEvent) Kind() Kind            { return Play }
func (ResumeEvent) Kind() Kind          { return Resume }
func (PauseEvent) Kind() Kind           { return Pause }
func (StopEvent) Kind() Kind            { return Stop }
func (FinishedPlayingEvent) Kind() Kind { return FinishedPlaying }

func (EntryAddedEvent) sealed()      {}
func (EntryFailedEvent) sealed()     {}
func (PlayEvent) sealed()            {}
func (ResumeEvent) sealed()          {}
func (PauseEvent) sealed()           {}
func (StopEvent) sealed()            {}
func (FinishedPlayingEvent) sealed() {}

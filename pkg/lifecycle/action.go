package lifecycle

import "fmt"

// Action is one of the three lifecycle transitions.
type Action int

const (
	Load Action = iota
	Unload
	Reload
)

func (a Action) String() string {
	switch a {
	case Load:
		return "load"
	case Unload:
		return "unload"
	case Reload:
		return "reload"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Past returns the past participle used in summaries: "loaded", "unloaded", "reloaded".
func (a Action) Past() string {
	return a.String() + "ed"
}

// Status is the explicit result of one engine call.
type Status int

const (
	StatusOK Status = iota
	StatusAlreadyLoaded
	StatusNotLoaded
	StatusHookFailed
	StatusNotRegistered
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAlreadyLoaded:
		return "already_loaded"
	case StatusNotLoaded:
		return "not_loaded"
	case StatusHookFailed:
		return "hook_failed"
	case StatusNotRegistered:
		return "not_registered"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome describes what happened to one unit.
type Outcome struct {
	Name   string
	Action Action
	Status Status
	// Err is nil only when Status is StatusOK.
	Err error
	// FellBack is set when a reload of an absent unit was performed as a load.
	FellBack bool
}

func (o Outcome) Succeeded() bool {
	return o.Status == StatusOK
}

// Message returns the error text, or "" on success.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

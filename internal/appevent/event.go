package appevent

// Event is one lifecycle signal. The concrete variants below are the
// only implementations; subscribers type-switch on them.
type Event interface {
	event()
}

// FocusGained fires when the hosting window regains input focus.
type FocusGained struct{}

// FocusLost fires when the hosting window loses input focus.
type FocusLost struct{}

// VisibilityChanged fires when the page is hidden or shown again.
type VisibilityChanged struct {
	Visible bool
}

// LocationChanged fires when the location string of the workspace
// changes, for example after following a shared link.
type LocationChanged struct {
	Location string
}

func (FocusGained) event()       {}
func (FocusLost) event()         {}
func (VisibilityChanged) event() {}
func (LocationChanged) event()   {}

// Package platform defines the contracts a meeting-provider integration
// must implement. Concrete adapters drive the provider's UI (selectors,
// click sequences, waiting-room detection) and are maintained separately;
// the bot core only consumes these interfaces.
package platform

// Speaker identifies a meeting participant currently producing audio.
type Speaker struct {
	ID    string
	Label string
}

// Adapter is the per-provider join/leave surface consumed by the bot
// lifecycle. All operations may fail; only Join and admission failures are
// fatal to the session.
type Adapter interface {
	// Join navigates into the meeting. A returned error is retryable
	// (for example the host has not started the meeting yet); the caller
	// owns the retry budget.
	Join() error

	// CheckAdmissionSilent reports whether the bot has been admitted from
	// the waiting room. It must not mutate UI state. A RejectionError is
	// returned when the provider shows a removal or denial notice.
	CheckAdmissionSilent() (bool, error)

	// Prepare dismisses transient UI obstacles and joins meeting audio.
	// Best effort: errors are logged by the caller, never fatal.
	Prepare() error

	// StartRemovalMonitor begins watching for involuntary removal or
	// meeting termination, invoking onRemoved once when detected. The
	// returned function stops the monitor and is safe to call more than
	// once.
	StartRemovalMonitor(onRemoved func()) (stop func())

	// Leave exits the meeting. Returns false when the UI flow could not be
	// completed; the caller treats that as non-fatal.
	Leave(reason string) bool
}

// SpeakerDetector reports the participant currently speaking, read from
// the provider's participant UI.
type SpeakerDetector interface {
	// ActiveSpeaker returns the current speaker, or ok=false when nobody
	// is speaking.
	ActiveSpeaker() (Speaker, bool)
}

// RejectionError marks an admission check that failed because the provider
// explicitly denied or removed the bot, as opposed to still waiting.
type RejectionError struct {
	Notice string
}

func (e *RejectionError) Error() string {
	if e.Notice == "" {
		return "admission rejected"
	}
	return "admission rejected: " + e.Notice
}

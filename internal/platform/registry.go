package platform

import (
	"fmt"
	"sort"
	"sync"
)

// AdapterFactory builds an adapter for one meeting. meetingURL is the join
// URL; botName is the display name to use.
type AdapterFactory func(meetingURL, botName string) (Adapter, error)

var (
	registryMu sync.Mutex
	registry   = map[string]AdapterFactory{}
)

// Register installs an adapter factory for a platform name. Adapter
// packages call this from init.
func Register(name string, factory AdapterFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New builds the adapter registered for the platform name.
func New(name, meetingURL, botName string) (Adapter, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q (have %v)", name, Names())
	}
	return factory(meetingURL, botName)
}

// Names lists the registered platform names.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChatObserver is an optional adapter capability: watching the meeting
// chat and reporting each message.
type ChatObserver interface {
	StartChatMonitor(onMessage func(sender, text string)) (stop func())
}

// NoopDetector is a SpeakerDetector that never reports a speaker, used
// when an adapter offers no speaker information.
type NoopDetector struct{}

// ActiveSpeaker implements SpeakerDetector.
func (NoopDetector) ActiveSpeaker() (Speaker, bool) {
	return Speaker{}, false
}

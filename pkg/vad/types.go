package vad

// Edge represents a transition of the analyzer's boolean speaking signal.
// While the signal is unchanged no edge is emitted.
type Edge int

const (
	// EdgeNone means the speaking signal did not change on this tick.
	EdgeNone Edge = iota

	// EdgeSpeechStart means the signal transitioned silent → speaking.
	EdgeSpeechStart

	// EdgeSpeechEnd means the signal transitioned speaking → silent.
	EdgeSpeechEnd
)

// String returns the human-readable name of the edge.
func (e Edge) String() string {
	switch e {
	case EdgeNone:
		return "none"
	case EdgeSpeechStart:
		return "speech-start"
	case EdgeSpeechEnd:
		return "speech-end"
	default:
		return "unknown"
	}
}

package chat

import "errors"

// ErrBusy is returned when a turn entry point is invoked while another turn
// is still in flight. Single-flight: the second entry is rejected, never
// queued.
var ErrBusy = errors.New("chat: a turn is already being processed")

// ErrEmptyTranscript is returned when the backend transcribes an utterance to
// nothing. This is a soft outcome, not a failure: no turns are appended and
// the caller may try again immediately.
var ErrEmptyTranscript = errors.New("chat: transcription was empty")

// ErrNoText is returned when a text submission is empty or whitespace-only.
var ErrNoText = errors.New("chat: text must not be empty")

// Package backend defines the boundary to the conversational AI backend.
// The relay and the chat responder depend only on these interfaces; the
// concrete implementation lives in pkg/backend/gemini.
package backend

import "context"

// EventType discriminates inbound live-session events.
type EventType string

const (
	EventAudioChunk   EventType = "audio_chunk"
	EventTurnComplete EventType = "turn_complete"
	EventError        EventType = "error"
)

// Event is one inbound event from a live backend session.
// Data is set for EventAudioChunk; Err is set for EventError.
type Event struct {
	Type EventType
	Data []byte
	Err  *Error
}

// Session is one open bidirectional exchange with the backend.
//
// Send calls preserve ordering. Events yields an event stream that ends when
// the underlying exchange ends or errors; it is not restartable. Close is
// idempotent and releases backend resources on every exit path.
type Session interface {
	Send(chunk []byte, finalTurn bool) error
	Events() <-chan Event
	Close() error
}

// SessionOpener establishes live sessions. The priming instruction is
// transmitted as a completed turn before any audio is sent.
type SessionOpener interface {
	Open(ctx context.Context, instruction string) (Session, error)
}

// Generator produces a single non-streaming text completion.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

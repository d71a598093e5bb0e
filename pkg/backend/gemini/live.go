package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/insightify/voice-gateway/pkg/backend"
)

// Open establishes a live exchange and transmits the priming instruction as a
// completed turn before any audio.
func (c *Client) Open(ctx context.Context, instruction string) (backend.Session, error) {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.voice},
			},
		},
	}
	sess, err := c.genai.Live.Connect(ctx, c.liveModel, cfg)
	if err != nil {
		return nil, classify(err, "live connect")
	}

	if instruction != "" {
		err := sess.SendClientContent(genai.LiveClientContentInput{
			Turns:        []*genai.Content{genai.NewContentFromText(instruction, genai.RoleUser)},
			TurnComplete: genai.Ptr(true),
		})
		if err != nil {
			_ = sess.Close()
			return nil, classify(err, "send instruction")
		}
	}

	ls := &liveSession{
		sess:   sess,
		events: make(chan backend.Event, 64),
		done:   make(chan struct{}),
		logger: c.logger.With("live_model", c.liveModel),
	}
	go ls.receiveLoop()
	return ls, nil
}

type liveSession struct {
	sess   *genai.Session
	events chan backend.Event
	done   chan struct{}
	logger *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

func (s *liveSession) Send(chunk []byte, finalTurn bool) error {
	if s.closed.Load() {
		return &backend.Error{Kind: backend.KindInternal, Message: "send on closed session"}
	}
	if len(chunk) > 0 {
		err := s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{Data: chunk, MIMEType: audioMIMEType},
		})
		if err != nil {
			return classify(err, "send audio")
		}
	}
	if finalTurn {
		err := s.sess.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
		if err != nil {
			return classify(err, "end audio stream")
		}
	}
	return nil
}

func (s *liveSession) Events() <-chan backend.Event {
	return s.events
}

func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		_ = s.sess.Close()
	})
	return nil
}

// emit delivers one event unless the session has been closed. The relay can
// stop draining before Receive unwinds, so a plain channel send could wedge
// this goroutine.
func (s *liveSession) emit(ev backend.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *liveSession) receiveLoop() {
	defer close(s.events)
	for {
		msg, err := s.sess.Receive()
		if err != nil {
			if isNormalEnd(err) || s.closed.Load() {
				return
			}
			cls := classify(err, "receive")
			var be *backend.Error
			errors.As(cls, &be)
			s.emit(backend.Event{Type: backend.EventError, Err: be})
			return
		}
		if msg == nil || msg.ServerContent == nil {
			continue
		}
		if turn := msg.ServerContent.ModelTurn; turn != nil {
			for _, part := range turn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				if !s.emit(backend.Event{Type: backend.EventAudioChunk, Data: part.InlineData.Data}) {
					return
				}
			}
		}
		if msg.ServerContent.TurnComplete {
			if !s.emit(backend.Event{Type: backend.EventTurnComplete}) {
				return
			}
		}
	}
}

func isNormalEnd(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

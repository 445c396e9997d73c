package model

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Realtime protocol event types.
const (
	typeSessionUpdate    = "session.update"
	typeInputAppend      = "input_audio_buffer.append"
	typeInputCommit      = "input_audio_buffer.commit"
	typeResponseCreate   = "response.create"
	typeResponseCancel   = "response.cancel"
	typeResponseCreated  = "response.created"
	typeAudioDelta       = "response.audio.delta"
	typeAudioDone        = "response.audio.done"
	typeTranscriptDelta  = "response.audio_transcript.delta"
	typeInputTranscribed = "conversation.item.input_audio_transcription.completed"
	typeError            = "error"
)

// RealtimeConfig configures the websocket model session.
type RealtimeConfig struct {
	// URL is the realtime endpoint, including the model query parameter.
	URL string `yaml:"url" json:"url"`

	APIKey       string `yaml:"api_key" json:"api_key"`
	Voice        string `yaml:"voice,omitempty" json:"voice,omitempty"`
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

func (c *RealtimeConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("model: realtime url is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("model: realtime api_key is required")
	}
	return nil
}

// RealtimeDialer opens websocket sessions against a realtime endpoint.
type RealtimeDialer struct {
	cfg RealtimeConfig
}

// NewRealtimeDialer creates a dialer for the configured endpoint.
func NewRealtimeDialer(cfg RealtimeConfig) (*RealtimeDialer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &RealtimeDialer{cfg: cfg}, nil
}

// Dial implements Dialer.
func (d *RealtimeDialer) Dial(ctx context.Context) (Stream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("model: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("model: dial: %w", err)
	}

	s := newRealtimeStream(conn)
	if err := s.configure(d.cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// realtimeStream is one live websocket session.
type realtimeStream struct {
	conn   *websocket.Conn
	events chan Event

	mu        sync.Mutex // serializes writes
	closeOnce sync.Once
}

func newRealtimeStream(conn *websocket.Conn) *realtimeStream {
	s := &realtimeStream{
		conn:   conn,
		events: make(chan Event, 64),
	}
	go s.readLoop()
	return s
}

func (s *realtimeStream) configure(cfg RealtimeConfig) error {
	session := map[string]any{
		"modalities":          []string{"audio", "text"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": nil,
	}
	if cfg.Voice != "" {
		session["voice"] = cfg.Voice
	}
	if cfg.Instructions != "" {
		session["instructions"] = cfg.Instructions
	}
	return s.sendEvent(map[string]any{
		"type":    typeSessionUpdate,
		"session": session,
	})
}

// AppendAudio implements Stream.
func (s *realtimeStream) AppendAudio(pcm []byte) error {
	return s.sendEvent(map[string]any{
		"type":  typeInputAppend,
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitInput implements Stream.
func (s *realtimeStream) CommitInput() error {
	if err := s.sendEvent(map[string]any{"type": typeInputCommit}); err != nil {
		return err
	}
	return s.sendEvent(map[string]any{"type": typeResponseCreate})
}

// CancelResponse implements Stream.
func (s *realtimeStream) CancelResponse() error {
	return s.sendEvent(map[string]any{"type": typeResponseCancel})
}

// Events implements Stream.
func (s *realtimeStream) Events() <-chan Event {
	return s.events
}

// Close implements Stream.
func (s *realtimeStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *realtimeStream) sendEvent(event map[string]any) error {
	event["event_id"] = "evt_" + uuid.NewString()[:12]
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("model: send %v: %w", event["type"], err)
	}
	return nil
}

// serverEvent is the subset of protocol fields the reducer needs.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// readLoop reduces protocol events to the relay's event set. It owns the
// events channel and closes it on exit.
func (s *realtimeStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.emit(Event{Type: EventError, Err: fmt.Errorf("model: read: %w", err)})
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.emit(Event{Type: EventError, Err: fmt.Errorf("model: malformed event: %w", err)})
			return
		}

		switch ev.Type {
		case typeResponseCreated:
			s.emit(Event{Type: EventProcessingStarted})
		case typeAudioDelta:
			audio, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil {
				s.emit(Event{Type: EventError, Err: fmt.Errorf("model: audio delta: %w", err)})
				return
			}
			s.emit(Event{Type: EventAudioDelta, Audio: audio})
		case typeAudioDone:
			s.emit(Event{Type: EventAudioDone})
		case typeTranscriptDelta:
			s.emit(Event{Type: EventAssistantTranscript, Text: ev.Delta})
		case typeInputTranscribed:
			s.emit(Event{Type: EventUserTranscript, Text: ev.Transcript})
		case typeError:
			msg := "model error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			s.emit(Event{Type: EventError, Err: fmt.Errorf("model: %s", msg)})
			return
		}
	}
}

// emit drops events when the consumer lags rather than blocking the read
// loop; an audio hiccup is preferable to a stalled transport.
func (s *realtimeStream) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

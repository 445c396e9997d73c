package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenkind/sona/pkg/anim"
	"github.com/lumenkind/sona/pkg/audio/feature"
	"github.com/lumenkind/sona/pkg/audio/gate"
	"github.com/lumenkind/sona/pkg/model"
	"github.com/lumenkind/sona/pkg/session"
	"github.com/lumenkind/sona/pkg/therapy"
)

// conn is one live client connection. It owns a feature extractor, one
// smoother per audio source, a voice activity detector, and an animation
// state machine. None of these are shared across connections.
type conn struct {
	ws  *websocket.Conn
	srv *Server
	log *slog.Logger

	machine   *anim.Machine
	extractor *feature.Extractor

	// featureMu guards the smoothers and detector: the read loop (user
	// audio), the model loop (model audio), and the frame pump all touch
	// them.
	featureMu sync.Mutex
	userSm    *gate.Smoother
	modelSm   *gate.Smoother
	detector  *gate.Detector

	// out serializes all websocket writes through writeLoop.
	out    chan any
	closed chan struct{}

	mu         sync.Mutex
	stream     model.Stream
	ingress    *WebRTCIngress
	sessionID  string
	userID     string
	transcript strings.Builder
}

func newConn(ws *websocket.Conn, srv *Server) (*conn, error) {
	extractor, err := feature.New(feature.Config{
		SampleRate:        srv.cfg.SampleRate,
		Gain:              1.0,
		MaxAmplitude:      1.0,
		BaselineAmplitude: 0.08,
	})
	if err != nil {
		return nil, err
	}
	baseline := extractor.Baseline()
	userSm, err := gate.NewSmoother(gate.DefaultConfig(baseline))
	if err != nil {
		return nil, err
	}
	modelSm, err := gate.NewSmoother(gate.DefaultConfig(baseline))
	if err != nil {
		return nil, err
	}
	machine, err := anim.NewMachine(anim.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &conn{
		ws:        ws,
		srv:       srv,
		log:       srv.log.With("remote", ws.RemoteAddr().String()),
		machine:   machine,
		extractor: extractor,
		userSm:    userSm,
		modelSm:   modelSm,
		detector:  gate.NewDetector(gate.DefaultDetectorConfig()),
		out:       make(chan any, 64),
		closed:    make(chan struct{}),
	}, nil
}

// run drives the connection until the client disconnects or ctx ends.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writeLoop(ctx)
	go c.pump(ctx)

	c.readLoop(ctx)

	close(c.closed)
	c.machine.Close()
	c.closeStream()
	c.closeIngress()
	c.finalizeSession(context.WithoutCancel(ctx))
}

// readLoop handles client messages: JSON requests and binary audio.
func (c *conn) readLoop(ctx context.Context) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read ended", "error", err)
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			c.handleUserAudio(data)
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.send(Response{Type: TypeResponse, Success: false, Error: "invalid request, please check your input"})
				continue
			}
			c.handleRequest(ctx, msg)
		}
	}
}

// writeLoop is the single websocket writer.
func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// send enqueues an outbound message, dropping it if the writer is
// saturated. Responses matter more than frames, but a stalled client
// must never block the audio path.
func (c *conn) send(msg any) {
	select {
	case c.out <- msg:
	default:
	}
}

// pump emits feature frames at the render cadence and forwards state
// machine transitions. Poll runs here, so error recovery advances even
// when no events arrive.
func (c *conn) pump(ctx context.Context) {
	ticker := time.NewTicker(c.srv.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-c.machine.Transitions():
			if !ok {
				return
			}
			c.send(TransitionNote{Type: TypeTransition, From: tr.From, To: tr.To, At: tr.At})
		case <-ticker.C:
			c.machine.Poll()
			state := c.machine.State()
			c.featureMu.Lock()
			vec := c.userSm.Current()
			if state == anim.StateSpeaking {
				vec = c.modelSm.Current()
			}
			c.featureMu.Unlock()
			c.send(Frame{
				Type:            TypeFrame,
				Vector:          vec,
				State:           state,
				MinTransitionMs: c.machine.MinTransition().Milliseconds(),
				At:              time.Now(),
			})
		}
	}
}

// handleUserAudio feeds one chunk of microphone PCM through the feature
// pipeline and voice activity detection, and forwards it to the model.
func (c *conn) handleUserAudio(pcm []byte) {
	raw := c.extractor.ExtractInt16(pcm)

	c.featureMu.Lock()
	c.userSm.Process(raw)
	changed := c.detector.Observe(raw.Amplitude)
	active := c.detector.Active()
	c.featureMu.Unlock()

	stream := c.currentStream()
	if changed {
		if active {
			// Barge-in: interrupt model speech before switching to
			// listening.
			if c.machine.State() == anim.StateSpeaking && stream != nil {
				if err := stream.CancelResponse(); err != nil {
					c.log.Debug("cancel response", "error", err)
				}
			}
			c.machine.VoiceActivity()
		} else {
			c.machine.VoiceCeased()
			if stream != nil {
				if err := stream.CommitInput(); err != nil {
					c.log.Warn("commit input", "error", err)
					c.machine.Fail()
				}
			}
		}
	}

	if active && stream != nil {
		if err := stream.AppendAudio(pcm); err != nil {
			c.log.Warn("forward audio", "error", err)
			c.machine.Fail()
		}
	}
}

// modelLoop consumes the model event stream for one session.
func (c *conn) modelLoop(stream model.Stream) {
	speaking := false
	for ev := range stream.Events() {
		switch ev.Type {
		case model.EventProcessingStarted:
			c.machine.ProcessingStarted()
		case model.EventAudioDelta:
			if !speaking {
				speaking = true
				c.machine.ModelAudioStarted()
			}
			raw := c.extractor.ExtractInt16(ev.Audio)
			c.featureMu.Lock()
			c.modelSm.Process(raw)
			c.featureMu.Unlock()
		case model.EventAudioDone:
			speaking = false
			c.machine.ModelAudioEnded()
			c.featureMu.Lock()
			c.modelSm.Reset()
			c.featureMu.Unlock()
		case model.EventUserTranscript:
			c.appendTranscript("user", ev.Text)
		case model.EventAssistantTranscript:
			c.appendTranscript("assistant", ev.Text)
		case model.EventError:
			c.log.Error("model stream failed", "error", ev.Err)
			c.machine.Fail()
			return
		}
	}
}

func (c *conn) appendTranscript(role, text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.WriteString(role)
	c.transcript.WriteString(": ")
	c.transcript.WriteString(text)
	c.transcript.WriteString("\n")
}

func (c *conn) assembledTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.String()
}

func (c *conn) currentStream() model.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// attachIngress accepts a WebRTC microphone offer for this connection.
// Decoded audio feeds handleUserAudio exactly like binary websocket
// frames. A second offer replaces the first.
func (c *conn) attachIngress(offerSDP string) (string, error) {
	ingress, err := NewWebRTCIngress(c.srv.cfg.SampleRate, c.handleUserAudio, c.log)
	if err != nil {
		return "", err
	}
	answer, err := ingress.HandleOffer(offerSDP)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	old := c.ingress
	c.ingress = ingress
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return answer, nil
}

func (c *conn) closeIngress() {
	c.mu.Lock()
	ingress := c.ingress
	c.ingress = nil
	c.mu.Unlock()
	if ingress != nil {
		ingress.Close()
	}
}

func (c *conn) closeStream() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// finalizeSession runs when the connection drops with a session still
// open. The record is left for the abandon sweeper rather than completed
// with data the client never confirmed.
func (c *conn) finalizeSession(ctx context.Context) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return
	}
	c.srv.deregister(sessionID, c)
	c.log.Info("connection dropped with open session", "session", sessionID)
}

// handleRequest dispatches one JSON request.
func (c *conn) handleRequest(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case TypeStartSession:
		c.handleStart(ctx, msg)
	case TypeCompleteSession:
		c.handleComplete(ctx, msg)
	case TypeGetUserContext:
		c.handleUserContext(ctx, msg)
	case TypeGetDashboard:
		c.handleDashboard(ctx, msg)
	case TypeEndTurn:
		if stream := c.currentStream(); stream != nil {
			if err := stream.CommitInput(); err != nil {
				c.fail(msg.ID, err)
				return
			}
		}
		c.ok(msg.ID, nil)
	default:
		c.send(Response{Type: TypeResponse, ID: msg.ID, Success: false, Error: "invalid request, please check your input"})
	}
}

func (c *conn) handleStart(ctx context.Context, msg ClientMessage) {
	var params StartSessionParams
	if err := json.Unmarshal(msg.Payload, &params); err != nil {
		c.fail(msg.ID, therapy.ErrValidation)
		return
	}

	res, err := c.srv.cfg.Orchestrator.InitializeSession(ctx, params.UserID, params.Emotional)
	if err != nil {
		c.fail(msg.ID, err)
		return
	}

	c.mu.Lock()
	previous := c.sessionID
	c.sessionID = res.SessionID
	c.userID = res.UserContext.User.ID
	c.transcript.Reset()
	c.mu.Unlock()
	c.srv.deregister(previous, c)
	c.srv.register(res.SessionID, c)

	if c.srv.cfg.Dialer != nil {
		stream, err := c.srv.cfg.Dialer.Dial(ctx)
		if err != nil {
			c.log.Error("model dial failed", "error", err)
			c.machine.Fail()
		} else {
			c.mu.Lock()
			c.stream = stream
			c.mu.Unlock()
			go c.modelLoop(stream)
		}
	}

	c.ok(msg.ID, res)
}

func (c *conn) handleComplete(ctx context.Context, msg ClientMessage) {
	var params CompleteSessionParams
	if err := json.Unmarshal(msg.Payload, &params); err != nil {
		c.fail(msg.ID, therapy.ErrValidation)
		return
	}

	transcript := params.Transcript
	if transcript == "" {
		transcript = c.assembledTranscript()
	}

	res, err := c.srv.cfg.Orchestrator.CompleteSession(ctx, session.CompleteRequest{
		SessionID:  params.SessionID,
		UserID:     params.UserID,
		Transcript: transcript,
		Final:      params.Final,
		Metrics:    params.Metrics,
		Consent:    params.Consent,
	})
	if err != nil {
		c.fail(msg.ID, err)
		return
	}

	c.mu.Lock()
	c.sessionID = ""
	c.transcript.Reset()
	c.mu.Unlock()
	c.srv.deregister(params.SessionID, c)
	c.closeStream()
	c.closeIngress()

	c.ok(msg.ID, res)
}

func (c *conn) handleUserContext(ctx context.Context, msg ClientMessage) {
	var params UserParams
	if err := json.Unmarshal(msg.Payload, &params); err != nil || params.UserID == "" {
		c.fail(msg.ID, therapy.ErrValidation)
		return
	}
	uc, err := c.srv.cfg.Continuity.GetUserContext(ctx, params.UserID)
	if err != nil {
		c.fail(msg.ID, err)
		return
	}
	c.ok(msg.ID, uc)
}

func (c *conn) handleDashboard(ctx context.Context, msg ClientMessage) {
	var params UserParams
	if err := json.Unmarshal(msg.Payload, &params); err != nil || params.UserID == "" {
		c.fail(msg.ID, therapy.ErrValidation)
		return
	}
	c.ok(msg.ID, c.srv.cfg.Orchestrator.GetSessionInsights(ctx, params.UserID, 10))
}

// ok sends a success response with an optional result payload. The
// response bypasses the drop policy in send: request answers must arrive.
func (c *conn) ok(id string, result any) {
	resp := Response{Type: TypeResponse, ID: id, Success: true}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			resp.Result = raw
		}
	}
	c.deliver(resp)
}

// fail sends a failure response carrying only the user-safe message for
// the error class. Internal error text stays in the logs.
func (c *conn) fail(id string, err error) {
	c.log.Warn("request failed", "error", err)
	c.deliver(Response{Type: TypeResponse, ID: id, Success: false, Error: therapy.UserMessage(err)})
}

func (c *conn) deliver(resp Response) {
	select {
	case c.out <- resp:
	case <-c.closed:
	case <-time.After(5 * time.Second):
		c.log.Warn("dropped response to stalled client", "id", resp.ID)
	}
}

package relay

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/lumenkind/sona/pkg/audio/resampler"
)

// pcmuSampleRate is the G.711 clock rate negotiated with browsers. The
// ingress upsamples to the relay's configured rate before handing audio
// to the connection pipeline.
const pcmuSampleRate = 8000

// WebRTCIngress accepts a browser's microphone track over WebRTC and
// delivers mono PCM at the target sample rate to a callback. One ingress
// serves one connection.
//
// The track is negotiated as G.711 PCMU: it decodes in pure Go, and
// voice-band quality is sufficient for feature extraction and speech
// modeling.
type WebRTCIngress struct {
	targetRate int
	onAudio    func(pcm []byte)
	log        *slog.Logger

	mu sync.Mutex
	pc *webrtc.PeerConnection
}

// NewWebRTCIngress creates an ingress delivering decoded audio to
// onAudio as s16le mono PCM at targetRate.
func NewWebRTCIngress(targetRate int, onAudio func(pcm []byte), log *slog.Logger) (*WebRTCIngress, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("relay: webrtc target rate must be positive")
	}
	if onAudio == nil {
		return nil, fmt.Errorf("relay: webrtc audio callback is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebRTCIngress{targetRate: targetRate, onAudio: onAudio, log: log}, nil
}

// HandleOffer processes a browser SDP offer and returns the answer with
// ICE candidates gathered. An existing peer connection is replaced.
func (in *WebRTCIngress) HandleOffer(offerSDP string) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.pc != nil {
		in.pc.Close()
		in.pc = nil
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuSampleRate, Channels: 1,
		},
		PayloadType: 0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return "", fmt.Errorf("relay: register codec: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", fmt.Errorf("relay: peer connection: %w", err)
	}
	in.pc = pc

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		in.log.Info("webrtc track", "id", track.ID(), "codec", track.Codec().MimeType)
		go in.readTrack(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		in.log.Info("webrtc state", "state", state.String())
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return "", fmt.Errorf("relay: remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("relay: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("relay: local description: %w", err)
	}

	<-webrtc.GatheringCompletePromise(pc)
	return pc.LocalDescription().SDP, nil
}

// Close tears down the peer connection.
func (in *WebRTCIngress) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.pc == nil {
		return nil
	}
	err := in.pc.Close()
	in.pc = nil
	return err
}

// readTrack decodes RTP payloads and delivers resampled PCM until the
// track ends.
func (in *WebRTCIngress) readTrack(track *webrtc.TrackRemote) {
	rs, err := resampler.New(pcmuSampleRate, in.targetRate)
	if err != nil {
		in.log.Error("webrtc resampler", "error", err)
		return
	}
	for {
		var pkt *rtp.Packet
		pkt, _, err = track.ReadRTP()
		if err != nil {
			in.log.Debug("webrtc track ended", "error", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		samples := decodePCMU(pkt.Payload)
		out, err := rs.Process(samples)
		if err != nil {
			in.log.Warn("webrtc resample", "error", err)
			continue
		}
		in.onAudio(samplesToBytes(out))
	}
}

// decodePCMU expands G.711 mu-law bytes to linear 16-bit samples.
func decodePCMU(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = muLawToLinear(b)
	}
	return out
}

// muLawToLinear implements the ITU-T G.711 mu-law expansion.
func muLawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := (int16(mantissa)<<3 + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return -sample
	}
	return sample
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

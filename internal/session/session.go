package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-labs/kaiwa/internal/aggregate"
	"github.com/kotoba-labs/kaiwa/internal/audio"
	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/imagegen"
	"github.com/kotoba-labs/kaiwa/internal/llm"
	"github.com/kotoba-labs/kaiwa/internal/memory"
	"github.com/kotoba-labs/kaiwa/internal/pipeline"
	"github.com/kotoba-labs/kaiwa/internal/protocol"
	"github.com/kotoba-labs/kaiwa/internal/tools"
	"github.com/kotoba-labs/kaiwa/internal/tutor"
	"github.com/kotoba-labs/kaiwa/internal/voice"
)

// Sender delivers one protocol message to the connected client.
type Sender func(msg any) error

const farewellTimeout = 5 * time.Second

// Session is one learner's live conversation: the pipeline task, its
// transcript, the speech-to-text link, and the translation of outbound
// frames into protocol messages.
type Session struct {
	ID        string
	StartedAt time.Time

	deps       Deps
	task       *pipeline.Task
	transcript *aggregate.Transcript
	profile    memory.UserProfile
	stt        voice.STTSession
	send       Sender

	audioMu   sync.Mutex
	audioTurn string
	audioPCM  []byte
	audioRate int

	farewell  atomic.Bool
	ending    atomic.Bool
	closeOnce sync.Once
}

func newSession(ctx context.Context, deps Deps, send Sender) (*Session, error) {
	profile, err := deps.Store.Profile(ctx)
	if err != nil {
		log.Printf("session: loading profile: %v", err)
		profile = memory.DefaultProfile()
	}

	s := &Session{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		deps:       deps,
		transcript: aggregate.NewTranscript(tutor.SystemPrompt),
		profile:    profile,
		send:       send,
	}

	assistantAgg := aggregate.NewAssistantAggregator(s.transcript)
	chain := pipeline.NewChain(
		aggregate.NewUserAggregator(s.transcript),
		tutor.NewRouter(),
		llm.NewStage(deps.LLM, tools.NewService(deps.Store, deps.Metrics), deps.Metrics),
		voice.NewStage(deps.TTS, deps.Metrics),
		imagegen.NewStage(deps.Images, deps.Metrics),
		assistantAgg,
	)
	s.task = pipeline.NewTask(chain, pipeline.TaskConfig{
		HeartbeatInterval: deps.HeartbeatInterval,
		IdleTimeout:       deps.IdleTimeout,
		Metrics:           deps.Metrics,
		OnInterrupt:       assistantAgg.Abandon,
	})
	s.task.Output = s.emit
	s.task.Start(ctx)

	if deps.STT != nil {
		sess, results, err := deps.STT.StartSession(ctx, s.ID)
		if err != nil {
			s.task.Terminate()
			return nil, fmt.Errorf("start stt session: %w", err)
		}
		s.stt = sess
		go s.pumpTranscriptions(results)
	}

	s.task.ParticipantJoined()
	s.task.QueueAssistantText(tutor.Greeting(profile))
	return s, nil
}

// Done closes when the underlying pipeline has terminated.
func (s *Session) Done() <-chan struct{} { return s.task.Done() }

func (s *Session) State() pipeline.State { return s.task.State() }

// HandleMessage processes one inbound client payload.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) {
	msg, err := protocol.ParseClientMessage(raw)
	if err != nil {
		s.sendError("bad_message", "client", false, err.Error())
		return
	}

	switch m := msg.(type) {
	case protocol.ClientText:
		s.task.HandleText(m.Text)
	case protocol.ClientAudioChunk:
		s.handleAudio(ctx, m)
	case protocol.ClientImage:
		s.handleImage(m)
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionEndSession:
			s.End()
		case protocol.ActionPing:
			s.sendMsg(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "pong"})
		default:
			s.sendError("bad_control", "client", false, "unknown action "+m.Action)
		}
	}
}

func (s *Session) handleAudio(ctx context.Context, m protocol.ClientAudioChunk) {
	if s.stt == nil {
		s.sendError("stt_unavailable", "stt", false, "speech input is not configured")
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
	if err != nil {
		s.sendError("bad_audio", "client", false, "audio chunk is not valid base64")
		return
	}
	if err := s.stt.SendAudio(ctx, pcm, m.SampleRate); err != nil {
		log.Printf("session %s: stt send: %v", s.ID, err)
		s.sendError("stt_send", "stt", true, err.Error())
	}
}

func (s *Session) handleImage(m protocol.ClientImage) {
	data, err := base64.StdEncoding.DecodeString(m.ImageBase64)
	if err != nil {
		s.sendError("bad_image", "client", false, "image is not valid base64")
		return
	}
	s.HandleUpload(data, m.MIME, m.Caption)
}

// HandleUpload attaches an uploaded picture to the conversation. A caption
// makes it a complete turn: the learner is asking about the picture.
func (s *Session) HandleUpload(data []byte, mime, caption string) {
	s.task.HandleImage(frame.ImageFrame{Bytes: data, MIME: mime, Caption: caption})
	if caption != "" {
		s.task.HandleText(caption)
	}
}

// End speaks a personalized farewell and shuts the session down once it
// has been delivered, or after farewellTimeout if delivery stalls.
func (s *Session) End() {
	if !s.ending.CompareAndSwap(false, true) {
		return
	}
	s.farewell.Store(true)
	go s.task.End(farewellTimeout)
	s.task.QueueAssistantText(tutor.Farewell(s.profile))
}

// Close tears the session down immediately.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.stt != nil {
			_ = s.stt.Close()
		}
		s.task.Terminate()
	})
}

func (s *Session) pumpTranscriptions(results <-chan frame.TranscriptionFrame) {
	for tf := range results {
		s.sendMsg(protocol.Transcription{
			Type:  protocol.TypeTranscription,
			Text:  tf.Text,
			Final: tf.Final,
			TSMs:  tf.Timestamp.UnixMilli(),
		})
		s.task.HandleTranscription(tf)
	}
}

// emit translates frames leaving the pipeline into protocol messages.
func (s *Session) emit(f frame.Frame) {
	switch v := f.(type) {
	case frame.TextFrame:
		if v.Role != frame.RoleAssistant {
			return
		}
		if v.Text == tutor.FarewellLine {
			// An explicit stop command reached the router; this turn is
			// the goodbye.
			s.farewell.Store(true)
		}
		s.sendMsg(protocol.AssistantText{Type: protocol.TypeAssistantText, TurnID: v.TurnID, Text: v.Text})
	case frame.AudioFrame:
		s.collectAudio(v)
	case frame.ImageFrame:
		s.sendMsg(protocol.AssistantImage{
			Type:        protocol.TypeAssistantImage,
			TurnID:      v.TurnID,
			MIME:        v.MIME,
			Caption:     v.Caption,
			ImageBase64: base64.StdEncoding.EncodeToString(v.Bytes),
		})
	case frame.ControlFrame:
		switch v.Kind {
		case frame.ControlHeartbeat:
			s.sendMsg(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "heartbeat"})
		case frame.ControlEndOfTurn:
			s.flushAudio(v.TurnID)
			s.sendMsg(protocol.TurnEnd{Type: protocol.TypeTurnEnd, TurnID: v.TurnID, Reason: "complete"})
			if s.farewell.Load() {
				s.sendMsg(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "session_end"})
				go s.Close()
			}
		case frame.ControlSessionEnd:
			s.sendMsg(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "session_end", Detail: "idle_timeout"})
			go s.Close()
		}
	}
}

// collectAudio accumulates one turn's speech and ships it as a single WAV
// blob when the final chunk arrives.
func (s *Session) collectAudio(v frame.AudioFrame) {
	s.audioMu.Lock()
	if v.TurnID != s.audioTurn {
		s.audioTurn = v.TurnID
		s.audioPCM = s.audioPCM[:0]
	}
	s.audioPCM = append(s.audioPCM, v.PCM...)
	s.audioRate = v.SampleRate
	done := v.Final
	var pcm []byte
	var rate int
	if done {
		pcm = append([]byte(nil), s.audioPCM...)
		rate = s.audioRate
		s.audioPCM = s.audioPCM[:0]
		s.audioTurn = ""
	}
	s.audioMu.Unlock()

	if done && len(pcm) > 0 {
		s.shipAudio(v.TurnID, pcm, rate)
	}
}

func (s *Session) flushAudio(turnID string) {
	s.audioMu.Lock()
	pcm := append([]byte(nil), s.audioPCM...)
	rate := s.audioRate
	s.audioPCM = s.audioPCM[:0]
	s.audioTurn = ""
	s.audioMu.Unlock()

	if len(pcm) > 0 {
		s.shipAudio(turnID, pcm, rate)
	}
}

func (s *Session) shipAudio(turnID string, pcm []byte, rate int) {
	wav, err := audio.EncodeWAV(pcm, rate)
	if err != nil {
		log.Printf("session %s: encode wav: %v", s.ID, err)
		return
	}
	s.sendMsg(protocol.AssistantAudio{
		Type:        protocol.TypeAssistantAudio,
		TurnID:      turnID,
		Format:      "wav",
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
	})
}

func (s *Session) sendMsg(msg any) {
	if err := s.send(msg); err != nil {
		log.Printf("session %s: send: %v", s.ID, err)
	}
}

func (s *Session) sendError(code, source string, retryable bool, detail string) {
	s.sendMsg(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

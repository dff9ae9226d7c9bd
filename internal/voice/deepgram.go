package voice

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/kotoba-labs/kaiwa/internal/frame"
)

const (
	deepgramWSURL      = "wss://api.deepgram.com/v1/listen"
	deepgramModel      = "nova-2"
	deepgramSampleRate = 16000
)

// DeepgramSTT opens realtime transcription sessions against the Deepgram
// streaming API. One websocket per session; interim and final results are
// converted to TranscriptionFrames as they arrive.
type DeepgramSTT struct {
	apiKey   string
	language string
}

func NewDeepgramSTT(apiKey, language string) *DeepgramSTT {
	if language == "" {
		language = "multi"
	}
	return &DeepgramSTT{apiKey: apiKey, language: language}
}

type deepgramSession struct {
	conn   *websocket.Conn
	done   chan struct{}
	cancel context.CancelFunc
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (d *DeepgramSTT) StartSession(ctx context.Context, participantID string) (STTSession, <-chan frame.TranscriptionFrame, error) {
	q := url.Values{}
	q.Set("model", deepgramModel)
	q.Set("language", d.language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(deepgramSampleRate))
	q.Set("interim_results", "true")
	q.Set("endpointing", "300")

	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, deepgramWSURL+"?"+q.Encode(), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, nil, fmt.Errorf("deepgram dial (status %d): %w", status, err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &deepgramSession{conn: conn, done: make(chan struct{}), cancel: cancel}
	results := make(chan frame.TranscriptionFrame, 16)

	go sess.readLoop(sessCtx, participantID, results)
	return sess, results, nil
}

func (s *deepgramSession) readLoop(ctx context.Context, participantID string, out chan<- frame.TranscriptionFrame) {
	defer close(out)
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("stt: deepgram read: %v", err)
			}
			return
		}
		var res deepgramResult
		if err := sonic.Unmarshal(data, &res); err != nil || res.Type != "Results" {
			continue
		}
		if len(res.Channel.Alternatives) == 0 {
			continue
		}
		text := res.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}
		tf := frame.TranscriptionFrame{
			Text:          text,
			Final:         res.IsFinal,
			ParticipantID: participantID,
			Timestamp:     time.Now().UTC(),
		}
		select {
		case out <- tf:
		case <-ctx.Done():
			return
		}
	}
}

func (s *deepgramSession) SendAudio(ctx context.Context, pcm []byte, sampleRate int) error {
	if sampleRate != deepgramSampleRate {
		return fmt.Errorf("unsupported sample rate %d, want %d", sampleRate, deepgramSampleRate)
	}
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *deepgramSession) Close() error {
	s.cancel()
	// CloseStream tells Deepgram to flush any pending final result.
	s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	err := s.conn.Close()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
	}
	return err
}

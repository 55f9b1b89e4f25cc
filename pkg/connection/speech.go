// speech.go adapts the realtime speech session. It configures the remote
// session from the call record, translates server events into bridge events,
// and implements bridge.SpeechPort for the outbound direction.
//
// Audio format both ways: PCM16, 24kHz, mono, base64 on the wire.

package connection

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"sync/atomic"
	"time"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/sashabaranov/go-openai"

	"github.com/HYyydu/AiTelephone-sub000/pkg/audio"
	"github.com/HYyydu/AiTelephone-sub000/pkg/bridge"
	"github.com/HYyydu/AiTelephone-sub000/pkg/store"
)

// SpeechSessionRate is the sample rate the speech session produces and
// consumes.
const SpeechSessionRate = 24000

// SpeechConfig tunes the remote session.
type SpeechConfig struct {
	APIKey string
	// Voice overrides the call record's voice when set.
	Voice string
}

// SpeechSession owns one realtime session for one call.
type SpeechSession struct {
	conn    *openairt.Conn
	deliver func(bridge.Event)

	ctx    context.Context
	cancel context.CancelFunc

	closed  atomic.Bool
	closeMu sync.Mutex

	// configured flips on the first session.updated ack.
	configured atomic.Bool
}

// NewSpeechSession connects, configures the session from the call record,
// and starts translating server events. The bridge sees SessionReadyEvent
// once the configuration is acknowledged.
func NewSpeechSession(ctx context.Context, cfg SpeechConfig, rec store.CallRecord, deliver func(bridge.Event)) (*SpeechSession, error) {
	client := openairt.NewClient(cfg.APIKey)
	conn, err := client.Connect(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ss := &SpeechSession{
		conn:    conn,
		deliver: deliver,
		ctx:     ctx,
		cancel:  cancel,
	}

	connHandler := openairt.NewConnHandler(ctx, conn, ss.handleServerEvent)
	connHandler.Start()

	voice := rec.Voice
	if cfg.Voice != "" {
		voice = cfg.Voice
	}

	err = conn.SendMessage(ctx, openairt.SessionUpdateEvent{
		Session: openairt.ClientSession{
			Modalities:        []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
			Instructions:      sessionInstructions(rec),
			Voice:             sessionVoice(voice),
			InputAudioFormat:  openairt.AudioFormatPcm16,
			OutputAudioFormat: openairt.AudioFormatPcm16,
			InputAudioTranscription: &openairt.InputAudioTranscription{
				Model: openai.Whisper1,
			},
			TurnDetection: &openairt.ClientTurnDetection{
				Type: openairt.ClientTurnDetectionTypeServerVad,
				TurnDetectionParams: openairt.TurnDetectionParams{
					Threshold:         0.7,
					PrefixPaddingMs:   300,
					SilenceDurationMs: 800,
				},
			},
			MaxOutputTokens: 4000,
		},
	})
	if err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	return ss, nil
}

// sessionInstructions renders the per-call system prompt.
func sessionInstructions(rec store.CallRecord) string {
	if rec.Goal == "" {
		return "You are a polite phone assistant. Keep replies short and conversational."
	}
	return "You are a polite phone assistant making a call on the user's behalf. " +
		"Goal of this call: " + rec.Goal + ". " +
		"Introduce yourself once, keep replies short and conversational, and never repeat your introduction."
}

func sessionVoice(v string) openairt.Voice {
	if v == "" {
		return openairt.VoiceShimmer
	}
	return openairt.Voice(v)
}

// handleServerEvent translates one server event into bridge events.
func (ss *SpeechSession) handleServerEvent(ctx context.Context, event openairt.ServerEvent) {
	switch event.ServerEventType() {
	case openairt.ServerEventTypeSessionUpdated:
		if ss.configured.CompareAndSwap(false, true) {
			log.Printf("[Speech] session configured")
			ss.deliver(bridge.SessionReadyEvent{})
		}

	case openairt.ServerEventTypeResponseCreated:
		ev := event.(openairt.ResponseCreatedEvent)
		ss.deliver(bridge.ResponseCreatedEvent{ResponseID: ev.Response.ID})

	case openairt.ServerEventTypeResponseAudioDelta:
		ev := event.(openairt.ResponseAudioDeltaEvent)
		raw, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			log.Printf("[Speech] bad audio delta: %v", err)
			return
		}
		ss.deliver(bridge.ResponseAudioEvent{PCM: audio.BytesToPCM16(raw)})

	case openairt.ServerEventTypeResponseAudioDone:
		ss.deliver(bridge.ResponseAudioDoneEvent{})

	case openairt.ServerEventTypeResponseAudioTranscriptDelta:
		ev := event.(openairt.ResponseAudioTranscriptDeltaEvent)
		ss.deliver(bridge.ResponseTextDeltaEvent{Delta: ev.Delta})

	case openairt.ServerEventTypeResponseDone:
		ev := event.(openairt.ResponseDoneEvent)
		ss.deliver(bridge.ResponseDoneEvent{
			ResponseID: ev.Response.ID,
			Status:     string(ev.Response.Status),
		})

	case openairt.ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		ev := event.(openairt.ConversationItemInputAudioTranscriptionCompletedEvent)
		ss.deliver(bridge.UserTranscriptEvent{Text: ev.Transcript, At: time.Now()})

	case openairt.ServerEventTypeConversationItemInputAudioTranscriptionFailed:
		ev := event.(openairt.ConversationItemInputAudioTranscriptionFailedEvent)
		ss.deliver(bridge.TranscriptFailedEvent{Code: ev.Error.Code, Message: ev.Error.Message})

	case openairt.ServerEventTypeInputAudioBufferSpeechStarted:
		log.Printf("[Speech] session-side VAD: speech started")

	case openairt.ServerEventTypeInputAudioBufferSpeechStopped:
		log.Printf("[Speech] session-side VAD: speech stopped")

	case openairt.ServerEventTypeError:
		ev := event.(openairt.ErrorEvent)
		ss.deliver(bridge.SessionErrorEvent{Code: ev.Error.Code, Message: ev.Error.Message})
	}
}

// AppendAudio implements bridge.SpeechPort. pcm must be at the session rate.
func (ss *SpeechSession) AppendAudio(pcm []int16) error {
	if ss.closed.Load() || len(pcm) == 0 {
		return nil
	}
	return ss.conn.SendMessage(ss.ctx, openairt.InputAudioBufferAppendEvent{
		Audio: base64.StdEncoding.EncodeToString(audio.PCM16ToBytes(pcm)),
	})
}

// CreateResponse implements bridge.SpeechPort.
func (ss *SpeechSession) CreateResponse() error {
	if ss.closed.Load() {
		return nil
	}
	return ss.conn.SendMessage(ss.ctx, openairt.ResponseCreateEvent{
		Response: openairt.ResponseCreateParams{
			Modalities: []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
		},
	})
}

// CancelResponse implements bridge.SpeechPort. Best-effort; cancelling an
// already finished response yields a benign error event.
func (ss *SpeechSession) CancelResponse() error {
	if ss.closed.Load() {
		return nil
	}
	return ss.conn.SendMessage(ss.ctx, openairt.ResponseCancelEvent{})
}

// Close tears the session down. Idempotent.
func (ss *SpeechSession) Close() error {
	ss.closeMu.Lock()
	defer ss.closeMu.Unlock()

	if ss.closed.Load() {
		return nil
	}
	ss.closed.Store(true)

	ss.cancel()
	err := ss.conn.Close()
	ss.deliver(bridge.SessionClosedEvent{})
	return err
}

var _ bridge.SpeechPort = (*SpeechSession)(nil)

package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// AudioFrame is one chunk of call audio plus the stream position.
type AudioFrame struct {
	CallSIPID string
	Seq       int
	Payload   []byte
}

// AudioBridge terminates the PBX media websocket. Binary frames are caller
// audio; text frames are JSON control messages (start/stop). Outbound TTS
// audio is written back as binary frames.
type AudioBridge struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.Mutex
	streams map[string]*AudioStream
}

// AudioStream is one live media session.
type AudioStream struct {
	SIPID  string
	Frames chan AudioFrame

	mu     sync.Mutex
	conn   *websocket.Conn
	seq    int
	closed bool
}

type controlMessage struct {
	Event string `json:"event"` // "start", "stop"
	SIPID string `json:"sip_id"`
}

func NewAudioBridge(logger *logging.Logger) *AudioBridge {
	if logger == nil {
		logger = logging.Default()
	}
	return &AudioBridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
		logger:  logger.WithComponent("audio_bridge"),
		streams: make(map[string]*AudioStream),
	}
}

// HandleMedia upgrades the PBX media connection and pumps frames until the
// peer disconnects.
func (b *AudioBridge) HandleMedia(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("media upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var stream *AudioStream
	defer func() {
		if stream != nil {
			b.closeStream(stream.SIPID)
		}
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Info("media connection closed", "error", err)
			}
			return
		}
		switch messageType {
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				b.logger.Warn("bad media control message", "error", err)
				continue
			}
			switch msg.Event {
			case "start":
				stream = b.openStream(msg.SIPID, conn)
			case "stop":
				return
			}
		case websocket.BinaryMessage:
			if stream == nil {
				continue
			}
			stream.mu.Lock()
			stream.seq++
			seq := stream.seq
			closed := stream.closed
			stream.mu.Unlock()
			if closed {
				return
			}
			frame := AudioFrame{CallSIPID: stream.SIPID, Seq: seq, Payload: payload}
			select {
			case stream.Frames <- frame:
			default:
				// Drop rather than stall the media socket.
			}
		}
	}
}

func (b *AudioBridge) openStream(sipID string, conn *websocket.Conn) *AudioStream {
	stream := &AudioStream{
		SIPID:  sipID,
		Frames: make(chan AudioFrame, 64),
		conn:   conn,
	}
	b.mu.Lock()
	b.streams[sipID] = stream
	b.mu.Unlock()
	b.logger.Info("media stream opened", "sip_id", sipID)
	return stream
}

func (b *AudioBridge) closeStream(sipID string) {
	b.mu.Lock()
	stream, ok := b.streams[sipID]
	delete(b.streams, sipID)
	b.mu.Unlock()
	if !ok {
		return
	}
	stream.mu.Lock()
	if !stream.closed {
		stream.closed = true
		close(stream.Frames)
	}
	stream.mu.Unlock()
	b.logger.Info("media stream closed", "sip_id", sipID)
}

// Stream returns the live stream for a call, if any.
func (b *AudioBridge) Stream(sipID string) (*AudioStream, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stream, ok := b.streams[sipID]
	return stream, ok
}

// WriteAudio sends one TTS audio chunk to the caller.
func (s *AudioStream) WriteAudio(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return errors.New("telephony: audio stream closed")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("telephony: write audio: %w", err)
	}
	return nil
}

// Package ws is the telephony-facing websocket ingress. One connection
// carries exactly one call: JSON text messages for control, binary messages
// for raw PCM frames, and JSON pushes back to the peer for playback stops
// and utterance-ready events.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-call-speech-service/internal/clientcfg"
	"ai-call-speech-service/internal/observability/logging"
	"ai-call-speech-service/internal/service/session"
	"ai-call-speech-service/internal/service/utterance"
)

const greetingPrompt = "greeting"

var errMissingCallID = errors.New("start requires a callId")

// ControlMessage is a client-to-server JSON frame.
type ControlMessage struct {
	Type     string `json:"type"` // start, unmute, mute, playing, close
	CallID   string `json:"callId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Playing  bool   `json:"playing,omitempty"`
}

// ServerMessage is a server-to-client JSON frame.
type ServerMessage struct {
	Type   string `json:"type"` // started, stopPlayback, utteranceReady, closed, error
	CallID string `json:"callId,omitempty"`
	Text   string `json:"text,omitempty"`
	Via    string `json:"via,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Server upgrades telephony connections and bridges them to call sessions.
type Server struct {
	manager  *session.Manager
	clients  *clientcfg.Registry
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New builds the websocket ingress on top of the session manager.
func New(manager *session.Manager, clients *clientcfg.Registry) *Server {
	return &Server{
		manager: manager,
		clients: clients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony gateway connects server-to-server.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logging.WithComponent("ws"),
	}
}

// ServeHTTP upgrades the connection and runs the per-call read loop until
// the peer disconnects or sends close.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	s.handle(conn)
}

// connWriter serializes writes to one websocket connection. gorilla permits
// only a single concurrent writer, and pushes arrive from the consumer
// goroutine as well as the read loop.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) send(msg ServerMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

func (s *Server) handle(conn *websocket.Conn) {
	defer conn.Close()

	writer := &connWriter{conn: conn}
	var sess *session.Session

	defer func() {
		if sess != nil {
			if err := s.manager.Close(sess.CallID()); err != nil {
				s.log.Debug().Err(err).Str("callId", sess.CallID()).Msg("Session already gone at disconnect")
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Msg("Websocket read failed")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if sess == nil {
				s.log.Warn().Msg("Audio frame before start, dropping")
				continue
			}
			sess.SendAudio(data)

		case websocket.TextMessage:
			var ctrl ControlMessage
			if err := json.Unmarshal(data, &ctrl); err != nil {
				s.log.Warn().Err(err).Msg("Malformed control message")
				_ = writer.send(ServerMessage{Type: "error", Error: "malformed control message"})
				continue
			}

			if ctrl.Type == "start" {
				started, err := s.startCall(ctrl, writer)
				if err != nil {
					_ = writer.send(ServerMessage{Type: "error", CallID: ctrl.CallID, Error: err.Error()})
					continue
				}
				sess = started
				continue
			}

			if sess == nil {
				_ = writer.send(ServerMessage{Type: "error", Error: "no call started"})
				continue
			}
			if done := s.dispatch(ctrl, sess, writer); done {
				return
			}
		}
	}
}

// startCall registers a session whose dialog and playback sinks push back
// over this connection.
func (s *Server) startCall(ctrl ControlMessage, writer *connWriter) (*session.Session, error) {
	if ctrl.CallID == "" {
		return nil, errMissingCallID
	}

	log := logging.WithCall(ctrl.CallID, ctrl.ClientID)

	dialog := utterance.DialogSinkFunc(func(callID, text string, via utterance.FiredVia) {
		if err := writer.send(ServerMessage{Type: "utteranceReady", CallID: callID, Text: text, Via: string(via)}); err != nil {
			log.Warn().Err(err).Msg("Failed to push utterance to peer")
		}
	})
	playback := session.PlaybackControllerFunc(func(callID string) {
		if err := writer.send(ServerMessage{Type: "stopPlayback", CallID: callID}); err != nil {
			log.Warn().Err(err).Msg("Failed to push stopPlayback to peer")
		}
	})

	sess, err := s.manager.Start(context.Background(), ctrl.CallID, ctrl.ClientID, dialog, playback)
	if err != nil {
		log.Error().Err(err).Msg("Starting session failed")
		return nil, err
	}

	started := ServerMessage{Type: "started", CallID: ctrl.CallID}
	if snap := s.clients.Get(ctrl.ClientID); snap != nil {
		started.Prompt = snap.VoicePrompts[greetingPrompt]
	}
	if err := writer.send(started); err != nil {
		log.Warn().Err(err).Msg("Failed to ack start")
	}

	log.Info().Msg("Call attached to websocket")
	return sess, nil
}

// dispatch applies one post-start control message. Returns true when the
// call is over and the read loop should exit.
func (s *Server) dispatch(ctrl ControlMessage, sess *session.Session, writer *connWriter) bool {
	switch ctrl.Type {
	case "unmute":
		sess.Unmute()
	case "mute":
		sess.Mute()
	case "playing":
		sess.SetPlaying(ctrl.Playing)
	case "close":
		if err := s.manager.Close(sess.CallID()); err != nil {
			s.log.Debug().Err(err).Str("callId", sess.CallID()).Msg("Close raced disconnect")
		}
		_ = writer.send(ServerMessage{Type: "closed", CallID: sess.CallID()})
		return true
	default:
		s.log.Warn().Str("type", ctrl.Type).Msg("Unknown control message type")
		_ = writer.send(ServerMessage{Type: "error", CallID: sess.CallID(), Error: "unknown control type: " + ctrl.Type})
	}
	return false
}

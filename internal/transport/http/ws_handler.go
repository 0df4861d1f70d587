package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

type WSHandler struct {
	service  *app.QuizService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log.With().Str("component", "ws_handler").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type authorizePayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type selectPayload struct {
	Option string `json:"option"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode maps domain errors onto the stable codes clients switch on.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotOnRoster):
		return "not_on_roster"
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, domain.ErrSessionCreateFailed):
		return "session_create_failed"
	case errors.Is(err, domain.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, domain.ErrOptionNotFound):
		return "invalid_option"
	case errors.Is(err, domain.ErrNoSelection):
		return "no_selection"
	case errors.Is(err, domain.ErrNotInProgress), errors.Is(err, domain.ErrNotStarted), errors.Is(err, domain.ErrNoActiveQuestion):
		return "not_in_progress"
	default:
		return "bad_request"
	}
}

// errorMessage keeps backend details out of client-facing text.
func errorMessage(err error) string {
	if errors.Is(err, domain.ErrSessionCreateFailed) {
		return "the quiz could not be started, please try again"
	}
	return err.Error()
}

// ServeWS upgrades HTTP requests to websockets and drives one quiz attempt per connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		http.Error(w, "missing deviceId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	attempt, err := h.service.Open(r.Context(), deviceID)
	if err != nil {
		h.log.Error().Err(err).Str("device_id", deviceID).Msg("open attempt")
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Code: "unavailable", Message: "quiz is not available"}})
		return
	}
	defer attempt.Close()

	updates, cancel := attempt.Machine.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// A single writer goroutine owns the connection's write side.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write error")
				// Unblock the reader so the attempt is torn down.
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: update}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// writerAlive turns false once the writer is gone; the read loop then stops.
	writerAlive := true
	sendError := func(err error) {
		msg := outboundMessage[any]{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: errorMessage(err)}}
		if !enqueue(send, writerDone, msg) {
			writerAlive = false
		}
	}

	for writerAlive {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "authorize":
			var payload authorizePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sendError(errors.New("invalid authorize payload"))
				continue
			}
			if _, err := attempt.Authorize(r.Context(), payload.FirstName, payload.LastName); err != nil {
				sendError(err)
			}
		case "select":
			var payload selectPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sendError(errors.New("invalid select payload"))
				continue
			}
			if err := attempt.Machine.SelectAnswer(payload.Option); err != nil {
				sendError(err)
			}
		case "next":
			if err := attempt.Machine.Advance(r.Context()); err != nil {
				sendError(err)
			}
		case "submit":
			if _, err := attempt.Machine.Complete(r.Context()); err != nil {
				sendError(err)
			}
		case "restart":
			sendError(attempt.Machine.Restart())
		default:
			sendError(errors.New("unsupported message type"))
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// enqueue hands msg to the connection writer. It reports false instead of
// blocking when the writer has already exited.
func enqueue(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case <-writerDone:
		return false
	default:
	}
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"panel-quiz-service/internal/app"
	"panel-quiz-service/internal/domain"
)

type WSHandler struct {
	service  *app.GameService
	secret   string
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, jwtSecret string) *WSHandler {
	return &WSHandler{
		service: service,
		secret:  jwtSecret,
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

type answerPayload struct {
	Round  int    `json:"round"`
	Answer string `json:"answer"`
}

type evaluationPayload struct {
	Round int `json:"round"`
	domain.EvaluationResult
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}

// ServeWS upgrades the request and streams game snapshots, standings and the
// open round's question. Answers sent over the socket are evaluated
// asynchronously and answered with an evaluation message.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := app.NormalizeCode(r.URL.Query().Get("game"))
	if code == "" {
		http.Error(w, "missing game", http.StatusBadRequest)
		return
	}
	who, err := ParseIdentity(h.secret, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("game", code).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if err := h.ensureJoined(ctx, code, who); err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	updates, cancel, err := h.service.Subscribe(ctx, code)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})
	var answers sync.WaitGroup

	push := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-closeSignals:
			return false
		case <-writerDone:
			return false
		}
	}

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("game", code).Str("player", who.ID).Msg("ws write failed")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		shownRound := 0
		for {
			select {
			case g, ok := <-updates:
				if !ok {
					return
				}
				if !push(outboundMessage[any]{Type: "game", Payload: g}) {
					return
				}
				if !push(outboundMessage[any]{Type: "leaderboard", Payload: app.LeaderboardFor(g)}) {
					return
				}
				if g.State == domain.StatePlaying && g.CurrentRound != shownRound {
					q, err := h.service.Question(ctx, code, g.CurrentRound)
					if err != nil {
						log.Warn().Err(err).Str("game", code).Int("round", g.CurrentRound).Msg("question lookup failed")
						continue
					}
					shownRound = g.CurrentRound
					if !push(outboundMessage[any]{Type: "question", Payload: q}) {
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			answers.Add(1)
			go func() {
				defer answers.Done()
				result, err := h.service.SubmitAnswer(context.WithoutCancel(ctx), code, payload.Round, who, payload.Answer)
				if err != nil {
					push(errorMessage(err))
					return
				}
				push(outboundMessage[any]{Type: "evaluation", Payload: evaluationPayload{Round: payload.Round, EvaluationResult: result}})
			}()
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	answers.Wait()
	close(send)
	<-writerDone
}

func (h *WSHandler) ensureJoined(ctx context.Context, code string, who domain.Identity) error {
	g, err := h.service.Game(ctx, code)
	if err != nil {
		return err
	}
	if p, ok := g.Players[who.ID]; ok {
		if !p.IsActive {
			return domain.ErrPlayerKicked
		}
		return nil
	}
	_, err = h.service.Join(ctx, code, who)
	return err
}

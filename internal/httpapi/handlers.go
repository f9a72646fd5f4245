package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/entity-sync/internal/hub"
	"github.com/DoyleJ11/entity-sync/internal/session"
	"github.com/DoyleJ11/entity-sync/internal/types"
)

const stateTimeout = 2 * time.Second

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to generate code")
				return
			}
			reply := make(chan *session.Session, 1)
			h.Inbox() <- hub.GetRoom{Code: c, Reply: reply}
			if <-reply == nil {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("code", c))
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.EnsureRoom{Code: code, Reply: reply}
		if <-reply == nil {
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}

		writeJSON(w, http.StatusCreated, types.RoomCreated{Code: code})
	}
}

func GetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetRoom{Code: code, Reply: reply}
		s := <-reply
		if s == nil {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), stateTimeout)
		defer cancel()
		view := make(chan session.View, 1)
		if !s.Send(ctx, session.GetState{Reply: view}) {
			writeError(w, http.StatusServiceUnavailable, "room unavailable")
			return
		}
		var v session.View
		select {
		case v = <-view:
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "room unavailable")
			return
		}

		live := make([]uint32, len(v.Live))
		for i, idx := range v.Live {
			live[i] = uint32(idx)
		}
		writeJSON(w, http.StatusOK, types.RoomStats{
			Code:         code,
			ServerTime:   v.ServerTime,
			Ticks:        v.Ticks,
			Clients:      v.NumClients,
			Live:         live,
			Synced:       len(v.Synced),
			Updates:      v.Updates,
			StateChanges: v.StateChanges,
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

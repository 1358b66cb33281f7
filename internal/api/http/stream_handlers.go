package httpapi

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/duerelay/duerelay/internal/infrastructure/sse"
)

const qrSize = 256

//go:embed web/index.html
var setupPageHTML []byte

// GET /
func (s *Server) setupPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(setupPageHTML)
}

// GET /api/status/{clientId}/qr.png renders the pending pairing challenge.
func (s *Server) qrImage(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.setupSvc.Challenge(chi.URLParam(r, "clientId"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	png, err := qrcode.Encode(challenge, qrcode.Medium, qrSize)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// GET /api/status/{clientId}/stream pushes status snapshots as they change.
// The current snapshot is sent first.
func (s *Server) statusStream(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	view, err := s.setupSvc.Status(clientID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := sse.NewClient(clientID)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client.ClientID)
	s.logger.Debug().
		Str("tenant_id", clientID).
		Int("open_streams", s.sseHub.GetClientCount()).
		Msg("status stream opened")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))

	data, _ := json.Marshal(view)
	writeEvent(w, sse.NewMessage(sse.EventStatus, data))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, open := <-client.MessageChan:
			if !open || msg == nil {
				return
			}
			writeEvent(w, msg)
			flusher.Flush()
			if msg.Event == sse.EventRemoved {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, msg *sse.Message) {
	payload, _ := json.Marshal(msg)
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

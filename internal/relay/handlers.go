package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// webhookRequest mirrors the widget's outbound payload.
type webhookRequest struct {
	Text        string `json:"text"`
	ChatInput   string `json:"chatInput"`
	SessionID   string `json:"sessionId"`
	WidgetID    string `json:"widgetId"`
	LicenseKey  string `json:"licenseKey"`
	Attachments []struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Data string `json:"data"`
	} `json:"attachments"`
}

// webhookResponse is the synchronous or stream-handoff answer.
type webhookResponse struct {
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId"`
	Streaming bool   `json:"streaming,omitempty"`
	StreamURL string `json:"streamUrl,omitempty"`
}

func newStreamID() string { return uuid.NewString() }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	text := req.Text
	if text == "" {
		text = req.ChatInput
	}
	if text == "" {
		writeError(w, s.logger, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if req.SessionID == "" {
		writeError(w, s.logger, http.StatusBadRequest, "missing_session", "sessionId is required")
		return
	}

	reply, err := s.responder.Respond(r.Context(), Request{
		Text:        text,
		SessionID:   req.SessionID,
		WidgetID:    req.WidgetID,
		Attachments: len(req.Attachments),
	})
	if err != nil {
		s.logger.Error("responder failed", "sessionId", req.SessionID, "error", err)
		writeError(w, s.logger, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}

	messageID := uuid.NewString()

	if len(reply.Chunks) > 0 {
		streamID := s.park(messageID, reply.Chunks)
		writeJSON(w, s.logger, http.StatusOK, webhookResponse{
			MessageID: messageID,
			Streaming: true,
			StreamURL: fmt.Sprintf("%s://%s/streams/%s", schemeOf(r), r.Host, streamID),
		})
		return
	}

	writeJSON(w, s.logger, http.StatusOK, webhookResponse{
		Message:   reply.Message,
		MessageID: messageID,
	})
}

// handleStream plays a parked reply back as SSE and finishes with the
// [DONE] sentinel. A stream that dropped mid-playback can be fetched
// again and replays from the start; a fully delivered stream is retired.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	p, ok := s.lookup(streamID)
	if !ok {
		writeError(w, s.logger, http.StatusNotFound, "unknown_stream", "stream not found or already consumed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported by response writer")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for _, chunk := range p.chunks {
		select {
		case <-r.Context().Done():
			s.logger.Debug("stream client disconnected", "streamId", streamID)
			return
		default:
		}

		fmt.Fprintf(w, "data: %s\n\n", chunk)
		flusher.Flush()

		if s.cfg.ChunkDelay > 0 {
			time.Sleep(s.cfg.ChunkDelay)
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	s.complete(streamID)
	s.logger.Debug("stream completed", "streamId", streamID, "messageId", p.messageID, "chunks", len(p.chunks))
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

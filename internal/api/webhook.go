package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/lumapay/linkledger/internal/domain"
	"github.com/lumapay/linkledger/internal/processor"
)

// maxWebhookBody caps event payloads; the processor's events are small.
const maxWebhookBody = 1 << 20

// HandleWebhook receives processor event deliveries. 2xx acknowledges; 503
// asks for redelivery (retryable ingestion failures); 4xx rejects bad
// payloads for good.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	sig := r.Header.Get("Processor-Signature")
	if err := processor.VerifySignature(h.webhookSecret, payload, sig, time.Now()); err != nil {
		h.log.Warn("webhook signature rejected", "error", err)
		respondWithError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ev, err := processor.ParseEvent(payload)
	if err != nil {
		h.log.Warn("webhook payload rejected", "error", err)
		respondWithError(w, http.StatusBadRequest, "malformed event")
		return
	}

	if err := h.ingest.Ingest(r.Context(), ev); err != nil {
		if domain.IsRetryable(err) {
			h.log.Info("event deferred for redelivery", "event_id", ev.ID, "error", err)
			respondWithError(w, http.StatusServiceUnavailable, "retry later")
			return
		}
		var pe *domain.PermanentError
		if errors.As(err, &pe) {
			// Redelivery cannot fix a structurally bad event; swallow it.
			h.log.Error("unprocessable event acknowledged", "event_id", ev.ID, "error", err)
			respondWithJSON(w, http.StatusOK, map[string]string{"received": ev.ID})
			return
		}
		h.log.Error("event ingestion failed", "event_id", ev.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"received": ev.ID})
}

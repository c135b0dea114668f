package handlers

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/ingest"
)

type Ingester interface {
	Ingest(ctx context.Context, raw ingest.RawReading, source ingest.Source) (ingest.Result, error)
}

type SensorHandler struct {
	ingester Ingester
	logger   zerolog.Logger
}

func NewSensorHandler(ingester Ingester, logger zerolog.Logger) *SensorHandler {
	return &SensorHandler{
		ingester: ingester,
		logger:   logger.With().Str("handler", "sensor").Logger(),
	}
}

// Token ingests a reading posted by a device with its pre-issued token. Once
// started, the run outlives a client that hangs up.
func (h *SensorHandler) Token(w http.ResponseWriter, r *http.Request) {
	var raw ingest.RawReading
	if err := decodeJSON(w, r, &raw); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	res, err := h.ingester.Ingest(context.WithoutCancel(r.Context()), raw, ingest.SourceToken)
	if err != nil {
		status := ingestStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("failed to ingest reading")
			http.Error(w, "Failed to ingest reading", status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func ingestStatus(err error) int {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrUnknownIdentity):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

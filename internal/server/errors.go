package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/giantswarm/discord-gate/internal/discord"
	"github.com/giantswarm/discord-gate/internal/logging"
)

// errorBody is the JSON shape of error responses.
type errorBody struct {
	Error string `json:"error"`
}

// rateLimitedBody forwards Discord's rate limit details to the caller.
type rateLimitedBody struct {
	Error   string  `json:"error"`
	Retry   float64 `json:"retry"`
	Message string  `json:"message"`
}

// writeUpstreamError maps an error from the Discord client or the validator
// to the gate's HTTP error contract.
func writeUpstreamError(w http.ResponseWriter, logger *slog.Logger, operation string, err error) {
	var rateLimited *discord.RateLimitedError

	switch {
	case errors.As(err, &rateLimited):
		retry := rateLimited.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry))))
		logger.Warn("upstream rate limited",
			logging.Operation(operation),
			slog.Float64("retry_after", retry),
			slog.Bool("global", rateLimited.Global))
		writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{
			Error:   "RateLimited",
			Retry:   retry,
			Message: rateLimited.Message,
		})
	case errors.Is(err, discord.ErrUnauthorized):
		logger.Info("upstream rejected credentials",
			logging.Operation(operation),
			logging.Status(logging.StatusDenied))
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Unauthorized"})
	case errors.Is(err, discord.ErrClientNotInitialized):
		logger.Error("discord client not initialized",
			logging.Operation(operation),
			logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Error"})
	default:
		logger.Error("request failed",
			logging.Operation(operation),
			logging.Status(logging.StatusError),
			logging.SanitizedErr(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/department-scheduling/internal/scheduling"
)

func statusFor(kind scheduling.ErrorKind) int {
	switch kind {
	case scheduling.KindNotFound:
		return http.StatusNotFound
	case scheduling.KindConflict:
		return http.StatusConflict
	case scheduling.KindInvalidConfiguration:
		return http.StatusUnprocessableEntity
	case scheduling.KindUnsupportedType, scheduling.KindInvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// handleServiceError maps a service error to a response. Internal failures
// are logged and their cause is not echoed to the client.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := scheduling.KindOf(err)
	status := statusFor(kind)

	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, string(scheduling.KindInternal), "internal error")
		return
	}

	writeError(w, status, string(kind), err.Error())
}

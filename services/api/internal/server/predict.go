package server

import (
	"errors"
	"net/http"

	"realestate360/internal/util"
	"realestate360/services/api/internal/estimator"
)

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.predictLimiter, "too many prediction requests") {
		return
	}
	if s.estimator == nil {
		writeError(w, http.StatusServiceUnavailable, "price estimation not configured")
		return
	}
	var in estimator.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	req, err := in.Request()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	estimate, err := s.estimator.Predict(r.Context(), req)
	if err != nil {
		var inErr *estimator.InputError
		if errors.As(err, &inErr) {
			writeError(w, http.StatusBadRequest, inErr.Msg)
			return
		}
		util.LoggerFromContext(r.Context()).Error("price estimation failed",
			"property_type", req.PropertyType, "city", req.City, "err", err)
		writeErrorDetail(w, http.StatusInternalServerError, errorCode(http.StatusInternalServerError),
			"Error predicting price", estimationDetail(err))
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

func estimationDetail(err error) string {
	if errors.Is(err, estimator.ErrEstimationFailed) {
		return err.Error()
	}
	return ""
}

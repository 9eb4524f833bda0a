package server

import (
	"net/http"

	"realestate360/pkg/domain"
	"realestate360/services/api/internal/app"
)

type feedbackRequest struct {
	Feedback       string   `json:"feedback"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Rating         int      `json:"rating"`
	SelectedTopics []string `json:"selectedTopics"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitFeedback(w, r)
	case http.MethodGet:
		s.adminOnly(s.handleListFeedback).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.feedbackLimiter, "too many feedback submissions") {
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fb, err := s.app.SubmitFeedback(r.Context(), app.FeedbackInput{
		Feedback:       req.Feedback,
		Name:           req.Name,
		Email:          req.Email,
		Rating:         req.Rating,
		SelectedTopics: req.SelectedTopics,
	})
	if err != nil {
		s.writeAppError(w, r, err, "Feedback not found", "Error storing feedback")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "Feedback stored successfully",
		"feedback": fb,
	})
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	items, err := s.app.ListFeedback(r.Context(), identity)
	if err != nil {
		s.writeAppError(w, r, err, "Feedback not found", "Error fetching feedback")
		return
	}
	if items == nil {
		items = []domain.Feedback{}
	}
	writeJSON(w, http.StatusOK, items)
}

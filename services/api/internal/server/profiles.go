package server

import (
	"net/http"
	"net/url"
	"strings"

	"realestate360/pkg/domain"
	"realestate360/services/api/internal/app"
)

type profileRequest struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	Occupation string `json:"occupation"`
	Bio        string `json:"bio"`
}

func (r profileRequest) fields() app.ProfileFields {
	return app.ProfileFields{
		FullName:   strings.TrimSpace(r.FullName),
		Phone:      strings.TrimSpace(r.Phone),
		Address:    strings.TrimSpace(r.Address),
		Occupation: strings.TrimSpace(r.Occupation),
		Bio:        strings.TrimSpace(r.Bio),
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		profile, err := s.app.GetProfile(r.Context(), identity)
		if err != nil {
			s.writeAppError(w, r, err, "Profile not found", "Error fetching profile")
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodPost, http.MethodPut:
		s.handleUpsertProfile(w, r, identity)
	default:
		methodNotAllowed(w)
	}
}

// handleUpsertProfile accepts multipart forms carrying an optional
// profileImage, or a plain JSON body.
func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	var (
		req    profileRequest
		avatar *app.Upload
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if !s.parseMultipart(w, r) {
			return
		}
		form := r.MultipartForm
		value := func(name string) string {
			if v := form.Value[name]; len(v) > 0 {
				return v[0]
			}
			return ""
		}
		req = profileRequest{
			FullName:   value("fullName"),
			Phone:      value("phone"),
			Address:    value("address"),
			Occupation: value("occupation"),
			Bio:        value("bio"),
		}
		if files := form.File["profileImage"]; len(files) > 0 {
			h := files[0]
			f, err := h.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable profile image")
				return
			}
			defer f.Close()
			avatar = &app.Upload{
				Filename:    h.Filename,
				ContentType: h.Header.Get("Content-Type"),
				Size:        h.Size,
				Body:        f,
			}
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := s.app.UpsertProfile(r.Context(), identity, req.fields(), avatar)
	if err != nil {
		s.writeAppError(w, r, err, "Profile not found", "Error updating profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"profile": profile,
	})
}

func (s *Server) handleProfileByEmail(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts := pathParts(r, "/users/profile/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	email, err := url.PathUnescape(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	profile, err := s.app.GetProfileByEmail(r.Context(), identity, email)
	if err != nil {
		s.writeAppError(w, r, err, "Profile not found", "Error fetching profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

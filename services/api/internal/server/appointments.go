package server

import (
	"net/http"

	"realestate360/pkg/domain"
	"realestate360/services/api/internal/app"
)

type createAppointmentRequest struct {
	Property     domain.PropertySnapshot `json:"property"`
	Appointments []domain.Slot           `json:"appointments"`
	Message      string                  `json:"message"`
	UserEmail    string                  `json:"userEmail"`
	UserProfile  *domain.Profile         `json:"userProfile"`
}

type statusRequest struct {
	Status              string       `json:"status"`
	SelectedAppointment *domain.Slot `json:"selectedAppointment"`
}

type contactRequest struct {
	RequestType string `json:"requestType"`
}

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	appt, err := s.app.CreateAppointment(r.Context(), identity, app.CreateAppointmentInput{
		Property:    req.Property,
		Slots:       req.Appointments,
		Message:     req.Message,
		UserEmail:   req.UserEmail,
		UserProfile: req.UserProfile,
	})
	if err != nil {
		s.writeAppError(w, r, err, "Appointment not found", "Error creating appointment")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":       "Appointment created successfully",
		"appointmentId": appt.ID,
		"appointment":   appt,
	})
}

func (s *Server) handleAppointmentPath(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	parts := pathParts(r, "/appointments/")
	switch {
	case len(parts) == 1 && (parts[0] == "user" || parts[0] == "owner"):
		s.handleListAppointments(w, r, identity, domain.CopyRole(parts[0]))
	case len(parts) == 1 && parts[0] == "migrate-roles":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleMigrateRoles(w, r, identity)
	case len(parts) == 1:
		if r.Method != http.MethodPatch && r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		s.handleAppointmentStatus(w, r, identity, parts[0])
	case len(parts) == 2 && parts[1] == "contact-request":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleContactRequest(w, r, identity, parts[0])
	case len(parts) == 2 && parts[1] == "share-contact":
		if r.Method != http.MethodPatch && r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleShareContact(w, r, identity, parts[0])
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request, identity domain.Identity, role domain.CopyRole) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var (
		list []domain.Appointment
		err  error
	)
	if role == domain.RoleOwner {
		list, err = s.app.ListOwnerAppointments(r.Context(), identity)
	} else {
		list, err = s.app.ListUserAppointments(r.Context(), identity)
	}
	if err != nil {
		s.writeAppError(w, r, err, "Appointment not found", "Error fetching appointments")
		return
	}
	if list == nil {
		list = []domain.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

func (s *Server) handleAppointmentStatus(w http.ResponseWriter, r *http.Request, identity domain.Identity, id string) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	appt, err := s.app.UpdateAppointmentStatus(r.Context(), identity, id, req.Status, req.SelectedAppointment)
	if err != nil {
		s.writeAppError(w, r, err, "Appointment not found", "Error updating appointment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Appointment " + string(appt.Status),
		"appointment": appt,
	})
}

func (s *Server) handleContactRequest(w http.ResponseWriter, r *http.Request, identity domain.Identity, id string) {
	var req contactRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	appt, err := s.app.RequestContact(r.Context(), identity, id, req.RequestType)
	if err != nil {
		s.writeAppError(w, r, err, "Appointment not found", "Error requesting contact")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Contact request sent to property owner",
		"appointment": appt,
	})
}

func (s *Server) handleShareContact(w http.ResponseWriter, r *http.Request, identity domain.Identity, id string) {
	appt, err := s.app.ShareContact(r.Context(), identity, id)
	if err != nil {
		s.writeAppError(w, r, err, "Appointment not found", "Error sharing contact")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Contact information shared with user",
		"appointment": appt,
	})
}

func (s *Server) handleMigrateRoles(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if !identity.Admin {
		s.audit(r, "api.admin.authorize", "fail", "email", identity.Email, "reason", "forbidden")
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	s.audit(r, "api.admin.authorize", "success", "email", identity.Email)
	report, err := s.app.BackfillRoles(r.Context(), identity)
	if err != nil {
		s.writeAppError(w, r, err, "Appointment not found", "Error migrating appointment roles")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

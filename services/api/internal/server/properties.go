package server

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"realestate360/pkg/domain"
	"realestate360/services/api/internal/app"
)

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	props, err := s.app.ListProperties(r.Context())
	if err != nil {
		s.writeAppError(w, r, err, "Property not found", "Failed to fetch properties")
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (s *Server) handlePropertyByID(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/properties/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "route not found")
		return
	}
	id := parts[0]
	switch r.Method {
	case http.MethodGet:
		prop, err := s.app.GetProperty(r.Context(), id)
		if err != nil {
			s.writeAppError(w, r, err, "Property not found", "Failed to fetch property")
			return
		}
		writeJSON(w, http.StatusOK, prop)
	case http.MethodPut:
		s.authenticated(func(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
			s.handleUpdateProperty(w, r, identity, id)
		}).ServeHTTP(w, r)
	case http.MethodDelete:
		s.authenticated(func(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
			if err := s.app.DeleteProperty(r.Context(), identity, id); err != nil {
				s.writeAppError(w, r, err, "Property not found", "Failed to delete property")
				return
			}
			s.audit(r, "api.property.delete", "success", "email", identity.Email, "property_id", id)
			writeJSON(w, http.StatusOK, messageResponse("Property deleted successfully"))
		}).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request, identity domain.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.parseMultipart(w, r) {
		return
	}
	fields, err := propertyFields(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	images, closeAll, err := openImages(r.MultipartForm)
	defer closeAll()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prop, err := s.app.CreateProperty(r.Context(), identity, fields, images)
	if err != nil {
		s.writeAppError(w, r, err, "Property not found", "Failed to upload property")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "Property uploaded successfully",
		"property": prop,
	})
}

func (s *Server) handleUpdateProperty(w http.ResponseWriter, r *http.Request, identity domain.Identity, id string) {
	if !s.parseMultipart(w, r) {
		return
	}
	fields, err := propertyFields(r.MultipartForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var retained []string
	if raw, ok := r.MultipartForm.Value["existingImages"]; ok && len(raw) > 0 {
		retained = []string{}
		if strings.TrimSpace(raw[0]) != "" {
			if err := json.Unmarshal([]byte(raw[0]), &retained); err != nil {
				writeError(w, http.StatusBadRequest, "existingImages must be a JSON list of image URLs")
				return
			}
		}
	}
	images, closeAll, err := openImages(r.MultipartForm)
	defer closeAll()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prop, err := s.app.UpdateProperty(r.Context(), identity, id, app.PropertyUpdate{
		Fields:    fields,
		NewImages: images,
		Retained:  retained,
	})
	if err != nil {
		s.writeAppError(w, r, err, "Property not found", "Failed to update property")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Property updated successfully",
		"property": prop,
	})
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return false
	}
	return true
}

func propertyFields(form *multipart.Form) (app.PropertyFields, error) {
	value := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	count := func(name string) (int, error) {
		raw := value(name)
		if raw == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, errors.New(name + " must be a whole number")
		}
		return n, nil
	}
	f := app.PropertyFields{
		Name:           value("name"),
		Description:    value("description"),
		Price:          value("price"),
		Location:       value("location"),
		PropertyType:   domain.PropertyType(value("propertyType")),
		Area:           value("area"),
		LandArea:       value("landArea"),
		LandType:       value("landType"),
		LegalClearance: value("legalClearance"),
	}
	var err error
	if f.Bedrooms, err = count("bedrooms"); err != nil {
		return f, err
	}
	if f.Bathrooms, err = count("bathrooms"); err != nil {
		return f, err
	}
	if raw := value("coordinates"); raw != "" {
		var c domain.Coordinates
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return f, errors.New("coordinates must be a JSON object with lat and lng")
		}
		f.Coordinates = &c
	}
	return f, nil
}

// openImages opens every uploaded "images" part. The returned func closes
// whatever was opened and is safe to call on error.
func openImages(form *multipart.Form) ([]app.Upload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	headers := form.File["images"]
	if len(headers) > app.MaxPropertyImages {
		return nil, closeAll, errors.New("too many images")
	}
	uploads := make([]app.Upload, 0, len(headers))
	for _, h := range headers {
		contentType := h.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			return nil, closeAll, errors.New("only image uploads are allowed")
		}
		f, err := h.Open()
		if err != nil {
			return nil, closeAll, errors.New("unreadable image upload")
		}
		opened = append(opened, f)
		uploads = append(uploads, app.Upload{
			Filename:    h.Filename,
			ContentType: contentType,
			Size:        h.Size,
			Body:        f,
		})
	}
	return uploads, closeAll, nil
}

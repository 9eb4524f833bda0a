package app

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"realestate360/pkg/domain"
)

const (
	propertiesPrefix       = "properties/"
	propertyImagesPrefix   = "properties/images/"
	profilesPrefix         = "profiles/"
	profileImagesPrefix    = "profiles/images/"
	userAppointmentsPrefix = "appointments/user/"
	ownerAppointmentsRoot  = "appointments/owner/"
	feedbackPrefix         = "feedback/"
	jsonSuffix             = ".json"
)

func propertyKey(id string) string { return propertiesPrefix + id + jsonSuffix }

// propertyImagePrefix matches every image of one property and nothing else.
func propertyImagePrefix(id string) string { return propertyImagesPrefix + id + "-" }

func propertyImageKey(id string, parts ...any) string {
	var b strings.Builder
	b.WriteString(propertyImagePrefix(id))
	for _, p := range parts {
		fmt.Fprint(&b, p)
		b.WriteByte('-')
	}
	return strings.TrimSuffix(b.String(), "-")
}

func profileKey(email string) string { return profilesPrefix + email + jsonSuffix }

func avatarKey(email string) string { return profileImagesPrefix + email + ".jpg" }

func appointmentPrefix(role domain.CopyRole, email string) string {
	if role == domain.RoleOwner {
		return ownerAppointmentsRoot + email + "/"
	}
	return userAppointmentsPrefix + email + "/"
}

func appointmentKey(role domain.CopyRole, email, id string) string {
	return appointmentPrefix(role, email) + id + jsonSuffix
}

func feedbackKey(id string) string { return feedbackPrefix + id + jsonSuffix }

// idFromKey returns the record id of a "<prefix>/<id>.json" key.
func idFromKey(key string) string {
	return strings.TrimSuffix(path.Base(key), jsonSuffix)
}

// validID rejects ids that would escape their key template.
func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return !strings.ContainsAny(id, "/\\") && id != "." && id != ".."
}

// cleanFilename keeps the client's base name with whitespace runs collapsed
// to '-' and control or path characters dropped.
func cleanFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = strings.Join(strings.Fields(name), "-")
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "image"
	}
	return name
}

package app

import (
	"fmt"

	"realestate360/pkg/domain"
)

type resourceKind string

const (
	kindProperty         resourceKind = "property"
	kindAppointmentUser  resourceKind = "appointment requester copy"
	kindAppointmentOwner resourceKind = "appointment owner copy"
	kindProfile          resourceKind = "profile"
	kindFeedbackInbox    resourceKind = "feedback inbox"
	kindRoleBackfill     resourceKind = "appointment role backfill"
)

// authorize is the single ownership gate for every mutation: actor must be
// the recorded owner of the resource.
func authorize(actor domain.Identity, kind resourceKind, owner string) error {
	email := domain.NormalizeEmail(actor.Email)
	if email == "" || email != domain.NormalizeEmail(owner) {
		return fmt.Errorf("%s: %w", kind, ErrForbidden)
	}
	return nil
}

// authorizeAdmin gates privileged sweeps and inboxes.
func authorizeAdmin(actor domain.Identity, kind resourceKind) error {
	if !actor.Admin {
		return fmt.Errorf("%s: %w", kind, ErrForbidden)
	}
	return nil
}

// Package events publishes appointment lifecycle notifications for
// downstream consumers such as mailers. Delivery is best effort.
package events

import (
	"context"
	"time"
)

const (
	AppointmentCreated          = "appointment.created"
	AppointmentStatusChanged    = "appointment.status_changed"
	AppointmentContactRequested = "appointment.contact_requested"
	AppointmentContactShared    = "appointment.contact_shared"
)

// Event is one lifecycle notification.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	AppointmentID string    `json:"appointmentId"`
	PropertyID    string    `json:"propertyId,omitempty"`
	UserEmail     string    `json:"userEmail"`
	OwnerEmail    string    `json:"ownerEmail"`
	Status        string    `json:"status,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

package domain

import (
	"strings"
	"time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusRejected  AppointmentStatus = "rejected"
	StatusCancelled AppointmentStatus = "cancelled"
)

// CopyRole tags which side of an appointment pair a stored record belongs to.
type CopyRole string

const (
	RoleUser  CopyRole = "user"
	RoleOwner CopyRole = "owner"
)

type PropertyType string

const (
	PropertyFlat PropertyType = "flat"
	PropertyLand PropertyType = "land"
)

type ContactKind string

const (
	ContactPhone    ContactKind = "phone"
	ContactCallback ContactKind = "callback"
)

// Identity is the caller resolved from a verified bearer token.
type Identity struct {
	Email   string `json:"email"`
	Subject string `json:"sub"`
	Admin   bool   `json:"admin"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Property struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	Price          string       `json:"price"`
	Location       string       `json:"location"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
	PropertyType   PropertyType `json:"propertyType,omitempty"`
	Area           string       `json:"area,omitempty"`
	Bedrooms       int          `json:"bedrooms,omitempty"`
	Bathrooms      int          `json:"bathrooms,omitempty"`
	LandArea       string       `json:"landArea,omitempty"`
	LandType       string       `json:"landType,omitempty"`
	LegalClearance string       `json:"legalClearance,omitempty"`
	Images         []string     `json:"images"`
	OwnerEmail     string       `json:"ownerEmail"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// PropertySnapshot is the slice of a property copied into an appointment.
type PropertySnapshot struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	OwnerEmail string `json:"ownerEmail"`
}

type Slot struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Formatted string `json:"formatted"`
}

type Appointment struct {
	ID                  string            `json:"id"`
	Property            PropertySnapshot  `json:"property"`
	Appointments        []Slot            `json:"appointments"`
	Message             string            `json:"message"`
	UserEmail           string            `json:"userEmail"`
	OwnerEmail          string            `json:"ownerEmail"`
	UserProfile         *Profile          `json:"userProfile,omitempty"`
	Status              AppointmentStatus `json:"status"`
	Role                CopyRole          `json:"role"`
	SelectedAppointment *Slot             `json:"selectedAppointment,omitempty"`
	ContactRequested    bool              `json:"contactRequested,omitempty"`
	ContactRequestType  ContactKind       `json:"contactRequestType,omitempty"`
	ContactRequestedAt  *time.Time        `json:"contactRequestedAt,omitempty"`
	ContactInfoShared   bool              `json:"contactInfoShared,omitempty"`
	ContactInfoSharedAt *time.Time        `json:"contactInfoSharedAt,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

type Profile struct {
	FullName     string     `json:"fullName"`
	Phone        string     `json:"phone"`
	Address      string     `json:"address"`
	Occupation   string     `json:"occupation"`
	Bio          string     `json:"bio"`
	ProfileImage *string    `json:"profileImage"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

type Feedback struct {
	ID             string    `json:"id"`
	Feedback       string    `json:"feedback"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Rating         int       `json:"rating"`
	SelectedTopics []string  `json:"selectedTopics"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ROI struct {
	TotalGrowth     float64 `json:"totalGrowth"`
	AnnualizedROI   float64 `json:"annualizedROI"`
	QuarterlyGrowth float64 `json:"quarterlyGrowth"`
}

type Estimate struct {
	CurrentPrice        float64            `json:"currentPrice"`
	FutureProjections   []float64          `json:"futureProjections"`
	Projections         map[string]float64 `json:"projections"`
	ROI                 ROI                `json:"roi"`
	QuarterlyGrowthRate float64            `json:"quarterlyGrowthRate"`
	GrowthRateSource    string             `json:"growthRateSource"`
}

// NormalizeEmail is the canonical email form used for identity comparison
// and in storage keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"realestate360/internal/metrics"
	"realestate360/internal/util"
	"realestate360/pkg/domain"
	"realestate360/pkg/events"
	"realestate360/pkg/storage"
)

const maxProposedSlots = 3

// allowedTransitions is the appointment state machine. Statuses without an
// entry are terminal.
var allowedTransitions = map[domain.AppointmentStatus][]domain.AppointmentStatus{
	domain.StatusPending:   {domain.StatusConfirmed, domain.StatusRejected, domain.StatusCancelled},
	domain.StatusConfirmed: {domain.StatusCancelled},
}

// CreateAppointmentInput is a requester's booking request.
type CreateAppointmentInput struct {
	Property    domain.PropertySnapshot
	Slots       []domain.Slot
	Message     string
	UserEmail   string
	UserProfile *domain.Profile
}

// MigrationEntry reports what the role backfill did to one stored copy.
type MigrationEntry struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// MigrationReport is the result of BackfillRoles.
type MigrationReport struct {
	Message         string           `json:"message"`
	UserMigrations  []MigrationEntry `json:"userMigrations"`
	OwnerMigrations []MigrationEntry `json:"ownerMigrations"`
}

// CreateAppointment writes the requester copy and then the owner copy of a
// new pending appointment. If the owner copy cannot be written the requester
// copy is removed again.
func (a *App) CreateAppointment(ctx context.Context, actor domain.Identity, in CreateAppointmentInput) (appt domain.Appointment, err error) {
	defer func() { metrics.RecordAppointmentMutation("create", err) }()

	userEmail := domain.NormalizeEmail(in.UserEmail)
	if err := authorize(actor, kindAppointmentUser, userEmail); err != nil {
		return domain.Appointment{}, err
	}
	propertyID := strings.TrimSpace(in.Property.ID)
	if !validID(propertyID) {
		return domain.Appointment{}, invalid("property id is required")
	}
	ownerEmail := domain.NormalizeEmail(in.Property.OwnerEmail)
	if ownerEmail == "" {
		return domain.Appointment{}, invalid("property ownerEmail is required")
	}
	slots, err := normalizeSlots(in.Slots)
	if err != nil {
		return domain.Appointment{}, err
	}
	profile := in.UserProfile
	if profile == nil {
		stored, err := a.profileFor(ctx, userEmail)
		if err != nil {
			return domain.Appointment{}, err
		}
		profile = &stored
	}

	now := a.now()
	appt = domain.Appointment{
		ID: util.NewID(),
		Property: domain.PropertySnapshot{
			ID:         propertyID,
			Name:       strings.TrimSpace(in.Property.Name),
			Location:   strings.TrimSpace(in.Property.Location),
			OwnerEmail: ownerEmail,
		},
		Appointments: slots,
		Message:      strings.TrimSpace(in.Message),
		UserEmail:    userEmail,
		OwnerEmail:   ownerEmail,
		UserProfile:  profile,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	userKey := appointmentKey(domain.RoleUser, userEmail, appt.ID)
	ownerKey := appointmentKey(domain.RoleOwner, ownerEmail, appt.ID)

	userCopy := withRole(appt, domain.RoleUser)
	if err := storage.PutJSON(ctx, a.objects, userKey, userCopy); err != nil {
		return domain.Appointment{}, fmt.Errorf("save requester copy: %w", err)
	}
	if err := storage.PutJSON(ctx, a.objects, ownerKey, withRole(appt, domain.RoleOwner)); err != nil {
		if delErr := a.objects.Delete(context.WithoutCancel(ctx), userKey); delErr != nil {
			util.LoggerFromContext(ctx).Error("appointment create compensation failed", "key", userKey, "err", delErr)
		}
		return domain.Appointment{}, fmt.Errorf("save owner copy: %w", err)
	}
	a.publish(ctx, events.AppointmentCreated, userCopy, "")
	return userCopy, nil
}

// ListUserAppointments returns the caller's requester copies, newest first.
func (a *App) ListUserAppointments(ctx context.Context, actor domain.Identity) ([]domain.Appointment, error) {
	return a.listAppointments(ctx, actor, domain.RoleUser)
}

// ListOwnerAppointments returns the caller's owner copies, newest first.
func (a *App) ListOwnerAppointments(ctx context.Context, actor domain.Identity) ([]domain.Appointment, error) {
	return a.listAppointments(ctx, actor, domain.RoleOwner)
}

func (a *App) listAppointments(ctx context.Context, actor domain.Identity, role domain.CopyRole) ([]domain.Appointment, error) {
	email := domain.NormalizeEmail(actor.Email)
	if email == "" {
		return nil, ErrForbidden
	}
	keys, err := a.listJSONKeys(ctx, appointmentPrefix(role, email), true)
	if err != nil {
		return nil, err
	}
	items, err := fetchAll[domain.Appointment](ctx, a, keys)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	for i := range items {
		if items[i].Role == "" {
			items[i].Role = role
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

// UpdateAppointmentStatus applies a requester cancellation or an owner
// confirmation or rejection to both copies. selected is only honoured when
// confirming and must be one of the proposed slots.
func (a *App) UpdateAppointmentStatus(ctx context.Context, actor domain.Identity, id, status string, selected *domain.Slot) (domain.Appointment, error) {
	target := domain.AppointmentStatus(strings.ToLower(strings.TrimSpace(status)))
	switch target {
	case domain.StatusCancelled:
		return a.mutatePair(ctx, actor, id, domain.RoleUser, "cancel", events.AppointmentStatusChanged,
			func(appt *domain.Appointment, _ time.Time) error {
				if err := checkTransition(appt.Status, target); err != nil {
					return err
				}
				appt.Status = target
				return nil
			})
	case domain.StatusConfirmed, domain.StatusRejected:
		return a.mutatePair(ctx, actor, id, domain.RoleOwner, string(target), events.AppointmentStatusChanged,
			func(appt *domain.Appointment, _ time.Time) error {
				if err := checkTransition(appt.Status, target); err != nil {
					return err
				}
				if target == domain.StatusConfirmed && selected != nil {
					slot, ok := matchSlot(appt.Appointments, *selected)
					if !ok {
						return invalid("selected appointment is not one of the proposed slots")
					}
					appt.SelectedAppointment = &slot
				}
				appt.Status = target
				return nil
			})
	default:
		return domain.Appointment{}, invalid("Invalid status update request")
	}
}

// RequestContact records on both copies that the requester asked for the
// owner's contact details.
func (a *App) RequestContact(ctx context.Context, actor domain.Identity, id, requestType string) (domain.Appointment, error) {
	kind := domain.ContactKind(strings.ToLower(strings.TrimSpace(requestType)))
	if kind == "" {
		kind = domain.ContactPhone
	}
	if kind != domain.ContactPhone && kind != domain.ContactCallback {
		return domain.Appointment{}, invalid("requestType must be phone or callback")
	}
	return a.mutatePair(ctx, actor, id, domain.RoleUser, "contact_request", events.AppointmentContactRequested,
		func(appt *domain.Appointment, now time.Time) error {
			appt.ContactRequested = true
			appt.ContactRequestType = kind
			appt.ContactRequestedAt = &now
			return nil
		})
}

// ShareContact records on both copies that the owner shared contact details.
func (a *App) ShareContact(ctx context.Context, actor domain.Identity, id string) (domain.Appointment, error) {
	return a.mutatePair(ctx, actor, id, domain.RoleOwner, "share_contact", events.AppointmentContactShared,
		func(appt *domain.Appointment, now time.Time) error {
			appt.ContactInfoShared = true
			appt.ContactInfoSharedAt = &now
			return nil
		})
}

type pairMutation func(appt *domain.Appointment, now time.Time) error

// mutatePair loads the caller's copy on side, applies mutate and writes both
// copies under the appointment lock. A failed second write restores the first
// copy to its previous bytes.
func (a *App) mutatePair(ctx context.Context, actor domain.Identity, id string, side domain.CopyRole, action, eventType string, mutate pairMutation) (out domain.Appointment, err error) {
	defer func() { metrics.RecordAppointmentMutation(action, err) }()

	if !validID(id) {
		return out, fmt.Errorf("appointment %q: %w", id, ErrNotFound)
	}
	email := domain.NormalizeEmail(actor.Email)
	if email == "" {
		return out, ErrForbidden
	}
	kind, other := kindAppointmentUser, domain.RoleOwner
	if side == domain.RoleOwner {
		kind, other = kindAppointmentOwner, domain.RoleUser
	}

	release, err := a.locks.Lock(ctx, "appointment:"+id)
	if err != nil {
		return out, fmt.Errorf("lock appointment %s: %w", id, err)
	}
	defer release()

	primaryKey := appointmentKey(side, email, id)
	var primary domain.Appointment
	primaryRaw, err := a.loadJSON(ctx, primaryKey, &primary)
	if errors.Is(err, ErrNotFound) {
		// Holding the other side of the pair means the action belongs to the counterpart.
		if held, herr := a.exists(ctx, appointmentKey(other, email, id)); herr == nil && held {
			return out, fmt.Errorf("%s: %w", kind, ErrForbidden)
		}
		return out, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return out, err
	}

	recorded, counterpart := primary.UserEmail, primary.OwnerEmail
	if side == domain.RoleOwner {
		recorded, counterpart = primary.OwnerEmail, primary.UserEmail
	}
	if err := authorize(actor, kind, recorded); err != nil {
		return out, err
	}
	pairedKey := appointmentKey(other, domain.NormalizeEmail(counterpart), id)
	paired, err := a.exists(ctx, pairedKey)
	if err != nil {
		return out, err
	}
	if !paired {
		return out, fmt.Errorf("paired copy of appointment %s: %w", id, ErrNotFound)
	}

	now := a.now()
	updated := primary
	if err := mutate(&updated, now); err != nil {
		return out, err
	}
	updated.UpdatedAt = now
	mine := withRole(updated, side)

	if err := storage.PutJSON(ctx, a.objects, primaryKey, mine); err != nil {
		return out, fmt.Errorf("save %s: %w", kind, err)
	}
	if err := storage.PutJSON(ctx, a.objects, pairedKey, withRole(updated, other)); err != nil {
		a.restore(ctx, primaryKey, primaryRaw)
		return out, fmt.Errorf("save paired copy of appointment %s: %w", id, err)
	}
	a.publish(ctx, eventType, mine, action)
	return mine, nil
}

func (a *App) restore(ctx context.Context, key string, raw []byte) {
	ctx = context.WithoutCancel(ctx)
	if err := a.objects.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), "application/json"); err != nil {
		util.LoggerFromContext(ctx).Error("appointment compensation failed, copies may diverge", "key", key, "err", err)
	}
}

// BackfillRoles tags every stored copy that lacks a role with the role
// implied by its prefix. Unknown fields are preserved. Safe to re-run.
func (a *App) BackfillRoles(ctx context.Context, actor domain.Identity) (MigrationReport, error) {
	if err := authorizeAdmin(actor, kindRoleBackfill); err != nil {
		return MigrationReport{}, err
	}
	userEntries, err := a.backfillPrefix(ctx, userAppointmentsPrefix, domain.RoleUser)
	if err != nil {
		return MigrationReport{}, err
	}
	ownerEntries, err := a.backfillPrefix(ctx, ownerAppointmentsRoot, domain.RoleOwner)
	if err != nil {
		return MigrationReport{}, err
	}
	util.LoggerFromContext(ctx).Info("appointment role backfill finished",
		"user_records", len(userEntries), "owner_records", len(ownerEntries))
	return MigrationReport{
		Message:         "Migration completed",
		UserMigrations:  userEntries,
		OwnerMigrations: ownerEntries,
	}, nil
}

func (a *App) backfillPrefix(ctx context.Context, prefix string, role domain.CopyRole) ([]MigrationEntry, error) {
	keys, err := a.listJSONKeys(ctx, prefix, false)
	if err != nil {
		return nil, err
	}
	entries := make([]MigrationEntry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, a.backfillOne(ctx, key, role))
	}
	return entries, nil
}

func (a *App) backfillOne(ctx context.Context, key string, role domain.CopyRole) MigrationEntry {
	entry := MigrationEntry{Key: key}
	fail := func(err error) MigrationEntry {
		entry.Status = "error"
		entry.Error = err.Error()
		return entry
	}
	release, err := a.locks.Lock(ctx, "appointment:"+idFromKey(key))
	if err != nil {
		return fail(err)
	}
	defer release()

	data, err := a.objects.Get(ctx, key)
	if err != nil {
		return fail(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail(fmt.Errorf("decode: %w", err))
	}
	if raw, ok := doc["role"]; ok {
		var existing string
		if json.Unmarshal(raw, &existing) == nil && existing != "" {
			entry.Status = "skipped"
			return entry
		}
	}
	doc["role"], _ = json.Marshal(role)
	patched, err := json.Marshal(doc)
	if err != nil {
		return fail(err)
	}
	if err := a.objects.Put(ctx, key, bytes.NewReader(patched), int64(len(patched)), "application/json"); err != nil {
		return fail(err)
	}
	entry.Status = "updated"
	return entry
}

// Related reports whether some appointment links x and y in either direction.
func (a *App) Related(ctx context.Context, x, y string) (bool, error) {
	x, y = domain.NormalizeEmail(x), domain.NormalizeEmail(y)
	if x == "" || y == "" {
		return false, nil
	}
	for _, pair := range [][2]string{{x, y}, {y, x}} {
		requested, err := a.appointmentIDs(ctx, domain.RoleUser, pair[0])
		if err != nil {
			return false, err
		}
		if len(requested) == 0 {
			continue
		}
		owned, err := a.appointmentIDs(ctx, domain.RoleOwner, pair[1])
		if err != nil {
			return false, err
		}
		for id := range requested {
			if _, ok := owned[id]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func (a *App) appointmentIDs(ctx context.Context, role domain.CopyRole, email string) (map[string]struct{}, error) {
	keys, err := a.listJSONKeys(ctx, appointmentPrefix(role, email), true)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		ids[idFromKey(key)] = struct{}{}
	}
	return ids, nil
}

func (a *App) publish(ctx context.Context, eventType string, appt domain.Appointment, detail string) {
	evt := events.Event{
		ID:            util.NewID(),
		Type:          eventType,
		AppointmentID: appt.ID,
		PropertyID:    appt.Property.ID,
		UserEmail:     appt.UserEmail,
		OwnerEmail:    appt.OwnerEmail,
		Status:        string(appt.Status),
		Detail:        detail,
		OccurredAt:    a.now(),
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := a.events.Publish(pctx, evt); err != nil {
		util.LoggerFromContext(ctx).Warn("publish appointment event failed",
			"type", eventType, "appointment_id", appt.ID, "err", err)
	}
}

func checkTransition(from, to domain.AppointmentStatus) error {
	if from == "" {
		from = domain.StatusPending
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

func normalizeSlots(in []domain.Slot) ([]domain.Slot, error) {
	if len(in) == 0 || len(in) > maxProposedSlots {
		return nil, invalid("between 1 and %d appointment slots are required", maxProposedSlots)
	}
	out := make([]domain.Slot, 0, len(in))
	for i, s := range in {
		s.Date = strings.TrimSpace(s.Date)
		s.Time = strings.TrimSpace(s.Time)
		if s.Date == "" || s.Time == "" {
			return nil, invalid("appointment slot %d needs a date and a time", i+1)
		}
		s.Formatted = strings.TrimSpace(s.Formatted)
		if s.Formatted == "" {
			s.Formatted = s.Date + " at " + s.Time
		}
		out = append(out, s)
	}
	return out, nil
}

func matchSlot(proposed []domain.Slot, want domain.Slot) (domain.Slot, bool) {
	date, clock := strings.TrimSpace(want.Date), strings.TrimSpace(want.Time)
	for _, s := range proposed {
		if s.Date == date && s.Time == clock {
			return s, true
		}
	}
	return domain.Slot{}, false
}

func withRole(appt domain.Appointment, role domain.CopyRole) domain.Appointment {
	appt.Role = role
	return appt
}

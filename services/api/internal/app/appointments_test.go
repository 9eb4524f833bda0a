package app

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"realestate360/pkg/domain"
	"realestate360/pkg/storage"
)

func bookingInput(userEmail, ownerEmail string) CreateAppointmentInput {
	return CreateAppointmentInput{
		Property: domain.PropertySnapshot{ID: "p1", Name: "Lake View", Location: "Pune", OwnerEmail: ownerEmail},
		Slots: []domain.Slot{
			{Date: "2024-03-10", Time: "10:00"},
			{Date: "2024-03-11", Time: "15:30", Formatted: "Mon 11 Mar, 3:30 PM"},
		},
		Message:   "Is parking included?",
		UserEmail: userEmail,
	}
}

func book(t *testing.T, a *App) domain.Appointment {
	t.Helper()
	appt, err := a.CreateAppointment(context.Background(), user("u@x.com"), bookingInput("u@x.com", "o@x.com"))
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return appt
}

func loadCopy(t *testing.T, s storage.ObjectStore, role domain.CopyRole, email, id string) domain.Appointment {
	t.Helper()
	var appt domain.Appointment
	if err := storage.GetJSON(context.Background(), s, appointmentKey(role, email, id), &appt); err != nil {
		t.Fatalf("load %s copy: %v", role, err)
	}
	return appt
}

// assertPair checks that the two copies differ only in role.
func assertPair(t *testing.T, s storage.ObjectStore, id string) (domain.Appointment, domain.Appointment) {
	t.Helper()
	u := loadCopy(t, s, domain.RoleUser, "u@x.com", id)
	o := loadCopy(t, s, domain.RoleOwner, "o@x.com", id)
	if u.Role != domain.RoleUser || o.Role != domain.RoleOwner {
		t.Fatalf("roles = %q/%q", u.Role, o.Role)
	}
	uu, oo := u, o
	uu.Role, oo.Role = "", ""
	if !reflect.DeepEqual(uu, oo) {
		t.Fatalf("copies diverged:\nuser  %+v\nowner %+v", uu, oo)
	}
	return u, o
}

func TestAppointmentLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	a, store := newTestApp(t)

	created, err := a.CreateAppointment(ctx, user("U@x.com"), bookingInput(" u@X.com", "O@x.com"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != domain.StatusPending || created.Role != domain.RoleUser {
		t.Fatalf("unexpected created record: %+v", created)
	}
	if created.Appointments[0].Formatted != "2024-03-10 at 10:00" {
		t.Fatalf("formatted = %q", created.Appointments[0].Formatted)
	}
	if created.UserProfile == nil || created.UserProfile.ProfileImage != nil {
		t.Fatalf("expected default profile snapshot, got %+v", created.UserProfile)
	}
	assertPair(t, store, created.ID)

	mine, err := a.ListUserAppointments(ctx, user("u@x.com"))
	if err != nil || len(mine) != 1 || mine[0].ID != created.ID {
		t.Fatalf("user list = %+v, err=%v", mine, err)
	}
	incoming, err := a.ListOwnerAppointments(ctx, user("o@x.com"))
	if err != nil || len(incoming) != 1 || incoming[0].Role != domain.RoleOwner {
		t.Fatalf("owner list = %+v, err=%v", incoming, err)
	}

	confirmed, err := a.UpdateAppointmentStatus(ctx, user("o@x.com"), created.ID, "confirmed",
		&domain.Slot{Date: "2024-03-11", Time: "15:30"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Role != domain.RoleOwner || confirmed.SelectedAppointment == nil ||
		confirmed.SelectedAppointment.Formatted != "Mon 11 Mar, 3:30 PM" {
		t.Fatalf("unexpected confirmed record: %+v", confirmed)
	}
	u, _ := assertPair(t, store, created.ID)
	if u.Status != domain.StatusConfirmed {
		t.Fatalf("requester copy status = %q", u.Status)
	}

	if _, err := a.RequestContact(ctx, user("u@x.com"), created.ID, "callback"); err != nil {
		t.Fatalf("request contact: %v", err)
	}
	if _, err := a.ShareContact(ctx, user("o@x.com"), created.ID); err != nil {
		t.Fatalf("share contact: %v", err)
	}
	u, o := assertPair(t, store, created.ID)
	if !o.ContactRequested || o.ContactRequestType != domain.ContactCallback || o.ContactRequestedAt == nil {
		t.Fatalf("contact request missing on owner copy: %+v", o)
	}
	if !u.ContactInfoShared || u.ContactInfoSharedAt == nil {
		t.Fatalf("contact share missing on requester copy: %+v", u)
	}

	cancelled, err := a.UpdateAppointmentStatus(ctx, user("u@x.com"), created.ID, "cancelled", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status = %q", cancelled.Status)
	}
	assertPair(t, store, created.ID)

	if _, err := a.UpdateAppointmentStatus(ctx, user("u@x.com"), created.ID, "cancelled", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-cancel, got %v", err)
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	slot := domain.Slot{Date: "2024-03-10", Time: "10:00"}
	cases := []struct {
		name   string
		actor  string
		mutate func(*CreateAppointmentInput)
		want   error
	}{
		{"other requester", "z@x.com", func(*CreateAppointmentInput) {}, ErrForbidden},
		{"empty user email", "u@x.com", func(in *CreateAppointmentInput) { in.UserEmail = "" }, ErrForbidden},
		{"no slots", "u@x.com", func(in *CreateAppointmentInput) { in.Slots = nil }, ErrValidation},
		{"four slots", "u@x.com", func(in *CreateAppointmentInput) { in.Slots = []domain.Slot{slot, slot, slot, slot} }, ErrValidation},
		{"slot without time", "u@x.com", func(in *CreateAppointmentInput) { in.Slots = []domain.Slot{{Date: "2024-03-10"}} }, ErrValidation},
		{"missing owner", "u@x.com", func(in *CreateAppointmentInput) { in.Property.OwnerEmail = " " }, ErrValidation},
		{"missing property", "u@x.com", func(in *CreateAppointmentInput) { in.Property.ID = "" }, ErrValidation},
		{"three slots", "u@x.com", func(in *CreateAppointmentInput) { in.Slots = []domain.Slot{slot, slot, slot} }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, store := newTestApp(t)
			in := bookingInput("u@x.com", "o@x.com")
			tc.mutate(&in)
			_, err := a.CreateAppointment(context.Background(), user(tc.actor), in)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if items, _ := store.List(context.Background(), "appointments/"); len(items) != 0 {
				t.Fatalf("rejected create wrote %d objects", len(items))
			}
		})
	}
}

func TestRoleEnforcementLeavesRecordsUnchanged(t *testing.T) {
	ctx := context.Background()
	a, store := newTestApp(t)
	appt := book(t, a)
	userKey := appointmentKey(domain.RoleUser, "u@x.com", appt.ID)
	ownerKey := appointmentKey(domain.RoleOwner, "o@x.com", appt.ID)
	beforeUser, beforeOwner := rawObject(t, store, userKey), rawObject(t, store, ownerKey)

	cases := []struct {
		name string
		call func() error
		want error
	}{
		{"requester confirms", func() error {
			_, err := a.UpdateAppointmentStatus(ctx, user("u@x.com"), appt.ID, "confirmed", nil)
			return err
		}, ErrForbidden},
		{"owner cancels", func() error {
			_, err := a.UpdateAppointmentStatus(ctx, user("o@x.com"), appt.ID, "cancelled", nil)
			return err
		}, ErrForbidden},
		{"stranger cancels", func() error {
			_, err := a.UpdateAppointmentStatus(ctx, user("s@x.com"), appt.ID, "cancelled", nil)
			return err
		}, ErrNotFound},
		{"owner requests contact", func() error {
			_, err := a.RequestContact(ctx, user("o@x.com"), appt.ID, "phone")
			return err
		}, ErrForbidden},
		{"requester shares contact", func() error {
			_, err := a.ShareContact(ctx, user("u@x.com"), appt.ID)
			return err
		}, ErrForbidden},
		{"unknown slot", func() error {
			_, err := a.UpdateAppointmentStatus(ctx, user("o@x.com"), appt.ID, "confirmed", &domain.Slot{Date: "2030-01-01", Time: "09:00"})
			return err
		}, ErrValidation},
		{"unknown status", func() error {
			_, err := a.UpdateAppointmentStatus(ctx, user("o@x.com"), appt.ID, "archived", nil)
			return err
		}, ErrValidation},
		{"bad contact kind", func() error {
			_, err := a.RequestContact(ctx, user("u@x.com"), appt.ID, "carrier-pigeon")
			return err
		}, ErrValidation},
		{"unknown id", func() error {
			_, err := a.UpdateAppointmentStatus(ctx, user("u@x.com"), "missing", "cancelled", nil)
			return err
		}, ErrNotFound},
		{"path id", func() error {
			_, err := a.UpdateAppointmentStatus(ctx, user("u@x.com"), "../x", "cancelled", nil)
			return err
		}, ErrNotFound},
	}
	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
	if rawObject(t, store, userKey) != beforeUser || rawObject(t, store, ownerKey) != beforeOwner {
		t.Fatalf("rejected mutations changed stored copies")
	}
}

func TestTerminalStatusesRejectTransitions(t *testing.T) {
	ctx := context.Background()
	a, store := newTestApp(t)
	appt := book(t, a)

	if _, err := a.UpdateAppointmentStatus(ctx, user("o@x.com"), appt.ID, "REJECTED", nil); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := a.UpdateAppointmentStatus(ctx, user("o@x.com"), appt.ID, "confirmed", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirm after reject: %v", err)
	}
	if _, err := a.UpdateAppointmentStatus(ctx, user("u@x.com"), appt.ID, "cancelled", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel after reject: %v", err)
	}
	u, _ := assertPair(t, store, appt.ID)
	if u.Status != domain.StatusRejected {
		t.Fatalf("status = %q", u.Status)
	}
}

func TestCreateRemovesRequesterCopyWhenOwnerCopyFails(t *testing.T) {
	ctx := context.Background()
	a, store := newTestApp(t)
	store.arm(func(key string) bool { return strings.HasPrefix(key, ownerAppointmentsRoot) })

	if _, err := a.CreateAppointment(ctx, user("u@x.com"), bookingInput("u@x.com", "o@x.com")); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	items, err := store.List(ctx, "appointments/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no stored copies after compensation, got %+v", items)
	}
}

func TestSecondWriteFailureRestoresFirstCopy(t *testing.T) {
	ctx := context.Background()
	a, store := newTestApp(t)
	appt := book(t, a)
	userKey := appointmentKey(domain.RoleUser, "u@x.com", appt.ID)
	before := rawObject(t, store, userKey)

	store.arm(func(key string) bool { return strings.HasPrefix(key, ownerAppointmentsRoot) })
	if _, err := a.UpdateAppointmentStatus(ctx, user("u@x.com"), appt.ID, "cancelled", nil); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if got := rawObject(t, store, userKey); got != before {
		t.Fatalf("requester copy not restored:\nbefore %s\nafter  %s", before, got)
	}
	assertPair(t, store, appt.ID)

	store.arm(nil)
	if _, err := a.UpdateAppointmentStatus(ctx, user("u@x.com"), appt.ID, "cancelled", nil); err != nil {
		t.Fatalf("cancel after recovery: %v", err)
	}
	assertPair(t, store, appt.ID)
}

func TestConcurrentMutationsKeepCopiesConsistent(t *testing.T) {
	ctx := context.Background()
	a, store := newTestApp(t)
	appt := book(t, a)

	var wg sync.WaitGroup
	calls := []func(){
		func() { _, _ = a.UpdateAppointmentStatus(ctx, user("o@x.com"), appt.ID, "confirmed", nil) },
		func() { _, _ = a.UpdateAppointmentStatus(ctx, user("u@x.com"), appt.ID, "cancelled", nil) },
		func() { _, _ = a.RequestContact(ctx, user("u@x.com"), appt.ID, "") },
		func() { _, _ = a.ShareContact(ctx, user("o@x.com"), appt.ID) },
	}
	for i := 0; i < 5; i++ {
		for _, call := range calls {
			call := call
			wg.Add(1)
			go func() {
				defer wg.Done()
				call()
			}()
		}
	}
	wg.Wait()

	u, _ := assertPair(t, store, appt.ID)
	if u.Status != domain.StatusCancelled {
		t.Fatalf("cancellation must win eventually, status = %q", u.Status)
	}
	if !u.ContactRequested || u.ContactRequestType != domain.ContactPhone || !u.ContactInfoShared {
		t.Fatalf("contact flags lost: %+v", u)
	}
}

func TestBackfillRolesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, store := newTestApp(t)
	seed := map[string]string{
		"appointments/user/u@x.com/a1.json":   `{"id":"a1","status":"pending","legacyField":"keep"}`,
		"appointments/user/u@x.com/a2.json":   `{"id":"a2","status":"pending","role":"user"}`,
		"appointments/owner/o@x.com/a1.json":  `{"id":"a1","status":"pending","legacyField":"keep"}`,
		"appointments/owner/o@x.com/bad.json": `not json`,
	}
	for key, body := range seed {
		if err := store.Put(ctx, key, strings.NewReader(body), int64(len(body)), "application/json"); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	if _, err := a.BackfillRoles(ctx, user("u@x.com")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin backfill: %v", err)
	}

	report, err := a.BackfillRoles(ctx, admin("ops@x.com"))
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if report.Message != "Migration completed" {
		t.Fatalf("message = %q", report.Message)
	}
	statuses := func(entries []MigrationEntry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Status)
		}
		return out
	}
	if got := statuses(report.UserMigrations); !reflect.DeepEqual(got, []string{"updated", "skipped"}) {
		t.Fatalf("user statuses = %v", got)
	}
	if got := statuses(report.OwnerMigrations); !reflect.DeepEqual(got, []string{"updated", "error"}) {
		t.Fatalf("owner statuses = %v", got)
	}
	if report.OwnerMigrations[1].Error == "" {
		t.Fatalf("error entry without message: %+v", report.OwnerMigrations[1])
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(rawObject(t, store, "appointments/owner/o@x.com/a1.json")), &doc); err != nil {
		t.Fatalf("decode patched record: %v", err)
	}
	if doc["role"] != "owner" || doc["legacyField"] != "keep" {
		t.Fatalf("patched record = %v", doc)
	}

	again, err := a.BackfillRoles(ctx, admin("ops@x.com"))
	if err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	for _, e := range append(again.UserMigrations, again.OwnerMigrations...) {
		if e.Status == "updated" {
			t.Fatalf("second run updated %s", e.Key)
		}
	}
}

func TestRelated(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t)
	book(t, a)

	for _, pair := range [][2]string{{"u@x.com", "o@x.com"}, {"O@x.com", "u@x.com"}} {
		ok, err := a.Related(ctx, pair[0], pair[1])
		if err != nil || !ok {
			t.Fatalf("Related(%s, %s) = %v, %v", pair[0], pair[1], ok, err)
		}
	}
	if ok, _ := a.Related(ctx, "u@x.com", "z@x.com"); ok {
		t.Fatalf("unrelated identities reported as related")
	}
}

package app

import (
	"context"
	"errors"
	"testing"
)

func TestSubmitFeedbackValidation(t *testing.T) {
	ctx := context.Background()
	a, store := newTestApp(t)

	if _, err := a.SubmitFeedback(ctx, FeedbackInput{Feedback: "123456789", Rating: 4}); !errors.Is(err, ErrValidation) {
		t.Fatalf("9 chars accepted: %v", err)
	}
	if _, err := a.SubmitFeedback(ctx, FeedbackInput{Feedback: "   short   ", Rating: 4}); !errors.Is(err, ErrValidation) {
		t.Fatalf("padded short feedback accepted: %v", err)
	}
	for _, rating := range []int{0, 6} {
		if _, err := a.SubmitFeedback(ctx, FeedbackInput{Feedback: "Great listings overall", Rating: rating}); !errors.Is(err, ErrValidation) {
			t.Fatalf("rating %d accepted: %v", rating, err)
		}
	}
	if items, _ := store.List(ctx, feedbackPrefix); len(items) != 0 {
		t.Fatalf("rejected feedback stored: %v", items)
	}
}

func TestFeedbackDefaultsAndAdminListing(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t)

	first, err := a.SubmitFeedback(ctx, FeedbackInput{Feedback: "1234567890", Rating: 5, SelectedTopics: []string{"search", " "}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Name != "Anonymous" || first.Email != "No email provided" || len(first.SelectedTopics) != 1 {
		t.Fatalf("defaults not applied: %+v", first)
	}
	second, err := a.SubmitFeedback(ctx, FeedbackInput{Feedback: "Booking flow was smooth", Name: "Asha", Email: "a@x.com", Rating: 4})
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	if _, err := a.ListFeedback(ctx, user("u@x.com")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin list: %v", err)
	}
	items, err := a.ListFeedback(ctx, admin("ops@x.com"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != second.ID || items[1].ID != first.ID {
		t.Fatalf("unexpected listing: %+v", items)
	}
}

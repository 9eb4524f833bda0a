package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"realestate360/internal/util"
	"realestate360/pkg/domain"
	"realestate360/pkg/storage"
)

const minFeedbackRunes = 10

// FeedbackInput is an anonymous or signed visitor submission.
type FeedbackInput struct {
	Feedback       string
	Name           string
	Email          string
	Rating         int
	SelectedTopics []string
}

// SubmitFeedback validates and stores a feedback record.
func (a *App) SubmitFeedback(ctx context.Context, in FeedbackInput) (domain.Feedback, error) {
	text := strings.TrimSpace(in.Feedback)
	if utf8.RuneCountInString(text) < minFeedbackRunes {
		return domain.Feedback{}, invalid("Feedback must be at least %d characters long", minFeedbackRunes)
	}
	if in.Rating < 1 || in.Rating > 5 {
		return domain.Feedback{}, invalid("Rating must be between 1 and 5")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = "Anonymous"
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		email = "No email provided"
	}
	topics := make([]string, 0, len(in.SelectedTopics))
	for _, t := range in.SelectedTopics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	fb := domain.Feedback{
		ID:             util.NewID(),
		Feedback:       text,
		Name:           name,
		Email:          email,
		Rating:         in.Rating,
		SelectedTopics: topics,
		CreatedAt:      a.now(),
	}
	if err := storage.PutJSON(ctx, a.objects, feedbackKey(fb.ID), fb); err != nil {
		return domain.Feedback{}, fmt.Errorf("save feedback: %w", err)
	}
	return fb, nil
}

// ListFeedback returns every submission, newest first. Admin only.
func (a *App) ListFeedback(ctx context.Context, actor domain.Identity) ([]domain.Feedback, error) {
	if err := authorizeAdmin(actor, kindFeedbackInbox); err != nil {
		return nil, err
	}
	keys, err := a.listJSONKeys(ctx, feedbackPrefix, true)
	if err != nil {
		return nil, err
	}
	items, err := fetchAll[domain.Feedback](ctx, a, keys)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

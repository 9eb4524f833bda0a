package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"realestate360/pkg/domain"
	"realestate360/pkg/storage"
)

// MaxAvatarBytes is the largest accepted profile image.
const MaxAvatarBytes = 5 << 20

// ProfileFields replaces the text fields of a profile.
type ProfileFields struct {
	FullName   string
	Phone      string
	Address    string
	Occupation string
	Bio        string
}

// GetProfile returns the caller's profile or the empty default.
func (a *App) GetProfile(ctx context.Context, actor domain.Identity) (domain.Profile, error) {
	email := domain.NormalizeEmail(actor.Email)
	if email == "" {
		return domain.Profile{}, fmt.Errorf("%s: %w", kindProfile, ErrForbidden)
	}
	return a.profileFor(ctx, email)
}

// GetProfileByEmail reads another identity's profile. Allowed for the
// identity itself, admins, and the counterpart of a shared appointment.
func (a *App) GetProfileByEmail(ctx context.Context, actor domain.Identity, email string) (domain.Profile, error) {
	target := domain.NormalizeEmail(email)
	if !validID(target) {
		return domain.Profile{}, invalid("A valid email is required")
	}
	self := domain.NormalizeEmail(actor.Email)
	if self == "" {
		return domain.Profile{}, fmt.Errorf("%s: %w", kindProfile, ErrForbidden)
	}
	if self != target && !actor.Admin {
		related, err := a.Related(ctx, self, target)
		if err != nil {
			return domain.Profile{}, err
		}
		if !related {
			return domain.Profile{}, fmt.Errorf("%s: %w", kindProfile, ErrForbidden)
		}
	}
	return a.profileFor(ctx, target)
}

// UpsertProfile replaces the caller's text fields and, when avatar is given,
// the stored avatar.
func (a *App) UpsertProfile(ctx context.Context, actor domain.Identity, fields ProfileFields, avatar *Upload) (domain.Profile, error) {
	email := domain.NormalizeEmail(actor.Email)
	if !validID(email) {
		return domain.Profile{}, fmt.Errorf("%s: %w", kindProfile, ErrForbidden)
	}
	if avatar != nil {
		if err := checkAvatar(*avatar); err != nil {
			return domain.Profile{}, err
		}
		if err := a.objects.Put(ctx, avatarKey(email), avatar.Body, avatar.Size, avatar.ContentType); err != nil {
			return domain.Profile{}, fmt.Errorf("save profile image: %w", err)
		}
	}
	now := a.now()
	profile := domain.Profile{
		FullName:   strings.TrimSpace(fields.FullName),
		Phone:      strings.TrimSpace(fields.Phone),
		Address:    strings.TrimSpace(fields.Address),
		Occupation: strings.TrimSpace(fields.Occupation),
		Bio:        strings.TrimSpace(fields.Bio),
		UpdatedAt:  &now,
	}
	if err := storage.PutJSON(ctx, a.objects, profileKey(email), profile); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	image, err := a.avatarURL(ctx, email)
	if err != nil {
		return domain.Profile{}, err
	}
	profile.ProfileImage = image
	return profile, nil
}

// profileFor reads email's profile with the avatar URL resolved. A missing
// profile or avatar yields the defaults.
func (a *App) profileFor(ctx context.Context, email string) (domain.Profile, error) {
	var profile domain.Profile
	if _, err := a.loadJSON(ctx, profileKey(email), &profile); err != nil && !errors.Is(err, ErrNotFound) {
		return domain.Profile{}, err
	}
	image, err := a.avatarURL(ctx, email)
	if err != nil {
		return domain.Profile{}, err
	}
	profile.ProfileImage = image
	return profile, nil
}

func (a *App) avatarURL(ctx context.Context, email string) (*string, error) {
	key := avatarKey(email)
	ok, err := a.exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("stat profile image: %w", err)
	}
	if !ok {
		return nil, nil
	}
	u := a.objects.PublicURL(key)
	return &u, nil
}

func checkAvatar(up Upload) error {
	switch strings.ToLower(strings.TrimSpace(up.ContentType)) {
	case "image/jpeg", "image/jpg", "image/png":
	default:
		return invalid("Profile image must be a JPEG or PNG")
	}
	if up.Size > MaxAvatarBytes {
		return invalid("Profile image must be 5MB or smaller")
	}
	return nil
}

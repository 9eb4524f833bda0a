package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"realestate360/internal/util"
	"realestate360/pkg/domain"
	"realestate360/pkg/storage"
)

// MaxPropertyImages caps the images accepted in one create or update request.
const MaxPropertyImages = 10

// Upload is one file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PropertyFields carries client-supplied attributes. Zero values mean the
// field was not provided.
type PropertyFields struct {
	Name           string
	Description    string
	Price          string
	Location       string
	Coordinates    *domain.Coordinates
	PropertyType   domain.PropertyType
	Area           string
	Bedrooms       int
	Bathrooms      int
	LandArea       string
	LandType       string
	LegalClearance string
}

// PropertyUpdate describes a partial update. A nil Retained keeps the current
// images; otherwise only the listed existing URLs survive.
type PropertyUpdate struct {
	Fields    PropertyFields
	NewImages []Upload
	Retained  []string
}

// ListProperties returns every listing, newest first.
func (a *App) ListProperties(ctx context.Context) ([]domain.Property, error) {
	keys, err := a.listJSONKeys(ctx, propertiesPrefix, true)
	if err != nil {
		return nil, err
	}
	items, err := fetchAll[domain.Property](ctx, a, keys)
	if err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (a *App) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	if !validID(id) {
		return domain.Property{}, fmt.Errorf("property %q: %w", id, ErrNotFound)
	}
	var prop domain.Property
	if _, err := a.loadJSON(ctx, propertyKey(id), &prop); err != nil {
		return domain.Property{}, err
	}
	return prop, nil
}

// CreateProperty uploads the images and writes a listing owned by actor.
func (a *App) CreateProperty(ctx context.Context, actor domain.Identity, fields PropertyFields, images []Upload) (domain.Property, error) {
	owner := domain.NormalizeEmail(actor.Email)
	if owner == "" {
		return domain.Property{}, fmt.Errorf("%s: %w", kindProperty, ErrForbidden)
	}
	if len(images) == 0 {
		return domain.Property{}, invalid("At least one image is required")
	}
	if len(images) > MaxPropertyImages {
		return domain.Property{}, invalid("At most %d images are allowed", MaxPropertyImages)
	}
	ptype, err := parsePropertyType(fields.PropertyType)
	if err != nil {
		return domain.Property{}, err
	}

	now := a.now()
	prop := domain.Property{
		ID:         util.NewID(),
		OwnerEmail: owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	mergeFields(&prop, fields)
	prop.PropertyType = ptype
	dropMismatchedFields(&prop)

	urls, keys, err := a.uploadImages(ctx, images, func(n int, name string) string {
		return propertyImageKey(prop.ID, n, cleanFilename(name))
	})
	if err != nil {
		return domain.Property{}, err
	}
	prop.Images = urls
	if err := storage.PutJSON(ctx, a.objects, propertyKey(prop.ID), prop); err != nil {
		a.removeBlobs(ctx, keys)
		return domain.Property{}, fmt.Errorf("save property: %w", err)
	}
	return prop, nil
}

// UpdateProperty merges the provided fields into an existing listing owned by
// actor. Dropped images are removed from the store on a best-effort basis.
func (a *App) UpdateProperty(ctx context.Context, actor domain.Identity, id string, upd PropertyUpdate) (domain.Property, error) {
	prop, err := a.GetProperty(ctx, id)
	if err != nil {
		return domain.Property{}, err
	}
	if err := authorize(actor, kindProperty, prop.OwnerEmail); err != nil {
		return domain.Property{}, err
	}
	var ptype domain.PropertyType
	if upd.Fields.PropertyType != "" {
		if ptype, err = parsePropertyType(upd.Fields.PropertyType); err != nil {
			return domain.Property{}, err
		}
	}
	if len(upd.NewImages) > MaxPropertyImages {
		return domain.Property{}, invalid("At most %d images are allowed", MaxPropertyImages)
	}

	mergeFields(&prop, upd.Fields)
	if ptype != "" {
		prop.PropertyType = ptype
	}
	dropMismatchedFields(&prop)

	previous := prop.Images
	images := append([]string(nil), prop.Images...)
	if upd.Retained != nil {
		images = retainImages(prop.Images, upd.Retained)
	}

	now := a.now()
	stamp := now.UnixMilli()
	urls, keys, err := a.uploadImages(ctx, upd.NewImages, func(n int, name string) string {
		return propertyImageKey(prop.ID, stamp, n, cleanFilename(name))
	})
	if err != nil {
		return domain.Property{}, err
	}
	prop.Images = append(images, urls...)
	prop.UpdatedAt = now
	if err := storage.PutJSON(ctx, a.objects, propertyKey(prop.ID), prop); err != nil {
		a.removeBlobs(ctx, keys)
		return domain.Property{}, fmt.Errorf("save property: %w", err)
	}
	a.pruneImages(ctx, prop.ID, previous, prop.Images)
	return prop, nil
}

// DeleteProperty removes every image blob of the listing, then its metadata.
func (a *App) DeleteProperty(ctx context.Context, actor domain.Identity, id string) error {
	prop, err := a.GetProperty(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, kindProperty, prop.OwnerEmail); err != nil {
		return err
	}
	infos, err := a.objects.List(ctx, propertyImagePrefix(prop.ID))
	if err != nil {
		return fmt.Errorf("list property images: %w", err)
	}
	if len(infos) > 0 {
		keys := make([]string, 0, len(infos))
		for _, info := range infos {
			keys = append(keys, info.Key)
		}
		if err := a.objects.DeleteMany(ctx, keys); err != nil {
			return fmt.Errorf("delete property images: %w", err)
		}
	}
	if err := a.objects.Delete(ctx, propertyKey(prop.ID)); err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	return nil
}

func (a *App) uploadImages(ctx context.Context, uploads []Upload, keyFor func(n int, filename string) string) ([]string, []string, error) {
	urls := make([]string, 0, len(uploads))
	keys := make([]string, 0, len(uploads))
	for i, up := range uploads {
		key := keyFor(i, up.Filename)
		contentType := up.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := a.objects.Put(ctx, key, up.Body, up.Size, contentType); err != nil {
			a.removeBlobs(ctx, keys)
			return nil, nil, fmt.Errorf("upload image %s: %w", up.Filename, err)
		}
		keys = append(keys, key)
		urls = append(urls, a.objects.PublicURL(key))
	}
	return urls, keys, nil
}

func (a *App) removeBlobs(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := a.objects.DeleteMany(context.WithoutCancel(ctx), keys); err != nil {
		util.LoggerFromContext(ctx).Warn("image cleanup failed", "keys", len(keys), "err", err)
	}
}

// pruneImages deletes blobs whose public URL was in before but not in after.
func (a *App) pruneImages(ctx context.Context, id string, before, after []string) {
	kept := make(map[string]struct{}, len(after))
	for _, u := range after {
		kept[u] = struct{}{}
	}
	dropped := make(map[string]struct{})
	for _, u := range before {
		if _, ok := kept[u]; !ok {
			dropped[u] = struct{}{}
		}
	}
	if len(dropped) == 0 {
		return
	}
	infos, err := a.objects.List(ctx, propertyImagePrefix(id))
	if err != nil {
		util.LoggerFromContext(ctx).Warn("list images for pruning failed", "property_id", id, "err", err)
		return
	}
	var keys []string
	for _, info := range infos {
		if _, ok := dropped[a.objects.PublicURL(info.Key)]; ok {
			keys = append(keys, info.Key)
		}
	}
	a.removeBlobs(ctx, keys)
}

func retainImages(current, retained []string) []string {
	existing := make(map[string]struct{}, len(current))
	for _, u := range current {
		existing[u] = struct{}{}
	}
	out := make([]string, 0, len(retained))
	seen := make(map[string]struct{}, len(retained))
	for _, u := range retained {
		u = strings.TrimSpace(u)
		if _, ok := existing[u]; !ok {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func parsePropertyType(raw domain.PropertyType) (domain.PropertyType, error) {
	t := domain.PropertyType(strings.ToLower(strings.TrimSpace(string(raw))))
	switch t {
	case "", domain.PropertyFlat, domain.PropertyLand:
		return t, nil
	default:
		return "", invalid("propertyType must be flat or land")
	}
}

// mergeFields copies every provided field onto prop.
func mergeFields(prop *domain.Property, f PropertyFields) {
	setString := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	setString(&prop.Name, f.Name)
	setString(&prop.Description, f.Description)
	setString(&prop.Price, f.Price)
	setString(&prop.Location, f.Location)
	setString(&prop.Area, f.Area)
	setString(&prop.LandArea, f.LandArea)
	setString(&prop.LandType, f.LandType)
	setString(&prop.LegalClearance, f.LegalClearance)
	if f.Coordinates != nil {
		c := *f.Coordinates
		prop.Coordinates = &c
	}
	if f.Bedrooms > 0 {
		prop.Bedrooms = f.Bedrooms
	}
	if f.Bathrooms > 0 {
		prop.Bathrooms = f.Bathrooms
	}
}

// dropMismatchedFields keeps only the attributes of the listing's type.
func dropMismatchedFields(prop *domain.Property) {
	if prop.PropertyType != domain.PropertyFlat {
		prop.Area, prop.Bedrooms, prop.Bathrooms = "", 0, 0
	}
	if prop.PropertyType != domain.PropertyLand {
		prop.LandArea, prop.LandType, prop.LegalClearance = "", "", ""
	}
}

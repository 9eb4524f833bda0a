package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"realestate360/internal/keylock"
	"realestate360/internal/util"
	"realestate360/pkg/events"
	"realestate360/pkg/storage"
)

const defaultFetchConcurrency = 8

// Config holds the collaborators of the core application.
type Config struct {
	Objects storage.ObjectStore
	// Locker serializes mutations of one appointment pair. Defaults to an
	// in-process locker.
	Locker keylock.Locker
	// Events receives appointment lifecycle notifications. Defaults to Nop.
	Events events.Publisher
	// FetchConcurrency bounds parallel object reads in list operations.
	FetchConcurrency int
	Now              func() time.Time
}

// App implements the marketplace stores over an object store used as a
// document database.
type App struct {
	objects storage.ObjectStore
	locks   keylock.Locker
	events  events.Publisher
	fetchN  int
	now     func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	a := &App{
		objects: cfg.Objects,
		locks:   cfg.Locker,
		events:  cfg.Events,
		fetchN:  cfg.FetchConcurrency,
		now:     cfg.Now,
	}
	if a.locks == nil {
		a.locks = keylock.NewLocalLocker()
	}
	if a.events == nil {
		a.events = events.Nop{}
	}
	if a.fetchN <= 0 {
		a.fetchN = defaultFetchConcurrency
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a, nil
}

// Ping checks that the object store answers.
func (a *App) Ping(ctx context.Context) error {
	_, err := a.objects.List(ctx, "healthcheck/")
	return err
}

// listJSONKeys returns the .json keys directly under prefix, optionally
// skipping keys in a nested directory.
func (a *App) listJSONKeys(ctx context.Context, prefix string, skipNested bool) ([]string, error) {
	infos, err := a.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, jsonSuffix) {
			continue
		}
		if skipNested && strings.Contains(strings.TrimPrefix(info.Key, prefix), "/") {
			continue
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

// fetchAll loads and decodes keys with bounded parallelism, keeping order.
// Records that vanished between list and get are skipped; undecodable
// records are logged and skipped.
func fetchAll[T any](ctx context.Context, a *App, keys []string) ([]T, error) {
	results := make([]*T, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.fetchN)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			data, err := a.objects.Get(gctx, key)
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				util.LoggerFromContext(ctx).Warn("skip undecodable record", "key", key, "err", err)
				return nil
			}
			results[i] = &v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(keys))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// loadJSON reads key into out, translating a missing object into ErrNotFound.
func (a *App) loadJSON(ctx context.Context, key string, out any) ([]byte, error) {
	data, err := a.objects.Get(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return data, nil
}

func (a *App) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.objects.Stat(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

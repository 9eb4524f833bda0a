package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"realestate360/pkg/domain"
	"realestate360/pkg/storage"
)

var errInjected = errors.New("injected store failure")

// faultyStore fails Put for keys matched by failPut once armed.
type faultyStore struct {
	storage.ObjectStore
	mu      sync.Mutex
	failPut func(key string) bool
}

func (f *faultyStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	fail := f.failPut != nil && f.failPut(key)
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.ObjectStore.Put(ctx, key, r, size, contentType)
}

func (f *faultyStore) arm(match func(key string) bool) {
	f.mu.Lock()
	f.failPut = match
	f.mu.Unlock()
}

func testClock() func() time.Time {
	var mu sync.Mutex
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newTestApp(t *testing.T) (*App, *faultyStore) {
	t.Helper()
	store := &faultyStore{ObjectStore: storage.NewMemoryStore("https://cdn.example.com")}
	a, err := New(Config{Objects: store, Now: testClock()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, store
}

func user(email string) domain.Identity { return domain.Identity{Email: email} }

func admin(email string) domain.Identity { return domain.Identity{Email: email, Admin: true} }

func image(name string) Upload {
	return Upload{Filename: name, ContentType: "image/jpeg", Size: 3, Body: strings.NewReader("img")}
}

func rawObject(t *testing.T, s storage.ObjectStore, key string) string {
	t.Helper()
	data, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return string(data)
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// GetJSON loads key and decodes it into out.
func GetJSON(ctx context.Context, s ObjectStore, key string, out any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s ObjectStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
}

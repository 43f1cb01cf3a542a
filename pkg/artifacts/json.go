package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// WriteJSON marshals v with two-space indentation and stores it at key.
// All JSON artifacts in the pipelines go through this helper so their
// formatting stays uniform.
func WriteJSON(ctx context.Context, store Store, key string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return store.WriteBytes(ctx, key, bytes.TrimRight(buf.Bytes(), "\n"))
}

// ReadJSON loads the JSON document at key into out.
func ReadJSON(ctx context.Context, store Store, key string, out any) error {
	data, err := store.ReadBytes(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

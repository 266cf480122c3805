package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// sidecarKey is the single JSON object kept at the root of every provider's
// scoped prefix/folder.
const sidecarKey = ".klio-sync.json"

// LoadSidecar returns the remote sidecar, or a fresh default one if it does
// not exist yet (ErrNotFound) or fails to parse.
func LoadSidecar(ctx context.Context, p Provider) (*RemoteSidecar, error) {
	raw, err := ReadJSON(ctx, p, sidecarKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewRemoteSidecar(), nil
		}
		return nil, fmt.Errorf("load sidecar: %w", err)
	}

	var sc RemoteSidecar
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return NewRemoteSidecar(), nil
	}
	if sc.Books == nil {
		sc.Books = map[string]BookSyncMeta{}
	}
	return &sc, nil
}

// SaveSidecar writes the sidecar back, pretty-printed.
func SaveSidecar(ctx context.Context, p Provider, sc *RemoteSidecar) error {
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := WriteJSON(ctx, p, sidecarKey, string(b)); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

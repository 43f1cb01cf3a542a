package tabular

import (
	"context"
	"strings"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

// artifactPrefix is the logical prefix callers see in artifact_key
// fields. Store keys drop it.
const artifactPrefix = "artifacts"

// runStore scopes an artifact store to one run and fixes the key
// conventions every Core A artifact uses.
type runStore struct {
	store artifacts.Store
	runID string
}

func (r runStore) storeKey(filename string) string {
	return r.runID + "/" + filename
}

func (r runStore) artifactKey(filename string) string {
	return artifactPrefix + "/" + r.runID + "/" + filename
}

func (r runStore) writeJSON(ctx context.Context, filename string, payload any) error {
	return artifacts.WriteJSON(ctx, r.store, r.storeKey(filename), payload)
}

func (r runStore) readJSON(ctx context.Context, filename string, out any) error {
	return artifacts.ReadJSON(ctx, r.store, r.storeKey(filename), out)
}

func (r runStore) exists(ctx context.Context, filename string) (bool, error) {
	return r.store.Exists(ctx, r.storeKey(filename))
}

func (r runStore) uriFor(filename string) string {
	return r.store.URIFor(r.storeKey(filename))
}

// storeKeyFromArtifactKey maps an externally visible artifact_key back
// to a store key.
func storeKeyFromArtifactKey(artifactKey string) string {
	if strings.HasPrefix(artifactKey, artifactPrefix+"/") {
		return strings.TrimPrefix(artifactKey, artifactPrefix+"/")
	}
	return strings.TrimLeft(artifactKey, "/")
}

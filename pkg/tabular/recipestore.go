package tabular

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/canonicalize"
)

// RecipeIndexKey is the content-addressed recipe index, shared by all
// runs of a store.
const RecipeIndexKey = "recipe_store/recipe_index.json"

// RecipeIndexEntry points from a structural hash to the stored recipe.
// ContentHash is the RFC 8785 canonical SHA-256 of the recipe body, so
// re-confirming an unchanged recipe is a no-op.
type RecipeIndexEntry struct {
	RecipeKey   string `json:"recipe_key"`
	StoredAt    string `json:"stored_at"`
	SourceRunID string `json:"source_run_id"`
	ContentHash string `json:"content_hash"`
}

func recipeBodyKey(structuralHash string) string {
	return "recipe_store/" + structuralHash + "/manual_recipe.json"
}

func loadRecipeIndex(ctx context.Context, store artifacts.Store) (map[string]RecipeIndexEntry, error) {
	index := map[string]RecipeIndexEntry{}
	err := artifacts.ReadJSON(ctx, store, RecipeIndexKey, &index)
	if err != nil && !errors.Is(err, artifacts.ErrNotFound) {
		return nil, err
	}
	return index, nil
}

// LookupRecipe returns the raw recipe stored for structuralHash, or
// ok=false when no usable entry exists.
func LookupRecipe(ctx context.Context, store artifacts.Store, structuralHash string) ([]byte, bool, error) {
	index, err := loadRecipeIndex(ctx, store)
	if err != nil {
		return nil, false, err
	}
	entry, present := index[structuralHash]
	if !present || entry.RecipeKey == "" {
		return nil, false, nil
	}
	data, err := store.ReadBytes(ctx, storeKeyFromArtifactKey(entry.RecipeKey))
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// StoreRecipe records a confirmed recipe under its structural hash.
// Last writer wins per hash; an identical body leaves the index entry
// untouched.
func StoreRecipe(ctx context.Context, store artifacts.Store, structuralHash string, recipe []byte, sourceRunID string, now time.Time) error {
	contentHash, err := canonicalize.Hash(recipe)
	if err != nil {
		return err
	}
	index, err := loadRecipeIndex(ctx, store)
	if err != nil {
		return err
	}
	if existing, present := index[structuralHash]; present && existing.ContentHash == contentHash {
		return nil
	}

	if err := store.WriteBytes(ctx, recipeBodyKey(structuralHash), recipe); err != nil {
		return err
	}
	index[structuralHash] = RecipeIndexEntry{
		RecipeKey:   artifactPrefix + "/" + recipeBodyKey(structuralHash),
		StoredAt:    now.UTC().Format("2006-01-02T15:04:05.000000") + "Z",
		SourceRunID: sourceRunID,
		ContentHash: contentHash,
	}
	return artifacts.WriteJSON(ctx, store, RecipeIndexKey, index)
}

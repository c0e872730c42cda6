package client

import (
	"context"
	"fmt"

	"github.com/aeolun/chorus/pkg/protocol"
)

// ProfileResolver maps author ids to profiles with batched lookups.
type ProfileResolver struct {
	backend Backend
}

// NewProfileResolver creates a resolver over backend.
func NewProfileResolver(backend Backend) *ProfileResolver {
	return &ProfileResolver{backend: backend}
}

// Resolve looks up every distinct non-empty id in one request. Ids without a
// profile are absent from the result. An empty set makes no request.
func (r *ProfileResolver) Resolve(ctx context.Context, ids []string) (map[string]protocol.Profile, error) {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	result := make(map[string]protocol.Profile, len(unique))
	if len(unique) == 0 {
		return result, nil
	}

	profiles, err := r.backend.GetProfiles(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("resolve profiles: %w", err)
	}
	for _, p := range profiles {
		if seen[p.ID] {
			result[p.ID] = p
		}
	}
	return result, nil
}

// ResolveOne looks up a single profile. A missing profile is (nil, nil).
func (r *ProfileResolver) ResolveOne(ctx context.Context, id string) (*protocol.Profile, error) {
	if id == "" {
		return nil, nil
	}
	p, err := r.backend.GetProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve profile %s: %w", id, err)
	}
	return p, nil
}

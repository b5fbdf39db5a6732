// Package permission resolves what a caller may do with an asset's
// submissions, including row-level ("partial") grants.
package permission

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/simatei/kpi/internal/docstore"
	"github.com/simatei/kpi/internal/models"
	"github.com/simatei/kpi/internal/query"
)

// ErrForbidden is returned when the caller holds no grant for an operation.
var ErrForbidden = errors.New("you do not have permission to perform this action")

// Access is a resolved permission. Filters are the row-level clauses the
// caller is restricted to; nil means unrestricted.
type Access struct {
	Filters []query.Map
}

// Resolver reads grants from the document store.
type Resolver struct {
	store docstore.Store
}

func NewResolver(store docstore.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the caller's access to perm on dep's submissions. The
// owner has full access; anyone else needs a grant, either full or partial.
func (r *Resolver) Resolve(ctx context.Context, dep *models.Deployment, who models.Identity, perm string) (Access, error) {
	if !who.IsAnonymous() && who.Username == dep.Owner {
		return Access{}, nil
	}
	username := who.Username
	if who.IsAnonymous() {
		username = models.AnonymousUsername
	}

	grant, err := r.grant(ctx, dep.AssetUID, username)
	if err != nil {
		return Access{}, err
	}
	if grant == nil {
		return Access{}, ErrForbidden
	}
	if slices.Contains(grant.Permissions, perm) {
		return Access{}, nil
	}
	if filters, ok := grant.Partial[perm]; ok {
		access := Access{Filters: make([]query.Map, 0, len(filters))}
		for _, f := range filters {
			access.Filters = append(access.Filters, query.MapFromAny(f))
		}
		return access, nil
	}
	return Access{}, ErrForbidden
}

func (r *Resolver) grant(ctx context.Context, assetUID, username string) (*models.PermissionGrant, error) {
	doc, err := r.store.FindOne(ctx, docstore.Permissions,
		map[string]any{"assetUid": assetUID, "username": username}, nil)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	grant := &models.PermissionGrant{Username: username, AssetUID: assetUID}
	if perms, ok := doc["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				grant.Permissions = append(grant.Permissions, s)
			}
		}
	}
	if partial, ok := doc["partial"].(map[string]any); ok {
		grant.Partial = make(map[string][]map[string]any, len(partial))
		for perm, v := range partial {
			list, _ := v.([]any)
			filters := make([]map[string]any, 0, len(list))
			for _, f := range list {
				if m, ok := f.(map[string]any); ok {
					filters = append(filters, m)
				}
			}
			grant.Partial[perm] = filters
		}
	}
	return grant, nil
}

// Grant stores or replaces a user's grant on an asset.
func (r *Resolver) Grant(ctx context.Context, g models.PermissionGrant) error {
	partial := make(map[string]any, len(g.Partial))
	for perm, filters := range g.Partial {
		list := make([]any, len(filters))
		for i, f := range filters {
			list[i] = f
		}
		partial[perm] = list
	}
	perms := make([]any, len(g.Permissions))
	for i, p := range g.Permissions {
		perms[i] = p
	}
	doc := map[string]any{
		"assetUid":    g.AssetUID,
		"username":    g.Username,
		"permissions": perms,
		"partial":     partial,
	}
	return r.store.Upsert(ctx, docstore.Permissions,
		map[string]any{"assetUid": g.AssetUID, "username": g.Username}, doc)
}

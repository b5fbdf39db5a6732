package repository

import (
	"context"
	"errors"
	"time"

	"github.com/simatei/kpi/internal/docstore"
	"github.com/simatei/kpi/internal/models"
)

type DeploymentRepo struct {
	store docstore.Store
}

func NewDeploymentRepo(store docstore.Store) *DeploymentRepo {
	return &DeploymentRepo{store: store}
}

// Save creates or replaces the deployment of d.AssetUID.
func (r *DeploymentRepo) Save(ctx context.Context, d *models.Deployment) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if d.CreatedAt == "" {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	doc, err := toDoc(d)
	if err != nil {
		return err
	}
	return r.store.Upsert(ctx, docstore.Deployments, map[string]any{"assetUid": d.AssetUID}, doc)
}

func (r *DeploymentRepo) FindByAssetUID(ctx context.Context, assetUID string) (*models.Deployment, error) {
	doc, err := r.store.FindOne(ctx, docstore.Deployments, map[string]any{"assetUid": assetUID}, nil)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotDeployed
	}
	if err != nil {
		return nil, err
	}
	var d models.Deployment
	if err := fromDoc(doc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

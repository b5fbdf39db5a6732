package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/metrics"
	"github.com/simatei/kpi/internal/models"
	"github.com/simatei/kpi/internal/permission"
	"github.com/simatei/kpi/internal/rawlog"
	"github.com/simatei/kpi/internal/repository"
)

// DefaultListLimit caps the number of submissions one list request returns.
const DefaultListLimit = 30000

type Options struct {
	// ListLimit caps list page sizes; 0 means DefaultListLimit.
	ListLimit int64
	// BulkConcurrency is how many bulk items are submitted at once; 0 means 1.
	BulkConcurrency int
}

type SubmissionService struct {
	deployments *repository.DeploymentRepo
	perms       *permission.Resolver
	subs        *repository.SubmissionRepo
	kc          *gateway.Client
	metrics     *metrics.Registry
	logger      *log.Logger
	opts        Options
}

func NewSubmissionService(
	deployments *repository.DeploymentRepo,
	perms *permission.Resolver,
	subs *repository.SubmissionRepo,
	kc *gateway.Client,
	m *metrics.Registry,
	logger *log.Logger,
	opts Options,
) *SubmissionService {
	if opts.ListLimit <= 0 {
		opts.ListLimit = DefaultListLimit
	}
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = 1
	}
	return &SubmissionService{
		deployments: deployments,
		perms:       perms,
		subs:        subs,
		kc:          kc,
		metrics:     m,
		logger:      logger.WithPrefix("submissions"),
		opts:        opts,
	}
}

// Authorize loads the deployment of assetUID and resolves who's access to
// perm on it.
func (s *SubmissionService) Authorize(ctx context.Context, assetUID string, who models.Identity, perm string) (*models.Deployment, permission.Access, error) {
	dep, err := s.deployments.FindByAssetUID(ctx, assetUID)
	if err != nil {
		return nil, permission.Access{}, err
	}
	access, err := s.perms.Resolve(ctx, dep, who, perm)
	if err != nil {
		return nil, permission.Access{}, err
	}
	return dep, access, nil
}

// Window validates the start and limit list parameters. An empty limit, or
// one above the configured cap, yields the cap.
func (s *SubmissionService) Window(start, limit string) (int64, int64, error) {
	var st int64
	if start != "" {
		n, err := strconv.ParseInt(start, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, &ValidationError{Field: "start", Reason: "A positive integer is required"}
		}
		st = n
	}
	lim := s.opts.ListLimit
	if limit != "" {
		n, err := strconv.ParseInt(limit, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, &ValidationError{Field: "limit", Reason: "A positive integer is required"}
		}
		lim = min(n, s.opts.ListLimit)
	}
	return st, lim, nil
}

// List reads a page of live submissions visible through access.
func (s *SubmissionService) List(ctx context.Context, dep *models.Deployment, access permission.Access, format repository.Format, p repository.ListParams) (*repository.Result, error) {
	p.PermissionFilters = access.Filters
	p.HideDeleted = true
	if p.Limit <= 0 || p.Limit > s.opts.ListLimit {
		p.Limit = s.opts.ListLimit
	}
	return s.subs.Submissions(ctx, dep, format, p)
}

// Get returns one submission as JSON.
func (s *SubmissionService) Get(ctx context.Context, dep *models.Deployment, access permission.Access, id int64) (models.Submission, error) {
	res, err := s.List(ctx, dep, access, repository.FormatJSON, repository.ListParams{InstanceIDs: []int64{id}, Limit: 1})
	if err != nil {
		return nil, err
	}
	defer res.Close(ctx)
	if !res.JSON.Next(ctx) {
		if err := res.JSON.Err(); err != nil {
			return nil, err
		}
		return nil, repository.ErrNoMatchingSubmissions
	}
	return res.JSON.Submission(), nil
}

// GetXML returns the raw XML of one submission.
func (s *SubmissionService) GetXML(ctx context.Context, dep *models.Deployment, access permission.Access, id int64) (string, error) {
	recs, err := s.rawRecords(ctx, dep, access, []int64{id})
	if err != nil {
		return "", err
	}
	return recs[0].XML, nil
}

// rawRecords fetches the raw XML of ids visible through access, failing
// when none match.
func (s *SubmissionService) rawRecords(ctx context.Context, dep *models.Deployment, access permission.Access, ids []int64) ([]rawlog.Record, error) {
	// Not capped by ListLimit: every requested id must be read.
	res, err := s.subs.Submissions(ctx, dep, repository.FormatXML, repository.ListParams{
		InstanceIDs:       ids,
		PermissionFilters: access.Filters,
		HideDeleted:       true,
		Limit:             int64(len(ids)),
	})
	if err != nil {
		return nil, err
	}
	recs, err := rawlog.All(res.XML)
	if err != nil {
		return nil, fmt.Errorf("read raw submissions: %w", err)
	}
	if len(recs) == 0 {
		return nil, repository.ErrNoMatchingSubmissions
	}
	return recs, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/simatei/kpi/internal/docstore"
	"github.com/simatei/kpi/internal/models"
	"github.com/simatei/kpi/internal/query"
	"github.com/simatei/kpi/internal/rawlog"
)

// Format selects how submissions are read.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// ParseFormat validates a requested format. The empty string means json.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatXML:
		return FormatXML, nil
	}
	return "", ErrBadFormat
}

// ListParams select and page submissions of one deployment.
type ListParams struct {
	Query             query.Map
	Fields            []string
	Sort              *query.Sort
	InstanceIDs       []int64
	PermissionFilters []query.Map
	HideDeleted       bool
	Start             int64
	// Limit of 0 means no limit.
	Limit int64
}

// RawRows is a single-pass sequence of raw XML submissions.
type RawRows = rawlog.Rows

type SubmissionRepo struct {
	docs      docstore.Store
	raw       rawlog.Store
	batchSize int32
}

func NewSubmissionRepo(docs docstore.Store, raw rawlog.Store, batchSize int) *SubmissionRepo {
	if batchSize <= 0 {
		batchSize = docstore.DefaultBatchSize
	}
	return &SubmissionRepo{docs: docs, raw: raw, batchSize: int32(batchSize)}
}

// filter builds the store filter shared by counting and fetching, so a
// total always describes the rows a cursor yields before paging.
func (r *SubmissionRepo) filter(dep *models.Deployment, p ListParams) (map[string]any, error) {
	f := query.BuildFilter(query.FilterParams{
		Scope:             dep.UserformID(),
		Query:             p.Query,
		InstanceIDs:       p.InstanceIDs,
		PermissionFilters: p.PermissionFilters,
		HideDeleted:       p.HideDeleted,
	})
	safe := query.ToSafe(f, false)
	if err := query.AssertSafe(safe); err != nil {
		return nil, err
	}
	return safe.Any(), nil
}

// Count returns the number of submissions matching p, ignoring paging.
func (r *SubmissionRepo) Count(ctx context.Context, dep *models.Deployment, p ListParams) (int64, error) {
	f, err := r.filter(dep, p)
	if err != nil {
		return 0, err
	}
	n, err := r.docs.Count(ctx, docstore.Submissions, f)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

// FetchPage returns a lazy page of JSON submissions and the total number of
// matches before paging.
func (r *SubmissionRepo) FetchPage(ctx context.Context, dep *models.Deployment, p ListParams) (*Rows, int64, error) {
	f, err := r.filter(dep, p)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.docs.Count(ctx, docstore.Submissions, f)
	if err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	opts := docstore.FindOptions{
		Projection: query.Projection(p.Fields),
		Skip:       p.Start,
		Limit:      p.Limit,
		BatchSize:  r.batchSize,
	}
	if p.Sort != nil {
		opts.Sort = &docstore.SortKey{Field: p.Sort.StoreField(), Direction: p.Sort.Direction}
	}
	cur, err := r.docs.Find(ctx, docstore.Submissions, f, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find submissions: %w", err)
	}
	return &Rows{cur: cur}, total, nil
}

// FetchRaw returns raw XML submissions in ascending id order and the total
// number of matches before paging.
//
// When a query or permission filters are given, matching ids are resolved
// and paged in the document store first; otherwise the raw log is filtered
// and paged on its own.
func (r *SubmissionRepo) FetchRaw(ctx context.Context, dep *models.Deployment, p ListParams) (*RawRows, int64, error) {
	if len(p.Query) > 0 || p.PermissionFilters != nil {
		return r.fetchRawByDocs(ctx, dep, p)
	}

	q := rawlog.Query{XFormID: dep.XFormID, Offset: p.Start, Limit: p.Limit}
	if len(p.InstanceIDs) > 0 {
		q.IDs = p.InstanceIDs
	}
	total, err := r.raw.Count(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.raw.Read(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *SubmissionRepo) fetchRawByDocs(ctx context.Context, dep *models.Deployment, p ListParams) (*RawRows, int64, error) {
	p.Fields = []string{query.IDField}
	p.Sort = &query.Sort{Field: query.IDField, Direction: 1}
	rows, total, err := r.FetchPage(ctx, dep, p)
	if err != nil {
		return nil, 0, err
	}
	ids := []int64{}
	for rows.Next(ctx) {
		if id, ok := query.ToInt(rows.Submission()[query.IDField]); ok {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close(ctx)
		return nil, 0, err
	}
	rows.Close(ctx)

	raw, err := r.raw.Read(ctx, rawlog.Query{XFormID: dep.XFormID, IDs: ids})
	if err != nil {
		return nil, 0, err
	}
	return raw, total, nil
}

// Result holds one of JSON or XML rows, depending on the requested format.
type Result struct {
	Format Format
	Count  int64
	JSON   *Rows
	XML    *RawRows
}

// Close releases the underlying cursor.
func (res *Result) Close(ctx context.Context) {
	if res.JSON != nil {
		res.JSON.Close(ctx)
	}
	if res.XML != nil {
		res.XML.Close()
	}
}

// Submissions reads submissions in the given format.
func (r *SubmissionRepo) Submissions(ctx context.Context, dep *models.Deployment, format Format, p ListParams) (*Result, error) {
	switch format {
	case FormatJSON:
		rows, n, err := r.FetchPage(ctx, dep, p)
		if err != nil {
			return nil, err
		}
		return &Result{Format: format, Count: n, JSON: rows}, nil
	case FormatXML:
		rows, n, err := r.FetchRaw(ctx, dep, p)
		if err != nil {
			return nil, err
		}
		return &Result{Format: format, Count: n, XML: rows}, nil
	}
	return nil, ErrBadFormat
}

// FindByUUID returns the live submission of dep carrying uuid.
func (r *SubmissionRepo) FindByUUID(ctx context.Context, dep *models.Deployment, uuid string) (models.Submission, error) {
	f, err := r.filter(dep, ListParams{
		Query:       query.Map{query.UUIDField: query.Scalar{V: uuid}},
		HideDeleted: true,
	})
	if err != nil {
		return nil, err
	}
	doc, err := r.docs.FindOne(ctx, docstore.Submissions, f, query.Projection(nil))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNoMatchingSubmissions
	}
	if err != nil {
		return nil, fmt.Errorf("find submission: %w", err)
	}
	return readable(doc), nil
}

func readable(doc map[string]any) models.Submission {
	return models.Submission(query.ToReadable(query.MapFromAny(doc)).Any())
}

// Rows is a forward-only, single-pass sequence of JSON submissions with
// readable field names.
type Rows struct {
	cur     docstore.Cursor
	current models.Submission
}

// Next advances to the next submission.
func (r *Rows) Next(ctx context.Context) bool {
	r.current = nil
	if !r.cur.Next(ctx) {
		return false
	}
	r.current = readable(r.cur.Current())
	return true
}

// Submission returns the current submission.
func (r *Rows) Submission() models.Submission { return r.current }

// Err returns the first error met while iterating.
func (r *Rows) Err() error { return r.cur.Err() }

// Close releases the cursor.
func (r *Rows) Close(ctx context.Context) { _ = r.cur.Close(ctx) }

// All drains rows into a slice and closes them.
func (r *Rows) All(ctx context.Context) ([]models.Submission, error) {
	defer r.Close(ctx)
	out := []models.Submission{}
	for r.Next(ctx) {
		out = append(out, r.Submission())
	}
	return out, r.Err()
}

package service

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/models"
	"github.com/simatei/kpi/internal/permission"
	"github.com/simatei/kpi/internal/query"
)

const fallbackMessage = "Something went wrong"

// BulkPayload is a validated bulk update request.
type BulkPayload struct {
	// SubmissionIDs are unique, in first-seen order.
	SubmissionIDs []int64
	// Data maps slash separated XML paths to new text values.
	Data map[string]string
}

// ParseBulkUpdatePayload validates a decoded bulk update request body.
// Protected fields are dropped silently.
func ParseBulkUpdatePayload(raw map[string]any) (*BulkPayload, error) {
	rawIDs, ok := raw["submission_ids"]
	if !ok {
		return nil, &BulkPayloadError{Reason: "`submission_ids` must be included in the payload"}
	}
	ids, ok := rawIDs.([]any)
	if !ok {
		return nil, &BulkPayloadError{Reason: "`submission_ids` must be an array"}
	}
	if len(ids) == 0 {
		return nil, &BulkPayloadError{Reason: "`submission_ids` must contain at least one value"}
	}
	rawData, ok := raw["data"]
	if !ok {
		return nil, &BulkPayloadError{Reason: "`data` must be included in the payload"}
	}
	data, _ := rawData.(map[string]any)
	if len(data) == 0 {
		return nil, &BulkPayloadError{Reason: "Payload must contain data to update the submissions"}
	}

	p := &BulkPayload{Data: make(map[string]string, len(data))}
	for _, v := range ids {
		id, ok := query.ToInt(v)
		if !ok {
			return nil, &BulkPayloadError{Reason: "`submission_ids` must only contain integer values"}
		}
		if !slices.Contains(p.SubmissionIDs, id) {
			p.SubmissionIDs = append(p.SubmissionIDs, id)
		}
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		path, ok := cleanPath(k)
		if !ok {
			return nil, &BulkPayloadError{Reason: fmt.Sprintf("`data` key %q is not a valid path", k)}
		}
		if isProtected(path) {
			continue
		}
		text, ok := xmlText(data[k])
		if !ok {
			return nil, &BulkPayloadError{Reason: fmt.Sprintf("`data` value for %q must be a string, number or boolean", k)}
		}
		p.Data[path] = text
	}
	return p, nil
}

// cleanPath strips leading "/" and "./" from a data key and rejects paths
// with empty, "." or ".." segments.
func cleanPath(key string) (string, bool) {
	path := key
	for {
		trimmed := strings.TrimPrefix(strings.TrimLeft(path, "/"), "./")
		if trimmed == path {
			break
		}
		path = trimmed
	}
	if path == "" {
		return "", false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", false
		}
	}
	return path, true
}

func xmlText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	}
	return "", false
}

// BulkItem is the outcome of one resubmitted submission.
type BulkItem struct {
	UUID       string `json:"uuid"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// BulkResult aggregates a bulk update. Status is 200 when at least one item
// succeeded and 400 otherwise.
type BulkResult struct {
	Status    int        `json:"-"`
	Count     int        `json:"count"`
	Successes int        `json:"successes"`
	Failures  int        `json:"failures"`
	Results   []BulkItem `json:"results"`
}

type rewritten struct {
	uuid string
	body []byte
}

// BulkUpdate resubmits every matching submission with payload applied. The
// previous instanceID of each is kept in meta/deprecatedID. Items fail
// independently; results follow submission id order.
func (s *SubmissionService) BulkUpdate(ctx context.Context, dep *models.Deployment, who models.Identity, access permission.Access, payload *BulkPayload) (*BulkResult, error) {
	recs, err := s.rawRecords(ctx, dep, access, payload.SubmissionIDs)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(payload.Data))
	for k := range payload.Data {
		paths = append(paths, k)
	}
	slices.Sort(paths)

	docs := make([]rewritten, len(recs))
	for i, rec := range recs {
		doc, err := parseSubmission(rec.XML)
		if err != nil {
			return nil, err
		}
		root := doc.Root()
		instance := root.FindElement(instanceIDPath)
		if instance == nil {
			return nil, ErrMalformedSubmissionXML
		}
		deprecated := ensurePath(root, "meta/"+deprecatedIDName)
		deprecated.SetText(instance.Text())
		uid, instanceID := newInstanceID()
		instance.SetText(instanceID)

		for _, path := range paths {
			ensurePath(root, path).SetText(payload.Data[path])
		}
		body, err := doc.WriteToBytes()
		if err != nil {
			return nil, fmt.Errorf("serialize submission %d: %w", rec.ID, err)
		}
		docs[i] = rewritten{uuid: uid, body: body}
	}

	items := make([]BulkItem, len(docs))
	var g errgroup.Group
	g.SetLimit(s.opts.BulkConcurrency)
	for i, d := range docs {
		g.Go(func() error {
			items[i] = s.submit(ctx, who, d)
			return nil
		})
	}
	_ = g.Wait()

	res := &BulkResult{Count: len(items), Results: items, Status: http.StatusBadRequest}
	for _, it := range items {
		if it.StatusCode == http.StatusCreated {
			res.Successes++
			s.metrics.BulkItem("success")
		} else {
			res.Failures++
			s.metrics.BulkItem("failure")
		}
	}
	if res.Successes > 0 {
		res.Status = http.StatusOK
	}
	s.logger.Info("bulk update", "asset", dep.AssetUID, "count", res.Count,
		"successes", res.Successes, "failures", res.Failures)
	return res, nil
}

func (s *SubmissionService) submit(ctx context.Context, who models.Identity, d rewritten) BulkItem {
	resp, err := s.kc.Send(ctx, gateway.Request{
		Method: http.MethodPost,
		URL:    s.kc.URLs.OpenRosaSubmission(),
		File:   &gateway.File{Field: "xml_submission_file", Name: d.uuid, Content: d.body},
	}, who)
	if err != nil {
		return BulkItem{UUID: d.uuid, StatusCode: http.StatusBadGateway, Message: err.Error()}
	}
	msg, ok := openRosaMessage(resp.Body)
	if !ok {
		s.logger.Warn("no OpenRosa message in response", "uuid", d.uuid, "status", resp.Status)
		msg = fallbackMessage
	}
	return BulkItem{UUID: d.uuid, StatusCode: resp.Status, Message: msg}
}

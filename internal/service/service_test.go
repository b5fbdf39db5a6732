package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/beevik/etree"
	"github.com/charmbracelet/log"
	"github.com/go-playground/assert/v2"

	"github.com/simatei/kpi/internal/credential"
	"github.com/simatei/kpi/internal/docstore"
	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/metrics"
	"github.com/simatei/kpi/internal/models"
	"github.com/simatei/kpi/internal/permission"
	"github.com/simatei/kpi/internal/query"
	"github.com/simatei/kpi/internal/rawlog"
	"github.com/simatei/kpi/internal/repository"
	"github.com/simatei/kpi/internal/service"
)

var (
	dep   = &models.Deployment{AssetUID: "aXyz", FormID: 11, IDString: "f1", Owner: "alice", XFormID: 7}
	alice = models.Identity{Username: "alice"}
)

const openRosaReply = `<OpenRosaResponse xmlns="http://openrosa.org/http/response"><message nature="%s">%s</message></OpenRosaResponse>`

func submissionXML(instanceID string) string {
	return `<f1 id="f1"><start>2024-01-01T00:00:00.000+00:00</start><end>2024-01-01T00:00:00.000+00:00</end>` +
		`<q1>old</q1><group><q2>a</q2></group><meta><instanceID>` + instanceID + `</instanceID></meta></f1>`
}

// remote fakes the data collection service: it ingests OpenRosa posts into
// the same stores the service reads from. Its handler runs off the test
// goroutine, so it reports with Errorf.
type remote struct {
	t    *testing.T
	docs *docstore.Memory
	raw  *rawlog.SQLite

	mu     sync.Mutex
	posts  int
	reject func(xml string) bool
	plain  bool
	calls  []string
}

func (rm *remote) ingest(id int64, xml string, extra map[string]any) {
	ctx := context.Background()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		rm.t.Errorf("parse: %v", err)
		return
	}
	rec := map[string]any{
		"_id":          id,
		"_userform_id": dep.UserformID(),
	}
	if el := doc.FindElement("//meta/instanceID"); el != nil {
		rec["_uuid"] = strings.TrimPrefix(el.Text(), "uuid:")
	}
	for _, name := range []string{"start", "end"} {
		if el := doc.Root().SelectElement(name); el != nil {
			rec[name] = el.Text()
		}
	}
	for k, v := range extra {
		rec[k] = v
	}
	if err := rm.docs.Insert(ctx, docstore.Submissions, rec); err != nil {
		rm.t.Errorf("insert: %v", err)
		return
	}
	if err := rm.raw.Append(ctx, dep.XFormID, rawlog.Record{ID: id, XML: xml}); err != nil {
		rm.t.Errorf("append: %v", err)
	}
}

func (rm *remote) maxID() int64 {
	cur, err := rm.docs.Find(context.Background(), docstore.Submissions, map[string]any{}, docstore.FindOptions{
		Sort:  &docstore.SortKey{Field: "_id", Direction: -1},
		Limit: 1,
	})
	if err != nil {
		rm.t.Errorf("find: %v", err)
		return 0
	}
	docs, err := docstore.All(context.Background(), cur)
	if err != nil || len(docs) == 0 {
		return 0
	}
	id, _ := query.ToInt(docs[0]["_id"])
	return id
}

func (rm *remote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.calls = append(rm.calls, r.Method+" "+r.URL.Path)

	if r.URL.Path != "/submission" {
		switch r.Method {
		case http.MethodPatch:
			w.Header().Set("Content-Type", "application/json")
			io.Copy(w, r.Body)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"label":"Approved"}`)
		}
		return
	}

	rm.posts++
	f, _, err := r.FormFile("xml_submission_file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, _ := io.ReadAll(f)
	if rm.reject != nil && rm.reject(string(body)) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, openRosaReply, "submit_error", "Submission rejected")
		return
	}
	rm.ingest(rm.maxID()+1, string(body), nil)
	w.WriteHeader(http.StatusCreated)
	if rm.plain {
		io.WriteString(w, "created")
		return
	}
	fmt.Fprintf(w, openRosaReply, "submit_success", "Successful submission.")
}

func (rm *remote) postCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.posts
}

type fixture struct {
	svc    *service.SubmissionService
	remote *remote
	perms  *permission.Resolver
	docs   *docstore.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := log.New(io.Discard)

	raw, err := rawlog.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open raw log: %v", err)
	}
	t.Cleanup(raw.Close)
	docs := docstore.NewMemory()

	rm := &remote{t: t, docs: docs, raw: raw}
	srv := httptest.NewServer(rm)
	t.Cleanup(srv.Close)

	deployments := repository.NewDeploymentRepo(docs)
	if err := deployments.Save(ctx, dep); err != nil {
		t.Fatalf("save deployment: %v", err)
	}
	perms := permission.NewResolver(docs)
	creds := credential.NewStore(credential.NewMemoryCache(), docs, "secret", "", logger)
	kc := gateway.New(srv.Client(), creds, gateway.URLs{Public: srv.URL, Internal: srv.URL}, nil, logger)
	svc := service.NewSubmissionService(deployments, perms, repository.NewSubmissionRepo(docs, raw, 10), kc,
		metrics.NewRegistry(), logger, service.Options{ListLimit: 5, BulkConcurrency: 2})
	return &fixture{svc: svc, remote: rm, perms: perms, docs: docs}
}

func xmlText(t *testing.T, xml, path string) string {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		t.Fatalf("parse: %v", err)
	}
	el := doc.Root().FindElement(path)
	if el == nil {
		t.Fatalf("%s not found in %s", path, xml)
	}
	return el.Text()
}

func TestDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.ingest(1, submissionXML("uuid:abc"), nil)
	f.remote.ingest(2, submissionXML("uuid:def"), nil)
	f.remote.ingest(3, submissionXML("uuid:ghi"), nil)

	sub, err := f.svc.Duplicate(ctx, dep, alice, permission.Access{}, 1)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	id, _ := query.ToInt(sub["_id"])
	assert.Equal(t, id, int64(4))
	if sub["_uuid"] == "abc" || sub["_uuid"] == "" {
		t.Fatalf("instance id not replaced: %v", sub["_uuid"])
	}
	assert.NotEqual(t, sub["start"], "2024-01-01T00:00:00.000+00:00")
	assert.NotEqual(t, sub["end"], "2024-01-01T00:00:00.000+00:00")

	xml, err := f.svc.GetXML(ctx, dep, permission.Access{}, 4)
	if err != nil {
		t.Fatalf("get xml: %v", err)
	}
	assert.Equal(t, xmlText(t, xml, "meta/instanceID"), "uuid:"+sub["_uuid"].(string))
	assert.Equal(t, xmlText(t, xml, "q1"), "old")
}

func TestDuplicateToleratesMissingTimestamps(t *testing.T) {
	f := newFixture(t)
	f.remote.ingest(1, `<f1><q1>a</q1><meta><instanceID>uuid:abc</instanceID></meta></f1>`, nil)

	sub, err := f.svc.Duplicate(context.Background(), dep, alice, permission.Access{}, 1)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	_, hasStart := sub["start"]
	assert.Equal(t, hasStart, false)
}

func TestDuplicateMalformed(t *testing.T) {
	f := newFixture(t)
	f.remote.ingest(1, `<f1><q1>a</q1></f1>`, nil)

	_, err := f.svc.Duplicate(context.Background(), dep, alice, permission.Access{}, 1)
	if !errors.Is(err, service.ErrMalformedSubmissionXML) {
		t.Fatalf("expected malformed xml, got %v", err)
	}
	assert.Equal(t, f.remote.postCount(), 0)
}

func TestDuplicateRejected(t *testing.T) {
	f := newFixture(t)
	f.remote.ingest(1, submissionXML("uuid:abc"), nil)
	f.remote.reject = func(string) bool { return true }

	_, err := f.svc.Duplicate(context.Background(), dep, alice, permission.Access{}, 1)
	if !errors.Is(err, service.ErrDuplicationFailed) {
		t.Fatalf("expected duplication failure, got %v", err)
	}
}

func TestDuplicateUnknownID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Duplicate(context.Background(), dep, alice, permission.Access{}, 9)
	if !errors.Is(err, repository.ErrNoMatchingSubmissions) {
		t.Fatalf("expected no match, got %v", err)
	}
}

func TestParseBulkUpdatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantErr string
	}{
		{"missing ids", map[string]any{"data": map[string]any{"q1": "x"}}, "`submission_ids` must be included in the payload"},
		{"ids not array", map[string]any{"submission_ids": "1", "data": map[string]any{"q1": "x"}}, "`submission_ids` must be an array"},
		{"empty ids", map[string]any{"submission_ids": []any{}, "data": map[string]any{"q1": "x"}}, "`submission_ids` must contain at least one value"},
		{"missing data", map[string]any{"submission_ids": []any{1.0}}, "`data` must be included in the payload"},
		{"empty data", map[string]any{"submission_ids": []any{1.0}, "data": map[string]any{}}, "Payload must contain data to update the submissions"},
		{"non integer ids", map[string]any{"submission_ids": []any{1.0, "two"}, "data": map[string]any{"q1": "x"}}, "`submission_ids` must only contain integer values"},
		{"empty segment", map[string]any{"submission_ids": []any{1.0}, "data": map[string]any{"group//q1": "x"}}, "`data` key \"group//q1\" is not a valid path"},
		{"parent segment", map[string]any{"submission_ids": []any{1.0}, "data": map[string]any{"group/../meta": "x"}}, "`data` key \"group/../meta\" is not a valid path"},
		{"root only", map[string]any{"submission_ids": []any{1.0}, "data": map[string]any{"/": "x"}}, "`data` key \"/\" is not a valid path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ParseBulkUpdatePayload(tt.payload)
			var pe *service.BulkPayloadError
			if !errors.As(err, &pe) {
				t.Fatalf("expected payload error, got %v", err)
			}
			assert.Equal(t, pe.Reason, tt.wantErr)
		})
	}
}

func TestParseBulkUpdatePayloadSanitizes(t *testing.T) {
	p, err := service.ParseBulkUpdatePayload(map[string]any{
		"submission_ids": []any{2.0, "1", 2.0},
		"data": map[string]any{
			"q1":                "x",
			"group/q2":          3.0,
			"meta/instanceID":   "uuid:evil",
			"formhub/uuid":      "x",
			"__version__":       "v2",
			"metadata_is_fine":  true,
			"./meta/instanceID": "uuid:evil",
			"/meta/instanceID":  "uuid:evil",
			"//formhub/uuid":    "x",
			"/./__version__":    "v3",
			"/group/q4":         "y",
		},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	assert.Equal(t, p.SubmissionIDs, []int64{2, 1})
	assert.Equal(t, p.Data, map[string]string{
		"q1": "x", "group/q2": "3", "metadata_is_fine": "true", "group/q4": "y",
	})
}

func TestBulkUpdatePartialSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.ingest(1, submissionXML("uuid:one"), nil)
	f.remote.ingest(2, submissionXML("uuid:two"), nil)
	f.remote.reject = func(xml string) bool {
		return strings.Contains(xml, "<deprecatedID>uuid:two</deprecatedID>")
	}

	p, err := service.ParseBulkUpdatePayload(map[string]any{
		"submission_ids": []any{1.0, 2.0},
		"data":           map[string]any{"q1": "x", "group/sub/q3": "new"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := f.svc.BulkUpdate(ctx, dep, alice, permission.Access{}, p)
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	assert.Equal(t, res.Count, 2)
	assert.Equal(t, res.Successes, 1)
	assert.Equal(t, res.Failures, 1)
	assert.Equal(t, res.Status, http.StatusOK)
	assert.Equal(t, res.Results[0].StatusCode, http.StatusCreated)
	assert.Equal(t, res.Results[0].Message, "Successful submission.")
	assert.Equal(t, res.Results[1].StatusCode, http.StatusBadRequest)
	assert.Equal(t, res.Results[1].Message, "Submission rejected")

	xml, err := f.svc.GetXML(ctx, dep, permission.Access{}, 3)
	if err != nil {
		t.Fatalf("get xml: %v", err)
	}
	assert.Equal(t, xmlText(t, xml, "q1"), "x")
	assert.Equal(t, xmlText(t, xml, "group/q2"), "a")
	assert.Equal(t, xmlText(t, xml, "group/sub/q3"), "new")
	assert.Equal(t, xmlText(t, xml, "meta/deprecatedID"), "uuid:one")
	assert.Equal(t, xmlText(t, xml, "meta/instanceID"), "uuid:"+res.Results[0].UUID)
}

func TestBulkUpdateAllFailed(t *testing.T) {
	f := newFixture(t)
	f.remote.ingest(1, submissionXML("uuid:one"), nil)
	f.remote.reject = func(string) bool { return true }

	res, err := f.svc.BulkUpdate(context.Background(), dep, alice, permission.Access{},
		&service.BulkPayload{SubmissionIDs: []int64{1}, Data: map[string]string{"q1": "x"}})
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	assert.Equal(t, res.Status, http.StatusBadRequest)
	assert.Equal(t, res.Failures, 1)
}

func TestBulkUpdateMessageFallback(t *testing.T) {
	f := newFixture(t)
	f.remote.ingest(1, submissionXML("uuid:one"), nil)
	f.remote.plain = true

	res, err := f.svc.BulkUpdate(context.Background(), dep, alice, permission.Access{},
		&service.BulkPayload{SubmissionIDs: []int64{1}, Data: map[string]string{"q1": "x"}})
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	assert.Equal(t, res.Results[0].Message, "Something went wrong")
	assert.Equal(t, res.Successes, 1)
}

func TestBulkUpdateNoMatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.BulkUpdate(context.Background(), dep, alice, permission.Access{},
		&service.BulkPayload{SubmissionIDs: []int64{5}, Data: map[string]string{"q1": "x"}})
	if !errors.Is(err, repository.ErrNoMatchingSubmissions) {
		t.Fatalf("expected no match, got %v", err)
	}
	assert.Equal(t, f.remote.postCount(), 0)
}

func TestBulkUpdateRespectsPartialPermissions(t *testing.T) {
	f := newFixture(t)
	f.remote.ingest(1, submissionXML("uuid:one"), map[string]any{"_submitted_by": "bob"})
	f.remote.ingest(2, submissionXML("uuid:two"), map[string]any{"_submitted_by": "carol"})
	access := permission.Access{Filters: []query.Map{{"_submitted_by": query.Scalar{V: "bob"}}}}

	res, err := f.svc.BulkUpdate(context.Background(), dep, alice, access,
		&service.BulkPayload{SubmissionIDs: []int64{1, 2}, Data: map[string]string{"q1": "x"}})
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	assert.Equal(t, res.Count, 1)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, access, err := f.svc.Authorize(ctx, "aXyz", alice, models.PermViewSubmissions)
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	assert.Equal(t, got.FormID, int64(11))
	assert.Equal(t, access.Filters == nil, true)

	_, _, err = f.svc.Authorize(ctx, "aXyz", models.Identity{Username: "mallory"}, models.PermViewSubmissions)
	if !errors.Is(err, permission.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, _, err = f.svc.Authorize(ctx, "nope", alice, models.PermViewSubmissions)
	if !errors.Is(err, repository.ErrNotDeployed) {
		t.Fatalf("expected not deployed, got %v", err)
	}
}

func TestWindow(t *testing.T) {
	f := newFixture(t)
	start, limit, err := f.svc.Window("", "")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	assert.Equal(t, start, int64(0))
	assert.Equal(t, limit, int64(5))

	_, limit, _ = f.svc.Window("2", "50")
	assert.Equal(t, limit, int64(5))

	for _, bad := range [][2]string{{"-1", ""}, {"", "0"}, {"", "abc"}} {
		_, _, err := f.svc.Window(bad[0], bad[1])
		var ve *service.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected validation error for %v, got %v", bad, err)
		}
	}
}

func TestListCapsLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := int64(1); i <= 7; i++ {
		f.remote.ingest(i, submissionXML(fmt.Sprintf("uuid:%d", i)), nil)
	}
	res, err := f.svc.List(ctx, dep, permission.Access{}, repository.FormatJSON, repository.ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer res.Close(ctx)
	subs, err := res.JSON.All(ctx)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	assert.Equal(t, res.Count, int64(7))
	assert.Equal(t, len(subs), 5)
}

func TestBulkUpdateIgnoresListLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := []any{}
	for i := int64(1); i <= 7; i++ {
		f.remote.ingest(i, submissionXML(fmt.Sprintf("uuid:%d", i)), nil)
		ids = append(ids, float64(i))
	}
	p, err := service.ParseBulkUpdatePayload(map[string]any{
		"submission_ids": ids,
		"data":           map[string]any{"q1": "x"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := f.svc.BulkUpdate(ctx, dep, alice, permission.Access{}, p)
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	assert.Equal(t, res.Count, 7)
	assert.Equal(t, res.Successes, 7)
}

func TestValidationStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.ValidationStatus(ctx, dep, alice, 1, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assert.Equal(t, resp.Data, map[string]any{"label": "Approved"})

	got, err := f.svc.SetValidationStatus(ctx, dep, alice, 1, http.MethodPatch, map[string]any{"validation_status.uid": "validation_status_approved"})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	assert.Equal(t, got["validation_status.uid"], "validation_status_approved")

	got, err = f.svc.SetValidationStatus(ctx, dep, alice, 1, http.MethodDelete, nil)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	assert.Equal(t, got, map[string]any{})

	if _, err := f.svc.SetValidationStatuses(ctx, dep, alice, map[string]any{"submission_ids": []int64{1}}); err != nil {
		t.Fatalf("bulk: %v", err)
	}
	assert.Equal(t, f.remote.calls, []string{
		"GET /api/v1/data/11/1/validation_status",
		"PATCH /api/v1/data/11/1/validation_status",
		"DELETE /api/v1/data/11/1/validation_status",
		"PATCH /api/v1/data/11",
	})
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/beevik/etree"
	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/simatei/kpi/internal/auth"
	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/models"
	"github.com/simatei/kpi/internal/permission"
	"github.com/simatei/kpi/internal/query"
	"github.com/simatei/kpi/internal/repository"
	"github.com/simatei/kpi/internal/service"
)

type SubmissionHandler struct {
	svc    *service.SubmissionService
	logger *log.Logger
}

func NewSubmissionHandler(svc *service.SubmissionService, logger *log.Logger) *SubmissionHandler {
	return &SubmissionHandler{svc: svc, logger: logger.WithPrefix("api")}
}

// request is an authorized call on one asset's submissions.
type request struct {
	dep    *models.Deployment
	access permission.Access
	who    models.Identity
}

func (h *SubmissionHandler) authorize(w http.ResponseWriter, r *http.Request, perm string) (*request, bool) {
	who := auth.GetIdentity(r.Context())
	dep, access, err := h.svc.Authorize(r.Context(), chi.URLParam(r, "assetUid"), who, perm)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return nil, false
	}
	return &request{dep: dep, access: access, who: who}, true
}

func submissionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return 0, false
	}
	return id, true
}

func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	req, ok := h.authorize(w, r, models.PermViewSubmissions)
	if !ok {
		return
	}
	q := r.URL.Query()
	format, err := repository.ParseFormat(q.Get("format"))
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	start, limit, err := h.svc.Window(q.Get("start"), q.Get("limit"))
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	p := repository.ListParams{Start: start, Limit: limit}
	if p.Query, err = query.ParseQuery(q.Get("query")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Fields, err = query.ParseFields(q.Get("fields")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Sort, err = query.ParseSort(q.Get("sort")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.List(r.Context(), req.dep, req.access, format, p)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	defer res.Close(r.Context())

	page := models.SubmissionList{Count: res.Count}
	page.Next, page.Previous = pageLinks(r, start, limit, res.Count)

	if format == repository.FormatXML {
		h.writeXMLList(w, page, res.XML)
		return
	}
	subs, err := res.JSON.All(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	page.Results = subs
	writeJSON(w, http.StatusOK, page)
}

func pageLinks(r *http.Request, start, limit, count int64) (next, previous *string) {
	link := func(s int64) *string {
		u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
		if r.TLS != nil {
			u.Scheme = "https"
		}
		q := r.URL.Query()
		q.Set("start", strconv.FormatInt(s, 10))
		q.Set("limit", strconv.FormatInt(limit, 10))
		u.RawQuery = q.Encode()
		s2 := u.String()
		return &s2
	}
	if start+limit < count {
		next = link(start + limit)
	}
	if start > 0 {
		previous = link(max(start-limit, 0))
	}
	return next, previous
}

func (h *SubmissionHandler) writeXMLList(w http.ResponseWriter, page models.SubmissionList, rows *repository.RawRows) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("root")
	root.CreateElement("count").SetText(strconv.FormatInt(page.Count, 10))
	links := []struct {
		name string
		url  *string
	}{{"next", page.Next}, {"previous", page.Previous}}
	for _, l := range links {
		el := root.CreateElement(l.name)
		if l.url != nil {
			el.SetText(*l.url)
		}
	}
	results := root.CreateElement("results")
	for rows.Next() {
		sub := etree.NewDocument()
		if err := sub.ReadFromString(rows.Record().XML); err != nil || sub.Root() == nil {
			h.logger.Warn("skipping unparseable submission", "id", rows.Record().ID, "err", err)
			continue
		}
		results.AddChild(sub.Root())
	}
	if err := rows.Err(); err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	doc.Indent(2)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	doc.WriteTo(w)
}

func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, ok := h.authorize(w, r, models.PermViewSubmissions)
	if !ok {
		return
	}
	id, ok := submissionID(w, r)
	if !ok {
		return
	}
	format, err := repository.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	if format == repository.FormatXML {
		xml, err := h.svc.GetXML(r.Context(), req.dep, req.access, id)
		if err != nil {
			writeServiceError(w, h.logger, err, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(xml))
		return
	}
	sub, err := h.svc.Get(r.Context(), req.dep, req.access, id)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *SubmissionHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.authorize(w, r, models.PermChangeSubmissions)
	if !ok {
		return
	}
	id, ok := submissionID(w, r)
	if !ok {
		return
	}
	sub, err := h.svc.Duplicate(r.Context(), req.dep, req.who, req.access, id)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// BulkUpdate accepts {"payload": {...}}, with the payload as an object or a
// JSON string, or the bare payload object.
func (h *SubmissionHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.authorize(w, r, models.PermChangeSubmissions)
	if !ok {
		return
	}
	var body map[string]any
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw, err := unwrapPayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	payload, err := service.ParseBulkUpdatePayload(raw)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	res, err := h.svc.BulkUpdate(r.Context(), req.dep, req.who, req.access, payload)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, res.Status, res)
}

func unwrapPayload(body map[string]any) (map[string]any, error) {
	inner, ok := body["payload"]
	if !ok {
		if body == nil {
			body = map[string]any{}
		}
		return body, nil
	}
	switch p := inner.(type) {
	case map[string]any:
		return p, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(p), &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return map[string]any{}, nil
}

func (h *SubmissionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.authorize(w, r, models.PermDeleteSubmissions)
	if !ok {
		return
	}
	id, ok := submissionID(w, r)
	if !ok {
		return
	}
	h.proxy(r.Context(), w, func(ctx context.Context) (*gateway.Response, error) {
		return h.svc.Delete(ctx, req.dep, req.who, id)
	})
}

func (h *SubmissionHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.authorize(w, r, models.PermDeleteSubmissions)
	if !ok {
		return
	}
	var body map[string]any
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.proxy(r.Context(), w, func(ctx context.Context) (*gateway.Response, error) {
		return h.svc.DeleteMany(ctx, req.dep, req.who, body)
	})
}

func (h *SubmissionHandler) Edit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.authorize(w, r, models.PermChangeSubmissions)
	if !ok {
		return
	}
	id, ok := submissionID(w, r)
	if !ok {
		return
	}
	h.proxy(r.Context(), w, func(ctx context.Context) (*gateway.Response, error) {
		return h.svc.EditURL(ctx, req.dep, req.who, id, r.URL.Query())
	})
}

func (h *SubmissionHandler) ValidationStatus(w http.ResponseWriter, r *http.Request) {
	perm := models.PermValidateSubmissions
	if r.Method == http.MethodGet {
		perm = models.PermViewSubmissions
	}
	req, ok := h.authorize(w, r, perm)
	if !ok {
		return
	}
	id, ok := submissionID(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		h.proxy(r.Context(), w, func(ctx context.Context) (*gateway.Response, error) {
			return h.svc.ValidationStatus(ctx, req.dep, req.who, id, r.URL.Query())
		})
		return
	}

	var data map[string]any
	if r.Method == http.MethodPatch {
		if err := readJSON(r, &data); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	res, err := h.svc.SetValidationStatus(r.Context(), req.dep, req.who, id, r.Method, data)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SubmissionHandler) ValidationStatuses(w http.ResponseWriter, r *http.Request) {
	req, ok := h.authorize(w, r, models.PermValidateSubmissions)
	if !ok {
		return
	}
	var body map[string]any
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	data, err := unwrapPayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	res, err := h.svc.SetValidationStatuses(r.Context(), req.dep, req.who, data)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// proxy relays a remote response with its status and language.
func (h *SubmissionHandler) proxy(ctx context.Context, w http.ResponseWriter, call func(context.Context) (*gateway.Response, error)) {
	resp, err := call(ctx)
	if err != nil {
		writeServiceError(w, h.logger, err, http.StatusNotFound)
		return
	}
	if resp.ContentLanguage != "" {
		w.Header().Set("Content-Language", resp.ContentLanguage)
	}
	if resp.Status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, resp.Status, resp.Data)
}

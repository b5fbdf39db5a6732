package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/models"
)

// Delete removes one submission through the remote service and returns its
// response as is.
func (s *SubmissionService) Delete(ctx context.Context, dep *models.Deployment, who models.Identity, id int64) (*gateway.Response, error) {
	return s.kc.Send(ctx, gateway.Request{Method: http.MethodDelete, URL: s.kc.URLs.SubmissionDetail(dep, id)}, who)
}

// DeleteMany forwards a bulk delete request body to the remote service.
func (s *SubmissionService) DeleteMany(ctx context.Context, dep *models.Deployment, who models.Identity, body map[string]any) (*gateway.Response, error) {
	return s.kc.Send(ctx, gateway.Request{Method: http.MethodDelete, URL: s.kc.URLs.SubmissionList(dep), JSON: body}, who)
}

// EditURL asks the remote service for an Enketo edit link.
func (s *SubmissionService) EditURL(ctx context.Context, dep *models.Deployment, who models.Identity, id int64, params url.Values) (*gateway.Response, error) {
	return s.kc.Send(ctx, gateway.Request{Method: http.MethodGet, URL: s.kc.URLs.Edit(dep, id), Query: params}, who)
}

// ValidationStatus reads the validation status of one submission.
func (s *SubmissionService) ValidationStatus(ctx context.Context, dep *models.Deployment, who models.Identity, id int64, params url.Values) (*gateway.Response, error) {
	return s.kc.Send(ctx, gateway.Request{Method: http.MethodGet, URL: s.kc.URLs.ValidationStatus(dep, id), Query: params}, who)
}

// SetValidationStatus updates (PATCH) or resets (DELETE) the validation
// status of one submission.
func (s *SubmissionService) SetValidationStatus(ctx context.Context, dep *models.Deployment, who models.Identity, id int64, method string, data map[string]any) (map[string]any, error) {
	var body any
	switch method {
	case http.MethodPatch:
		body = data
	case http.MethodDelete:
	default:
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnsupportedMethod, method)
	}
	return s.kc.Call(ctx, method, s.kc.URLs.ValidationStatus(dep, id), body, who, gateway.Expect{})
}

// SetValidationStatuses updates the validation status of many submissions.
// The remote service only accepts PATCH here, resets included.
func (s *SubmissionService) SetValidationStatuses(ctx context.Context, dep *models.Deployment, who models.Identity, data map[string]any) (map[string]any, error) {
	return s.kc.Call(ctx, http.MethodPatch, s.kc.URLs.SubmissionList(dep), data, who, gateway.Expect{})
}

package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/simatei/kpi/internal/gateway"
	"github.com/simatei/kpi/internal/models"
	"github.com/simatei/kpi/internal/permission"
)

// Duplicate resubmits submission id as a new instance with fresh start, end
// and instanceID values, then returns the created submission.
func (s *SubmissionService) Duplicate(ctx context.Context, dep *models.Deployment, who models.Identity, access permission.Access, id int64) (models.Submission, error) {
	recs, err := s.rawRecords(ctx, dep, access, []int64{id})
	if err != nil {
		return nil, err
	}
	doc, err := parseSubmission(recs[0].XML)
	if err != nil {
		return nil, err
	}
	root := doc.Root()

	uid, instanceID := newInstanceID()
	now := openRosaTimestamp(time.Now())
	// Older form versions may not carry start and end.
	for _, name := range []string{"start", "end"} {
		if el := root.SelectElement(name); el != nil {
			el.SetText(now)
		}
	}
	el := root.FindElement(instanceIDPath)
	if el == nil {
		return nil, ErrMalformedSubmissionXML
	}
	el.SetText(instanceID)

	body, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize submission: %w", err)
	}
	resp, err := s.kc.Send(ctx, gateway.Request{
		Method: http.MethodPost,
		URL:    s.kc.URLs.OpenRosaSubmission(),
		File:   &gateway.File{Field: "xml_submission_file", Name: uid, Content: body},
	}, who)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusCreated {
		s.logger.Warn("duplicate rejected", "asset", dep.AssetUID, "id", id, "status", resp.Status)
		return nil, fmt.Errorf("%w: remote status %d", ErrDuplicationFailed, resp.Status)
	}
	return s.subs.FindByUUID(ctx, dep, uid)
}

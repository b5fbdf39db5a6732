package gateway

import (
	"strconv"
	"strings"

	"github.com/simatei/kpi/internal/models"
)

// URLs derives remote endpoints. Public is the address clients submit to;
// Internal is the address this service reaches the API at.
type URLs struct {
	Public   string
	Internal string
}

func (u URLs) SubmissionList(dep *models.Deployment) string {
	return strings.TrimRight(u.Internal, "/") + "/api/v1/data/" + strconv.FormatInt(dep.FormID, 10)
}

func (u URLs) SubmissionDetail(dep *models.Deployment, id int64) string {
	return u.SubmissionList(dep) + "/" + strconv.FormatInt(id, 10)
}

func (u URLs) ValidationStatus(dep *models.Deployment, id int64) string {
	return u.SubmissionDetail(dep, id) + "/validation_status"
}

func (u URLs) Edit(dep *models.Deployment, id int64) string {
	return u.SubmissionDetail(dep, id) + "/enketo"
}

// OpenRosaSubmission is the endpoint new submission XML is posted to.
func (u URLs) OpenRosaSubmission() string {
	return strings.TrimRight(u.Public, "/") + "/submission"
}

package models

// Deployment links an asset to the form deployed on the remote data
// collection service.
type Deployment struct {
	AssetUID string `json:"assetUid"`
	// FormID is the remote form primary key used in API URLs.
	FormID   int64  `json:"formid"`
	IDString string `json:"idString"`
	Owner    string `json:"owner"`
	// XFormID identifies the form's rows in the raw XML log.
	XFormID   int64  `json:"xformId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// UserformID is the tenant scope stored on every submission of the form.
func (d *Deployment) UserformID() string {
	return d.Owner + "_" + d.IDString
}

package models

// Submission permission codenames.
const (
	PermViewSubmissions     = "view_submissions"
	PermChangeSubmissions   = "change_submissions"
	PermDeleteSubmissions   = "delete_submissions"
	PermValidateSubmissions = "validate_submissions"
)

// PermissionGrant is what one user may do on one asset's submissions.
// Partial maps a permission to the row filters restricting it; a permission
// listed in Permissions applies to every row.
type PermissionGrant struct {
	AssetUID    string                      `json:"assetUid"`
	Username    string                      `json:"username"`
	Permissions []string                    `json:"permissions"`
	Partial     map[string][]map[string]any `json:"partial,omitempty"`
}

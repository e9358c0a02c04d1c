package models

// InstanceConfig is the single mutable instance configuration row.
// Token-requirement flags are computed by the API from the deployment
// environment and are not persisted here.
type InstanceConfig struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	DefaultSpaceID string `json:"defaultSpaceId"`
	UpdatedAt      string `json:"updatedAt"`
}

package models

// DefaultSpaceID is the id of the space that always exists.
const DefaultSpaceID = "default"

// Space is the tenancy/visibility root. Connectivity holds explicit outbound
// visibility toggles toward other spaces; it never contains a self edge.
type Space struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Color          string          `json:"color,omitempty"`
	DefaultVisible bool            `json:"defaultVisible"`
	Connectivity   map[string]bool `json:"connectivity"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt"`
}

// AllowedFrom computes the set of space ids visible from the given space:
// the space itself plus every space with an explicit true outbound edge.
// Visibility comes from explicit edges only, not from DefaultVisible.
func (s *Space) AllowedFrom() []string {
	allowed := []string{s.ID}
	for other, visible := range s.Connectivity {
		if visible && other != s.ID {
			allowed = append(allowed, other)
		}
	}
	return allowed
}

package antinuke

type ProtectedResource struct {
	ResourceID   string       `json:"resource_id" validate:"required"`
	ResourceType ResourceType `json:"resource_type" validate:"oneof=channel role category"`
}

// ProtectedSet indexes protected resources by ID.
type ProtectedSet map[string]ResourceType

func NewProtectedSet(resources []ProtectedResource) ProtectedSet {
	set := make(ProtectedSet, len(resources))
	for _, resource := range resources {
		set[resource.ResourceID] = resource.ResourceType
	}
	return set
}

// CheckProtected is a pure lookup.
func CheckProtected(resourceID string, resourceType ResourceType, set ProtectedSet) bool {
	if resourceID == "" {
		return false
	}
	kind, ok := set[resourceID]
	return ok && kind == resourceType
}

package model

// Category classifies the kind of fact an annotation carries
type Category string

const (
	CategoryActivity Category = "activity" // Activity measurements (e.g., binding assays)
	CategoryCofactor Category = "cofactor" // Cofactor/ligand associations
	CategoryOntology Category = "ontology" // Ontology term assignments
	CategoryFeature  Category = "feature"  // Structural/sequence features
)

// Categories lists all known annotation categories
func Categories() []Category {
	return []Category{CategoryActivity, CategoryCofactor, CategoryOntology, CategoryFeature}
}

// AnnotationRecord represents a typed fact attached to a target.
// Records reference targets by identifier; they do not own them.
// The Value payload is provider-specific and treated as opaque by fusion.
type AnnotationRecord struct {
	TargetID string                 `json:"target_id"`          // Target the fact is attached to
	Category Category               `json:"category"`           // Annotation category
	Provider string                 `json:"provider"`           // Source provider tag
	TaxonID  int                    `json:"taxon_id,omitempty"` // Taxonomy of the annotation's source record
	Value    map[string]interface{} `json:"value"`              // Provider-specific payload
	Evidence string                 `json:"evidence,omitempty"` // Confidence/evidence field where applicable
}

// GroupKey identifies the (target, category, provider) triple an annotation
// belongs to. Fusion replaces whole groups, never appends across runs.
type GroupKey struct {
	TargetID string
	Category Category
	Provider string
}

// Key returns the annotation's group key
func (a AnnotationRecord) Key() GroupKey {
	return GroupKey{TargetID: a.TargetID, Category: a.Category, Provider: a.Provider}
}

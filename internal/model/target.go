package model

// TargetRecord represents one tracked protein target
type TargetRecord struct {
	ID        string   `json:"id"`                 // Stable target identifier
	Sequences []string `json:"sequences"`          // One or more amino acid sequences
	TaxonID   int      `json:"taxon_id,omitempty"` // Source organism taxonomy identifier
	Source    string   `json:"source"`             // Provenance tag (upstream resource name)
}

// HasSequence reports whether the record carries at least one non-empty sequence
func (t TargetRecord) HasSequence() bool {
	for _, s := range t.Sequences {
		if s != "" {
			return true
		}
	}
	return false
}

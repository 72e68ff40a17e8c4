package model

// Hit represents a single result row from the external similarity-search tool
type Hit struct {
	QueryID  string  `json:"query_id"`  // Query sequence identifier
	TargetID string  `json:"target_id"` // Matched target identifier
	Rank     int     `json:"rank"`      // Tool-native rank within the query (1-based)
	Score    float64 `json:"score"`     // Bit score reported by the tool
	Identity float64 `json:"identity"`  // Fractional sequence identity (0..1)
}

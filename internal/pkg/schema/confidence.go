package schema

// Band is a confidence threshold band used by UI and commit policy
type Band string

const (
	// High - above 0.8
	High Band = "high"
	// Medium - 0.6 to 0.8
	Medium Band = "medium"
	// Low - below 0.6, requires mandatory reviewer attention
	Low Band = "low"
)

// ConfidenceBand maps a confidence value to its band
func ConfidenceBand(c float64) Band {
	if c > 0.8 {
		return High
	}
	if c >= 0.6 {
		return Medium
	}
	return Low
}

// LowConfidenceFields returns fields of a category that must be flagged
// for reviewer attention. They are never auto-rejected
func LowConfidenceFields(c *Category) []string {
	var res []string
	for _, fs := range specs[c.Type].fields {
		if _, ok := c.Data[fs.Name]; !ok {
			continue
		}
		if fc, ok := c.FieldConfidences[fs.Name]; ok && ConfidenceBand(fc) == Low {
			res = append(res, fs.Name)
		}
	}
	return res
}

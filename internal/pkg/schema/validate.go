package schema

import (
	"fmt"
	"strconv"
)

// ValidateDocument checks extraction engine output: known category types and
// all confidences within [0, 1]. Field contracts are not enforced here -
// the reviewer sees and fixes low quality data, see ValidateForConfirm
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("no document")
	}
	if err := checkConfidence("overallConfidence", doc.OverallConfidence); err != nil {
		return err
	}
	for i, c := range doc.Categories {
		if !Known(c.Type) {
			return fmt.Errorf("category[%d]: unknown type '%s'", i, c.Type)
		}
		if err := checkConfidence(fmt.Sprintf("category[%d].confidence", i), c.Confidence); err != nil {
			return err
		}
		for f, fc := range c.FieldConfidences {
			if err := checkConfidence(fmt.Sprintf("category[%d].%s", i, f), fc); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateForConfirm enforces the required-field contract of every category.
// Called before data is allowed into the clinical record
func ValidateForConfirm(doc *Document) error {
	if err := ValidateDocument(doc); err != nil {
		return err
	}
	for i, c := range doc.Categories {
		if err := validateCategory(&c); err != nil {
			return fmt.Errorf("category[%d] (%s): %w", i, c.Type, err)
		}
	}
	return nil
}

func validateCategory(c *Category) error {
	sp := specs[c.Type]
	for _, fs := range sp.fields {
		v, ok := c.Data[fs.Name]
		if !ok || v == nil {
			if fs.Required {
				return fmt.Errorf("missing required field '%s'", fs.Name)
			}
			continue
		}
		if err := validateField(&fs, v); err != nil {
			return fmt.Errorf("field '%s': %w", fs.Name, err)
		}
	}
	for name := range c.Data {
		if lookupField(sp.fields, name) == nil {
			return fmt.Errorf("unexpected field '%s'", name)
		}
	}
	if len(sp.atLeastOne) > 0 {
		found := false
		for _, name := range sp.atLeastOne {
			if v, ok := c.Data[name]; ok && v != nil {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("no measurement fields present")
		}
	}
	return nil
}

func validateField(fs *FieldSpec, v interface{}) error {
	switch fs.Kind {
	case Number:
		f, err := asNumber(v)
		if err != nil {
			return err
		}
		if f < fs.Min || f > fs.Max {
			return fmt.Errorf("value %v out of range [%v, %v]", f, fs.Min, fs.Max)
		}
	case Enum:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		for _, av := range fs.Values {
			if s == av {
				return nil
			}
		}
		return fmt.Errorf("value '%s' not in %v", s, fs.Values)
	case Text:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		if fs.Required && s == "" {
			return fmt.Errorf("empty value")
		}
	}
	return nil
}

// asNumber accepts float64 (json decoded) and numeric strings
func asNumber(v interface{}) (float64, error) {
	switch vt := v.(type) {
	case float64:
		return vt, nil
	case int:
		return float64(vt), nil
	case string:
		f, err := strconv.ParseFloat(vt, 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got '%s'", vt)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func lookupField(fields []FieldSpec, name string) *FieldSpec {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i]
		}
	}
	return nil
}

func checkConfidence(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s: confidence %v out of [0, 1]", name, v)
	}
	return nil
}

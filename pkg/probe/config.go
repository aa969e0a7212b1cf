package probe

import (
	"fmt"
	"strings"

	"github.com/coregx/coregex"
)

// Config lists the fingerprint fields to pull out of response bodies.
// Each extractor names one field and the selector that locates it; the
// classifier folds whatever is found into a result's source label.
type Config struct {
	Extract []ExtractorConfig `json:"extract" yaml:"extract"`
}

// ExtractorConfig describes one named field and how to locate it.
type ExtractorConfig struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`

	// XPath locates the field for type=xml_xpath.
	XPath string `json:"xpath" yaml:"xpath"`

	// Pattern and Group locate the field for type=regex.
	Pattern string `json:"pattern" yaml:"pattern"`
	Group   int    `json:"group" yaml:"group"`

	// JSONPath locates the field for type=json_path.
	JSONPath string `json:"json_path" yaml:"json_path"`
}

// Validate normalizes every extractor in place and rejects duplicate
// names, unknown types, and selectors that fail to compile.
func (c *Config) Validate() error {
	names := make(map[string]struct{}, len(c.Extract))
	for i := range c.Extract {
		e := &c.Extract[i]
		e.Name = strings.TrimSpace(e.Name)
		e.Type = strings.ToLower(strings.TrimSpace(e.Type))

		if e.Name == "" {
			return fmt.Errorf("extract[%d]: name is required", i)
		}
		if _, dup := names[e.Name]; dup {
			return fmt.Errorf("extract[%d]: name %q is duplicated", i, e.Name)
		}
		names[e.Name] = struct{}{}

		if err := e.validateSelector(); err != nil {
			return fmt.Errorf("extract[%d] (%s): %w", i, e.Name, err)
		}
	}
	return nil
}

func (e *ExtractorConfig) validateSelector() error {
	switch e.Type {
	case "regex":
		if strings.TrimSpace(e.Pattern) == "" {
			return fmt.Errorf("pattern is required for type=regex")
		}
		if e.Group < 0 {
			return fmt.Errorf("group must be >= 0")
		}
		_, err := coregex.Compile(e.Pattern)
		return err
	case "json_path":
		if strings.TrimSpace(e.JSONPath) == "" {
			return fmt.Errorf("json_path is required for type=json_path")
		}
		_, err := CompileJSONPath(e.JSONPath)
		return err
	case "xml_xpath":
		if strings.TrimSpace(e.XPath) == "" {
			return fmt.Errorf("xpath is required for type=xml_xpath")
		}
		_, err := CompileXMLXPath(e.XPath)
		return err
	}
	return fmt.Errorf("type %q is not supported", e.Type)
}

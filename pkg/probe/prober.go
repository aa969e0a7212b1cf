// Package probe extracts fingerprint fields from HTTP response bodies:
// backend error codes, framework banners, request identifiers, and
// similar values the classifier folds into a result's source label.
// Extraction rules are configuration, not code, so fingerprinting a new
// backend is a YAML edit rather than a rebuild.
package probe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coregx/coregex"
)

// Prober runs every configured extractor against one response body.
type Prober struct {
	extractors []fieldExtractor
}

type fieldExtractor interface {
	Name() string
	Extract(body []byte) (string, bool, error)
}

// New validates cfg and compiles its extractors once; Probe then applies
// them per body with no further allocation of selectors.
func New(cfg Config) (*Prober, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Prober{extractors: make([]fieldExtractor, 0, len(cfg.Extract))}
	for _, e := range cfg.Extract {
		ex, err := compileExtractor(e)
		if err != nil {
			return nil, err
		}
		p.extractors = append(p.extractors, ex)
	}
	return p, nil
}

func compileExtractor(e ExtractorConfig) (fieldExtractor, error) {
	switch e.Type {
	case "regex":
		re, err := coregex.Compile(e.Pattern)
		if err != nil {
			return nil, err
		}
		return &regexField{name: e.Name, re: re, group: e.Group}, nil
	case "json_path":
		path, err := CompileJSONPath(e.JSONPath)
		if err != nil {
			return nil, err
		}
		return &jsonField{name: e.Name, path: path}, nil
	case "xml_xpath":
		xp, err := CompileXMLXPath(e.XPath)
		if err != nil {
			return nil, err
		}
		return &xmlField{name: e.Name, xpath: xp}, nil
	}
	return nil, fmt.Errorf("unsupported extractor type %q", e.Type)
}

// Probe returns every field the extractors located in body. A field
// whose extractor matched nothing is omitted rather than set to "".
func (p *Prober) Probe(body []byte) (map[string]string, error) {
	fields := make(map[string]string, len(p.extractors))
	for _, ex := range p.extractors {
		val, found, err := ex.Extract(body)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", ex.Name(), err)
		}
		val = strings.TrimSpace(val)
		if found && val != "" {
			fields[ex.Name()] = val
		}
	}
	return fields, nil
}

type regexField struct {
	name  string
	re    *coregex.Regex
	group int
}

func (f *regexField) Name() string { return f.name }

func (f *regexField) Extract(body []byte) (string, bool, error) {
	groups := f.re.FindSubmatch(body)
	if groups == nil {
		return "", false, nil
	}
	if f.group >= len(groups) {
		return "", false, fmt.Errorf("capture group %d out of range", f.group)
	}
	return string(groups[f.group]), true, nil
}

type jsonField struct {
	name string
	path *JSONPath
}

func (f *jsonField) Name() string { return f.name }

func (f *jsonField) Extract(body []byte) (string, bool, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		// Not a JSON body. Nothing to extract, but not an error either:
		// origins routinely answer some paths with HTML and others with
		// JSON, and one extractor config covers both.
		return "", false, nil
	}
	val, ok := f.path.Eval(doc)
	if !ok {
		return "", false, nil
	}
	if s, isString := val.(string); isString {
		return s, true, nil
	}
	enc, err := json.Marshal(val)
	if err != nil {
		return "", false, err
	}
	return string(enc), true, nil
}

type xmlField struct {
	name  string
	xpath *XMLXPath
}

func (f *xmlField) Name() string { return f.name }

func (f *xmlField) Extract(body []byte) (string, bool, error) {
	return f.xpath.FindFirstText(body)
}

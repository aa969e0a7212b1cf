// Package waf loads the WAF signature database and evaluates it against
// a response. The database is an ordered array; the first matching
// signature wins. Signatures are data, not code: adding a vendor is a
// JSON edit, never a rebuild.
package waf

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/coregx/coregex"
)

// Layer selects whether a signature match indicates infrastructure
// (a WAF/CDN in front of the origin) or the backend application itself.
type Layer string

const (
	LayerInfra Layer = "infra"
	LayerApp   Layer = "app"
)

// HeaderMatch matches a single response header against a regex.
type HeaderMatch struct {
	Name  string `json:"name"`
	Regex string `json:"regex"`
}

// MatchSpec is the raw, pre-compiled match criteria for one signature.
type MatchSpec struct {
	Status    []int         `json:"status,omitempty"`
	Header    []HeaderMatch `json:"header,omitempty"`
	BodyRegex []string      `json:"body_regex,omitempty"`
}

// Signature is one entry in the WAF signature database.
type Signature struct {
	Vendor string    `json:"vendor"`
	Layer  Layer     `json:"layer"`
	Label  string    `json:"label"`
	Match  MatchSpec `json:"match"`

	compiledHeaders []compiledHeaderMatch
	compiledBody    []*coregex.Regex
	statusSet       map[int]struct{}
}

type compiledHeaderMatch struct {
	name string
	re   *coregex.Regex
}

// Database is an ordered, compiled signature list. Signatures are
// evaluated in array order; the first match wins.
type Database struct {
	Signatures []Signature
}

// Load reads a JSON signature database from path and compiles every
// regex once at startup.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("waf: read %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and compiles a signature database from raw JSON.
func LoadFromBytes(data []byte) (*Database, error) {
	var raw []Signature
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("waf: malformed signature database: %w", err)
	}

	for i := range raw {
		if err := compileSignature(&raw[i]); err != nil {
			return nil, fmt.Errorf("waf: signature %d (%s): %w", i, raw[i].Vendor, err)
		}
	}

	return &Database{Signatures: raw}, nil
}

func compileSignature(sig *Signature) error {
	if len(sig.Match.Status) > 0 {
		sig.statusSet = make(map[int]struct{}, len(sig.Match.Status))
		for _, s := range sig.Match.Status {
			sig.statusSet[s] = struct{}{}
		}
	}

	for _, h := range sig.Match.Header {
		re, err := coregex.Compile(h.Regex)
		if err != nil {
			return fmt.Errorf("header %s regex: %w", h.Name, err)
		}
		sig.compiledHeaders = append(sig.compiledHeaders, compiledHeaderMatch{name: h.Name, re: re})
	}

	for _, pattern := range sig.Match.BodyRegex {
		re, err := coregex.Compile(pattern)
		if err != nil {
			return fmt.Errorf("body_regex %q: %w", pattern, err)
		}
		sig.compiledBody = append(sig.compiledBody, re)
	}

	return nil
}

// Matches reports whether status/headers/body satisfy this signature.
// All configured criteria (status, every header rule, every body regex)
// must hold; criteria left unset in the JSON are not checked.
func (s *Signature) Matches(status int, headers map[string]string, body []byte) bool {
	if s.statusSet != nil {
		if _, ok := s.statusSet[status]; !ok {
			return false
		}
	}

	for _, h := range s.compiledHeaders {
		val, ok := lookupHeader(headers, h.name)
		if !ok || !h.re.MatchString(val) {
			return false
		}
	}

	for _, re := range s.compiledBody {
		if !re.Match(body) {
			return false
		}
	}

	return true
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// FirstMatch walks the database in order and returns the first matching
// signature, or nil if none match.
func (db *Database) FirstMatch(status int, headers map[string]string, body []byte) *Signature {
	if db == nil {
		return nil
	}
	for i := range db.Signatures {
		if db.Signatures[i].Matches(status, headers, body) {
			return &db.Signatures[i]
		}
	}
	return nil
}

package probe

import (
	"fmt"
	"strconv"
	"strings"
)

// JSONPath is a minimal dotted-path selector over decoded JSON:
// $.error.code, errors[0].id, [1].message. Filters, wildcards, and
// recursive descent are not supported; backend error envelopes don't
// need them.
type JSONPath struct {
	segments []pathSegment
}

type pathSegment struct {
	key     string
	indexes []int
}

// CompileJSONPath parses expr into a JSONPath.
func CompileJSONPath(expr string) (*JSONPath, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "$")
	expr = strings.TrimPrefix(expr, ".")
	if expr == "" {
		return nil, fmt.Errorf("json_path is empty")
	}

	var segments []pathSegment
	for _, raw := range strings.Split(expr, ".") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		seg, err := parsePathSegment(raw)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("json_path %q has no segments", expr)
	}
	return &JSONPath{segments: segments}, nil
}

// parsePathSegment handles "key", "key[0]", "key[0][1]", and a bare
// "[0]" for documents whose root is an array.
func parsePathSegment(raw string) (pathSegment, error) {
	var seg pathSegment
	open := strings.IndexByte(raw, '[')
	if open == -1 {
		seg.key = raw
		return seg, nil
	}

	seg.key = strings.TrimSpace(raw[:open])
	rest := raw[open:]
	for rest != "" {
		if rest[0] != '[' {
			return pathSegment{}, fmt.Errorf("invalid json_path segment %q", raw)
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return pathSegment{}, fmt.Errorf("unterminated index in json_path segment %q", raw)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rest[1:end]))
		if err != nil || idx < 0 {
			return pathSegment{}, fmt.Errorf("invalid index in json_path segment %q", raw)
		}
		seg.indexes = append(seg.indexes, idx)
		rest = rest[end+1:]
	}
	return seg, nil
}

// Eval walks doc along the path, reporting false the moment a key or
// index is absent or the document's shape doesn't match.
func (p *JSONPath) Eval(doc any) (any, bool) {
	cur := doc
	for _, seg := range p.segments {
		if seg.key != "" {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			if cur, ok = obj[seg.key]; !ok {
				return nil, false
			}
		}
		for _, idx := range seg.indexes {
			arr, ok := cur.([]any)
			if !ok || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
		}
	}
	return cur, true
}

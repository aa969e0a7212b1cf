package probe

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// XMLXPath selects the text of one element in an XML error document,
// via either //Tag (first element with that local name at any depth) or
// an absolute /a/b/c path. Predicates, attributes, and namespaces are
// out of scope: SOAP faults and XML error envelopes don't need them.
type XMLXPath struct {
	anyDepth bool
	elements []string
}

// CompileXMLXPath parses expr into an XMLXPath.
func CompileXMLXPath(expr string) (*XMLXPath, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return nil, errors.New("xpath is empty")
	case strings.HasPrefix(expr, "//"):
		tag := strings.TrimSpace(strings.TrimPrefix(expr, "//"))
		if tag == "" || strings.Contains(tag, "/") {
			return nil, fmt.Errorf("xpath %q: // selects a single tag name", expr)
		}
		return &XMLXPath{anyDepth: true, elements: []string{tag}}, nil
	case !strings.HasPrefix(expr, "/"):
		return nil, fmt.Errorf("xpath %q must start with / or //", expr)
	case strings.Contains(expr[1:], "//"):
		return nil, fmt.Errorf("xpath %q: descendant selectors are only supported at the start", expr)
	}

	var elements []string
	for _, part := range strings.Split(expr, "/") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.ContainsAny(part, "[]@") {
			return nil, fmt.Errorf("xpath %q: predicates and attributes are not supported", expr)
		}
		elements = append(elements, part)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("xpath %q has no elements", expr)
	}
	return &XMLXPath{elements: elements}, nil
}

// FindFirstText streams through doc and returns the trimmed text of the
// first matching element, without ever building a DOM.
func (x *XMLXPath) FindFirstText(doc []byte) (string, bool, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var depth []string

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth = append(depth, t.Name.Local)
			if x.matches(depth) {
				text, err := collectText(dec)
				if err != nil {
					return "", false, err
				}
				text = strings.TrimSpace(text)
				return text, text != "", nil
			}
		case xml.EndElement:
			if len(depth) > 0 {
				depth = depth[:len(depth)-1]
			}
		}
	}
}

func (x *XMLXPath) matches(depth []string) bool {
	if x.anyDepth {
		return depth[len(depth)-1] == x.elements[0]
	}
	if len(depth) != len(x.elements) {
		return false
	}
	for i := range depth {
		if depth[i] != x.elements[i] {
			return false
		}
	}
	return true
}

// collectText concatenates the character data under the element the
// decoder is currently inside, through its matching end tag.
func collectText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for nested := 1; nested > 0; {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			nested++
		case xml.EndElement:
			nested--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return sb.String(), nil
}

package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeJSONErrorEnvelope(t *testing.T) {
	p, err := New(Config{Extract: []ExtractorConfig{
		{Name: "error_code", Type: "json_path", JSONPath: "$.error.code"},
		{Name: "request_id", Type: "json_path", JSONPath: "$.error.details[0].request_id"},
	}})
	require.NoError(t, err)

	body := []byte(`{"error":{"code":"APP-500","details":[{"request_id":"abc-123"}]}}`)
	fields, err := p.Probe(body)
	require.NoError(t, err)
	assert.Equal(t, "APP-500", fields["error_code"])
	assert.Equal(t, "abc-123", fields["request_id"])
}

func TestProbeJSONRootArray(t *testing.T) {
	p, err := New(Config{Extract: []ExtractorConfig{
		{Name: "first_message", Type: "json_path", JSONPath: "[0].message"},
	}})
	require.NoError(t, err)

	fields, err := p.Probe([]byte(`[{"message":"access denied"}]`))
	require.NoError(t, err)
	assert.Equal(t, "access denied", fields["first_message"])
}

func TestProbeNonJSONBodyIsNotAnError(t *testing.T) {
	p, err := New(Config{Extract: []ExtractorConfig{
		{Name: "error_code", Type: "json_path", JSONPath: "$.error.code"},
	}})
	require.NoError(t, err)

	fields, err := p.Probe([]byte(`<html><body>404 Not Found</body></html>`))
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestProbeRegexFrameworkBanner(t *testing.T) {
	p, err := New(Config{Extract: []ExtractorConfig{
		{Name: "django_version", Type: "regex", Pattern: `Django Version:\s*([0-9.]+)`, Group: 1},
	}})
	require.NoError(t, err)

	body := []byte(`<h1>Page not found (404)</h1><table><tr><td>Django Version:</td><td>Django Version: 4.2.1</td></tr></table>`)
	fields, err := p.Probe(body)
	require.NoError(t, err)
	assert.Equal(t, "4.2.1", fields["django_version"])
}

func TestProbeRegexGroupZeroIsFullMatch(t *testing.T) {
	p, err := New(Config{Extract: []ExtractorConfig{
		{Name: "banner", Type: "regex", Pattern: `Whitelabel Error Page`, Group: 0},
	}})
	require.NoError(t, err)

	fields, err := p.Probe([]byte(`<h1>Whitelabel Error Page</h1>`))
	require.NoError(t, err)
	assert.Equal(t, "Whitelabel Error Page", fields["banner"])
}

func TestProbeXMLFaultString(t *testing.T) {
	p, err := New(Config{Extract: []ExtractorConfig{
		{Name: "fault", Type: "xml_xpath", XPath: "//faultstring"},
	}})
	require.NoError(t, err)

	body := []byte(`<soap:Envelope><soap:Body><soap:Fault><faultcode>soap:Server</faultcode><faultstring>Internal service error</faultstring></soap:Fault></soap:Body></soap:Envelope>`)
	fields, err := p.Probe(body)
	require.NoError(t, err)
	assert.Equal(t, "Internal service error", fields["fault"])
}

func TestProbeXMLAbsolutePath(t *testing.T) {
	p, err := New(Config{Extract: []ExtractorConfig{
		{Name: "code", Type: "xml_xpath", XPath: "/Error/Code"},
	}})
	require.NoError(t, err)

	fields, err := p.Probe([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
	require.NoError(t, err)
	assert.Equal(t, "AccessDenied", fields["code"])
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := Config{Extract: []ExtractorConfig{
		{Name: "code", Type: "json_path", JSONPath: "$.a"},
		{Name: "code", Type: "json_path", JSONPath: "$.b"},
	}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownType(t *testing.T) {
	cfg := Config{Extract: []ExtractorConfig{{Name: "x", Type: "css_selector", Pattern: "div"}}}
	assert.Error(t, cfg.Validate())
}

func TestCompileXMLXPathRejectsNestedDescendant(t *testing.T) {
	_, err := CompileXMLXPath("/a//b")
	require.Error(t, err)
}

func TestCompileJSONPathRejectsEmpty(t *testing.T) {
	_, err := CompileJSONPath("$.")
	require.Error(t, err)
}

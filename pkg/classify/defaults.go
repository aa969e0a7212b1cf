package classify

import (
	"strings"

	"github.com/fathomsec/fathom/pkg/executor"
)

type builtinDefault struct {
	label      string
	serverHint string
	bodyHints  []string
}

// builtinDefaults are the stock Nginx/Apache/IIS error pages, used as a
// fallback SYS classification when no WAF signature matched. Checked on
// every non-redirect response (2xx included) that db/waf_signatures.json's
// own entries didn't already catch via FirstMatch, before the 2xx OK check.
var builtinDefaults = []builtinDefault{
	{
		label:      "Nginx Default",
		serverHint: "nginx",
		bodyHints:  []string{"<center>nginx</center>"},
	},
	{
		label:      "Apache Default",
		serverHint: "apache",
		bodyHints:  []string{"apache", "server at"},
	},
	{
		label:      "IIS Default",
		serverHint: "microsoft-iis",
		bodyHints:  []string{"the page cannot be found", "iis windows server"},
	},
}

// matchBuiltinDefault walks builtinDefaults in order and returns the
// first whose Server-header hint and at least one body hint both match.
func matchBuiltinDefault(resp executor.ResponseSummary) (string, bool) {
	server := strings.ToLower(lookupHeaderFold(resp.Headers, "Server"))
	body := strings.ToLower(string(resp.Body))

	for _, d := range builtinDefaults {
		if d.serverHint != "" && !strings.Contains(server, d.serverHint) {
			continue
		}
		for _, hint := range d.bodyHints {
			if strings.Contains(body, hint) {
				return d.label, true
			}
		}
	}
	return "", false
}

func lookupHeaderFold(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

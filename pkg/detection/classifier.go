package detection

import (
	"strings"

	"decoynet/pkg/models"
)

// Fixed confidence constants per category.
const (
	confidenceSQLi      = 0.9
	confidenceXSS       = 0.8
	confidenceTraversal = 0.9
	confidenceTool      = 0.7
	confidenceNormal    = 0.1
)

// Category token lists. Ordering of the checks in Classify is significant:
// SQL injection wins over XSS when a URL matches both.
var (
	sqlTokens       = []string{"union", "select", "insert", "delete", "update", "drop"}
	xssTokens       = []string{"<script>", "javascript:", "onerror=", "onload="}
	traversalTokens = []string{"../", "..\\", "/etc/passwd", "/windows/system32"}
	toolSignatures  = []string{"sqlmap", "nikto", "nmap", "burp", "zap"}
)

// severityFor maps each attack type to its severity bucket.
var severityFor = map[models.AttackType]models.Severity{
	models.AttackSQLi:       models.SeverityHigh,
	models.AttackXSS:        models.SeverityMedium,
	models.AttackTraversal:  models.SeverityHigh,
	models.AttackTool:       models.SeverityMedium,
	models.AttackBruteForce: models.SeverityMedium,
	models.AttackDoS:        models.SeverityHigh,
	models.AttackException:  models.SeverityMedium,
	models.AttackNormal:     models.SeverityLow,
}

// SeverityFor returns the severity bucket for an attack type, defaulting to
// low for unknown types.
func SeverityFor(t models.AttackType) models.Severity {
	if s, ok := severityFor[t]; ok {
		return s
	}
	return models.SeverityLow
}

// Classify runs the ordered pattern match over URL and user agent. It is
// deterministic, never fails, and yields a low-confidence "normal" verdict
// for unmatched input.
func Classify(url, userAgent string) models.Classification {
	u := strings.ToLower(url)
	ua := strings.ToLower(userAgent)

	switch {
	case matchesAny(u, sqlTokens):
		return verdict(models.AttackSQLi, confidenceSQLi)
	case matchesAny(u, xssTokens):
		return verdict(models.AttackXSS, confidenceXSS)
	case matchesAny(u, traversalTokens):
		return verdict(models.AttackTraversal, confidenceTraversal)
	case matchesAny(ua, toolSignatures):
		return verdict(models.AttackTool, confidenceTool)
	default:
		return verdict(models.AttackNormal, confidenceNormal)
	}
}

func verdict(t models.AttackType, confidence float64) models.Classification {
	return models.Classification{
		AttackType: t,
		Severity:   SeverityFor(t),
		Confidence: confidence,
	}
}

func matchesAny(s string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// confidenceException applies to classifications derived from failure
// messages rather than request content.
const confidenceException = 0.6

var dosTokens = []string{"timeout", "too many", "overflow", "exhausted"}

// ClassifyException maps a failure message onto the attack taxonomy. A
// crash caused by a malformed SQL payload is still evidence of injection;
// unattributable failures stay type exception.
func ClassifyException(cause string) models.Classification {
	c := strings.ToLower(cause)

	var t models.AttackType
	switch {
	case matchesAny(c, sqlTokens):
		t = models.AttackSQLi
	case matchesAny(c, xssTokens):
		t = models.AttackXSS
	case matchesAny(c, dosTokens):
		t = models.AttackDoS
	default:
		t = models.AttackException
	}
	return models.Classification{
		AttackType: t,
		Severity:   SeverityFor(t),
		Confidence: confidenceException,
	}
}

// ExtractTags derives the AttackEvent tag set from request data.
func ExtractTags(url string, headers map[string]string) []string {
	var tags []string
	u := strings.ToLower(url)

	if matchesAny(u, []string{"admin", "login", "auth"}) {
		tags = append(tags, "authentication_related")
	}
	if matchesAny(u, []string{"api", "rest", "json"}) {
		tags = append(tags, "api_endpoint")
	}
	if matchesAny(u, []string{"sql", "database", "query"}) {
		tags = append(tags, "database_related")
	}
	if matchesAny(u, []string{"file", "upload", "download"}) {
		tags = append(tags, "file_operation")
	}
	if headerPresent(headers, "x-forwarded-for") {
		tags = append(tags, "proxied_request")
	}
	if matchesAny(strings.ToLower(headerValue(headers, "user-agent")), toolSignatures) {
		tags = append(tags, "automated_tool")
	}
	return tags
}

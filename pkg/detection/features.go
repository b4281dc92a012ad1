// Package detection contains the pure request-analysis functions: fixed-schema
// feature extraction for the anomaly models and the ordered rule classifier.
package detection

import (
	"errors"
	"strings"

	"decoynet/pkg/models"
)

// FeatureVectorLength is the pipeline constant every scoring call must match.
// It is frozen at training time; the scorer rejects vectors of any other
// length.
const FeatureVectorLength = 14

// ErrExtraction reports a request record missing required fields. Callers
// should fall back to a default low-confidence classification.
var ErrExtraction = errors.New("feature extraction: required request fields absent")

// Normalization caps. Counts are clipped to [0,1] by dividing by a fixed cap
// so feature magnitude stays bounded regardless of adversarial input length.
const (
	urlLengthCap   = 1000.0
	urlTokenCap    = 10.0
	queryParamCap  = 20.0
	uaLengthCap    = 500.0
	uaTokenCap     = 5.0
	headerCountCap = 50.0
	methodCap      = 6.0
)

// suspiciousURLTokens are substrings whose presence in a URL suggests probing
// or exploitation attempts.
var suspiciousURLTokens = []string{
	"sql", "union", "select", "insert", "delete", "update", "drop",
	"script", "javascript", "onerror", "onload", "alert",
	"admin", "login", "auth", "password", "user",
	"../", "..\\", "/etc/passwd", "/windows/system32",
	"eval", "exec", "system", "cmd", "shell",
}

// toolUserAgentTokens are substrings of known scanner and automation tools.
var toolUserAgentTokens = []string{
	"sqlmap", "nikto", "nmap", "burp", "zap", "scanner",
	"bot", "crawler", "spider", "scraper", "automated",
}

var methodEncoding = map[string]float64{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"HEAD":    4,
	"OPTIONS": 5,
}

// MethodLabels returns a copy of the HTTP method label encoding. It is
// persisted alongside trained models so stored vectors stay interpretable.
func MethodLabels() map[string]float64 {
	out := make(map[string]float64, len(methodEncoding))
	for k, v := range methodEncoding {
		out[k] = v
	}
	return out
}

// ExtractFeatures converts a request record into the fixed-length normalized
// feature vector. It is stateless and safe for concurrent use.
func ExtractFeatures(rec models.RequestRecord) ([]float64, error) {
	if rec.URL == "" || rec.Method == "" {
		return nil, ErrExtraction
	}

	url := strings.ToLower(rec.URL)
	ua := strings.ToLower(rec.UserAgent)
	method := strings.ToUpper(rec.Method)

	features := make([]float64, 0, FeatureVectorLength)

	features = append(features, clip(float64(len(url))/urlLengthCap))
	features = append(features, clip(float64(countTokens(url, suspiciousURLTokens))/urlTokenCap))
	features = append(features, clip(float64(len(rec.QueryParams))/queryParamCap))
	features = append(features, clip(float64(len(ua))/uaLengthCap))
	features = append(features, clip(float64(countTokens(ua, toolUserAgentTokens))/uaTokenCap))

	enc, ok := methodEncoding[method]
	if !ok {
		enc = methodCap
	}
	features = append(features, enc/methodCap)

	features = append(features, clip(float64(len(rec.Headers))/headerCountCap))

	contentType := strings.ToLower(headerValue(rec.Headers, "content-type"))
	features = append(features, boolFeature(strings.Contains(contentType, "json")))
	features = append(features, boolFeature(strings.Contains(contentType, "form")))

	features = append(features, boolFeature(headerPresent(rec.Headers, "authorization")))
	features = append(features, boolFeature(headerPresent(rec.Headers, "x-forwarded-for")))

	features = append(features, boolFeature(strings.Contains(url, "?")))
	features = append(features, boolFeature(strings.Contains(url, "#")))
	features = append(features, boolFeature(strings.Contains(url, "../") || strings.Contains(url, "..\\")))

	return features, nil
}

func countTokens(s string, tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			n++
		}
	}
	return n
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func headerPresent(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

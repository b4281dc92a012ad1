package ml

import (
	"fmt"
	"math/rand"

	"decoynet/pkg/detection"
	"decoynet/pkg/models"
)

// syntheticAttackRatio is the attack share of a generated corpus. The rest
// is benign traffic so the models learn a normal baseline to deviate from.
const syntheticAttackRatio = 0.2

var syntheticPaths = []string{
	"/api/v1/users", "/api/v1/products", "/api/v1/orders", "/index.html",
	"/static/app.js", "/images/logo.png", "/health", "/about", "/contact",
	"/api/v1/search",
}

var syntheticBrowserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/117.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15",
}

var syntheticAttackAgents = []string{
	"sqlmap/1.7.2#stable", "Nikto/2.5.0", "Mozilla/5.0 zgrab/0.x",
	"python-requests/2.31.0 scanner", "Nmap Scripting Engine",
}

var syntheticPayloads = []string{
	"1' UNION SELECT username,password FROM users--",
	"1; DROP TABLE sessions--",
	"<script>alert(document.cookie)</script>",
	"javascript:fetch('//evil.example')",
	"../../../../etc/passwd",
	"..\\..\\windows\\system32\\config\\sam",
	"' OR '1'='1' -- -",
	"<img src=x onerror=alert(1)>",
}

// GenerateSyntheticRecords produces a labeled-by-construction training corpus
// of n request records, roughly 80% benign and 20% attack traffic.
func GenerateSyntheticRecords(n int, rng *rand.Rand) []models.RequestRecord {
	records := make([]models.RequestRecord, 0, n)
	for i := 0; i < n; i++ {
		if rng.Float64() < syntheticAttackRatio {
			records = append(records, syntheticAttack(rng))
		} else {
			records = append(records, syntheticBenign(rng))
		}
	}
	return records
}

// SyntheticTrainingSet generates records and extracts their feature vectors.
func SyntheticTrainingSet(n int, rng *rand.Rand) [][]float64 {
	records := GenerateSyntheticRecords(n, rng)
	X := make([][]float64, 0, len(records))
	for _, rec := range records {
		fv, err := detection.ExtractFeatures(rec)
		if err != nil {
			continue
		}
		X = append(X, fv)
	}
	return X
}

func syntheticBenign(rng *rand.Rand) models.RequestRecord {
	path := syntheticPaths[rng.Intn(len(syntheticPaths))]
	url := path
	params := map[string]string{}
	if rng.Float64() < 0.4 {
		url = fmt.Sprintf("%s?page=%d&limit=%d", path, rng.Intn(50), 10+rng.Intn(40))
		params["page"] = "1"
		params["limit"] = "20"
	} else if rng.Float64() < 0.3 {
		url = fmt.Sprintf("%s/%d", path, rng.Intn(10000))
	}

	method := "GET"
	headers := map[string]string{"Accept": "text/html,application/json"}
	if rng.Float64() < 0.25 {
		method = "POST"
		headers["Content-Type"] = "application/json"
	}
	if rng.Float64() < 0.15 {
		headers["Authorization"] = "Bearer synthetic"
	}

	return models.RequestRecord{
		SourceIP:       fmt.Sprintf("192.0.2.%d", rng.Intn(254)+1),
		UserAgent:      syntheticBrowserAgents[rng.Intn(len(syntheticBrowserAgents))],
		Method:         method,
		URL:            url,
		Endpoint:       path,
		Headers:        headers,
		QueryParams:    params,
		ResponseTimeMs: 20 + rng.Float64()*180,
	}
}

func syntheticAttack(rng *rand.Rand) models.RequestRecord {
	path := syntheticPaths[rng.Intn(len(syntheticPaths))]
	payload := syntheticPayloads[rng.Intn(len(syntheticPayloads))]
	url := fmt.Sprintf("%s?%s=%s", path, []string{"id", "q", "file", "redirect"}[rng.Intn(4)], payload)

	headers := map[string]string{}
	if rng.Float64() < 0.3 {
		headers["X-Forwarded-For"] = fmt.Sprintf("198.51.100.%d", rng.Intn(254)+1)
	}

	method := "GET"
	if rng.Float64() < 0.3 {
		method = "POST"
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	}

	return models.RequestRecord{
		SourceIP:       fmt.Sprintf("203.0.113.%d", rng.Intn(254)+1),
		UserAgent:      syntheticAttackAgents[rng.Intn(len(syntheticAttackAgents))],
		Method:         method,
		URL:            url,
		Endpoint:       path,
		Headers:        headers,
		QueryParams:    map[string]string{"q": payload},
		ResponseTimeMs: 5 + rng.Float64()*40,
	}
}

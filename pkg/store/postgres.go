package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"decoynet/pkg/models"
)

// Postgres implements Store on PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects, configures the pool, and runs the schema migration.
func NewPostgres(dbURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return p, nil
}

func (p *Postgres) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS attack_events (
		request_id VARCHAR(255) PRIMARY KEY,
		session_id VARCHAR(255),
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		source_ip INET NOT NULL,
		user_agent TEXT,
		method VARCHAR(16) NOT NULL,
		endpoint TEXT,
		url TEXT NOT NULL,
		headers JSONB,
		query_params JSONB,
		body TEXT,
		status_code INT,
		response_time_ms FLOAT,
		attack_type VARCHAR(50) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		confidence FLOAT NOT NULL,
		anomaly_score FLOAT NOT NULL,
		is_anomaly BOOLEAN NOT NULL,
		honeypot_type VARCHAR(50),
		tags JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attacker_fingerprints (
		source_ip INET PRIMARY KEY,
		attack_patterns JSONB,
		user_agents JSONB,
		endpoints JSONB,
		timing_series JSONB,
		total_requests INT NOT NULL,
		unique_endpoints INT NOT NULL,
		first_seen TIMESTAMP WITH TIME ZONE,
		last_seen TIMESTAMP WITH TIME ZONE,
		risk_score FLOAT NOT NULL,
		threat_level VARCHAR(20) NOT NULL,
		is_bot BOOLEAN NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS honeypot_sessions (
		session_id VARCHAR(255) PRIMARY KEY,
		source_ip INET NOT NULL,
		honeypot_type VARCHAR(50) NOT NULL,
		start_time TIMESTAMP WITH TIME ZONE,
		last_activity TIMESTAMP WITH TIME ZONE,
		request_count INT NOT NULL,
		endpoints JSONB
	);

	CREATE TABLE IF NOT EXISTS security_alerts (
		alert_id VARCHAR(255) PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		alert_type VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		title TEXT,
		description TEXT,
		source_ip INET,
		attack_type VARCHAR(50),
		detection_method VARCHAR(50),
		confidence FLOAT,
		status VARCHAR(30) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ml_models (
		name VARCHAR(100) PRIMARY KEY,
		blob BYTEA NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_attack_events_source_ip ON attack_events(source_ip);
	CREATE INDEX IF NOT EXISTS idx_attack_events_timestamp ON attack_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_attack_events_severity ON attack_events(severity);
	CREATE INDEX IF NOT EXISTS idx_security_alerts_source_ip ON security_alerts(source_ip);`

	_, err := p.db.Exec(query)
	return err
}

func (p *Postgres) SaveEvent(ctx context.Context, ev *models.AttackEvent) error {
	headers, _ := json.Marshal(ev.Headers)
	params, _ := json.Marshal(ev.QueryParams)
	tags, _ := json.Marshal(ev.Tags)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attack_events (
			request_id, session_id, timestamp, source_ip, user_agent, method,
			endpoint, url, headers, query_params, body, status_code,
			response_time_ms, attack_type, severity, confidence, anomaly_score,
			is_anomaly, honeypot_type, tags
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		ev.RequestID, ev.SessionID, ev.Timestamp, ev.SourceIP, ev.UserAgent, ev.Method,
		ev.Endpoint, ev.URL, headers, params, ev.Body, ev.StatusCode,
		ev.ResponseTime, ev.AttackType, ev.Severity, ev.Confidence, ev.AnomalyScore,
		ev.IsAnomaly, ev.HoneypotType, tags)
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.RequestID, err)
	}
	return nil
}

func (p *Postgres) RecentEvents(ctx context.Context, limit int) ([]models.AttackEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT request_id, session_id, timestamp, source_ip, user_agent, method,
			endpoint, url, headers, query_params, body, status_code,
			response_time_ms, attack_type, severity, confidence, anomaly_score,
			is_anomaly, honeypot_type, tags
		FROM attack_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	var events []models.AttackEvent
	for rows.Next() {
		var ev models.AttackEvent
		var headers, params, tags []byte
		var body sql.NullString
		if err := rows.Scan(&ev.RequestID, &ev.SessionID, &ev.Timestamp, &ev.SourceIP,
			&ev.UserAgent, &ev.Method, &ev.Endpoint, &ev.URL, &headers, &params,
			&body, &ev.StatusCode, &ev.ResponseTime, &ev.AttackType, &ev.Severity,
			&ev.Confidence, &ev.AnomalyScore, &ev.IsAnomaly, &ev.HoneypotType, &tags); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Body = body.String
		_ = json.Unmarshal(headers, &ev.Headers)
		_ = json.Unmarshal(params, &ev.QueryParams)
		_ = json.Unmarshal(tags, &ev.Tags)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *Postgres) CountEventsBySeverity(ctx context.Context, since time.Time) (map[models.Severity]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM attack_events
		WHERE timestamp >= $1 GROUP BY severity`, since)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Severity]int)
	for rows.Next() {
		var sev models.Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[sev] = n
	}
	return counts, rows.Err()
}

func (p *Postgres) UpsertFingerprint(ctx context.Context, fp *models.AttackerFingerprint) error {
	patterns, _ := json.Marshal(fp.AttackPatterns)
	agents, _ := json.Marshal(fp.UserAgents)
	endpoints, _ := json.Marshal(fp.Endpoints)
	timing, _ := json.Marshal(fp.TimingSeries)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attacker_fingerprints (
			source_ip, attack_patterns, user_agents, endpoints, timing_series,
			total_requests, unique_endpoints, first_seen, last_seen,
			risk_score, threat_level, is_bot, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
		ON CONFLICT (source_ip) DO UPDATE SET
			attack_patterns = EXCLUDED.attack_patterns,
			user_agents = EXCLUDED.user_agents,
			endpoints = EXCLUDED.endpoints,
			timing_series = EXCLUDED.timing_series,
			total_requests = EXCLUDED.total_requests,
			unique_endpoints = EXCLUDED.unique_endpoints,
			last_seen = EXCLUDED.last_seen,
			risk_score = EXCLUDED.risk_score,
			threat_level = EXCLUDED.threat_level,
			is_bot = EXCLUDED.is_bot,
			updated_at = NOW()`,
		fp.SourceIP, patterns, agents, endpoints, timing,
		fp.TotalRequests, fp.UniqueEndpoints, fp.FirstSeen, fp.LastSeen,
		fp.RiskScore, fp.ThreatLevel, fp.IsBot)
	if err != nil {
		return fmt.Errorf("upsert fingerprint %s: %w", fp.SourceIP, err)
	}
	return nil
}

func (p *Postgres) LoadFingerprints(ctx context.Context) ([]models.AttackerFingerprint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT source_ip, attack_patterns, user_agents, endpoints, timing_series,
			total_requests, unique_endpoints, first_seen, last_seen,
			risk_score, threat_level, is_bot
		FROM attacker_fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("load fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []models.AttackerFingerprint
	for rows.Next() {
		var fp models.AttackerFingerprint
		var patterns, agents, endpoints, timing []byte
		if err := rows.Scan(&fp.SourceIP, &patterns, &agents, &endpoints, &timing,
			&fp.TotalRequests, &fp.UniqueEndpoints, &fp.FirstSeen, &fp.LastSeen,
			&fp.RiskScore, &fp.ThreatLevel, &fp.IsBot); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		_ = json.Unmarshal(patterns, &fp.AttackPatterns)
		_ = json.Unmarshal(agents, &fp.UserAgents)
		_ = json.Unmarshal(endpoints, &fp.Endpoints)
		_ = json.Unmarshal(timing, &fp.TimingSeries)
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

func (p *Postgres) UpsertSession(ctx context.Context, s *models.HoneypotSession) error {
	endpoints, _ := json.Marshal(s.Endpoints)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO honeypot_sessions (
			session_id, source_ip, honeypot_type, start_time, last_activity,
			request_count, endpoints
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (session_id) DO UPDATE SET
			last_activity = EXCLUDED.last_activity,
			request_count = EXCLUDED.request_count,
			endpoints = EXCLUDED.endpoints`,
		s.SessionID, s.SourceIP, s.HoneypotType, s.StartTime, s.LastActivity,
		s.RequestCount, endpoints)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.SessionID, err)
	}
	return nil
}

func (p *Postgres) InsertAlert(ctx context.Context, a *models.SecurityAlert) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO security_alerts (
			alert_id, timestamp, alert_type, severity, title, description,
			source_ip, attack_type, detection_method, confidence, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.AlertID, a.Timestamp, a.AlertType, a.Severity, a.Title, a.Description,
		a.SourceIP, a.AttackType, a.DetectionMethod, a.Confidence, a.Status)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.AlertID, err)
	}
	return nil
}

func (p *Postgres) RecentAlerts(ctx context.Context, limit int) ([]models.SecurityAlert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT alert_id, timestamp, alert_type, severity, title, description,
			source_ip, attack_type, detection_method, confidence, status
		FROM security_alerts ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.SecurityAlert
	for rows.Next() {
		var a models.SecurityAlert
		if err := rows.Scan(&a.AlertID, &a.Timestamp, &a.AlertType, &a.Severity,
			&a.Title, &a.Description, &a.SourceIP, &a.AttackType,
			&a.DetectionMethod, &a.Confidence, &a.Status); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (p *Postgres) SaveModel(ctx context.Context, name string, blob []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ml_models (name, blob, updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT (name) DO UPDATE SET blob = EXCLUDED.blob, updated_at = NOW()`,
		name, blob)
	if err != nil {
		return fmt.Errorf("save model %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) LoadModel(ctx context.Context, name string) ([]byte, error) {
	var blob []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT blob FROM ml_models WHERE name = $1`, name).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", name, err)
	}
	return blob, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

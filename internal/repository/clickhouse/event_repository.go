package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"security-monitor/internal/bucketing"
	"security-monitor/internal/client"
	"security-monitor/internal/model"
	"security-monitor/internal/util"
)

const insertEventColumns = `INSERT INTO security_events (
	event_bucket, event_date, event_id, event_type, severity, event_time,
	user_id, session_id, ip_address, user_agent,
	request_method, request_url, request_headers, request_body, response_status, response_body,
	details, threat_level, risk_score, indicators, status,
	source, correlation_id, parent_event_id, checksum
)`

const insertEventQuery = insertEventColumns +
	` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// EventRepository persists security events to the partitioned ClickHouse
// table. Writes stamp each row with its bucket assignment and integrity
// checksum.
type EventRepository struct {
	ch        *client.ClickHouseClient
	bucketing *bucketing.Manager
	logger    *zap.Logger
}

func NewEventRepository(ch *client.ClickHouseClient, bm *bucketing.Manager, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		ch:        ch,
		bucketing: bm,
		logger:    logger,
	}
}

// eventRow builds the column values for one event, stamping the bucket
// assignment and integrity checksum at the last point before the row leaves
// the process.
func (r *EventRepository) eventRow(event *model.SecurityEvent) []interface{} {
	bucketKey := event.UserID
	if bucketKey == "" {
		bucketKey = event.IPAddress
	}

	detailsJSON := "{}"
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			// Details are advisory; an unmarshalable value must not lose the event.
			util.Warn("failed to marshal event details",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		} else {
			detailsJSON = string(raw)
		}
	}

	headersJSON := ""
	if len(event.RequestHeaders) > 0 {
		raw, err := json.Marshal(event.RequestHeaders)
		if err != nil {
			util.Warn("failed to marshal request headers",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		} else {
			headersJSON = string(raw)
		}
	}

	event.Checksum = event.ComputeChecksum()

	return []interface{}{
		int32(r.bucketing.EventBucket(bucketKey)),
		r.bucketing.DateBucket(event.Timestamp),
		event.EventID,
		string(event.EventType),
		string(event.Severity),
		event.Timestamp,
		event.UserID,
		event.SessionID,
		event.IPAddress,
		util.TruncateString(event.UserAgent, 512),
		event.RequestMethod,
		util.TruncateString(event.RequestURL, 2048),
		headersJSON,
		util.TruncateString(event.RequestBody, 4096),
		int32(event.ResponseStatus),
		util.TruncateString(event.ResponseBody, 4096),
		detailsJSON,
		event.ThreatLevel,
		event.RiskScore,
		event.Indicators,
		string(event.Status),
		event.Source,
		event.CorrelationID,
		event.ParentEventID,
		event.Checksum,
	}
}

// Insert writes one event.
func (r *EventRepository) Insert(ctx context.Context, event *model.SecurityEvent) error {
	if err := r.ch.Exec(ctx, insertEventQuery, r.eventRow(event)...); err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// InsertBatch writes correlated events in one round trip. The ingestion
// service uses it to land an event and its derived suspicious_activity
// record together.
func (r *EventRepository) InsertBatch(ctx context.Context, events []*model.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(events))
	for _, event := range events {
		rows = append(rows, r.eventRow(event))
	}
	if err := r.ch.BatchInsert(ctx, insertEventColumns, rows); err != nil {
		return fmt.Errorf("failed to insert event batch: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first.
func (r *EventRepository) Query(ctx context.Context, filter model.EventFilter) ([]*model.SecurityEvent, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.IPAddress != "" {
		conditions = append(conditions, "ip_address = ?")
		args = append(args, filter.IPAddress)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "event_time >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "event_time <= ?")
		args = append(args, filter.Until)
	}

	query := `SELECT event_id, event_type, severity, event_time,
		user_id, session_id, ip_address, user_agent,
		request_method, request_url, request_headers, request_body, response_status, response_body,
		details, threat_level, risk_score, indicators, status,
		source, correlation_id, parent_event_id, checksum
	FROM security_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY event_time DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := r.ch.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	var events []*model.SecurityEvent
	for rows.Next() {
		var (
			e              model.SecurityEvent
			eventType      string
			severity       string
			status         string
			detailsJSON    string
			headersJSON    string
			responseStatus int32
		)
		if err := rows.Scan(
			&e.EventID, &eventType, &severity, &e.Timestamp,
			&e.UserID, &e.SessionID, &e.IPAddress, &e.UserAgent,
			&e.RequestMethod, &e.RequestURL, &headersJSON, &e.RequestBody, &responseStatus, &e.ResponseBody,
			&detailsJSON, &e.ThreatLevel, &e.RiskScore, &e.Indicators, &status,
			&e.Source, &e.CorrelationID, &e.ParentEventID, &e.Checksum,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		e.EventType = model.EventType(eventType)
		e.Severity = model.Severity(severity)
		e.Status = model.EventStatus(status)
		e.ResponseStatus = int(responseStatus)
		if detailsJSON != "" && detailsJSON != "{}" {
			if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil {
				util.Warn("failed to decode stored event details",
					zap.String("event_id", e.EventID),
					zap.Error(err))
			}
		}
		if headersJSON != "" {
			if err := json.Unmarshal([]byte(headersJSON), &e.RequestHeaders); err != nil {
				util.Warn("failed to decode stored request headers",
					zap.String("event_id", e.EventID),
					zap.Error(err))
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate security events: %w", err)
	}
	return events, nil
}

// Statistics aggregates stored counts. The three aggregate queries are
// independent and fan out concurrently.
func (r *EventRepository) Statistics(ctx context.Context) (*model.Statistics, error) {
	stats := &model.Statistics{
		EventCounts:    make(map[string]int64),
		SeverityCounts: make(map[string]int64),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := r.ch.QueryRows(gctx,
			"SELECT event_type, count() FROM security_events GROUP BY event_type")
		if err != nil {
			return fmt.Errorf("failed to count by type: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				eventType string
				count     uint64
			)
			if err := rows.Scan(&eventType, &count); err != nil {
				return fmt.Errorf("failed to scan type count: %w", err)
			}
			stats.EventCounts[eventType] = int64(count)
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := r.ch.QueryRows(gctx,
			"SELECT severity, count() FROM security_events GROUP BY severity")
		if err != nil {
			return fmt.Errorf("failed to count by severity: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				severity string
				count    uint64
			)
			if err := rows.Scan(&severity, &count); err != nil {
				return fmt.Errorf("failed to scan severity count: %w", err)
			}
			stats.SeverityCounts[severity] = int64(count)
		}
		return rows.Err()
	})

	g.Go(func() error {
		row := r.ch.QueryRow(gctx,
			"SELECT count() FROM security_events WHERE event_time >= ?",
			time.Now().Add(-24*time.Hour))
		var count uint64
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("failed to count recent events: %w", err)
		}
		stats.Recent24h = int64(count)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// PurgeOlderThan removes events past the retention horizon. Called by the
// external retention job, never by the ingestion path.
func (r *EventRepository) PurgeOlderThan(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if err := r.ch.Exec(ctx,
		"ALTER TABLE security_events DELETE WHERE event_time < ?", cutoff); err != nil {
		return fmt.Errorf("failed to purge events: %w", err)
	}
	util.Info("purged events past retention",
		zap.Int("retention_days", retentionDays))
	return nil
}

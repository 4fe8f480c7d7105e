// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/warden-dev/warden/internal/moderation"
	"github.com/warden-dev/warden/internal/store"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

func (s *Store) SaveIncident(ctx context.Context, incident *moderation.Incident) error {
	if incident == nil || incident.ID == "" {
		return wardenerr.New(wardenerr.CodeStoreInvalidInput, "incident must have an id")
	}

	details, err := json.Marshal(incident.Details)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeStoreIncidentSaveFailure, "marshalling incident details",
			wardenerr.Field("incident_id", incident.ID))
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO incidents
	(id, rule_id, stage, action, severity, chat_id, user_id, message_id, reason, details, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID, incident.RuleID, string(incident.Stage), string(incident.Action),
		int(incident.Severity), incident.ChatID, incident.UserID, incident.MessageID,
		incident.Reason, string(details), incident.OccurredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeStoreIncidentSaveFailure, "inserting incident",
			wardenerr.Field("incident_id", incident.ID))
	}
	return nil
}

func (s *Store) LoadIncidents(ctx context.Context, filter store.IncidentFilter) ([]*moderation.Incident, error) {
	var (
		where []string
		args  []any
	)
	if filter.ChatID != "" {
		where = append(where, "chat_id = ?")
		args = append(args, filter.ChatID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(filter.Action))
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}

	query := `
SELECT id, rule_id, stage, action, severity, chat_id, user_id, message_id, reason, details, occurred_at
FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "querying incidents")
	}
	defer rows.Close()

	var out []*moderation.Incident
	for rows.Next() {
		var (
			inc        moderation.Incident
			stage      string
			action     string
			severity   int
			details    string
			occurredAt string
		)
		if err := rows.Scan(&inc.ID, &inc.RuleID, &stage, &action, &severity,
			&inc.ChatID, &inc.UserID, &inc.MessageID, &inc.Reason, &details, &occurredAt); err != nil {
			return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "scanning incident row")
		}
		inc.Stage = types.StageID(stage)
		inc.Action = types.Action(action)
		inc.Severity = types.Severity(severity)
		ts, err := time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "parsing incident timestamp",
				wardenerr.Field("incident_id", inc.ID))
		}
		inc.OccurredAt = ts
		if details != "" && details != "{}" && details != "null" {
			if err := json.Unmarshal([]byte(details), &inc.Details); err != nil {
				return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "parsing incident details",
					wardenerr.Field("incident_id", inc.ID))
			}
		}
		out = append(out, &inc)
	}
	if err := rows.Err(); err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "iterating incidents")
	}
	return out, nil
}

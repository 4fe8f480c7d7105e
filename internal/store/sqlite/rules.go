// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/warden-dev/warden/internal/rules"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
	"github.com/warden-dev/warden/pkg/types"
)

func (s *Store) SaveRule(ctx context.Context, rule *rules.Rule) error {
	if rule == nil || rule.ID == "" {
		return wardenerr.New(wardenerr.CodeStoreInvalidInput, "rule must have an id")
	}

	meta, err := json.Marshal(rule.Metadata)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeStoreRuleSaveFailure, "marshalling rule metadata",
			wardenerr.FieldRuleID(rule.ID))
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO rules
	(id, description, action, duration_seconds, chat_id, stage, kind, pattern,
	 category, severity, suppresses_global, origin, created_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Description, string(rule.Action), int64(rule.Duration/time.Second),
		rule.ChatID, string(rule.Stage), string(rule.Kind), rule.Pattern,
		rule.Category, int(rule.Severity), boolToInt(rule.SuppressesGlobal),
		string(rule.Origin), rule.CreatedAt.UTC().Format(time.RFC3339Nano), string(meta))
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeStoreRuleSaveFailure, "inserting rule",
			wardenerr.FieldRuleID(rule.ID))
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeStoreRuleDeleteFailure, "deleting rule",
			wardenerr.FieldRuleID(id))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wardenerr.Wrap(err, wardenerr.CodeStoreRuleDeleteFailure, "reading delete result",
			wardenerr.FieldRuleID(id))
	}
	if affected == 0 {
		return wardenerr.New(wardenerr.CodeStoreRuleNotFound, "rule not found",
			wardenerr.FieldRuleID(id))
	}
	return nil
}

func (s *Store) LoadRules(ctx context.Context) ([]*rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, description, action, duration_seconds, chat_id, stage, kind, pattern,
       category, severity, suppresses_global, origin, created_at, metadata
FROM rules
ORDER BY created_at ASC`)
	if err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "querying rules")
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "iterating rules")
	}
	return out, nil
}

func scanRule(rows *sql.Rows) (*rules.Rule, error) {
	var (
		rule       rules.Rule
		action     string
		durationS  int64
		stage      string
		kind       string
		severity   int
		suppresses int
		origin     string
		createdAt  string
		meta       string
	)
	if err := rows.Scan(&rule.ID, &rule.Description, &action, &durationS, &rule.ChatID,
		&stage, &kind, &rule.Pattern, &rule.Category, &severity, &suppresses,
		&origin, &createdAt, &meta); err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "scanning rule row")
	}

	rule.Action = types.Action(action)
	rule.Duration = time.Duration(durationS) * time.Second
	rule.Stage = types.StageID(stage)
	rule.Kind = rules.Kind(kind)
	rule.Severity = types.Severity(severity)
	rule.SuppressesGlobal = suppresses != 0
	rule.Origin = rules.Origin(origin)

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "parsing rule timestamp",
			wardenerr.FieldRuleID(rule.ID))
	}
	rule.CreatedAt = ts

	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rule.Metadata); err != nil {
			return nil, wardenerr.Wrap(err, wardenerr.CodeStoreDatabaseFailure, "parsing rule metadata",
				wardenerr.FieldRuleID(rule.ID))
		}
	}
	return &rule, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package types

// Severity ranks how serious a violation is. Higher values win in verdict
// aggregation.
type Severity int

const (
	SeverityOther  Severity = 10
	SeveritySpam   Severity = 50
	SeverityHate   Severity = 70
	SeverityNSFW   Severity = 80
	SeverityThreat Severity = 100
)

// SeverityFromScore buckets a 0-100 classifier score into the nearest
// named severity.
func SeverityFromScore(score int) Severity {
	switch {
	case score >= 90:
		return SeverityThreat
	case score >= 70:
		return SeverityNSFW
	case score >= 60:
		return SeverityHate
	case score >= 40:
		return SeveritySpam
	default:
		return SeverityOther
	}
}

package incident

import "time"

// SortKey prefixes are reserved namespaces within an incident partition and
// must never collide. IDEMPOTENCY# is a reserved partition namespace used by
// the notification dispatcher.
const (
	SKMetadata = "METADATA"

	PrefixEvent   = "EVENT#"
	PrefixComment = "COMMENT#"
	PrefixUser    = "USER#"
	PrefixSummary = "SUMMARY#"

	PrefixIncidentPK    = "INCIDENT#"
	PrefixIdempotencyPK = "IDEMPOTENCY#"
)

// PK returns the partition key for an incident id.
func PK(id string) string { return PrefixIncidentPK + id }

// IDFromPK strips the partition-key prefix; returns "" for foreign keys.
func IDFromPK(pk string) string {
	if len(pk) <= len(PrefixIncidentPK) || pk[:len(PrefixIncidentPK)] != PrefixIncidentPK {
		return ""
	}
	return pk[len(PrefixIncidentPK):]
}

// skTimeFormat is a fixed-width RFC 3339 UTC layout with nine fractional
// digits. RFC3339Nano trims trailing zeros, which breaks lexicographic
// ordering ('Z' sorts after '.'); fixed width keys sort in timestamp order.
const skTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// EventSK builds the sort key for a timeline event.
func EventSK(ts time.Time, eventID string) string {
	return PrefixEvent + ts.UTC().Format(skTimeFormat) + "#" + eventID
}

// CommentSK builds the sort key for a comment.
func CommentSK(ts time.Time) string {
	return PrefixComment + ts.UTC().Format(skTimeFormat)
}

// UserSK builds the sort key for a participant row.
func UserSK(userID string) string { return PrefixUser + userID }

// SummarySK builds the sort key for an AI summary.
func SummarySK(ts time.Time) string {
	return PrefixSummary + ts.UTC().Format(skTimeFormat)
}

// StatusIndexPK is the GSI1 partition value for a status.
func StatusIndexPK(status Status) string { return "STATUS#" + string(status) }

// StatusIndexSK is the GSI1 sort value: open incidents order by severity.
func StatusIndexSK(sev Severity, id string) string {
	return "SEVERITY#" + string(sev) + "#INCIDENT#" + id
}

// UserIndexPK is the GSI2 partition value for a user.
func UserIndexPK(userID string) string { return PrefixUser + userID }

// UserIndexSK is the GSI2 sort value.
func UserIndexSK(incidentID string) string { return PrefixIncidentPK + incidentID }

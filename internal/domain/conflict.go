package domain

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

const (
	ConflictCraneCapacityExceeded = "CRANE_CAPACITY_EXCEEDED"
	ConflictCraneOverlap          = "CRANE_OVERLAP"
	ConflictStaffOverlap          = "STAFF_OVERLAP"
)

// ConflictReport describes one inconsistency between operations of different visits.
type ConflictReport struct {
	Severity      Severity `json:"severity" enum:"info,warning,blocking"`
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	RelatedVisits []string `json:"related_visits"`
}

// Blocked builds the failure returned when a revision has blocking conflicts.
func Blocked(reports []ConflictReport) *Failure {
	f := &Failure{Kind: FailureBlocked, Message: "revision has blocking conflicts", Reports: reports}
	seen := map[string]bool{}
	for _, r := range reports {
		if r.Severity == SeverityBlocking && !seen[r.Code] {
			seen[r.Code] = true
			f.Codes = append(f.Codes, r.Code)
		}
	}
	return f
}

// Package conflict finds resource clashes between the operations of a revised visit and the
// rest of an operation plan.
package conflict

import (
	"fmt"
	"sort"
	"strings"

	"portcall/internal/domain"
)

// Detect compares every operation of editedVisitRef with every overlapping operation of another
// visit. Reports are deduplicated and returned in a stable order; the input is not modified.
//
// Operations of the edited visit are never compared with each other: two of them sharing a crane
// or exceeding a dock's capacity produce no report unless another visit's operation is involved.
// Callers that need intra-visit checks must run them separately.
func Detect(all []domain.Operation, editedVisitRef string) []domain.ConflictReport {
	var out []domain.ConflictReport
	seen := map[string]struct{}{}
	add := func(r domain.ConflictReport) {
		key := reportKey(r)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}

	for _, e := range all {
		if e.VisitRef != editedVisitRef {
			continue
		}
		for _, o := range all {
			if o.VisitRef == editedVisitRef || !e.Overlaps(o) {
				continue
			}
			refs := relatedVisits(e.VisitRef, o.VisitRef)
			if r, ok := craneCapacity(e, o, refs); ok {
				add(r)
			}
			if e.Crane != "" && e.Crane == o.Crane {
				add(domain.ConflictReport{
					Severity:      domain.SeverityBlocking,
					Code:          domain.ConflictCraneOverlap,
					Message:       fmt.Sprintf("crane %s is assigned to overlapping operations of visits %s", e.Crane, strings.Join(refs, ", ")),
					RelatedVisits: refs,
				})
			}
			if shared := intersect(e.Staff, o.Staff); len(shared) > 0 {
				add(domain.ConflictReport{
					Severity:      domain.SeverityWarning,
					Code:          domain.ConflictStaffOverlap,
					Message:       fmt.Sprintf("staff %s assigned to overlapping operations of visits %s", strings.Join(shared, ", "), strings.Join(refs, ", ")),
					RelatedVisits: refs,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return reportKey(out[i]) < reportKey(out[j]) })
	return out
}

// HasBlocking reports whether any report prevents a revision from being saved.
func HasBlocking(reports []domain.ConflictReport) bool {
	for _, r := range reports {
		if r.Severity == domain.SeverityBlocking {
			return true
		}
	}
	return false
}

// craneCapacity uses the smallest positive capacity either operation declares for the dock.
func craneCapacity(e, o domain.Operation, refs []string) (domain.ConflictReport, bool) {
	if e.Dock == "" || e.Dock != o.Dock {
		return domain.ConflictReport{}, false
	}
	capacity := 0
	for _, c := range []int{e.TotalCranesOnDock, o.TotalCranesOnDock} {
		if c > 0 && (capacity == 0 || c < capacity) {
			capacity = c
		}
	}
	used := e.CraneCountUsed + o.CraneCountUsed
	if capacity == 0 || used <= capacity {
		return domain.ConflictReport{}, false
	}
	return domain.ConflictReport{
		Severity:      domain.SeverityBlocking,
		Code:          domain.ConflictCraneCapacityExceeded,
		Message:       fmt.Sprintf("dock %s needs %d cranes but has %d (visits %s)", e.Dock, used, capacity, strings.Join(refs, ", ")),
		RelatedVisits: refs,
	}, true
}

func relatedVisits(a, b string) []string {
	refs := []string{a, b}
	sort.Strings(refs)
	return refs
}

func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[s] = struct{}{}
	}
	var out []string
	seen := map[string]struct{}{}
	for _, s := range a {
		if _, ok := in[s]; !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func reportKey(r domain.ConflictReport) string {
	refs := append([]string(nil), r.RelatedVisits...)
	sort.Strings(refs)
	return strings.Join([]string{string(r.Severity), r.Code, r.Message, strings.Join(refs, ",")}, "\x00")
}

package codes

import "sort"

// Counts summarizes a classified code set for review progress indicators.
type Counts struct {
	Total      int `json:"total"`
	Primary    int `json:"primary"`
	Secondary  int `json:"secondary"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	NewlyAdded int `json:"newly_added"`
	Pending    int `json:"pending"`
	// Suggested is the working size of the ICD list: AI suggestions that
	// have not been rejected, plus codes the coder added.
	Suggested int `json:"suggested"`
}

// Classification partitions a flat code list into the derived views the
// review screen renders. A record may appear in more than one bucket:
// Primary/Secondary partition by section, Accepted/Rejected/NewlyAdded
// overlay by status.
type Classification struct {
	Primary    []CodeRecord `json:"primary"`
	Secondary  []CodeRecord `json:"secondary"`
	Accepted   []CodeRecord `json:"accepted"`
	Rejected   []CodeRecord `json:"rejected"`
	NewlyAdded []CodeRecord `json:"newly_added"`
	Counts     Counts       `json:"counts"`
}

// Classify derives all grouped views and counts from a flat record list.
// The input is never mutated; two calls on the same input yield identical
// results. Section buckets are returned in display order: unrejected codes
// by ascending rank with unranked last, then rejected codes after them.
func Classify(records []CodeRecord) Classification {
	var c Classification
	c.Counts.Total = len(records)

	var aiTotal, aiRejected int
	for _, r := range records {
		switch r.Section {
		case SectionSecondary:
			c.Secondary = append(c.Secondary, r)
		default:
			c.Primary = append(c.Primary, r)
		}
		switch r.Decision {
		case DecisionAccepted:
			c.Accepted = append(c.Accepted, r)
		case DecisionRejected:
			c.Rejected = append(c.Rejected, r)
		}
		if r.Provenance == ProvenanceAdded {
			c.NewlyAdded = append(c.NewlyAdded, r)
		}
		if r.Provenance == ProvenanceAIModel {
			aiTotal++
			if r.Decision == DecisionRejected {
				aiRejected++
			}
		}
		if r.Pending() {
			c.Counts.Pending++
		}
	}

	sortDisplay(c.Primary)
	sortDisplay(c.Secondary)

	c.Counts.Primary = len(c.Primary)
	c.Counts.Secondary = len(c.Secondary)
	c.Counts.Accepted = len(c.Accepted)
	c.Counts.Rejected = len(c.Rejected)
	c.Counts.NewlyAdded = len(c.NewlyAdded)
	c.Counts.Suggested = aiTotal - aiRejected + len(c.NewlyAdded)
	return c
}

// sortDisplay orders a section bucket for rendering: unrejected before
// rejected, then by rank ascending with unranked (zero) codes last. The
// sort is stable so equal keys keep their incoming order.
func sortDisplay(records []CodeRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := &records[i], &records[j]
		if ri.Rejected() != rj.Rejected() {
			return !ri.Rejected()
		}
		return rankKey(ri.Rank) < rankKey(rj.Rank)
	})
}

func rankKey(rank int) int {
	if rank <= 0 {
		return int(^uint(0) >> 1) // unranked sorts last
	}
	return rank
}

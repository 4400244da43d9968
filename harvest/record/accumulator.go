package record

// Accumulator folds extracted snapshots into a duplicate-free sequence that
// keeps first-seen order. Membership is a set lookup on the canonical key;
// records are never evicted, so Len is monotonically non-decreasing.
//
// An Accumulator is owned by a single harvest run and is not safe for
// concurrent use.
type Accumulator struct {
	seen    map[string]struct{}
	records []Record
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[string]struct{})}
}

// Offer appends r and returns true iff its canonical key has not been seen.
func (a *Accumulator) Offer(r Record) bool {
	k := r.Key()
	if _, ok := a.seen[k]; ok {
		return false
	}
	a.seen[k] = struct{}{}
	a.records = append(a.records, r)
	return true
}

// OfferAll offers every record in order and returns the ones that were new.
func (a *Accumulator) OfferAll(rs []Record) []Record {
	var fresh []Record
	for _, r := range rs {
		if a.Offer(r) {
			fresh = append(fresh, r)
		}
	}
	return fresh
}

// Snapshot returns a copy of the accumulated records in first-seen order.
func (a *Accumulator) Snapshot() []Record {
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// Len returns the number of distinct records accumulated so far.
func (a *Accumulator) Len() int { return len(a.records) }

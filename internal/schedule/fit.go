package schedule

// Fit splices next into suffix, the block that follows remaining. The
// returned suffix replaces the old one; remaining is never modified. The
// boundary is the last remaining activity: a day's closing sleep, or the
// current activity when next lands later the same day.
//
// Fit reports false without touching anything when next does not end after
// remaining, starts before remaining ends, overlaps the suffix's work, or
// does not end before the suffix's closing sleep ends. Otherwise suffix
// entries wholly before or after next are kept, entries inside it are
// dropped, and straddling entries are cut on either side; next is inserted
// exactly once. Zero-length fragments other than sleep are discarded.
func Fit(remaining []*Activity, next *Activity, suffix []*Activity) ([]*Activity, bool, error) {
	if len(remaining) == 0 || len(suffix) == 0 {
		return nil, false, invariant("fit", "empty remaining or suffix schedule")
	}
	boundary := remaining[len(remaining)-1]
	if !boundary.End().Equal(suffix[0].Start) {
		return nil, false, invariant("fit", "%s and %s are not aligned", boundary, suffix[0])
	}
	closing := suffix[len(suffix)-1]
	if closing.Kind != KindSleep {
		return nil, false, invariant("fit", "suffix ends in %s, not sleep", closing)
	}

	if !next.End().After(boundary.End()) || next.Start.Before(boundary.End()) {
		return nil, false, nil
	}
	if !next.End().Before(closing.End()) {
		return nil, false, nil
	}
	for _, a := range suffix {
		if a.Kind == KindWork && a.Duration > 0 {
			if a.Start.Before(next.End()) && next.Start.Before(a.End()) {
				return nil, false, nil
			}
			break
		}
	}

	out := make([]*Activity, 0, len(suffix)+2)
	inserted := false
	insert := func() {
		if !inserted {
			out = append(out, next)
			inserted = true
		}
	}

	for _, a := range suffix {
		switch {
		case !a.End().After(next.Start):
			out = append(out, a)
		case !a.Start.Before(next.End()):
			insert()
			out = append(out, a)
		case !a.Start.Before(next.Start) && !a.End().After(next.End()):
			insert()
		default:
			if a.Start.Before(next.Start) {
				right, err := a.Align(next, false, OriginCutRight, next.Owner)
				if err != nil {
					return nil, false, err
				}
				out = append(out, right)
			}
			insert()
			if a.End().After(next.End()) {
				left, err := a.Align(next, true, OriginCutLeft, next.Owner)
				if err != nil {
					return nil, false, err
				}
				out = append(out, left)
			}
		}
	}
	if !inserted {
		return nil, false, invariant("fit", "%s was never inserted", next)
	}

	out = DropEmpty(out)
	if err := CheckContiguous(boundary.End(), out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

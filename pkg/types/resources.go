package types

import "fmt"

// QuantityKind distinguishes the three Mesos-style resource shapes: a plain
// scalar (cpus, mem), a set of opaque string tokens (ports as discrete
// values), or a union of integer ranges (port ranges). Only scalars support
// fractional amounts.
type QuantityKind int

const (
	ScalarQuantity QuantityKind = iota
	SetQuantity
	RangeQuantity
)

// ValueRange is an inclusive [Begin, End] integer range, e.g. a port range.
type ValueRange struct {
	Begin, End int64
}

// Quantity is one named resource's value, tagged by kind. Exactly one of
// Scalar, Set, Ranges is meaningful for a given Kind.
type Quantity struct {
	Kind   QuantityKind
	Scalar float64
	Set    []string
	Ranges []ValueRange
}

// Resources is a named multiset of Quantity, e.g. {"cpus": scalar 4,
// "ports": ranges [31000-32000]}. A
// Resources value is always kept per-agent/per-framework. The one sum across
// agents in this package is Framework.TotalUsed, which is exact only for
// ScalarQuantity (Add concatenates ranges without merging them).
type Resources map[string]Quantity

// Add returns the sum of r and other. Scalars add; sets union; ranges
// concatenate (callers that need coalesced ranges should normalize
// separately — the core never needs to present merged ranges to a user).
func (r Resources) Add(other Resources) Resources {
	out := make(Resources, len(r)+len(other))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range other {
		if existing, ok := out[k]; ok {
			out[k] = mergeQuantity(existing, v, true)
		} else {
			out[k] = v
		}
	}
	return out
}

// Subtract returns r with other's quantities removed. It is the caller's
// responsibility to have already checked Contains(other); Subtract does not
// itself validate sufficiency, mirroring the pure "apply on a bundle"
// transformation accept-time operations use.
func (r Resources) Subtract(other Resources) Resources {
	out := make(Resources, len(r))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range other {
		if existing, ok := out[k]; ok {
			merged := mergeQuantity(existing, v, false)
			if isZero(merged) {
				delete(out, k)
			} else {
				out[k] = merged
			}
		}
	}
	return out
}

func mergeQuantity(a, b Quantity, add bool) Quantity {
	switch a.Kind {
	case ScalarQuantity:
		if add {
			a.Scalar += b.Scalar
		} else {
			a.Scalar -= b.Scalar
		}
		return a
	case SetQuantity:
		present := make(map[string]bool, len(a.Set))
		for _, s := range a.Set {
			present[s] = true
		}
		if add {
			for _, s := range b.Set {
				present[s] = true
			}
		} else {
			for _, s := range b.Set {
				delete(present, s)
			}
		}
		out := make([]string, 0, len(present))
		for s := range present {
			out = append(out, s)
		}
		a.Set = out
		return a
	case RangeQuantity:
		if add {
			a.Ranges = append(append([]ValueRange{}, a.Ranges...), b.Ranges...)
			return a
		}
		a.Ranges = subtractRanges(a.Ranges, b.Ranges)
		return a
	default:
		return a
	}
}

func subtractRanges(a, b []ValueRange) []ValueRange {
	out := append([]ValueRange{}, a...)
	for _, sub := range b {
		next := make([]ValueRange, 0, len(out))
		for _, r := range out {
			if sub.End < r.Begin || sub.Begin > r.End {
				next = append(next, r)
				continue
			}
			if sub.Begin > r.Begin {
				next = append(next, ValueRange{Begin: r.Begin, End: sub.Begin - 1})
			}
			if sub.End < r.End {
				next = append(next, ValueRange{Begin: sub.End + 1, End: r.End})
			}
		}
		out = next
	}
	return out
}

func isZero(q Quantity) bool {
	switch q.Kind {
	case ScalarQuantity:
		return q.Scalar == 0
	case SetQuantity:
		return len(q.Set) == 0
	case RangeQuantity:
		return len(q.Ranges) == 0
	default:
		return true
	}
}

// Contains reports whether r has at least as much of every quantity in need
// as need itself requires. Used to validate that a LAUNCH's resources are
// covered by the remaining offered bundle.
func (r Resources) Contains(need Resources) bool {
	for k, nq := range need {
		rq, ok := r[k]
		if !ok {
			if isZero(nq) {
				continue
			}
			return false
		}
		switch nq.Kind {
		case ScalarQuantity:
			if rq.Scalar < nq.Scalar {
				return false
			}
		case SetQuantity:
			present := make(map[string]bool, len(rq.Set))
			for _, s := range rq.Set {
				present[s] = true
			}
			for _, s := range nq.Set {
				if !present[s] {
					return false
				}
			}
		case RangeQuantity:
			for _, want := range nq.Ranges {
				if !rangesCover(rq.Ranges, want) {
					return false
				}
			}
		}
	}
	return true
}

func rangesCover(ranges []ValueRange, want ValueRange) bool {
	for _, r := range ranges {
		if r.Begin <= want.Begin && want.End <= r.End {
			return true
		}
	}
	return false
}

// String renders a compact human-readable summary, e.g. "cpus:4 mem:8192".
// Only scalars are rendered inline; set/range kinds print their count, since
// the source of truth for their members is the Quantity itself.
func (r Resources) String() string {
	s := ""
	for k, q := range r {
		switch q.Kind {
		case ScalarQuantity:
			s += fmt.Sprintf("%s:%g ", k, q.Scalar)
		case SetQuantity:
			s += fmt.Sprintf("%s:{%d items} ", k, len(q.Set))
		case RangeQuantity:
			s += fmt.Sprintf("%s:{%d ranges} ", k, len(q.Ranges))
		}
	}
	return s
}

// Scalar is a convenience constructor for a named scalar Resources value.
func Scalar(name string, amount float64) Resources {
	return Resources{name: {Kind: ScalarQuantity, Scalar: amount}}
}

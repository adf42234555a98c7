package pathquery

import (
	"bytes"
	"fmt"
)

// ItemKind discriminates the shapes a QueryItem can take.
type ItemKind uint8

const (
	// KindKey matches exactly one key.
	KindKey ItemKind = iota
	// KindRange matches start <= k < end.
	KindRange
	// KindRangeInclusive matches start <= k <= end.
	KindRangeInclusive
	// KindRangeFull matches every key.
	KindRangeFull
	// KindRangeFrom matches start <= k.
	KindRangeFrom
	// KindRangeAfter matches start < k.
	KindRangeAfter
	// KindRangeTo matches k < end.
	KindRangeTo
	// KindRangeToInclusive matches k <= end.
	KindRangeToInclusive
	// KindRangeAfterTo matches start < k < end.
	KindRangeAfterTo
	// KindRangeAfterToInclusive matches start < k <= end.
	KindRangeAfterToInclusive
)

var kindNames = [...]string{
	KindKey:                   "Key",
	KindRange:                 "Range",
	KindRangeInclusive:        "RangeInclusive",
	KindRangeFull:             "RangeFull",
	KindRangeFrom:             "RangeFrom",
	KindRangeAfter:            "RangeAfter",
	KindRangeTo:               "RangeTo",
	KindRangeToInclusive:      "RangeToInclusive",
	KindRangeAfterTo:          "RangeAfterTo",
	KindRangeAfterToInclusive: "RangeAfterToInclusive",
}

func (k ItemKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ItemKind(%d)", k)
}

// QueryItem selects keys within one tree layer. Start and End are only
// meaningful for the kinds that use them; a Key item stores its key in Start.
type QueryItem struct {
	Kind  ItemKind
	Start []byte
	End   []byte
}

// Key selects a single key.
func Key(k []byte) QueryItem { return QueryItem{Kind: KindKey, Start: clone(k)} }

// Range selects start <= k < end.
func Range(start, end []byte) QueryItem {
	return QueryItem{Kind: KindRange, Start: clone(start), End: clone(end)}
}

// RangeInclusive selects start <= k <= end.
func RangeInclusive(start, end []byte) QueryItem {
	return QueryItem{Kind: KindRangeInclusive, Start: clone(start), End: clone(end)}
}

// RangeFull selects every key in the layer.
func RangeFull() QueryItem { return QueryItem{Kind: KindRangeFull} }

// RangeFrom selects start <= k.
func RangeFrom(start []byte) QueryItem { return QueryItem{Kind: KindRangeFrom, Start: clone(start)} }

// RangeAfter selects start < k.
func RangeAfter(start []byte) QueryItem { return QueryItem{Kind: KindRangeAfter, Start: clone(start)} }

// RangeTo selects k < end.
func RangeTo(end []byte) QueryItem { return QueryItem{Kind: KindRangeTo, End: clone(end)} }

// RangeToInclusive selects k <= end.
func RangeToInclusive(end []byte) QueryItem {
	return QueryItem{Kind: KindRangeToInclusive, End: clone(end)}
}

// RangeAfterTo selects start < k < end.
func RangeAfterTo(start, end []byte) QueryItem {
	return QueryItem{Kind: KindRangeAfterTo, Start: clone(start), End: clone(end)}
}

// RangeAfterToInclusive selects start < k <= end.
func RangeAfterToInclusive(start, end []byte) QueryItem {
	return QueryItem{Kind: KindRangeAfterToInclusive, Start: clone(start), End: clone(end)}
}

// IsKey reports whether the item selects exactly one key.
func (it QueryItem) IsKey() bool { return it.Kind == KindKey }

// LowerBound returns the lower bound and whether it is inclusive. A nil
// bound with unbounded=true means the range starts at the first key.
func (it QueryItem) LowerBound() (bound []byte, inclusive bool, unbounded bool) {
	switch it.Kind {
	case KindKey, KindRange, KindRangeInclusive, KindRangeFrom:
		return it.Start, true, false
	case KindRangeAfter, KindRangeAfterTo, KindRangeAfterToInclusive:
		return it.Start, false, false
	}
	return nil, false, true
}

// UpperBound returns the upper bound and whether it is inclusive.
func (it QueryItem) UpperBound() (bound []byte, inclusive bool, unbounded bool) {
	switch it.Kind {
	case KindKey:
		return it.Start, true, false
	case KindRangeInclusive, KindRangeToInclusive, KindRangeAfterToInclusive:
		return it.End, true, false
	case KindRange, KindRangeTo, KindRangeAfterTo:
		return it.End, false, false
	}
	return nil, false, true
}

// Contains reports whether key falls within the item.
func (it QueryItem) Contains(key []byte) bool {
	if lo, incl, unbounded := it.LowerBound(); !unbounded {
		c := bytes.Compare(key, lo)
		if c < 0 || (c == 0 && !incl) {
			return false
		}
	}
	if hi, incl, unbounded := it.UpperBound(); !unbounded {
		c := bytes.Compare(key, hi)
		if c > 0 || (c == 0 && !incl) {
			return false
		}
	}
	return true
}

// Bound is one end of a key range. An Unbounded bound ignores Key and
// Inclusive.
type Bound struct {
	Key       []byte
	Inclusive bool
	Unbounded bool
}

// FromBounds builds the item selecting keys between lo and hi. It reports
// false when no key can satisfy both bounds.
func FromBounds(lo, hi Bound) (QueryItem, bool) {
	if !lo.Unbounded && !hi.Unbounded {
		c := bytes.Compare(lo.Key, hi.Key)
		if c > 0 || (c == 0 && !(lo.Inclusive && hi.Inclusive)) {
			return QueryItem{}, false
		}
		if c == 0 {
			return Key(lo.Key), true
		}
	}
	switch {
	case lo.Unbounded && hi.Unbounded:
		return RangeFull(), true
	case lo.Unbounded && hi.Inclusive:
		return RangeToInclusive(hi.Key), true
	case lo.Unbounded:
		return RangeTo(hi.Key), true
	case hi.Unbounded && lo.Inclusive:
		return RangeFrom(lo.Key), true
	case hi.Unbounded:
		return RangeAfter(lo.Key), true
	case lo.Inclusive && hi.Inclusive:
		return RangeInclusive(lo.Key, hi.Key), true
	case lo.Inclusive:
		return Range(lo.Key, hi.Key), true
	case hi.Inclusive:
		return RangeAfterToInclusive(lo.Key, hi.Key), true
	}
	return RangeAfterTo(lo.Key, hi.Key), true
}

// Intersect returns the keys selected by both items. It reports false when
// the intersection is empty.
func (it QueryItem) Intersect(other QueryItem) (QueryItem, bool) {
	lo := tighterLower(boundOf(it.LowerBound()), boundOf(other.LowerBound()))
	hi := tighterUpper(boundOf(it.UpperBound()), boundOf(other.UpperBound()))
	return FromBounds(lo, hi)
}

func boundOf(key []byte, inclusive, unbounded bool) Bound {
	return Bound{Key: key, Inclusive: inclusive, Unbounded: unbounded}
}

func tighterLower(a, b Bound) Bound {
	switch {
	case a.Unbounded:
		return b
	case b.Unbounded:
		return a
	}
	c := bytes.Compare(a.Key, b.Key)
	if c > 0 || (c == 0 && !a.Inclusive) {
		return a
	}
	return b
}

func tighterUpper(a, b Bound) Bound {
	switch {
	case a.Unbounded:
		return b
	case b.Unbounded:
		return a
	}
	c := bytes.Compare(a.Key, b.Key)
	if c < 0 || (c == 0 && !a.Inclusive) {
		return a
	}
	return b
}

// Equal reports structural equality.
func (it QueryItem) Equal(other QueryItem) bool {
	return it.Kind == other.Kind && bytes.Equal(it.Start, other.Start) && bytes.Equal(it.End, other.End)
}

// compareLower orders items by lower bound, unbounded first, inclusive
// before exclusive at the same key.
func compareLower(a, b QueryItem) int {
	alo, aincl, aun := a.LowerBound()
	blo, bincl, bun := b.LowerBound()
	switch {
	case aun && bun:
		return 0
	case aun:
		return -1
	case bun:
		return 1
	}
	if c := bytes.Compare(alo, blo); c != 0 {
		return c
	}
	switch {
	case aincl == bincl:
		return 0
	case aincl:
		return -1
	}
	return 1
}

func (it QueryItem) String() string {
	switch it.Kind {
	case KindKey:
		return fmt.Sprintf("Key(%s)", hexOrText(it.Start))
	case KindRangeFull:
		return "RangeFull"
	case KindRangeFrom, KindRangeAfter:
		return fmt.Sprintf("%s(%s)", it.Kind, hexOrText(it.Start))
	case KindRangeTo, KindRangeToInclusive:
		return fmt.Sprintf("%s(%s)", it.Kind, hexOrText(it.End))
	}
	return fmt.Sprintf("%s(%s, %s)", it.Kind, hexOrText(it.Start), hexOrText(it.End))
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// hexOrText renders printable ASCII keys as quoted text and everything else
// as 0x-prefixed hex, keeping golden files readable.
func hexOrText(b []byte) string {
	if len(b) == 0 {
		return `""`
	}
	printable := true
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			printable = false
			break
		}
	}
	if printable {
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("0x%x", b)
}

package geodb

import (
	"errors"
	"fmt"
)

// Format selects the binary database layout.
//
// The legacy format packs subregion indices into 15 bits and steals the
// remaining subregion bit for timezone overflow. The current format keeps
// the full 16-bit subregion field and steals the top feature-code bit
// instead, which also unlocks the larger base feature vocabulary.
type Format int

const (
	// FormatLegacy is database layout version 2.
	FormatLegacy Format = 2
	// FormatCurrent is database layout version 3.
	FormatCurrent Format = 3
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy (v2)"
	case FormatCurrent:
		return "current (v3)"
	default:
		return fmt.Sprintf("unknown (v%d)", int(f))
	}
}

// maxSubregions returns the highest usable subregion index for the format.
// Index 0 is reserved for "no subregion" and does not count.
func (f Format) maxSubregions() int {
	if f == FormatLegacy {
		return maxSubregionsLegacy
	}
	return maxSubregionsCurrent
}

// Capacity ceilings dictated by the encoded field widths.
const (
	maxCountries         = 256   // 8-bit country field
	maxRegions           = 4095  // 12-bit region field, index 0 reserved
	maxSubregionsLegacy  = 32767 // 15-bit subregion field, index 0 reserved
	maxSubregionsCurrent = 65535 // 16-bit subregion field, index 0 reserved
	maxTimezones         = 512   // 8-bit timezone field plus one stolen bit
	maxFeatureCodes      = 64    // 6 usable bits in the feature-code field
)

// Capacity violations abort the run before any output is written.
var (
	ErrTooManyCountries    = errors.New("geodb: country index capacity exceeded")
	ErrTooManyRegions      = errors.New("geodb: region index capacity exceeded")
	ErrTooManySubregions   = errors.New("geodb: subregion index capacity exceeded")
	ErrTooManyTimezones    = errors.New("geodb: timezone index capacity exceeded")
	ErrTooManyFeatureCodes = errors.New("geodb: feature code capacity exceeded")
)

// indexTable assigns compact integer indices to strings in first-used order.
// T bounds the encodable index range (uint8 or uint16).
//
// Unlike an open-ended map, the table enforces a hard entry limit so an
// allocation can never produce an index the binary format cannot store.
// All tables are run-scoped; the compiler constructs fresh ones per run.
type indexTable[T ~uint8 | ~uint16] struct {
	lookup   []string     // index -> key
	index    map[string]T // key -> index
	limit    int          // highest allowed index
	overflow error        // returned when limit would be exceeded
}

// newIndexTable creates a table allowing indices 0..limit.
// If reserveZero is set, index 0 is pre-allocated to the empty key,
// representing "no entry" for regions and subregions.
func newIndexTable[T ~uint8 | ~uint16](limit int, reserveZero bool, overflow error) *indexTable[T] {
	t := &indexTable[T]{
		lookup:   make([]string, 0, 64),
		index:    make(map[string]T, 64),
		limit:    limit,
		overflow: overflow,
	}
	if reserveZero {
		t.lookup = append(t.lookup, "")
		t.index[""] = 0
	}
	return t
}

// add returns the index for key, allocating the next one if unseen.
func (t *indexTable[T]) add(key string) (T, error) {
	if idx, ok := t.index[key]; ok {
		return idx, nil
	}
	next := len(t.lookup)
	if next > t.limit {
		return 0, fmt.Errorf("%w: %d entries", t.overflow, next)
	}
	idx := T(next)
	t.lookup = append(t.lookup, key)
	t.index[key] = idx
	return idx, nil
}

// get returns the index for key without allocating.
func (t *indexTable[T]) get(key string) (T, bool) {
	idx, ok := t.index[key]
	return idx, ok
}

// at returns the key stored at index i, or empty if out of bounds.
func (t *indexTable[T]) at(i int) string {
	if i >= 0 && i < len(t.lookup) {
		return t.lookup[i]
	}
	return ""
}

// count returns the number of allocated entries, including a reserved zero.
func (t *indexTable[T]) count() int {
	return len(t.lookup)
}

// keys returns the allocated keys in index order.
func (t *indexTable[T]) keys() []string {
	return t.lookup
}

// FeatureOther is the generic catch-all feature type. It is always slot 0.
const FeatureOther = "OTHER"

// legacyBaseFeatures is the 16-slot base vocabulary of the legacy format.
var legacyBaseFeatures = []string{
	FeatureOther,
	"PPL", "PPLA", "PPLA2", "PPLA3", "PPLA4",
	"PPLC", "PPLF", "PPLG", "PPLL", "PPLQ",
	"PPLR", "PPLS", "PPLW", "PPLX", "STLMT",
}

// currentBaseFeatures extends the legacy vocabulary to 19 slots.
var currentBaseFeatures = append(append([]string{}, legacyBaseFeatures...),
	"PPLA5", "PPLCH", "PPLH",
)

// featureAliases maps codes that never get their own slot onto OTHER.
// AREA and LCTY show up in city dumps but are not settlements.
var featureAliases = map[string]string{
	"AREA": FeatureOther,
	"LCTY": FeatureOther,
}

func baseFeatures(f Format) []string {
	if f == FormatLegacy {
		return legacyBaseFeatures
	}
	return currentBaseFeatures
}

// featureSupported reports whether code needs no escalation under format f:
// it is either in the base vocabulary or aliased to a base slot.
func featureSupported(f Format, code string) bool {
	if _, ok := featureAliases[code]; ok {
		// Aliased codes still force the legacy format to escalate; only the
		// current vocabulary knows to collapse them instead of appending.
		return f == FormatCurrent
	}
	for _, b := range baseFeatures(f) {
		if b == code {
			return true
		}
	}
	return f == FormatCurrent
}

// featureTable maps feature codes to 6-bit indices. The base vocabulary
// occupies the first slots; codes outside it are appended in first-seen
// order up to the 64-slot ceiling.
type featureTable struct {
	codes []string
	index map[string]uint8
}

// buildFeatureTable allocates indices for the given format from the codes
// used by retained records, in first-seen order. Aliased codes collapse to
// the OTHER slot. Returns ErrTooManyFeatureCodes past the 64-slot ceiling.
func buildFeatureTable(f Format, used []string) (*featureTable, error) {
	base := baseFeatures(f)
	t := &featureTable{
		codes: append([]string{}, base...),
		index: make(map[string]uint8, len(base)+len(used)),
	}
	for i, code := range t.codes {
		t.index[code] = uint8(i)
	}
	for _, code := range used {
		if alias, ok := featureAliases[code]; ok {
			code = alias
		}
		if _, ok := t.index[code]; ok {
			continue
		}
		if len(t.codes) >= maxFeatureCodes {
			return nil, fmt.Errorf("%w: %q would be slot %d", ErrTooManyFeatureCodes, code, len(t.codes))
		}
		t.index[code] = uint8(len(t.codes))
		t.codes = append(t.codes, code)
	}
	return t, nil
}

// lookup returns the slot for code, resolving aliases.
func (t *featureTable) lookup(code string) (uint8, bool) {
	if alias, ok := featureAliases[code]; ok {
		code = alias
	}
	idx, ok := t.index[code]
	return idx, ok
}

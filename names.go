package geodb

import (
	"sort"
	"strings"
)

// Name candidate priorities. Lower wins; for a given (entity, language)
// pair the first-seen candidate at the best priority observed is kept.
const (
	priorityShort     = 0
	priorityPreferred = 1
	priorityPlain     = 2
)

type entityKind int

const (
	entityCity entityKind = iota
	entitySubregion
	entityRegion
	entityCountry
)

// namedEntity is one translatable entity together with the administrative
// context that qualifies its disambiguation key.
type namedEntity struct {
	kind          entityKind
	key           string // plain name key
	country       string // ISO code
	regionName    string
	subregionName string
}

// qualifiedKey builds the fully qualified disambiguation key. Cities and
// subregions qualify with country + region + subregion, regions with
// country + region, countries with the bare country code. Blank components
// are allowed.
func (e *namedEntity) qualifiedKey() string {
	parts := []string{e.key, e.country}
	switch e.kind {
	case entityCity, entitySubregion:
		parts = append(parts, e.regionName, e.subregionName)
	case entityRegion:
		parts = append(parts, e.regionName)
	}
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, "|", "")
	}
	return strings.Join(parts, "|")
}

// keptName is the current best translation for an (entity, language) pair.
type keptName struct {
	text     string
	priority int
}

// languageAcc accumulates resolved names for one language code.
type languageAcc struct {
	lang  string
	kept  map[*namedEntity]*keptName
	order []*namedEntity // first-seen order, for deterministic emission
}

// LanguageNameTable is the per-language artifact content: disambiguated
// key -> translation entries plus the feature-type translation block.
type LanguageNameTable struct {
	Lang         string
	Entries      map[string]string
	FeatureTypes map[string]string
}

// nameResolver collects alternate-name candidates for every retained
// entity and resolves one best name per (entity, language) pair.
// Run-scoped; constructed fresh by each Compiler.
type nameResolver struct {
	tables    *ReferenceTables
	languages map[string]*languageAcc
	flags     map[int64]NameFlags // by reference id, diagnostic only
}

func newNameResolver(tables *ReferenceTables) *nameResolver {
	return &nameResolver{
		tables:    tables,
		languages: make(map[string]*languageAcc),
		flags:     make(map[int64]NameFlags),
	}
}

func (r *nameResolver) language(code string) *languageAcc {
	acc, ok := r.languages[code]
	if !ok {
		acc = &languageAcc{lang: code, kept: make(map[*namedEntity]*keptName)}
		r.languages[code] = acc
	}
	return acc
}

// resolveCity gathers the city's alternates: generic ones are deduplicated
// case-insensitively onto the record's alternate-name list, the rest feed
// the per-language accumulators.
func (r *nameResolver) resolveCity(rec *CityRecord, entity *namedEntity) {
	seen := make(map[string]struct{})
	for _, alt := range r.tables.AltNames[rec.RefID] {
		r.flags[rec.RefID] |= alt.Flags
		if alt.Lang == "" {
			low := strings.ToLower(alt.Name)
			if _, dup := seen[low]; dup {
				continue
			}
			seen[low] = struct{}{}
			rec.AltNames = append(rec.AltNames, alt.Name)
			continue
		}
		r.offer(entity, alt)
	}
}

// resolveEntity feeds language candidates for a country, region or
// subregion by its reference id. Generic alternates are ignored for
// non-city entities.
func (r *nameResolver) resolveEntity(entity *namedEntity, refID int64) {
	for _, alt := range r.tables.AltNames[refID] {
		r.flags[refID] |= alt.Flags
		if alt.Lang == "" {
			continue
		}
		r.offer(entity, alt)
	}
}

// offer applies the candidate selection rules: colloquial and historic
// candidates are excluded entirely; otherwise the first-seen candidate at
// the lowest priority wins and is never displaced by a worse or equal one.
func (r *nameResolver) offer(entity *namedEntity, alt AltName) {
	if alt.Flags.Colloquial() || alt.Flags.Historic() {
		return
	}
	priority := priorityPlain
	switch {
	case alt.Flags.Short():
		priority = priorityShort
	case alt.Flags.Preferred():
		priority = priorityPreferred
	}

	acc := r.language(alt.Lang)
	kept, ok := acc.kept[entity]
	if !ok {
		acc.kept[entity] = &keptName{text: alt.Name, priority: priority}
		acc.order = append(acc.order, entity)
		return
	}
	if priority < kept.priority {
		kept.text = alt.Name
		kept.priority = priority
	}
}

// applyCountryDefaults copies names from a country's default base language
// to the country-qualified variant ("de" -> "de-CH") for entities of that
// country, wherever the variant was resolved from the data but lacks an
// entry the base language has.
func (r *nameResolver) applyCountryDefaults(usedCountries []string) {
	for _, cc := range usedCountries {
		country, ok := r.tables.Countries[cc]
		if !ok {
			continue
		}
		base := country.DefaultLanguage()
		if base == "" {
			continue
		}
		baseAcc, ok := r.languages[base]
		if !ok {
			continue
		}
		variant, ok := r.languages[base+"-"+cc]
		if !ok {
			continue
		}
		for _, entity := range baseAcc.order {
			if entity.country != cc {
				continue
			}
			if _, exists := variant.kept[entity]; exists {
				continue
			}
			kept := baseAcc.kept[entity]
			variant.kept[entity] = &keptName{text: kept.text, priority: kept.priority}
			variant.order = append(variant.order, entity)
		}
	}
}

// hasBracketQualifier reports whether a translation carries an inline
// qualifier such as "Springfield (Ohio)".
func hasBracketQualifier(s string) bool {
	return strings.ContainsAny(s, "([")
}

// buildTables materializes the per-language tables, disambiguating name
// collisions. For each plain key shared by several entities within a
// language, exactly one bare-key entry survives: the translation with the
// highest occurrence count among those without a bracketed qualifier, ties
// broken by shorter string, then lexical order. Every other entity is
// keyed by its fully qualified key.
func (r *nameResolver) buildTables(featureTypes map[string]string) []*LanguageNameTable {
	langs := make([]string, 0, len(r.languages))
	for code := range r.languages {
		langs = append(langs, code)
	}
	sort.Strings(langs)

	tables := make([]*LanguageNameTable, 0, len(langs))
	for _, code := range langs {
		acc := r.languages[code]
		if len(acc.order) == 0 {
			continue
		}
		tables = append(tables, &LanguageNameTable{
			Lang:         code,
			Entries:      acc.disambiguate(),
			FeatureTypes: featureTypes,
		})
	}
	return tables
}

func (acc *languageAcc) disambiguate() map[string]string {
	groups := make(map[string][]*namedEntity)
	keys := []string{}
	for _, entity := range acc.order {
		if _, ok := groups[entity.key]; !ok {
			keys = append(keys, entity.key)
		}
		groups[entity.key] = append(groups[entity.key], entity)
	}

	entries := make(map[string]string, len(acc.order))
	for _, key := range keys {
		group := groups[key]
		if len(group) == 1 {
			entries[key] = acc.kept[group[0]].text
			continue
		}

		winner := acc.bareWinner(group)
		bareTaken := false
		for _, entity := range group {
			kept := acc.kept[entity]
			if !bareTaken && kept.text == winner {
				entries[key] = kept.text
				bareTaken = true
				continue
			}
			entries[entity.qualifiedKey()] = kept.text
		}
	}
	return entries
}

// bareWinner picks the translation emitted under the bare key.
func (acc *languageAcc) bareWinner(group []*namedEntity) string {
	counts := make(map[string]int, len(group))
	for _, entity := range group {
		text := acc.kept[entity].text
		if hasBracketQualifier(text) {
			continue
		}
		counts[text]++
	}
	if len(counts) == 0 {
		// Every translation carries a qualifier; fall back to all of them.
		for _, entity := range group {
			counts[acc.kept[entity].text]++
		}
	}

	winner := ""
	best := 0
	for text, n := range counts {
		switch {
		case n > best:
			winner, best = text, n
		case n == best:
			if len(text) < len(winner) || (len(text) == len(winner) && text < winner) {
				winner = text
			}
		}
	}
	return winner
}

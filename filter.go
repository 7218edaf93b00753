package geodb

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// AnyCountry is the wildcard key selecting the fallback keep-lists of a
// FilterConfig when no country or region specific list applies.
const AnyCountry = "any"

// FilterConfig carries the retention rules for one input dataset.
//
// Keep-list maps are keyed by AnyCountry, a country code ("US"), or a
// composite region code ("US.TX"). The most specific key wins: region,
// then country, then wildcard.
type FilterConfig struct {
	// MinPopulation is the dataset-wide population floor.
	MinPopulation int64
	// CountryMinPopulation overrides MinPopulation per country code.
	CountryMinPopulation map[string]int64
	// RegionMinPopulation overrides both per composite region code.
	RegionMinPopulation map[string]int64
	// KeepAlways lists feature codes retained regardless of population.
	KeepAlways map[string][]string
	// KeepAbove lists feature codes retained at or above the population floor.
	KeepAbove map[string][]string
}

// Dataset pairs one gazetteer input file with its filter settings.
type Dataset struct {
	Path   string
	Filter FilterConfig
}

// compiledFilter is a FilterConfig with its keep-lists turned into sets.
type compiledFilter struct {
	cfg        FilterConfig
	keepAlways map[string]map[string]struct{}
	keepAbove  map[string]map[string]struct{}
}

func compileFilter(cfg FilterConfig) *compiledFilter {
	return &compiledFilter{
		cfg:        cfg,
		keepAlways: compileKeepLists(cfg.KeepAlways),
		keepAbove:  compileKeepLists(cfg.KeepAbove),
	}
}

func compileKeepLists(lists map[string][]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(lists))
	for key, codes := range lists {
		set := make(map[string]struct{}, len(codes))
		for _, c := range codes {
			set[strings.ToUpper(c)] = struct{}{}
		}
		out[key] = set
	}
	return out
}

// minPopulationFor resolves the effective population floor:
// region override, else country override, else the dataset default.
func (f *compiledFilter) minPopulationFor(country, regionKey string) int64 {
	if v, ok := f.cfg.RegionMinPopulation[regionKey]; ok {
		return v
	}
	if v, ok := f.cfg.CountryMinPopulation[country]; ok {
		return v
	}
	return f.cfg.MinPopulation
}

// keepSetFor resolves a keep-list with region > country > wildcard precedence.
func keepSetFor(lists map[string]map[string]struct{}, country, regionKey string) map[string]struct{} {
	if s, ok := lists[regionKey]; ok {
		return s
	}
	if s, ok := lists[country]; ok {
		return s
	}
	return lists[AnyCountry]
}

// Retain reports whether the row survives the dataset's filter rules.
// Retained iff (population >= floor AND feature in keep-above set)
// OR feature in always-keep set.
func (f *compiledFilter) Retain(row *GazetteerRow) bool {
	regionKey := row.RegionKey()
	if always := keepSetFor(f.keepAlways, row.CountryCode, regionKey); always != nil {
		if _, ok := always[row.FeatureCode]; ok {
			return true
		}
	}
	if row.Population < f.minPopulationFor(row.CountryCode, regionKey) {
		return false
	}
	above := keepSetFor(f.keepAbove, row.CountryCode, regionKey)
	if above == nil {
		return false
	}
	_, ok := above[row.FeatureCode]
	return ok
}

// LoadFilterProfile reads a FilterConfig from a profile file
// (YAML, TOML or JSON, decided by extension).
//
// Profile keys:
//
//	min_population: 1000
//	country_min_population: {US: 5000}
//	region_min_population: {US.TX: 15000}
//	keep_always: {any: [PPLC], US: [PPLC, PPLA]}
//	keep_above: {any: [PPL, PPLA, PPLA2]}
func LoadFilterProfile(path string) (FilterConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return FilterConfig{}, fmt.Errorf("reading filter profile: %w", err)
	}

	cfg := FilterConfig{
		MinPopulation:        v.GetInt64("min_population"),
		CountryMinPopulation: map[string]int64{},
		RegionMinPopulation:  map[string]int64{},
		KeepAlways:           map[string][]string{},
		KeepAbove:            map[string][]string{},
	}
	for key, val := range v.GetStringMap("country_min_population") {
		cfg.CountryMinPopulation[normalizeFilterKey(key)] = toInt64(val)
	}
	for key, val := range v.GetStringMap("region_min_population") {
		cfg.RegionMinPopulation[normalizeFilterKey(key)] = toInt64(val)
	}
	for key, codes := range v.GetStringMapStringSlice("keep_always") {
		cfg.KeepAlways[normalizeFilterKey(key)] = codes
	}
	for key, codes := range v.GetStringMapStringSlice("keep_above") {
		cfg.KeepAbove[normalizeFilterKey(key)] = codes
	}
	return cfg, nil
}

// normalizeFilterKey uppercases country/region keys; viper lowercases map
// keys on read. The wildcard key stays lowercase.
func normalizeFilterKey(key string) string {
	if strings.EqualFold(key, AnyCountry) {
		return AnyCountry
	}
	return strings.ToUpper(key)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

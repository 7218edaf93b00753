// Package geodb compiles raw tab-delimited gazetteer dumps into a compact,
// versioned, read-only binary database for offline reverse geocoding.
//
// The pipeline runs two strictly sequential passes: a pre-scan that filters
// and deduplicates rows and allocates compact entity indices, then an
// encoding pass that serializes the resolved records. All accumulator state
// lives on one Compiler and is discarded after the run.
package geodb

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// progressInterval is the row interval for scan progress logging.
const progressInterval = 250000

// Compiler drives one full compilation run. Construct a fresh Compiler per
// run; it is not safe for reuse or concurrent use.
type Compiler struct {
	tables   *ReferenceTables
	datasets []Dataset
	target   Format
	comment  string
	log      *zap.Logger

	// Run state, populated by the pre-scan.
	dedupe     *dedupeIndex
	countries  *indexTable[uint8]
	regions    *indexTable[uint16]
	subregions *indexTable[uint16]
	timezones  *indexTable[uint16]
	features   *featureTable

	usedFeatures []string // first-seen order
	format       Format   // final format, after any escalation
	escalated    bool

	resolver   *nameResolver
	langTables []*LanguageNameTable

	// Scan statistics.
	rowsRead, rowsMalformed, rowsFiltered, rowsCollided int64
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Compiler) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTargetFormat sets the format the run aims for. The legacy format may
// still escalate to the current one when its capacity is exceeded.
func WithTargetFormat(f Format) Option {
	return func(c *Compiler) { c.target = f }
}

// WithComment sets the human-readable comment line written after the header.
func WithComment(comment string) Option {
	return func(c *Compiler) { c.comment = comment }
}

// NewCompiler creates a Compiler over the loaded reference tables and the
// given input datasets.
func NewCompiler(tables *ReferenceTables, datasets []Dataset, opts ...Option) *Compiler {
	c := &Compiler{
		tables:     tables,
		datasets:   datasets,
		target:     FormatCurrent,
		log:        zap.NewNop(),
		dedupe:     newDedupeIndex(),
		countries:  newIndexTable[uint8](maxCountries-1, false, ErrTooManyCountries),
		regions:    newIndexTable[uint16](maxRegions, true, ErrTooManyRegions),
		subregions: newIndexTable[uint16](maxSubregionsCurrent, true, ErrTooManySubregions),
		timezones:  newIndexTable[uint16](maxTimezones-1, false, ErrTooManyTimezones),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Format returns the format the run settled on. Valid after Compile.
func (c *Compiler) Format() Format { return c.format }

// Escalated reports whether a legacy-format run was upgraded to the current
// format. Valid after Compile.
func (c *Compiler) Escalated() bool { return c.escalated }

// CityCount returns the number of retained city records. Valid after Compile.
func (c *Compiler) CityCount() int { return c.dedupe.count() }

// Compile runs the full pipeline and writes the database, the
// alternate-names blob and the per-language artifacts into outDir.
func (c *Compiler) Compile(outDir string) error {
	if err := c.prescan(); err != nil {
		return err
	}
	if err := c.allocate(); err != nil {
		return err
	}
	c.resolveNames()
	if err := c.encode(outDir); err != nil {
		return err
	}
	c.log.Info("database compiled",
		zap.String("dir", outDir),
		zap.Stringer("format", c.format),
		zap.Int("cities", c.dedupe.count()),
		zap.Int("countries", c.countries.count()),
		zap.Int("regions", c.regions.count()-1),
		zap.Int("subregions", c.subregions.count()-1),
		zap.Int("timezones", c.timezones.count()),
		zap.Int("featureCodes", len(c.features.codes)),
		zap.Int("languages", len(c.langTables)))
	return nil
}

// prescan streams every dataset once, applying that dataset's filter and
// folding retained rows into the coordinate deduplication index.
func (c *Compiler) prescan() error {
	for _, ds := range c.datasets {
		if err := c.scanDataset(ds); err != nil {
			return fmt.Errorf("dataset %s: %w", ds.Path, err)
		}
	}
	c.log.Info("pre-scan complete",
		zap.Int64("rows", c.rowsRead),
		zap.Int64("malformed", c.rowsMalformed),
		zap.Int64("filtered", c.rowsFiltered),
		zap.Int64("collided", c.rowsCollided),
		zap.Int("retained", c.dedupe.count()))
	return nil
}

func (c *Compiler) scanDataset(ds Dataset) error {
	fi, err := os.Open(ds.Path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()

	filter := compileFilter(ds.Filter)
	scanner := bufio.NewScanner(fi)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rows int64
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		rows++
		c.rowsRead++
		if rows%progressInterval == 0 {
			c.log.Debug("scanning", zap.String("dataset", ds.Path), zap.Int64("rows", rows))
		}

		row, ok := parseGazetteerRow(line)
		if !ok {
			c.rowsMalformed++
			continue
		}
		if !filter.Retain(&row) {
			c.rowsFiltered++
			continue
		}
		if !c.dedupe.insert(recordFromRow(&row)) {
			c.rowsCollided++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	c.log.Info("dataset scanned", zap.String("dataset", ds.Path), zap.Int64("rows", rows))
	return nil
}

// allocate walks the surviving records in first-seen order, assigning
// compact indices to every referenced entity and deciding the final format.
// Capacity violations surface here, before any output is written.
func (c *Compiler) allocate() error {
	seenFeature := make(map[string]struct{}, maxFeatureCodes)
	for _, rec := range c.dedupe.all() {
		if _, err := c.countries.add(rec.CountryCode); err != nil {
			return err
		}
		if rec.RegionKey != "" {
			if _, err := c.regions.add(rec.RegionKey); err != nil {
				return err
			}
		}
		if rec.SubregionKey != "" {
			if _, err := c.subregions.add(rec.SubregionKey); err != nil {
				return err
			}
		}
		if _, err := c.timezones.add(rec.Timezone); err != nil {
			return err
		}
		if _, ok := seenFeature[rec.FeatureCode]; !ok {
			seenFeature[rec.FeatureCode] = struct{}{}
			c.usedFeatures = append(c.usedFeatures, rec.FeatureCode)
		}
	}

	c.format = c.target
	if c.target == FormatLegacy {
		reason := ""
		if c.subregions.count()-1 > maxSubregionsLegacy {
			reason = fmt.Sprintf("%d subregions exceed the legacy ceiling", c.subregions.count()-1)
		}
		for _, code := range c.usedFeatures {
			if !featureSupported(FormatLegacy, code) {
				reason = fmt.Sprintf("feature code %q is not in the legacy vocabulary", code)
				break
			}
		}
		if reason != "" {
			c.format = FormatCurrent
			c.escalated = true
			c.log.Warn("escalating to current format", zap.String("reason", reason))
		}
	}

	var err error
	c.features, err = buildFeatureTable(c.format, c.usedFeatures)
	if err != nil {
		return err
	}
	return nil
}

// resolveNames attaches generic alternates to city records and builds the
// per-language tables for every used entity.
func (c *Compiler) resolveNames() {
	c.resolver = newNameResolver(c.tables)

	for _, rec := range c.dedupe.all() {
		entity := &namedEntity{
			kind:          entityCity,
			key:           stripCommas(rec.Name),
			country:       rec.CountryCode,
			regionName:    c.regionName(rec.RegionKey),
			subregionName: c.subregionName(rec.SubregionKey),
		}
		c.resolver.resolveCity(rec, entity)
	}

	usedCountries := c.countries.keys()
	for _, cc := range usedCountries {
		country, ok := c.tables.Countries[cc]
		if !ok {
			c.log.Debug("country not in the reference table, skipping its translations",
				zap.String("country", cc))
			continue
		}
		c.resolver.resolveEntity(&namedEntity{
			kind:    entityCountry,
			key:     country.Name,
			country: cc,
		}, country.GeonameID)
	}
	for _, key := range c.regions.keys()[1:] {
		div, ok := c.tables.Regions[key]
		if !ok {
			c.log.Debug("region not in the reference table, skipping its translations",
				zap.String("region", key))
			continue
		}
		cc, _, _ := strings.Cut(key, ".")
		c.resolver.resolveEntity(&namedEntity{
			kind:       entityRegion,
			key:        div.Name,
			country:    cc,
			regionName: div.Name,
		}, div.GeonameID)
	}
	for _, key := range c.subregions.keys()[1:] {
		div, ok := c.tables.Subregions[key]
		if !ok {
			c.log.Debug("subregion not in the reference table, skipping its translations",
				zap.String("subregion", key))
			continue
		}
		cc, rest, _ := strings.Cut(key, ".")
		rr, _, _ := strings.Cut(rest, ".")
		c.resolver.resolveEntity(&namedEntity{
			kind:          entitySubregion,
			key:           div.Name,
			country:       cc,
			regionName:    c.regionName(cc + "." + rr),
			subregionName: div.Name,
		}, div.GeonameID)
	}

	c.resolver.applyCountryDefaults(usedCountries)

	featureTypes := make(map[string]string, len(c.features.codes))
	for _, code := range c.features.codes {
		if name, ok := c.tables.FeatureNames[code]; ok {
			featureTypes[code] = name
		} else {
			featureTypes[code] = code
		}
	}
	c.langTables = c.resolver.buildTables(featureTypes)

	flagged := 0
	for _, f := range c.resolver.flags {
		if f != 0 {
			flagged++
		}
	}
	c.log.Debug("names resolved",
		zap.Int("languages", len(c.langTables)),
		zap.Int("flaggedEntities", flagged))
}

// regionName resolves a composite region key to its display name.
func (c *Compiler) regionName(key string) string {
	if key == "" {
		return ""
	}
	if div, ok := c.tables.Regions[key]; ok {
		return div.Name
	}
	return key
}

func (c *Compiler) subregionName(key string) string {
	if key == "" {
		return ""
	}
	if div, ok := c.tables.Subregions[key]; ok {
		return div.Name
	}
	return key
}

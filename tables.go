package geodb

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// CountryEntry holds the country metadata consumed by the compiler, parsed
// from the countryInfo dump.
type CountryEntry struct {
	Code      string // ISO 3166-1 alpha-2
	Name      string
	Languages string // comma-separated locale list, first entry is the default
	GeonameID int64  // reference id joining the alternate-names table
}

// DefaultLanguage returns the country's default base language code
// ("pt-BR,es" yields "pt"), or empty when unknown.
func (c CountryEntry) DefaultLanguage() string {
	first, _, _ := strings.Cut(c.Languages, ",")
	base, _, _ := strings.Cut(first, "-")
	return base
}

// AdminDivision is one administrative region or subregion.
// The composite code keys the table: "US.TX" for regions,
// "US.TX.453" for subregions.
type AdminDivision struct {
	Code      string // composite code
	Name      string
	ASCIIName string
	GeonameID int64
}

// NameFlags records the preferred/short/colloquial/historic markers seen on
// alternate-name candidates. Diagnostic only; never persisted.
type NameFlags uint8

const (
	NamePreferred NameFlags = 1 << iota
	NameShort
	NameColloquial
	NameHistoric
)

func (f NameFlags) Preferred() bool  { return f&NamePreferred != 0 }
func (f NameFlags) Short() bool      { return f&NameShort != 0 }
func (f NameFlags) Colloquial() bool { return f&NameColloquial != 0 }
func (f NameFlags) Historic() bool   { return f&NameHistoric != 0 }

// AltName is one alternate-name candidate for an entity.
// An empty Lang marks a generic (language-less) alternate.
type AltName struct {
	Lang  string
	Name  string
	Flags NameFlags
}

// TableSources names the reference dumps for one run. Country, Region and
// Subregion paths are mandatory; FeatureNames and AltNames are optional
// enrichment.
type TableSources struct {
	Country      string
	Regions      string
	Subregions   string
	FeatureNames string
	AltNames     string
}

// ReferenceTables holds all loaded vocabularies, keyed by their natural
// composite codes.
type ReferenceTables struct {
	Countries    map[string]CountryEntry  // by ISO code
	Regions      map[string]AdminDivision // by "CC.RR"
	Subregions   map[string]AdminDivision // by "CC.RR.SS"
	FeatureNames map[string]string        // by feature code, e.g. "PPL"
	AltNames     map[int64][]AltName      // by reference id
}

// LoadTables loads the reference vocabularies. Missing mandatory tables are
// fatal; missing optional tables log a warning and degrade gracefully.
func LoadTables(src TableSources, log *zap.Logger) (*ReferenceTables, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := &ReferenceTables{
		FeatureNames: map[string]string{},
		AltNames:     map[int64][]AltName{},
	}

	var err error
	if t.Countries, err = loadCountryTable(src.Country); err != nil {
		return nil, fmt.Errorf("country table: %w", err)
	}
	if t.Regions, err = loadAdminTable(src.Regions); err != nil {
		return nil, fmt.Errorf("region table: %w", err)
	}
	if t.Subregions, err = loadAdminTable(src.Subregions); err != nil {
		return nil, fmt.Errorf("subregion table: %w", err)
	}

	if src.FeatureNames != "" {
		if t.FeatureNames, err = loadFeatureNames(src.FeatureNames); err != nil {
			log.Warn("feature-name table unavailable, proceeding without display names",
				zap.String("path", src.FeatureNames), zap.Error(err))
			t.FeatureNames = map[string]string{}
		}
	}
	if src.AltNames != "" {
		if t.AltNames, err = loadAltNames(src.AltNames); err != nil {
			log.Warn("alternate-names table unavailable, proceeding without translations",
				zap.String("path", src.AltNames), zap.Error(err))
			t.AltNames = map[int64][]AltName{}
		}
	}

	log.Info("reference tables loaded",
		zap.Int("countries", len(t.Countries)),
		zap.Int("regions", len(t.Regions)),
		zap.Int("subregions", len(t.Subregions)),
		zap.Int("featureNames", len(t.FeatureNames)),
		zap.Int("altNameEntities", len(t.AltNames)))
	return t, nil
}

// loadCountryTable parses a countryInfo dump.
// Columns: ISO, ISO3, ISO-Numeric, fips, Country, Capital, Area, Population,
// Continent, tld, Currency..., Languages (15), geonameid (16), ...
func loadCountryTable(path string) (map[string]CountryEntry, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()

	countries := make(map[string]CountryEntry, 300)
	scanner := bufio.NewScanner(fi)
	for scanner.Scan() {
		t := scanner.Text()
		if len(t) == 0 || t[0] == '#' {
			continue
		}
		fields := strings.Split(t, "\t")
		if len(fields) < 17 || fields[0] == "" {
			continue
		}
		gid, _ := strconv.ParseInt(fields[16], 10, 64)
		countries[fields[0]] = CountryEntry{
			Code:      fields[0],
			Name:      fields[4],
			Languages: fields[15],
			GeonameID: gid,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return countries, nil
}

// loadAdminTable parses a region or subregion dump.
// Format: COMPOSITE.CODE<tab>Name<tab>AsciiName<tab>GeonameId
func loadAdminTable(path string) (map[string]AdminDivision, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()

	divisions := make(map[string]AdminDivision, 4096)
	scanner := bufio.NewScanner(fi)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		d := AdminDivision{Code: fields[0], Name: fields[1]}
		if len(fields) > 2 {
			d.ASCIIName = fields[2]
		}
		if len(fields) > 3 {
			d.GeonameID, _ = strconv.ParseInt(fields[3], 10, 64)
		}
		divisions[d.Code] = d
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return divisions, nil
}

// loadFeatureNames parses the feature-name dump.
// Format: <class>.<code><tab>display name[<tab>description]
func loadFeatureNames(path string) (map[string]string, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()

	names := make(map[string]string, 128)
	scanner := bufio.NewScanner(fi)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		// Key by the bare code; gazetteer rows carry no class prefix.
		_, code, found := strings.Cut(fields[0], ".")
		if !found {
			code = fields[0]
		}
		names[code] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return names, nil
}

// loadAltNames parses the alternate-names dump.
// Columns: alt id, reference id, language code, name,
// isPreferred, isShort, isColloquial, isHistoric.
func loadAltNames(path string) (map[int64][]AltName, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer fi.Close()

	alts := make(map[int64][]AltName, 1<<16)
	scanner := bufio.NewScanner(fi)
	// Alternate-name rows for big cities can be long.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 4 || fields[3] == "" {
			continue
		}
		ref, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		var flags NameFlags
		if flagSet(fields, 4) {
			flags |= NamePreferred
		}
		if flagSet(fields, 5) {
			flags |= NameShort
		}
		if flagSet(fields, 6) {
			flags |= NameColloquial
		}
		if flagSet(fields, 7) {
			flags |= NameHistoric
		}
		alts[ref] = append(alts[ref], AltName{
			Lang:  fields[2],
			Name:  fields[3],
			Flags: flags,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return alts, nil
}

func flagSet(fields []string, i int) bool {
	return len(fields) > i && fields[i] == "1"
}

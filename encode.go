package geodb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Output artifact names within the output directory.
const (
	DatabaseFile = "geodata.db"
	AltNamesFile = "geodata.alt"
)

// LanguageFile returns the artifact name for one language code.
func LanguageFile(lang string) string {
	return "geodata." + lang + ".lang"
}

// headerPrefix starts the text header: "Geolocation<version>\t<count>\n".
const headerPrefix = "Geolocation"

// Section sentinel ids, in emission order. Every section closes with the
// 5-byte sequence FF FF FF FF <id>; the file ends with the empty sentinel
// (id 0). 0xFF bytes cannot appear in valid UTF-8 text.
const (
	sentEnd byte = iota
	sentCities
	sentCountries
	sentRegions
	sentSubregions
	sentTimezones
	sentFeatureCodes
)

func sentinel(id byte) []byte {
	return []byte{0xFF, 0xFF, 0xFF, 0xFF, id}
}

// ErrDanglingReference marks the internal invariant violation of a record
// referencing an entity with no allocated index.
var ErrDanglingReference = errors.New("geodb: record references unallocated entity")

// cityRowPrefixLen is the fixed byte size of a packed city row before the
// newline-terminated name.
const cityRowPrefixLen = 13

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

// packPopulation reduces a population count to a decimal mantissa digit and
// a signed exponent, packed as two nibbles (digit high, exponent low).
func packPopulation(pop int64) byte {
	if pop <= 0 {
		return 0
	}
	exp := int8(0)
	for pop >= 10 {
		pop = (pop + 5) / 10
		exp++
	}
	return byte(pop)<<4 | byte(exp)&0xF
}

// unpackPopulation recovers the approximate population.
func unpackPopulation(b byte) int64 {
	digit := int64(b >> 4)
	exp := int8(b << 4) >> 4 // sign-extend the low nibble
	if exp < 0 {
		return 0
	}
	for ; exp > 0; exp-- {
		digit *= 10
	}
	return digit
}

// cityIndices are the resolved compact indices of one record.
type cityIndices struct {
	country   uint8
	region    uint16
	subregion uint16
	timezone  uint16
	feature   uint8
}

// resolveIndices maps a record's raw codes to its allocated indices.
// A missing allocation is a fatal internal error: entities are created
// only during the pre-scan, so every retained record must resolve.
func (c *Compiler) resolveIndices(rec *CityRecord) (cityIndices, error) {
	var idx cityIndices
	var ok bool
	if idx.country, ok = c.countries.get(rec.CountryCode); !ok {
		return idx, fmt.Errorf("%w: country %q", ErrDanglingReference, rec.CountryCode)
	}
	if rec.RegionKey != "" {
		if idx.region, ok = c.regions.get(rec.RegionKey); !ok {
			return idx, fmt.Errorf("%w: region %q", ErrDanglingReference, rec.RegionKey)
		}
	}
	if rec.SubregionKey != "" {
		if idx.subregion, ok = c.subregions.get(rec.SubregionKey); !ok {
			return idx, fmt.Errorf("%w: subregion %q", ErrDanglingReference, rec.SubregionKey)
		}
	}
	if idx.timezone, ok = c.timezones.get(rec.Timezone); !ok {
		return idx, fmt.Errorf("%w: timezone %q", ErrDanglingReference, rec.Timezone)
	}
	if idx.feature, ok = c.features.lookup(rec.FeatureCode); !ok {
		return idx, fmt.Errorf("%w: feature code %q", ErrDanglingReference, rec.FeatureCode)
	}
	return idx, nil
}

// packCityRow appends one fixed-prefix city row.
//
// Layout (big-endian, so byte order equals quantized coordinate order):
//
//	u16  qlat >> 4
//	u8   (qlat & 0xF) << 4 | (qlon & 0xF)
//	u16  qlon >> 4
//	u32  country<<24 | popDigit<<20 | popExp<<16 | region
//	u16  subregion  (legacy: bit 15 carries the timezone overflow bit)
//	u8   timezone low byte (256 subtracted on overflow)
//	u8   feature code (current: bit 7 carries the timezone overflow bit)
//	name bytes, commas stripped, '\n'
func packCityRow(buf *bytes.Buffer, format Format, rec *CityRecord, idx cityIndices) {
	var prefix [cityRowPrefixLen]byte
	binary.BigEndian.PutUint16(prefix[0:2], uint16(rec.QLat>>4))
	prefix[2] = byte(rec.QLat&0xF)<<4 | byte(rec.QLon&0xF)
	binary.BigEndian.PutUint16(prefix[3:5], uint16(rec.QLon>>4))

	pop := packPopulation(rec.Population)
	packed := uint32(idx.country)<<24 | uint32(pop)<<16 | uint32(idx.region)
	binary.BigEndian.PutUint32(prefix[5:9], packed)

	sub := idx.subregion
	tz := byte(idx.timezone & 0xFF)
	fc := idx.feature
	if idx.timezone > 0xFF {
		if format == FormatLegacy {
			sub |= 0x8000
		} else {
			fc |= 0x80
		}
	}
	binary.BigEndian.PutUint16(prefix[9:11], sub)
	prefix[11] = tz
	prefix[12] = fc

	buf.Write(prefix[:])
	buf.WriteString(stripCommas(rec.Name))
	buf.WriteByte('\n')
}

// sortedRecords returns the retained records ordered by their packed
// coordinate bytes, the order a downstream reader binary-searches.
func (c *Compiler) sortedRecords() []*CityRecord {
	records := append([]*CityRecord{}, c.dedupe.all()...)
	sort.Slice(records, func(i, j int) bool {
		return records[i].coordKey() < records[j].coordKey()
	})
	return records
}

// encode serializes all resolved entities and writes every artifact.
// Each file is written to a temporary path and atomically renamed into
// place on success, so an aborted run never leaves a truncated database
// under the final name.
func (c *Compiler) encode(outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	records := c.sortedRecords()

	var db bytes.Buffer
	fmt.Fprintf(&db, "%s%d\t%d\n", headerPrefix, int(c.format), len(records))
	comment := c.comment
	if comment == "" {
		comment = fmt.Sprintf("compiled gazetteer: %d cities, %d countries, %d timezones",
			len(records), c.countries.count(), c.timezones.count())
	}
	fmt.Fprintf(&db, "# %s\n", comment)

	var alt bytes.Buffer
	for _, rec := range records {
		idx, err := c.resolveIndices(rec)
		if err != nil {
			return err
		}
		packCityRow(&db, c.format, rec, idx)

		// Positional join: one NUL-terminated record per city, in city order.
		alt.WriteString(strings.Join(rec.AltNames, ","))
		alt.WriteByte('\n')
		alt.WriteByte(0)
	}
	db.Write(sentinel(sentCities))

	for _, cc := range c.countries.keys() {
		name := cc
		if country, ok := c.tables.Countries[cc]; ok {
			name = country.Name
		}
		fmt.Fprintf(&db, "%s\t%s\n", cc, name)
	}
	db.Write(sentinel(sentCountries))

	writeDivisionSection(&db, c.regions.keys(), c.tables.Regions)
	db.Write(sentinel(sentRegions))

	writeDivisionSection(&db, c.subregions.keys(), c.tables.Subregions)
	db.Write(sentinel(sentSubregions))

	for _, tz := range c.timezones.keys() {
		db.WriteString(tz)
		db.WriteByte('\n')
	}
	db.Write(sentinel(sentTimezones))

	for _, code := range c.features.codes {
		name := code
		if display, ok := c.tables.FeatureNames[code]; ok {
			name = display
		}
		fmt.Fprintf(&db, "%s\t%s\n", code, name)
	}
	db.Write(sentinel(sentFeatureCodes))
	db.Write(sentinel(sentEnd))

	if err := writeFileAtomic(filepath.Join(outDir, DatabaseFile), db.Bytes()); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(outDir, AltNamesFile), alt.Bytes()); err != nil {
		return err
	}
	for _, table := range c.langTables {
		data := encodeLanguageTable(table)
		if err := writeFileAtomic(filepath.Join(outDir, LanguageFile(table.Lang)), data); err != nil {
			return err
		}
	}
	return nil
}

// writeDivisionSection emits region or subregion names in index order.
// Slot 0 is the reserved "none" entry and is written as an empty line.
func writeDivisionSection(db *bytes.Buffer, keys []string, divisions map[string]AdminDivision) {
	for i, key := range keys {
		if i > 0 {
			name := key
			if div, ok := divisions[key]; ok {
				name = div.Name
			}
			db.WriteString(name)
		}
		db.WriteByte('\n')
	}
}

// encodeLanguageTable renders one per-language artifact: the disambiguated
// key -> translation mapping sorted by key, then the feature-type block.
func encodeLanguageTable(table *LanguageNameTable) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s%s\t%s\n", headerPrefix, "Names", table.Lang)

	keys := make([]string, 0, len(table.Entries))
	for key := range table.Entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&buf, "%s\t%s\n", key, table.Entries[key])
	}

	buf.WriteString("#types\n")
	codes := make([]string, 0, len(table.FeatureTypes))
	for code := range table.FeatureTypes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(&buf, "%s\t%s\n", code, table.FeatureTypes[code])
	}
	return buf.Bytes()
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path on success.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	success = true
	return nil
}

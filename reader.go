package geodb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/golang/geo/s2"
	"github.com/hashicorp/go-multierror"
	"github.com/umahmood/haversine"
)

// s2CellLevel sets the granularity of the reverse-lookup spatial index.
// Level 10 cells are roughly 10x10 km at the equator.
const s2CellLevel = 10

// maxReverseKm caps how far a reverse lookup may reach; beyond it the
// lookup reports no match.
const maxReverseKm = 100.0

// DBCity is one decoded city row.
type DBCity struct {
	Name       string
	Lat, Lon   float64
	QLat, QLon uint32
	Country    uint8
	Region     uint16
	Subregion  uint16
	Timezone   uint16
	Feature    uint8
	Population int64
}

// DBCountry is one decoded country section entry.
type DBCountry struct {
	Code string
	Name string
}

// DBFeature is one decoded feature-code section entry.
type DBFeature struct {
	Code string
	Name string
}

// Database is a compiled database loaded back into memory. It backs the
// verification path and reverse-lookup spot checks.
type Database struct {
	Version   int
	CityCount int // from the header
	Comment   string

	Cities       []DBCity
	Countries    []DBCountry
	Regions      []string
	Subregions   []string
	Timezones    []string
	FeatureCodes []DBFeature

	cellIndex map[s2.CellID][]int
}

// OpenDatabase reads and decodes a compiled database file.
func OpenDatabase(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db, err := decodeDatabase(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	db.buildCellIndex()
	return db, nil
}

func decodeDatabase(data []byte) (*Database, error) {
	db := &Database{}

	header, rest, found := bytes.Cut(data, []byte{'\n'})
	if !found || !bytes.HasPrefix(header, []byte(headerPrefix)) {
		return nil, fmt.Errorf("missing %s header", headerPrefix)
	}
	version, countField, found := strings.Cut(string(header[len(headerPrefix):]), "\t")
	if !found {
		return nil, fmt.Errorf("malformed header %q", header)
	}
	var err error
	if db.Version, err = strconv.Atoi(version); err != nil {
		return nil, fmt.Errorf("malformed header version %q", version)
	}
	if db.CityCount, err = strconv.Atoi(countField); err != nil {
		return nil, fmt.Errorf("malformed header count %q", countField)
	}
	comment, rest, found := bytes.Cut(rest, []byte{'\n'})
	if !found {
		return nil, fmt.Errorf("missing comment line")
	}
	db.Comment = strings.TrimPrefix(string(comment), "# ")

	legacy := db.Version == int(FormatLegacy)
	for !bytes.HasPrefix(rest, sentinel(sentCities)) {
		if len(rest) < cityRowPrefixLen {
			return nil, fmt.Errorf("truncated city section")
		}
		city, consumed, err := decodeCityRow(rest, legacy)
		if err != nil {
			return nil, err
		}
		db.Cities = append(db.Cities, city)
		rest = rest[consumed:]
	}
	rest = rest[len(sentinel(sentCities)):]

	countryLines, rest, err := readTextSection(rest, sentCountries)
	if err != nil {
		return nil, err
	}
	for _, line := range countryLines {
		code, name, _ := strings.Cut(line, "\t")
		db.Countries = append(db.Countries, DBCountry{Code: code, Name: name})
	}

	if db.Regions, rest, err = readTextSection(rest, sentRegions); err != nil {
		return nil, err
	}
	if db.Subregions, rest, err = readTextSection(rest, sentSubregions); err != nil {
		return nil, err
	}
	if db.Timezones, rest, err = readTextSection(rest, sentTimezones); err != nil {
		return nil, err
	}
	featureLines, rest, err := readTextSection(rest, sentFeatureCodes)
	if err != nil {
		return nil, err
	}
	for _, line := range featureLines {
		code, name, _ := strings.Cut(line, "\t")
		db.FeatureCodes = append(db.FeatureCodes, DBFeature{Code: code, Name: name})
	}

	if !bytes.Equal(rest, sentinel(sentEnd)) {
		return nil, fmt.Errorf("missing file terminator")
	}
	return db, nil
}

func decodeCityRow(data []byte, legacy bool) (DBCity, int, error) {
	var city DBCity
	city.QLat = uint32(binary.BigEndian.Uint16(data[0:2]))<<4 | uint32(data[2]>>4)
	city.QLon = uint32(binary.BigEndian.Uint16(data[3:5]))<<4 | uint32(data[2]&0xF)
	city.Lat = unquantizeLat(city.QLat)
	city.Lon = unquantizeLon(city.QLon)

	packed := binary.BigEndian.Uint32(data[5:9])
	city.Country = uint8(packed >> 24)
	city.Population = unpackPopulation(byte(packed >> 16))
	city.Region = uint16(packed & 0xFFF)

	sub := binary.BigEndian.Uint16(data[9:11])
	tz := uint16(data[11])
	fc := data[12]
	if legacy {
		if sub&0x8000 != 0 {
			sub &^= 0x8000
			tz += 256
		}
	} else if fc&0x80 != 0 {
		fc &^= 0x80
		tz += 256
	}
	city.Subregion = sub
	city.Timezone = tz
	city.Feature = fc

	nameEnd := bytes.IndexByte(data[cityRowPrefixLen:], '\n')
	if nameEnd < 0 {
		return city, 0, fmt.Errorf("unterminated city name")
	}
	city.Name = string(data[cityRowPrefixLen : cityRowPrefixLen+nameEnd])
	return city, cityRowPrefixLen + nameEnd + 1, nil
}

// readTextSection consumes newline-terminated lines up to the section's
// sentinel and returns them with the remaining data.
func readTextSection(data []byte, id byte) ([]string, []byte, error) {
	var lines []string
	sent := sentinel(id)
	for !bytes.HasPrefix(data, sent) {
		line, rest, found := bytes.Cut(data, []byte{'\n'})
		if !found {
			return nil, nil, fmt.Errorf("section %d missing sentinel", id)
		}
		lines = append(lines, string(line))
		data = rest
	}
	return lines, data[len(sent):], nil
}

// buildCellIndex creates the S2 cell index used by ReverseLookup.
func (db *Database) buildCellIndex() {
	db.cellIndex = make(map[s2.CellID][]int, len(db.Cities))
	for i, city := range db.Cities {
		ll := s2.LatLngFromDegrees(city.Lat, city.Lon)
		cell := s2.CellIDFromLatLng(ll).Parent(s2CellLevel)
		db.cellIndex[cell] = append(db.cellIndex[cell], i)
	}
}

// cellAndNeighbors returns the cell itself, its edge neighbors and the
// corner cells around them.
func cellAndNeighbors(cell s2.CellID) []s2.CellID {
	cells := make([]s2.CellID, 0, 9)
	cells = append(cells, cell)

	edge := cell.EdgeNeighbors()
	cells = append(cells, edge[:]...)

	seen := make(map[s2.CellID]bool, 9)
	for _, c := range cells {
		seen[c] = true
	}
	for i := 0; i < 4; i++ {
		for _, corner := range edge[i].EdgeNeighbors() {
			if !seen[corner] {
				cells = append(cells, corner)
				seen[corner] = true
			}
		}
	}
	return cells
}

// ReverseLookup returns the city nearest to the given coordinates, within
// the maximum lookup distance. The second return is false when nothing
// qualifies.
func (db *Database) ReverseLookup(lat, lon float64) (DBCity, bool) {
	query := haversine.Coord{Lat: lat, Lon: lon}
	queryCell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(s2CellLevel)

	best := -1
	bestKm := maxReverseKm
	for _, cell := range cellAndNeighbors(queryCell) {
		for _, i := range db.cellIndex[cell] {
			city := db.Cities[i]
			_, km := haversine.Distance(query, haversine.Coord{Lat: city.Lat, Lon: city.Lon})
			if km < bestKm || (km == bestKm && best >= 0 && city.Population > db.Cities[best].Population) {
				best = i
				bestKm = km
			}
		}
	}
	if best < 0 {
		return DBCity{}, false
	}
	return db.Cities[best], true
}

// FindCity returns the first city whose name matches, case-insensitively.
// A maxDist > 0 tolerates that many edits.
func (db *Database) FindCity(name string, maxDist int) (DBCity, bool) {
	for _, city := range db.Cities {
		if nameMatch(name, city.Name, maxDist) {
			return city, true
		}
	}
	return DBCity{}, false
}

// nameMatch compares names with optional edit-distance tolerance.
func nameMatch(query, candidate string, maxDist int) bool {
	if maxDist == 0 {
		return strings.EqualFold(query, candidate)
	}
	dist := levenshtein.ComputeDistance(
		strings.ToLower(query),
		strings.ToLower(candidate),
	)
	return dist <= maxDist
}

// Verify checks the structural invariants of the decoded database and
// returns every violation found.
func (db *Database) Verify() error {
	var result *multierror.Error

	if len(db.Cities) != db.CityCount {
		result = multierror.Append(result, fmt.Errorf(
			"header city count %d, decoded %d", db.CityCount, len(db.Cities)))
	}
	var prev uint64
	for i, city := range db.Cities {
		// Same key the writer sorts by: latitude, then the longitude's
		// low nibble (byte 2 of the row prefix), then its high bits.
		key := uint64(city.QLat)<<20 | uint64(city.QLon&0xF)<<16 | uint64(city.QLon>>4)
		if i > 0 && key <= prev {
			result = multierror.Append(result, fmt.Errorf(
				"city %d (%s): rows not strictly ascending by packed coordinate bytes", i, city.Name))
		}
		prev = key

		if int(city.Country) >= len(db.Countries) {
			result = multierror.Append(result, fmt.Errorf(
				"city %d (%s): country index %d out of range", i, city.Name, city.Country))
		}
		if int(city.Region) >= len(db.Regions) {
			result = multierror.Append(result, fmt.Errorf(
				"city %d (%s): region index %d out of range", i, city.Name, city.Region))
		}
		if int(city.Subregion) >= len(db.Subregions) {
			result = multierror.Append(result, fmt.Errorf(
				"city %d (%s): subregion index %d out of range", i, city.Name, city.Subregion))
		}
		if int(city.Timezone) >= len(db.Timezones) {
			result = multierror.Append(result, fmt.Errorf(
				"city %d (%s): timezone index %d out of range", i, city.Name, city.Timezone))
		}
		if int(city.Feature) >= len(db.FeatureCodes) {
			result = multierror.Append(result, fmt.Errorf(
				"city %d (%s): feature index %d out of range", i, city.Name, city.Feature))
		}
		if strings.Contains(city.Name, ",") {
			result = multierror.Append(result, fmt.Errorf(
				"city %d (%s): name contains a comma", i, city.Name))
		}
	}
	if len(db.FeatureCodes) > maxFeatureCodes {
		result = multierror.Append(result, fmt.Errorf(
			"feature section holds %d codes, limit %d", len(db.FeatureCodes), maxFeatureCodes))
	}
	return result.ErrorOrNil()
}

// ReadAltNames loads an alternate-names blob: one NUL-terminated record per
// city, each holding the comma-joined generic alternates.
func ReadAltNames(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening alternate-names blob: %w", err)
	}
	var records [][]string
	for len(data) > 0 {
		record, rest, found := bytes.Cut(data, []byte{0})
		if !found {
			return nil, fmt.Errorf("unterminated alternate-names record %d", len(records))
		}
		joined := strings.TrimSuffix(string(record), "\n")
		if joined == "" {
			records = append(records, nil)
		} else {
			records = append(records, strings.Split(joined, ","))
		}
		data = rest
	}
	return records, nil
}

// OpenLanguageTable loads one per-language artifact back into memory.
func OpenLanguageTable(path string) (*LanguageNameTable, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening language table: %w", err)
	}
	defer fi.Close()

	table := &LanguageNameTable{
		Entries:      map[string]string{},
		FeatureTypes: map[string]string{},
	}
	scanner := bufio.NewScanner(fi)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty language table")
	}
	header := scanner.Text()
	if !strings.HasPrefix(header, headerPrefix+"Names\t") {
		return nil, fmt.Errorf("malformed language table header %q", header)
	}
	table.Lang = strings.TrimPrefix(header, headerPrefix+"Names\t")

	inTypes := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "#types" {
			inTypes = true
			continue
		}
		key, val, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		if inTypes {
			table.FeatureTypes[key] = val
		} else {
			table.Entries[key] = val
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading language table: %w", err)
	}
	return table, nil
}

package geodb

import (
	"strconv"
	"strings"
)

// Gazetteer row column layout. Rows with fewer columns are silently dropped.
const (
	colID = iota
	colName
	colLat
	colLon
	colFeatureCode
	colCountry
	colRegion
	colSubregion
	colPopulation
	colTimezone
	colAltCount
	minRowColumns = colAltCount + 1
)

// GazetteerRow is one parsed input line. Immutable once parsed.
type GazetteerRow struct {
	ID            int64
	Name          string
	Lat, Lon      float64
	FeatureCode   string
	CountryCode   string
	RegionCode    string
	SubregionCode string
	Population    int64
	Timezone      string
	AltCount      int
}

// RegionKey returns the composite region code ("US.TX"), or empty when the
// row carries no region.
func (r *GazetteerRow) RegionKey() string {
	if r.RegionCode == "" {
		return ""
	}
	return r.CountryCode + "." + r.RegionCode
}

// SubregionKey returns the composite subregion code ("US.TX.453"), or empty
// when the row carries no subregion.
func (r *GazetteerRow) SubregionKey() string {
	if r.SubregionCode == "" {
		return ""
	}
	return r.CountryCode + "." + r.RegionCode + "." + r.SubregionCode
}

// parseGazetteerRow splits one tab-delimited line. Returns false for
// structurally malformed lines: too few columns, unparseable coordinates,
// an empty name, or a country code that is not two ASCII letters.
func parseGazetteerRow(line string) (GazetteerRow, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < minRowColumns {
		return GazetteerRow{}, false
	}
	name := strings.TrimSpace(fields[colName])
	if name == "" {
		return GazetteerRow{}, false
	}
	cc := strings.ToUpper(fields[colCountry])
	if !validCountryCode(cc) {
		return GazetteerRow{}, false
	}
	lat, errLat := strconv.ParseFloat(fields[colLat], 64)
	lon, errLon := strconv.ParseFloat(fields[colLon], 64)
	if errLat != nil || errLon != nil {
		// Unparseable coordinates would otherwise land at (0,0).
		return GazetteerRow{}, false
	}

	id, _ := strconv.ParseInt(fields[colID], 10, 64)
	pop, _ := strconv.ParseInt(fields[colPopulation], 10, 64)
	altCount, _ := strconv.Atoi(fields[colAltCount])

	return GazetteerRow{
		ID:            id,
		Name:          name,
		Lat:           lat,
		Lon:           lon,
		FeatureCode:   strings.ToUpper(fields[colFeatureCode]),
		CountryCode:   cc,
		RegionCode:    fields[colRegion],
		SubregionCode: fields[colSubregion],
		Population:    pop,
		Timezone:      fields[colTimezone],
		AltCount:      altCount,
	}, true
}

func validCountryCode(cc string) bool {
	if len(cc) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		if cc[i] < 'A' || cc[i] > 'Z' {
			return false
		}
	}
	return true
}

// CityRecord is one retained place. Entity references stay as raw codes
// until encoding resolves them against the allocated index tables.
type CityRecord struct {
	Name         string
	QLat, QLon   uint32
	CountryCode  string
	RegionKey    string
	SubregionKey string
	Population   int64
	Timezone     string
	FeatureCode  string
	RefID        int64    // joins the alternate-names table
	AltNames     []string // generic alternates, deduplicated
}

// coordKey packs the quantized pair for map keys and row ordering. The
// longitude's low nibble sits above its high bits, mirroring the packed
// row prefix where that nibble shares byte 2 with the latitude, so sorting
// by this value equals sorting by the encoded prefix bytes.
func (c *CityRecord) coordKey() uint64 {
	return uint64(c.QLat)<<20 | uint64(c.QLon&0xF)<<16 | uint64(c.QLon>>4)
}

func recordFromRow(row *GazetteerRow) *CityRecord {
	return &CityRecord{
		Name:         row.Name,
		QLat:         quantizeLat(row.Lat),
		QLon:         quantizeLon(row.Lon),
		CountryCode:  row.CountryCode,
		RegionKey:    row.RegionKey(),
		SubregionKey: row.SubregionKey(),
		Population:   row.Population,
		Timezone:     row.Timezone,
		FeatureCode:  row.FeatureCode,
		RefID:        row.ID,
	}
}

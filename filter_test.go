package geodb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRow(name, fc, cc, rr string, pop int64) *GazetteerRow {
	return &GazetteerRow{
		Name:        name,
		FeatureCode: fc,
		CountryCode: cc,
		RegionCode:  rr,
		Population:  pop,
	}
}

func TestFilterPopulationPrecedence(t *testing.T) {
	f := compileFilter(FilterConfig{
		MinPopulation:        1000,
		CountryMinPopulation: map[string]int64{"US": 5000},
		RegionMinPopulation:  map[string]int64{"US.TX": 15000},
		KeepAbove:            map[string][]string{AnyCountry: {"PPL"}},
	})

	cases := []struct {
		name string
		row  *GazetteerRow
		want bool
	}{
		{"dataset default applies", testRow("a", "PPL", "FR", "", 1000), true},
		{"below dataset default", testRow("b", "PPL", "FR", "", 999), false},
		{"country override applies", testRow("c", "PPL", "US", "CA", 5000), true},
		{"below country override", testRow("d", "PPL", "US", "CA", 4999), false},
		{"region override beats country", testRow("e", "PPL", "US", "TX", 15000), true},
		{"below region override", testRow("f", "PPL", "US", "TX", 14999), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.Retain(tc.row))
		})
	}
}

func TestFilterKeepListPrecedence(t *testing.T) {
	f := compileFilter(FilterConfig{
		MinPopulation: 1000,
		KeepAbove: map[string][]string{
			AnyCountry: {"PPL"},
			"US":       {"PPLA"},
			"US.TX":    {"PPLA2"},
		},
	})

	// The most specific keep-above list replaces, not extends, the others.
	assert.True(t, f.Retain(testRow("a", "PPL", "FR", "", 2000)))
	assert.False(t, f.Retain(testRow("b", "PPL", "US", "", 2000)))
	assert.True(t, f.Retain(testRow("c", "PPLA", "US", "", 2000)))
	assert.False(t, f.Retain(testRow("d", "PPLA", "US", "TX", 2000)))
	assert.True(t, f.Retain(testRow("e", "PPLA2", "US", "TX", 2000)))
}

func TestFilterAlwaysKeepIgnoresPopulation(t *testing.T) {
	f := compileFilter(FilterConfig{
		MinPopulation: 100000,
		KeepAbove:     map[string][]string{AnyCountry: {"PPL"}},
		KeepAlways:    map[string][]string{AnyCountry: {"PPLC"}},
	})

	assert.True(t, f.Retain(testRow("capital", "PPLC", "IS", "", 0)),
		"always-keep features survive at any population")
	assert.False(t, f.Retain(testRow("village", "PPL", "IS", "", 50)))
}

func TestFilterUnknownFeatureDropped(t *testing.T) {
	f := compileFilter(FilterConfig{
		MinPopulation: 0,
		KeepAbove:     map[string][]string{AnyCountry: {"PPL"}},
	})
	assert.False(t, f.Retain(testRow("area", "AREA", "US", "", 1e6)))
}

func TestParseGazetteerRow(t *testing.T) {
	line := "123\tAustin\t30.26715\t-97.74306\tPPLA\tUS\tTX\t453\t961855\tAmerica/Chicago\t12"
	row, ok := parseGazetteerRow(line)
	require.True(t, ok)
	assert.Equal(t, int64(123), row.ID)
	assert.Equal(t, "Austin", row.Name)
	assert.Equal(t, "PPLA", row.FeatureCode)
	assert.Equal(t, "US", row.CountryCode)
	assert.Equal(t, "US.TX", row.RegionKey())
	assert.Equal(t, "US.TX.453", row.SubregionKey())
	assert.Equal(t, int64(961855), row.Population)
	assert.Equal(t, "America/Chicago", row.Timezone)
	assert.Equal(t, 12, row.AltCount)
}

func TestParseGazetteerRowMalformed(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"too few columns", "1\tName\t10\t20"},
		{"bad country code", "1\tName\t10\t20\tPPL\tUSA\tTX\t\t100\tUTC\t0"},
		{"numeric country code", "1\tName\t10\t20\tPPL\t12\tTX\t\t100\tUTC\t0"},
		{"empty name", "1\t\t10\t20\tPPL\tUS\tTX\t\t100\tUTC\t0"},
		{"bad latitude", "1\tName\tnorth\t20\tPPL\tUS\tTX\t\t100\tUTC\t0"},
		{"bad longitude", "1\tName\t10\twest\tPPL\tUS\tTX\t\t100\tUTC\t0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := parseGazetteerRow(tc.line)
			assert.False(t, ok)
		})
	}
}

func TestParseGazetteerRowLowercaseCountry(t *testing.T) {
	row, ok := parseGazetteerRow("1\tParis\t48.85\t2.35\tPPLC\tfr\t11\t\t2000000\tEurope/Paris\t0")
	require.True(t, ok)
	assert.Equal(t, "FR", row.CountryCode)
}

func TestLoadFilterProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	profile := `min_population: 1000
country_min_population:
  us: 5000
region_min_population:
  us.tx: 15000
keep_always:
  any: [PPLC]
  us: [PPLC, PPLA]
keep_above:
  any: [PPL, PPLA]
`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0644))

	cfg, err := LoadFilterProfile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cfg.MinPopulation)
	assert.Equal(t, int64(5000), cfg.CountryMinPopulation["US"])
	assert.Equal(t, int64(15000), cfg.RegionMinPopulation["US.TX"])
	assert.ElementsMatch(t, []string{"PPLC"}, cfg.KeepAlways[AnyCountry])
	assert.ElementsMatch(t, []string{"PPLC", "PPLA"}, cfg.KeepAlways["US"])
	assert.ElementsMatch(t, []string{"PPL", "PPLA"}, cfg.KeepAbove[AnyCountry])
}

func TestLoadFilterProfileMissing(t *testing.T) {
	_, err := LoadFilterProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

package geodb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTablesMandatoryMissing(t *testing.T) {
	dir := t.TempDir()
	src := TableSources{
		Country:    filepath.Join(dir, "nope.txt"),
		Regions:    writeTestFile(t, dir, "admin1.txt", adminLine("US.TX", "Texas", 1)),
		Subregions: writeTestFile(t, dir, "admin2.txt", adminLine("US.TX.453", "Travis County", 2)),
	}
	_, err := LoadTables(src, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "country table")
}

func TestLoadTablesOptionalMissing(t *testing.T) {
	dir := t.TempDir()
	src := TableSources{
		Country:      writeTestFile(t, dir, "countryInfo.txt", countryLine("US", "United States", "en", 6252001)),
		Regions:      writeTestFile(t, dir, "admin1.txt", adminLine("US.TX", "Texas", 1)),
		Subregions:   writeTestFile(t, dir, "admin2.txt", adminLine("US.TX.453", "Travis County", 2)),
		FeatureNames: filepath.Join(dir, "missing-features.txt"),
		AltNames:     filepath.Join(dir, "missing-alts.txt"),
	}
	tables, err := LoadTables(src, nil)
	require.NoError(t, err, "optional tables degrade instead of failing the run")
	assert.Empty(t, tables.FeatureNames)
	assert.Empty(t, tables.AltNames)
	assert.Len(t, tables.Countries, 1)
}

func TestLoadCountryTableSkipsJunk(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "countryInfo.txt",
		"# header comment",
		"",
		"XX\ttoo\tfew\tfields",
		countryLine("FR", "France", "fr-FR,frp", 3017382),
	)
	countries, err := loadCountryTable(path)
	require.NoError(t, err)
	require.Len(t, countries, 1)

	fr := countries["FR"]
	assert.Equal(t, "France", fr.Name)
	assert.Equal(t, int64(3017382), fr.GeonameID)
	assert.Equal(t, "fr", fr.DefaultLanguage())
}

func TestLoadAdminTableShortRows(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "admin2.txt",
		"US.TX.453\tTravis County", // no ascii name, no gid
		adminLine("US.MO.077", "Greene County", 4379966),
		"lonely-code",
	)
	divisions, err := loadAdminTable(path)
	require.NoError(t, err)
	require.Len(t, divisions, 2)
	assert.Equal(t, "Travis County", divisions["US.TX.453"].Name)
	assert.Zero(t, divisions["US.TX.453"].GeonameID)
	assert.Equal(t, int64(4379966), divisions["US.MO.077"].GeonameID)
}

func TestLoadFeatureNamesStripsClassPrefix(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "featureCodes.txt",
		"P.PPL\tpopulated place\ta city, town, village...",
		"PPLX\tsection of populated place", // already bare
	)
	names, err := loadFeatureNames(path)
	require.NoError(t, err)
	assert.Equal(t, "populated place", names["PPL"])
	assert.Equal(t, "section of populated place", names["PPLX"])
}

func TestLoadAltNamesFlags(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "alternateNames.txt",
		altNameLine(1, 100, "de", "Wien", NamePreferred|NameShort),
		altNameLine(2, 100, "", "Vindobona", NameHistoric),
		"3\tnot-a-number\tde\tJunk",
		"4\t100\tde", // no name column
	)
	alts, err := loadAltNames(path)
	require.NoError(t, err)
	require.Len(t, alts[100], 2)

	wien := alts[100][0]
	assert.True(t, wien.Flags.Preferred())
	assert.True(t, wien.Flags.Short())
	assert.False(t, wien.Flags.Colloquial())
	assert.Equal(t, "de", wien.Lang)

	assert.True(t, alts[100][1].Flags.Historic())
	assert.Empty(t, alts[100][1].Lang)
}

package geodb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "gopkg.in/check.v1"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type CompileSuite struct {
	outDir    string
	compiler  *Compiler
	testSpots []map[string]string
}

var _ = Suite(&CompileSuite{})

var sdb *Database

func (s *CompileSuite) write(c *C, dir, name string, lines ...string) string {
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
	c.Assert(err, IsNil)
	return path
}

func (s *CompileSuite) SetUpSuite(c *C) {
	dir := c.MkDir()

	src := TableSources{
		Country: s.write(c, dir, "countryInfo.txt",
			"# countryInfo",
			countryLine("US", "United States", "en-US,es-US", 6252001),
			countryLine("FR", "France", "fr-FR,frp", 3017382),
			countryLine("DE", "Germany", "de", 2921044),
		),
		Regions: s.write(c, dir, "admin1.txt",
			adminLine("US.TX", "Texas", 4736286),
			adminLine("US.IL", "Illinois", 4896861),
			adminLine("US.MO", "Missouri", 4398678),
			adminLine("FR.11", "Île-de-France", 3012874),
		),
		Subregions: s.write(c, dir, "admin2.txt",
			adminLine("US.TX.453", "Travis County", 4737316),
			adminLine("US.MO.077", "Greene County", 4379966),
		),
		FeatureNames: s.write(c, dir, "featureCodes.txt",
			"P.PPL\tpopulated place",
			"P.PPLA\tseat of a first-order administrative division",
			"P.PPLC\tcapital of a political entity",
		),
		AltNames: s.write(c, dir, "alternateNames.txt",
			altNameLine(100, 4671654, "", "Waterloo", 0),
			altNameLine(101, 4671654, "", "ATX", 0),
			altNameLine(102, 2988507, "de", "Paris", NamePreferred),
			altNameLine(103, 3017382, "de", "Frankreich", 0),
		),
	}
	tables, err := LoadTables(src, nil)
	c.Assert(err, IsNil)

	input := s.write(c, dir, "cities.txt",
		gazetteerLine(4671654, "Austin", 30.26715, -97.74306, "PPLA", "US", "TX", "453", 961855, "America/Chicago"),
		gazetteerLine(2988507, "Paris", 48.85341, 2.3488, "PPLC", "FR", "11", "", 2138551, "Europe/Paris"),
		gazetteerLine(4406282, "Springfield", 37.21533, -93.29824, "PPL", "US", "MO", "077", 167051, "America/Chicago"),
		gazetteerLine(4250542, "Springfield", 39.80172, -89.64371, "PPLC", "US", "IL", "", 116250, "America/Chicago"),
		gazetteerLine(9999999, "Tiny Hamlet", 37.0, -93.0, "PPL", "US", "MO", "", 40, "America/Chicago"),
	)
	filter := FilterConfig{
		MinPopulation: 1000,
		KeepAbove:     map[string][]string{AnyCountry: {"PPL", "PPLA"}},
		KeepAlways:    map[string][]string{AnyCountry: {"PPLC"}},
	}

	s.outDir = filepath.Join(dir, "out")
	s.compiler = NewCompiler(tables, []Dataset{{Path: input, Filter: filter}})
	c.Assert(s.compiler.Compile(s.outDir), IsNil)

	s.testSpots = append(s.testSpots, map[string]string{"city": "Austin", "country": "US", "region": "Texas"})
	s.testSpots = append(s.testSpots, map[string]string{"city": "Paris", "country": "FR", "region": "Île-de-France"})
}

func (s *CompileSuite) TestAOpenDatabase(c *C) {
	var err error
	sdb, err = OpenDatabase(filepath.Join(s.outDir, DatabaseFile))
	c.Assert(err, IsNil)
	c.Assert(sdb, Not(IsNil))
	c.Assert(sdb.Verify(), IsNil)
	c.Assert(sdb.Version, Equals, int(FormatCurrent))
	c.Assert(len(sdb.Cities), Equals, 4)
	c.Assert(sdb.CityCount, Equals, s.compiler.CityCount())
	c.Assert(sdb.Cities, FitsTypeOf, []DBCity(nil))
	c.Assert(sdb.Countries, FitsTypeOf, []DBCountry(nil))
}

func (s *CompileSuite) TestFindCity(c *C) {
	for _, v := range s.testSpots {
		r, ok := sdb.FindCity(v["city"], 0)
		c.Assert(ok, Equals, true)
		c.Assert(r.Name, Equals, v["city"])
		c.Assert(sdb.Countries[r.Country].Code, Equals, v["country"])
		c.Assert(sdb.Regions[r.Region], Equals, v["region"])
	}

	// One edit of slack still resolves; nonsense does not.
	r, ok := sdb.FindCity("Austn", 1)
	c.Assert(ok, Equals, true)
	c.Assert(r.Name, Equals, "Austin")

	_, ok = sdb.FindCity("Zzyzx", 0)
	c.Assert(ok, Equals, false)
}

func (s *CompileSuite) TestReverseLookup(c *C) {
	r, ok := sdb.ReverseLookup(30.26715, -97.74306)
	c.Assert(ok, Equals, true)
	c.Assert(r.Name, Equals, "Austin")
	c.Assert(sdb.Timezones[r.Timezone], Equals, "America/Chicago")

	// A point a few km off still snaps to the nearest kept city.
	r, ok = sdb.ReverseLookup(48.8, 2.4)
	c.Assert(ok, Equals, true)
	c.Assert(r.Name, Equals, "Paris")

	// Middle of the South Atlantic: nothing within reach.
	_, ok = sdb.ReverseLookup(-35.0, -20.0)
	c.Assert(ok, Equals, false)
}

func (s *CompileSuite) TestAltNamesArtifact(c *C) {
	alts, err := ReadAltNames(filepath.Join(s.outDir, AltNamesFile))
	c.Assert(err, IsNil)
	c.Assert(len(alts), Equals, len(sdb.Cities))

	found := false
	for i, city := range sdb.Cities {
		if city.Name != "Austin" {
			c.Assert(alts[i], IsNil)
			continue
		}
		found = true
		c.Assert(alts[i], DeepEquals, []string{"Waterloo", "ATX"})
	}
	c.Assert(found, Equals, true)
}

func (s *CompileSuite) TestLanguageArtifact(c *C) {
	lt, err := OpenLanguageTable(filepath.Join(s.outDir, LanguageFile("de")))
	c.Assert(err, IsNil)
	c.Assert(lt.Lang, Equals, "de")
	c.Assert(lt.Entries["France"], Equals, "Frankreich")
	c.Assert(lt.FeatureTypes["PPL"], Equals, "populated place")
}

package geodb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestFile writes lines joined by newlines into dir and returns the path.
func writeTestFile(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// countryLine builds one countryInfo row with the columns the loader reads.
func countryLine(code, name, languages string, gid int64) string {
	fields := make([]string, 19)
	fields[0] = code
	fields[4] = name
	fields[15] = languages
	fields[16] = fmt.Sprintf("%d", gid)
	return strings.Join(fields, "\t")
}

// adminLine builds one admin1/admin2 row: CODE<tab>Name<tab>Ascii<tab>Gid.
func adminLine(code, name string, gid int64) string {
	return fmt.Sprintf("%s\t%s\t%s\t%d", code, name, name, gid)
}

// gazetteerLine builds one input row in the compiler's column layout.
func gazetteerLine(id int64, name string, lat, lon float64, fc, cc, rr, ss string, pop int64, tz string) string {
	return strings.Join([]string{
		fmt.Sprintf("%d", id), name,
		fmt.Sprintf("%.5f", lat), fmt.Sprintf("%.5f", lon),
		fc, cc, rr, ss,
		fmt.Sprintf("%d", pop), tz, "0",
	}, "\t")
}

// altNameLine builds one alternate-names row.
func altNameLine(altID, refID int64, lang, name string, flags NameFlags) string {
	mark := func(b bool) string {
		if b {
			return "1"
		}
		return ""
	}
	return strings.Join([]string{
		fmt.Sprintf("%d", altID), fmt.Sprintf("%d", refID), lang, name,
		mark(flags.Preferred()), mark(flags.Short()),
		mark(flags.Colloquial()), mark(flags.Historic()),
	}, "\t")
}

// loadTestTables writes a small but complete reference-table set and loads it.
func loadTestTables(t *testing.T, dir string, altLines []string) (*ReferenceTables, TableSources) {
	t.Helper()
	src := TableSources{
		Country: writeTestFile(t, dir, "countryInfo.txt",
			"# countryInfo",
			countryLine("US", "United States", "en-US,es-US", 6252001),
			countryLine("FR", "France", "fr-FR,frp", 3017382),
			countryLine("DE", "Germany", "de", 2921044),
		),
		Regions: writeTestFile(t, dir, "admin1.txt",
			adminLine("US.TX", "Texas", 4736286),
			adminLine("US.IL", "Illinois", 4896861),
			adminLine("US.MO", "Missouri", 4398678),
			adminLine("FR.11", "Île-de-France", 3012874),
		),
		Subregions: writeTestFile(t, dir, "admin2.txt",
			adminLine("US.TX.453", "Travis County", 4737316),
			adminLine("US.MO.077", "Greene County", 4379966),
		),
		FeatureNames: writeTestFile(t, dir, "featureCodes.txt",
			"P.PPL\tpopulated place",
			"P.PPLA\tseat of a first-order administrative division",
			"P.PPLC\tcapital of a political entity",
		),
	}
	if altLines != nil {
		src.AltNames = writeTestFile(t, dir, "alternateNames.txt", altLines...)
	}
	tables, err := LoadTables(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tables, src
}

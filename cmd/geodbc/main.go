// Command geodbc compiles gazetteer dumps into a binary reverse-geocoding
// database.
//
// Usage:
//
//	geodbc compile --countries countryInfo.txt --regions admin1CodesASCII.txt \
//	    --subregions admin2Codes.txt --out ./out cities1000.txt
//	geodbc verify ./out/geodata.db --at 30.26715,-97.74306
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/andreiashu/geodb"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:           "geodbc",
		Short:         "Gazetteer database compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(compileCmd(), verifyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds a console logger for the run.
func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func compileCmd() *cobra.Command {
	var (
		countryPath   string
		regionPath    string
		subregionPath string
		featurePath   string
		altNamesPath  string
		profilePath   string
		outDir        string
		legacyFormat  bool
		comment       string
	)

	cmd := &cobra.Command{
		Use:   "compile [flags] <gazetteer dump>...",
		Short: "Compile gazetteer dumps into a binary database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Sync() //nolint:errcheck

			tables, err := geodb.LoadTables(geodb.TableSources{
				Country:      countryPath,
				Regions:      regionPath,
				Subregions:   subregionPath,
				FeatureNames: featurePath,
				AltNames:     altNamesPath,
			}, log)
			if err != nil {
				return err
			}

			filter := geodb.FilterConfig{
				MinPopulation: 1000,
				KeepAbove: map[string][]string{
					geodb.AnyCountry: {"PPL", "PPLA", "PPLA2", "PPLA3", "PPLA4", "PPLX"},
				},
				KeepAlways: map[string][]string{
					geodb.AnyCountry: {"PPLC", "PPLG"},
				},
			}
			if profilePath != "" {
				if filter, err = geodb.LoadFilterProfile(profilePath); err != nil {
					return err
				}
			}

			datasets := make([]geodb.Dataset, 0, len(args))
			for _, path := range args {
				datasets = append(datasets, geodb.Dataset{Path: path, Filter: filter})
			}

			opts := []geodb.Option{geodb.WithLogger(log)}
			if legacyFormat {
				opts = append(opts, geodb.WithTargetFormat(geodb.FormatLegacy))
			}
			if comment != "" {
				opts = append(opts, geodb.WithComment(comment))
			}

			compiler := geodb.NewCompiler(tables, datasets, opts...)
			if err := compiler.Compile(outDir); err != nil {
				return err
			}
			if compiler.Escalated() {
				log.Warn("run was escalated from the legacy format; pass no --legacy to silence this")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&countryPath, "countries", "", "country table (mandatory)")
	cmd.Flags().StringVar(&regionPath, "regions", "", "region table (mandatory)")
	cmd.Flags().StringVar(&subregionPath, "subregions", "", "subregion table (mandatory)")
	cmd.Flags().StringVar(&featurePath, "feature-names", "", "feature-name table (optional)")
	cmd.Flags().StringVar(&altNamesPath, "alt-names", "", "alternate-names table (optional)")
	cmd.Flags().StringVar(&profilePath, "profile", "", "filter profile file (YAML/TOML/JSON)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&legacyFormat, "legacy", false, "target the legacy database format")
	cmd.Flags().StringVar(&comment, "comment", "", "comment line for the database header")
	cobra.CheckErr(cmd.MarkFlagRequired("countries"))
	cobra.CheckErr(cmd.MarkFlagRequired("regions"))
	cobra.CheckErr(cmd.MarkFlagRequired("subregions"))
	return cmd
}

func verifyCmd() *cobra.Command {
	var spots []string

	cmd := &cobra.Command{
		Use:   "verify <database>",
		Short: "Check the structural invariants of a compiled database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := geodb.OpenDatabase(args[0])
			if err != nil {
				return err
			}
			if err := db.Verify(); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			fmt.Printf("OK: version %d, %d cities, %d countries, %d timezones\n",
				db.Version, len(db.Cities), len(db.Countries), len(db.Timezones))

			for _, spot := range spots {
				lat, lon, err := parseSpot(spot)
				if err != nil {
					return err
				}
				if city, ok := db.ReverseLookup(lat, lon); ok {
					fmt.Printf("%s -> %s (%s)\n", spot, city.Name, db.Countries[city.Country].Code)
				} else {
					fmt.Printf("%s -> no match\n", spot)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&spots, "at", nil, "lat,lon spot checks to reverse look up")
	return cmd
}

func parseSpot(spot string) (float64, float64, error) {
	latField, lonField, found := strings.Cut(spot, ",")
	if !found {
		return 0, 0, fmt.Errorf("malformed spot %q, want lat,lon", spot)
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(latField), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(lonField), 64)
	if errLat != nil || errLon != nil {
		return 0, 0, fmt.Errorf("malformed spot %q, want lat,lon", spot)
	}
	return lat, lon, nil
}

package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/libforge/libforge/internal/autotools"
	"github.com/libforge/libforge/internal/build"
)

var buildForce bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every configured library for every configured platform",
	Long: `Build expands the configuration into one unit per (library, platform,
arch, lib type), cross-compiles each unit, and merges the results into
xcframeworks and per-ABI trees under the build directory. Units whose
output already exists are skipped unless --force is given.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "rebuild units whose outputs already exist")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	opts := build.Options{Force: buildForce, Log: log}
	if verbose {
		opts.Runner = autotools.Verbose
	}
	report, err := build.New(cfg, opts).Build(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(report.Summary())
	return report.Err()
}

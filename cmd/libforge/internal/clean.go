package internal

import (
	"github.com/spf13/cobra"

	"github.com/libforge/libforge/internal/build"
)

var cleanBuildOnly bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove build outputs",
	Long: `Clean removes the build directory and the checkout cache. With
--build-only the checkouts are kept, so the next build only recompiles.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVarP(&cleanBuildOnly, "build-only", "b", false, "keep the checkout cache")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	return build.New(cfg, build.Options{Log: log}).Clean(cleanBuildOnly)
}

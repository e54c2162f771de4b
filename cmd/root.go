package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"facegallery/internal/config"
)

var (
	galleryDir string
	captureDir string
)

var rootCmd = &cobra.Command{
	Use:   "facegallery",
	Short: "A CLI tool for maintaining a face gallery and matching faces against it",
	Long: `Face Gallery keeps a directory of reference face images, one
subdirectory per person, and matches query photos against them using a
face embedding service.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	cmd, err := rootCmd.ExecuteC()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	var classed *classedError
	if !errors.As(err, &classed) {
		// argument errors: remind the caller how the command is used
		fmt.Fprint(os.Stderr, cmd.UsageString())
	}
	os.Exit(exitCode(err))
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&galleryDir, "gallery", "", "Gallery root directory (overrides FACEGALLERY_DIR)")
	rootCmd.PersistentFlags().StringVar(&captureDir, "capture", "", "Directory to save API responses for testing")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig resolves configuration from the environment plus any global
// flag overrides.
func loadConfig() *config.Config {
	cfg := config.Load()
	if galleryDir != "" {
		cfg.Gallery.Root = galleryDir
	}
	return cfg
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"facegallery/internal/fingerprint"
	"facegallery/internal/gallery"
	"facegallery/internal/imagesource"
)

var addCmd = &cobra.Command{
	Use:   "add <name> <image_path_or_url>",
	Short: "Add a face image to the gallery under a person's name",
	Long: `Add stores a reference image for a person. The image may be a local
file or an http(s) URL; URLs are downloaded first. Each person gets a
subdirectory in the gallery root, created on demand.

Downloaded images are stored as <name>_<n>.<ext>, local files keep their
filename. Re-adding a local file already stored under the same filename
is skipped; a filename taken by different content gets a numbered suffix.

Examples:
  # Add a local photo for alice
  facegallery add alice ./photos/alice.jpg

  # Add a photo from the web
  facegallery add alice https://example.com/alice.png`,
	Args: cobra.ExactArgs(2),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	ref := args[1]
	cfg := loadConfig()

	if err := gallery.ValidateIdentity(name); err != nil {
		return validationError(err)
	}

	store := gallery.NewStore(cfg.Gallery.Root)
	if err := store.EnsureRoot(); err != nil {
		return internalError(err)
	}

	if similar, err := store.SimilarIdentity(name); err == nil && similar != "" {
		fmt.Fprintf(os.Stderr, "Warning: name %q looks similar to existing %q\n", name, similar)
	}

	src, err := imagesource.Resolve(cmd.Context(), ref, imagesource.Options{
		Timeout: time.Duration(cfg.Download.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return acquisitionError(fmt.Errorf("Error downloading image: %v", err))
	}
	defer src.Cleanup()

	warnNearDuplicate(store, name, src.Path)

	storedName, err := store.AddImage(name, src.Path, src.Remote)
	if err != nil {
		var dup *gallery.DuplicateError
		if errors.As(err, &dup) {
			fmt.Printf("Skipped: identical image already stored as %s for %s\n", dup.Existing, dup.Identity)
			return nil
		}
		var notFound *gallery.NotFoundError
		if errors.As(err, &notFound) {
			return acquisitionError(err)
		}
		return internalError(err)
	}

	fmt.Printf("Added %s to database for %s\n", storedName, name)
	return nil
}

// warnNearDuplicate compares the incoming image against the person's
// existing references and warns when one looks nearly the same. Best
// effort: images the decoder cannot read are skipped.
func warnNearDuplicate(store *gallery.Store, identity, srcPath string) {
	srcHash, err := fingerprint.ComputeFile(srcPath)
	if err != nil {
		return
	}
	images, err := store.ImagesOf(identity)
	if err != nil {
		return
	}
	for _, imagePath := range images {
		hash, err := fingerprint.ComputeFile(imagePath)
		if err != nil {
			continue
		}
		if fingerprint.Similar(srcHash, hash, fingerprint.DefaultThreshold) {
			fmt.Fprintf(os.Stderr, "Warning: image looks similar to existing %s\n", imagePath)
			return
		}
	}
}

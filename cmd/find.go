package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"facegallery/internal/facecache"
	"facegallery/internal/gallery"
	"facegallery/internal/imagesource"
	"facegallery/internal/recognize"
)

var findCmd = &cobra.Command{
	Use:   "find <image_path_or_url>",
	Short: "Find people matching the face in an image",
	Long: `Find embeds the face in the given image (local file or http(s) URL)
and ranks every face in the gallery against it by cosine distance, lowest
first. When several faces appear in the query image, the first detected
one is used.

Embeddings of gallery images are cached inside the gallery root, so only
new or changed images are sent to the embedding service.

Examples:
  # Search with a local photo
  facegallery find ./unknown.jpg

  # Search with a downloaded photo, best three matches only
  facegallery find https://example.com/face.jpg --limit 3

  # Drop weak matches and print JSON
  facegallery find ./unknown.jpg --threshold 0.8 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runFind,
}

func init() {
	findCmd.Flags().Int("limit", 0, "Limit number of matches (0 = all)")
	findCmd.Flags().Float64("threshold", 0, "Maximum cosine distance for a match (0 = no bound)")
	findCmd.Flags().Bool("json", false, "Output as JSON")
	findCmd.Flags().Bool("no-cache", false, "Ignore cached embeddings and query the service for every image")
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	ref := args[0]
	cfg := loadConfig()
	jsonOut := mustGetBool(cmd, "json")
	noCache := mustGetBool(cmd, "no-cache") || cfg.Gallery.NoCache

	store := gallery.NewStore(cfg.Gallery.Root)
	if err := store.EnsureRoot(); err != nil {
		return internalError(err)
	}

	src, err := imagesource.Resolve(cmd.Context(), ref, imagesource.Options{
		Timeout: time.Duration(cfg.Download.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return acquisitionError(fmt.Errorf("Error downloading image: %v", err))
	}
	defer src.Cleanup()

	if !src.Remote {
		if _, err := os.Stat(src.Path); err != nil {
			return acquisitionError(&gallery.NotFoundError{Path: src.Path})
		}
	}

	empty, err := store.Empty()
	if err != nil {
		return internalError(err)
	}
	if empty {
		return validationError(errors.New("Error: Database is empty. Add faces first using 'add' command."))
	}

	var cache *facecache.Cache
	if !noCache {
		opened, err := facecache.Open(store.CachePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: embedding cache unavailable: %v\n", err)
		} else {
			cache = opened
			defer cache.Close()
		}
	}

	client := recognize.NewClient(recognize.ClientOptions{
		BaseURL:    cfg.Embedding.URL,
		Model:      cfg.Embedding.Model,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		CaptureDir: captureDir,
	})

	expectDim := 0
	if profile, ok := cfg.ModelProfile(client.Model()); ok {
		expectDim = profile.Dim
	}

	engine := recognize.NewEngine(recognize.EngineOptions{
		Client:    client,
		Store:     store,
		Cache:     cache,
		Progress:  !jsonOut,
		ExpectDim: expectDim,
	})

	matches, err := engine.FindMatches(cmd.Context(), src.Path, recognize.SearchOptions{
		Limit:       mustGetInt(cmd, "limit"),
		MaxDistance: mustGetFloat64(cmd, "threshold"),
	})
	if err != nil {
		return serviceErrorf("Error during search: %v", err)
	}

	if jsonOut {
		if matches == nil {
			matches = []recognize.Match{}
		}
		return internalError(outputJSON(matches))
	}
	printFindResult(os.Stdout, matches)
	return nil
}

// printFindResult renders matches as the count, one indented line per
// match, or a no-match notice.
func printFindResult(w io.Writer, matches []recognize.Match) {
	if len(matches) == 0 {
		fmt.Fprintf(w, "No matches found in database.\n")
		return
	}
	fmt.Fprintf(w, "Found %d match(es):\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(w, "  - %s (distance: %.4f)\n", m.Identity, m.Distance)
	}
}

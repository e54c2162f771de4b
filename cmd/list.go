package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"facegallery/internal/gallery"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the people in the gallery",
	Long: `List prints every person in the gallery with the number of reference
images stored for them.

Examples:
  facegallery list
  facegallery list --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	store := gallery.NewStore(cfg.Gallery.Root)

	identities, err := store.Identities()
	if err != nil {
		return internalError(err)
	}

	if mustGetBool(cmd, "json") {
		if identities == nil {
			identities = []gallery.Identity{}
		}
		return internalError(outputJSON(identities))
	}

	if len(identities) == 0 {
		fmt.Println("Database is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tIMAGES")
	for _, identity := range identities {
		fmt.Fprintf(w, "%s\t%d\n", identity.Name, identity.Images)
	}
	w.Flush()
	return nil
}

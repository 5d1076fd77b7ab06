package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pdsnotes/models"
)

var (
	lsJSON   bool
	lsTag    string
	lsFolder string
	lsSearch string
)

var lsCmd = &cobra.Command{
	Use:   "ls [kind]",
	Short: "List cached notes, folders, tags or themes",
	Long: `List entities from the local cache without contacting the server.
Kind defaults to notes. Notes are listed most recently edited first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := models.KindNote
		if len(args) == 1 {
			k, err := models.ParseKind(args[0])
			if err != nil {
				return err
			}
			kind = k
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			entities, err := listFiltered(a, kind)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if lsJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entities)
			}

			if len(entities) == 0 {
				fmt.Fprintln(out, keyStyle.Render("no "+kind.Table()))
				return nil
			}
			fmt.Fprintln(out, headingStyle.Render(kind.Table()))
			for _, e := range entities {
				printEntity(out, a.rec, e)
			}
			return nil
		})
	},
}

// listFiltered applies --tag, --folder and --search, which only make sense
// for notes.
func listFiltered(a *app, kind models.Kind) ([]models.Entity, error) {
	if kind != models.KindNote || (lsTag == "" && lsFolder == "" && lsSearch == "") {
		return a.rec.All(kind), nil
	}

	folder := ""
	if lsFolder != "" {
		key, err := a.resolveKey(models.KindFolder, lsFolder)
		if err != nil {
			return nil, err
		}
		folder = key
	}

	var notes []*models.Note
	if lsTag != "" {
		key, err := tagKey(a, lsTag)
		if err != nil {
			return nil, err
		}
		notes = a.rec.NotesWithTag(key)
	} else if lsFolder != "" {
		notes = a.rec.NotesInFolder(folder)
	} else {
		notes = a.rec.Notes()
	}

	var matched map[string]bool
	if lsSearch != "" {
		matched = make(map[string]bool)
		for _, n := range a.rec.SearchNotes(lsSearch) {
			matched[n.RKey] = true
		}
	}

	out := make([]models.Entity, 0, len(notes))
	for _, n := range notes {
		if folder != "" && n.Folder != folder {
			continue
		}
		if matched != nil && !matched[n.RKey] {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// tagKey finds a tag by exact name, falling back to a key or key prefix.
func tagKey(a *app, ref string) (string, error) {
	for _, t := range a.rec.Tags() {
		if t.Name == ref {
			return t.RKey, nil
		}
	}
	return a.resolveKey(models.KindTag, ref)
}

func init() {
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Output in JSON format")
	lsCmd.Flags().StringVar(&lsTag, "tag", "", "Only notes with this tag name")
	lsCmd.Flags().StringVar(&lsFolder, "folder", "", "Only notes in this folder key")
	lsCmd.Flags().StringVarP(&lsSearch, "search", "s", "", "Only notes whose title, content or tag names contain this text")
	rootCmd.AddCommand(lsCmd)
}

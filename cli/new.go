package cli

import (
	"context"

	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"

	"pdsnotes/models"
)

var (
	newTitle   string
	newContent string
	newTags    []string
	newFolder  string
	newName    string
	newColor   string
	newParent  string
	newMode    string
	newAccent  string
	newBg      string
)

var newCmd = &cobra.Command{
	Use:   "new <note|folder|tag|theme>",
	Short: "Create an entity locally and push it in the background",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseKind(args[0])
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			content, err := readContentArg(cmd.InOrStdin(), newContent)
			if err != nil {
				return err
			}
			newContent = content

			draft, err := buildDraft(a, kind)
			if err != nil {
				return err
			}

			created, err := a.rec.CreateEntity(ctx, draft)
			if err != nil {
				return err
			}
			key := created.Meta().RKey

			// Tag names resolve on update, once the note exists
			if n, ok := created.(*models.Note); ok && len(newTags) > 0 {
				n.Tags = append([]string(nil), newTags...)
				if _, err := a.rec.UpdateEntity(ctx, n); err != nil {
					return err
				}
			}

			a.rec.Wait()
			key = a.rec.CurrentKey(kind, key)
			e, ok := a.rec.Get(kind, key)
			if !ok {
				return serr.New("entity vanished after create", "kind", string(kind), "rkey", key)
			}
			printEntity(cmd.OutOrStdout(), a.rec, e)
			return nil
		})
	},
}

func buildDraft(a *app, kind models.Kind) (models.Entity, error) {
	switch kind {
	case models.KindNote:
		n := &models.Note{Title: newTitle, Content: newContent}
		if newFolder != "" {
			key, err := a.resolveKey(models.KindFolder, newFolder)
			if err != nil {
				return nil, err
			}
			n.Folder = key
		}
		return n, nil
	case models.KindFolder:
		f := &models.Folder{Name: newName, Color: newColor}
		if newParent != "" {
			key, err := a.resolveKey(models.KindFolder, newParent)
			if err != nil {
				return nil, err
			}
			f.Parent = key
		}
		return f, nil
	case models.KindTag:
		return &models.Tag{Name: newName, Color: newColor}, nil
	case models.KindTheme:
		mode := newMode
		if mode == "" {
			mode = "light"
		}
		return &models.Theme{Name: newName, Mode: mode, Accent: newAccent, Background: newBg}, nil
	}
	return nil, serr.New("cannot create entity", "kind", string(kind))
}

func init() {
	f := newCmd.Flags()
	f.StringVar(&newTitle, "title", "", "Note title")
	f.StringVar(&newContent, "content", "", "Note markdown content, or - to read stdin")
	f.StringSliceVar(&newTags, "tag", nil, "Tag name (repeatable); missing tags are created")
	f.StringVar(&newFolder, "folder", "", "Folder key for the note")
	f.StringVar(&newName, "name", "", "Folder, tag or theme name")
	f.StringVar(&newColor, "color", "", "Folder or tag color (random if empty)")
	f.StringVar(&newParent, "parent", "", "Parent folder key")
	f.StringVar(&newMode, "mode", "", "Theme mode: light or dark")
	f.StringVar(&newAccent, "accent", "", "Theme accent color")
	f.StringVar(&newBg, "background", "", "Theme background color")
	rootCmd.AddCommand(newCmd)
}

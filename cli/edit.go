package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"

	"pdsnotes/models"
)

var (
	editTitle   string
	editContent string
	editTags    []string
	editFolder  string
	editName    string
	editColor   string
	editParent  string
	editMode    string
	editAccent  string
	editWatch   string
)

var editCmd = &cobra.Command{
	Use:   "edit <kind> <key>",
	Short: "Change an entity and push the change in the background",
	Long: `Edit applies the given flags to an entity. Only flags that are set change
the entity. With --watch FILE a note's content follows the file: every save
is pushed once edits pause for the configured debounce delay, until Ctrl-C.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.lookup(kind, args[1])
			if err != nil {
				return err
			}
			if err := applyEditFlags(cmd, a, e); err != nil {
				return err
			}

			if editWatch != "" {
				n, ok := e.(*models.Note)
				if !ok {
					return serr.New("--watch only applies to notes")
				}
				return watchContent(cmd, a, n, editWatch)
			}

			updated, err := a.rec.UpdateEntity(ctx, e)
			if err != nil {
				return err
			}
			a.rec.Wait()

			kind, key := updated.Kind(), a.rec.CurrentKey(updated.Kind(), updated.Meta().RKey)
			if cur, ok := a.rec.Get(kind, key); ok {
				printEntity(cmd.OutOrStdout(), a.rec, cur)
			}
			return nil
		})
	},
}

// applyEditFlags copies the flags the user set onto e.
func applyEditFlags(cmd *cobra.Command, a *app, e models.Entity) error {
	changed := cmd.Flags().Changed
	folderRef := func(ref string) (string, error) {
		if ref == "" {
			return "", nil
		}
		return a.resolveKey(models.KindFolder, ref)
	}

	switch v := e.(type) {
	case *models.Note:
		if changed("title") {
			v.Title = editTitle
		}
		if changed("content") {
			content, err := readContentArg(cmd.InOrStdin(), editContent)
			if err != nil {
				return err
			}
			v.Content = content
		}
		if changed("tag") {
			v.Tags = append([]string(nil), editTags...)
		}
		if changed("folder") {
			key, err := folderRef(editFolder)
			if err != nil {
				return err
			}
			v.Folder = key
		}
	case *models.Folder:
		if changed("name") {
			v.Name = editName
		}
		if changed("color") {
			v.Color = editColor
		}
		if changed("parent") {
			key, err := folderRef(editParent)
			if err != nil {
				return err
			}
			if key == v.RKey {
				return serr.New("a folder cannot be its own parent")
			}
			v.Parent = key
		}
	case *models.Tag:
		if changed("name") {
			v.Name = editName
		}
		if changed("color") {
			v.Color = editColor
		}
	case *models.Theme:
		if changed("name") {
			v.Name = editName
		}
		if changed("mode") {
			v.Mode = editMode
		}
		if changed("accent") {
			v.Accent = editAccent
		}
	}
	return nil
}

// watchContent feeds the file's content into the note through a debouncer
// until the command is interrupted.
func watchContent(cmd *cobra.Command, a *app, note *models.Note, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path, err := filepath.Abs(path)
	if err != nil {
		return serr.Wrap(err, "failed to resolve watch path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return serr.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return serr.Wrap(err, "failed to watch directory", "dir", filepath.Dir(path))
	}

	deb := a.rec.Debouncer(a.cfg.Debounce)
	defer deb.Stop(context.WithoutCancel(ctx))

	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("watching"), path, keyStyle.Render("(Ctrl-C to stop)"))
	return followFile(ctx, watcher, path, func(content string) {
		if content == note.Content {
			return
		}
		note.Content = content
		note.RKey = a.rec.CurrentKey(models.KindNote, note.RKey)
		deb.Submit(ctx, note)
		logger.Debug("Queued note content", "rkey", note.RKey, "bytes", len(content))
	})
}

// followFile calls onChange with the file's content after every write or
// replacement of path, and once at start if the file exists.
func followFile(ctx context.Context, watcher *fsnotify.Watcher, path string, onChange func(string)) error {
	read := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.LogErr(err, "failed to read watched file", "path", path)
			return
		}
		onChange(string(data))
	}
	if _, err := os.Stat(path); err == nil {
		read()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				read()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.LogErr(err, "file watcher error", "path", path)
		}
	}
}

// readContentArg lets --content - read the note body from stdin.
func readContentArg(in io.Reader, value string) (string, error) {
	if value != "-" {
		return value, nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", serr.Wrap(err, "failed to read content from stdin")
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func init() {
	f := editCmd.Flags()
	f.StringVar(&editTitle, "title", "", "Note title")
	f.StringVar(&editContent, "content", "", "Note content, or - to read stdin")
	f.StringSliceVar(&editTags, "tag", nil, "Replace tags with these names (repeatable)")
	f.StringVar(&editFolder, "folder", "", "Folder key, empty to unfile")
	f.StringVar(&editName, "name", "", "Folder, tag or theme name")
	f.StringVar(&editColor, "color", "", "Folder or tag color")
	f.StringVar(&editParent, "parent", "", "Parent folder key, empty for top level")
	f.StringVar(&editMode, "mode", "", "Theme mode: light or dark")
	f.StringVar(&editAccent, "accent", "", "Theme accent color")
	f.StringVar(&editWatch, "watch", "", "Follow this file's content until interrupted")
	rootCmd.AddCommand(editCmd)
}

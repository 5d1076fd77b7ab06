package cli

import (
	"context"
	"io"
	"strings"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"

	"pdsnotes/gateway"
	"pdsnotes/models"
	"pdsnotes/reconciler"
	"pdsnotes/store"
)

// app wires the cache, gateway and reconciler for one command run.
type app struct {
	cfg    *models.Config
	cache  *store.Store
	client *gateway.Client
	sealer *models.Sealer
	rec    *reconciler.Reconciler
}

// openApp opens the cache, restores a persisted session and hydrates the view.
func openApp(ctx context.Context, conf *models.Config, errOut io.Writer) (*app, error) {
	cache, err := store.Open(ctx, store.Options{Driver: conf.CacheDriver, Path: conf.CachePath})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   conf,
		cache: cache,
		client: gateway.New(gateway.Options{
			BaseURL: conf.PDSURL,
			Timeout: conf.HTTPTimeout,
		}),
	}

	if conf.SessionKey != "" {
		if a.sealer, err = models.NewSealer(conf.SessionKey); err != nil {
			_ = cache.Close()
			return nil, err
		}
		sess, err := cache.LoadSession(ctx, a.sealer)
		if err != nil {
			logger.LogErr(err, "could not restore session")
		} else if sess != nil {
			a.client.SetSession(sess)
			logger.Debug("Session restored", "handle", sess.Handle)
		}
	}

	a.rec = reconciler.New(cache, a.client, reconciler.WithReporter(func(r reconciler.Report) {
		printReport(errOut, r)
	}))
	if err := a.rec.Hydrate(ctx); err != nil {
		_ = cache.Close()
		return nil, err
	}
	return a, nil
}

// close waits for background mirroring and releases the cache.
func (a *app) close() {
	a.rec.Wait()
	if err := a.cache.Close(); err != nil {
		logger.LogErr(err, "failed to close cache")
	}
}

// withApp runs fn against an opened app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// resolveKey accepts a full key or an unambiguous key prefix.
func (a *app) resolveKey(kind models.Kind, ref string) (string, error) {
	if _, ok := a.rec.Get(kind, ref); ok {
		return ref, nil
	}

	var matches []string
	for _, e := range a.rec.All(kind) {
		if key := e.Meta().RKey; strings.HasPrefix(key, ref) {
			matches = append(matches, key)
		}
	}
	switch len(matches) {
	case 0:
		return "", serr.New("no "+string(kind)+" with that key", "key", ref)
	case 1:
		return matches[0], nil
	}
	return "", serr.New("key prefix is ambiguous", "key", ref, "matches", strings.Join(matches, ","))
}

// lookup returns a copy of the entity addressed by ref.
func (a *app) lookup(kind models.Kind, ref string) (models.Entity, error) {
	key, err := a.resolveKey(kind, ref)
	if err != nil {
		return nil, err
	}
	e, _ := a.rec.Get(kind, key)
	return e, nil
}

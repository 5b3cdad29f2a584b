package proc

import (
	"context"
	"net/http"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/lcw"
	"github.com/pkg/errors"

	"github.com/umputun/feed-hub/app/feed"
	"github.com/umputun/feed-hub/app/models"
	"github.com/umputun/feed-hub/app/store"
)

// Loader drives a single feed load: resolve key, fetch, parse and upsert.
// Nothing is written unless the document parsed and validated.
type Loader struct {
	Sources *feed.Registry
	Fetcher *feed.Fetcher
	Store   store.Store
	Cache   lcw.LoadingCache // resolved keys, optional
}

type resolved struct {
	headers http.Header
	key     string
}

// Load fetches feed of the source by human key and saves it with all items
func (l *Loader) Load(ctx context.Context, source, key string) (*models.Feed, error) {
	f, _, err := l.load(ctx, source, key, l.resolve)
	return f, err
}

// Reload loads stored feed again by its resolved key and returns items added by this reload.
// The key is not translated again, only request headers are obtained.
func (l *Loader) Reload(ctx context.Context, f models.Feed) ([]models.Item, error) {
	_, created, err := l.load(ctx, f.Source, f.Key, l.headers)
	return created, err
}

type resolveFn func(ctx context.Context, src feed.Adapter, key string) (resolved, error)

func (l *Loader) load(ctx context.Context, source, key string, resolve resolveFn) (*models.Feed, []models.Item, error) {
	src, ok := l.Sources.Get(source)
	if !ok {
		return nil, nil, errors.Wrapf(feed.ErrUnknownSource, "can't load %s/%s", source, key)
	}

	log.Printf("[DEBUG] load %s/%s, resolving", source, key)
	res, err := resolve(ctx, src, key)
	if err != nil {
		log.Printf("[DEBUG] load %s/%s failed on resolve, %v", source, key, err)
		return nil, nil, err
	}

	strict := false
	if rs, ok := src.(feed.RedirectStrict); ok {
		strict = rs.RejectRedirects()
	}

	log.Printf("[DEBUG] load %s/%s, fetching", source, res.key)
	body, err := l.Fetcher.Fetch(ctx, src.DataURL(res.key), res.headers, strict)
	if err != nil {
		log.Printf("[DEBUG] load %s/%s failed on fetch, %v", source, res.key, err)
		return nil, nil, err
	}
	defer body.Close() // nolint

	log.Printf("[DEBUG] load %s/%s, parsing", source, res.key)
	parsed, err := src.Parse(body)
	if err != nil {
		log.Printf("[DEBUG] load %s/%s failed on parse, %v", source, res.key, err)
		return nil, nil, err
	}

	items := make([]models.Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		items = append(items, models.Item{Key: it.Key, Title: it.Title, Description: it.Description, Picture: it.Picture})
	}

	log.Printf("[DEBUG] load %s/%s, saving %d items", source, res.key, len(items))
	saved, created, err := l.Store.Upsert(models.Feed{Source: source, Key: res.key, Title: parsed.Title}, items)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[INFO] loaded %s/%s %q, %d items, %d new", source, saved.Key, saved.Title, len(items), len(created))
	return &saved, created, nil
}

// resolve translates key with source's resolver, if any. Successful resolutions are cached.
func (l *Loader) resolve(ctx context.Context, src feed.Adapter, key string) (resolved, error) {
	kr, ok := src.(feed.KeyResolver)
	if !ok {
		return resolved{key: key}, nil
	}
	return l.cached(src.ID()+"/"+key, func() (interface{}, error) {
		headers, rkey, err := kr.ResolveKey(ctx, key)
		if err != nil {
			return nil, err
		}
		return resolved{headers: headers, key: rkey}, nil
	})
}

// headers keeps resolved key as is and gets request headers from the source, if it needs any
func (l *Loader) headers(ctx context.Context, src feed.Adapter, key string) (resolved, error) {
	hp, ok := src.(feed.HeaderProvider)
	if !ok {
		return resolved{key: key}, nil
	}
	res, err := l.cached(src.ID()+"\x00headers", func() (interface{}, error) {
		headers, err := hp.DataHeaders(ctx)
		if err != nil {
			return nil, err
		}
		return resolved{headers: headers}, nil
	})
	res.key = key
	return res, err
}

func (l *Loader) cached(key string, fn func() (interface{}, error)) (resolved, error) {
	var v interface{}
	var err error
	if l.Cache == nil {
		v, err = fn()
	} else {
		v, err = l.Cache.Get(key, fn)
	}
	if err != nil {
		return resolved{}, err
	}
	res, ok := v.(resolved)
	if !ok {
		return resolved{}, errors.Errorf("unexpected cached value %T for %s", v, key)
	}
	return res, nil
}

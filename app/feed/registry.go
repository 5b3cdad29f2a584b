package feed

import (
	"net/http"
	"sort"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Registry maps source id to adapter. Read-only after construction, safe for concurrent use.
type Registry struct {
	sources map[string]Adapter
}

// Options for DefaultRegistry
type Options struct {
	APIKeys      map[string]string // source id -> credential
	Client       *http.Client      // used by key resolvers
	ResolveDelay time.Duration     // pause after rate-limited lookups, can't go below 1s
}

// NewRegistry makes registry from adapters, later adapters override earlier ones with the same id
func NewRegistry(adapters ...Adapter) *Registry {
	res := &Registry{sources: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		res.sources[a.ID()] = a
	}
	return res
}

// DefaultRegistry makes registry with all supported sources. Sources requiring
// a credential are skipped if opts.APIKeys has none for them.
func DefaultRegistry(opts Options) *Registry {
	adapters := []Adapter{NewYouTube(), NewReddit(), NewFlickr(), NewRSS()}

	if key := opts.APIKeys["lfm"]; key != "" {
		adapters = append(adapters, NewLastFM(key))
	} else {
		log.Printf("[WARN] no api key for last.fm, source disabled")
	}

	if key := opts.APIKeys["gr"]; key != "" {
		gr := NewGoodreads(key, opts.Client)
		if opts.ResolveDelay > gr.Delay {
			gr.Delay = opts.ResolveDelay
		}
		adapters = append(adapters, gr)
	} else {
		log.Printf("[WARN] no api key for goodreads, source disabled")
	}

	if key := opts.APIKeys["sp"]; key != "" {
		adapters = append(adapters, NewSpotify(key, opts.Client))
	} else {
		log.Printf("[WARN] no api key for spotify, source disabled")
	}

	return NewRegistry(adapters...)
}

// Get returns adapter by source id
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.sources[id]
	return a, ok
}

// List returns all adapters sorted by id
func (r *Registry) List() []Adapter {
	res := make([]Adapter, 0, len(r.sources))
	for _, a := range r.sources {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID() < res[j].ID() })
	return res
}

// FeedURL returns external link to the feed, empty for unknown sources
func (r *Registry) FeedURL(source, key string) string {
	if a, ok := r.sources[source]; ok {
		return a.FeedURL(key)
	}
	return ""
}

// ItemURL returns external link to the item, empty for unknown sources
func (r *Registry) ItemURL(source, feedKey, itemKey string) string {
	if a, ok := r.sources[source]; ok {
		return a.ItemURL(feedKey, itemKey)
	}
	return ""
}

// Icon returns icon link of the source, empty for unknown sources
func (r *Registry) Icon(source string) string {
	if a, ok := r.sources[source]; ok {
		return a.Icon()
	}
	return ""
}

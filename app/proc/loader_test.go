package proc

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-pkgz/lcw"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/feed-hub/app/feed"
	"github.com/umputun/feed-hub/app/store"
)

// countingYouTube is youtube source with a key resolver counting calls
type countingYouTube struct {
	*feed.YouTube
	calls int32
	fail  bool
}

func (c *countingYouTube) ResolveKey(_ context.Context, key string) (http.Header, string, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.fail {
		return nil, "", &feed.KeyResolutionError{Key: key, ParsingError: &feed.ParsingError{Reason: "Key not found"}}
	}
	return http.Header{"X-Test": []string{"1"}}, "UC" + key, nil
}

type ytServer struct {
	*httptest.Server
	hits  int32
	items int32 // number of entries to serve, 0 for all
	body  atomic.Value
}

func newYTServer(t *testing.T) *ytServer {
	data, err := ioutil.ReadFile("../feed/testdata/youtube.xml")
	require.NoError(t, err)
	res := &ytServer{}
	res.body.Store(string(data))
	res.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&res.hits, 1)
		if strings.HasPrefix(r.URL.Path, "/r/") {
			http.Redirect(w, r, "/search", http.StatusFound)
			return
		}
		if r.URL.Path == "/search" {
			_, _ = w.Write([]byte("<html/>"))
			return
		}
		body := res.body.Load().(string)
		if n := int(atomic.LoadInt32(&res.items)); n > 0 {
			body = firstEntries(body, n)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(res.Close)
	return res
}

// firstEntries cuts youtube document to n entries
func firstEntries(doc string, n int) string {
	parts := strings.SplitAfter(doc, "</entry>")
	if n >= len(parts)-1 {
		return doc
	}
	return strings.Join(parts[:n], "") + "\n</feed>\n"
}

func prepLoader(t *testing.T, ts *ytServer, adapters ...feed.Adapter) (*Loader, store.Store) {
	st, err := store.NewBoltDB(filepath.Join(t.TempDir(), "test.bdb"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, st.Close()) })

	yt := feed.NewYouTube()
	yt.DataTmpl = ts.URL + "/feeds/videos.xml?channel_id={feed}"
	rd := feed.NewReddit()
	rd.DataTmpl = ts.URL + "/r/{feed}.rss"

	return &Loader{
		Sources: feed.NewRegistry(append([]feed.Adapter{yt, rd}, adapters...)...),
		Fetcher: &feed.Fetcher{Client: ts.Client()},
		Store:   st,
	}, st
}

func TestLoader_LoadIdempotent(t *testing.T) {
	ts := newYTServer(t)
	ldr, st := prepLoader(t, ts)

	f, err := ldr.Load(context.Background(), "yt", "UC300utwSVAYOoRLEqmsprfg")
	require.NoError(t, err)
	assert.Equal(t, "CursosWeb", f.Title)
	assert.Equal(t, "UC300utwSVAYOoRLEqmsprfg", f.Key)
	assert.Equal(t, "yt", f.Source)
	assert.True(t, f.Chosen)

	f2, err := ldr.Load(context.Background(), "yt", "UC300utwSVAYOoRLEqmsprfg")
	require.NoError(t, err)
	assert.Equal(t, f.ID, f2.ID)

	feeds, err := st.Feeds(false)
	require.NoError(t, err)
	require.Equal(t, 1, len(feeds))
	assert.Equal(t, 15, feeds[0].ItemCount)

	items, err := st.FeedItems(f.ID)
	require.NoError(t, err)
	require.Equal(t, 15, len(items))
	assert.Equal(t, "vid00000001", items[0].Key)
	assert.Equal(t, "Lesson 1 & practice", items[0].Title)
}

func TestLoader_Reload(t *testing.T) {
	ts := newYTServer(t)
	ldr, st := prepLoader(t, ts)

	atomic.StoreInt32(&ts.items, 13)
	f, err := ldr.Load(context.Background(), "yt", "chan")
	require.NoError(t, err)
	require.NoError(t, st.SetChosen(f.ID, false))

	atomic.StoreInt32(&ts.items, 0)
	created, err := ldr.Reload(context.Background(), *f)
	require.NoError(t, err)
	require.Equal(t, 2, len(created))
	assert.Equal(t, "vid00000014", created[0].Key)
	assert.Equal(t, "vid00000015", created[1].Key)

	stored, err := st.Feed(f.ID)
	require.NoError(t, err)
	assert.True(t, stored.Chosen, "reload makes feed chosen again")
	assert.Equal(t, 15, stored.ItemCount)
}

func TestLoader_Failures(t *testing.T) {
	ts := newYTServer(t)
	resolver := &countingYouTube{YouTube: feed.NewYouTube(), fail: true}
	resolver.SourceID = "ytr"
	ldr, st := prepLoader(t, ts, resolver)

	t.Run("unknown source", func(t *testing.T) {
		_, err := ldr.Load(context.Background(), "xx", "key")
		assert.True(t, errors.Is(err, feed.ErrUnknownSource))
	})

	t.Run("resolver failed, nothing fetched", func(t *testing.T) {
		hits := atomic.LoadInt32(&ts.hits)
		_, err := ldr.Load(context.Background(), "ytr", "name")
		pe := &feed.ParsingError{}
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "Key not found", pe.Reason)
		assert.Equal(t, hits, atomic.LoadInt32(&ts.hits))
	})

	t.Run("redirected", func(t *testing.T) {
		_, err := ldr.Load(context.Background(), "rd", "nosuchsubreddit")
		assert.True(t, errors.Is(err, feed.ErrNotFound))
	})

	t.Run("invalid document", func(t *testing.T) {
		ts.body.Store(`<feed><author><name>chan</name></author><entry><yt:videoId>1</yt:videoId></entry></feed>`)
		_, err := ldr.Load(context.Background(), "yt", "chan")
		pe := &feed.ParsingError{}
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "Some item is missing fields", pe.Reason)
	})

	feeds, err := st.Feeds(false)
	require.NoError(t, err)
	assert.Empty(t, feeds, "nothing persisted on failures")
}

func TestLoader_ResolvedKeyCached(t *testing.T) {
	ts := newYTServer(t)
	resolver := &countingYouTube{YouTube: feed.NewYouTube()}
	resolver.SourceID = "ytr"
	resolver.DataTmpl = ts.URL + "/feeds/videos.xml?channel_id={feed}"
	ldr, st := prepLoader(t, ts, resolver)

	cache, err := lcw.NewExpirableCache(lcw.MaxKeys(10), lcw.TTL(time.Minute))
	require.NoError(t, err)
	ldr.Cache = cache

	for i := 0; i < 3; i++ {
		f, err := ldr.Load(context.Background(), "ytr", "300")
		require.NoError(t, err)
		assert.Equal(t, "UC300", f.Key, "resolved key stored")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&resolver.calls))

	feeds, err := st.Feeds(false)
	require.NoError(t, err)
	require.Equal(t, 1, len(feeds))
	assert.Equal(t, "ytr", feeds[0].Source)
}

func TestLoader_ResolverWithoutCache(t *testing.T) {
	ts := newYTServer(t)
	resolver := &countingYouTube{YouTube: feed.NewYouTube()}
	resolver.SourceID = "ytr"
	resolver.DataTmpl = ts.URL + "/feeds/videos.xml?channel_id={feed}"
	ldr, _ := prepLoader(t, ts, resolver)

	_, err := ldr.Load(context.Background(), "ytr", "300")
	require.NoError(t, err)
	_, err = ldr.Load(context.Background(), "ytr", "300")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&resolver.calls))
}

func TestLoader_ReloadSkipsResolver(t *testing.T) {
	ts := newYTServer(t)
	resolver := &countingYouTube{YouTube: feed.NewYouTube()}
	resolver.SourceID = "ytr"
	resolver.DataTmpl = ts.URL + "/feeds/videos.xml?channel_id={feed}"
	ldr, st := prepLoader(t, ts, resolver)

	f, err := ldr.Load(context.Background(), "ytr", "300")
	require.NoError(t, err)
	_, err = ldr.Reload(context.Background(), *f)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&resolver.calls))

	feeds, err := st.Feeds(false)
	require.NoError(t, err)
	require.Equal(t, 1, len(feeds))
	assert.Equal(t, "UC300", feeds[0].Key)
}

// spotifyServer serves token, search and top tracks. Search finds artistA for "Queen",
// nothing for "artistEmpty" and artistB for anything else.
type spotifyServer struct {
	*httptest.Server
	tokens   int32
	searches int32
	artists  []string
	lock     sync.Mutex
}

func newSpotifyServer(t *testing.T) *spotifyServer {
	data, err := ioutil.ReadFile("../feed/testdata/spotify.json")
	require.NoError(t, err)
	res := &spotifyServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&res.tokens, 1)
		_, _ = w.Write([]byte(`{"access_token": "tok123", "token_type": "Bearer"}`))
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&res.searches, 1)
		id := "artistB"
		switch r.URL.Query().Get("q") {
		case "Queen":
			id = "artistA"
		case "artistEmpty":
			_, _ = w.Write([]byte(`{"artists": {"items": []}}`))
			return
		}
		_, _ = w.Write([]byte(`{"artists": {"items": [{"id": "` + id + `"}]}}`))
	})
	mux.HandleFunc("/v1/artists/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		artist := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/artists/"), "/")[0]
		res.lock.Lock()
		res.artists = append(res.artists, artist)
		res.lock.Unlock()
		if artist == "artistEmpty" {
			_, _ = w.Write([]byte(`{"tracks": []}`))
			return
		}
		_, _ = w.Write(data)
	})
	res.Server = httptest.NewServer(mux)
	t.Cleanup(res.Close)
	return res
}

func (s *spotifyServer) adapter() *feed.Spotify {
	sp := feed.NewSpotify("id:secret", s.Client())
	sp.TokenURL = s.URL + "/api/token"
	sp.SearchURL = s.URL + "/v1/search?q={feed}&type=artist&limit=1"
	sp.DataTmpl = s.URL + "/v1/artists/{feed}/top-tracks?country=ES"
	return sp
}

func TestLoader_ReloadSpotifyKeepsKey(t *testing.T) {
	sps := newSpotifyServer(t)
	ldr, st := prepLoader(t, newYTServer(t), sps.adapter())

	f, err := ldr.Load(context.Background(), "sp", "Queen")
	require.NoError(t, err)
	assert.Equal(t, "artistA", f.Key)
	assert.Equal(t, "Queen", f.Title)

	created, err := ldr.Reload(context.Background(), *f)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Equal(t, int32(1), atomic.LoadInt32(&sps.searches), "no search on reload")
	assert.Equal(t, int32(2), atomic.LoadInt32(&sps.tokens), "token requested on reload")

	feeds, err := st.Feeds(false)
	require.NoError(t, err)
	require.Equal(t, 1, len(feeds))
	assert.Equal(t, "artistA", feeds[0].Key)
	assert.Equal(t, 10, feeds[0].ItemCount)
	assert.Equal(t, []string{"artistA", "artistA"}, sps.artists)
}

func TestLoader_ReloadHeadersCached(t *testing.T) {
	sps := newSpotifyServer(t)
	ldr, _ := prepLoader(t, newYTServer(t), sps.adapter())
	cache, err := lcw.NewExpirableCache(lcw.MaxKeys(10), lcw.TTL(time.Minute))
	require.NoError(t, err)
	ldr.Cache = cache

	f, err := ldr.Load(context.Background(), "sp", "Queen")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = ldr.Reload(context.Background(), *f)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&sps.tokens), "one token for load, one cached for reloads")
	assert.Equal(t, int32(1), atomic.LoadInt32(&sps.searches))
}

func TestLoader_NothingPersistedOnEmptyFeeds(t *testing.T) {
	sps := newSpotifyServer(t)

	grs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`<GoodreadsResponse><author><id>1</id><name>Some Author</name><books>
<book><id>5</id><title>Rare book</title><image_url>https://example.com/5.jpg</image_url>
<description>desc</description><ratings_count>10</ratings_count></book>
</books></author></GoodreadsResponse>`))
	}))
	defer grs.Close()
	gr := feed.NewGoodreads("secret", grs.Client())
	gr.DataTmpl = grs.URL + "/author/list.xml?id={feed}&key={apiKey}"

	ldr, st := prepLoader(t, newYTServer(t), sps.adapter(), gr)

	tbl := []struct{ source, key string }{
		{"sp", "artistEmpty"},
		{"gr", "1"},
	}
	for _, tt := range tbl {
		t.Run(tt.source, func(t *testing.T) {
			_, err := ldr.Load(context.Background(), tt.source, tt.key)
			pe := &feed.ParsingError{}
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "Feed has no items", pe.Reason)
		})
	}

	feeds, err := st.Feeds(false)
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

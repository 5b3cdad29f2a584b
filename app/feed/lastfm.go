package feed

import (
	"io"
	"strings"
)

// LastFM is a list of top albums of an artist
type LastFM struct {
	Descriptor
}

// NewLastFM makes last.fm artist source, apiKey required by the data api
func NewLastFM(apiKey string) *LastFM {
	return &LastFM{Descriptor: Descriptor{
		SourceID:   "lfm",
		SourceName: "last.fm",
		IconURL:    "https://www.last.fm/static/images/logo_static.adb61955725c.png",
		FeedTmpl:   "https://www.last.fm/music/{feed}",
		ItemTmpl:   "https://www.last.fm/music/{feed}/{item}",
		DataTmpl:   "http://ws.audioscrobbler.com/2.0/?method=artist.gettopalbums&artist={feed}&limit=15&api_key={apiKey}",
		APIKey:     apiKey,
	}}
}

// Parse extracts artist name and albums
func (l *LastFM) Parse(r io.Reader) (*Result, error) {
	h := &lastfmHandler{}
	if err := walk(r, h); err != nil {
		return nil, err
	}

	complete := func(a record) bool { return a.filled("name") && a.present("image") }
	if err := validate(h.artist, h.items, complete); err != nil {
		return nil, err
	}

	res := &Result{Title: h.artist, Items: make([]Item, 0, len(h.items))}
	for _, a := range h.items {
		name := strings.TrimSpace(a["name"])
		res.Items = append(res.Items, Item{Key: name, Title: name, Picture: a["image"]})
	}
	return res, nil
}

// lastfmHandler collects albums. The artist block nested in each album carries
// its own name, which is the feed title and must not override the album name.
type lastfmHandler struct {
	scanState
	inArtist bool
	artist   string
}

func (h *lastfmHandler) onStart(name string, attrs map[string]string) {
	switch name {
	case "album":
		h.beginItem()
	case "artist":
		h.inArtist = true
	}
	h.capturing(name == "name" || (name == "image" && attrs["size"] == "extralarge"))
}

func (h *lastfmHandler) onEnd(name string) {
	captured := h.capture
	text := h.take()
	switch {
	case captured && h.inArtist && name == "name":
		if h.artist == "" {
			h.artist = text
		}
	case captured && h.inItem && (name == "name" || name == "image"):
		h.set(name, text)
	case name == "album":
		h.endItem()
	case name == "artist":
		h.inArtist = false
	}
}

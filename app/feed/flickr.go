package feed

import (
	"io"
	"net/url"
	"strings"
)

// Flickr is a public photos feed for a tag
type Flickr struct {
	Descriptor
}

// NewFlickr makes flickr tag source
func NewFlickr() *Flickr {
	return &Flickr{Descriptor: Descriptor{
		SourceID:   "fl",
		SourceName: "Flickr",
		IconURL:    "https://combo.staticflickr.com/pw/favicon.ico",
		FeedTmpl:   "https://www.flickr.com/search/?tags={feed}",
		ItemTmpl:   "https://www.flickr.com/photos/{item}/",
		DataTmpl:   "https://www.flickr.com/services/feeds/photos_public.gne?tags={feed}",
	}}
}

// Parse extracts feed title and photos
func (f *Flickr) Parse(r io.Reader) (*Result, error) {
	h := &flickrHandler{}
	if err := walk(r, h); err != nil {
		return nil, err
	}

	complete := func(p record) bool { return p.filled("link", "title", "content") && photoKey(p["link"]) != "" }
	if err := validate(h.title, h.items, complete); err != nil {
		return nil, err
	}

	res := &Result{Title: h.title, Items: make([]Item, 0, len(h.items))}
	for _, p := range h.items {
		res.Items = append(res.Items, Item{
			Key:         photoKey(p["link"]),
			Title:       p["title"],
			Description: p["content"],
			Picture:     p["enclosure"],
		})
	}
	return res, nil
}

// photoKey extracts "user/id" from the photo permalink https://www.flickr.com/photos/user/id/
func photoKey(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if !strings.HasPrefix(u.Path, "/photos/") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(u.Path, "/photos/"), "/")
}

type flickrHandler struct {
	scanState
	title string
}

func (h *flickrHandler) onStart(name string, attrs map[string]string) {
	h.capturing((h.inItem && (name == "content" || name == "title")) || (!h.inItem && name == "title"))
	if name == "entry" {
		h.beginItem()
	}
	if h.inItem && name == "link" {
		switch attrs["rel"] {
		case "alternate":
			h.set("link", attrs["href"])
		case "enclosure":
			h.set("enclosure", attrs["href"])
		}
	}
}

func (h *flickrHandler) onEnd(name string) {
	text := h.take()
	switch {
	case h.inItem && (name == "content" || name == "title"):
		h.set(name, text)
	case !h.inItem && name == "title":
		if h.title == "" {
			h.title = text
		}
	case name == "entry":
		h.endItem()
	}
}

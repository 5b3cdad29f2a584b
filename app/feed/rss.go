package feed

import (
	"io"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
)

// RSS is any rss, atom or json feed addressed by its url
type RSS struct {
	Descriptor
}

// NewRSS makes generic feed source. Feed key is the feed url, item keys are item links.
func NewRSS() *RSS {
	return &RSS{Descriptor: Descriptor{
		SourceID:   "rss",
		SourceName: "RSS",
		IconURL:    "https://upload.wikimedia.org/wikipedia/en/4/43/Feed-icon.svg",
		FeedTmpl:   "{feed}",
		ItemTmpl:   "{item}",
		DataTmpl:   "{feed}",
	}}
}

// FeedURL returns the key, it is the link already
func (s *RSS) FeedURL(key string) string { return key }

// DataURL returns the key, it is the link already
func (s *RSS) DataURL(key string) string { return key }

// ItemURL returns item key if it is an absolute link, empty string otherwise
func (s *RSS) ItemURL(_, itemKey string) string {
	if u, err := url.Parse(itemKey); err == nil && u.IsAbs() {
		return itemKey
	}
	return ""
}

// Parse extracts feed title and entries with gofeed, format detected from content
func (s *RSS) Parse(r io.Reader) (*Result, error) {
	f, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, parsingError("Could not parse data: " + err.Error())
	}

	entries := make([]record, 0, len(f.Items))
	for _, it := range f.Items {
		rec := record{"key": entryKey(it), "title": strings.TrimSpace(it.Title), "description": it.Description}
		if rec["description"] == "" {
			rec["description"] = it.Content
		}
		rec["picture"] = entryPicture(it)
		entries = append(entries, rec)
	}

	title := strings.TrimSpace(f.Title)
	if err := validate(title, entries, func(e record) bool { return e.filled("key", "title") }); err != nil {
		return nil, err
	}

	res := &Result{Title: title, Items: make([]Item, 0, len(entries))}
	for _, e := range entries {
		res.Items = append(res.Items, Item{Key: e["key"], Title: e["title"], Description: e["description"], Picture: e["picture"]})
	}
	return res, nil
}

// entryKey prefers the link, guids are often not links and can't be used for item urls
func entryKey(it *gofeed.Item) string {
	if it.Link != "" {
		return it.Link
	}
	return it.GUID
}

func entryPicture(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

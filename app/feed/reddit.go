package feed

import (
	"io"
	"strings"
)

// Reddit is a subreddit atom feed
type Reddit struct {
	Descriptor
}

// NewReddit makes subreddit source
func NewReddit() *Reddit {
	return &Reddit{Descriptor: Descriptor{
		SourceID:   "rd",
		SourceName: "Reddit",
		IconURL:    "https://www.redditstatic.com/desktop2x/img/favicon/android-icon-192x192.png",
		FeedTmpl:   "https://www.reddit.com/r/{feed}",
		ItemTmpl:   "https://www.reddit.com/r/{feed}/comments/{item}",
		DataTmpl:   "https://www.reddit.com/r/{feed}.rss",
	}}
}

// RejectRedirects is true, reddit redirects unknown subreddits to the search page
func (s *Reddit) RejectRedirects() bool { return true }

// Parse extracts subreddit name and posts
func (s *Reddit) Parse(r io.Reader) (*Result, error) {
	h := &redditHandler{}
	if err := walk(r, h); err != nil {
		return nil, err
	}

	complete := func(p record) bool { return p.filled("id", "title", "content") && postKey(p["id"]) != "" }
	if err := validate(h.name, h.items, complete); err != nil {
		return nil, err
	}

	res := &Result{Title: subredditName(h.name), Items: make([]Item, 0, len(h.items))}
	for _, p := range h.items {
		res.Items = append(res.Items, Item{
			Key:         postKey(p["id"]),
			Title:       p["title"],
			Description: stripAttribution(p["content"]),
		})
	}
	return res, nil
}

// postKey returns the part of the raw id after the first "_", i.e. t3_abc123 -> abc123
func postKey(id string) string {
	if i := strings.Index(id, "_"); i >= 0 {
		return id[i+1:]
	}
	return ""
}

// subredditName converts "/r/memes" and "/r/memes/top" to "memes"
func subredditName(title string) string {
	if !strings.HasPrefix(title, "/r/") {
		return title
	}
	name := strings.TrimPrefix(title, "/r/")
	if i := strings.Index(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}

// stripAttribution removes [link] and [comments] spans following the "submitted by" footer
func stripAttribution(content string) string {
	pos := strings.Index(content, "&#32; submitted by &#32")
	if pos < 0 {
		return content
	}
	for i := 0; i < 2; i++ {
		start := strings.Index(content[pos:], "<span>")
		if start < 0 {
			break
		}
		start += pos
		end := strings.Index(content[start:], "</span>")
		if end < 0 {
			break
		}
		end += start + len("</span>")
		content = content[:start] + content[end:]
	}
	return content
}

type redditHandler struct {
	scanState
	name string
}

var redditEntryTags = map[string]bool{"content": true, "id": true, "title": true}

func (h *redditHandler) onStart(name string, _ map[string]string) {
	h.capturing((h.inItem && redditEntryTags[name]) || (!h.inItem && name == "title"))
	if name == "entry" {
		h.beginItem()
	}
}

func (h *redditHandler) onEnd(name string) {
	text := h.take()
	switch {
	case h.inItem && redditEntryTags[name]:
		h.set(name, text)
	case !h.inItem && name == "title":
		h.name = text
	case name == "entry":
		h.endItem()
	}
}

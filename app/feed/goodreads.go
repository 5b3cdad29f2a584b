package feed

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

// minRatings excludes books with few ratings, those are mostly translated editions
const minRatings = 1000

// Goodreads is a list of books by an author. Authors can be given by name,
// names are translated to author id with an extra api call.
type Goodreads struct {
	Descriptor
	Client    *http.Client
	AuthorURL string        // name lookup template with {feed} and {apiKey}
	Delay     time.Duration // pause after each lookup, api allows one request per second
}

// NewGoodreads makes goodreads author source
func NewGoodreads(apiKey string, client *http.Client) *Goodreads {
	return &Goodreads{
		Descriptor: Descriptor{
			SourceID:   "gr",
			SourceName: "Goodreads",
			IconURL:    "https://d.gr-assets.com/misc/1454549143-1454549143_goodreads_misc.png",
			FeedTmpl:   "https://www.goodreads.com/author/show/{feed}",
			ItemTmpl:   "https://www.goodreads.com/book/show/{item}",
			DataTmpl:   "https://www.goodreads.com/author/list.xml?id={feed}&key={apiKey}",
			APIKey:     apiKey,
		},
		Client:    client,
		AuthorURL: "https://www.goodreads.com/api/author_url/{feed}?key={apiKey}",
		Delay:     time.Second,
	}
}

// ResolveKey translates author name to author id, numeric keys are ids already
func (g *Goodreads) ResolveKey(ctx context.Context, key string) (http.Header, string, error) {
	if isDigits(key) {
		return nil, key, nil
	}

	lookupURL := strings.NewReplacer("{feed}", Quote(key), "{apiKey}", g.APIKey).Replace(g.AuthorURL)
	body, err := getBody(ctx, g.Client, lookupURL, nil)
	if err != nil {
		return nil, "", err
	}
	defer body.Close() // nolint

	var resp struct {
		Author *struct {
			ID string `xml:"id,attr"`
		} `xml:"author"`
	}
	dec := xml.NewDecoder(body)
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&resp); err != nil && err != io.EOF {
		return nil, "", keyError(key, "malformed lookup response")
	}
	if resp.Author == nil || resp.Author.ID == "" {
		return nil, "", keyError(key, "Key not found")
	}

	if err := pause(ctx, g.Delay); err != nil {
		return nil, "", err
	}
	return nil, resp.Author.ID, nil
}

// Parse extracts author name and books with enough ratings
func (g *Goodreads) Parse(r io.Reader) (*Result, error) {
	h := &goodreadsHandler{}
	if err := walk(r, h); err != nil {
		return nil, err
	}

	books := make([]record, 0, len(h.items))
	for _, b := range h.items {
		rc, ok := b["ratings_count"]
		if !ok {
			return nil, parsingError("Missing expected tag")
		}
		n, err := strconv.Atoi(strings.TrimSpace(rc))
		if err != nil {
			return nil, parsingError("Could not parse ratings count")
		}
		if n >= minRatings {
			books = append(books, b)
		}
	}

	complete := func(b record) bool { return b.filled("id", "title") && b.present("description", "image_url") }
	if err := validate(h.author, books, complete); err != nil {
		return nil, err
	}

	res := &Result{Title: h.author, Items: make([]Item, 0, len(books))}
	for _, b := range books {
		res.Items = append(res.Items, Item{
			Key:         strings.TrimSpace(b["id"]),
			Title:       b["title"],
			Description: b["description"],
			Picture:     b["image_url"],
		})
	}
	return res, nil
}

// goodreadsHandler collects books. Nested authors and work blocks repeat
// id, title and name tags, nothing is captured inside them.
type goodreadsHandler struct {
	scanState
	nested bool
	author string
}

var goodreadsBookTags = map[string]bool{"id": true, "title": true, "image_url": true, "description": true, "ratings_count": true}

func (h *goodreadsHandler) onStart(name string, _ map[string]string) {
	h.capturing((h.inItem && !h.nested && goodreadsBookTags[name]) || (!h.inItem && name == "name"))
	switch name {
	case "book":
		h.beginItem()
	case "authors", "work":
		h.nested = true
	}
}

func (h *goodreadsHandler) onEnd(name string) {
	text := h.take()
	switch {
	case h.inItem && !h.nested && goodreadsBookTags[name]:
		h.set(name, text)
	case !h.inItem && name == "name":
		if h.author == "" {
			h.author = text
		}
	case name == "book":
		h.endItem()
	case name == "authors" || name == "work":
		h.nested = false
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// pause blocks for d or until ctx is done
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

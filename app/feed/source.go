// Package feed implements ingestion of external feed sources. Each supported source is an Adapter
// which knows how to build urls for a key, and how to parse the remote document into a Result.
// Adapters may also implement KeyResolver, HeaderProvider and RedirectStrict capabilities.
package feed

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// Item is a normalized item record produced by a source parser
type Item struct {
	Key         string
	Title       string
	Description string
	Picture     string
}

// Result of parsing a source document, items are in document order
type Result struct {
	Title string
	Items []Item
}

// Adapter is a single feed source
type Adapter interface {
	ID() string
	Name() string
	Icon() string
	FeedURL(key string) string
	ItemURL(feedKey, itemKey string) string
	DataURL(key string) string
	Parse(r io.Reader) (*Result, error)
}

// KeyResolver translates human readable key into the id expected by the data api.
// Returned headers are sent with the data request.
type KeyResolver interface {
	ResolveKey(ctx context.Context, key string) (http.Header, string, error)
}

// HeaderProvider implemented by sources whose data api needs request headers
// even for already resolved keys
type HeaderProvider interface {
	DataHeaders(ctx context.Context) (http.Header, error)
}

// RedirectStrict implemented by sources where a redirect means the feed doesn't exist
type RedirectStrict interface {
	RejectRedirects() bool
}

// Descriptor defines immutable url templates of a source. Templates use {feed}, {item} and {apiKey}
// placeholders, keys are percent-encoded on substitution.
type Descriptor struct {
	SourceID   string
	SourceName string
	IconURL    string
	FeedTmpl   string
	ItemTmpl   string
	DataTmpl   string
	APIKey     string
}

// ID returns source id, i.e. "yt"
func (d Descriptor) ID() string { return d.SourceID }

// Name returns display name of the source
func (d Descriptor) Name() string { return d.SourceName }

// Icon returns link to the source icon
func (d Descriptor) Icon() string { return d.IconURL }

// FeedURL returns external link to the feed with given key
func (d Descriptor) FeedURL(key string) string {
	return strings.NewReplacer("{feed}", Quote(key)).Replace(d.FeedTmpl)
}

// ItemURL returns external link to the item
func (d Descriptor) ItemURL(feedKey, itemKey string) string {
	return strings.NewReplacer("{feed}", Quote(feedKey), "{item}", Quote(itemKey)).Replace(d.ItemTmpl)
}

// DataURL returns link to the document with feed data
func (d Descriptor) DataURL(key string) string {
	return strings.NewReplacer("{feed}", Quote(key), "{apiKey}", d.APIKey).Replace(d.DataTmpl)
}

// Quote percent-encodes s keeping only unreserved characters and '/' as is.
// url.PathUnescape reverses it.
func Quote(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&15])
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~', c == '/':
		return true
	}
	return false
}

package feed

import (
	"io"
)

// YouTube is a channel of videos, parsed from the channel atom feed
type YouTube struct {
	Descriptor
}

// NewYouTube makes youtube channel source
func NewYouTube() *YouTube {
	return &YouTube{Descriptor: Descriptor{
		SourceID:   "yt",
		SourceName: "YouTube",
		IconURL:    "https://s.ytimg.com/yts/img/favicon_144-vfliLAfaB.png",
		FeedTmpl:   "https://www.youtube.com/channel/{feed}",
		ItemTmpl:   "https://www.youtube.com/watch?v={item}",
		DataTmpl:   "http://www.youtube.com/feeds/videos.xml?channel_id={feed}",
	}}
}

// Parse extracts channel name and videos
func (y *YouTube) Parse(r io.Reader) (*Result, error) {
	h := &ytHandler{}
	if err := walk(r, h); err != nil {
		return nil, err
	}

	complete := func(v record) bool {
		return v.filled("yt:videoId", "media:title", "media:thumbnail") && v.present("media:description")
	}
	if err := validate(h.channel, h.items, complete); err != nil {
		return nil, err
	}

	res := &Result{Title: h.channel, Items: make([]Item, 0, len(h.items))}
	for _, v := range h.items {
		res.Items = append(res.Items, Item{
			Key:         v["yt:videoId"],
			Title:       v["media:title"],
			Description: v["media:description"],
			Picture:     v["media:thumbnail"],
		})
	}
	return res, nil
}

type ytHandler struct {
	scanState
	channel string
}

var ytContent = map[string]bool{"yt:videoId": true, "media:title": true, "media:description": true}

// attribute sourced fields, element -> attribute
var ytAttrs = map[string]string{"link": "href", "media:thumbnail": "url"}

func (h *ytHandler) onStart(name string, attrs map[string]string) {
	if name == "entry" {
		h.beginItem()
	}
	h.capturing(ytContent[name] || name == "name")
	if attr, ok := ytAttrs[name]; ok && h.inItem {
		h.set(name, attrs[attr])
	}
}

func (h *ytHandler) onEnd(name string) {
	text := h.take()
	switch {
	case name == "entry":
		h.endItem()
	case name == "name" && h.channel == "":
		// the first name in the document is the channel author
		h.channel = text
	case ytContent[name] && h.inItem:
		h.set(name, text)
	}
}

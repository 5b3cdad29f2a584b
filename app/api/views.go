package api

import (
	"encoding/xml"

	"github.com/umputun/feed-hub/app/models"
)

type sourceView struct {
	ID   string `json:"id" xml:"id"`
	Name string `json:"name" xml:"name"`
	Icon string `json:"icon" xml:"icon"`
}

type sourcesView struct {
	XMLName xml.Name     `json:"-" xml:"sources"`
	Sources []sourceView `json:"sources" xml:"source"`
}

type feedView struct {
	XMLName   xml.Name `json:"-" xml:"feed"`
	ID        int64    `json:"id" xml:"id"`
	Source    string   `json:"source" xml:"source"`
	Key       string   `json:"key" xml:"key"`
	Title     string   `json:"title" xml:"title"`
	Chosen    bool     `json:"chosen" xml:"chosen"`
	ItemCount int      `json:"item_count" xml:"item_count"`
	Link      string   `json:"link" xml:"link"`
	Icon      string   `json:"icon" xml:"icon"`
}

type feedsView struct {
	XMLName xml.Name   `json:"-" xml:"feeds"`
	Feeds   []feedView `json:"feeds" xml:"feed"`
}

type feedDetailView struct {
	feedView
	Items []itemView `json:"items" xml:"items>item"`
}

type itemView struct {
	XMLName     xml.Name `json:"-" xml:"item"`
	ID          int64    `json:"id" xml:"id"`
	FeedID      int64    `json:"feed_id" xml:"feed_id"`
	Key         string   `json:"key" xml:"key"`
	Title       string   `json:"title" xml:"title"`
	Description string   `json:"description" xml:"description"`
	Picture     string   `json:"picture" xml:"picture"`
	Link        string   `json:"link" xml:"link"`
	Up          int      `json:"up" xml:"votes>up"`
	Down        int      `json:"down" xml:"votes>down"`
}

type itemsView struct {
	XMLName xml.Name   `json:"-" xml:"items"`
	Page    int        `json:"page" xml:"page,attr"`
	Items   []itemView `json:"items" xml:"item"`
}

type itemDetailView struct {
	itemView
	FeedTitle string           `json:"feed_title" xml:"feed_title"`
	Comments  []models.Comment `json:"comments" xml:"comments>comment"`
}

type commentView struct {
	XMLName xml.Name `json:"-" xml:"comment"`
	models.Comment
}

type votesView struct {
	XMLName xml.Name `json:"-" xml:"votes"`
	ItemID  int64    `json:"item_id" xml:"item_id,attr"`
	Up      int      `json:"up" xml:"up"`
	Down    int      `json:"down" xml:"down"`
}

type userView struct {
	XMLName xml.Name `json:"-" xml:"user"`
	models.UserProfile
}

type usersView struct {
	XMLName xml.Name             `json:"-" xml:"users"`
	Users   []models.UserProfile `json:"users" xml:"user"`
}

// rss 2.0 document with latest comments
type rssView struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description,omitempty"`
	Author      string `xml:"author,omitempty"`
	PubDate     string `xml:"pubDate,omitempty"`
	GUID        string `xml:"guid,omitempty"`
}

type statusView struct {
	XMLName xml.Name `json:"-" xml:"status"`
	Status  string   `json:"status" xml:"result"`
	ID      int64    `json:"id" xml:"id"`
}

// Package models contains DAO objects
package models

import "time"

// Feed presents a source+key combination loaded from external source
type Feed struct {
	ID     int64  `json:"id"`
	Key    string `json:"key"`    // resolved key, used to re-fetch
	Source string `json:"source"` // source id, i.e. "yt"
	Title  string `json:"title"`
	Chosen bool   `json:"chosen"` // hidden feeds stay in store but not listed by default

	ItemCount int `json:"item_count,omitempty"` // filled by listings only
}

// Item presents a single entry of a feed
type Item struct {
	ID          int64  `json:"id"`
	FeedID      int64  `json:"feed_id"`
	Key         string `json:"key"` // unique within the feed
	Title       string `json:"title"`
	Description string `json:"description"`
	Picture     string `json:"picture"`
}

// Comment presents user's comment on an item
type Comment struct {
	ID      int64     `json:"id"`
	ItemID  int64     `json:"item_id"`
	User    string    `json:"user"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Date    time.Time `json:"date"`
}

// Vote presents user's vote on an item
type Vote struct {
	ItemID int64  `json:"item_id"`
	User   string `json:"user"`
	Up     bool   `json:"up"`
}

// UserProfile presents user's activity
type UserProfile struct {
	Name     string `json:"name"`
	Votes    int    `json:"votes"`
	Comments int    `json:"comments"`
}

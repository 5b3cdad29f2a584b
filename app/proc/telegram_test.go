package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/umputun/feed-hub/app/feed"
	"github.com/umputun/feed-hub/app/models"
)

func TestGetMessageHTML(t *testing.T) {
	client := TelegramClient{Links: feed.NewRegistry(feed.NewYouTube(), feed.NewRSS())}

	msg := client.getMessageHTML(models.Feed{Source: "yt", Key: "chan", Title: "CursosWeb"},
		models.Item{Key: "abc", Title: " Lesson 1 & practice ", Description: "<p>Video <b>number</b> 1 <a href=\"https://example.com\">link</a></p>",
			Picture: "https://i1.ytimg.com/vi/abc/hqdefault.jpg"})
	assert.Equal(t, "<a href=\"https://www.youtube.com/watch?v=abc\">CursosWeb: Lesson 1 &amp; practice</a>\n\n"+
		"Video number 1 <a href=\"https://example.com\">link</a>\n\n"+
		"https://i1.ytimg.com/vi/abc/hqdefault.jpg", msg)

	// item of rss feed without link
	msg = client.getMessageHTML(models.Feed{Source: "rss", Key: "https://radio-t.com/rss.xml"},
		models.Item{Key: "rt-699", Title: "Radio-T 699", Description: "&lt;i&gt;escaped&lt;/i&gt; text"})
	assert.Equal(t, "Radio-T 699\n\nescaped text", msg)
}

func TestRecipient(t *testing.T) {
	assert.Equal(t, "@feeds", recipient{chatID: "feeds"}.Recipient())
	assert.Equal(t, "@feeds", recipient{chatID: "@feeds"}.Recipient())
}

package proc

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/umputun/feed-hub/app/models"
)

// Linker makes external links of items
type Linker interface {
	ItemURL(source, feedKey, itemKey string) string
}

// TelegramClient sends new items to telegram channel
type TelegramClient struct {
	Bot   *tb.Bot
	Links Linker
}

// NewTelegramClient init telegram client
func NewTelegramClient(token, apiURL string, timeout time.Duration, links Linker) (*TelegramClient, error) {
	if timeout == 0 {
		timeout = time.Second * 60
	}

	if token == "" {
		return nil, errors.New("empty telegram token")
	}

	bot, err := tb.NewBot(tb.Settings{
		URL:    apiURL,
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't make telegram bot")
	}

	return &TelegramClient{Bot: bot, Links: links}, nil
}

// Send item of the feed to channel
func (client *TelegramClient) Send(channelID string, f models.Feed, item models.Item) error {
	_, err := client.Bot.Send(
		recipient{chatID: channelID},
		client.getMessageHTML(f, item),
		tb.ModeHTML,
		tb.NoPreview,
	)
	return errors.Wrapf(err, "can't send %s/%s", f.Source, item.Key)
}

// https://core.telegram.org/bots/api#html-style
func tagLinkOnlySupport(htmlText string) string {
	p := bluemonday.NewPolicy()
	p.AllowAttrs("href").OnElements("a")
	return html.UnescapeString(p.Sanitize(htmlText))
}

// getMessageHTML generates HTML message from item, title linked to the item page
func (client *TelegramClient) getMessageHTML(f models.Feed, item models.Item) string {
	// apparently bluemonday doesn't remove escaped HTML tags
	description := tagLinkOnlySupport(html.UnescapeString(item.Description))
	description = strings.TrimSpace(description)

	messageHTML := description

	title := strings.TrimSpace(item.Title)
	if f.Title != "" {
		title = strings.TrimSpace(f.Title) + ": " + title
	}
	link := ""
	if client.Links != nil {
		link = client.Links.ItemURL(f.Source, f.Key, item.Key)
	}
	switch {
	case link == "":
		messageHTML = fmt.Sprintf("%s\n\n", html.EscapeString(title)) + messageHTML
	default:
		messageHTML = fmt.Sprintf("<a href=\"%s\">%s</a>\n\n", link, html.EscapeString(title)) + messageHTML
	}

	if item.Picture != "" {
		messageHTML += fmt.Sprintf("\n\n%s", item.Picture)
	}

	return strings.TrimSpace(messageHTML)
}

type recipient struct {
	chatID string
}

func (r recipient) Recipient() string {
	if !strings.HasPrefix(r.chatID, "@") {
		return "@" + r.chatID
	}

	return r.chatID
}

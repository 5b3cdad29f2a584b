package store

import (
	"database/sql"
	"os"
	"path"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers "sqlite" driver

	"github.com/umputun/feed-hub/app/models"
)

var (
	_ Store = (*BoltDB)(nil)
	_ Store = (*SQLite)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS feeds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	key TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	chosen INTEGER NOT NULL DEFAULT 1,
	UNIQUE(source, key)
);
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	picture TEXT NOT NULL DEFAULT '',
	UNIQUE(feed_id, key)
);
CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	user TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	date INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_item ON comments(item_id, date);
CREATE TABLE IF NOT EXISTS votes (
	item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	user TEXT NOT NULL,
	up INTEGER NOT NULL,
	PRIMARY KEY(item_id, user)
);
`

// SQLite store, pure-go driver
type SQLite struct {
	DB *sql.DB
}

// NewSQLite makes sqlite based store and applies schema
func NewSQLite(dbFile string) (*SQLite, error) {
	log.Printf("[INFO] sqlite (persistent) store, %s", dbFile)
	if err := os.MkdirAll(path.Dir(dbFile), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+dbFile+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", dbFile)
	}
	// single writer, same as bolt
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "can't apply schema")
	}
	return &SQLite{DB: db}, nil
}

// Close sqlite
func (s *SQLite) Close() error {
	return s.DB.Close()
}

// Upsert saves feed and items, matching existing records by natural keys
func (s *SQLite) Upsert(feed models.Feed, items []models.Item) (models.Feed, []models.Item, error) {
	var created []models.Item

	tx, err := s.DB.Begin()
	if err != nil {
		return models.Feed{}, nil, errors.Wrap(err, "can't begin transaction")
	}
	defer tx.Rollback() // nolint

	err = tx.QueryRow(`SELECT id FROM feeds WHERE source = ? AND key = ?`, feed.Source, feed.Key).Scan(&feed.ID)
	switch {
	case err == sql.ErrNoRows:
		res, e := tx.Exec(`INSERT INTO feeds (source, key, title, chosen) VALUES (?, ?, ?, 1)`,
			feed.Source, feed.Key, feed.Title)
		if e != nil {
			return models.Feed{}, nil, errors.Wrapf(e, "can't insert feed %s/%s", feed.Source, feed.Key)
		}
		if feed.ID, e = res.LastInsertId(); e != nil {
			return models.Feed{}, nil, e
		}
	case err != nil:
		return models.Feed{}, nil, errors.Wrapf(err, "can't find feed %s/%s", feed.Source, feed.Key)
	default:
		if _, e := tx.Exec(`UPDATE feeds SET title = ?, chosen = 1 WHERE id = ?`, feed.Title, feed.ID); e != nil {
			return models.Feed{}, nil, errors.Wrapf(e, "can't update feed %d", feed.ID)
		}
	}
	feed.Chosen = true
	feed.ItemCount = 0

	for _, item := range items {
		item.FeedID = feed.ID
		err = tx.QueryRow(`SELECT id FROM items WHERE feed_id = ? AND key = ?`, feed.ID, item.Key).Scan(&item.ID)
		switch {
		case err == sql.ErrNoRows:
			res, e := tx.Exec(`INSERT INTO items (feed_id, key, title, description, picture) VALUES (?, ?, ?, ?, ?)`,
				item.FeedID, item.Key, item.Title, item.Description, item.Picture)
			if e != nil {
				return models.Feed{}, nil, errors.Wrapf(e, "can't insert item %s", item.Key)
			}
			if item.ID, e = res.LastInsertId(); e != nil {
				return models.Feed{}, nil, e
			}
			created = append(created, item)
		case err != nil:
			return models.Feed{}, nil, errors.Wrapf(err, "can't find item %s", item.Key)
		default:
			if _, e := tx.Exec(`UPDATE items SET title = ?, description = ?, picture = ? WHERE id = ?`,
				item.Title, item.Description, item.Picture, item.ID); e != nil {
				return models.Feed{}, nil, errors.Wrapf(e, "can't update item %d", item.ID)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Feed{}, nil, errors.Wrapf(err, "can't save feed %s/%s", feed.Source, feed.Key)
	}
	log.Printf("[DEBUG] saved feed %s/%s, id=%d, %d items, %d new", feed.Source, feed.Key, feed.ID, len(items), len(created))
	return feed, created, nil
}

const feedColumns = `f.id, f.source, f.key, f.title, f.chosen, (SELECT COUNT(*) FROM items i WHERE i.feed_id = f.id)`

// Iterate calls fn for every feed, newest first. Stops on the first error returned by fn.
func (s *SQLite) Iterate(fn func(feed models.Feed) error) error {
	feeds, err := s.queryFeeds(`SELECT ` + feedColumns + ` FROM feeds f ORDER BY f.id DESC`)
	if err != nil {
		return err
	}
	for _, f := range feeds {
		f.ItemCount = 0
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Feeds returns feeds with item counts, ordered by title
func (s *SQLite) Feeds(onlyChosen bool) ([]models.Feed, error) {
	q := `SELECT ` + feedColumns + ` FROM feeds f`
	if onlyChosen {
		q += ` WHERE f.chosen = 1`
	}
	return s.queryFeeds(q + ` ORDER BY f.title, f.id`)
}

// Feed returns feed by id
func (s *SQLite) Feed(id int64) (models.Feed, error) {
	feeds, err := s.queryFeeds(`SELECT `+feedColumns+` FROM feeds f WHERE f.id = ?`, id)
	if err != nil {
		return models.Feed{}, err
	}
	if len(feeds) == 0 {
		return models.Feed{}, ErrNotFound
	}
	return feeds[0], nil
}

// SetChosen shows or hides the feed
func (s *SQLite) SetChosen(id int64, chosen bool) error {
	res, err := s.DB.Exec(`UPDATE feeds SET chosen = ? WHERE id = ?`, chosen, id)
	if err != nil {
		return errors.Wrapf(err, "can't update feed %d", id)
	}
	return requireAffected(res)
}

// DeleteFeed removes the feed, items, comments and votes go with it by cascade
func (s *SQLite) DeleteFeed(id int64) error {
	res, err := s.DB.Exec(`DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "can't delete feed %d", id)
	}
	return requireAffected(res)
}

const itemColumns = `id, feed_id, key, title, description, picture`

// FeedItems returns all items of the feed in the order they were added
func (s *SQLite) FeedItems(feedID int64) ([]models.Item, error) {
	return s.queryItems(`SELECT `+itemColumns+` FROM items WHERE feed_id = ? ORDER BY id`, feedID)
}

// LastItems returns page of the most recently added items of chosen feeds
func (s *SQLite) LastItems(offset, limit int) ([]models.Item, error) {
	return s.queryItems(`SELECT `+itemColumns+` FROM items WHERE feed_id IN (SELECT id FROM feeds WHERE chosen = 1)
		ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
}

// Item returns item by id
func (s *SQLite) Item(id int64) (models.Item, error) {
	items, err := s.queryItems(`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if err != nil {
		return models.Item{}, err
	}
	if len(items) == 0 {
		return models.Item{}, ErrNotFound
	}
	return items[0], nil
}

// AddComment saves comment for existing item, sets id and date
func (s *SQLite) AddComment(c models.Comment) (models.Comment, error) {
	if _, err := s.Item(c.ItemID); err != nil {
		return models.Comment{}, errors.Wrapf(err, "can't add comment to item %d", c.ItemID)
	}
	if c.Date.IsZero() {
		c.Date = time.Now()
	}
	res, err := s.DB.Exec(`INSERT INTO comments (item_id, user, title, content, date) VALUES (?, ?, ?, ?, ?)`,
		c.ItemID, c.User, c.Title, c.Content, c.Date.UnixNano())
	if err != nil {
		return models.Comment{}, errors.Wrapf(err, "can't add comment to item %d", c.ItemID)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return models.Comment{}, err
	}
	return c, nil
}

// Comments returns up to limit latest comments of the item, newest first
func (s *SQLite) Comments(itemID int64, limit int) ([]models.Comment, error) {
	return s.queryComments(`SELECT id, item_id, user, title, content, date FROM comments
		WHERE item_id = ? ORDER BY id DESC LIMIT ?`, itemID, limit)
}

// LastComments returns up to limit latest comments of all items, newest first
func (s *SQLite) LastComments(limit int) ([]models.Comment, error) {
	return s.queryComments(`SELECT id, item_id, user, title, content, date FROM comments
		ORDER BY id DESC LIMIT ?`, limit)
}

// Vote sets user's vote on the item, replacing the previous one
func (s *SQLite) Vote(itemID int64, user string, up bool) error {
	if _, err := s.Item(itemID); err != nil {
		return err
	}
	_, err := s.DB.Exec(`INSERT INTO votes (item_id, user, up) VALUES (?, ?, ?)
		ON CONFLICT(item_id, user) DO UPDATE SET up = excluded.up`, itemID, user, up)
	return errors.Wrapf(err, "can't vote on item %d", itemID)
}

// Votes returns number of positive and negative votes of the item
func (s *SQLite) Votes(itemID int64) (up, down int, err error) {
	err = s.DB.QueryRow(`SELECT COALESCE(SUM(up), 0), COALESCE(SUM(1 - up), 0) FROM votes WHERE item_id = ?`,
		itemID).Scan(&up, &down)
	return up, down, err
}

// Profile returns counts of votes and comments made by user
func (s *SQLite) Profile(user string) (models.UserProfile, error) {
	res := models.UserProfile{Name: user}
	err := s.DB.QueryRow(`SELECT (SELECT COUNT(*) FROM votes WHERE user = ?), (SELECT COUNT(*) FROM comments WHERE user = ?)`,
		user, user).Scan(&res.Votes, &res.Comments)
	return res, err
}

// Users returns profiles of everyone who voted or commented, ordered by name
func (s *SQLite) Users() ([]models.UserProfile, error) {
	rows, err := s.DB.Query(`SELECT user, SUM(votes), SUM(comments) FROM (
		SELECT user, 1 AS votes, 0 AS comments FROM votes
		UNION ALL
		SELECT user, 0, 1 FROM comments
	) GROUP BY user ORDER BY user`)
	if err != nil {
		return nil, errors.Wrap(err, "can't get users")
	}
	defer rows.Close() // nolint

	res := []models.UserProfile{}
	for rows.Next() {
		p := models.UserProfile{}
		if err = rows.Scan(&p.Name, &p.Votes, &p.Comments); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *SQLite) queryComments(q string, args ...interface{}) ([]models.Comment, error) {
	rows, err := s.DB.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "can't query comments")
	}
	defer rows.Close() // nolint

	var res []models.Comment
	for rows.Next() {
		c := models.Comment{}
		var date int64
		if err = rows.Scan(&c.ID, &c.ItemID, &c.User, &c.Title, &c.Content, &date); err != nil {
			return nil, err
		}
		c.Date = time.Unix(0, date)
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *SQLite) queryFeeds(q string, args ...interface{}) ([]models.Feed, error) {
	rows, err := s.DB.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "can't query feeds")
	}
	defer rows.Close() // nolint

	var res []models.Feed
	for rows.Next() {
		f := models.Feed{}
		if err = rows.Scan(&f.ID, &f.Source, &f.Key, &f.Title, &f.Chosen, &f.ItemCount); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (s *SQLite) queryItems(q string, args ...interface{}) ([]models.Item, error) {
	rows, err := s.DB.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "can't query items")
	}
	defer rows.Close() // nolint

	var res []models.Item
	for rows.Next() {
		i := models.Item{}
		if err = rows.Scan(&i.ID, &i.FeedID, &i.Key, &i.Title, &i.Description, &i.Picture); err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Package store implements persistence of feeds, items, comments and votes.
// BoltDB is the default embedded engine, SQLite is the alternative one, both satisfy Store.
package store

import (
	"encoding/binary"
	"os"
	"path"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/umputun/feed-hub/app/models"
)

// ErrNotFound returned for missing feeds and items
var ErrNotFound = errors.New("not found")

// Store is the common contract of storage engines
type Store interface {
	// Upsert finds or creates the feed by (source, key) and its items by (feed, key), all in one transaction.
	// The feed is always marked as chosen. Returns stored feed and the items created by this call.
	Upsert(feed models.Feed, items []models.Item) (models.Feed, []models.Item, error)
	Iterate(fn func(feed models.Feed) error) error
	Feeds(onlyChosen bool) ([]models.Feed, error)
	Feed(id int64) (models.Feed, error)
	SetChosen(id int64, chosen bool) error
	DeleteFeed(id int64) error
	FeedItems(feedID int64) ([]models.Item, error)
	LastItems(offset, limit int) ([]models.Item, error)
	Item(id int64) (models.Item, error)
	AddComment(c models.Comment) (models.Comment, error)
	Comments(itemID int64, limit int) ([]models.Comment, error)
	LastComments(limit int) ([]models.Comment, error)
	Vote(itemID int64, user string, up bool) error
	Votes(itemID int64) (up, down int, err error)
	Profile(user string) (models.UserProfile, error)
	Users() ([]models.UserProfile, error)
	Close() error
}

var (
	bucketFeeds        = []byte("feeds")         // feed id -> feed
	bucketFeedKeys     = []byte("feed_keys")     // source + 0x00 + key -> feed id
	bucketItems        = []byte("items")         // item id -> item
	bucketItemKeys     = []byte("item_keys")     // feed id + item key -> item id
	bucketComments     = []byte("comments")      // comment id -> comment
	bucketItemComments = []byte("item_comments") // item id + comment id -> nothing
	bucketVotes        = []byte("votes")         // item id + user -> "up" or "down"
)

// BoltDB store
type BoltDB struct {
	DB *bolt.DB
}

// NewBoltDB makes persistent boltdb based store, creates all buckets
func NewBoltDB(dbFile string) (*BoltDB, error) {
	log.Printf("[INFO] bolt (persistent) store, %s", dbFile)
	if err := os.MkdirAll(path.Dir(dbFile), 0700); err != nil {
		return nil, err
	}

	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: 1 * time.Second}) // nolint
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", dbFile)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketFeeds, bucketFeedKeys, bucketItems, bucketItemKeys,
			bucketComments, bucketItemComments, bucketVotes} {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return errors.Wrapf(e, "can't create bucket %s", b)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltDB{DB: db}, nil
}

// Close boltdb
func (b *BoltDB) Close() error {
	return b.DB.Close()
}

func itob(v int64) []byte {
	res := make([]byte, 8)
	binary.BigEndian.PutUint64(res, uint64(v))
	return res
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// compositeKey makes id-prefixed key, prefix scans by itob(id) find all entries of id
func compositeKey(id int64, suffix []byte) []byte {
	return append(itob(id), suffix...)
}

package store

import (
	"bytes"
	"encoding/json"
	"sort"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/umputun/feed-hub/app/models"
)

// Upsert saves feed and items, matching existing records by natural keys
func (b *BoltDB) Upsert(feed models.Feed, items []models.Item) (models.Feed, []models.Item, error) {
	var created []models.Item

	err := b.DB.Update(func(tx *bolt.Tx) error {
		feedKeys := tx.Bucket(bucketFeedKeys)
		feeds := tx.Bucket(bucketFeeds)

		natural := b.keyFeed(feed)
		if v := feedKeys.Get(natural); v != nil {
			feed.ID = btoi(v)
		} else {
			seq, e := feeds.NextSequence()
			if e != nil {
				return e
			}
			feed.ID = int64(seq)
			if e = feedKeys.Put(natural, itob(feed.ID)); e != nil {
				return e
			}
		}
		feed.Chosen = true
		feed.ItemCount = 0
		if e := putJSON(feeds, itob(feed.ID), feed); e != nil {
			return e
		}

		itemKeys := tx.Bucket(bucketItemKeys)
		itemsBkt := tx.Bucket(bucketItems)
		for _, item := range items {
			item.FeedID = feed.ID
			natural := compositeKey(feed.ID, []byte(item.Key))
			isNew := false
			if v := itemKeys.Get(natural); v != nil {
				item.ID = btoi(v)
			} else {
				seq, e := itemsBkt.NextSequence()
				if e != nil {
					return e
				}
				item.ID, isNew = int64(seq), true
				if e = itemKeys.Put(natural, itob(item.ID)); e != nil {
					return e
				}
			}
			if e := putJSON(itemsBkt, itob(item.ID), item); e != nil {
				return e
			}
			if isNew {
				created = append(created, item)
			}
		}
		return nil
	})
	if err != nil {
		return models.Feed{}, nil, errors.Wrapf(err, "can't save feed %s/%s", feed.Source, feed.Key)
	}

	log.Printf("[DEBUG] saved feed %s/%s, id=%d, %d items, %d new", feed.Source, feed.Key, feed.ID, len(items), len(created))
	return feed, created, nil
}

// Iterate calls fn for every feed, newest first. Stops on the first error returned by fn.
func (b *BoltDB) Iterate(fn func(feed models.Feed) error) error {
	return b.DB.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFeeds).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			feed := models.Feed{}
			if err := json.Unmarshal(v, &feed); err != nil {
				log.Printf("[WARN] failed to unmarshal, %v", err)
				continue
			}
			if err := fn(feed); err != nil {
				return err
			}
		}
		return nil
	})
}

// Feeds returns feeds with item counts, ordered by title
func (b *BoltDB) Feeds(onlyChosen bool) ([]models.Feed, error) {
	var res []models.Feed
	err := b.DB.View(func(tx *bolt.Tx) error {
		itemKeys := tx.Bucket(bucketItemKeys)
		return tx.Bucket(bucketFeeds).ForEach(func(k, v []byte) error {
			feed := models.Feed{}
			if err := json.Unmarshal(v, &feed); err != nil {
				return err
			}
			if onlyChosen && !feed.Chosen {
				return nil
			}
			feed.ItemCount = countPrefix(itemKeys, k)
			res = append(res, feed)
			return nil
		})
	})
	sort.SliceStable(res, func(i, j int) bool { return res[i].Title < res[j].Title })
	return res, err
}

// Feed returns feed by id
func (b *BoltDB) Feed(id int64) (models.Feed, error) {
	feed := models.Feed{}
	err := b.DB.View(func(tx *bolt.Tx) error {
		if err := getJSON(tx.Bucket(bucketFeeds), itob(id), &feed); err != nil {
			return err
		}
		feed.ItemCount = countPrefix(tx.Bucket(bucketItemKeys), itob(id))
		return nil
	})
	return feed, err
}

// SetChosen shows or hides the feed
func (b *BoltDB) SetChosen(id int64, chosen bool) error {
	return b.DB.Update(func(tx *bolt.Tx) error {
		feeds := tx.Bucket(bucketFeeds)
		feed := models.Feed{}
		if err := getJSON(feeds, itob(id), &feed); err != nil {
			return err
		}
		feed.Chosen = chosen
		return putJSON(feeds, itob(id), feed)
	})
}

// DeleteFeed removes the feed with its items, and comments and votes of those items
func (b *BoltDB) DeleteFeed(id int64) error {
	return b.DB.Update(func(tx *bolt.Tx) error {
		feeds := tx.Bucket(bucketFeeds)
		feed := models.Feed{}
		if err := getJSON(feeds, itob(id), &feed); err != nil {
			return err
		}

		itemKeys := tx.Bucket(bucketItemKeys)
		keys, ids := scanPrefix(itemKeys, itob(id))
		for i, k := range keys {
			if err := itemKeys.Delete(k); err != nil {
				return err
			}
			if err := deleteItem(tx, btoi(ids[i])); err != nil {
				return err
			}
		}

		if err := tx.Bucket(bucketFeedKeys).Delete(b.keyFeed(feed)); err != nil {
			return err
		}
		return feeds.Delete(itob(id))
	})
}

// FeedItems returns all items of the feed in the order they were added
func (b *BoltDB) FeedItems(feedID int64) ([]models.Item, error) {
	var res []models.Item
	err := b.DB.View(func(tx *bolt.Tx) error {
		_, ids := scanPrefix(tx.Bucket(bucketItemKeys), itob(feedID))
		sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i], ids[j]) < 0 })
		items := tx.Bucket(bucketItems)
		for _, id := range ids {
			item := models.Item{}
			if err := getJSON(items, id, &item); err != nil {
				return err
			}
			res = append(res, item)
		}
		return nil
	})
	return res, err
}

// LastItems returns page of the most recently added items of chosen feeds
func (b *BoltDB) LastItems(offset, limit int) ([]models.Item, error) {
	var res []models.Item
	err := b.DB.View(func(tx *bolt.Tx) error {
		feeds := tx.Bucket(bucketFeeds)
		chosen := map[int64]bool{}
		if err := feeds.ForEach(func(k, v []byte) error {
			feed := models.Feed{}
			if err := json.Unmarshal(v, &feed); err != nil {
				return err
			}
			chosen[feed.ID] = feed.Chosen
			return nil
		}); err != nil {
			return err
		}

		skipped := 0
		c := tx.Bucket(bucketItems).Cursor()
		for k, v := c.Last(); k != nil && len(res) < limit; k, v = c.Prev() {
			item := models.Item{}
			if err := json.Unmarshal(v, &item); err != nil {
				log.Printf("[WARN] failed to unmarshal, %v", err)
				continue
			}
			if !chosen[item.FeedID] {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			res = append(res, item)
		}
		return nil
	})
	return res, err
}

// Item returns item by id
func (b *BoltDB) Item(id int64) (models.Item, error) {
	item := models.Item{}
	err := b.DB.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketItems), itob(id), &item)
	})
	return item, err
}

func (b *BoltDB) keyFeed(f models.Feed) []byte {
	return []byte(f.Source + "\x00" + f.Key)
}

// deleteItem removes item record, its comments and votes
func deleteItem(tx *bolt.Tx, itemID int64) error {
	itemComments := tx.Bucket(bucketItemComments)
	keys, _ := scanPrefix(itemComments, itob(itemID))
	for _, k := range keys {
		if err := tx.Bucket(bucketComments).Delete(k[8:]); err != nil {
			return err
		}
		if err := itemComments.Delete(k); err != nil {
			return err
		}
	}

	votes := tx.Bucket(bucketVotes)
	keys, _ = scanPrefix(votes, itob(itemID))
	for _, k := range keys {
		if err := votes.Delete(k); err != nil {
			return err
		}
	}
	return tx.Bucket(bucketItems).Delete(itob(itemID))
}

// scanPrefix returns copies of keys and values starting with prefix
func scanPrefix(bkt *bolt.Bucket, prefix []byte) (keys, values [][]byte) {
	c := bkt.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		keys = append(keys, append([]byte{}, k...))
		values = append(values, append([]byte{}, v...))
	}
	return keys, values
}

func countPrefix(bkt *bolt.Bucket, prefix []byte) int {
	res := 0
	c := bkt.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		res++
	}
	return res
}

func putJSON(bkt *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bkt.Put(key, data)
}

func getJSON(bkt *bolt.Bucket, key []byte, v interface{}) error {
	data := bkt.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

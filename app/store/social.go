package store

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/umputun/feed-hub/app/models"
)

var (
	voteUp   = []byte("up")
	voteDown = []byte("down")
)

// AddComment saves comment for existing item, sets id and date
func (b *BoltDB) AddComment(c models.Comment) (models.Comment, error) {
	err := b.DB.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketItems).Get(itob(c.ItemID)) == nil {
			return ErrNotFound
		}
		comments := tx.Bucket(bucketComments)
		seq, err := comments.NextSequence()
		if err != nil {
			return err
		}
		c.ID = int64(seq)
		if c.Date.IsZero() {
			c.Date = time.Now()
		}
		if err = putJSON(comments, itob(c.ID), c); err != nil {
			return err
		}
		return tx.Bucket(bucketItemComments).Put(compositeKey(c.ItemID, itob(c.ID)), []byte{})
	})
	if err != nil {
		return models.Comment{}, errors.Wrapf(err, "can't add comment to item %d", c.ItemID)
	}
	return c, nil
}

// Comments returns up to limit latest comments of the item, newest first
func (b *BoltDB) Comments(itemID int64, limit int) ([]models.Comment, error) {
	var res []models.Comment
	err := b.DB.View(func(tx *bolt.Tx) error {
		prefix := itob(itemID)
		comments := tx.Bucket(bucketComments)
		c := tx.Bucket(bucketItemComments).Cursor()

		// seek past the last key with this prefix and walk back
		k, _ := c.Seek(itob(itemID + 1))
		if k == nil {
			k, _ = c.Last()
		} else {
			k, _ = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix) && len(res) < limit; k, _ = c.Prev() {
			comment := models.Comment{}
			if err := getJSON(comments, k[8:], &comment); err != nil {
				return err
			}
			res = append(res, comment)
		}
		return nil
	})
	return res, err
}

// LastComments returns up to limit latest comments of all items, newest first
func (b *BoltDB) LastComments(limit int) ([]models.Comment, error) {
	var res []models.Comment
	err := b.DB.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketComments).Cursor()
		for k, v := c.Last(); k != nil && len(res) < limit; k, v = c.Prev() {
			comment := models.Comment{}
			if err := json.Unmarshal(v, &comment); err != nil {
				return err
			}
			res = append(res, comment)
		}
		return nil
	})
	return res, err
}

// Vote sets user's vote on the item, replacing the previous one
func (b *BoltDB) Vote(itemID int64, user string, up bool) error {
	return b.DB.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketItems).Get(itob(itemID)) == nil {
			return ErrNotFound
		}
		val := voteDown
		if up {
			val = voteUp
		}
		return tx.Bucket(bucketVotes).Put(compositeKey(itemID, []byte(user)), val)
	})
}

// Votes returns number of positive and negative votes of the item
func (b *BoltDB) Votes(itemID int64) (up, down int, err error) {
	err = b.DB.View(func(tx *bolt.Tx) error {
		_, values := scanPrefix(tx.Bucket(bucketVotes), itob(itemID))
		for _, v := range values {
			if bytes.Equal(v, voteUp) {
				up++
				continue
			}
			down++
		}
		return nil
	})
	return up, down, err
}

// Profile returns counts of votes and comments made by user
func (b *BoltDB) Profile(user string) (models.UserProfile, error) {
	res := models.UserProfile{Name: user}
	err := b.DB.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketVotes).ForEach(func(k, _ []byte) error {
			if len(k) > 8 && string(k[8:]) == user {
				res.Votes++
			}
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketComments).ForEach(func(_, v []byte) error {
			c := models.Comment{}
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.User == user {
				res.Comments++
			}
			return nil
		})
	})
	return res, err
}

// Users returns profiles of everyone who voted or commented, ordered by name
func (b *BoltDB) Users() ([]models.UserProfile, error) {
	profiles := map[string]*models.UserProfile{}
	profile := func(user string) *models.UserProfile {
		p, ok := profiles[user]
		if !ok {
			p = &models.UserProfile{Name: user}
			profiles[user] = p
		}
		return p
	}

	err := b.DB.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketVotes).ForEach(func(k, _ []byte) error {
			if len(k) > 8 {
				profile(string(k[8:])).Votes++
			}
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketComments).ForEach(func(_, v []byte) error {
			c := models.Comment{}
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			profile(c.User).Comments++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	res := make([]models.UserProfile, 0, len(profiles))
	for _, p := range profiles {
		res = append(res, *p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/feed-hub/app/models"
)

func engines(t *testing.T) map[string]Store {
	dir := t.TempDir()
	bdb, err := NewBoltDB(filepath.Join(dir, "test.bdb"))
	require.NoError(t, err)
	sdb, err := NewSQLite(filepath.Join(dir, "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, bdb.Close())
		assert.NoError(t, sdb.Close())
	})
	return map[string]Store{"bolt": bdb, "sqlite": sdb}
}

func makeItems(n int, prefix string) []models.Item {
	res := make([]models.Item, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, models.Item{Key: fmt.Sprintf("%s%d", prefix, i), Title: fmt.Sprintf("title %d", i),
			Description: "desc", Picture: "https://example.com/pic.jpg"})
	}
	return res
}

func TestStore_UpsertIdempotent(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			feed, created, err := s.Upsert(models.Feed{Source: "yt", Key: "chan1", Title: "Channel"}, makeItems(15, "v"))
			require.NoError(t, err)
			assert.Equal(t, 15, len(created))
			assert.True(t, feed.Chosen)
			assert.NotZero(t, feed.ID)

			again, created, err := s.Upsert(models.Feed{Source: "yt", Key: "chan1", Title: "Channel renamed"}, makeItems(15, "v"))
			require.NoError(t, err)
			assert.Equal(t, 0, len(created))
			assert.Equal(t, feed.ID, again.ID)

			feeds, err := s.Feeds(false)
			require.NoError(t, err)
			require.Equal(t, 1, len(feeds))
			assert.Equal(t, "Channel renamed", feeds[0].Title)
			assert.Equal(t, 15, feeds[0].ItemCount)

			items, err := s.FeedItems(feed.ID)
			require.NoError(t, err)
			require.Equal(t, 15, len(items))
			assert.Equal(t, "v0", items[0].Key)
			assert.Equal(t, "v14", items[14].Key)
			assert.Equal(t, feed.ID, items[0].FeedID)
		})
	}
}

func TestStore_UpsertNewItemsAndUpdates(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			feed, _, err := s.Upsert(models.Feed{Source: "r", Key: "memes", Title: "memes"}, makeItems(3, "p"))
			require.NoError(t, err)

			items := makeItems(5, "p")
			items[0].Title = "changed"
			_, created, err := s.Upsert(feed, items[1:]) // p0 missing from reload
			require.NoError(t, err)
			require.Equal(t, 2, len(created))
			assert.Equal(t, "p3", created[0].Key)
			assert.Equal(t, "p4", created[1].Key)

			_, _, err = s.Upsert(feed, items[:1])
			require.NoError(t, err)

			stored, err := s.FeedItems(feed.ID)
			require.NoError(t, err)
			require.Equal(t, 5, len(stored), "items missing from a reload are kept")
			assert.Equal(t, "changed", stored[0].Title)
		})
	}
}

func TestStore_SameItemKeyInDifferentFeeds(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			f1, c1, err := s.Upsert(models.Feed{Source: "yt", Key: "a", Title: "a"}, makeItems(2, "k"))
			require.NoError(t, err)
			f2, c2, err := s.Upsert(models.Feed{Source: "yt", Key: "b", Title: "b"}, makeItems(2, "k"))
			require.NoError(t, err)
			assert.NotEqual(t, f1.ID, f2.ID)
			assert.Equal(t, 2, len(c1))
			assert.Equal(t, 2, len(c2))

			// same key with another source is another feed
			f3, _, err := s.Upsert(models.Feed{Source: "r", Key: "a", Title: "a"}, nil)
			require.NoError(t, err)
			assert.NotEqual(t, f1.ID, f3.ID)
		})
	}
}

func TestStore_ChosenAndLastItems(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			f1, _, err := s.Upsert(models.Feed{Source: "yt", Key: "a", Title: "b-title"}, makeItems(3, "a"))
			require.NoError(t, err)
			f2, _, err := s.Upsert(models.Feed{Source: "yt", Key: "b", Title: "a-title"}, makeItems(2, "b"))
			require.NoError(t, err)

			items, err := s.LastItems(0, 10)
			require.NoError(t, err)
			require.Equal(t, 5, len(items))
			assert.Equal(t, "b1", items[0].Key)
			assert.Equal(t, "a0", items[4].Key)

			items, err = s.LastItems(1, 2)
			require.NoError(t, err)
			require.Equal(t, 2, len(items))
			assert.Equal(t, "b0", items[0].Key)
			assert.Equal(t, "a2", items[1].Key)

			require.NoError(t, s.SetChosen(f2.ID, false))
			feeds, err := s.Feeds(true)
			require.NoError(t, err)
			require.Equal(t, 1, len(feeds))
			assert.Equal(t, f1.ID, feeds[0].ID)

			feeds, err = s.Feeds(false)
			require.NoError(t, err)
			require.Equal(t, 2, len(feeds))
			assert.Equal(t, "a-title", feeds[0].Title)
			assert.False(t, feeds[0].Chosen)

			items, err = s.LastItems(0, 10)
			require.NoError(t, err)
			assert.Equal(t, 3, len(items))

			// loading again makes it chosen
			f2, _, err = s.Upsert(models.Feed{Source: "yt", Key: "b", Title: "a-title"}, nil)
			require.NoError(t, err)
			assert.True(t, f2.Chosen)
			f, err := s.Feed(f2.ID)
			require.NoError(t, err)
			assert.True(t, f.Chosen)
			assert.Equal(t, 2, f.ItemCount)

			var visited []string
			err = s.Iterate(func(f models.Feed) error {
				visited = append(visited, f.Key)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a"}, visited)

			assert.True(t, errors.Is(s.SetChosen(999, true), ErrNotFound))
		})
	}
}

func TestStore_CommentsAndVotes(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			_, items, err := s.Upsert(models.Feed{Source: "yt", Key: "a", Title: "a"}, makeItems(2, "a"))
			require.NoError(t, err)
			item := items[0]

			ts := time.Date(2021, 5, 1, 10, 0, 0, 0, time.UTC)
			for i := 0; i < 3; i++ {
				c, e := s.AddComment(models.Comment{ItemID: item.ID, User: "dev", Title: fmt.Sprintf("c%d", i),
					Content: "content", Date: ts.Add(time.Duration(i) * time.Minute)})
				require.NoError(t, e)
				assert.NotZero(t, c.ID)
			}
			_, err = s.AddComment(models.Comment{ItemID: 999, User: "dev"})
			assert.True(t, errors.Is(err, ErrNotFound))

			comments, err := s.Comments(item.ID, 2)
			require.NoError(t, err)
			require.Equal(t, 2, len(comments))
			assert.Equal(t, "c2", comments[0].Title)
			assert.Equal(t, "c1", comments[1].Title)
			assert.True(t, ts.Add(2*time.Minute).Equal(comments[0].Date))

			comments, err = s.Comments(items[1].ID, 20)
			require.NoError(t, err)
			assert.Empty(t, comments)

			require.NoError(t, s.Vote(item.ID, "dev", true))
			require.NoError(t, s.Vote(item.ID, "dev", true))
			require.NoError(t, s.Vote(item.ID, "other", true))
			up, down, err := s.Votes(item.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, up)
			assert.Equal(t, 0, down)

			require.NoError(t, s.Vote(item.ID, "dev", false))
			up, down, err = s.Votes(item.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, up)
			assert.Equal(t, 1, down)

			assert.True(t, errors.Is(s.Vote(999, "dev", true), ErrNotFound))

			prof, err := s.Profile("dev")
			require.NoError(t, err)
			assert.Equal(t, models.UserProfile{Name: "dev", Votes: 1, Comments: 3}, prof)

			prof, err = s.Profile("nobody")
			require.NoError(t, err)
			assert.Equal(t, models.UserProfile{Name: "nobody"}, prof)
		})
	}
}

func TestStore_UsersAndLastComments(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			users, err := s.Users()
			require.NoError(t, err)
			assert.Empty(t, users)

			_, items, err := s.Upsert(models.Feed{Source: "yt", Key: "a", Title: "a"}, makeItems(2, "a"))
			require.NoError(t, err)

			for i := 0; i < 12; i++ {
				user := "dev"
				if i%3 == 0 {
					user = "bob"
				}
				_, err = s.AddComment(models.Comment{ItemID: items[i%2].ID, User: user, Title: fmt.Sprintf("c%d", i)})
				require.NoError(t, err)
			}
			require.NoError(t, s.Vote(items[0].ID, "dev", true))
			require.NoError(t, s.Vote(items[1].ID, "dev", false))
			require.NoError(t, s.Vote(items[1].ID, "zed", true))

			comments, err := s.LastComments(10)
			require.NoError(t, err)
			require.Equal(t, 10, len(comments))
			assert.Equal(t, "c11", comments[0].Title)
			assert.Equal(t, "c2", comments[9].Title)

			users, err = s.Users()
			require.NoError(t, err)
			assert.Equal(t, []models.UserProfile{
				{Name: "bob", Votes: 0, Comments: 4},
				{Name: "dev", Votes: 2, Comments: 8},
				{Name: "zed", Votes: 1, Comments: 0},
			}, users)
		})
	}
}

func TestStore_DeleteFeed(t *testing.T) {
	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			f1, items, err := s.Upsert(models.Feed{Source: "yt", Key: "a", Title: "a"}, makeItems(2, "a"))
			require.NoError(t, err)
			f2, others, err := s.Upsert(models.Feed{Source: "yt", Key: "b", Title: "b"}, makeItems(2, "b"))
			require.NoError(t, err)

			_, err = s.AddComment(models.Comment{ItemID: items[0].ID, User: "dev", Title: "t"})
			require.NoError(t, err)
			require.NoError(t, s.Vote(items[0].ID, "dev", true))
			require.NoError(t, s.Vote(others[0].ID, "dev", true))

			require.NoError(t, s.DeleteFeed(f1.ID))
			_, err = s.Feed(f1.ID)
			assert.True(t, errors.Is(err, ErrNotFound))
			_, err = s.Item(items[0].ID)
			assert.True(t, errors.Is(err, ErrNotFound))
			assert.True(t, errors.Is(s.DeleteFeed(f1.ID), ErrNotFound))

			prof, err := s.Profile("dev")
			require.NoError(t, err)
			assert.Equal(t, 1, prof.Votes)
			assert.Equal(t, 0, prof.Comments)

			_, err = s.Item(others[0].ID)
			require.NoError(t, err)
			f, err := s.Feed(f2.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, f.ItemCount)

			// re-added feed starts fresh
			_, created, err := s.Upsert(models.Feed{Source: "yt", Key: "a", Title: "a"}, makeItems(2, "a"))
			require.NoError(t, err)
			assert.Equal(t, 2, len(created))
		})
	}
}

// Package proc provides feed loading and the background loop
// refreshing stored feeds and notifying about new items
package proc

import (
	"context"
	"regexp"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/feed-hub/app/models"
)

// Notifier is interface to send new items somewhere, i.e. telegram channel
type Notifier interface {
	Send(channel string, f models.Feed, item models.Item) error
}

// FeedsStore iterates over stored feeds
type FeedsStore interface {
	Iterate(func(feed models.Feed) error) error
}

// Processor refreshes chosen feeds periodically
type Processor struct {
	Conf     *Conf
	Loader   *Loader
	Store    FeedsStore
	Notifier Notifier // optional
	Channel  string   // notification channel
}

// Conf for config yml
type Conf struct {
	APIKeys map[string]string `yaml:"api_keys"`
	Filter  Filter            `yaml:"filter"`
	System  struct {
		UpdateInterval time.Duration `yaml:"update"`
		Concurrent     int           `yaml:"concurrent"`
		Timeout        time.Duration `yaml:"timeout"`
		ResolveTTL     time.Duration `yaml:"resolve_ttl"`
		ResolveDelay   time.Duration `yaml:"resolve_delay"`
	} `yaml:"system"`
}

// Filter defines which new items are not sent to notifier
type Filter struct {
	Title string `yaml:"title"`
}

// SetDefaults fills missing system values, update interval 0 stays as is and disables the processor
func (c *Conf) SetDefaults() {
	if c.System.Concurrent == 0 {
		c.System.Concurrent = 4
	}
	if c.System.Timeout == 0 {
		c.System.Timeout = 30 * time.Second
	}
	if c.System.ResolveTTL == 0 {
		c.System.ResolveTTL = 30 * time.Minute
	}
	if c.System.ResolveDelay < time.Second {
		c.System.ResolveDelay = time.Second
	}
}

// Do runs refresh loop until ctx canceled, concurrency limited by p.Conf.System.Concurrent
func (p *Processor) Do(ctx context.Context) {
	p.Conf.SetDefaults()
	if p.Conf.System.UpdateInterval <= 0 {
		log.Printf("[INFO] refresh disabled")
		return
	}
	log.Printf("[INFO] activate processor, every %v", p.Conf.System.UpdateInterval)

	for {
		p.refresh(ctx)
		log.Printf("[DEBUG] refresh completed. Next iteration after: '%v'", p.Conf.System.UpdateInterval)

		select {
		case <-ctx.Done():
			log.Printf("[INFO] processor stopped, %v", ctx.Err())
			return
		case <-time.After(p.Conf.System.UpdateInterval):
		}
	}
}

// refresh reloads every chosen feed once. Feeds are collected first,
// reloads write to the store and can't run inside its iteration.
func (p *Processor) refresh(ctx context.Context) {
	var feeds []models.Feed
	err := p.Store.Iterate(func(f models.Feed) error {
		if f.Chosen {
			feeds = append(feeds, f)
		}
		return nil
	})
	if err != nil {
		log.Printf("[WARN] can't list feeds, %v", err)
		return
	}

	swg := syncs.NewSizedGroup(p.Conf.System.Concurrent, syncs.Preemptive, syncs.Context(ctx))
	for _, f := range feeds {
		f := f
		swg.Go(func(ctx context.Context) {
			log.Printf("[DEBUG] refresh feed %s/%s", f.Source, f.Key)
			created, err := p.Loader.Reload(ctx, f)
			if err != nil {
				log.Printf("[WARN] failed to refresh %s/%s, %v", f.Source, f.Key, err)
				return
			}
			p.notify(f, created)
		})
	}
	swg.Wait()
}

func (p *Processor) notify(f models.Feed, items []models.Item) {
	if p.Notifier == nil || p.Channel == "" {
		return
	}
	for _, item := range items {
		skip, err := p.Conf.Filter.skip(item)
		if err != nil {
			log.Printf("[WARN] bad filter %q, %v", p.Conf.Filter.Title, err)
		}
		if skip {
			log.Printf("[DEBUG] skip %s/%s %q by filter", f.Source, item.Key, item.Title)
			continue
		}
		if err := p.Notifier.Send(p.Channel, f, item); err != nil {
			log.Printf("[WARN] failed to send %s/%s to channel=%s, %v", f.Source, item.Key, p.Channel, err)
		}
	}
}

func (filter *Filter) skip(item models.Item) (bool, error) {
	if filter.Title != "" {
		matched, err := regexp.MatchString(filter.Title, item.Title)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

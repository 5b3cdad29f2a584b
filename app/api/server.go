// Package api provides rest-like server listing feeds and items, loading new feeds,
// and collecting comments and votes. Responses are json, or xml with ?format=xml
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth_chi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"

	"github.com/umputun/feed-hub/app/feed"
	"github.com/umputun/feed-hub/app/models"
	"github.com/umputun/feed-hub/app/store"
)

const (
	itemsPerPage    = 10
	commentsPerItem = 20
	commentsInRSS   = 10
	maxCommentTitle = 64
	maxCommentBody  = 256
)

// Loader loads feed by source and key
type Loader interface {
	Load(ctx context.Context, source, key string) (*models.Feed, error)
}

// Server is a rest server for feeds and items
type Server struct {
	Version string
	Store   store.Store
	Loader  Loader
	Sources *feed.Registry
	URL     string  // public root url, used for links in rss
	Limit   float64 // requests per second per ip, default 10

	httpServer *http.Server
	lock       sync.Mutex
	policy     *bluemonday.Policy
}

// Run starts http server for API on the port and blocks until ctx canceled
func (s *Server) Run(ctx context.Context, port int) error {
	log.Printf("[INFO] starting server on port %d", port)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		s.lock.Lock()
		defer s.lock.Unlock()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] http shutdown error, %s", err)
		}
		log.Printf("[DEBUG] http server shutdown completed")
	}()

	err := s.httpServer.ListenAndServe()
	log.Printf("[WARN] http server terminated, %s", err)
	if err != http.ErrServerClosed {
		return errors.Wrap(err, "server failed")
	}
	return nil
}

func (s *Server) routes() chi.Router {
	s.policy = bluemonday.UGCPolicy()
	limit := s.Limit
	if limit == 0 {
		limit = 10
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, rest.Recoverer(log.Default()))
	router.Use(middleware.Throttle(1000), middleware.Timeout(60*time.Second))
	router.Use(rest.AppInfo("feed-hub", "umputun", s.Version), rest.Ping)
	router.Use(tollbooth_chi.LimitHandler(tollbooth.NewLimiter(limit, nil)))
	router.Use(logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/sources", s.getSourcesCtrl)
		r.Get("/feeds", s.getFeedsCtrl)
		r.Post("/feeds", s.loadFeedCtrl)
		r.Get("/feed/{id}", s.getFeedCtrl)
		r.Put("/feed/{id}/chosen", s.setChosenCtrl)
		r.Delete("/feed/{id}", s.deleteFeedCtrl)
		r.Get("/items", s.getItemsCtrl)
		r.Get("/item/{id}", s.getItemCtrl)
		r.Post("/item/{id}/comment", s.addCommentCtrl)
		r.Post("/item/{id}/vote", s.voteCtrl)
		r.Get("/users", s.getUsersCtrl)
		r.Get("/user/{name}", s.getUserCtrl)
	})
	router.Get("/comments.rss", s.commentsRSSCtrl)

	return router
}

// GET /api/v1/sources
func (s *Server) getSourcesCtrl(w http.ResponseWriter, r *http.Request) {
	res := sourcesView{}
	for _, a := range s.Sources.List() {
		res.Sources = append(res.Sources, sourceView{ID: a.ID(), Name: a.Name(), Icon: a.Icon()})
	}
	s.respond(w, r, http.StatusOK, res)
}

// GET /api/v1/feeds?all=true
func (s *Server) getFeedsCtrl(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.Store.Feeds(r.URL.Query().Get("all") != "true")
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get feeds")
		return
	}
	res := feedsView{Feeds: make([]feedView, 0, len(feeds))}
	for _, f := range feeds {
		res.Feeds = append(res.Feeds, s.feedView(f))
	}
	s.respond(w, r, http.StatusOK, res)
}

// POST /api/v1/feeds {"source": "yt", "key": "UC300utwSVAYOoRLEqmsprfg"}
func (s *Server) loadFeedCtrl(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Source string `json:"source"`
		Key    string `json:"key"`
	}{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode request")
		return
	}
	if req.Source == "" || req.Key == "" {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, errors.New("source and key required"), "bad request")
		return
	}

	f, err := s.Loader.Load(r.Context(), req.Source, req.Key)
	if err != nil {
		// any load failure is reported as not found, the reason goes to the log
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, "can't load feed")
		return
	}
	stored, err := s.Store.Feed(f.ID)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get loaded feed")
		return
	}
	s.respond(w, r, http.StatusCreated, s.feedView(stored))
}

// GET /api/v1/feed/{id}
func (s *Server) getFeedCtrl(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	f, err := s.Store.Feed(id)
	if err != nil {
		s.storeError(w, r, err, "can't get feed")
		return
	}
	items, err := s.Store.FeedItems(id)
	if err != nil {
		s.storeError(w, r, err, "can't get feed items")
		return
	}

	res := feedDetailView{feedView: s.feedView(f), Items: make([]itemView, 0, len(items))}
	for _, it := range items {
		iv, e := s.itemView(f, it)
		if e != nil {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, e, "can't get votes")
			return
		}
		res.Items = append(res.Items, iv)
	}
	s.respond(w, r, http.StatusOK, res)
}

// PUT /api/v1/feed/{id}/chosen {"chosen": false}
func (s *Server) setChosenCtrl(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	req := struct {
		Chosen bool `json:"chosen"`
	}{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode request")
		return
	}
	if err := s.Store.SetChosen(id, req.Chosen); err != nil {
		s.storeError(w, r, err, "can't update feed")
		return
	}
	s.respond(w, r, http.StatusOK, statusView{Status: "ok", ID: id})
}

// DELETE /api/v1/feed/{id}
func (s *Server) deleteFeedCtrl(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	if err := s.Store.DeleteFeed(id); err != nil {
		s.storeError(w, r, err, "can't delete feed")
		return
	}
	s.respond(w, r, http.StatusOK, statusView{Status: "deleted", ID: id})
}

// GET /api/v1/items?page=1
func (s *Server) getItemsCtrl(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, errors.Errorf("bad page %q", p), "bad request")
			return
		}
		page = n
	}

	items, err := s.Store.LastItems((page-1)*itemsPerPage, itemsPerPage)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get items")
		return
	}

	feeds := map[int64]models.Feed{}
	res := itemsView{Page: page, Items: make([]itemView, 0, len(items))}
	for _, it := range items {
		f, ok := feeds[it.FeedID]
		if !ok {
			if f, err = s.Store.Feed(it.FeedID); err != nil {
				s.storeError(w, r, err, "can't get feed of item")
				return
			}
			feeds[it.FeedID] = f
		}
		iv, e := s.itemView(f, it)
		if e != nil {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, e, "can't get votes")
			return
		}
		res.Items = append(res.Items, iv)
	}
	s.respond(w, r, http.StatusOK, res)
}

// GET /api/v1/item/{id}
func (s *Server) getItemCtrl(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	item, err := s.Store.Item(id)
	if err != nil {
		s.storeError(w, r, err, "can't get item")
		return
	}
	f, err := s.Store.Feed(item.FeedID)
	if err != nil {
		s.storeError(w, r, err, "can't get feed of item")
		return
	}

	iv, err := s.itemView(f, item)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get votes")
		return
	}
	res := itemDetailView{itemView: iv, FeedTitle: f.Title}
	if res.Comments, err = s.Store.Comments(id, commentsPerItem); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get comments")
		return
	}
	for i := range res.Comments {
		res.Comments[i].Content = s.policy.Sanitize(res.Comments[i].Content)
	}
	s.respond(w, r, http.StatusOK, res)
}

// POST /api/v1/item/{id}/comment {"user": "dev", "title": "nice", "content": "some text"}
func (s *Server) addCommentCtrl(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	req := struct {
		User    string `json:"user"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode request")
		return
	}

	switch {
	case req.User == "":
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, errors.New("empty user"), "bad comment")
		return
	case len([]rune(req.Title)) > maxCommentTitle:
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest,
			errors.Errorf("title longer than %d characters", maxCommentTitle), "bad comment")
		return
	case len([]rune(req.Content)) > maxCommentBody:
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest,
			errors.Errorf("content longer than %d characters", maxCommentBody), "bad comment")
		return
	}

	c, err := s.Store.AddComment(models.Comment{ItemID: id, User: req.User, Title: req.Title, Content: req.Content})
	if err != nil {
		s.storeError(w, r, err, "can't add comment")
		return
	}
	s.respond(w, r, http.StatusCreated, commentView{Comment: c})
}

// POST /api/v1/item/{id}/vote {"user": "dev", "vote": "up"}
func (s *Server) voteCtrl(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}
	req := struct {
		User string `json:"user"`
		Vote string `json:"vote"`
	}{}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't decode request")
		return
	}
	if req.User == "" || (req.Vote != "up" && req.Vote != "down") {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest,
			errors.Errorf("bad vote %q by %q", req.Vote, req.User), "bad vote")
		return
	}

	if err := s.Store.Vote(id, req.User, req.Vote == "up"); err != nil {
		s.storeError(w, r, err, "can't vote")
		return
	}
	res := votesView{ItemID: id}
	var err error
	if res.Up, res.Down, err = s.Store.Votes(id); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get votes")
		return
	}
	s.respond(w, r, http.StatusOK, res)
}

// GET /api/v1/users
func (s *Server) getUsersCtrl(w http.ResponseWriter, r *http.Request) {
	users, err := s.Store.Users()
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get users")
		return
	}
	s.respond(w, r, http.StatusOK, usersView{Users: users})
}

// GET /comments.rss
func (s *Server) commentsRSSCtrl(w http.ResponseWriter, r *http.Request) {
	comments, err := s.Store.LastComments(commentsInRSS)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get comments")
		return
	}

	res := rssView{Version: "2.0", Channel: rssChannel{
		Title:       "Comments",
		Link:        s.URL + "/",
		Description: "New comments published to the app",
		Items:       make([]rssItem, 0, len(comments)),
	}}
	if len(comments) > 0 {
		res.Channel.LastBuildDate = comments[0].Date.Format(time.RFC1123Z)
	}
	for _, c := range comments {
		link := fmt.Sprintf("%s/api/v1/item/%d", s.URL, c.ItemID)
		res.Channel.Items = append(res.Channel.Items, rssItem{
			Title:       c.Title,
			Link:        link,
			Description: s.policy.Sanitize(c.Content),
			Author:      c.User,
			PubDate:     c.Date.Format(time.RFC1123Z),
			GUID:        fmt.Sprintf("%s#comment-%d", link, c.ID),
		})
	}
	render.Status(r, http.StatusOK)
	render.XML(w, r, res)
}

// GET /api/v1/user/{name}
func (s *Server) getUserCtrl(w http.ResponseWriter, r *http.Request) {
	prof, err := s.Store.Profile(chi.URLParam(r, "name"))
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "can't get user")
		return
	}
	s.respond(w, r, http.StatusOK, userView{UserProfile: prof})
}

// respond renders v as xml if requested with ?format=xml, as json otherwise
func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	render.Status(r, code)
	if r.URL.Query().Get("format") == "xml" {
		render.XML(w, r, v)
		return
	}
	render.JSON(w, r, v)
}

func (s *Server) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "bad id")
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	code := http.StatusInternalServerError
	if errors.Is(err, store.ErrNotFound) {
		code = http.StatusNotFound
	}
	rest.SendErrorJSON(w, r, log.Default(), code, err, msg)
}

func (s *Server) feedView(f models.Feed) feedView {
	return feedView{ID: f.ID, Source: f.Source, Key: f.Key, Title: f.Title, Chosen: f.Chosen, ItemCount: f.ItemCount,
		Link: s.Sources.FeedURL(f.Source, f.Key), Icon: s.Sources.Icon(f.Source)}
}

func (s *Server) itemView(f models.Feed, it models.Item) (itemView, error) {
	res := itemView{ID: it.ID, FeedID: it.FeedID, Key: it.Key, Title: it.Title,
		Description: s.policy.Sanitize(it.Description), Picture: it.Picture,
		Link: s.Sources.ItemURL(f.Source, f.Key, it.Key)}
	var err error
	res.Up, res.Down, err = s.Store.Votes(it.ID)
	return res, err
}

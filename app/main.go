package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-pkgz/lcw"
	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/umputun/feed-hub/app/api"
	"github.com/umputun/feed-hub/app/feed"
	"github.com/umputun/feed-hub/app/proc"
	"github.com/umputun/feed-hub/app/store"
)

type options struct {
	DB    string `short:"c" long:"db" env:"FH_DB" default:"var/feed-hub.bdb" description:"db file"`
	Store string `long:"store" env:"FH_STORE" choice:"bolt" choice:"sqlite" default:"bolt" description:"storage engine"` // nolint
	Conf  string `short:"f" long:"conf" env:"FH_CONF" default:"feed-hub.yml" description:"config file (yml)"`
	Port  int    `short:"p" long:"port" env:"FH_PORT" default:"8080" description:"http server port"`
	URL   string `long:"url" env:"FH_URL" default:"http://localhost:8080" description:"public url of the server"`

	Timeout        time.Duration `long:"timeout" env:"FH_TIMEOUT" description:"http client timeout, overrides config"`
	UpdateInterval time.Duration `long:"update-interval" env:"UPDATE_INTERVAL" description:"refresh interval, overrides config"`

	TelegramServer  string        `long:"telegram_server" env:"TELEGRAM_SERVER" default:"https://api.telegram.org" description:"telegram bot api server"`
	TelegramToken   string        `long:"telegram_token" env:"TELEGRAM_TOKEN" description:"telegram token"`
	TelegramChannel string        `long:"telegram_chan" env:"TELEGRAM_CHAN" description:"telegram channel for new items"`
	TelegramTimeout time.Duration `long:"telegram_timeout" env:"TELEGRAM_TIMEOUT" default:"1m" description:"telegram timeout"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("feed-hub %s\n", revision)
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	setupLog(opts.Dbg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { // catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	conf, err := loadConfig(opts.Conf)
	if err != nil {
		log.Printf("[WARN] can't load config %s, %v", opts.Conf, err)
		conf = &proc.Conf{}
	}
	if opts.Timeout > 0 {
		conf.System.Timeout = opts.Timeout
	}
	if opts.UpdateInterval > 0 {
		conf.System.UpdateInterval = opts.UpdateInterval
	}
	conf.SetDefaults()

	db, err := makeStore(opts.Store, opts.DB)
	if err != nil {
		return errors.Wrapf(err, "can't open db %s", opts.DB)
	}
	defer func() {
		if e := db.Close(); e != nil {
			log.Printf("[WARN] can't close db, %v", e)
		}
	}()

	client := &http.Client{Timeout: conf.System.Timeout}
	sources := feed.DefaultRegistry(feed.Options{APIKeys: conf.APIKeys, Client: client, ResolveDelay: conf.System.ResolveDelay})

	cache, err := lcw.NewExpirableCache(lcw.MaxKeys(1000), lcw.TTL(conf.System.ResolveTTL))
	if err != nil {
		return errors.Wrap(err, "can't make resolver cache")
	}
	loader := &proc.Loader{Sources: sources, Fetcher: &feed.Fetcher{Client: client}, Store: db, Cache: cache}

	p := &proc.Processor{Conf: conf, Loader: loader, Store: db}
	if opts.TelegramToken != "" && opts.TelegramChannel != "" {
		tg, e := proc.NewTelegramClient(opts.TelegramToken, opts.TelegramServer, opts.TelegramTimeout, sources)
		if e != nil {
			return errors.Wrap(e, "failed to initialize telegram client")
		}
		p.Notifier, p.Channel = tg, opts.TelegramChannel
	}
	stopProcessor := runProcessor(ctx, p)
	defer stopProcessor() // before db close

	server := api.Server{
		Version: revision,
		Store:   db,
		Loader:  loader,
		Sources: sources,
		URL:     strings.TrimSuffix(opts.URL, "/"),
	}
	return server.Run(ctx, opts.Port)
}

// runProcessor starts refresh loop, returned func stops it and waits for the running refresh
func runProcessor(ctx context.Context, p *proc.Processor) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Do(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func makeStore(engine, dbFile string) (store.Store, error) {
	if engine == "sqlite" {
		return store.NewSQLite(dbFile)
	}
	return store.NewBoltDB(dbFile)
}

func loadConfig(fname string) (res *proc.Conf, err error) {
	res = &proc.Conf{}
	data, err := ioutil.ReadFile(fname) // nolint
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, res); err != nil {
		return nil, err
	}

	return res, nil
}

func setupLog(dbg bool) {
	if dbg {
		log.Setup(log.Debug, log.CallerFile, log.Msec, log.LevelBraces)
		return
	}
	log.Setup(log.Msec, log.LevelBraces)
}

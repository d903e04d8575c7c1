package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/axonhttp/axon/app/mgmt"
	"github.com/axonhttp/axon/app/proxy"
	"github.com/axonhttp/axon/app/rules"
	"github.com/axonhttp/axon/app/server"
	"github.com/axonhttp/axon/lib/middleware"
	"github.com/axonhttp/axon/lib/web"
)

var opts struct {
	Listen       string   `short:"l" long:"listen" env:"LISTEN" default:"127.0.0.1:8080" description:"listen on host:port"`
	MaxSize      int64    `long:"max" env:"MAX_SIZE" default:"64000" description:"max request size"`
	GzipEnabled  bool     `short:"g" long:"gzip" env:"GZIP" description:"enable response compression"`
	ProxyHeaders []string `short:"x" long:"header" env:"HEADER" description:"outgoing headers, Name:Value"`
	Signature    bool     `long:"signature" env:"SIGNATURE" description:"enable app signature headers"`

	Timeouts struct {
		ReadHeader time.Duration `long:"read-header" env:"READ_HEADER" default:"5s" description:"read header server timeout"`
		Write      time.Duration `long:"write" env:"WRITE" default:"30s" description:"write server timeout"`
		Idle       time.Duration `long:"idle" env:"IDLE" default:"30s" description:"idle server timeout"`
		Dial       time.Duration `long:"dial" env:"DIAL" default:"10s" description:"backend dial timeout"`
		RespHeader time.Duration `long:"resp-header" env:"RESP_HEADER" default:"5s" description:"backend response header timeout"`
	} `group:"timeout" namespace:"timeout" env-namespace:"TIMEOUT"`

	Assets struct {
		Location string `short:"a" long:"location" env:"LOCATION" default:"" description:"assets location"`
		Index    string `long:"index" env:"INDEX" default:"index.html" description:"directory index file"`
		CacheAge int    `long:"cache" env:"CACHE" default:"0" description:"assets cache max-age, seconds"`
	} `group:"assets" namespace:"assets" env-namespace:"ASSETS"`

	Static struct {
		Enabled bool     `long:"enabled" env:"ENABLED" description:"enable static rules provider"`
		Rules   []string `long:"rule" env:"RULES" env-delim:";" description:"routing rules, pattern,target[,ping]"`
	} `group:"static" namespace:"static" env-namespace:"STATIC"`

	File struct {
		Enabled       bool          `long:"enabled" env:"ENABLED" description:"enable file rules provider"`
		Name          string        `long:"name" env:"NAME" default:"axon.yml" description:"rules file name"`
		CheckInterval time.Duration `long:"interval" env:"INTERVAL" default:"3s" description:"file check interval"`
		Delay         time.Duration `long:"delay" env:"DELAY" default:"500ms" description:"file event delay"`
	} `group:"file" namespace:"file" env-namespace:"FILE"`

	Proxy struct {
		WSEnabled       bool     `long:"ws" env:"WS" description:"proxy websocket upgrades"`
		ChangeOrigin    bool     `long:"change-origin" env:"CHANGE_ORIGIN" description:"set Host to the backend origin"`
		Insecure        bool     `long:"insecure" env:"INSECURE" description:"skip backend certificate check"`
		KeepAlive       bool     `long:"keep-alive" env:"KEEP_ALIVE" description:"reuse backend connections"`
		NoXFwd          bool     `long:"no-xfwd" env:"NO_XFWD" description:"disable X-Forwarded-* headers"`
		HostRewrite     string   `long:"host-rewrite" env:"HOST_REWRITE" description:"rewrite redirect Location host"`
		AutoRewrite     bool     `long:"auto-rewrite" env:"AUTO_REWRITE" description:"rewrite redirect Location to the request host"`
		ProtocolRewrite string   `long:"protocol-rewrite" env:"PROTOCOL_REWRITE" description:"rewrite redirect Location scheme, http or https"`
		CookieDomains   []string `long:"cookie-domain" env:"COOKIE_DOMAIN" env-delim:";" description:"Set-Cookie domain rewrites, from:to"`
		CookiePaths     []string `long:"cookie-path" env:"COOKIE_PATH" env-delim:";" description:"Set-Cookie path rewrites, from:to"`
	} `group:"proxy" namespace:"proxy" env-namespace:"PROXY"`

	Auth struct {
		Enabled bool     `long:"enabled" env:"ENABLED" description:"enable basic auth"`
		Realm   string   `long:"realm" env:"REALM" default:"axon" description:"basic auth realm"`
		Users   []string `long:"user" env:"USERS" env-delim:";" description:"allowed users, user:bcrypt-hash"`
	} `group:"auth" namespace:"auth" env-namespace:"AUTH"`

	Mgmt struct {
		Enabled bool   `long:"enabled" env:"ENABLED" description:"enable management server"`
		Listen  string `long:"listen" env:"LISTEN" default:"127.0.0.1:8081" description:"management listen on host:port"`
		LowCard bool   `long:"low-card" env:"LOW_CARD" description:"route patterns instead of raw paths in metrics labels"`
	} `group:"mgmt" namespace:"mgmt" env-namespace:"MGMT"`

	Throttle struct {
		System int      `long:"system" env:"SYSTEM" default:"0" description:"total requests/sec limit, 0 disables"`
		Burst  int      `long:"burst" env:"BURST" default:"0" description:"burst on top of the rate, 0 for rate"`
		Hosts  []string `long:"host" env:"HOSTS" env-delim:";" description:"per-host limits, host:rate"`
	} `group:"throttle" namespace:"throttle" env-namespace:"THROTTLE"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable access logging"`
		FileName   string `long:"file" env:"FILE" default:"access.log" description:"access log file name"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max access log size, megabytes"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"max access log backups"`
		StdOut     bool   `long:"stdout" env:"STDOUT" description:"log requests to stdout"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	ErrorReport struct {
		Enabled  bool   `long:"enabled" env:"ENABLED" description:"enable html error pages"`
		Template string `long:"template" env:"TEMPLATE" default:"" description:"error page template file"`
	} `group:"error" namespace:"error" env-namespace:"ERROR"`

	HealthInterval time.Duration `long:"health-interval" env:"HEALTH_INTERVAL" default:"0" description:"backend ping interval, 0 disables"`
	Dbg            bool          `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("axon %s\n", revision)

	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	p.SubcommandsOptional = true
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(1)
	}

	setupLog(opts.Dbg)
	catchSignal()
	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		log.Fatalf("[ERROR] proxy server failed, %v", err)
	}
	log.Printf("[INFO] proxy server terminated")
}

func run(ctx context.Context) error {
	providers, err := makeProviders()
	if err != nil {
		return fmt.Errorf("failed to make providers: %w", err)
	}
	if len(providers) == 0 && opts.Assets.Location == "" {
		return fmt.Errorf("nothing to serve, enable a rules provider or assets")
	}

	svc := rules.NewService(providers, opts.File.CheckInterval)
	if len(providers) > 0 {
		go func() {
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[ERROR] rules service terminated, %v", err)
			}
		}()
		if opts.HealthInterval > 0 {
			svc.ScheduleHealthCheck(ctx, opts.HealthInterval)
		}
	}

	var metrics *mgmt.Metrics
	if opts.Mgmt.Enabled {
		metrics = mgmt.NewMetrics(mgmt.MetricsConfig{LowCardinality: opts.Mgmt.LowCard})
		mgmtServer := &mgmt.Server{Listen: opts.Mgmt.Listen, Informer: svc, Version: revision, Metrics: metrics}
		go func() {
			if err := mgmtServer.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[WARN] management server terminated, %v", err)
			}
		}()
	}

	reporter := makeReporter()

	px := &server.Http{
		Address:       opts.Listen,
		MaxBodySize:   opts.MaxSize,
		ProxyHeaders:  opts.ProxyHeaders,
		Version:       revision,
		Signature:     opts.Signature,
		StdOutEnabled: opts.Logger.StdOut,
		Timeouts: server.Timeouts{
			ReadHeader: opts.Timeouts.ReadHeader,
			Write:      opts.Timeouts.Write,
			Idle:       opts.Timeouts.Idle,
		},
		Handler:  makeApp(svc, metrics, reporter).Handler(),
		Health:   svc,
		Reporter: reporter,
	}
	if opts.Logger.Enabled {
		px.AccessLog = &lumberjack.Logger{
			Filename:   opts.Logger.FileName,
			MaxSize:    opts.Logger.MaxSize,
			MaxBackups: opts.Logger.MaxBackups,
			Compress:   true,
		}
	}
	if th := makeThrottler(); th != nil {
		px.Throttler = th
	}
	return px.Run(ctx)
}

// makeApp assembles the middleware pipeline: observability first, then
// compression and auth, assets as the fallback behind the proxy rules.
func makeApp(svc *rules.Service, metrics *mgmt.Metrics, reporter *server.ErrorReporter) *web.App {
	app := web.New()
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	if metrics != nil {
		app.Use(metrics.Middleware())
	}
	if opts.GzipEnabled {
		app.Use(middleware.Compress(middleware.CompressOptions{}))
	}
	if opts.Auth.Enabled {
		app.Use(middleware.BasicAuth(opts.Auth.Realm, opts.Auth.Users))
	}
	app.Use(rulesHandler(svc, makeBackendPool(reporter)))
	if opts.Assets.Location != "" {
		app.Use(middleware.Static(middleware.StaticOptions{
			Root:   opts.Assets.Location,
			Index:  opts.Assets.Index,
			MaxAge: opts.Assets.CacheAge,
		}))
	}
	return app
}

// rulesHandler resolves the destination for each request and delegates to the
// cached proxy for that backend. Unmatched requests fall through, assets or
// the 404 finalizer pick them up.
func rulesHandler(svc *rules.Service, pool *backendPool) web.Handler {
	return func(c *web.Context, next web.Next) error {
		res, ok := svc.Resolve(c.Path())
		if !ok {
			return next()
		}
		u, err := url.Parse(res.Target)
		if err != nil || u.Host == "" {
			return web.NewError(http.StatusBadGateway, "invalid destination for %s", c.Path())
		}
		p, err := pool.get(u)
		if err != nil {
			return web.WrapError(http.StatusBadGateway, err, "cannot build proxy")
		}
		c.Request.SetPath(u.Path)
		return p.Handler()(c, next)
	}
}

// backendPool caches one proxy per backend origin so rule targets sharing a
// backend also share its transport.
type backendPool struct {
	mu      sync.Mutex
	proxies map[string]*proxy.Proxy
	build   func(target *url.URL) (*proxy.Proxy, error)
}

func (b *backendPool) get(target *url.URL) (*proxy.Proxy, error) {
	key := target.Scheme + "://" + target.Host
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.proxies[key]; ok {
		return p, nil
	}
	p, err := b.build(target)
	if err != nil {
		return nil, err
	}
	b.proxies[key] = p
	return p, nil
}

func makeBackendPool(reporter *server.ErrorReporter) *backendPool {
	var errHandler func(c *web.Context, err error)
	if opts.ErrorReport.Enabled {
		errHandler = func(c *web.Context, err error) {
			log.Printf("[WARN] proxy error for %s: %v", c.Path(), err)
			c.Respond = false
			reporter.Report(c.Writer(), http.StatusBadGateway)
		}
	}

	return &backendPool{
		proxies: map[string]*proxy.Proxy{},
		build: func(target *url.URL) (*proxy.Proxy, error) {
			return proxy.New(proxy.Options{
				Target:              &url.URL{Scheme: target.Scheme, Host: target.Host},
				WS:                  opts.Proxy.WSEnabled,
				ChangeOrigin:        opts.Proxy.ChangeOrigin,
				XFwd:                !opts.Proxy.NoXFwd,
				Secure:              !opts.Proxy.Insecure,
				KeepAlive:           opts.Proxy.KeepAlive,
				HostRewrite:         opts.Proxy.HostRewrite,
				AutoRewrite:         opts.Proxy.AutoRewrite,
				ProtocolRewrite:     opts.Proxy.ProtocolRewrite,
				CookieDomainRewrite: parseRewrites(opts.Proxy.CookieDomains),
				CookiePathRewrite:   parseRewrites(opts.Proxy.CookiePaths),
				Timeout:             opts.Timeouts.Dial,
				ProxyTimeout:        opts.Timeouts.RespHeader,
				ErrorHandler:        errHandler,
			})
		},
	}
}

func makeProviders() ([]rules.Provider, error) {
	var res []rules.Provider
	if opts.Static.Enabled {
		res = append(res, &rules.Static{Rules: opts.Static.Rules})
	}
	if opts.File.Enabled {
		res = append(res, &rules.File{
			FileName:      opts.File.Name,
			CheckInterval: opts.File.CheckInterval,
			Delay:         opts.File.Delay,
		})
	}
	return res, nil
}

func makeThrottler() *mgmt.Throttler {
	if opts.Throttle.System <= 0 && len(opts.Throttle.Hosts) == 0 {
		return nil
	}
	cfg := mgmt.ThrottleConfig{
		Global:  mgmt.LimitConfig{Enabled: opts.Throttle.System > 0, Rate: opts.Throttle.System, Burst: opts.Throttle.Burst},
		PerHost: map[string]mgmt.LimitConfig{},
	}
	for _, h := range opts.Throttle.Hosts {
		host, rateStr, found := strings.Cut(h, ":")
		if !found {
			log.Printf("[WARN] skipped bad throttle limit %q, expected host:rate", h)
			continue
		}
		rate, err := strconv.Atoi(rateStr)
		if err != nil || rate <= 0 {
			log.Printf("[WARN] skipped bad throttle rate in %q", h)
			continue
		}
		cfg.PerHost[host] = mgmt.LimitConfig{Enabled: true, Rate: rate, Burst: opts.Throttle.Burst}
	}
	return mgmt.NewThrottler(cfg)
}

func makeReporter() *server.ErrorReporter {
	reporter := &server.ErrorReporter{Nice: opts.ErrorReport.Enabled}
	if opts.ErrorReport.Template != "" {
		data, err := os.ReadFile(opts.ErrorReport.Template) // nolint:gosec // path from the operator
		if err != nil {
			log.Printf("[WARN] can't read error template %s: %v", opts.ErrorReport.Template, err)
			return reporter
		}
		reporter.Template = string(data)
	}
	return reporter
}

// parseRewrites turns from:to pairs into a rewrite map, a bare value becomes
// the wildcard replacement.
func parseRewrites(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	res := map[string]string{}
	for _, pair := range pairs {
		from, to, found := strings.Cut(pair, ":")
		if !found {
			res["*"] = from
			continue
		}
		res[from] = to
	}
	return res
}

func setupLog(dbg bool) {
	logOpts := []log.Option{log.Msec, log.LevelBraces, log.StackTraceOnError}
	if dbg {
		logOpts = []log.Option{log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces, log.StackTraceOnError}
	}
	log.SetupStdLogger(logOpts...)
}

func catchSignal() {
	// catch SIGQUIT and print stack traces
	sigChan := make(chan os.Signal, 1)
	go func() {
		for range sigChan {
			log.Print("[INFO] SIGQUIT detected")
			stacktrace := make([]byte, 8192)
			length := runtime.Stack(stacktrace, true)
			if length > 8192 {
				length = 8192
			}
			stdlog.Println(string(stacktrace[:length]))
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT)
}

package main

import (
	"crypto/tls"
	"strings"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dashboard/api"
	"dashboard/bills"
	"dashboard/client"
	"dashboard/config"
	"dashboard/session"
	"dashboard/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	rc := redis.NewClient(redisOptions(cfg.RedisConnectionString))
	sessions := storage.NewSessionStore(rc, cfg.SessionTTL)

	var jwks *keyfunc.JWKS
	if cfg.JWKSURL != "" {
		jwks, err = keyfunc.Get(cfg.JWKSURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
	}
	var secret []byte
	if cfg.TokenSecret != "" {
		secret = []byte(cfg.TokenSecret)
	}
	decoder := session.NewDecoder(jwks, secret)
	if !decoder.Verifying() {
		logger.Warn("token signatures are not verified, set JWKS_URL or TOKEN_SECRET")
	}

	res := client.New(cfg.ResourceBaseURL, client.TokenVariant(cfg.TokenVariant), logger)
	billsSvc := bills.NewService(res, bills.PeriodsForYears(cfg.BillsPeriods), logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	shell := api.NewShell(res, sessions, decoder, billsSvc, logger, api.Options{
		CookieSecure:   cfg.CookieSecure,
		SessionTTL:     cfg.SessionTTL,
		RequestTimeout: cfg.RequestTimeout,
	})
	shell.Register(e, prometheus.NewRegistry())

	logger.WithFields(log.Fields{
		"addr":          cfg.ListenAddr,
		"resource_base": cfg.ResourceBaseURL,
		"token_variant": cfg.TokenVariant,
	}).Info("dashboard starting")
	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}

// redisOptions accepts a redis:// URL or the "host:port,password=...,ssl=True"
// form used by managed Redis connection strings.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

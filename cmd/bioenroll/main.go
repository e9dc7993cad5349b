package main

import (
	"context"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
	"github.com/hrix/bioenroll/internal/pkg/bioservice"
	"github.com/hrix/bioenroll/internal/pkg/capture"
	"github.com/hrix/bioenroll/internal/pkg/enrollment"
	"github.com/hrix/bioenroll/internal/pkg/postgres"
	"github.com/hrix/bioenroll/internal/pkg/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	data := &bioservice.Data{}
	data.Port = cfg.GetInt("port")
	data.AuthSecret = cfg.GetString("auth.secret")

	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	addDBLog(dbConfig)

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	if err := waitForDB(ctx, db); err != nil {
		goapp.Log.Fatal().Err(err).Msg("db not ready")
	}
	data.DB = db

	helper, err := capture.NewHelper(cfg.GetString("helper.path"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init capture helper")
	}
	data.Capturer = helper

	data.Sessions = session.NewMemStore()

	data.Enroller, err = enrollment.NewService(&enrollment.ServiceData{
		DB:                   db,
		Capturer:             helper,
		Sessions:             data.Sessions,
		Strategy:             cfg.GetString("enroll.strategy"),
		RejectFingerMismatch: cfg.GetBool("enroll.rejectFingerMismatch"),
		Retention:            cfg.GetDuration("enroll.retention"),
	})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init enrollment service")
	}

	err = bioservice.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
}

func waitForDB(ctx context.Context, db *postgres.DB) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	return backoff.Retry(func() error {
		ctxInt, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := db.Live(ctxInt); err != nil {
			goapp.Log.Warn().Err(err).Msg("waiting for db")
			return err
		}
		return nil
	}, bo)
}

func addDBLog(dbConfig *pgxpool.Config) {
	logFunc := goapp.Log.Info().Msg
	dbConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		logFunc("before connect")
		return nil
	}
	dbConfig.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		logFunc("after connect")
		return nil
	}
	dbConfig.BeforeAcquire = func(ctx context.Context, c *pgx.Conn) bool {
		logFunc("before acquire")
		return true
	}
	dbConfig.AfterRelease = func(c *pgx.Conn) bool {
		logFunc("after release")
		return true
	}
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
     __    _                           ____
    / /_  (_)___  ___  ____  _________/ / /
   / __ \/ / __ \/ _ \/ __ \/ ___/ __ \/ /
  / /_/ / / /_/ /  __/ / / / /  / /_/ / /
 /_.___/_/\____/\___/_/ /_/_/   \____/_/   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("fingerprint enrollment service"))
}

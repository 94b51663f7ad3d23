package main

import (
	"context"

	"github.com/airenas/async-api/pkg/miniofs"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/carevox/carevox/internal/pkg/commit"
	"github.com/carevox/carevox/internal/pkg/extractor"
	"github.com/carevox/carevox/internal/pkg/postgres"
	"github.com/carevox/carevox/internal/pkg/review"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	data := &review.Data{}
	data.Port = cfg.GetInt("port")
	var err error

	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	goapp.Log.Info().Int32("max_conn", dbConfig.MaxConns).Int32("min_conn", dbConfig.MinConns).Msg("db info")

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}

	data.DB = db
	data.RecDB = db

	data.Loader, err = miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init file loader")
	}

	data.Extractor, err = extractor.NewClient(cfg.GetString("extractor.url"), cfg.GetInt64("extractor.concurrency"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init extractor")
	}

	data.Committer, err = commit.NewEngine(db)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init commit engine")
	}

	data.MsgSender, err = postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}

	err = review.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
    ______                 _    __
   / ____/___ _________   | |  / /___  _  __
  / /   / __ ` + "`" + `/ ___/ _ \  | | / / __ \| |/_/
 / /___/ /_/ / /  /  __/  | |/ / /_/ />  <
 \____/\__,_/_/   \___/   |___/\____/_/|_|

                   _
   ________ _   __(_)__ _      __
  / ___/ _ \ | / / / _ \ | /| / /
 / /  /  __/ |/ / /  __/ |/ |/ /
/_/   \___/|___/_/\___/|__/|__/     v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/carevox/carevox"))
}

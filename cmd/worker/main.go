package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airenas/async-api/pkg/miniofs"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/carevox/carevox/internal/pkg/consul"
	"github.com/carevox/carevox/internal/pkg/extractor"
	"github.com/carevox/carevox/internal/pkg/postgres"
	"github.com/carevox/carevox/internal/pkg/transcriber"
	"github.com/carevox/carevox/internal/pkg/utils"
	"github.com/carevox/carevox/internal/pkg/worker"
	capi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"
)

func main() {
	goapp.StartWithDefault()
	cfg := goapp.Config

	data := &worker.ServiceData{}
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

	data.GueClient, err = gue.NewClient(pgxv5.NewConnPool(dbPool))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue")
	}
	data.WorkerCount = cfg.GetInt("worker.count")
	data.Testing = cfg.GetBool("worker.testing")
	data.TargetLang = cfg.GetString("worker.targetLang")
	data.StuckDuration = cfg.GetDuration("worker.stuckDuration")
	data.MsgSender, err = postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}
	data.Filer, err = miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init filer")
	}
	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}

	data.DB = db
	data.ReviewDB = db

	data.Extractor, err = extractor.NewClient(cfg.GetString("extractor.url"), cfg.GetInt64("extractor.concurrency"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init extractor")
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	if srvName := cfg.GetString("consul.service"); srvName != "" {
		goapp.Log.Info().Str("service", srvName).Msg("transcriber from consul")
		consulCfg := capi.DefaultConfig()
		if addr := cfg.GetString("consul.address"); addr != "" {
			consulCfg.Address = addr
		}
		provider, err := consul.NewProvider(consulCfg, srvName, cfg.GetInt64("transcriber.concurrency"))
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init consul provider")
		}
		if _, err := provider.StartRegistryLoop(ctx, cfg.GetDuration("consul.checkInterval")); err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't start consul registry loop")
		}
		data.Transcriber = provider
	} else {
		data.Transcriber, err = transcriber.NewClient(cfg.GetString("transcriber.url"), cfg.GetInt64("transcriber.concurrency"))
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init transcriber")
		}
	}

	printBanner()

	go utils.RunPerfEndpoint()

	doneCh, err := worker.StartWorkerService(ctx, data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start worker service")
	}
	/////////////////////// Waiting for terminate
	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		goapp.Log.Info().Msg("Got exit signal")
	case <-doneCh:
		goapp.Log.Info().Msg("Service exit")
	}
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
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

                      __
 _      ______  _____/ /_____  _____
| | /| / / __ \/ ___/ //_/ _ \/ ___/
| |/ |/ / /_/ / /  / ,< /  __/ /
|__/|__/\____/_/  /_/|_|\___/_/      v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/carevox/carevox"))
}

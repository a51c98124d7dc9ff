package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"

	"github.com/inkwell-social/inkwell/fakedata"
	"github.com/inkwell-social/inkwell/graph"
	"github.com/inkwell-social/inkwell/models"
	"github.com/inkwell-social/inkwell/readcache"
	"github.com/inkwell-social/inkwell/server"
	"github.com/inkwell-social/inkwell/util/cliutil"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "inkwell",
		Usage:   "social blogging service daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db-url",
			Usage:   "database connection string",
			Value:   "sqlite://./data/inkwell/inkwell.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "enable debug logging",
			EnvVars: []string{"DEBUG"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		recountFollowsCmd,
		genFakeDataCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the inkwell API server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "api-listen",
			Value:   ":4989",
			EnvVars: []string{"INKWELL_API_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection string for the read cache, empty runs cache in-process only",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:     "jwt-secret",
			Usage:    "secret used to sign session tokens",
			EnvVars:  []string{"INKWELL_JWT_SECRET"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "payment-secret",
			Usage:   "payment provider secret for checkout signature verification",
			EnvVars: []string{"INKWELL_PAYMENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "google-client-id",
			EnvVars: []string{"GOOGLE_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "google-client-secret",
			EnvVars: []string{"GOOGLE_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "google-redirect-url",
			EnvVars: []string{"GOOGLE_REDIRECT_URL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		cliutil.SetupSlog(cctx.Bool("debug"))

		db, err := cliutil.SetupDatabase(cctx.String("db-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		var cache *readcache.Cache
		if redisURL := cctx.String("redis-url"); redisURL != "" {
			cache, err = readcache.New(redisURL, 10_000, time.Minute)
			if err != nil {
				return err
			}
		} else {
			slog.Warn("no redis-url configured, read cache is in-process only")
			cache = readcache.NewLocal(10_000, time.Minute)
		}

		srv, err := server.NewServer(db, cache, server.Config{
			JWTSigningKey:      []byte(cctx.String("jwt-secret")),
			PaymentSecret:      cctx.String("payment-secret"),
			GoogleClientID:     cctx.String("google-client-id"),
			GoogleClientSecret: cctx.String("google-client-secret"),
			GoogleRedirectURL:  cctx.String("google-redirect-url"),
		})
		if err != nil {
			return err
		}

		errc := make(chan error, 1)
		go func() {
			errc <- srv.RunAPI(cctx.String("api-listen"))
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errc:
			return err
		case sig := <-quit:
			slog.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

var recountFollowsCmd = &cli.Command{
	Name:  "recount-follows",
	Usage: "rebuild the denormalized follow counters from the edge table",
	Action: func(cctx *cli.Context) error {
		cliutil.SetupSlog(cctx.Bool("debug"))

		db, err := cliutil.SetupDatabase(cctx.String("db-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		start := time.Now()
		g := graph.NewGraph(db)
		if err := g.Recount(cctx.Context); err != nil {
			return err
		}

		slog.Info("follow counters rebuilt", "took", time.Since(start))
		return nil
	},
}

var genFakeDataCmd = &cli.Command{
	Name:  "gen-fake-data",
	Usage: "seed the database with generated users, posts, comments and follows",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "celebs",
			Value: 5,
		},
		&cli.IntFlag{
			Name:  "regulars",
			Value: 50,
		},
	},
	Action: func(cctx *cli.Context) error {
		cliutil.SetupSlog(cctx.Bool("debug"))

		db, err := cliutil.SetupDatabase(cctx.String("db-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}

		if err := db.AutoMigrate(
			&models.User{},
			&models.Category{},
			&models.Post{},
			&models.Comment{},
			&models.FollowRecord{},
			&models.PaymentRecord{},
		); err != nil {
			return err
		}

		opts := fakedata.DefaultGenOpts()
		opts.NumCelebs = cctx.Int("celebs")
		opts.NumRegulars = cctx.Int("regulars")

		return fakedata.Seed(cctx.Context, db, opts)
	},
}

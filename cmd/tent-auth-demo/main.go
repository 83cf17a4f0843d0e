package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tent/tent-go/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"
)

var version = versioninfo.Short()

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "tent-auth-demo",
		Usage:   "example web app which signs users in with their Tent entity",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log verbosity level (eg: warn, info, debug)",
				EnvVars: []string{"TENTAUTH_LOG_LEVEL", "LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log output format (text or json)",
				EnvVars: []string{"TENTAUTH_LOG_FMT", "LOG_FMT"},
			},
		},
		Before: func(cctx *cli.Context) error {
			_, err := cliutil.SetupSlog(cliutil.LogOptions{
				LogLevel:  cctx.String("log-level"),
				LogFormat: cctx.String("log-format"),
			})
			return err
		},
	}

	app.Commands = []*cli.Command{
		&cli.Command{
			Name:   "serve",
			Usage:  "run the demo web server",
			Action: runServe,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "bind",
					Usage:   "local IP/port to bind to",
					Value:   ":8080",
					EnvVars: []string{"TENTAUTH_BIND"},
				},
				&cli.StringFlag{
					Name:    "public-url",
					Usage:   "public base URL of this app, used to build the OAuth redirect URI",
					Value:   "http://localhost:8080",
					EnvVars: []string{"TENTAUTH_PUBLIC_URL"},
				},
				&cli.StringFlag{
					Name:     "session-secret",
					Usage:    "random string used to sign and encrypt session cookies",
					Required: true,
					EnvVars:  []string{"TENTAUTH_SESSION_SECRET"},
				},
				&cli.StringFlag{
					Name:    "session-backend",
					Usage:   "where auth flow state is kept between redirect and callback: cookie, memory, or redis",
					Value:   "cookie",
					EnvVars: []string{"TENTAUTH_SESSION_BACKEND"},
				},
				&cli.StringFlag{
					Name:    "redis-url",
					Usage:   "redis connection URL, for the redis session backend and app registration cache",
					EnvVars: []string{"TENTAUTH_REDIS_URL"},
				},
				&cli.StringFlag{
					Name:    "database-url",
					Usage:   "database for persisting app registrations (sqlite:// or postgresql://)",
					Value:   "sqlite://data/tent-auth-demo/apps.sqlite",
					EnvVars: []string{"TENTAUTH_DATABASE_URL", "DATABASE_URL"},
				},
				&cli.StringFlag{
					Name:    "app-name",
					Usage:   "name of the app, as registered with Tent servers",
					Value:   "Tent Auth Demo",
					EnvVars: []string{"TENTAUTH_APP_NAME"},
				},
				&cli.StringFlag{
					Name:    "app-icon",
					Usage:   "optional path to an icon image uploaded when registering the app",
					EnvVars: []string{"TENTAUTH_APP_ICON"},
				},
				&cli.StringSliceFlag{
					Name:    "scopes",
					Usage:   "scopes requested when registering the app",
					EnvVars: []string{"TENTAUTH_SCOPES"},
				},
				&cli.StringSliceFlag{
					Name:    "read-types",
					Usage:   "post types the app requests read access to",
					Value:   cli.NewStringSlice("https://tent.io/types/status/v0#"),
					EnvVars: []string{"TENTAUTH_READ_TYPES"},
				},
				&cli.DurationFlag{
					Name:    "state-ttl",
					Usage:   "maximum time between redirect and callback (0 for no limit)",
					Value:   15 * time.Minute,
					EnvVars: []string{"TENTAUTH_STATE_TTL"},
				},
				&cli.DurationFlag{
					Name:    "http-timeout",
					Usage:   "timeout for requests to Tent servers",
					Value:   20 * time.Second,
					EnvVars: []string{"TENTAUTH_HTTP_TIMEOUT"},
				},
				&cli.BoolFlag{
					Name:    "http-retries",
					Usage:   "retry failed requests to Tent servers",
					EnvVars: []string{"TENTAUTH_HTTP_RETRIES"},
				},
				&cli.BoolFlag{
					Name:    "public-only",
					Usage:   "refuse to connect to private or loopback network addresses",
					Value:   true,
					EnvVars: []string{"TENTAUTH_PUBLIC_ONLY"},
				},
				&cli.StringFlag{
					Name:    "otel-exporter-otlp-endpoint",
					Usage:   "OTLP endpoint for trace export",
					EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
				},
				&cli.StringFlag{
					Name:    "env",
					Usage:   "deployment environment name, attached to traces",
					Value:   "dev",
					EnvVars: []string{"ENVIRONMENT"},
				},
			},
		},
		&cli.Command{
			Name:  "version",
			Usage: "print version",
			Action: func(cctx *cli.Context) error {
				fmt.Println(version)
				return nil
			},
		},
	}

	return app.Run(args)
}

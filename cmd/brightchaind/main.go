// Command brightchaind sweeps expired blocks from a brightchain block store
// at the configured interval until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/brightchain/brightchain/config"
	"github.com/brightchain/brightchain/gc"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[brightchaind] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "brightchaind"
	app.Usage = "sweep expired blocks from a brightchain block store"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "config, c",
			Value:     os.Getenv(config.EnvVar),
			Usage:     "The path to the config file.",
			TakesFile: true,
		},
		cli.DurationFlag{
			Name:  "interval, i",
			Usage: "The time between sweeps. Overrides sweep_interval in the config file.",
		},
		cli.StringSliceFlag{
			Name: "latest",
			Usage: "A correlation id whose latest version is never swept. " +
				"This flag may be specified multiple times.",
		},
		cli.BoolFlag{
			Name:  "once",
			Usage: "Sweep once and exit.",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func run(c *cli.Context) error {
	confPath := c.String("config")
	if confPath == "" {
		return errors.New("config file not set")
	}
	conf, err := config.LoadFile(confPath)
	if err != nil {
		return errors.Wrap(err, "loading config")
	}

	var latest []uuid.UUID
	for _, s := range c.StringSlice("latest") {
		id, err := uuid.Parse(s)
		if err != nil {
			return errors.Wrapf(err, "parsing correlation id %s", s)
		}
		latest = append(latest, id)
	}

	interval := conf.Sweep()
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := conf.Logger()
	m, err := conf.OpenManager(ctx, log)
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer m.Close()

	log.WithFields(logrus.Fields{
		"root":      m.RootID(),
		"namespace": m.Namespace(),
		"interval":  interval,
	}).Info("opened store")

	if c.Bool("once") {
		k := gc.NewMapKeep()
		if err = gc.ProtectLatest(ctx, k, m, latest...); err != nil {
			return err
		}
		start := time.Now()
		n, err := gc.Run(ctx, m, m.Now(), k)
		if err != nil {
			return err
		}
		log.WithField("dropped", n).WithField("elapsed", time.Since(start)).Info("swept")
		return nil
	}

	coll, err := gc.NewCollector(gc.CollectorConfig{
		Manager:  m,
		Interval: interval,
		Latest:   latest,
		Logger:   log,
		Swept: func(n int, err error) {
			if err == nil {
				log.WithField("dropped", n).Info("swept")
			}
		},
	})
	if err != nil {
		return err
	}

	err = coll.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}

// Command brightchain stores and retrieves sources in a brightchain block store.
//
// Usage:
//
//	brightchain [-config FILE] SUBCOMMAND [ARGS]
//
// The config file defaults to the value of $BRIGHTCHAIN_CONFIG.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"time"

	"github.com/bobg/subcmd"
	"github.com/sirupsen/logrus"

	"github.com/brightchain/brightchain/cache"
	"github.com/brightchain/brightchain/config"
)

type maincmd struct {
	conf *config.Config
	m    *cache.Manager
	in   io.Reader
	out  io.Writer
}

func main() {
	confPath := flag.String("config", os.Getenv(config.EnvVar), "path to config file")
	flag.Parse()

	if *confPath == "" {
		logrus.Fatal("Config file not set")
	}

	conf, err := config.LoadFile(*confPath)
	if err != nil {
		logrus.Fatalf("Loading config: %s", err)
	}

	var (
		ctx = context.Background()
		log = conf.Logger()
	)

	m, err := conf.OpenManager(ctx, log)
	if err != nil {
		log.Fatalf("Opening store: %s", err)
	}

	err = subcmd.Run(ctx, maincmd{conf: conf, m: m, in: os.Stdin, out: os.Stdout}, flag.Args())
	if cerr := m.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"checkpoint", c.checkpoint, nil,
		"expire", c.expire, subcmd.Params(
			"through", subcmd.String, "", "RFC3339 time through which to expire blocks (default: now)",
		),
		"extend", c.extend, nil,
		"get", c.get, subcmd.Params(
			"manifest", subcmd.String, "", "hash of the manifest block of the source to get",
			"source", subcmd.String, "", "hash of the source to get",
			"correlation", subcmd.String, "", "correlation id of the source to get (latest version)",
		),
		"put", c.put, subcmd.Params(
			"correlation", subcmd.String, "", "correlation id of the source this is a new version of",
			"keep", subcmd.Duration, time.Duration(0), "how long to keep the stored blocks (default: forever)",
			"size", subcmd.String, "", "block size (default: from config)",
			"tuples", subcmd.Int, 0, "tuple count (default: from config)",
			"private", subcmd.Bool, false, "mark the source private",
			"txn", subcmd.Bool, false, "store the source in a single transaction",
		),
		"recover", c.recover, nil,
		"root", c.root, nil,
		"serve", c.serve, subcmd.Params(
			"addr", subcmd.String, "localhost:7070", "address to listen on",
		),
		"stat", c.stat, nil,
	)
}

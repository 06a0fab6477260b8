package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/brighten"
)

func (c maincmd) put(ctx context.Context, corrstr string, keep time.Duration, sizestr string, tuples int, private, txn bool, _ []string) error {
	size, err := c.conf.Size()
	if err != nil {
		return err
	}
	if sizestr != "" {
		size, err = brightchain.ParseBlockSize(sizestr)
		if err != nil {
			return errors.Wrap(err, "parsing -size")
		}
	}
	k := c.conf.TupleCount
	if tuples != 0 {
		k = tuples
	}

	opts := []brighten.Option{brighten.BlockSize(size), brighten.TupleCount(k)}
	if keep > 0 {
		opts = append(opts, brighten.KeepUntil(c.m.Now().Add(keep)))
	}
	if private {
		opts = append(opts, brighten.Private())
	}
	if txn {
		opts = append(opts, brighten.Transactional())
	}
	if corrstr != "" {
		id, err := uuid.Parse(corrstr)
		if err != nil {
			return errors.Wrap(err, "parsing -correlation")
		}
		handle, err := c.m.GetCblByCorrelation(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "getting latest version of %s", id)
		}
		older, err := c.m.Manifest(ctx, handle.ManifestHash)
		if err != nil {
			return errors.Wrapf(err, "getting manifest %s", handle.ManifestHash)
		}
		opts = append(opts, brighten.NewVersionOf(older))
	}

	start := time.Now()
	man, handle, err := brighten.Write(ctx, c.m, c.in, opts...)
	if err != nil {
		return errors.Wrap(err, "storing stdin")
	}

	c.m.Logger().WithFields(logrus.Fields{
		"bytes":   man.TotalLength,
		"blocks":  len(man.Blocks),
		"elapsed": time.Since(start),
	}).Info("stored source")

	fmt.Fprintf(c.out, "manifest %s\nsource %s\ncorrelation %s\n", handle.ManifestHash, handle.SourceDataHash, man.CorrelationID)
	return nil
}

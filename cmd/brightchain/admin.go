package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/gc"
)

func parseHashArg(args []string) (brightchain.Hash, error) {
	if len(args) < 1 {
		return brightchain.Hash{}, errors.New("missing block hash")
	}
	h, err := brightchain.HashFromHex(args[0])
	return h, errors.Wrapf(err, "parsing hash %s", args[0])
}

func (c maincmd) stat(ctx context.Context, args []string) error {
	h, err := parseHashArg(args)
	if err != nil {
		return err
	}
	md, err := c.m.Metadata(ctx, h)
	if err != nil {
		return errors.Wrapf(err, "getting metadata for %s", h)
	}

	fmt.Fprintf(c.out, "id %s\n", md.ID)
	fmt.Fprintf(c.out, "kind %s\n", md.Kind)
	fmt.Fprintf(c.out, "size %s\n", md.Size)
	fmt.Fprintf(c.out, "bytes %d\n", md.Contract.ByteCount)
	fmt.Fprintf(c.out, "requested %s\n", md.Contract.RequestTime.Format(time.RFC3339))
	if md.Contract.KeepUntilAtLeast.IsZero() {
		fmt.Fprintln(c.out, "keep forever")
	} else {
		fmt.Fprintf(c.out, "keep until %s\n", md.Contract.KeepUntilAtLeast.Format(time.RFC3339))
	}
	fmt.Fprintf(c.out, "redundancy %s\n", md.Contract.Redundancy)
	fmt.Fprintf(c.out, "private %v\n", md.Contract.PrivateEncrypted)
	return nil
}

func (c maincmd) extend(ctx context.Context, args []string) error {
	h, err := parseHashArg(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("missing duration")
	}
	d, err := time.ParseDuration(args[1])
	if err != nil {
		return errors.Wrapf(err, "parsing duration %s", args[1])
	}

	b, err := c.m.Get(ctx, h)
	if err != nil {
		return errors.Wrapf(err, "getting block %s", h)
	}
	b, err = c.m.ExtendStorage(ctx, b, c.m.Now().Add(d), nil)
	if err != nil {
		return errors.Wrapf(err, "extending storage of %s", h)
	}
	fmt.Fprintf(c.out, "keep until %s\n", b.Contract.KeepUntilAtLeast.Format(time.RFC3339))
	return nil
}

func (c maincmd) expire(ctx context.Context, throughstr string, _ []string) error {
	through := c.m.Now()
	if throughstr != "" {
		var err error
		through, err = time.Parse(time.RFC3339, throughstr)
		if err != nil {
			return errors.Wrap(err, "parsing -through")
		}
	}
	n, err := gc.Run(ctx, c.m, through, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "dropped %d blocks\n", n)
	return nil
}

func (c maincmd) checkpoint(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("missing checkpoint file")
	}
	f, err := os.Create(args[0])
	if err != nil {
		return errors.Wrapf(err, "creating %s", args[0])
	}
	if err = c.m.Checkpoint(ctx, f); err != nil {
		f.Close()
		return errors.Wrap(err, "writing checkpoint")
	}
	return f.Close()
}

func (c maincmd) recover(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("missing checkpoint file")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "opening %s", args[0])
	}
	defer f.Close()
	return errors.Wrap(c.m.Recover(ctx, f), "recovering checkpoint")
}

func (c maincmd) root(_ context.Context, _ []string) error {
	fmt.Fprintf(c.out, "root %s\nnamespace %s\n", c.m.RootID(), c.m.Namespace())
	return nil
}

package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/brighten"
)

func (c maincmd) get(ctx context.Context, manifest, source, corrstr string, _ []string) error {
	var n int
	for _, s := range []string{manifest, source, corrstr} {
		if s != "" {
			n++
		}
	}
	if n != 1 {
		return errors.New("must supply exactly one of -manifest, -source, or -correlation")
	}

	switch {
	case manifest != "":
		h, err := brightchain.HashFromHex(manifest)
		if err != nil {
			return errors.Wrap(err, "parsing -manifest")
		}
		_, err = brighten.Read(ctx, c.m, h, c.out)
		return err

	case source != "":
		h, err := brightchain.HashFromHex(source)
		if err != nil {
			return errors.Wrap(err, "parsing -source")
		}
		_, err = brighten.ReadSource(ctx, c.m, h, c.out)
		return err

	default:
		id, err := uuid.Parse(corrstr)
		if err != nil {
			return errors.Wrap(err, "parsing -correlation")
		}
		_, err = brighten.ReadCorrelation(ctx, c.m, id, c.out)
		return err
	}
}

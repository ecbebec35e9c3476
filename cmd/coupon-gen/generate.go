package main

import (
	"context"
	"log/slog"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
)

const progressEvery = 10_000

// generateCodes issues n codes that collide neither with stored codes nor
// with each other.
func generateCodes(ctx context.Context, store discount.CodeStore, n, length int, prefix string) ([]string, error) {
	gen, err := discount.NewCodeGenerator(ctx, store)
	if err != nil {
		return nil, errors.Wrap(err, "create code generator")
	}

	seen := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	for len(codes) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		code, err := gen.Generate(ctx, length, prefix)
		if err != nil {
			return nil, errors.Wrapf(err, "generate code %d", len(codes)+1)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)

		if len(codes)%progressEvery == 0 {
			slog.Info("generate progress", slog.Int("codes", len(codes)), slog.Int("total", n))
		}
	}
	return codes, nil
}

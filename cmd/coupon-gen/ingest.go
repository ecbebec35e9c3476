package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-discounts/internal/domain/discount"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	// maxFiles is bounded by the width of the per-code file bitmask.
	maxFiles = bits.UintSize
)

// collectCodes reads gzip code lists and returns the codes that appear in at
// least minFiles of them, are well formed and are not stored yet.
func collectCodes(ctx context.Context, store discount.CodeStore, files []string, minFiles, minCodeLen int) ([]string, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("at most %d files are supported, got %d", maxFiles, len(files))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check file %s", f)
		}
	}

	valid := func(code string) bool { return validCode(code, minCodeLen) }

	var candidates []string
	if minFiles <= 1 {
		slog.Info("reading code lists", slog.Int("files", len(files)))
		var err error
		candidates, err = unionCodes(ctx, files, valid)
		if err != nil {
			return nil, errors.Wrap(err, "read code lists")
		}
	} else {
		// Pass 1: one bloom filter per file, concurrently.
		slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
		filters, err := buildBloomFilters(ctx, files, valid)
		if err != nil {
			return nil, errors.Wrap(err, "build bloom filters")
		}

		// Pass 2: confirm codes seen in enough files.
		slog.Info("pass 2: finding repeated codes", slog.Int("min_files", minFiles))
		candidates, err = findRepeatedCodes(ctx, files, filters, minFiles, valid)
		if err != nil {
			return nil, errors.Wrap(err, "find repeated codes")
		}
	}
	slog.Info("candidate codes found", slog.Int("count", len(candidates)))

	return dropStored(ctx, store, candidates)
}

// validCode accepts uppercase alphanumeric codes of at least minLen characters.
func validCode(code string, minLen int) bool {
	if len(code) < max(minLen, 1) {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// dropStored filters out codes already present in the store. Stored codes are
// loaded into a bloom filter so most candidates skip the store round trip.
func dropStored(ctx context.Context, store discount.CodeStore, candidates []string) ([]string, error) {
	stored, err := store.ListCodes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list stored codes")
	}
	known := bloom.NewWithEstimates(uint(max(len(stored), 1_000)), bloomFPR)
	for _, code := range stored {
		known.AddString(code)
	}

	out := candidates[:0]
	skipped := 0
	for _, code := range candidates {
		if known.TestString(code) {
			exists, err := store.CodeExists(ctx, code)
			if err != nil {
				return nil, errors.Wrapf(err, "check code %s", code)
			}
			if exists {
				skipped++
				continue
			}
		}
		out = append(out, code)
	}
	if skipped > 0 {
		slog.Info("skipped stored codes", slog.Int("count", skipped))
	}
	return out, nil
}

// unionCodes returns every distinct valid code across files.
func unionCodes(ctx context.Context, files []string, valid func(string) bool) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, path := range files {
		if err := streamGzFile(ctx, path, func(code string) {
			if !valid(code) {
				return
			}
			if _, ok := seen[code]; ok {
				return
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, valid func(string) bool) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				if valid(code) {
					filter.AddString(code)
					count++
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findRepeatedCodes re-streams each file, keeps codes that other files' bloom
// filters may also hold, then confirms the count with exact per-file bitmasks.
func findRepeatedCodes(
	ctx context.Context,
	files []string,
	filters []*bloom.BloomFilter,
	minFiles int,
	valid func(string) bool,
) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			if err := streamGzFile(ctx, path, func(code string) {
				if !valid(code) {
					return
				}
				hits := 1
				for j, f := range filters {
					if j != i && f.TestString(code) {
						hits++
					}
				}
				if hits >= minFiles {
					candidates[code] |= fileBit
				}
			}); err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}
			slog.Info("pass 2 complete", slog.Int("file", i+1), slog.Int("candidates", len(candidates)))
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	var out []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minFiles {
			out = append(out, code)
		}
	}
	return out, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each trimmed line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

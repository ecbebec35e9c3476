package discount

import (
	"context"
	"crypto/rand"
	"io"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	// DefaultCodeLength is the number of random characters in a generated code.
	DefaultCodeLength = 10
	// MinCodeLength and MaxCodeLength bound the random part of a generated code.
	MinCodeLength = 5
	MaxCodeLength = 20
	// MaxPrefixLength bounds the fixed prefix of a generated code.
	MaxPrefixLength = 5

	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultAttempts = 16
	bloomFPR        = 0.001
	minBloomSize    = 10_000
)

var (
	// ErrCodeSpaceExhausted is returned when no unused code was found within
	// the allowed number of attempts.
	ErrCodeSpaceExhausted = errors.New("unable to generate a unique coupon code")
	// ErrInvalidCodeFormat is returned for out-of-range lengths or prefixes.
	ErrInvalidCodeFormat = errors.New("invalid coupon code format")
)

// CodeGenerator issues random coupon codes that do not collide with the
// codes already stored. A bloom filter of known codes answers "definitely
// new" without a store round trip; possible hits are confirmed by the store.
type CodeGenerator struct {
	store    CodeStore
	random   io.Reader
	attempts int

	mu    sync.Mutex
	known *bloom.BloomFilter
}

// CodeGeneratorOption configures a CodeGenerator.
type CodeGeneratorOption func(*CodeGenerator)

// WithRandom replaces the crypto/rand source, mostly for tests.
func WithRandom(r io.Reader) CodeGeneratorOption {
	return func(g *CodeGenerator) { g.random = r }
}

// WithAttempts sets how many collisions are tolerated before giving up.
func WithAttempts(n int) CodeGeneratorOption {
	return func(g *CodeGenerator) { g.attempts = n }
}

// NewCodeGenerator loads the existing codes from the store into the filter.
func NewCodeGenerator(ctx context.Context, store CodeStore, opts ...CodeGeneratorOption) (*CodeGenerator, error) {
	codes, err := store.ListCodes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupon codes")
	}

	g := &CodeGenerator{
		store:    store,
		random:   rand.Reader,
		attempts: defaultAttempts,
		known:    bloom.NewWithEstimates(uint(max(2*len(codes), minBloomSize)), bloomFPR),
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, code := range codes {
		g.known.AddString(code)
	}
	return g, nil
}

// Generate returns a new code made of prefix followed by length random
// uppercase alphanumeric characters. A zero length uses DefaultCodeLength.
func (g *CodeGenerator) Generate(ctx context.Context, length int, prefix string) (string, error) {
	for range g.attempts {
		code, err := RandomCode(g.random, length, prefix)
		if err != nil {
			return "", err
		}

		taken, err := g.taken(ctx, code)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}

		g.mu.Lock()
		g.known.AddString(code)
		g.mu.Unlock()
		return code, nil
	}
	return "", ErrCodeSpaceExhausted
}

func (g *CodeGenerator) taken(ctx context.Context, code string) (bool, error) {
	g.mu.Lock()
	maybe := g.known.TestString(code)
	g.mu.Unlock()
	if !maybe {
		return false, nil
	}

	exists, err := g.store.CodeExists(ctx, code)
	if err != nil {
		return false, errors.Wrapf(err, "check code %s", code)
	}
	return exists, nil
}

// RandomCode builds a code from prefix and length characters read from r.
func RandomCode(r io.Reader, length int, prefix string) (string, error) {
	if length == 0 {
		length = DefaultCodeLength
	}
	if length < MinCodeLength || length > MaxCodeLength {
		return "", errors.Wrapf(ErrInvalidCodeFormat, "length %d outside [%d, %d]", length, MinCodeLength, MaxCodeLength)
	}
	if len(prefix) > MaxPrefixLength {
		return "", errors.Wrapf(ErrInvalidCodeFormat, "prefix %q longer than %d", prefix, MaxPrefixLength)
	}

	// Bytes at or above limit are rejected so every symbol is equally likely.
	limit := byte(256 - 256%len(codeAlphabet))
	out := make([]byte, 0, len(prefix)+length)
	out = append(out, prefix...)

	buf := make([]byte, length)
	for len(out) < len(prefix)+length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", errors.Wrap(err, "read random")
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == len(prefix)+length {
				break
			}
		}
	}
	return string(out), nil
}

// Package compiler compiles LESS file mappings to CSS files on disk.
package compiler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ngld/stylebuild/pkg/config"
)

// Adapter compiles file mappings with a Backend and writes the results atomically
type Adapter struct {
	Backend Backend
	// Cache is optional. Without it every target is always rebuilt.
	Cache *Cache
	// Force rebuilds targets even if the cache considers them fresh
	Force bool
}

// NewAdapter returns an adapter for backend
func NewAdapter(backend Backend, cache *Cache) *Adapter {
	return &Adapter{Backend: backend, Cache: cache}
}

func (a *Adapter) fingerprint(mapping config.FileMap, opts config.CompileOptions) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%q\x00%#v", a.Backend.Name(), mapping.Sources, opts)))
	return hex.EncodeToString(sum[:])
}

// Compile compiles every source of mapping and replaces mapping.Target with the concatenated
// result. If any source fails, a *CompileError is returned and the target isn't touched.
func (a *Adapter) Compile(ctx context.Context, mapping config.FileMap, opts config.CompileOptions) error {
	logger := zerolog.Ctx(ctx)
	fingerprint := a.fingerprint(mapping, opts)

	if a.Cache != nil && !a.Force {
		fresh, err := a.Cache.Fresh(mapping.Target, fingerprint)
		if err != nil {
			logger.Debug().Err(err).Str("target", mapping.Target).Msg("cache check failed")
		}

		if fresh {
			logger.Info().Str("target", mapping.Target).Msg("up to date")
			return nil
		}
	}

	var buf bytes.Buffer
	if opts.Banner != "" {
		buf.WriteString(opts.Banner)
		buf.WriteByte('\n')
	}

	inputs := make([]string, 0, len(mapping.Sources))
	for idx, source := range mapping.Sources {
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.Debug().Str("source", source).Str("backend", a.Backend.Name()).Msg("compiling")
		out, err := a.Backend.Compile(ctx, source, opts)
		if err != nil {
			return &CompileError{Source: source, Cause: err}
		}

		if idx > 0 && !opts.Compress {
			buf.WriteByte('\n')
		}
		buf.Write(out.CSS)

		inputs = append(inputs, source)
		inputs = append(inputs, out.Imports...)
	}

	outputs := []outputFile{{path: mapping.Target, data: buf.Bytes()}}
	if opts.Brotli {
		compressed, err := brotliCompress(buf.Bytes())
		if err != nil {
			return err
		}
		outputs = append(outputs, outputFile{path: mapping.Target + ".br", data: compressed})
	}

	// the .br copy is renamed before the target so a failure never pairs a new target with a stale copy
	if err := writeAll(outputs); err != nil {
		return err
	}

	logger.Info().
		Str("target", mapping.Target).
		Int("size", buf.Len()).
		Msg("compiled")

	if a.Cache != nil {
		a.Cache.Record(mapping.Target, fingerprint, inputs)
		if err := a.Cache.Save(); err != nil {
			logger.Warn().Err(err).Msg("failed to save build cache")
		}
	}
	return nil
}

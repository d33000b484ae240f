package compiler_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/stylebuild/pkg/compiler"
	"github.com/ngld/stylebuild/pkg/config"
	"github.com/ngld/stylebuild/pkg/less"
)

type countingBackend struct {
	compiler.Backend
	calls int
}

func (b *countingBackend) Compile(ctx context.Context, source string, opts config.CompileOptions) (*compiler.Output, error) {
	b.calls++
	return b.Backend.Compile(ctx, source, opts)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func backdate(t *testing.T, path string) {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
}

func TestAdapter_Compile(t *testing.T) {
	t.Run("Should keep the previous output when compilation fails", func(t *testing.T) {
		root := t.TempDir()
		source := filepath.Join(root, "src", "app.less")
		target := filepath.Join(root, "out", "app.min.css")
		opts := config.CompileOptions{Compress: true, StrictMath: true}
		mapping := config.FileMap{Target: target, Sources: []string{source}}

		writeFile(t, source, "@w: 10px;\n.app {\n  width: @w + 2px;\n}\n")
		adapter := compiler.NewAdapter(compiler.Native{}, nil)
		require.NoError(t, adapter.Compile(context.Background(), mapping, opts))

		output, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, ".app{width:12px}", string(output))

		writeFile(t, source, ".app {\n  width: 1px + 1em;\n}\n")
		err = adapter.Compile(context.Background(), mapping, opts)
		require.Error(t, err)

		var compileErr *compiler.CompileError
		require.True(t, errors.As(err, &compileErr))
		assert.Equal(t, source, compileErr.Source)

		var lessErr *less.Error
		require.True(t, errors.As(err, &lessErr))
		assert.Equal(t, less.UnitError, lessErr.Kind)
		assert.Equal(t, 2, lessErr.Line)

		unchanged, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, output, unchanged)

		leftovers, err := filepath.Glob(filepath.Join(root, "out", ".*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("Should produce identical output for unchanged input", func(t *testing.T) {
		root := t.TempDir()
		source := filepath.Join(root, "app.less")
		target := filepath.Join(root, "app.css")
		writeFile(t, source, ".a { .b { color: #ff0000; } }\n@media print { .a { display: none; } }\n")

		mapping := config.FileMap{Target: target, Sources: []string{source}}
		adapter := compiler.NewAdapter(compiler.Native{}, nil)

		for _, compress := range []bool{true, false} {
			opts := config.CompileOptions{Compress: compress}
			require.NoError(t, adapter.Compile(context.Background(), mapping, opts))
			first, err := os.ReadFile(target)
			require.NoError(t, err)

			require.NoError(t, adapter.Compile(context.Background(), mapping, opts))
			second, err := os.ReadFile(target)
			require.NoError(t, err)

			assert.Equal(t, first, second)
		}
	})

	t.Run("Should concatenate sources and write a brotli copy", func(t *testing.T) {
		root := t.TempDir()
		first := filepath.Join(root, "a.less")
		second := filepath.Join(root, "b.less")
		target := filepath.Join(root, "dist", "all.css")
		writeFile(t, first, ".a { top: 0; }")
		writeFile(t, second, ".b { top: 1px; }")

		mapping := config.FileMap{Target: target, Sources: []string{first, second}}
		opts := config.CompileOptions{Compress: true, Banner: "/*! banner */", Brotli: true}
		require.NoError(t, compiler.NewAdapter(compiler.Native{}, nil).Compile(context.Background(), mapping, opts))

		output, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "/*! banner */\n.a{top:0}.b{top:1px}", string(output))

		compressed, err := os.ReadFile(target + ".br")
		require.NoError(t, err)
		decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
		require.NoError(t, err)
		assert.Equal(t, output, decoded)
	})

	t.Run("Should replace neither file when the brotli copy can't be written", func(t *testing.T) {
		root := t.TempDir()
		source := filepath.Join(root, "app.less")
		target := filepath.Join(root, "dist", "app.css")
		mapping := config.FileMap{Target: target, Sources: []string{source}}
		adapter := compiler.NewAdapter(compiler.Native{}, nil)

		writeFile(t, source, ".a { top: 0; }")
		require.NoError(t, adapter.Compile(context.Background(), mapping, config.CompileOptions{Compress: true}))

		// a non-empty directory can't be replaced by a file
		writeFile(t, filepath.Join(target+".br", "keep"), "")

		writeFile(t, source, ".a { top: 1px; }")
		err := adapter.Compile(context.Background(), mapping, config.CompileOptions{Compress: true, Brotli: true})
		require.Error(t, err)

		output, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, ".a{top:0}", string(output))
		assert.FileExists(t, filepath.Join(target+".br", "keep"))

		leftovers, err := filepath.Glob(filepath.Join(root, "dist", ".*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})
}

func TestAdapter_Cache(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "app.less")
	partial := filepath.Join(root, "vars.less")
	target := filepath.Join(root, "app.css")
	cacheFile := filepath.Join(root, ".stylebuild-cache")

	writeFile(t, partial, "@c: red;")
	writeFile(t, source, "@import \"vars\";\n.a { color: @c; }")
	backdate(t, source)
	backdate(t, partial)

	mapping := config.FileMap{Target: target, Sources: []string{source}}
	opts := config.CompileOptions{Compress: true}

	cache, err := compiler.OpenCache(cacheFile)
	require.NoError(t, err)

	backend := &countingBackend{Backend: compiler.Native{}}
	adapter := compiler.NewAdapter(backend, cache)
	ctx := context.Background()

	t.Run("Should skip fresh targets", func(t *testing.T) {
		require.NoError(t, adapter.Compile(ctx, mapping, opts))
		require.NoError(t, adapter.Compile(ctx, mapping, opts))
		assert.Equal(t, 1, backend.calls)
	})

	t.Run("Should persist records", func(t *testing.T) {
		reopened, err := compiler.OpenCache(cacheFile)
		require.NoError(t, err)

		other := &countingBackend{Backend: compiler.Native{}}
		require.NoError(t, compiler.NewAdapter(other, reopened).Compile(ctx, mapping, opts))
		assert.Equal(t, 0, other.calls)
	})

	t.Run("Should rebuild when options change", func(t *testing.T) {
		backend.calls = 0
		require.NoError(t, adapter.Compile(ctx, mapping, config.CompileOptions{}))
		require.NoError(t, adapter.Compile(ctx, mapping, opts))
		assert.Equal(t, 2, backend.calls)
	})

	t.Run("Should rebuild when an import changes", func(t *testing.T) {
		backend.calls = 0
		future := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(partial, future, future))

		require.NoError(t, adapter.Compile(ctx, mapping, opts))
		assert.Equal(t, 1, backend.calls)
	})

	t.Run("Should rebuild when forced", func(t *testing.T) {
		backend.calls = 0
		backdate(t, partial)

		adapter.Force = true
		defer func() { adapter.Force = false }()

		require.NoError(t, adapter.Compile(ctx, mapping, opts))
		assert.Equal(t, 1, backend.calls)
	})

	t.Run("Should start over when the cache file is corrupt", func(t *testing.T) {
		broken := filepath.Join(root, "broken-cache")
		writeFile(t, broken, "not a gob stream")

		cache, err := compiler.OpenCache(broken)
		assert.Error(t, err)
		require.NotNil(t, cache)

		fresh, err := cache.Fresh(target, "anything")
		require.NoError(t, err)
		assert.False(t, fresh)
	})
}

func TestLessc_Args(t *testing.T) {
	args := compiler.Lessc{Binary: "node_modules/.bin/lessc"}.Args("src/app.less", config.CompileOptions{
		Compress:   true,
		StrictMath: true,
		Paths:      []string{"a"},
		GlobalVars: map[string]string{"b": "2", "a": "1"},
		ModifyVars: map[string]string{"@c": "3"},
	})

	assert.Equal(t, []string{
		"node_modules/.bin/lessc",
		"--no-color",
		"--compress",
		"--strict-units=on",
		"--include-path=a",
		"--global-var=a=1",
		"--global-var=b=2",
		"--modify-var=c=3",
		"src/app.less",
	}, args)
}

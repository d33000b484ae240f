package config

import (
	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Settings describes the options of the tool itself (as opposed to the build file)
type Settings struct {
	Log struct {
		Level string `default:"info" usage:"Log level (debug, info, warn, error)"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Compiler struct {
		Backend string `default:"native" usage:"Stylesheet compiler (native or lessc)"`
		Lessc   string `default:"lessc" usage:"Path to the lessc binary"`
	}
	Cache struct {
		File string `default:".stylebuild-cache" usage:"Freshness cache file, empty to disable"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// SettingsFile is read from the working directory if it exists
const SettingsFile = ".stylebuild.toml"

// Loader initializes an empty settings object and returns a new Loader for this object.
// Command line flags are handled by the CLI so the loader only reads defaults, the settings file and
// STYLEBUILD_* environment variables. Unknown STYLEBUILD_* variables (like STYLEBUILD_DEBUG) are ignored.
func Loader(files ...string) (*Settings, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{SettingsFile}
	}

	cfg := Settings{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:        true,
		EnvPrefix:        "STYLEBUILD",
		AllowUnknownEnvs: true,
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Validate verifies that all settings have valid values
func (cfg *Settings) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	switch cfg.Compiler.Backend {
	case "native":
	case "lessc":
		if cfg.Compiler.Lessc == "" {
			return eris.New(`compiler.lessc must be set when using the lessc backend`)
		}
	default:
		return eris.Errorf(`Invalid value for compiler.backend: %s (must be native or lessc)`, cfg.Compiler.Backend)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Settings) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

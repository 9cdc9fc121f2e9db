// Package projectcfg reads the patchbot settings of a repository.
//
// The settings are read from the [tool.piped] table of a pyproject.toml
// file or from the top-level of a piped.toml file in the repository root.
package projectcfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"

	"github.com/simplesurance/patchbot/internal/patcherr"
)

// DefaultBotActions are the workflow names that are waited for when the
// project does not configure bot_actions.
var DefaultBotActions = []string{
	"Freeze PR dependency changes",
	"Resync piped",
	"Reformat PR code",
	"Run Rustfmt",
}

var ErrNotFound = errors.New("couldn't find config file")

type Config struct {
	// Path is the path of the file the configuration was read from.
	Path string
	// BotActions are the names of the workflows that are waited for.
	// They are unique.
	BotActions []string
}

type source struct {
	file  string
	table string
}

// sources are tried in order, the first existing file is used.
var sources = []source{
	{file: "pyproject.toml", table: "tool.piped"},
	{file: "piped.toml"},
}

// Read reads the project configuration from the repository in dir.
// Errors are returned as *patcherr.ConfigError.
func Read(dir string) (*Config, error) {
	for _, src := range sources {
		path := filepath.Join(dir, src.file)

		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, &patcherr.ConfigError{Path: src.file, Err: err}
		}

		cfg, err := parse(data, src.table)
		if err != nil {
			return nil, &patcherr.ConfigError{Path: src.file, Err: err}
		}

		cfg.Path = path

		return cfg, nil
	}

	return nil, &patcherr.ConfigError{Err: ErrNotFound}
}

func parse(data []byte, table string) (*Config, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, err
	}

	if table != "" {
		sub, ok := tree.Get(table).(*toml.Tree)
		if !ok {
			return nil, fmt.Errorf("table [%s] is missing", table)
		}

		tree = sub
	}

	var cfg Config

	if !tree.Has("bot_actions") {
		cfg.BotActions = unique(DefaultBotActions)
		return &cfg, nil
	}

	actions, err := stringList(tree.Get("bot_actions"))
	if err != nil {
		return nil, fmt.Errorf("bot_actions: %w", err)
	}

	cfg.BotActions = unique(actions)

	return &cfg, nil
}

func stringList(v any) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return val, nil

	case []any:
		result := make([]string, 0, len(val))
		for i, elem := range val {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string at index %d, found %T", i, elem)
			}

			result = append(result, s)
		}

		return result, nil

	default:
		return nil, fmt.Errorf("expected a list of strings, found %T", v)
	}
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	result := make([]string, 0, len(in))

	for _, s := range in {
		if _, exists := seen[s]; exists {
			continue
		}

		seen[s] = struct{}{}
		result = append(result, s)
	}

	return result
}

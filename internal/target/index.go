package target

import (
	"errors"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/tomasbasham/pyx-auth/internal/failure"
)

// pyproject is the subset of a project file that declares package indexes,
// i.e. the [[tool.uv.index]] array of tables.
type pyproject struct {
	Tool struct {
		UV struct {
			Index []map[string]any `toml:"index"`
		} `toml:"uv"`
	} `toml:"tool"`
}

// lookupPublishURL returns the publish-url of the index called name in the
// project file at path.
func lookupPublishURL(path, name string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", failure.New(failure.ConfigUnreadable,
				"can't discover upload URL for %s: %s not found", name, path)
		}
		return "", failure.Wrap(failure.ConfigUnreadable, err,
			"can't discover upload URL for %s: failed to read %s", name, path)
	}

	var project pyproject
	if err := toml.Unmarshal(data, &project); err != nil {
		return "", failure.Wrap(failure.ConfigUnreadable, err,
			"can't discover upload URL for %s: failed to parse %s", name, path)
	}

	for _, entry := range project.Tool.UV.Index {
		if entryName, _ := entry["name"].(string); entryName != name {
			continue
		}

		raw, ok := entry["publish-url"]
		if !ok {
			return "", failure.New(failure.MissingPublishURL, "index '%s' does not have a 'publish-url'", name)
		}
		publishURL, ok := raw.(string)
		if !ok {
			return "", failure.New(failure.MissingPublishURL, "index '%s' has an invalid 'publish-url'", name)
		}
		if publishURL == "" {
			return "", failure.New(failure.MissingPublishURL, "index '%s' does not have a 'publish-url'", name)
		}
		return publishURL, nil
	}

	return "", failure.New(failure.IndexNotFound, "index '%s' not found in %s", name, path)
}

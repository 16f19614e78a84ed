// Package sources loads the curated source list from disk.
package sources

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/feeddigest/internal/feed"
)

// ErrMissing is returned when the source list file does not exist.
var ErrMissing = errors.New("source list not found")

// Load reads a source list. Files ending in .yaml or .yml are decoded as
// YAML, anything else as JSON.
func Load(path string) (feed.SourceList, error) {
	// #nosec G304 -- the path comes from operator configuration.
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return feed.SourceList{}, fmt.Errorf("%s: %w", path, ErrMissing)
	}
	if err != nil {
		return feed.SourceList{}, fmt.Errorf("read source list: %w", err)
	}
	return Decode(data, isYAML(path))
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Decode parses and validates a source list document.
func Decode(data []byte, asYAML bool) (feed.SourceList, error) {
	var list feed.SourceList
	if asYAML {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&list); err != nil {
			return feed.SourceList{}, fmt.Errorf("decode yaml source list: %w", err)
		}
	} else if err := json.Unmarshal(data, &list); err != nil {
		return feed.SourceList{}, fmt.Errorf("decode json source list: %w", err)
	}
	if err := Validate(list); err != nil {
		return feed.SourceList{}, err
	}
	return list, nil
}

// Validate checks that every category has an identifier and every source an
// absolute http(s) URL.
func Validate(list feed.SourceList) error {
	var errs []error
	for ci, cat := range list.Categories {
		if strings.TrimSpace(cat.ID) == "" {
			errs = append(errs, fmt.Errorf("category %d: id is required", ci))
		}
		for si, src := range cat.Sources {
			if err := validateURL(src.URL); err != nil {
				errs = append(errs, fmt.Errorf("category %q source %d (%s): %w", cat.ID, si, src.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

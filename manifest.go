package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ManifestFileName is the name of the manifest inside <installRoot>/bin.
const ManifestFileName = "models.json"

// manifestSchema describes models.json: an object of key -> {url, hash}.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["url", "hash"],
    "properties": {
      "url":  {"type": "string", "minLength": 1},
      "hash": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"}
    }
  }
}`

// Manifest is the ordered set of artifacts the tool depends on.
// It is immutable after LoadManifest returns.
type Manifest struct {
	keys    []string
	entries map[string]ArtifactSpec
}

// Keys returns the artifact keys in manifest order.
func (m *Manifest) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the spec for key.
func (m *Manifest) Get(key string) (ArtifactSpec, bool) {
	spec, ok := m.entries[key]
	return spec, ok
}

// Len returns the number of artifacts.
func (m *Manifest) Len() int {
	return len(m.keys)
}

// ManifestPath returns the location of models.json for an installation root.
func ManifestPath(installRoot string) string {
	return filepath.Join(installRoot, "bin", ManifestFileName)
}

// LoadManifest reads and validates the manifest at path.
// Returns ErrManifestNotFound if the file does not exist and ErrManifestParse if
// its content is not a well-formed key -> {url, hash} mapping.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: models.json not found at %s", ErrManifestNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, path, err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest validates and decodes manifest JSON, preserving key order.
func ParseManifest(data []byte) (*Manifest, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(manifestSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrManifestParse, strings.Join(msgs, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil { // opening brace
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}

	m := &Manifest{entries: make(map[string]ArtifactSpec)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected token %v", ErrManifestParse, tok)
		}

		var spec ArtifactSpec
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrManifestParse, key, err)
		}
		if _, err := artifactFileName(spec.URL); err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrManifestParse, key, err)
		}

		// A repeated key keeps its first position and takes the last value.
		if _, seen := m.entries[key]; !seen {
			m.keys = append(m.keys, key)
		}
		m.entries[key] = spec
	}
	return m, nil
}

// artifactFileName returns the basename of the URL's path.
func artifactFileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %v", rawURL, err)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	name := path.Base(p)
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	return name, nil
}

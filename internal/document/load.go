/*
Copyright 2024 The Deckhand Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package document

import (
	"bufio"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/yaml"

	"github.com/crossplane/crossplane-runtime/pkg/errors"
)

const (
	errReadFile     = "cannot read file"
	errParseStream  = "cannot parse YAML stream"
	errGlobYAML     = "cannot glob YAML files"
	errStatPath     = "cannot stat path"
	errNoYAMLFound  = "no YAML files found"
	errParseManifet = "cannot parse YAML document manifest"
)

// ParseStream splits a multi-document YAML stream and parses each non-empty
// manifest into a Document.
func ParseStream(r io.Reader) ([]Document, error) {
	yr := yaml.NewYAMLReader(bufio.NewReader(r))

	docs := make([]Document, 0)
	for {
		b, err := yr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errParseStream)
		}
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		d, err := FromYAML(b)
		if err != nil {
			return nil, errors.Wrap(err, errParseManifet)
		}
		if len(d.Object()) == 0 {
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Load reads documents from the supplied file, or from every .yaml/.yml file
// of the supplied directory.
func Load(fs afero.Fs, fileOrDir string) ([]Document, error) {
	info, err := fs.Stat(fileOrDir)
	if err != nil {
		return nil, errors.Wrap(err, errStatPath)
	}

	files := []string{fileOrDir}
	if info.IsDir() {
		files = nil
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := afero.Glob(fs, filepath.Join(fileOrDir, pattern))
			if err != nil {
				return nil, errors.Wrap(err, errGlobYAML)
			}
			files = append(files, matches...)
		}
		if len(files) == 0 {
			return nil, errors.Errorf("%s in %q (.yaml or .yml)", errNoYAMLFound, fileOrDir)
		}
	}

	out := make([]Document, 0)
	for _, file := range files {
		f, err := fs.Open(file)
		if err != nil {
			return nil, errors.Wrap(err, errReadFile)
		}
		docs, err := ParseStream(f)
		_ = f.Close() //nolint:errcheck // Only open for reading.
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

/// KindOf normalizes a schema string to the key data schemas register under:
// the version segment keeps only its major component, so
// "deckhand/Passphrase/v1.0" and "deckhand/Passphrase/v1" share a kind.
func KindOf(schema string) string {
	parts := strings.Split(schema, "/")
	if len(parts) != 3 {
		return schema
	}
	version := parts[2]
	if i := strings.IndexByte(version, '.'); i > 0 {
		version = version[:i]
	}
	return parts[0] + "/" + parts[1] + "/" + version
}

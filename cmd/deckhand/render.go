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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kong"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/airshipit/deckhand/internal/document"
	"github.com/airshipit/deckhand/internal/engine"
	"github.com/airshipit/deckhand/internal/graph"
	"github.com/airshipit/deckhand/internal/schema"
)

const (
	errLoadDocuments = "cannot load documents"
	errRender        = "cannot render documents"
	errBuildGraph    = "cannot build operation graph"
	errWriteOutput   = "cannot write rendered documents"
)

// renderCmd renders a document set offline and prints the result as a
// multi-document YAML stream. Encrypted substitution sources are not
// resolvable offline; documents relying on them will fail to render.
type renderCmd struct {
	Path string `arg:"" help:"A YAML file or a directory of YAML files to render."`

	Timeout        time.Duration `default:"60s" help:"Bound on the render."`
	StrictKinds    bool          `help:"Fail data validation for document kinds without a registered schema."`
	LenientSources bool          `help:"Treat missing substitution sources as warnings instead of errors."`
	Graph          bool          `help:"Print the operation graph in Graphviz dot format instead of rendering."`

	fs afero.Fs
}

// AfterApply binds the local filesystem.
func (c *renderCmd) AfterApply() error {
	c.fs = afero.NewOsFs()
	return nil
}

// Run renders the documents at the supplied path.
func (c *renderCmd) Run(k *kong.Context, log logging.Logger) error {
	docs, err := document.Load(c.fs, c.Path)
	if err != nil {
		return errors.Wrap(err, errLoadDocuments)
	}

	if c.Graph {
		plan, berr := graph.Build(docs)
		if berr != nil {
			return errors.Wrap(berr, errBuildGraph)
		}
		return errors.Wrap(plan.Graph.Dot(k.Stdout), errWriteOutput)
	}

	reg, err := schema.NewRegistry()
	if err != nil {
		return errors.Wrap(err, errBuildRegistry)
	}
	opts := []engine.Option{engine.WithLogger(log)}
	if c.StrictKinds {
		opts = append(opts, engine.StrictKinds())
	}
	if c.LenientSources {
		opts = append(opts, engine.LenientSources())
	}
	e := engine.New(reg, nil, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	rendered, err := e.Render(ctx, docs)
	if err != nil {
		return errors.Wrap(err, errRender)
	}

	for _, d := range rendered {
		b, err := d.ToYAML()
		if err != nil {
			return errors.Wrap(err, errWriteOutput)
		}
		if _, err := fmt.Fprintf(k.Stdout, "---\n%s", b); err != nil {
			return errors.Wrap(err, errWriteOutput)
		}
	}
	return nil
}

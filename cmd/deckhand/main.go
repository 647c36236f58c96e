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

// Package main implements the deckhand CLI: a revision-storing document
// rendering service and a one-shot offline renderer.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/crossplane/crossplane-runtime/pkg/logging"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

type debugFlag bool

func (d debugFlag) BeforeApply(ctx *kong.Context) error { //nolint:unparam // BeforeApply requires this signature.
	zl, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	ctx.BindTo(logging.NewLogrLogger(zapr.NewLogger(zl)), (*logging.Logger)(nil))
	return nil
}

// The top-level deckhand CLI.
type cli struct {
	// Subcommands.
	Server  serverCmd  `cmd:"" help:"Start the Deckhand API server."`
	Render  renderCmd  `cmd:"" help:"Render documents from a file or directory and print the result."`
	Version versionCmd `cmd:"" help:"Print the deckhand version."`

	// Flags.
	Debug debugFlag `short:"d" help:"Print verbose logging statements."`
}

func main() {
	logger := logging.NewNopLogger()
	ctx := kong.Parse(&cli{},
		kong.Name("deckhand"),
		kong.Description("A document layering, substitution and revision storage service."),
		kong.BindTo(logger, (*logging.Logger)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{
			FlagsLast:      true,
			Compact:        true,
			WrapUpperBound: 80,
		}),
		kong.UsageOnError())

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
	os.Exit(0)
}

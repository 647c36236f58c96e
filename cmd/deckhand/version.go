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
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"

	"github.com/airshipit/deckhand/internal/version"
)

const errPrintVersion = "cannot print version"

// versionCmd prints the deckhand version.
type versionCmd struct{}

// Run prints the version.
func (c *versionCmd) Run(k *kong.Context) error {
	_, err := fmt.Fprintln(k.Stdout, version.Version())
	return errors.Wrap(err, errPrintVersion)
}

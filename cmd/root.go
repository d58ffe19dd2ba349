// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd wires the cobra CLI the same way the teacher's cmd package
// does: one root command, one or more mode subcommands each owning its own
// flags and Run closure.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packetd/h2amqp-router/common"
)

var rootCmd = &cobra.Command{
	Use:   "h2amqp-router",
	Short: "HTTP/2<->AMQP 1.0 streaming message router core",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := common.GetBuildInfo()
		fmt.Printf("%s %s (%s) built %s\n", common.App, info.Version, info.GitHash, info.Time)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI entrypoint.
func Execute() error {
	return rootCmd.Execute()
}

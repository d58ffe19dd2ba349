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

package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/packetd/h2amqp-router/common"
	"github.com/packetd/h2amqp-router/confengine"
	"github.com/packetd/h2amqp-router/internal/sigs"
	"github.com/packetd/h2amqp-router/logger"
	"github.com/packetd/h2amqp-router/management"
	"github.com/packetd/h2amqp-router/metrics"
	"github.com/packetd/h2amqp-router/server"
)

// routerCmd starts the router's ambient stack: logging, metrics, and the
// admin/management HTTP surface (spec.md §2/§6). Actually accepting
// inbound HTTP/2 sockets or dialing outbound connectors, and attaching
// each to a qdrlink.Core, is the listener/connector acceptance and
// router-core collaborator spec.md §2 names as out of scope for this
// core — a deployment wires adaptor/http2.NewConnection itself once it has
// those two pieces.
var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Run the HTTP/2<->AMQP streaming message router core",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := confengine.LoadConfigPath(routerConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		if err := applyConfig(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to apply config: %v\n", err)
			os.Exit(1)
		}

		srv, err := server.New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin server: %v\n", err)
			os.Exit(1)
		}
		if srv != nil {
			reg := management.NewRegistry()
			management.RegisterRoutes(srv, reg)
			srv.RegisterGetRoute("/metrics", promhttp.Handler().ServeHTTP)
			srv.RegisterPostRoute("/-/logger", reloadLoggerLevel)

			go func() {
				if err := srv.ListenAndServe(); err != nil {
					logger.Errorf("router: admin server stopped: %v", err)
				}
			}()
		}

		info := common.GetBuildInfo()
		metrics.SetBuildInfo(info.Version, info.GitHash, info.Time)
		go reportUptime()

		var reloadTotal int
		for {
			select {
			case <-sigs.Terminate():
				logger.Infof("router: shutting down")
				return

			case <-sigs.Reload():
				reloadTotal++
				cfg, err := confengine.LoadConfigPath(routerConfigPath)
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed to load config (count=%d): %v\n", reloadTotal, err)
					continue
				}
				start := time.Now()
				if err := applyConfig(cfg); err != nil {
					logger.Errorf("failed to reload config: %v", err)
					continue
				}
				logger.Infof("router: reload (count=%d) took %s", reloadTotal, time.Since(start))
			}
		}
	},
	Example: "# h2amqp-router router --config router.yaml",
}

// applyConfig unpacks the config sections owned directly by the ambient
// stack; per-listener/per-connector adaptor.Config sections are unpacked
// by whatever constructs those (out of scope here, see routerCmd's doc).
func applyConfig(cfg *confengine.Config) error {
	var logOpt logger.Options
	if err := cfg.UnpackChild("logger", &logOpt); err != nil {
		return err
	}
	logger.SetOptions(logOpt)
	return nil
}

func reloadLoggerLevel(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("level")
	if level == "" {
		http.Error(w, "missing level query param", http.StatusBadRequest)
		return
	}
	logger.SetLoggerLevel(level)
	w.WriteHeader(http.StatusNoContent)
}

// reportUptime refreshes the uptime gauge on a fixed tick; it never
// returns since the process lifetime is the loop's scope.
func reportUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.SetUptime(float64(time.Now().Unix() - common.Started()))
	}
}

var routerConfigPath string

func init() {
	routerCmd.Flags().StringVar(&routerConfigPath, "config", "router.yaml", "Configuration file path")
	rootCmd.AddCommand(routerCmd)
}

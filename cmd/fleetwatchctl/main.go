/*
Copyright 2024.

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

// fleetwatchctl inspects a fleetwatch deployment: the current health
// record snapshot and the artifact cache. It has no command that lists
// the DNS records published for the domain.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kuadrant/fleetwatch/internal/cliconfig"
	"github.com/kuadrant/fleetwatch/internal/common/hash"
	"github.com/kuadrant/fleetwatch/internal/fleet"
)

var (
	configFile string
	domain     string
)

func main() {
	root := &cobra.Command{
		Use:   "fleetwatchctl",
		Short: "Inspect a fleetwatch deployment",
		Long:  "fleetwatchctl inspects a fleetwatch deployment's health records and artifact cache.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(context.Background())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configFile, cliconfig.ConfigFileKey.Flag(), "", "Path to the YAML config file describing this deployment's backends.")
	root.PersistentFlags().StringVar(&domain, cliconfig.DomainKey.Flag(), "", "The fleet's DNS domain.")

	root.AddCommand(statusCommand())
	root.AddCommand(recordsCommand())
	root.AddCommand(cacheCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (cliconfig.Config, error) {
	cfg := cliconfig.Default()
	if configFile != "" {
		if err := cliconfig.OverlayFile(&cfg, configFile); err != nil {
			return cfg, err
		}
	}
	cliconfig.OverlayEnv(&cfg)
	if domain != "" {
		cfg.Domain = domain
	}
	return cfg, nil
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the fleet's current health state counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rec, err := cliconfig.BuildRecorder(cfg)
			if err != nil {
				return fmt.Errorf("build health recorder: %w", err)
			}
			records, err := rec.ReadAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("read health records: %w", err)
			}

			counts := map[fleet.StateKind]int{}
			for _, r := range records {
				counts[r.State.Kind]++
			}

			renderStatusTable(counts, len(records))
			return nil
		},
	}
}

func recordsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "records",
		Short: "List the fleet's raw health records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rec, err := cliconfig.BuildRecorder(cfg)
			if err != nil {
				return fmt.Errorf("build health recorder: %w", err)
			}
			records, err := rec.ReadAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("read health records: %w", err)
			}

			ids := make([]fleet.WorkerID, 0, len(records))
			for id := range records {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			renderRecordsTable(ids, records)
			return nil
		},
	}
}

func cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the artifact cache",
	}
	cmd.AddCommand(cacheGetCommand())
	return cmd
}

func cacheGetCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch one artifact from the cache backend and print/save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backend, err := cliconfig.BuildArtifactCache(cfg)
			if err != nil {
				return fmt.Errorf("build artifact cache backend: %w", err)
			}

			key := cliconfig.ArtifactCachePrefix + "/" + args[0]
			data, etag, _, err := backend.Get(cmd.Context(), key, "")
			if err != nil {
				return fmt.Errorf("fetch %s: %w", key, err)
			}

			if out != "" {
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes (etag %s) to %s\n", len(data), etag, out)
				return nil
			}

			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write the artifact to this file instead of stdout.")
	return cmd
}

// shortID shortens a worker ID for table display the way the teacher
// shortens resource names for CLI output.
func shortID(id fleet.WorkerID) string {
	return hash.ToBase36HashLen(string(id), 10)
}

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/astromechza/talking-todos/pkg/config"
	"github.com/astromechza/talking-todos/pkg/store"
	"github.com/astromechza/talking-todos/pkg/viz"
)

func newHistoryCmd(a *app) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Render the change history of the local store as svg",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var buff bytes.Buffer
			if err := viz.RenderToSVG(a.store, &buff); err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, err := cmd.OutOrStdout().Write(buff.Bytes())
				return err
			}
			if err := os.WriteFile(outPath, buff.Bytes(), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rendered file://%s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file, stdout when empty")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [FILE]",
		Short: "Dump the rows, values and changes of the local store or a saved document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.store
			if len(args) == 1 {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read input file: %w", err)
				}
				if s, err = store.Load(raw); err != nil {
					return err
				}
			}
			return inspect(cmd.OutOrStdout(), s)
		},
	}
}

func inspect(out io.Writer, s *store.Store) error {
	for _, table := range s.TableIDs() {
		_, _ = fmt.Fprintf(out, "table %s\n", table)
		for _, id := range s.RowIDs(table) {
			cells, _ := s.GetRow(table, id)
			_, _ = fmt.Fprintf(out, "  %s %v\n", id, cells)
		}
	}
	for _, id := range s.ValueIDs() {
		v, _ := s.GetValue(id)
		_, _ = fmt.Fprintf(out, "value %s = %v\n", id, v)
	}
	heads := make([]string, 0, len(s.Heads()))
	for _, h := range s.Heads() {
		heads = append(heads, h.String())
	}
	_, _ = fmt.Fprintf(out, "heads %s\n", strings.Join(heads, " "))

	changes, err := s.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		_, _ = fmt.Fprintf(out, "%4d %s %s@%d %q deps=%v\n", i, change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), change.Message(), change.Dependencies())
	}
	return nil
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Print the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipStore: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			cfg.Token = mask(cfg.Token)
			cfg.Secret = mask(cfg.Secret)
			cfg.GeminiAPIKey = mask(cfg.GeminiAPIKey)
			raw, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write the file and flag configuration to the config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipStore: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				p, err := config.ClientPath()
				if err != nil {
					return err
				}
				path = p
			}
			// environment overrides stay out of the file
			cfg, err := config.LoadClientFile(path)
			if err != nil {
				return err
			}
			a.applyFlags(&cfg)
			if err := cfg.Save(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

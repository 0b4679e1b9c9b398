package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/reqai/internal/cli"
	"github.com/hyperjump/reqai/internal/dispatch"
	"github.com/spf13/cobra"
)

// execute runs one dispatcher command and writes its result.
func execute(cmd *cobra.Command, opts *rootOptions, c dispatch.Command) error {
	format, err := cli.ParseFormat(opts.output)
	if err != nil {
		return err
	}
	r, err := newRunner(opts)
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Run(cmd.Context(), c)
	if err != nil {
		return err
	}
	if err := cli.WriteResult(cmd.OutOrStdout(), res, format); err != nil {
		return fmt.Errorf("output failed: %w", err)
	}
	if !res.OK {
		return errCommandFailed
	}
	return nil
}

func newTypesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List entity types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdListTypes})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <entity-type>",
		Short: "List the records of an entity type, narrowed by its active filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdList, EntityType: args[0]})
		},
	}
}

func newFormCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "form <entity-type> [id]",
		Short: "Show the add form, or the edit form of a record",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dispatch.Command{Name: dispatch.CmdForm, EntityType: args[0]}
			if len(args) == 2 {
				c.ID = args[1]
			}
			return execute(cmd, opts, c)
		},
	}
}

func newFilterCmd(opts *rootOptions) *cobra.Command {
	var (
		tag, ver string
		clearAll bool
	)
	cmd := &cobra.Command{
		Use:   "filter <entity-type>",
		Short: "Narrow a collection by tag and version (requires a running server to persist)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearAll {
				return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdClearFilter, EntityType: args[0]})
			}
			payload := map[string]interface{}{}
			if cmd.Flags().Changed("tag") {
				payload["tag"] = tag
			}
			if cmd.Flags().Changed("version") {
				payload["version"] = ver
			}
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdFilter, EntityType: args[0], Payload: payload})
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "exact tag to match (empty clears)")
	cmd.Flags().StringVar(&ver, "version", "", "exact version to match (empty clears)")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "clear every predicate")
	return cmd
}

func newFacetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "facets <entity-type>",
		Short: "Show the distinct tags and versions of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdFacets, EntityType: args[0]})
		},
	}
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank the searchable collection by similarity to a free-text query",
		Long: `Rank the searchable collection by similarity to a free-text query.

Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.
Only records scoring above the similarity threshold are shown, best first.

Examples:
  reqai search encrypt customer data
  reqai search --output json "single sign on"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := buildSearchQuery(args)
			if query == "" {
				return cmd.Usage()
			}
			return execute(cmd, opts, dispatch.Command{
				Name:       dispatch.CmdSearch,
				EntityType: entityType,
				Payload:    map[string]interface{}{"query": query},
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "entity type to search (default: the configured searchable type)")
	return cmd
}

// parsePayload builds a record payload from a JSON object (inline, or @file)
// overlaid with key=value pairs. Values from --set stay strings; the
// dispatcher coerces them per field.
func parsePayload(data string, sets []string) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if data != "" {
		raw := []byte(data)
		if strings.HasPrefix(data, "@") {
			b, err := os.ReadFile(data[1:])
			if err != nil {
				return nil, fmt.Errorf("read payload: %w", err)
			}
			raw = b
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q; use key=value", kv)
		}
		payload[k] = v
	}
	return payload, nil
}

func payloadFlags(cmd *cobra.Command, data *string, sets *[]string) {
	cmd.Flags().StringVar(data, "data", "", `record fields as a JSON object, or @file.json`)
	cmd.Flags().StringArrayVar(sets, "set", nil, "field value as key=value (repeatable)")
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		data string
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "create <entity-type>",
		Short: "Add a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(data, sets)
			if err != nil {
				return err
			}
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdCreate, EntityType: args[0], Payload: payload})
		},
	}
	payloadFlags(cmd, &data, &sets)
	return cmd
}

func newUpdateCmd(opts *rootOptions) *cobra.Command {
	var (
		data string
		sets []string
	)
	cmd := &cobra.Command{
		Use:   "update <entity-type> <id>",
		Short: "Change fields of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(data, sets)
			if err != nil {
				return err
			}
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdUpdate, EntityType: args[0], ID: args[1], Payload: payload})
		},
	}
	payloadFlags(cmd, &data, &sets)
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity-type> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdDelete, EntityType: args[0], ID: args[1]})
		},
	}
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the embedding index, ignoring any snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdReindex})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show embedding index status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, dispatch.Command{Name: dispatch.CmdIndexStatus})
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every collection to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(opts)
			if err != nil {
				return err
			}
			defer r.Close()
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := r.Export(cmd.Context(), f); err != nil {
				_ = f.Close()
				_ = os.Remove(out)
				return fmt.Errorf("export failed: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "file", "f", "reqai_export.xlsx", "output workbook path")
	return cmd
}

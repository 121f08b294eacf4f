package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/pelicide/internal/site"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newScanCmd(a *app) *cobra.Command {
	var theme bool

	cmd := &cobra.Command{
		Use:   "scan PROJECT",
		Short: "List a project's content as JSON",
		Long: `List a project's content as JSON. With --theme the output is an object
holding the content list and the files of the project's theme.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSite(cmd.Context(), args[0], func(ctx context.Context, s *site.Site) error {
				if theme {
					files, err := s.Files(ctx)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), files)
				}
				files, err := s.Scan(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), files)
			})
		},
	}
	cmd.Flags().BoolVar(&theme, "theme", false, "include the theme's files")
	return cmd
}

func newRenderCmd(a *app) *cobra.Command {
	var metadata bool

	cmd := &cobra.Command{
		Use:   "render PROJECT FORMAT [FILE|-]",
		Short: "Render a document with a project's readers",
		Long: `Render a document with the readers configured for PROJECT and print the
resulting HTML. The document is read from FILE, or from stdin when FILE is
"-" or omitted.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 3 && args[2] != "-" {
				f, err := os.Open(args[2])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			content, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			return a.withSite(cmd.Context(), args[0], func(ctx context.Context, s *site.Site) error {
				out, err := s.Render(ctx, args[1], string(content))
				if err != nil {
					return err
				}
				if metadata {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), out.Content)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&metadata, "metadata", false, "print content and metadata as JSON")
	return cmd
}

func newSettingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setting PROJECT KEY [VALUE]",
		Short: "Print, or set and print, a pelican setting",
		Long: `Print the value of a pelican setting as JSON. With VALUE, the setting is
changed for this run first; VALUE is parsed as JSON when possible and used
as a string otherwise.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value []any
			if len(args) == 3 {
				value = append(value, parseValue(args[2]))
			}

			return a.withSite(cmd.Context(), args[0], func(ctx context.Context, s *site.Site) error {
				raw, err := s.Setting(ctx, args[1], value...)
				if err != nil {
					return err
				}
				var v any
				if err := json.Unmarshal(raw, &v); err != nil {
					return fmt.Errorf("decode setting: %w", err)
				}
				return writeJSON(cmd.OutOrStdout(), v)
			})
		},
	}
}

// parseValue decodes s as JSON, falling back to the string itself.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

package main

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/enesunal-m/gemlive"
)

func newToolsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool declarations sent in the setup message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := renderTools(asJSON)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of YAML")
	return cmd
}

// renderTools prints the declarations in their wire form.
func renderTools(asJSON bool) ([]byte, error) {
	data, err := sonic.ConfigStd.MarshalIndent(gemlive.ToolDeclarations(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tools: %w", err)
	}
	if asJSON {
		return append(data, '\n'), nil
	}
	var generic any
	if err := sonic.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	return yaml.MarshalWithOptions(generic, yaml.Indent(2))
}

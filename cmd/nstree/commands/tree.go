package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/namespace"
)

// treeItem is the YAML export shape of one item.
type treeItem struct {
	Name     string     `yaml:"name"`
	Kind     string     `yaml:"kind"`
	Shape    []int      `yaml:"shape,omitempty,flow"`
	DType    string     `yaml:"dtype,omitempty"`
	Children []treeItem `yaml:"children,omitempty"`
}

func newTreeCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "tree [PATH]",
		Short: "Print a subtree",
		Example: `  nstree tree
  nstree tree /data -o yaml > data.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := namespace.RootPath
			if len(args) == 1 {
				path = args[0]
			}
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				id, err := m.Resolve(path)
				if err != nil {
					return err
				}
				var out string
				switch output {
				case "text":
					out, err = renderText(m.Tree(), id)
				case "yaml":
					out, err = renderYAML(m.Tree(), id)
				default:
					return errors.Newf("unsupported output: %s (supported: text, yaml)", output)
				}
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, yaml")
	return cmd
}

func renderText(t *namespace.Tree, id namespace.NodeID) (string, error) {
	var list pterm.LeveledList
	for n, depth := range t.Walk(id) {
		label := t.Name(n)
		if n == t.Root() {
			label = namespace.RootPath
		}
		if t.IsGroup(n) {
			if n != t.Root() {
				label += namespace.Separator
			}
		} else {
			label = fmt.Sprintf("%s %s %s", label, formatShape(t, n), t.DType(n))
		}
		list = append(list, pterm.LeveledListItem{Level: depth, Text: label})
	}
	return pterm.DefaultTree.WithRoot(putils.TreeFromLeveledList(list)).Srender()
}

func renderYAML(t *namespace.Tree, id namespace.NodeID) (string, error) {
	data, err := yaml.Marshal(exportItem(t, id))
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal tree to YAML")
	}
	return string(data), nil
}

func exportItem(t *namespace.Tree, id namespace.NodeID) treeItem {
	item := treeItem{Name: t.Name(id), Kind: t.Kind(id).String()}
	if id == t.Root() {
		item.Name = namespace.RootPath
	}
	if !t.IsGroup(id) {
		item.Shape = t.Shape(id)
		item.DType = t.DType(id)
		return item
	}
	for _, child := range t.Children(id) {
		item.Children = append(item.Children, exportItem(t, child))
	}
	return item
}

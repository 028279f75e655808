package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llmnode/internal/common/fsutil"
	"llmnode/internal/engine"
	"llmnode/internal/manifest"
	"llmnode/internal/models"
)

func newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plugins", Short: "Inspect engine plugins"}
	validate := &cobra.Command{
		Use:     "validate <dir>",
		Short:   "Validate every plugin manifest under dir without loading libraries",
		Example: "  llmnode plugins validate /opt/llmnode/engines",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fsutil.ExpandHome(args[0])
			if err != nil {
				return err
			}
			return validatePlugins(cmd, dir)
		},
	}
	cmd.AddCommand(validate)
	return cmd
}

func validatePlugins(cmd *cobra.Command, dir string) error {
	if !fsutil.IsDir(dir) {
		return fmt.Errorf("plugin dir %s does not exist", dir)
	}
	paths, err := fsutil.FindOneLevel(dir, manifest.FileName)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no %s found under %s", manifest.FileName, dir)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	failed := 0
	for _, p := range paths {
		m, err := manifest.Load(p, engine.ABIVersion)
		if err != nil {
			failed++
			fmt.Fprintf(tw, "FAIL\t%s\t%v\n", p, err)
			continue
		}
		fmt.Fprintf(tw, "ok\t%s\t%s %s (%s)\n", p, m.EngineID, m.EngineVersion, strings.Join(m.Runtimes, ","))
	}
	_ = tw.Flush()
	if failed > 0 {
		return fmt.Errorf("%d of %d manifests invalid", failed, len(paths))
	}
	return nil
}

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "models", Short: "Inspect the models directory"}
	list := &cobra.Command{
		Use:   "list <dir>",
		Short: "List the models a node would serve from dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fsutil.ExpandHome(args[0])
			if err != nil {
				return err
			}
			c, err := models.LoadDir(dir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tRUNTIME\tFORMAT\tARCH\tPATH")
			for _, d := range c.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Runtime, d.Format, strings.Join(d.Architectures, ","), d.PrimaryPath)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(list)
	return cmd
}

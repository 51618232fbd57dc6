// indexctl is the offline index administration tool: it builds a segment
// from a corpus slice or appends a single document, without going through
// the HTTP service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corpusnext/papersearch/internal/index/builder"
	"github.com/corpusnext/papersearch/internal/index/segment"
	"github.com/corpusnext/papersearch/pkg/logger"
)

func main() {
	var (
		indexDir    string
		barrelCount uint32
		logLevel    string
	)

	root := &cobra.Command{
		Use:   "indexctl",
		Short: "Build and maintain papersearch index segments",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(logLevel, "text")
		},
	}
	root.PersistentFlags().StringVar(&indexDir, "index-dir", "data/index", "index root directory")
	root.PersistentFlags().Uint32Var(&barrelCount, "barrels", segment.DefaultBarrelCount, "barrels per segment")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	buildCmd := &cobra.Command{
		Use:   "build <corpus-dir>",
		Short: "Build a new segment from a corpus slice (metadata.csv + document_parses)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := builder.New(indexDir, barrelCount)
			segName, docs, err := b.BuildSlice(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("built %s with %d documents\n", segName, docs)
			return nil
		},
	}

	var (
		uid     string
		title   string
		relPath string
	)
	addCmd := &cobra.Command{
		Use:   "add <corpus-root>",
		Short: "Append a single paper JSON as a one-document segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := builder.New(indexDir, barrelCount)
			segName, err := b.AddDocument(args[0], relPath, uid, title)
			if err != nil {
				return err
			}
			fmt.Printf("added %s as %s\n", uid, segName)
			return nil
		},
	}
	addCmd.Flags().StringVar(&uid, "uid", "", "paper uid")
	addCmd.Flags().StringVar(&title, "title", "", "paper title")
	addCmd.Flags().StringVar(&relPath, "json", "", "paper JSON path relative to corpus root")
	addCmd.MarkFlagRequired("uid")
	addCmd.MarkFlagRequired("json")

	root.AddCommand(buildCmd, addCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

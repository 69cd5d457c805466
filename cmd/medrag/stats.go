package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/medtext/medrag/engine/domain"
)

var (
	statsJSON bool
	booksJSON bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(false); err != nil {
			return err
		}
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.index.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if statsJSON {
			return printJSON(cmd, stats)
		}
		cmd.Printf("Index:     %s (%s)\n", cfg.IndexName, cfg.VectorBackend)
		cmd.Printf("Vectors:   %d\n", stats.TotalVectorCount)
		if stats.Dimension > 0 {
			cmd.Printf("Dimension: %d\n", stats.Dimension)
		}
		return nil
	},
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List ingested books from the catalog",
	Long:  `Lists the books recorded in the Neo4j catalog. Needs NEO4J_URL.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(false); err != nil {
			return err
		}
		a, err := openApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.catalog == nil {
			return errors.New("book catalog disabled: set NEO4J_URL")
		}
		books, err := a.catalog.List(cmd.Context())
		if err != nil {
			return err
		}
		if booksJSON {
			return printJSON(cmd, books)
		}
		printBooks(cmd, books)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	booksCmd.Flags().BoolVar(&booksJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statsCmd, booksCmd)
}

func printBooks(cmd *cobra.Command, books []domain.Book) {
	if len(books) == 0 {
		cmd.Println("No books ingested yet.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPAGES\tCHUNKS\tSIZE\tINGESTED")
	for _, b := range books {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			b.Name, b.Pages, b.Chunks, humanize.Bytes(uint64(max(b.FileSize, 0))), humanize.Time(b.IngestedAt))
	}
	_ = w.Flush()
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

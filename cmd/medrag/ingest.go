package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/medtext/medrag/engine/ingest"
)

var (
	ingestPDF     string
	ingestName    string
	ingestRebuild bool
	ingestAsync   bool
	ingestYes     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a textbook PDF into the vector index",
	Long: `Extracts the text of a PDF, splits it into overlapping passages, embeds
them and stores them under the given book name. Ingesting the same book
again replaces its previous passages.

--rebuild deletes every vector in the index first and asks for
confirmation. --async hands the job to a worker over NATS instead.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPDF, "pdf", "", "path to the PDF file")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "book name stored with every passage")
	ingestCmd.Flags().BoolVar(&ingestRebuild, "rebuild", false, "delete all existing vectors before ingesting")
	ingestCmd.Flags().BoolVar(&ingestAsync, "async", false, "enqueue the job for a worker instead of running it here")
	ingestCmd.Flags().BoolVarP(&ingestYes, "yes", "y", false, "skip the rebuild confirmation")
	_ = ingestCmd.MarkFlagRequired("pdf")
	_ = ingestCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(false); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if ingestAsync && a.nc == nil {
		return errors.New("--async needs NATS_URL")
	}
	p, err := a.pipeline()
	if err != nil {
		return err
	}

	if ingestRebuild {
		cmd.Println("Rebuilding index from scratch...")
		if !ingestYes && !confirm(cmd, "This will delete all existing vectors. Continue? (yes/no): ") {
			cmd.Println("Cancelled")
			return nil
		}
		if err := p.Rebuild(ctx); err != nil {
			return err
		}
		cmd.Println("Index cleared")
	}

	req := ingest.Request{Path: ingestPDF, Book: ingestName}
	if ingestAsync {
		id, err := ingest.Enqueue(ctx, a.nc, req)
		if err != nil {
			return err
		}
		cmd.Printf("Queued job %s for %q\n", id, req.Book)
		return nil
	}

	cmd.Printf("Ingesting %q from %s\n", req.Book, req.Path)
	res, err := p.Ingest(ctx, req)
	if err != nil {
		return fmt.Errorf("ingest %q: %w", req.Book, err)
	}
	cmd.Printf("Ingested %q: %d pages, %d chunks in %s\n",
		res.Book.Name, res.Book.Pages, res.Book.Chunks, res.Duration.Round(time.Millisecond))

	stats, err := a.index.Stats(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Index stats: %d vectors\n", stats.TotalVectorCount)
	return nil
}

// confirm reads one line and accepts only "yes".
func confirm(cmd *cobra.Command, prompt string) bool {
	cmd.Print(prompt)
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

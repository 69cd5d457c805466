package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/medtext/medrag/engine/domain"
)

var (
	askTopK int
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed textbooks",
	Long: `Retrieves the most similar passages, asks the language model for an
answer grounded in them and prints it with page references. When both
models fail the references are still printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "passages to retrieve (default TOP_K)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	c := cfg
	if askTopK > 0 {
		c.TopK = askTopK
	}
	if err := c.Validate(true); err != nil {
		return err
	}
	question := strings.Join(args, " ")
	if err := domain.ValidateQuestion(question); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, c, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.askService(ctx)
	if err != nil {
		return err
	}
	answer, err := svc.Ask(ctx, question)
	if err != nil {
		return err
	}

	if askJSON {
		return printJSON(cmd, answer)
	}
	printAnswer(cmd, answer)
	return nil
}

func printAnswer(cmd *cobra.Command, a domain.Answer) {
	cmd.Println("Answer:")
	cmd.Println(a.Content)
	if a.Explanation != "" {
		cmd.Println()
		cmd.Println("Explanation:")
		cmd.Println(a.Explanation)
	}
	if len(a.References) > 0 {
		cmd.Println()
		cmd.Println("References:")
		for i, r := range a.References {
			cmd.Printf("  [%d] %s, page %d\n", i+1, r.Book, r.Page)
			if r.Excerpt != "" {
				cmd.Printf("      %s\n", r.Excerpt)
			}
		}
	}
	cmd.Println()
	cmd.Printf("status=%s model=%s elapsed=%s\n", a.Status, orDash(a.Model), a.Elapsed.Round(time.Millisecond))
	if a.Reason != "" {
		cmd.Printf("reason: %s\n", a.Reason)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

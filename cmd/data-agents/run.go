package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Mindburn-Labs/data-agents/pkg/tabular"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an ingestion run",
	Long: `Start an ingestion run over a tabular input file.

The run previews the file, proposes header candidates, and either
completes or suspends for human confirmation. A suspended run prints
the candidate choices and exits with code 2; confirm and resume it
later, or pass --interactive to pick a candidate in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		runID, _ := cmd.Flags().GetString("run-id")
		interactive, _ := cmd.Flags().GetBool("interactive")
		if runID == "" {
			runID = time.Now().UTC().Format("20060102-150405")
		}

		ctx := cmd.Context()
		flow, err := buildFlow(ctx)
		if err != nil {
			return err
		}

		resp, err := flow.RunFromFile(ctx, runID, input)
		if err != nil {
			return err
		}
		fmt.Println(resp.Message)
		if resp.Status != tabular.StatusNeedsConfirmation {
			return nil
		}

		fmt.Println(resp.Question)
		printChoices(resp.Choices)
		fmt.Printf("Next: data-agents confirm --run-id %s --choice <candidate_id>\n", runID)

		if !interactive {
			return errSuspended
		}

		choiceID, err := promptChoice(resp.Choices)
		if err != nil {
			return err
		}
		if err := flow.WriteHumanConfirmation(ctx, runID, choiceID, "interactive"); err != nil {
			return err
		}
		fmt.Printf("Confirmation saved for %s. Resuming...\n", choiceID)

		after, err := flow.ContinueRun(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Println(after.Message)
		if after.Status == tabular.StatusNeedsConfirmation {
			return errSuspended
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("input", "", "Path or URI of the input file (.xlsx, .xls or .csv)")
	runCmd.Flags().String("run-id", "", "Run id (default: UTC timestamp)")
	runCmd.Flags().Bool("interactive", false, "Prompt for a candidate and resume in place")
	_ = runCmd.MarkFlagRequired("input")
}

func choiceLabel(choice tabular.Choice) string {
	confidence := strconv.FormatFloat(choice.Confidence, 'f', -1, 64)
	return fmt.Sprintf("%s | confidence=%s | %s", choice.ID, confidence, strings.Join(choice.NormalizedHeaders, ", "))
}

func printChoices(choices []tabular.Choice) {
	for i, choice := range choices {
		fmt.Printf("%d) %s\n", i+1, choiceLabel(choice))
	}
}

// promptChoice asks the operator to pick a candidate: a select form on
// a TTY, a plain line read otherwise. Free-form input accepts either a
// candidate id or a 1-based number from the printed list.
func promptChoice(choices []tabular.Choice) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		options := make([]huh.Option[string], 0, len(choices))
		for _, choice := range choices {
			options = append(options, huh.NewOption(choiceLabel(choice), choice.ID))
		}
		var selected string
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose header candidate").
				Options(options...).
				Value(&selected),
		))
		if err := form.Run(); err != nil {
			return "", err
		}
		return selected, nil
	}

	fmt.Print("Choose candidate (id or number): ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return resolveChoiceInput(strings.TrimSpace(line), choices), nil
}

func resolveChoiceInput(input string, choices []tabular.Choice) string {
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(choices) {
		return choices[n-1].ID
	}
	return input
}

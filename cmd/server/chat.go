package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ashureev/sahayak/internal/dialogue"
	"github.com/ashureev/sahayak/internal/session"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2E86AB"))
	botStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B8A3E"))
	traceStyle = lipgloss.NewStyle().Faint(true)
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant on the terminal",
	Long: `Runs one conversation over stdin and stdout. Each line is one turn.
The conversation ends on a closing phrase or end of input.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("lang", "", "conversation language (tamil, english); default from DEFAULT_LANGUAGE")
	chatCmd.Flags().Float64("confidence", 1.0, "speech-recognition confidence attached to every line")
	chatCmd.Flags().Bool("trace", false, "print the state trace of every turn")
}

func runChat(cmd *cobra.Command, _ []string) error {
	// Logs go to stderr so they do not interleave with the conversation.
	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	lang, _ := cmd.Flags().GetString("lang")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	trace, _ := cmd.Flags().GetBool("trace")
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("--confidence must be within [0, 1]")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	id, err := a.sessions.Create(ctx, lang)
	if err != nil {
		return err
	}
	defer func() { _ = a.sessions.End(context.Background(), id) }()

	return chat(ctx, a.sessions, id, confidence, trace, cmd.InOrStdin(), cmd.OutOrStdout())
}

func chat(ctx context.Context, sessions *session.Manager, id string, confidence float64, trace bool, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, userStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())

		res, err := sessions.ProcessTurn(ctx, id, text, confidence)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", botStyle.Render("sahayak>"), res.Response)
		if trace {
			fmt.Fprintln(out, traceStyle.Render(formatTrace(res)))
		}
		if res.NextAction == dialogue.NextEnd {
			return nil
		}
	}
}

func formatTrace(res session.TurnResult) string {
	states := make([]string, len(res.Trace))
	for i, s := range res.Trace {
		states[i] = string(s)
	}
	line := fmt.Sprintf("  [%s] intent=%s confidence=%.2f", strings.Join(states, " > "), res.Intent, res.Confidence)
	if res.ErrorKind != "" {
		line += " error=" + string(res.ErrorKind)
	}
	if len(res.ToolsUsed) > 0 {
		line += " tools=" + strings.Join(res.ToolsUsed, ",")
	}
	return line
}

package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"recap-gateway/internal/models"
	providerfactory "recap-gateway/internal/provider/factory"
	"recap-gateway/internal/reasoning"
	"recap-gateway/internal/router"
)

type chatOptions struct {
	stream        bool
	provider      string
	afterProvider string
	system        string
	showReasoning bool
	raw           bool
	maxTokens     int
	timeout       time.Duration
}

func newChatCommand(opts *globalOptions) *cobra.Command {
	co := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Send one prompt through the gateway",
		Long: `Send a single prompt through the failover chain and print the answer together
with the vendor that served it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			gw, err := providerfactory.Build(cfg, opts.logger)
			if err != nil {
				return err
			}
			defer gw.Close()

			req := co.request(strings.Join(args, " "))
			out := cmd.OutOrStdout()

			if co.stream {
				return runStreamChat(cmd, gw.Router, req, co, out)
			}

			result, err := gw.Router.Chat(cmd.Context(), req)
			if err != nil {
				return err
			}
			printServedBy(out, result)
			if co.showReasoning && result.Reasoning != "" {
				color.New(color.Faint).Fprintln(out, strings.TrimSpace(result.Reasoning))
				fmt.Fprintln(out)
			}
			if err := printAnswer(out, result.Content, co.raw); err != nil {
				return err
			}
			printMetrics(out, result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&co.stream, "stream", "s", false, "stream the answer as it is generated")
	flags.StringVar(&co.provider, "provider", "", "pin the request to one vendor")
	flags.StringVar(&co.afterProvider, "after", "", "start the failover chain after this vendor")
	flags.StringVar(&co.system, "system", "", "system prompt")
	flags.BoolVar(&co.showReasoning, "reasoning", false, "print the model's reasoning")
	flags.BoolVar(&co.raw, "raw", false, "print the answer without markdown rendering")
	flags.IntVar(&co.maxTokens, "max-tokens", 0, "override the vendor's output token limit")
	flags.DurationVar(&co.timeout, "timeout", 0, "override every vendor's deadline")
	return cmd
}

func (co *chatOptions) request(prompt string) models.ChatRequest {
	req := models.ChatRequest{
		Messages:      chatMessages(co.system, prompt),
		Stream:        co.stream,
		Provider:      co.provider,
		AfterProvider: co.afterProvider,
		Options: models.ChatOptions{
			MaxTokens: co.maxTokens,
			Timeout:   co.timeout,
		},
	}
	if req.Provider != "" {
		req.AfterProvider = ""
	}
	return req
}

func runStreamChat(cmd *cobra.Command, rt *router.Router, req models.ChatRequest, co *chatOptions, out io.Writer) error {
	printer := &streamPrinter{out: out, showReasoning: co.showReasoning}

	result, err := rt.Stream(cmd.Context(), req, router.StreamOptions{
		OnFrame: printer.frame,
	})
	printer.finish()
	fmt.Fprintln(out)
	if result != nil {
		printServedBy(out, result)
		printMetrics(out, result)
	}
	return err
}

// streamPrinter writes streamed answer text as it arrives. Reasoning, whether sent
// in its own field or inline in <think> tags, is shown dimmed or not at all.
type streamPrinter struct {
	out           io.Writer
	showReasoning bool
	splitter      reasoning.Splitter
	inReasoning   bool
	answered      bool
}

func (p *streamPrinter) frame(f models.StreamFrame) {
	answer, inline := p.splitter.Feed(f.Content)
	p.reasoning(f.Reasoning + inline)
	p.answer(answer)
}

func (p *streamPrinter) finish() {
	answer, inline := p.splitter.Flush()
	p.reasoning(inline)
	p.answer(answer)
}

func (p *streamPrinter) reasoning(text string) {
	if !p.showReasoning || text == "" {
		return
	}
	p.inReasoning = true
	color.New(color.Faint).Fprint(p.out, text)
}

func (p *streamPrinter) answer(text string) {
	if !p.answered {
		text = strings.TrimLeft(text, " \t\r\n")
	}
	if text == "" {
		return
	}
	if p.inReasoning {
		fmt.Fprint(p.out, "\n\n")
		p.inReasoning = false
	}
	p.answered = true
	fmt.Fprint(p.out, text)
}

func printServedBy(out io.Writer, result *models.ChatResult) {
	served := color.New(color.FgCyan, color.Bold)
	served.Fprintf(out, "%s", result.Provider)
	if result.Model != "" {
		fmt.Fprintf(out, " (%s)", result.Model)
	}
	if n := len(result.Attempts); n > 1 {
		color.New(color.FgYellow).Fprintf(out, "  after %d attempts", n)
	}
	fmt.Fprintln(out)
}

func printAnswer(out io.Writer, answer string, raw bool) error {
	if raw {
		_, err := fmt.Fprintln(out, answer)
		return err
	}

	style := glamour.WithAutoStyle()
	if color.NoColor {
		style = glamour.WithStandardStyle("notty")
	}
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	rendered, err := renderer.Render(answer)
	if err != nil {
		return fmt.Errorf("render answer: %w", err)
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}

func printMetrics(out io.Writer, result *models.ChatResult) {
	tokens := fmt.Sprintf("%d tokens", result.Usage.CompletionTokens)
	if result.Usage.Estimated {
		tokens = "~" + tokens
	}
	color.New(color.Faint).Fprintf(out, "ttft %s · total %s · %s · %.2f tok/s\n",
		result.Metrics.TTFT.Round(time.Millisecond),
		result.Metrics.Elapsed.Round(time.Millisecond),
		tokens,
		result.Metrics.TokensPerSecond,
	)
}

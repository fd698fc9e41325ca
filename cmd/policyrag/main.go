package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"policyrag/internal/conversation"
	"policyrag/internal/domain"
	"policyrag/internal/tui"
)

var (
	configPath string
	docPaths   []string
	verbose    bool
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage tells startup failures apart from errors of a single command.
func errorMessage(err error) string {
	if domain.IsStartupError(err) {
		return "Startup failed: " + err.Error()
	}
	return "Error: " + err.Error()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "policyrag",
		Short:         "Chat with a policy manual",
		Long:          "policyrag indexes policy documents at startup and answers questions grounded only in their content.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runChat,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml, then ~/.config/policyrag/config.yaml)")
	root.PersistentFlags().StringArrayVarP(&docPaths, "doc", "d", nil, "document path or ** pattern; overrides documents.paths (repeatable)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr (non-interactive commands)")

	root.AddCommand(
		&cobra.Command{Use: "chat", Short: "Start the interactive chat (default)", Args: cobra.NoArgs, RunE: runChat},
		askCmd(),
		searchCmd(),
		&cobra.Command{Use: "index", Short: "Build the index and print what was indexed", Args: cobra.NoArgs, RunE: runIndex},
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, true, true)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.svc.Stats()
	header := fmt.Sprintf("%d document(s), %d chunks, embedder %s, model %s",
		st.Documents, st.Chunks, st.Embedder, st.Model)
	if s := a.svc.Summary(); s != "" {
		header += "\n" + s
	}
	m := tui.New(ctx, a.svc, conversation.NewSession(), tui.Options{Summary: header})
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := setup(ctx, true, false)
			if err != nil {
				return err
			}
			defer a.Close()

			answer, err := conversation.NewSession().Ask(ctx, a.svc, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run the retrieval tool without a model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := setup(ctx, false, false)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if !raw {
				text, err := a.svc.Search(ctx, query)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, text)
				return nil
			}
			results, err := a.svc.Results(ctx, query, a.cfg.Retrieval.K, a.cfg.Retrieval.Lambda())
			if err != nil {
				return err
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %.4f  %s p.%d #%d\n%s\n\n", i+1, r.Score, r.Chunk.Source, r.Chunk.Page, r.Chunk.Index, r.Chunk.Text)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print ranked chunks with scores instead of the tool output")
	return cmd
}

func runIndex(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, false, false)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.svc.Stats()
	out := cmd.OutOrStdout()
	for _, p := range a.svc.Documents() {
		fmt.Fprintln(out, p)
	}
	fmt.Fprintf(out, "documents: %d\npages: %d\nchunks: %d\ndimension: %d\nembedder: %s\ntook: %s\n",
		st.Documents, st.Pages, st.Chunks, st.Dimension, st.Embedder, st.Took)
	if s := a.svc.Summary(); s != "" {
		fmt.Fprintf(out, "summary: %s\n", s)
	}
	return nil
}

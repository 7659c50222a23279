package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kon-agent/kon/internal/agent"
	"github.com/kon-agent/kon/internal/bus"
	"github.com/kon-agent/kon/internal/config"
	"github.com/kon-agent/kon/internal/llm"
	"github.com/kon-agent/kon/internal/session"
	"github.com/kon-agent/kon/internal/tools"
)

var (
	chatTools        string
	chatMaxTurns     int
	chatShowThinking bool
	chatNoSession    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Talk to the agent",
	Long: `Start an interactive session, or run a single prompt and exit.

Examples:
  kon chat
  kon chat "rename the Store interface to Repo"
  kon chat --tools read_file,grep         # restrict available tools
  kon chat --no-session                   # skip persistence

During an interactive session:
  Enter        - Send message (queued if the agent is busy)
  Ctrl+C       - Cancel the running cycle; twice to quit
  /quit        - Exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatTools, "tools", "", "Enable tools (comma-separated, or 'all')")
	chatCmd.Flags().IntVar(&chatMaxTurns, "max-turns", 0, "Max tool rounds per prompt (0 = config default)")
	chatCmd.Flags().BoolVar(&chatShowThinking, "thinking", false, "Print the model's thinking stream")
	chatCmd.Flags().BoolVar(&chatNoSession, "no-session", false, "Disable session persistence for this run")
	rootCmd.AddCommand(chatCmd)
}

const defaultSystemPrompt = `You are kon, a coding agent operating in the user's terminal.
You read, write, and edit files, run shell commands, and search the working
tree with the tools provided. Prefer small, verifiable steps: inspect before
editing, run the relevant tests or commands after changing code, and report
what you actually observed. Keep responses concise.`

// buildSystemPrompt assembles the per-call system prompt. Date and working
// directory are evaluated fresh on every provider call.
func buildSystemPrompt(instructions string) func() string {
	return func() string {
		var sb strings.Builder
		sb.WriteString(defaultSystemPrompt)
		if instructions != "" {
			sb.WriteString("\n\n")
			sb.WriteString(instructions)
		}
		now := time.Now()
		fmt.Fprintf(&sb, "\n\nCurrent date and time: %s", now.Format("Monday, January 2, 2006 at 3:04 PM MST"))
		if cwd, err := os.Getwd(); err == nil {
			fmt.Fprintf(&sb, "\nCurrent working directory: %s", cwd)
		}
		return sb.String()
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if chatTools != "" {
		cfg.Tools.Enabled = tools.ParseToolsFlag(chatTools)
		if errs := cfg.Tools.Validate(); len(errs) > 0 {
			return errs[0]
		}
	}
	if chatMaxTurns > 0 {
		cfg.Agent.MaxTurns = chatMaxTurns
	}
	if chatNoSession {
		cfg.Session.Enabled = false
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	eventBus := bus.New(logger)
	defer eventBus.Close()

	provider, err := buildProvider(cfg, eventBus.EmitFunc())
	if err != nil {
		return err
	}

	model := cfg.ActiveModel()
	registry := tools.BuildRegistry(cfg.Tools)

	estimator, err := agent.NewTokenEstimator(model)
	if err != nil {
		return fmt.Errorf("token estimator: %w", err)
	}
	compactor := agent.NewCompactor(
		estimator,
		llm.NewProviderSummarizer(provider, model),
		agent.OverflowPolicy(cfg.Compaction.OnOverflow),
		cfg.Compaction.ContextWindow,
		cfg.Compaction.BufferTokens,
		cfg.Compaction.KeepRecentTurns,
		eventBus.EmitFunc(),
	)

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:        provider,
		Registry:        registry,
		Compactor:       compactor,
		SystemPrompt:    buildSystemPrompt(cfg.Agent.Instructions),
		MaxOutputTokens: cfg.Agent.MaxOutputTokens,
		MaxTurns:        cfg.Agent.MaxTurns,
		MaxConcurrency:  cfg.Agent.MaxConcurrency,
		IdleTimeout:     time.Duration(cfg.Agent.IdleTimeoutSeconds) * time.Second,
		QueueCapacity:   cfg.Agent.QueueCapacity,
		Emit:            eventBus.EmitFunc(),
		Logger:          logger,
	})

	store, err := session.NewStore(cfg.Session)
	if err != nil {
		logger.Warn().Err(err).Msg("session store unavailable, continuing without persistence")
		store = &session.NoopStore{}
	}
	defer store.Close()

	cwd, _ := os.Getwd()
	recorder := session.NewRecorder(store, &session.Session{
		ID:       session.NewID(),
		Provider: provider.Name(),
		Model:    model,
		CWD:      cwd,
	}, logger)
	recorder.Begin(ctx)

	events, err := eventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// The printer goroutine owns stdout: it renders the event stream and
	// reports each completed cycle on done.
	done := make(chan cycleOutcome, 1)
	printer := &eventPrinter{
		out:          os.Stdout,
		showThinking: chatShowThinking,
		showStats:    flagStats,
	}
	go printer.run(events, done)

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	go loop.Run(loopCtx)

	// One-shot mode: single prompt, wait for the cycle, exit.
	if len(args) > 0 {
		prompt := strings.Join(args, " ")
		recorder.RecordPrompt(ctx, prompt)
		if err := loop.Submit(prompt); err != nil {
			return err
		}
		outcome := waitCycle(ctx, loop, done)
		recorder.Sync(context.Background(), loop.Messages(), outcome.llmTurns, outcome.toolCalls, outcome.usage)
		recorder.End(context.Background(), statusFor(outcome, ctx))
		return outcome.err
	}

	return runREPL(ctx, cfg, loop, recorder, done)
}

// cycleOutcome is what the printer learned from one agent_start..agent_end
// span.
type cycleOutcome struct {
	usage     llm.Usage
	llmTurns  int
	toolCalls int
	err       error
}

// waitCycle blocks for the cycle's outcome; on interrupt it cancels the
// cycle and still waits for agent_end so the rewind is observed.
func waitCycle(ctx context.Context, loop *agent.Loop, done <-chan cycleOutcome) cycleOutcome {
	select {
	case outcome := <-done:
		return outcome
	case <-ctx.Done():
		loop.Cancel()
		return <-done
	}
}

func statusFor(outcome cycleOutcome, ctx context.Context) session.Status {
	switch {
	case ctx.Err() != nil:
		return session.StatusInterrupted
	case outcome.err != nil:
		return session.StatusError
	default:
		return session.StatusComplete
	}
}

func runREPL(ctx context.Context, cfg *config.Config, loop *agent.Loop, recorder *session.Recorder, done <-chan cycleOutcome) error {
	fmt.Printf("kon %s | %s | /quit to exit\n", Version, cfg.ActiveModel())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	pending := 0
	status := session.StatusComplete
	for {
		select {
		case <-ctx.Done():
			loop.Cancel()
			for pending > 0 {
				<-done
				pending--
			}
			recorder.End(context.Background(), session.StatusInterrupted)
			fmt.Println()
			return nil

		case outcome := <-done:
			pending--
			recorder.Sync(context.Background(), loop.Messages(), outcome.llmTurns, outcome.toolCalls, outcome.usage)
			if outcome.err != nil {
				status = session.StatusError
			}

		case line, ok := <-lines:
			if !ok {
				// stdin closed; drain in-flight work then leave
				for pending > 0 {
					outcome := <-done
					pending--
					recorder.Sync(context.Background(), loop.Messages(), outcome.llmTurns, outcome.toolCalls, outcome.usage)
				}
				recorder.End(context.Background(), status)
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" {
				loop.Cancel()
				for pending > 0 {
					<-done
					pending--
				}
				recorder.End(context.Background(), status)
				return nil
			}
			recorder.RecordPrompt(ctx, line)
			if err := loop.Submit(line); err != nil {
				fmt.Fprintf(os.Stderr, "queue full (%d pending), prompt dropped\n", loop.QueueLen())
				continue
			}
			pending++
		}
	}
}

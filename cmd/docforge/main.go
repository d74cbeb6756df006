// Command docforge runs the documentation-synthesis engine once against
// a pre-built component manifest, writing the resulting Markdown tree
// under --docs-dir (§6).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"docforge/internal/engine"
	"docforge/internal/llm"
	"docforge/internal/progress"
	"docforge/internal/scheduler"
)

var verbose bool

func main() {
	os.Exit(run())
}

// run builds the root command and returns the process exit code
// (§6: 0 success, 2 partial success, 3 LLM exhausted, 4 invalid
// config, 130 cancelled), rather than calling os.Exit directly, so the
// command itself stays testable.
func run() int {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "docforge",
		Short: "Synthesize a documentation tree from a pre-extracted component manifest",
		Long: `docforge drives the Clusterer, Module Tree Store, Scheduler and Agent
Orchestrator over a fixed Config to produce a Markdown documentation
tree under --docs-dir.

It does not parse source itself: point --components-file at a JSON
manifest of {"components": {...}, "leaf_set": [...]} produced by
whatever AST-extraction tool front-ends this command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindFlags(rootCmd, v)

	exitCode := 0
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		exitCode = runEngine(cmd, v)
		if exitCode != 0 {
			return fmt.Errorf("docforge: exit %d", exitCode)
		}
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		if exitCode == 0 {
			exitCode = 4
		}
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode
}

func runEngine(cmd *cobra.Command, v *viper.Viper) int {
	log := newLogger()
	defer func() { _ = log.Sync() }()

	cfg, useTUI, err := loadConfig(v)
	if err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return 4
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Info("received shutdown signal, cancelling run")
			cancel()
		case <-ctx.Done():
		}
	}()

	e := engine.New(cfg, log)

	var eventsCh chan scheduler.Event
	var tuiDone chan struct{}
	if useTUI {
		eventsCh = make(chan scheduler.Event, 64)
		tuiDone = make(chan struct{})
		e.Renderer = func(ev scheduler.Event) { eventsCh <- ev }
		go func() {
			defer close(tuiDone)
			p := tea.NewProgram(progress.NewTUIModel(eventsCh))
			if _, err := p.Run(); err != nil {
				log.Warn("tui exited with an error", zap.Error(err))
			}
		}()
	} else {
		renderer := progress.NewPlainRenderer(os.Stdout)
		e.Renderer = renderer.OnEvent
	}

	result, runErr := e.Run(ctx)

	if useTUI {
		close(eventsCh)
		<-tuiDone
	}

	return exitCodeFor(result, runErr, log)
}

func exitCodeFor(result engine.Result, runErr error, log *zap.Logger) int {
	var cancelled *engine.Cancelled
	if errors.As(runErr, &cancelled) {
		log.Warn("run cancelled", zap.Error(runErr))
		return 130
	}
	var configInvalid *engine.ConfigInvalid
	if errors.As(runErr, &configInvalid) {
		log.Error("invalid configuration", zap.Error(runErr))
		return 4
	}
	var exhausted *llm.LLMExhausted
	if errors.As(runErr, &exhausted) {
		log.Error("llm cascade exhausted", zap.Error(runErr))
		return 3
	}
	if runErr != nil {
		log.Error("run failed", zap.Error(runErr))
		return 3
	}
	if !result.OK || result.ModulesFailed > 0 {
		log.Warn("run completed with failures",
			zap.Int("modules_done", result.ModulesDone),
			zap.Int("modules_failed", result.ModulesFailed),
			zap.Strings("errors", result.Errors))
		return 2
	}
	log.Info("run complete",
		zap.Int("modules_total", result.ModulesTotal),
		zap.Int("modules_done", result.ModulesDone))
	return 0
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

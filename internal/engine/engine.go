// Package engine ties the Clusterer, Module Tree Store, Scheduler and
// Agent Orchestrator together into the single entry point described by
// spec.md §2: given a Config, a Component map and a LeafSet, it
// produces a documentation tree on disk and returns a summary Result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docforge/internal/cluster"
	"docforge/internal/llm"
	"docforge/internal/moduletree"
	"docforge/internal/orchestrator"
	"docforge/internal/safeio"
	"docforge/internal/scheduler"
	"docforge/internal/treestore"
)

// rootModuleName is the Clusterer's fixed name for the tree's single
// top-level module (cluster.Partition always wraps the result in one
// node named "root"). The engine treats that node as the repository
// itself: whatever Markdown it ends up with becomes overview.md,
// whether it stayed a single leaf (the degenerate case §4.5.3) or grew
// into the top of a real hierarchy.
const rootModuleName = "root"

// Result is the exit summary (§6): {ok, modules_total, modules_done,
// modules_failed, errors[]}.
type Result struct {
	OK            bool
	ModulesTotal  int
	ModulesDone   int
	ModulesFailed int
	Errors        []string
}

// Engine runs one documentation pass over a fixed Config.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	runID    string
	Renderer func(scheduler.Event) // optional; defaults to no rendering
}

// New builds an Engine. log may be nil. Each Engine mints its own
// run_id (a v4 UUID, matching the pack's run/session identity
// convention) so every log line emitted over the run's lifetime can be
// correlated, including across the separate Gateway/Scheduler/
// Orchestrator components that don't otherwise share state.
func New(cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	runID := uuid.NewString()
	return &Engine{cfg: cfg, log: log.With(zap.String("run_id", runID)), runID: runID}
}

// RunID returns the identifier minted for this Engine's run, primarily
// so callers can correlate their own logs with the engine's.
func (e *Engine) RunID() string { return e.runID }

// Run executes one full pass: validate config, build the Gateway, load
// or cluster the module tree, schedule every module's generation, and
// write the root overview last (P8).
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if err := e.cfg.Validate(); err != nil {
		return Result{}, err
	}
	e.log.Info("engine: starting run", zap.String("repo_dir", e.cfg.RepoDir), zap.String("docs_dir", e.cfg.DocsDir))

	store, err := treestore.New(e.cfg.DocsDir, e.log)
	if err != nil {
		return Result{}, &ConfigInvalid{Reason: err.Error()}
	}

	gw, err := llm.Build(ctx, llm.BuildConfig{
		AgentCmd:              e.cfg.AgentCmd,
		WorkDir:               e.cfg.DocsDir,
		BaseURL:               e.cfg.BaseURL,
		APIKey:                e.cfg.APIKey,
		MainModel:             e.cfg.MainModel,
		FallbackModels:        e.cfg.FallbackModels,
		GeminiModel:           e.cfg.GeminiModel,
		AnthropicModel:        e.cfg.AnthropicModel,
		MaxTokenPerModule:     e.cfg.MaxTokenPerModule,
		MaxTokenPerLeafModule: e.cfg.MaxTokenPerLeafModule,
		RPS:                   e.cfg.RPS,
		Burst:                 e.cfg.Burst,
	}, e.log)
	if err != nil {
		return Result{}, &ConfigInvalid{Reason: err.Error()}
	}
	defer gw.Close()

	tree, err := e.loadOrCluster(ctx, gw, store)
	if err != nil {
		return Result{}, err
	}

	universe := make(map[string]struct{}, len(e.cfg.LeafSet))
	for id := range e.cfg.LeafSet {
		universe[id] = struct{}{}
	}
	if err := tree.ValidateInvariants(universe, e.cfg.MaxDepth); err != nil {
		return Result{}, fmt.Errorf("engine: %w", err)
	}

	if tree.Len() == 0 {
		return e.runEmptyRepo(ctx, gw, store)
	}

	// Fast-path ported from the original implementation's
	// process_module/generate_parent_module_docs global early-exit
	// (SPEC_FULL's "idempotent skip-if-exists check"): if overview.md
	// is already on disk, every module it could possibly depend on must
	// have already been finished in a prior run, so there is nothing
	// left to schedule and zero LLM calls are made (P6).
	if store.OverviewExists() && allDone(tree) {
		result := Result{OK: true}
		_ = tree.Walk(func(path []string, m *moduletree.Module) error {
			result.ModulesTotal++
			result.ModulesDone++
			return nil
		})
		if err := e.writeMetadata(tree, store, nil); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
		return result, nil
	}

	var repoFS *safeio.SafeFS
	if e.cfg.RepoDir != "" {
		if fs, err := safeio.NewSafeFS(e.cfg.RepoDir); err == nil {
			repoFS = fs
		} else {
			e.log.Warn("engine: repo_dir not usable as a read-only view root, agent view(\"repo:...\") will fail", zap.String("repo_dir", e.cfg.RepoDir), zap.Error(err))
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Gateway:       gw,
		Components:    e.cfg.Components,
		DocsFS:        store.FS(),
		RepoFS:        repoFS,
		MaxTokens:     e.cfg.MaxTokens,
		AgentCmd:      e.cfg.AgentCmd,
		CustomInstrs:  e.cfg.CustomInstructions,
		MaxAgentTurns: e.cfg.MaxAgentTurns,
	}, e.log)

	result, runErr := e.schedule(ctx, tree, store, orch)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return result, &Cancelled{Err: runErr}
		}
		return result, runErr
	}

	if err := e.finalizeOverview(tree, store); err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.OK = false
		return result, nil
	}

	if err := e.writeMetadata(tree, store, result.Errors); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	return result, nil
}

// loadOrCluster implements the Resume rule (§4.3): if module_tree.json
// already exists, load it (P6's zero-LLM-calls-on-a-clean-rerun path);
// otherwise partition the LeafSet from scratch and persist the result.
func (e *Engine) loadOrCluster(ctx context.Context, gw *llm.Gateway, store *treestore.Store) (*moduletree.Tree, error) {
	if store.Exists() {
		tree, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("engine: resume: %w", err)
		}
		reconcileMissingFiles(tree, store)
		return tree, nil
	}

	c := cluster.New(gw, e.cfg.Components, cluster.Config{
		MaxTokenPerLeafModule: e.cfg.MaxTokenPerLeafModule,
		MaxDepth:              e.cfg.MaxDepth,
	}, e.log)

	tree, err := c.Partition(ctx, e.cfg.LeafSet.IDs())
	if err != nil {
		return nil, fmt.Errorf("engine: clustering: %w", err)
	}

	assigned := treestore.AssignDocPaths(tree)
	_ = tree.Walk(func(path []string, m *moduletree.Module) error {
		if len(path) == 1 && path[0] == rootModuleName {
			m.DocPath = treestore.OverviewFilename
			return nil
		}
		m.DocPath = assigned[m]
		return nil
	})

	if err := store.SaveInitial(tree); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return tree, nil
}

// allDone reports whether every module in t is already StatusDone,
// i.e. reconcileMissingFiles found nothing stale to reset.
func allDone(t *moduletree.Tree) bool {
	ok := true
	_ = t.Walk(func(path []string, m *moduletree.Module) error {
		if m.DocStatus != moduletree.StatusDone {
			ok = false
		}
		return nil
	})
	return ok
}

// reconcileMissingFiles resets any module whose recorded doc_status is
// StatusDone but whose Markdown file is no longer on disk (e.g. a user
// deleted overview.md by hand, Scenario S3) back to StatusAbsent so the
// Scheduler regenerates exactly that module and nothing else. A
// non-leaf module is reset whenever any direct child is not Done,
// since its already-generated overview inlined that child's now-stale
// or missing content — this keeps I2 intact before ValidateInvariants
// ever sees the tree.
func reconcileMissingFiles(t *moduletree.Tree, store *treestore.Store) {
	if t == nil {
		return
	}
	for _, name := range t.Names() {
		m := t.Get(name)
		reconcileMissingFiles(m.Children, store)

		if m.IsLeaf() {
			if m.DocStatus == moduletree.StatusDone && !store.FS().ExistsNonEmpty(m.DocPath) {
				m.DocStatus = moduletree.StatusAbsent
			}
			continue
		}

		childrenAllDone := true
		for _, childName := range m.Children.Names() {
			if m.Children.Get(childName).DocStatus != moduletree.StatusDone {
				childrenAllDone = false
				break
			}
		}
		if !childrenAllDone {
			m.DocStatus = moduletree.StatusAbsent
		} else if m.DocStatus == moduletree.StatusDone && !store.FS().ExistsNonEmpty(m.DocPath) {
			m.DocStatus = moduletree.StatusAbsent
		}
	}
}

// schedule runs the Scheduler over tree, dispatching each module to the
// Orchestrator and persisting both the Markdown file and the updated
// tree after every completion so a crash mid-run loses at most the one
// in-flight module.
func (e *Engine) schedule(ctx context.Context, tree *moduletree.Tree, store *treestore.Store, orch *orchestrator.Orchestrator) (Result, error) {
	result := Result{OK: true}

	run := func(ctx context.Context, path []string, m *moduletree.Module) error {
		effPath := path
		if len(path) > 0 && path[0] == rootModuleName {
			effPath = path[1:]
		}

		var doc string
		var genErr error
		if m.IsLeaf() {
			doc, genErr = orch.GenerateLeaf(ctx, effPath, m)
		} else {
			childDocs, derr := e.collectChildDocs(store, m)
			if derr != nil {
				return &FilesystemError{Path: path, Err: derr}
			}
			doc, genErr = orch.GenerateParent(ctx, effPath, m, childDocs)
		}
		if genErr != nil {
			return &ModuleFailed{Path: path, Err: genErr}
		}
		if err := store.WriteMarkdown(m.DocPath, []byte(doc)); err != nil {
			return &FilesystemError{Path: path, Err: err}
		}
		return nil
	}

	onEvent := func(ev scheduler.Event) {
		if e.Renderer != nil {
			e.Renderer(ev)
		}
		if ev.Kind == scheduler.EventSucceeded || ev.Kind == scheduler.EventFailed {
			if serr := store.Save(tree); serr != nil {
				e.log.Warn("engine: failed to persist tree after module completion", zap.Error(serr))
			}
		}
	}

	err := scheduler.Run(ctx, scheduler.Params{
		Tree:        tree,
		Concurrency: e.cfg.Concurrency,
		Run:         run,
		OnEvent:     onEvent,
	})

	_ = tree.Walk(func(path []string, m *moduletree.Module) error {
		result.ModulesTotal++
		switch m.DocStatus {
		case moduletree.StatusDone:
			result.ModulesDone++
		case moduletree.StatusFailed:
			result.ModulesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%v: generation failed", path))
			result.OK = false
		}
		return nil
	})

	return result, err
}

// collectChildDocs reads every direct child's already-written Markdown
// by doc_path, the contextual payload GenerateParent inlines into its
// prompt (§4.3). The Scheduler guarantees every child is StatusDone
// before this is called.
func (e *Engine) collectChildDocs(store *treestore.Store, m *moduletree.Module) (map[string]string, error) {
	childDocs := map[string]string{}
	if m.Children == nil {
		return childDocs, nil
	}
	for _, name := range m.Children.Names() {
		child := m.Children.Get(name)
		if child == nil || child.DocStatus != moduletree.StatusDone {
			continue
		}
		b, err := store.ReadMarkdown(child.DocPath)
		if err != nil {
			return nil, fmt.Errorf("reading child %q doc: %w", name, err)
		}
		childDocs[name] = string(b)
	}
	return childDocs, nil
}

// finalizeOverview checks the run's last step: loadOrCluster assigns the
// root module's doc_path to overview.md, so the scheduler wrote it after
// every other module. It fails unless the root module is done and
// overview.md holds valid Markdown; it writes nothing itself.
func (e *Engine) finalizeOverview(tree *moduletree.Tree, store *treestore.Store) error {
	root := tree.Get(rootModuleName)
	if root == nil {
		return nil
	}
	if root.DocStatus != moduletree.StatusDone {
		return fmt.Errorf("engine: root module did not complete, refusing to finalize overview.md")
	}
	return store.VerifyMarkdown(treestore.OverviewFilename)
}

// runEmptyRepo implements B1: an empty LeafSet produces an empty
// module_tree.json and an overview.md carrying an LLM-generated (or,
// absent a Gateway response, a static) "empty repository" note.
func (e *Engine) runEmptyRepo(ctx context.Context, gw *llm.Gateway, store *treestore.Store) (Result, error) {
	empty := moduletree.NewTree()
	if err := store.SaveInitial(empty); err != nil {
		return Result{}, fmt.Errorf("engine: %w", err)
	}

	note := "# Overview\n\nThis repository contains no documentable components."
	if text, err := gw.Generate(ctx, llm.PurposeOverview, "Write a short overview.md noting that this repository has no documentable code components."); err == nil {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			note = trimmed
		}
	}
	if err := store.WriteMarkdown(treestore.OverviewFilename, []byte(note)); err != nil {
		return Result{}, &FilesystemError{Err: err}
	}

	_ = e.writeMetadata(empty, store, nil)
	return Result{OK: true}, nil
}

// writeMetadata rewrites metadata.json with the final run counts.
func (e *Engine) writeMetadata(tree *moduletree.Tree, store *treestore.Store, errs []string) error {
	var files []string
	maxDepth := 0
	leafNodes := 0
	modules := 0
	_ = tree.Walk(func(path []string, m *moduletree.Module) error {
		modules++
		if len(path) > maxDepth {
			maxDepth = len(path)
		}
		if m.IsLeaf() {
			leafNodes++
		}
		if m.DocPath != "" {
			files = append(files, m.DocPath)
		}
		return nil
	})
	sort.Strings(files)

	return store.WriteMetadata(treestore.Metadata{
		GeneratedAt:    time.Now().UTC(),
		CommitID:       commitID(e.cfg.RepoDir),
		MainModel:      e.cfg.MainModel,
		FallbackModels: e.cfg.FallbackModels,
		Counts: treestore.Counts{
			Components: len(e.cfg.Components),
			LeafNodes:  leafNodes,
			Modules:    modules,
			MaxDepth:   maxDepth,
		},
		Files:  files,
		Errors: errs,
	})
}

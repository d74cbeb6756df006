// Package cluster implements the recursive top-down partitioning
// algorithm (§4.2) that turns a flat component universe into a
// documentation module tree: repeatedly ask an LLM to split an
// over-budget group of components into smaller named groups, validate
// the answer against strict structural invariants, repair on
// malformed output, and fall back to a deterministic partition if the
// LLM cascade is exhausted.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docforge/internal/component"
	"docforge/internal/llm"
	"docforge/internal/moduletree"
)

// Config bounds the partitioning process (§6's budget fields).
// MaxTokenPerLeafModule is the threshold a group's token estimate must
// be at or under to stop recursing and become a leaf module (§4.2 step
// 3, I5/P5). It is distinct from max_token_per_module, the Gateway's
// per-call token cap for the Cluster purpose (§6) — that knob lives in
// llm.Gateway's tokenCap map, not here, and must not be conflated with
// this one.
type Config struct {
	MaxTokenPerLeafModule int
	MaxDepth              int
	RepairRounds          int // additional attempts after the first malformed response; default 2
}

// Clusterer drives the recursive partition over one Gateway.
type Clusterer struct {
	gw         *llm.Gateway
	comps      component.Map
	cfg        Config
	log        *zap.Logger
	tokenCache *lru.Cache[string, int]
}

// New builds a Clusterer over the full component universe. MaxDepth is
// taken as given, including zero (B3: max_depth=0 must yield exactly
// one leaf module) — callers that want a sensible default apply it
// themselves before constructing Config, the way the CLI's viper
// defaults do.
func New(gw *llm.Gateway, comps component.Map, cfg Config, log *zap.Logger) *Clusterer {
	if cfg.RepairRounds <= 0 {
		cfg.RepairRounds = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	cache, _ := lru.New[string, int](512)
	return &Clusterer{gw: gw, comps: comps, cfg: cfg, log: log, tokenCache: cache}
}

// tokenSum is comps.TokenSum with an LRU memo: the same id set's token
// total is recomputed on every repair-round retry of partitionStep, and
// this avoids re-walking the component map each time.
func (c *Clusterer) tokenSum(ids []string) int {
	key := tokenCacheKey(ids)
	if v, ok := c.tokenCache.Get(key); ok {
		return v
	}
	v := c.comps.TokenSum(ids)
	c.tokenCache.Add(key, v)
	return v
}

func tokenCacheKey(ids []string) string {
	sorted := append([]string{}, ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// Partition builds the full module tree from every id in ids,
// recursing depth-first. ids becomes a single root-level module if it
// already fits the budget or MaxDepth is reached.
func (c *Clusterer) Partition(ctx context.Context, ids []string) (*moduletree.Tree, error) {
	root := moduletree.NewTree()
	if len(ids) == 0 {
		return root, nil
	}
	// depth starts at 1, not 0, so it stays consistent with
	// moduletree.Tree.ValidateInvariants' maxDepth check, which counts
	// depth as path length with the root module itself included (a bare
	// root leaf has len(path)==1). Starting this counter at 0 would let
	// partitionGroup recurse one level past what ValidateInvariants
	// accepts, since it works in a different, 0-based frame (root "at
	// depth 0") for naming purposes only (§4.2 step 3's base case).
	m, err := c.partitionGroup(ctx, "root", ids, 1)
	if err != nil {
		return nil, err
	}
	// A single top-level group becomes the tree's one root module (the
	// engine assigns this root module's doc_path to overview.md).
	root.Put(m)
	return root, nil
}

// partitionGroup returns one Module covering ids, recursing into
// Children if ids exceeds the token budget and depth allows it.
func (c *Clusterer) partitionGroup(ctx context.Context, name string, ids []string, depth int) (*moduletree.Module, error) {
	tokens := c.tokenSum(ids)
	if tokens <= c.cfg.MaxTokenPerLeafModule || depth >= c.cfg.MaxDepth {
		sorted := append([]string{}, ids...)
		sort.Strings(sorted) // P6: deterministic module_tree.json regardless of LeafSet map order
		return &moduletree.Module{
			Name:         name,
			Description:  describeGroup(ids, c.comps),
			ComponentIDs: sorted,
			DocStatus:    moduletree.StatusAbsent,
		}, nil
	}

	groups, err := c.partitionStep(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("cluster: partition %q at depth %d: %w", name, depth, err)
	}

	// Sibling groups at this level are independent LLM calls: partition
	// them concurrently rather than one at a time, the same
	// fan-out-and-wait shape the Scheduler uses across module jobs.
	childModules := make([]*moduletree.Module, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, g := range groups {
		i, g := i, g
		eg.Go(func() error {
			cm, err := c.partitionGroup(egCtx, g.Name, g.ComponentIDs, depth+1)
			if err != nil {
				return err
			}
			if g.Description != "" {
				cm.Description = g.Description
			}
			childModules[i] = cm
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	children := moduletree.NewTree()
	for _, cm := range childModules {
		children.Put(cm)
	}
	return &moduletree.Module{
		Name:         name,
		Description:  describeGroup(ids, c.comps),
		ComponentIDs: nil, // a non-leaf module's ids live entirely under its children
		DocStatus:    moduletree.StatusAbsent,
		Children:     children,
	}, nil
}

// group is the LLM's proposed (or the fallback's computed) partition
// entry.
type group struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ComponentIDs []string `json:"component_ids"`
}

type partitionResponse struct {
	Groups []group `json:"groups"`
}

// partitionStep asks the Gateway to split ids into 2-12 smaller
// groups, validates the answer, repairs malformed output up to
// cfg.RepairRounds times, and falls back to a deterministic partition
// if the LLM cascade is exhausted.
func (c *Clusterer) partitionStep(ctx context.Context, ids []string) ([]group, error) {
	totalTokens := c.tokenSum(ids)
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RepairRounds; attempt++ {
		prompt := buildPartitionPrompt(ids, c.comps, lastErr)
		raw, err := c.gw.Generate(ctx, llm.PurposeCluster, prompt)
		if err != nil {
			var exhausted *llm.LLMExhausted
			if errors.As(err, &exhausted) {
				c.log.Warn("cluster: llm cascade exhausted, falling back to deterministic partition",
					zap.Int("group_size", len(ids)), zap.Error(err))
				return sanitizeGroupNames(deterministicPartition(ids, c.comps)), nil
			}
			return nil, err
		}
		groups, verr := validatePartitionWithTotal(raw, ids, c.comps, totalTokens, c.tokenSum)
		if verr == nil {
			return sanitizeGroupNames(groups), nil
		}
		c.log.Debug("cluster: partition response failed validation, repairing",
			zap.Int("attempt", attempt), zap.Error(verr))
		lastErr = verr
	}
	c.log.Warn("cluster: repair rounds exhausted, falling back to deterministic partition",
		zap.Int("group_size", len(ids)), zap.Error(lastErr))
	return sanitizeGroupNames(deterministicPartition(ids, c.comps)), nil
}

// sanitizeGroupNames enforces I6 on a validated partition's group
// names: strip path separators and NUL bytes, then de-duplicate any
// collisions by suffixing a counter, so moduletree.Children.Put never
// silently overwrites one group with another of the same name.
func sanitizeGroupNames(groups []group) []group {
	seen := make(map[string]int, len(groups))
	out := make([]group, len(groups))
	for i, g := range groups {
		name := sanitizeSiblingName(g.Name)
		if name == "" {
			name = fmt.Sprintf("group-%d", i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s-%d", name, n)
			seen[name]++
		}
		g.Name = name
		out[i] = g
	}
	return out
}

// sanitizeSiblingName strips the characters I6 forbids in a module
// name (path separators, NUL) from LLM-supplied input.
func sanitizeSiblingName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "\x00", "")
	return name
}

func describeGroup(ids []string, comps component.Map) string {
	if len(ids) == 0 {
		return ""
	}
	kinds := map[component.Kind]int{}
	for _, id := range ids {
		if c, ok := comps[id]; ok {
			kinds[c.Kind]++
		}
	}
	return fmt.Sprintf("%d components", len(ids)) + summarizeKinds(kinds)
}

func summarizeKinds(kinds map[component.Kind]int) string {
	if len(kinds) == 0 {
		return ""
	}
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, string(k))
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%d %s", kinds[component.Kind(k)], k))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// buildPartitionPrompt renders the cluster-split prompt; lastErr, when
// non-nil, is appended as a repair instruction naming exactly what was
// wrong with the previous attempt.
func buildPartitionPrompt(ids []string, comps component.Map, lastErr error) string {
	var sb strings.Builder
	sb.WriteString("Split the following set of code components into 2 to 12 named groups. ")
	sb.WriteString("Every component id must appear in exactly one group, and each group's total token estimate must be strictly less than the input's total. ")
	sb.WriteString("Respond with JSON: {\"groups\":[{\"name\":string,\"description\":string,\"component_ids\":[string]}]}.\n\n")
	if lastErr != nil {
		fmt.Fprintf(&sb, "Your previous response was invalid: %v. Fix this and respond again with valid JSON only.\n\n", lastErr)
	}
	sb.WriteString("Components:\n")
	for _, id := range ids {
		c := comps[id]
		fmt.Fprintf(&sb, "- %s (%s, %s:%d-%d, ~%d tokens)\n", id, c.Kind, c.FilePath, c.StartLine, c.EndLine, c.EstimateTokens())
	}
	return sb.String()
}

// validatePartition enforces the structural invariants on the LLM's
// answer: valid JSON, group count in [2,12], the group's id set
// exactly equals the input id set (no drops, no invented ids, no
// duplicates across groups), and every group strictly smaller in
// token estimate than the whole (so partitioning provably makes
// progress).
func validatePartition(raw string, ids []string, comps component.Map) ([]group, error) {
	return validatePartitionWithTotal(raw, ids, comps, comps.TokenSum(ids), comps.TokenSum)
}

// validatePartitionWithTotal is validatePartition with its token-sum
// calls factored out behind totalTokens (precomputed once per
// partitionStep call, not once per repair attempt) and groupTokens
// (the Clusterer's cached tokenSum, or comps.TokenSum directly when
// called without a Clusterer).
func validatePartitionWithTotal(raw string, ids []string, comps component.Map, totalTokens int, groupTokens func([]string) int) ([]group, error) {
	var resp partitionResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(resp.Groups) < 2 || len(resp.Groups) > 12 {
		return nil, fmt.Errorf("group count %d outside [2,12]", len(resp.Groups))
	}

	inputSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		inputSet[id] = struct{}{}
	}

	seen := make(map[string]string)
	for _, g := range resp.Groups {
		if strings.TrimSpace(g.Name) == "" {
			return nil, fmt.Errorf("group with empty name")
		}
		if len(g.ComponentIDs) == 0 {
			return nil, fmt.Errorf("group %q has no component ids", g.Name)
		}
		for _, id := range g.ComponentIDs {
			if _, ok := inputSet[id]; !ok {
				return nil, fmt.Errorf("group %q references unknown id %q", g.Name, id)
			}
			if owner, dup := seen[id]; dup {
				return nil, fmt.Errorf("id %q assigned to both %q and %q", id, owner, g.Name)
			}
			seen[id] = g.Name
		}
		gTokens := groupTokens(g.ComponentIDs)
		if gTokens >= totalTokens {
			return nil, fmt.Errorf("group %q token estimate %d not strictly smaller than input total %d", g.Name, gTokens, totalTokens)
		}
	}
	if len(seen) != len(ids) {
		return nil, fmt.Errorf("groups cover %d of %d input ids", len(seen), len(ids))
	}
	return resp.Groups, nil
}

// extractJSON strips Markdown code fences around a JSON body, the
// same fence-tolerant handling the Orchestrator applies to doc
// responses, since models routinely wrap JSON in ```json fences too.
func extractJSON(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```json")
		t = strings.TrimPrefix(t, "```")
		t = strings.TrimSuffix(t, "```")
		t = strings.TrimSpace(t)
	}
	return t
}

// deterministicPartition is the no-LLM fallback (§4.2): group by
// shared directory first, then chunk any remaining/oversized groups
// alphabetically by id so every resulting group's token sum is
// strictly smaller than the input's.
func deterministicPartition(ids []string, comps component.Map) []group {
	byDir := map[string][]string{}
	for _, id := range ids {
		dir := "."
		if c, ok := comps[id]; ok {
			dir = path.Dir(c.FilePath)
		}
		byDir[dir] = append(byDir[dir], id)
	}

	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	var groups []group
	for _, d := range dirs {
		idsInDir := byDir[d]
		sort.Strings(idsInDir)
		groups = append(groups, chunkAlphabetically(d, idsInDir, comps)...)
	}

	if len(groups) < 2 {
		// A single directory covering everything: fall back to a pure
		// alphabetical split into exactly 2 halves.
		sorted := append([]string{}, ids...)
		sort.Strings(sorted)
		mid := len(sorted) / 2
		groups = []group{
			{Name: "part-1", ComponentIDs: sorted[:mid]},
			{Name: "part-2", ComponentIDs: sorted[mid:]},
		}
	}
	if len(groups) > 12 {
		groups = mergeDownTo(groups, 12)
	}
	return groups
}

// chunkAlphabetically returns a directory's (already sorted) ids as one
// group named after the directory's base name, or, when it holds more
// than 40 ids, as consecutive 40-id chunks named "<base>-<n>". Token
// sums are not consulted.
func chunkAlphabetically(dir string, ids []string, comps component.Map) []group {
	const maxPerChunk = 40
	if len(ids) <= maxPerChunk {
		return []group{{Name: sanitizeDirName(dir), ComponentIDs: ids}}
	}
	var out []group
	for i := 0; i < len(ids); i += maxPerChunk {
		end := i + maxPerChunk
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, group{Name: fmt.Sprintf("%s-%d", sanitizeDirName(dir), i/maxPerChunk+1), ComponentIDs: ids[i:end]})
	}
	return out
}

func sanitizeDirName(dir string) string {
	if dir == "." || dir == "" {
		return "root"
	}
	return path.Base(dir)
}

// mergeDownTo merges the smallest groups pairwise until at most max
// groups remain, keeping the partition within the [2,12] bound even
// when a repo has more than 12 top-level directories.
func mergeDownTo(groups []group, max int) []group {
	for len(groups) > max {
		sort.Slice(groups, func(i, j int) bool { return len(groups[i].ComponentIDs) < len(groups[j].ComponentIDs) })
		merged := group{
			Name:         groups[0].Name + "+" + groups[1].Name,
			ComponentIDs: append(append([]string{}, groups[0].ComponentIDs...), groups[1].ComponentIDs...),
		}
		groups = append(groups[2:], merged)
	}
	return groups
}

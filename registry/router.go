package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crucible-sec/crucible/channel"
	"github.com/crucible-sec/crucible/config"
	"github.com/crucible-sec/crucible/errors"
	"github.com/crucible-sec/crucible/runtime"
)

// RunOptions carries per-invocation overrides for Router.Run.
type RunOptions struct {
	WorkDir string
	Env     []string
	Timeout time.Duration
}

// ContainerAvailability reports whether each configured execution target's
// container is currently live.
type ContainerAvailability struct {
	ContainerName string `json:"containerName"`
	Available     bool   `json:"available"`
	State         string `json:"state,omitempty"`
}

// Router resolves logical tool names to invocation metadata through a
// time-bounded in-memory cache over the registry store, and composes
// resolution with the execution channel.
//
// The cache is the only shared mutable state here: it is rebuilt wholesale
// on miss, expiry, or explicit refresh, so readers always observe a
// complete, consistent snapshot.
type Router struct {
	store   *Store
	channel *channel.Channel
	rt      runtime.ContainerRuntime
	targets []config.ExecutionTarget
	ttl     time.Duration
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	cache    map[string]*Tool
	filledAt time.Time
}

// NewRouter creates a tool router.
func NewRouter(store *Store, ch *channel.Channel, rt runtime.ContainerRuntime, cfg config.RouterConfig, targets []config.ExecutionTarget, log *zap.SugaredLogger) *Router {
	return &Router{
		store:   store,
		channel: ch,
		rt:      rt,
		targets: targets,
		ttl:     time.Duration(cfg.CacheTTLSeconds) * time.Second,
		log:     log.Named("router"),
	}
}

// Resolve maps a tool name to its invocation metadata. Served from the cache
// within the TTL; on miss or expiry the full registry is re-read and the map
// rebuilt.
func (r *Router) Resolve(toolName string) (*Tool, error) {
	r.mu.RLock()
	fresh := r.cache != nil && time.Since(r.filledAt) < r.ttl
	if fresh {
		tool, ok := r.cache[toolName]
		r.mu.RUnlock()
		if ok {
			return tool, nil
		}
		return nil, r.notFound(toolName)
	}
	r.mu.RUnlock()

	if err := r.RefreshCache(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.cache[toolName]; ok {
		return tool, nil
	}
	return nil, r.notFound(toolName)
}

func (r *Router) notFound(toolName string) error {
	return errors.WithHint(
		errors.NewNotFoundError("tool %q not in registry", toolName),
		"run discovery first",
	)
}

// RefreshCache rebuilds the cache from the registry store. The new map
// replaces the old wholesale; concurrent readers never see a partial update.
func (r *Router) RefreshCache() error {
	tools, err := r.store.List()
	if err != nil {
		return errors.Wrap(err, "failed to read registry")
	}

	cache := make(map[string]*Tool, len(tools))
	for _, tool := range tools {
		cache[tool.ToolID] = tool
	}

	r.mu.Lock()
	r.cache = cache
	r.filledAt = time.Now()
	r.mu.Unlock()

	r.log.Debugw("Tool cache rebuilt", "tools", len(cache))
	return nil
}

// Run resolves a tool and executes it with the given arguments in the tool's
// home container as its configured user. Fails fast when the registry has no
// row for the tool rather than guessing a binary path.
func (r *Router) Run(ctx context.Context, toolName string, args []string, opts RunOptions) (*channel.Result, error) {
	tool, err := r.Resolve(toolName)
	if err != nil {
		return nil, err
	}

	binary := tool.BinaryPath
	if binary == "" {
		binary = tool.ToolID
	}

	return r.channel.Execute(ctx, channel.Request{
		ContainerName: tool.ContainerName,
		Argv:          append([]string{binary}, args...),
		WorkDir:       opts.WorkDir,
		Env:           opts.Env,
		User:          tool.ContainerUser,
		Timeout:       opts.Timeout,
	})
}

// ListByContainer groups registry tools by their home container.
func (r *Router) ListByContainer() (map[string][]*Tool, error) {
	tools, err := r.store.List()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read registry")
	}

	byContainer := make(map[string][]*Tool)
	for _, tool := range tools {
		byContainer[tool.ContainerName] = append(byContainer[tool.ContainerName], tool)
	}
	return byContainer, nil
}

// Availability queries each configured execution target's container state.
// Queried fresh per call; this feeds UI/status reporting, not routing.
func (r *Router) Availability(ctx context.Context) []ContainerAvailability {
	out := make([]ContainerAvailability, 0, len(r.targets))
	for _, target := range r.targets {
		entry := ContainerAvailability{ContainerName: target.ContainerName}
		info, err := r.rt.FindContainer(ctx, target.ContainerName)
		if err == nil {
			entry.State = info.State
			entry.Available = info.Running()
		}
		out = append(out, entry)
	}
	return out
}

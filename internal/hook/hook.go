// Package hook implements the Hook Dispatcher: external lifecycle
// hooks invoked as one-shot subprocesses with a JSON payload on stdin and a
// structured verdict parsed from stdout. There is no long-running
// request/response channel here, unlike MCP's JSON-RPC stdio transport
// (internal/mcp/transport.go) — each hook call is spawn, write, read,
// wait, grounded on that same exec.CommandContext pattern but simplified
// to a single round trip per invocation.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/forgesmith/codeforge/internal/enginerr"
	"github.com/forgesmith/codeforge/pkg/types"
)

// Site names the lifecycle point a hook is bound to.
type Site string

const (
	SitePreToolUse    Site = "pre_tool_use"
	SitePostToolUse   Site = "post_tool_use"
	SitePreCompact    Site = "pre_compact"
	SiteSessionStart  Site = "session_start"
	SiteSessionEnd    Site = "session_end"
)

// Payload is the JSON object written to a hook subprocess's stdin.
type Payload struct {
	Site      Site           `json:"site"`
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Verdict is the structured response a hook prints to stdout. A hook that
// prints nothing parseable is treated as Decision "allow" (teacher-style
// permissive default: absence of signal is not a veto).
type Verdict struct {
	Decision string `json:"decision"` // "allow" | "deny" | "ask"
	Reason   string `json:"reason,omitempty"`
}

func (v Verdict) err(site Site) error {
	switch v.Decision {
	case "", "allow":
		return nil
	case "deny":
		msg := v.Reason
		if msg == "" {
			msg = fmt.Sprintf("%s hook denied the call", site)
		}
		return enginerr.PermissionDenied("%s", msg)
	default:
		return nil
	}
}

// Dispatcher runs a Site's configured hooks.
type Dispatcher struct {
	configs map[Site][]types.HookConfig
	log     zerolog.Logger
}

// New builds a Dispatcher from the config's hooks map, keyed by site name.
// log is injected rather than read from a package global, per the engine's
// no-singletons logging convention.
func New(hooks map[string][]types.HookConfig, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{configs: make(map[Site][]types.HookConfig), log: log}
	for site, cfgs := range hooks {
		d.configs[Site(site)] = cfgs
	}
	return d
}

// Run executes every hook bound to site with payload, honoring each hook's
// failure_behavior and the site's serial/parallel execution policy: hooks
// configured Parallel run concurrently in an errgroup with no concurrency
// limit, all before the serial hooks; the rest run
// serially in configured order. The first blocking denial short-circuits
// the remaining serial hooks; parallel hooks that are already in flight are
// still awaited so their subprocesses aren't left orphaned.
func (d *Dispatcher) Run(ctx context.Context, site Site, payload Payload) error {
	cfgs := d.configs[site]
	if len(cfgs) == 0 {
		return nil
	}
	payload.Site = site

	var serial []types.HookConfig
	var parallel []types.HookConfig
	for _, c := range cfgs {
		if c.Parallel {
			parallel = append(parallel, c)
		} else {
			serial = append(serial, c)
		}
	}

	if len(parallel) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range parallel {
			c := c
			g.Go(func() error { return d.runOne(gctx, c, payload) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for _, c := range serial {
		if err := d.runOne(ctx, c, payload); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) runOne(ctx context.Context, cfg types.HookConfig, payload Payload) error {
	if len(cfg.Command) == 0 {
		return nil
	}

	timeout := 30 * time.Second
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return enginerr.Internal(err, "marshal hook payload")
	}

	cmd := exec.CommandContext(runCtx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	runErr := cmd.Run()
	behavior := cfg.FailureBehavior
	if behavior == "" {
		behavior = "block"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return d.onFailure(behavior, enginerr.Timeout("hook %v timed out after %s", cfg.Command, timeout))
	}
	if runErr != nil {
		return d.onFailure(behavior, enginerr.Internal(runErr, "hook %v exited with error", cfg.Command))
	}

	var v Verdict
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &v); err != nil {
		// Non-JSON or empty stdout: permissive, nothing to veto on.
		return nil
	}
	if vetoErr := v.err(payload.Site); vetoErr != nil {
		return d.onFailure(behavior, vetoErr)
	}
	return nil
}

func (d *Dispatcher) onFailure(behavior string, err error) error {
	switch behavior {
	case "ignore":
		return nil
	case "warn":
		d.log.Warn().Err(err).Msg("hook failed, continuing")
		return nil
	default: // "block"
		return err
	}
}

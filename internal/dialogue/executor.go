package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/tools"
	"golang.org/x/sync/errgroup"
)

// Invoker runs a named tool. *tools.Registry implements it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args tools.Args) tools.Result
}

// TaskStatus is the outcome of one task.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// TaskResult pairs a task with its tool result.
type TaskResult struct {
	TaskID   string       `json:"task_id"`
	Tool     string       `json:"tool"`
	Status   TaskStatus   `json:"status"`
	Result   tools.Result `json:"result"`
	Optional bool         `json:"optional,omitempty"`
	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`
}

// ExecutionContext is what one plan run produced, in plan order.
type ExecutionContext struct {
	Results  []TaskResult
	bindings map[string]map[string]any
	// Unsatisfiable lists tasks that could never become ready.
	Unsatisfiable []string
}

func newExecutionContext() *ExecutionContext {
	return &ExecutionContext{bindings: make(map[string]map[string]any)}
}

// Binding returns a value published by a succeeded task.
func (ec *ExecutionContext) Binding(task, key string) (any, bool) {
	v, ok := ec.bindings[task][key]
	return v, ok
}

// Result returns the result recorded for a task.
func (ec *ExecutionContext) Result(task string) (TaskResult, bool) {
	for _, r := range ec.Results {
		if r.TaskID == task {
			return r, true
		}
	}
	return TaskResult{}, false
}

func (ec *ExecutionContext) emptyFiltered(task string) bool {
	filtered, _ := ec.Binding(task, tools.BindFiltered)
	empty, _ := ec.Binding(task, tools.BindEmpty)
	return filtered == true && empty == true
}

// carry keeps the successful results of an earlier attempt that this
// attempt did not rerun.
func (ec *ExecutionContext) carry(prev *ExecutionContext) {
	if prev == nil {
		return
	}
	var kept []TaskResult
	for _, r := range prev.Results {
		if _, rerun := ec.Result(r.TaskID); rerun || r.Status != TaskSucceeded {
			continue
		}
		kept = append(kept, r)
		ec.bindings[r.TaskID] = r.Result.Bindings
	}
	ec.Results = append(kept, ec.Results...)
}

func (ec *ExecutionContext) record(r TaskResult) {
	ec.Results = append(ec.Results, r)
	if r.Status == TaskSucceeded {
		ec.bindings[r.TaskID] = r.Result.Bindings
	}
}

// Executor runs a plan ready set by ready set.
type Executor struct {
	tools  Invoker
	logger *slog.Logger
}

// NewExecutor creates an executor over inv.
func NewExecutor(inv Invoker, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{tools: inv, logger: logger}
}

// Run executes plan. Tasks in one ready set run concurrently; their
// results are merged in plan order before the next set is computed. A
// failed or skipped dependency skips its dependents. When tasks remain but
// none can become ready (a cycle or an unknown dependency), Run stops and
// lists them in Unsatisfiable. Run never returns an error.
func (e *Executor) Run(ctx context.Context, plan Plan) *ExecutionContext {
	ec := newExecutionContext()
	status := make(map[string]TaskStatus, len(plan.Tasks))
	pending := append([]Task(nil), plan.Tasks...)

	for len(pending) > 0 {
		var ready, waiting []Task
		for _, t := range pending {
			if depsSettled(t, status) {
				ready = append(ready, t)
			} else {
				waiting = append(waiting, t)
			}
		}
		if len(ready) == 0 {
			for _, t := range waiting {
				ec.Unsatisfiable = append(ec.Unsatisfiable, t.ID)
				ec.record(TaskResult{TaskID: t.ID, Tool: t.Tool, Status: TaskSkipped, Reason: "dependencies can never be satisfied"})
			}
			e.logger.Warn("Plan unsatisfiable", "plan_id", plan.ID, "tasks", ec.Unsatisfiable)
			break
		}

		results := make([]TaskResult, len(ready))
		g, gctx := errgroup.WithContext(ctx)
		for i, t := range ready {
			if reason, skip := failedDependency(t, status); skip {
				results[i] = TaskResult{TaskID: t.ID, Tool: t.Tool, Status: TaskSkipped, Reason: reason}
				continue
			}
			args, err := resolveArgs(t.Args, ec)
			if err != nil {
				results[i] = TaskResult{TaskID: t.ID, Tool: t.Tool, Status: TaskSkipped, Reason: err.Error()}
				continue
			}
			g.Go(func() error {
				results[i] = e.runTask(gctx, t, args)
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results {
			status[r.TaskID] = r.Status
			ec.record(r)
		}
		pending = waiting
	}
	return ec
}

func (e *Executor) runTask(ctx context.Context, t Task, args tools.Args) TaskResult {
	if t.Tool == ToolGatherInfo {
		fields, _ := args["fields"].([]domain.Field)
		return TaskResult{
			TaskID: t.ID,
			Tool:   t.Tool,
			Status: TaskFailed,
			Result: tools.Result{Tool: t.Tool, ErrKind: tools.ErrKindMissingFields, MissingFields: fields},
		}
	}
	res := e.tools.Invoke(ctx, t.Tool, args)
	st := TaskSucceeded
	if !res.Success {
		st = TaskFailed
	}
	return TaskResult{TaskID: t.ID, Tool: t.Tool, Status: st, Result: res, Optional: t.Optional}
}

// depsSettled reports whether every dependency has finished, whatever its
// outcome.
func depsSettled(t Task, status map[string]TaskStatus) bool {
	for _, d := range t.DependsOn {
		if _, ok := status[d]; !ok {
			return false
		}
	}
	return true
}

func failedDependency(t Task, status map[string]TaskStatus) (string, bool) {
	var bad []string
	for _, d := range t.DependsOn {
		if status[d] != TaskSucceeded {
			bad = append(bad, d)
		}
	}
	if len(bad) == 0 {
		return "", false
	}
	return "dependency not satisfied: " + strings.Join(bad, ","), true
}

func resolveArgs(args tools.Args, ec *ExecutionContext) (tools.Args, error) {
	out := make(tools.Args, len(args))
	for k, v := range args {
		ref, ok := v.(Ref)
		if !ok {
			out[k] = v
			continue
		}
		bound, ok := ec.Binding(ref.Task, ref.Key)
		if !ok {
			return nil, fmt.Errorf("task %s published no %s", ref.Task, ref.Key)
		}
		out[k] = bound
	}
	return out, nil
}

package rename

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/folder"
	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/scheduler"
	"github.com/GriffinCanCode/filer/internal/shared/paths"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

// ApplyOptions controls plan execution
type ApplyOptions struct {
	// MaxConsecutiveFailures stops the run after this many failures in a
	// row; zero never stops
	MaxConsecutiveFailures int `json:"max_consecutive_failures,omitempty"`
}

// Planner builds plans against the current directory state and applies
// them as bulk rename jobs
type Planner struct {
	fs        fsys.FS
	registry  *folder.Registry
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

// NewPlanner creates a planner. registry may be nil, in which case
// siblings always come from a direct listing.
func NewPlanner(f fsys.FS, registry *folder.Registry, s *scheduler.Scheduler, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{fs: f, registry: registry, scheduler: s, logger: logger}
}

// BuildPlan resolves sources to entries, gathers their siblings and builds
// a plan. Siblings come from the live folder model when one is loaded and
// from a fresh listing otherwise.
func (p *Planner) BuildPlan(ctx context.Context, sources []string, opts Options) (Plan, error) {
	listings := make(map[string]map[string]types.Entry)
	var siblings []types.Entry
	entries := make([]types.Entry, 0, len(sources))
	var missing []Offender

	for _, raw := range sources {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		src, err := paths.Normalize(raw)
		if err != nil {
			return Plan{}, fserr.New(fserr.InvalidInput, "plan", raw, err)
		}
		dir := paths.Parent(src)

		byName, ok := listings[dir]
		if !ok {
			list, err := p.siblings(ctx, dir)
			if err != nil {
				return Plan{}, err
			}
			byName = make(map[string]types.Entry, len(list))
			for _, e := range list {
				byName[e.Name] = e
			}
			listings[dir] = byName
			siblings = append(siblings, list...)
		}

		e, ok := byName[paths.Base(src)]
		if !ok {
			missing = append(missing, Offender{Source: src, Name: paths.Base(src), Reason: "no such entry"})
			continue
		}
		entries = append(entries, e)
	}

	if len(entries) == 0 && len(missing) > 0 {
		return Plan{}, &PlanError{Offenders: missing}
	}
	plan, err := BuildPlan(entries, siblings, opts)
	if len(missing) == 0 {
		return plan, err
	}

	var pe *PlanError
	switch {
	case err == nil:
		pe = &PlanError{}
	case !errors.As(err, &pe):
		return Plan{}, err
	}
	pe.Offenders = append(missing, pe.Offenders...)
	return Plan{}, pe
}

func (p *Planner) siblings(ctx context.Context, dir string) ([]types.Entry, error) {
	if p.registry != nil {
		if m, ok := p.registry.Lookup(dir); ok && !m.Loading() && m.Err() == nil {
			return m.Entries(), nil
		}
	}

	infos, err := p.fs.ReadDir(dir)
	if err != nil {
		return nil, fserr.Wrap("plan", dir, err)
	}
	out := make([]types.Entry, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, types.NewEntry(dir, info, ""))
	}
	return out, nil
}

// Apply enqueues plan as a bulk rename job. Pairs run strictly in plan
// order.
func (p *Planner) Apply(plan Plan, opts ApplyOptions) (*job.Handle, error) {
	if len(plan.Pairs) == 0 {
		return nil, fserr.New(fserr.InvalidInput, "apply", "", errors.New("empty plan"))
	}
	h, err := p.scheduler.Enqueue(job.Request{
		Kind:                   job.KindBulkRename,
		Renames:                plan.Pairs,
		MaxConsecutiveFailures: opts.MaxConsecutiveFailures,
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("Bulk rename queued", zap.String("job", string(h.ID())), zap.Int("renames", len(plan.Pairs)))
	return h, nil
}

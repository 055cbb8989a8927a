package rename

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/scheduler"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

func file(dir, name string) types.Entry {
	return types.Entry{Name: name, Path: filepath.Join(dir, name), Kind: types.KindRegular}
}

func folderEntry(dir, name string) types.Entry {
	return types.Entry{Name: name, Path: filepath.Join(dir, name), Kind: types.KindDirectory}
}

func names(pairs []job.RenamePair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.NewName)
	}
	return out
}

func TestBuildPlanNumbering(t *testing.T) {
	sources := []types.Entry{file("/d", "a.txt"), file("/d", "b.txt")}

	plan, err := BuildPlan(sources, sources, Options{Pattern: "img#", Start: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"img1.txt", "img2.txt"}, names(plan.Pairs))
	assert.Equal(t, "/d/a.txt", plan.Pairs[0].Source)

	siblings := append([]types.Entry{file("/d", "img1.txt")}, sources...)
	_, err = BuildPlan(sources, siblings, Options{Pattern: "img#", Start: 1})
	var pe *PlanError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"img1.txt"}, pe.Names())
	assert.Contains(t, err.Error(), "img1.txt")
	assert.True(t, fserr.Is(err, fserr.InvalidPlan))
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestBuildPlanPatterns(t *testing.T) {
	tests := []struct {
		name    string
		sources []types.Entry
		opts    Options
		want    []string
	}{
		{
			name:    "zero padding",
			sources: []types.Entry{file("/d", "x.jpg"), file("/d", "y.jpg")},
			opts:    Options{Pattern: "photo-###", Start: 9},
			want:    []string{"photo-009.jpg", "photo-010.jpg"},
		},
		{
			name:    "directories keep dots",
			sources: []types.Entry{folderEntry("/d", "v1.0"), folderEntry("/d", "v2.0")},
			opts:    Options{Pattern: "release#", Start: 1},
			want:    []string{"release1", "release2"},
		},
		{
			name:    "captures",
			sources: []types.Entry{file("/d", "IMG_2041.JPG"), file("/d", "IMG_2042.JPG")},
			opts:    Options{Pattern: "holiday-$1-#", Start: 0, Filter: `^IMG_(\d+)$`},
			want:    []string{"holiday-2041-0.JPG", "holiday-2042-1.JPG"},
		},
		{
			name:    "escapes",
			sources: []types.Entry{file("/d", "a.md")},
			opts:    Options{Pattern: `note \# \$1 #`, Start: 3},
			want:    []string{"note # $1 3.md"},
		},
		{
			name:    "reordering chain",
			sources: []types.Entry{file("/d", "1"), file("/d", "2")},
			opts:    Options{Pattern: "#", Start: 2},
			want:    []string{"2", "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := BuildPlan(tt.sources, tt.sources, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(plan.Pairs))
		})
	}
}

func TestBuildPlanReportsEveryOffender(t *testing.T) {
	sources := []types.Entry{file("/d", "a.txt"), file("/d", "b.txt"), file("/d", "c.log"), file("/d", "notes")}
	siblings := append([]types.Entry{file("/d", "same.log")}, sources...)

	_, err := BuildPlan(sources, siblings, Options{Pattern: "same"})
	var pe *PlanError
	require.ErrorAs(t, err, &pe)

	reasons := make(map[string]string)
	for _, o := range pe.Offenders {
		reasons[o.Source] = o.Reason
	}
	assert.Equal(t, "collides with an existing entry", reasons["/d/c.log"])
	assert.Equal(t, "duplicate name in plan", reasons["/d/a.txt"])
	assert.Equal(t, "duplicate name in plan", reasons["/d/b.txt"])
	assert.NotContains(t, reasons, "/d/notes")
}

func TestBuildPlanRejectsBadInput(t *testing.T) {
	src := []types.Entry{file("/d", "a.txt")}
	tests := []struct {
		name string
		opts Options
	}{
		{"empty pattern", Options{}},
		{"capture without filter", Options{Pattern: "$1"}},
		{"capture beyond groups", Options{Pattern: "$2", Filter: `(a)`}},
		{"bad filter", Options{Pattern: "#", Filter: `(`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPlan(src, src, tt.opts)
			assert.True(t, fserr.Is(err, fserr.InvalidInput), "got %v", err)
		})
	}

	_, err := BuildPlan(nil, nil, Options{Pattern: "#"})
	assert.Error(t, err)

	_, err = BuildPlan(src, src, Options{Pattern: "a/b"})
	var pe *PlanError
	assert.ErrorAs(t, err, &pe)

	_, err = BuildPlan(src, src, Options{Pattern: "x", Filter: `^zzz$`})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "does not match the filter", pe.Offenders[0].Reason)
}

func TestSelectGlob(t *testing.T) {
	entries := []types.Entry{file("/d", "a.jpg"), file("/d", "b.png"), file("/d", "c.JPG"), file("/d", "d.jpg")}

	got, err := SelectGlob(entries, "*.{jpg,JPG}")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a.jpg", got[0].Name)
	assert.Equal(t, "d.jpg", got[2].Name)

	_, err = SelectGlob(entries, "[")
	assert.True(t, fserr.Is(err, fserr.InvalidInput))
}

func TestOutcomeOf(t *testing.T) {
	pair := job.RenamePair{Source: "/a", NewName: "b"}
	assert.Equal(t, OutcomeSuccess, OutcomeOf(job.Result{State: job.StateCompleted, Completed: []job.RenamePair{pair}}))
	assert.Equal(t, OutcomePartial, OutcomeOf(job.Result{State: job.StateCompletedWithErrors, Completed: []job.RenamePair{pair}, Failed: []job.RenamePair{pair}}))
	assert.Equal(t, OutcomeTotalFailure, OutcomeOf(job.Result{State: job.StateFailed, Failed: []job.RenamePair{pair}, Pending: []job.RenamePair{pair}}))
}

func newPlanner(t *testing.T, f fsys.FS) *Planner {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s := scheduler.New(job.NewEngine(f, job.Options{Logger: logger}), scheduler.Options{Logger: logger})
	t.Cleanup(s.Close)
	return NewPlanner(f, nil, s, logger)
}

func touch(t *testing.T, f fsys.FS, name string) {
	t.Helper()
	fh, err := f.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = fh.Write([]byte(filepath.Base(name)))
	require.NoError(t, err)
	require.NoError(t, fh.Close())
}

func TestPlannerBuildAndApply(t *testing.T) {
	mem := fsys.NewMemory()
	require.NoError(t, mem.MkdirAll("/pics", 0o755))
	for _, n := range []string{"/pics/1.jpg", "/pics/2.jpg", "/pics/3.jpg"} {
		touch(t, mem, n)
	}
	p := newPlanner(t, mem)

	// renumbering onto names the plan itself frees is a valid chain
	plan, err := p.BuildPlan(context.Background(), []string{"/pics/1.jpg", "/pics/2.jpg", "/pics/3.jpg"}, Options{Pattern: "#", Start: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"2.jpg", "3.jpg", "4.jpg"}, names(plan.Pairs))

	h, err := p.Apply(plan, ApplyOptions{})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, OutcomeOf(r))

	for name, content := range map[string]string{"2.jpg": "1.jpg", "3.jpg": "2.jpg", "4.jpg": "3.jpg"} {
		data, err := fsys.ReadFile(mem, "/pics/"+name)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
}

func TestPlannerReportsMissingSources(t *testing.T) {
	mem := fsys.NewMemory()
	require.NoError(t, mem.MkdirAll("/d", 0o755))
	touch(t, mem, "/d/a.txt")
	p := newPlanner(t, mem)

	_, err := p.BuildPlan(context.Background(), []string{"/d/a.txt", "/d/ghost.txt"}, Options{Pattern: "n#", Start: 1})
	var pe *PlanError
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Offenders, 1)
	assert.Equal(t, "no such entry", pe.Offenders[0].Reason)

	_, err = p.BuildPlan(context.Background(), []string{"/missing/a"}, Options{Pattern: "#"})
	assert.True(t, fserr.Is(err, fserr.NotFound))

	_, err = p.Apply(Plan{}, ApplyOptions{})
	assert.True(t, fserr.Is(err, fserr.InvalidInput))
}

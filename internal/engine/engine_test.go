package engine

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/leapstack-labs/harmonize/internal/config"
	"github.com/leapstack-labs/harmonize/internal/eval"
	"github.com/leapstack-labs/harmonize/internal/starlark"
	"github.com/leapstack-labs/harmonize/internal/testutil"
	"github.com/leapstack-labs/harmonize/internal/view"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/datasource"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/harmonize/pkg/datasources/generated"
)

func generatedSpec(name string) datasource.Spec {
	return datasource.Spec{
		Name: name,
		Type: "generated",
		Params: map[string]any{
			"entities": 4,
			"seed":     3,
			"variables": []any{
				map[string]any{"name": "SCORE", "type": "integer", "min": 1, "max": 9},
			},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Datasources: []datasource.Spec{generatedSpec("gen")},
		Views: []config.ViewConfig{{
			Name:       "derived",
			Datasource: "cohort",
			Table:      "participants",
			Variables: []config.VariableConfig{
				{Name: "AGE_NEXT", Type: "integer", Script: "None if $('AGE').is_null else $('AGE') + 1"},
				{Name: "MOTHER_AGE", Type: "integer", Script: "$join('mothers:MOTHER_AGE', 'MOTHER_ID')"},
			},
		}},
		Parallelism: 4,
	}
}

func newEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	fx := testutil.NewCohort()
	opts = append([]Option{WithDatasource(fx.Cohort), WithDatasource(fx.Clinic)}, opts...)
	e, err := New(context.Background(), cfg, testutil.NewTestLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func strs(values []value.Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

func resultStrings(t *testing.T, results []Result) []string {
	t.Helper()
	out := make([]string, len(results))
	for i, r := range results {
		require.NoError(t, r.Err, "entity %s", r.Entity)
		out[i] = r.Value.String()
	}
	return out
}

func TestNew_BuildsViews(t *testing.T) {
	e := newEngine(t, testConfig())

	table, err := e.Table("derived")
	require.NoError(t, err)
	assert.Equal(t, "cohort.derived", core.QualifiedName(table))
	assert.True(t, core.HasVariable(table, "AGE_NEXT"))
	assert.True(t, core.HasVariable(table, "AGE"))

	var names []string
	for _, tbl := range e.Tables() {
		names = append(names, core.QualifiedName(tbl))
	}
	assert.Equal(t, []string{
		"clinic.visits",
		"cohort.derived",
		"cohort.medications",
		"cohort.mothers",
		"cohort.participants",
		"gen.generated",
	}, names)
	assert.Equal(t, config.DefaultMode, e.Config().Mode, "defaults are applied")
}

func TestEval_RowAndVectorAgree(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()
	table, err := e.Table("cohort.derived")
	require.NoError(t, err)

	scripts := map[string][]string{
		"$('AGE_NEXT')":                            {"35", "52", ""},
		"$('MOTHER_AGE')":                          {"60", "", ""},
		"$id() + ':' + str($('SEX'))":              {"1:F", "2:M", "3:U"},
		"$('clinic.visits:VISIT_DATE')":            {"2020-01-31", "", "2021-06-15"},
		"$join('mothers:MOTHER_AGE', 'MOTHER_ID')": {"60", "", ""},
	}
	for src, want := range scripts {
		script, err := e.Compile("test", src)
		require.NoError(t, err)

		for _, mode := range []string{config.ModeRow, config.ModeVector} {
			results, err := e.Eval(ctx, table, script, Options{Mode: mode})
			require.NoError(t, err)
			assert.Equal(t, want, resultStrings(t, results), "%s in %s mode", src, mode)
		}
	}
}

func TestEval_Entities(t *testing.T) {
	e := newEngine(t, testConfig())
	table, err := e.Table("participants")
	require.NoError(t, err)
	script, err := e.Compile("test", "$('AGE')")
	require.NoError(t, err)

	results, err := e.Eval(context.Background(), table, script, Options{Entities: []string{"2", "7"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, core.NewEntity("Participant", "2"), results[0].Entity)
	assert.Equal(t, []string{"51", ""}, resultStrings(t, results), "entities without a row read null")
}

func TestEval_PerEntityErrors(t *testing.T) {
	e := newEngine(t, testConfig())
	table, err := e.Table("participants")
	require.NoError(t, err)
	script, err := e.Compile("test", "$('AGE') * 2")
	require.NoError(t, err)

	for _, mode := range []string{config.ModeRow, config.ModeVector} {
		results, err := e.Eval(context.Background(), table, script, Options{Mode: mode})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.NoError(t, results[0].Err, mode)
		assert.Equal(t, "68", results[0].Value.String(), mode)
		assert.Error(t, results[2].Err, "%s: null AGE cannot be doubled", mode)
	}
}

func TestEval_NotVectorizable(t *testing.T) {
	e := newEngine(t, testConfig())
	ctx := context.Background()
	table, err := e.Table("gen.generated")
	require.NoError(t, err)
	script, err := e.Compile("test", "$('SCORE')")
	require.NoError(t, err)

	results, err := e.Eval(ctx, table, script, Options{Mode: config.ModeVector})
	require.NoError(t, err)
	require.Len(t, results, 4)
	var notVec *eval.NotVectorizableError
	require.ErrorAs(t, results[0].Err, &notVec)

	results, err = e.Eval(ctx, table, script, Options{Mode: config.ModeRow})
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
		score, ok := r.Value.Raw().(int64)
		require.True(t, ok, "SCORE is an integer, got %T", r.Value.Raw())
		assert.GreaterOrEqual(t, score, int64(1))
		assert.LessOrEqual(t, score, int64(9))
	}
}

func TestEval_UnknownMode(t *testing.T) {
	e := newEngine(t, testConfig())
	table, err := e.Table("participants")
	require.NoError(t, err)
	script, err := e.Compile("test", "1")
	require.NoError(t, err)

	_, err = e.Eval(context.Background(), table, script, Options{Mode: "columnar"})
	assert.ErrorContains(t, err, "unknown evaluation mode")
}

func TestEval_Clock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newEngine(t, testConfig(), WithClock(func() time.Time { return fixed }))
	table, err := e.Table("participants")
	require.NoError(t, err)
	script, err := e.Compile("test", "now()")
	require.NoError(t, err)

	results, err := e.Eval(context.Background(), table, script, Options{Entities: []string{"1"}})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Same(t, value.DateTime, results[0].Value.Type())
	got, ok := results[0].Value.Raw().(time.Time)
	require.True(t, ok)
	assert.True(t, fixed.Equal(got), "got %s", got)
}

func TestRead(t *testing.T) {
	e := newEngine(t, testConfig())
	table, err := e.Table("derived")
	require.NoError(t, err)

	for _, mode := range []string{config.ModeRow, config.ModeVector} {
		f, err := e.Read(context.Background(), table, []string{"AGE", "AGE_NEXT", "MOTHER_AGE"}, Options{Mode: mode})
		require.NoError(t, err, mode)
		require.Len(t, f.Entities, 3)
		require.Len(t, f.Variables, 3)
		assert.Equal(t, []string{"34", "35", "60"}, strs(f.Rows[0]), mode)
		assert.Equal(t, []string{"51", "52", ""}, strs(f.Rows[1]), mode)
		assert.Equal(t, []string{"", "", ""}, strs(f.Rows[2]), mode)
	}
}

func TestRead_AllVariables(t *testing.T) {
	e := newEngine(t, testConfig())
	table, err := e.Table("medications")
	require.NoError(t, err)

	f, err := e.Read(context.Background(), table, nil, Options{Entities: []string{"1", "3"}})
	require.NoError(t, err)
	require.Len(t, f.Variables, 2)
	assert.Equal(t, "DRUG", f.Variables[0].Name)
	assert.Equal(t, 3, f.Rows[0][0].Size())
	assert.True(t, f.Rows[1][0].IsNull())
	assert.True(t, f.Rows[1][0].IsSequence(), "missing repeatable values are null sequences")
}

func TestRead_RowOnlySourceInVectorMode(t *testing.T) {
	e := newEngine(t, testConfig())
	table, err := e.Table("gen.generated")
	require.NoError(t, err)

	vector, err := e.Read(context.Background(), table, []string{"SCORE"}, Options{Mode: config.ModeVector})
	require.NoError(t, err)
	row, err := e.Read(context.Background(), table, []string{"SCORE"}, Options{Mode: config.ModeRow})
	require.NoError(t, err)
	assert.Equal(t, row.Rows, vector.Rows)
}

func TestRead_UnknownVariable(t *testing.T) {
	e := newEngine(t, testConfig())
	table, err := e.Table("participants")
	require.NoError(t, err)

	_, err = e.Read(context.Background(), table, []string{"HEIGHT"}, Options{})
	var noVar *core.NoSuchVariableError
	assert.ErrorAs(t, err, &noVar)
}

func TestTable_Lookup(t *testing.T) {
	cfg := testConfig()
	cfg.Datasources = append(cfg.Datasources, generatedSpec("gen2"))
	e := newEngine(t, cfg)

	_, err := e.Table("generated")
	var ambiguous *AmbiguousTableError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{"gen", "gen2"}, ambiguous.Datasources)

	table, err := e.Table("gen2.generated")
	require.NoError(t, err)
	assert.Equal(t, "gen2", table.Datasource().Name())

	_, err = e.Table("nowhere")
	var noTable *core.NoSuchTableError
	assert.ErrorAs(t, err, &noTable)
}

type closingDatasource struct {
	core.Datasource
	closed bool
}

func (d *closingDatasource) Close() error {
	d.closed = true
	return nil
}

func TestNew_ClosesOnError(t *testing.T) {
	fx := testutil.NewCohort()
	tracked := &closingDatasource{Datasource: fx.Cohort}

	cfg := testConfig()
	cfg.Views[0].Table = "missing"
	_, err := New(context.Background(), cfg, nil, WithDatasource(tracked))
	var noTable *core.NoSuchTableError
	require.ErrorAs(t, err, &noTable)
	assert.ErrorContains(t, err, "view derived")
	assert.True(t, tracked.closed)
}

func TestNew_ViewErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown datasource",
			mutate:  func(c *config.Config) { c.Views[0].Datasource = "nowhere" },
			wantErr: "nowhere",
		},
		{
			name: "cycle",
			mutate: func(c *config.Config) {
				c.Views[0].Variables = []config.VariableConfig{
					{Name: "A", Type: "integer", Script: "$('B')"},
					{Name: "B", Type: "integer", Script: "$('A')"},
				}
			},
			wantErr: "circular",
		},
		{
			name: "compile error",
			mutate: func(c *config.Config) {
				c.Views[0].Variables[0].Script = "$('AGE' +"
			},
			wantErr: "AGE_NEXT",
		},
		{
			name:    "unknown datasource type",
			mutate:  func(c *config.Config) { c.Datasources[0].Type = "oracle" },
			wantErr: "oracle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			fx := testutil.NewCohort()
			_, err := New(context.Background(), cfg, nil, WithDatasource(fx.Cohort))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_CrossViewCycle(t *testing.T) {
	cfg := testConfig()
	cfg.Views[0].Variables = append(cfg.Views[0].Variables,
		config.VariableConfig{Name: "Z", Type: "integer", Script: "$('cohort.other:Y')"})
	cfg.Views = append(cfg.Views, config.ViewConfig{
		Name:       "other",
		Datasource: "cohort",
		Table:      "participants",
		Variables: []config.VariableConfig{
			{Name: "Y", Type: "integer", Script: "$('cohort.derived:Z')"},
		},
	})

	fx := testutil.NewCohort()
	_, err := New(context.Background(), cfg, nil, WithDatasource(fx.Cohort), WithDatasource(fx.Clinic))
	var cycle *eval.CircularReferenceError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"cohort.derived:Z", "cohort.other:Y", "cohort.derived:Z"}, cycle.Path)
}

func TestDependencies(t *testing.T) {
	cfg := testConfig()
	cfg.Views = append(cfg.Views, config.ViewConfig{
		Name:       "later",
		Datasource: "cohort",
		Table:      "derived",
		Variables: []config.VariableConfig{
			{Name: "DOUBLE", Type: "integer", Script: "None if $('AGE_NEXT').is_null else $('AGE_NEXT') * 2"},
			{Name: "BOTH", Type: "integer", Script: "$('DOUBLE') if $('cohort.derived:MOTHER_AGE').is_null else 0"},
		},
	})
	e := newEngine(t, cfg)

	later, err := e.Table("later")
	require.NoError(t, err)
	assert.Equal(t, []string{"cohort.derived:AGE_NEXT"}, e.Dependencies(later, "DOUBLE"))
	assert.Equal(t, []string{
		"cohort.derived:AGE_NEXT",
		"cohort.derived:MOTHER_AGE",
		"cohort.later:DOUBLE",
	}, e.Dependencies(later, "BOTH"))
	assert.Empty(t, e.Dependencies(later, "AGE"), "base variables have no dependencies")

	order := e.DerivedOrder()
	require.Len(t, order, 4)
	assert.Less(t, slices.Index(order, "cohort.derived:AGE_NEXT"), slices.Index(order, "cohort.later:DOUBLE"))
	assert.Less(t, slices.Index(order, "cohort.later:DOUBLE"), slices.Index(order, "cohort.later:BOTH"))

	results, err := e.Eval(context.Background(), later, mustCompile(t, e, "$('BOTH')"), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "104", ""}, resultStrings(t, results))
}

func TestRemoveDatasource(t *testing.T) {
	e := newEngine(t, testConfig())
	require.Len(t, e.DerivedOrder(), 2)

	require.NoError(t, e.Registry().Remove("clinic"))
	for _, tbl := range e.Tables() {
		assert.NotEqual(t, "clinic", tbl.Datasource().Name())
	}
	assert.Len(t, e.DerivedOrder(), 2, "views of other datasources stay")

	require.NoError(t, e.Registry().Remove("cohort"))
	assert.Empty(t, e.DerivedOrder(), "derived variables leave with their datasource")
	_, err := e.Table("derived")
	require.Error(t, err)
}

func TestTransientDatasource_AcceptsViews(t *testing.T) {
	e := newEngine(t, testConfig())
	uid := e.Registry().AddTransient(func(string) (core.Datasource, error) {
		return testutil.NewCohort().Clinic, nil
	})

	ds, err := e.Registry().Transient(uid)
	require.NoError(t, err)
	views, ok := ds.(*view.Datasource)
	require.True(t, ok, "transient datasources get the view overlay, got %T", ds)

	_, err = views.NewView("recent", "visits", testutil.NewTestLogger(t))
	require.NoError(t, err)
	_, err = ds.Table("recent")
	require.NoError(t, err)

	require.NoError(t, e.Registry().RemoveTransient(uid))
	assert.Len(t, e.DerivedOrder(), 2)
}

func mustCompile(t *testing.T, e *Engine, src string) *starlark.Script {
	t.Helper()
	script, err := e.Compile("test", src)
	require.NoError(t, err)
	return script
}

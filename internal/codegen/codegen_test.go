package codegen

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/testutil"
	"github.com/leapstack-labs/specpipe/pkg/platform"
)

func stgCustomers() *spec.ModelSpec {
	return &spec.ModelSpec{
		Name:    "stg_customers",
		Layer:   spec.LayerStaging,
		Sources: []string{"crm_customers", "crm_addresses"},
		Columns: []spec.ColumnMapping{
			{TargetColumn: "customer_id", Type: spec.TypeInt64, FromTable: "crm_customers", FromColumn: "id",
				Tests: []spec.TestRef{{Name: spec.TestUnique}, {Name: spec.TestNotNull}}},
			{TargetColumn: "email", Type: spec.TypeString, FromTable: "crm_customers", FromColumn: "email",
				Transform: "LOWER(TRIM({from}))", Nullable: true, Tests: []spec.TestRef{{Name: spec.TestNotNull}}},
			{TargetColumn: "country", Type: spec.TypeString, FromTable: "crm_addresses", FromColumn: "country", Nullable: true,
				Tests: []spec.TestRef{{Name: spec.TestAcceptedValues, Args: []string{"US", "DE"}}}},
		},
		Joins: []spec.Join{
			{LeftTable: "crm_customers", RightTable: "crm_addresses", Kind: spec.JoinLeft, Condition: "crm_customers.id = crm_addresses.customer_id"},
		},
		Filters: []spec.Filter{
			{AppliesTo: "crm_addresses", Predicate: "country IS NOT NULL", Rationale: "drop incomplete addresses"},
		},
		Constraints: spec.Constraints{PrimaryKey: []string{"customer_id"}},
	}
}

func fctCustomerCountries() *spec.ModelSpec {
	return &spec.ModelSpec{
		Name:    "fct_customer_countries",
		Layer:   spec.LayerFinal,
		Sources: []string{"stg_customers"},
		Columns: []spec.ColumnMapping{
			{TargetColumn: "country", Type: spec.TypeString, FromColumn: "country"},
			{TargetColumn: "customer_id", Type: spec.TypeInt64, FromColumn: "customer_id"},
		},
		Filters: []spec.Filter{
			{AppliesTo: "stg_customers", Predicate: "customer_id IS NOT NULL"},
			{AppliesTo: "stg_customers", Predicate: "country <> 'XX'"},
		},
		GroupBy: []string{"country"},
		Aggregations: []spec.Aggregation{
			{MetricColumn: "customer_count", Type: spec.TypeInt64, Formula: "COUNT(DISTINCT customer_id)"},
		},
		Constraints: spec.Constraints{PrimaryKey: []string{"country"}},
	}
}

func pipeline() *spec.PipelineSpec {
	return &spec.PipelineSpec{
		Namespaces: spec.DefaultNamespaces(),
		Models:     []*spec.ModelSpec{fctCustomerCountries(), stgCustomers()},
	}
}

func newGenerator(t *testing.T, p *platform.Platform) *Generator {
	t.Helper()
	g, err := New(Config{Platform: p, Namespaces: spec.DefaultNamespaces(), Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return g
}

func TestNew_RequiresPlatform(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, platform.ErrPlatformRequired)
}

func TestCompile_Golden(t *testing.T) {
	ps := pipeline()
	models := Models(ps)

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name     string
		model    string
		platform *platform.Platform
	}{
		{"stg_customers_dataform", "stg_customers", platform.Dataform},
		{"fct_customer_countries_dbt", "fct_customer_countries", platform.DBT},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := newGenerator(t, tt.platform).Compile(models[tt.model], models)
			require.NoError(t, err)
			gold.Assert(t, tt.name, []byte(u.SQL))
		})
	}
}

func TestCompile_Unit(t *testing.T) {
	ps := pipeline()
	models := Models(ps)
	g := newGenerator(t, platform.Dataform)

	u, err := g.Compile(models["fct_customer_countries"], models)
	require.NoError(t, err)
	assert.Equal(t, "fct_customer_countries", u.Model)
	assert.Equal(t, "fct_customer_countries.sqlx", u.Path)
	assert.Equal(t, []string{"stg_customers"}, u.DependsOn)
	assert.Contains(t, u.SQL, `FROM ${ref("stg_customers")} AS stg_customers`)

	u, err = g.Compile(models["stg_customers"], models)
	require.NoError(t, err)
	assert.Empty(t, u.DependsOn)
}

func TestCompile_FilterInSourceProjection(t *testing.T) {
	m := stgCustomers()
	q, err := newGenerator(t, platform.LeapSQL).Query(m, func(s string) (string, error) { return "raw." + s, nil })
	require.NoError(t, err)

	require.Len(t, q.CTEs, 4)
	assert.Equal(t, "src_crm_addresses", q.CTEs[1].Name)
	assert.Contains(t, q.CTEs[1].Body, "WHERE country IS NOT NULL")
	assert.NotContains(t, q.CTEs[0].Body, "WHERE")
	assert.NotContains(t, q.CTEs[2].Body, "WHERE")
}

func TestCompile_PrunesUnusedColumns(t *testing.T) {
	m := &spec.ModelSpec{
		Name:    "stg_orders",
		Layer:   spec.LayerStaging,
		Sources: []string{"orders"},
		Columns: []spec.ColumnMapping{
			{TargetColumn: "order_id", Type: spec.TypeInt64, FromColumn: "id"},
			{TargetColumn: "total", Type: spec.TypeNumeric, Transform: "amount + tax"},
			{TargetColumn: "loaded", Type: spec.TypeBool, Transform: "TRUE"},
		},
	}
	q, err := newGenerator(t, platform.LeapSQL).Query(m, func(s string) (string, error) { return "raw." + s, nil })
	require.NoError(t, err)

	assert.Equal(t, "SELECT\n  id,\n  amount,\n  tax\nFROM raw.orders AS orders", q.CTEs[0].Body)
	assert.Equal(t, "SELECT\n  orders.id AS order_id,\n  orders.amount + orders.tax AS total,\n  TRUE AS loaded\nFROM src_orders AS orders", q.CTEs[1].Body)
}

func TestCompile_ConstantOnlySource(t *testing.T) {
	m := &spec.ModelSpec{
		Name:    "dim_constants",
		Layer:   spec.LayerFinal,
		Sources: []string{"calendar"},
		Columns: []spec.ColumnMapping{{TargetColumn: "one", Type: spec.TypeInt64, Transform: "1"}},
	}
	q, err := newGenerator(t, platform.LeapSQL).Query(m, func(s string) (string, error) { return s, nil })
	require.NoError(t, err)
	assert.Contains(t, q.CTEs[0].Body, "1 AS _row")
}

func TestCompile_QuotesIdentifiers(t *testing.T) {
	m := &spec.ModelSpec{
		Name:    "stg_people",
		Layer:   spec.LayerStaging,
		Sources: []string{"people"},
		Columns: []spec.ColumnMapping{{TargetColumn: "full name", Type: spec.TypeString, FromColumn: "name"}},
	}
	q, err := newGenerator(t, platform.Dataform).Query(m, func(s string) (string, error) { return s, nil })
	require.NoError(t, err)
	assert.Contains(t, q.CTEs[1].Body, "people.name AS `full name`")
	assert.Contains(t, q.Select, "`full name`")
}

func TestCompile_Deterministic(t *testing.T) {
	ps := pipeline()
	g := newGenerator(t, platform.Dataform)
	order := []string{"stg_customers", "fct_customer_countries"}

	first, err := g.CompileAll(ps, order)
	require.NoError(t, err)
	second, err := g.CompileAll(pipeline(), order)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].SQL, second[i].SQL)
		assert.Equal(t, first[i].Checksum(), second[i].Checksum())
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *spec.ModelSpec)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "undeclared from_table",
			mutate: func(m *spec.ModelSpec) { m.Columns[0].FromTable = "crm_orders" },
			check: func(t *testing.T, err error) {
				var e *spec.UnknownSourceReferenceError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "stg_customers", e.Model)
				assert.Equal(t, "customer_id", e.Column)
				assert.Equal(t, "crm_orders", e.Table)
			},
		},
		{
			name:   "transform references undeclared table",
			mutate: func(m *spec.ModelSpec) { m.Columns[1].Transform = "COALESCE({from}, crm_orders.email)" },
			check: func(t *testing.T, err error) {
				var e *spec.UnknownSourceReferenceError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "transform", e.Context)
				assert.Equal(t, "email", e.Column)
			},
		},
		{
			name:   "from placeholder without source column",
			mutate: func(m *spec.ModelSpec) { m.Columns[1].FromColumn = "" },
			check: func(t *testing.T, err error) {
				var e *spec.TransformResolutionError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "email", e.Column)
			},
		},
		{
			name:   "neither transform nor source column",
			mutate: func(m *spec.ModelSpec) { m.Columns[2].FromColumn = "" },
			check: func(t *testing.T, err error) {
				var e *spec.TransformResolutionError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "country", e.Column)
			},
		},
		{
			name: "ambiguous unqualified reference",
			mutate: func(m *spec.ModelSpec) {
				m.Columns[1].FromTable = ""
				m.Columns[1].Transform = "LOWER(email)"
			},
			check: func(t *testing.T, err error) {
				var e *spec.TransformResolutionError
				require.ErrorAs(t, err, &e)
				assert.Contains(t, e.Message, "ambiguous")
			},
		},
		{
			name:   "unknown placeholder",
			mutate: func(m *spec.ModelSpec) { m.Columns[1].Transform = "LOWER({source})" },
			check: func(t *testing.T, err error) {
				var e *spec.TransformResolutionError
				require.ErrorAs(t, err, &e)
				assert.Contains(t, e.Message, "{source}")
			},
		},
		{
			name:   "filter references another source",
			mutate: func(m *spec.ModelSpec) { m.Filters[0].Predicate = "crm_customers.id > 0" },
			check: func(t *testing.T, err error) {
				var e *spec.MalformedTableError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, spec.TableFilters, e.Table)
				assert.Equal(t, 1, e.Row)
			},
		},
		{
			name:   "unqualified join condition",
			mutate: func(m *spec.ModelSpec) { m.Joins[0].Condition = "id = customer_id" },
			check: func(t *testing.T, err error) {
				var e *spec.MalformedTableError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, spec.TableJoins, e.Table)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := stgCustomers()
			tt.mutate(m)
			_, err := newGenerator(t, platform.Dataform).Compile(m, map[string]*spec.ModelSpec{m.Name: m})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestCompile_ResolverError(t *testing.T) {
	_, err := newGenerator(t, platform.LeapSQL).Query(stgCustomers(), func(s string) (string, error) {
		return "", assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestManifest(t *testing.T) {
	ps := pipeline()
	g := newGenerator(t, platform.Dataform)
	units, err := g.CompileAll(ps, []string{"stg_customers", "fct_customer_countries"})
	require.NoError(t, err)

	mf := g.NewManifest(ps, units)
	assert.Equal(t, "dataform", mf.Platform)
	require.Len(t, mf.Models, 2)
	assert.Equal(t, ManifestEntry{
		Name:      "stg_customers",
		File:      "stg_customers.sqlx",
		Layer:     "staging",
		Schema:    "temp",
		DependsOn: []string{},
		Checksum:  units[0].Checksum(),
	}, mf.Models[0])
	assert.Equal(t, "analytics", mf.Models[1].Schema)
	assert.Equal(t, []string{"stg_customers"}, mf.Models[1].DependsOn)
	assert.Len(t, mf.Models[0].Checksum, 16)

	data, err := mf.JSON()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
	var decoded Manifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *mf, decoded)
}

func TestCompileAll_UnknownModel(t *testing.T) {
	_, err := newGenerator(t, platform.Dataform).CompileAll(pipeline(), []string{"nope"})
	assert.ErrorContains(t, err, `unknown model "nope"`)
}

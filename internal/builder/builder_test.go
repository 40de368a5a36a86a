package builder

import (
	"testing"

	"github.com/leapstack-labs/specpipe/internal/reqdoc"
	"github.com/leapstack-labs/specpipe/internal/spec"
	"github.com/leapstack-labs/specpipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mappingHeader = `| target_column | type | from_table | from_column | transform | nullable | tests | description |
|---|---|---|---|---|---|---|---|
`

func customersBlock() reqdoc.ModelBlock {
	return reqdoc.ModelBlock{
		Name:    "stg_customers",
		Layer:   spec.LayerStaging,
		Sources: []string{"crm_customers", "crm_addresses"},
		Columns: []reqdoc.ColumnMappingRow{
			{Row: 1, TargetColumn: "customer_id", Type: "bigint", FromTable: "crm_customers", FromColumn: "id", Tests: "unique"},
			{Row: 2, TargetColumn: "email", Type: "varchar(255)", FromTable: "crm_customers", FromColumn: "email",
				Transform: "LOWER(TRIM({from}))", Tests: "not_null"},
			{Row: 3, TargetColumn: "country", Type: "string", FromTable: "crm_addresses", FromColumn: "country",
				Nullable: "yes", Tests: "accepted_values('US', 'DE')"},
		},
		Joins: []reqdoc.JoinRow{
			{Row: 1, LeftTable: "crm_customers", RightTable: "crm_addresses", Condition: "crm_customers.id = crm_addresses.customer_id"},
		},
		Filters: []reqdoc.FilterRow{
			{Row: 1, AppliesTo: "crm_addresses", Predicate: "country IS NOT NULL", Rationale: "drop unknown countries"},
		},
		Constraints: &reqdoc.ConstraintsRow{PrimaryKey: "customer_id", ClusterBy: "country"},
	}
}

func TestBuildModel(t *testing.T) {
	block := customersBlock()
	m, err := BuildModel(&block)
	require.NoError(t, err)

	assert.Equal(t, []string{"crm_customers", "crm_addresses"}, m.Sources)
	require.Len(t, m.Columns, 3)

	id := m.Columns[0]
	assert.Equal(t, spec.TypeInt64, id.Type)
	assert.False(t, id.Nullable, "unique forces not null")

	email := m.Columns[1]
	assert.Equal(t, spec.TypeString, email.Type)
	assert.False(t, email.Nullable, "not_null forces not null")
	assert.Equal(t, "LOWER(TRIM({from}))", email.Transform)

	country := m.Columns[2]
	assert.True(t, country.Nullable)
	assert.Equal(t, []spec.TestRef{{Name: spec.TestAcceptedValues, Args: []string{"US", "DE"}}}, country.Tests)

	require.Len(t, m.Joins, 1)
	assert.Equal(t, spec.JoinLeft, m.Joins[0].Kind, "blank join type defaults to LEFT")
	assert.Equal(t, spec.Constraints{PrimaryKey: []string{"customer_id"}, ClusterBy: []string{"country"}}, m.Constraints)
}

func TestBuildModel_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *reqdoc.ModelBlock)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unknown type",
			mutate: func(b *reqdoc.ModelBlock) { b.Columns[0].Type = "uuid" },
			check: func(t *testing.T, err error) {
				var e *spec.UnknownTypeError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "customer_id", e.Column)
				assert.Equal(t, "uuid", e.Type)
			},
		},
		{
			name: "nullable and unique outside primary key",
			mutate: func(b *reqdoc.ModelBlock) {
				b.Columns[1].Nullable = "yes"
				b.Columns[1].Tests = "unique"
			},
			check: func(t *testing.T, err error) {
				var e *spec.ConflictingConstraintError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "email", e.Column)
			},
		},
		{
			name:   "undeclared from_table",
			mutate: func(b *reqdoc.ModelBlock) { b.Columns[1].FromTable = "crm_orders" },
			check: func(t *testing.T, err error) {
				var e *spec.UnknownSourceReferenceError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "stg_customers", e.Model)
				assert.Equal(t, "email", e.Column)
				assert.Equal(t, "crm_orders", e.Table)
			},
		},
		{
			name:   "undeclared join side",
			mutate: func(b *reqdoc.ModelBlock) { b.Joins[0].RightTable = "crm_orders" },
			check: func(t *testing.T, err error) {
				var e *spec.UnknownSourceReferenceError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "crm_orders", e.Table)
			},
		},
		{
			name:   "unknown test",
			mutate: func(b *reqdoc.ModelBlock) { b.Columns[2].Tests = "is_email" },
			check: func(t *testing.T, err error) {
				var e *spec.MalformedTableError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, spec.TableColumnMapping, e.Table)
				assert.Equal(t, 3, e.Row)
			},
		},
		{
			name:   "bad nullable",
			mutate: func(b *reqdoc.ModelBlock) { b.Columns[2].Nullable = "maybe" },
			check: func(t *testing.T, err error) {
				var e *spec.MalformedTableError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, 3, e.Row)
			},
		},
		{
			name:   "bad join type",
			mutate: func(b *reqdoc.ModelBlock) { b.Joins[0].Type = "cross" },
			check: func(t *testing.T, err error) {
				var e *spec.MalformedTableError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, spec.TableJoins, e.Table)
			},
		},
		{
			name:   "empty primary key",
			mutate: func(b *reqdoc.ModelBlock) { b.Constraints.PrimaryKey = "" },
			check: func(t *testing.T, err error) {
				var e *spec.MalformedTableError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, spec.TableConstraints, e.Table)
			},
		},
		{
			name:   "transform reads an undeclared table",
			mutate: func(b *reqdoc.ModelBlock) { b.Columns[1].Transform = "LOWER(crm_orders.email)" },
			check: func(t *testing.T, err error) {
				var e *spec.UnknownSourceReferenceError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "email", e.Column)
				assert.Equal(t, "crm_orders", e.Table)
				assert.Equal(t, "transform", e.Context)
			},
		},
		{
			name: "filter reads another source",
			mutate: func(b *reqdoc.ModelBlock) {
				b.Filters[0].Predicate = "crm_customers.id > 0"
			},
			check: func(t *testing.T, err error) {
				var e *spec.MalformedTableError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, spec.TableFilters, e.Table)
				assert.Equal(t, 1, e.Row)
			},
		},
		{
			name:   "unqualified join condition",
			mutate: func(b *reqdoc.ModelBlock) { b.Joins[0].Condition = "id = crm_addresses.customer_id" },
			check: func(t *testing.T, err error) {
				var e *spec.MalformedTableError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, spec.TableJoins, e.Table)
			},
		},
		{
			name:   "unparsable transform",
			mutate: func(b *reqdoc.ModelBlock) { b.Columns[1].Transform = "LOWER(" },
			check: func(t *testing.T, err error) {
				var e *spec.TransformResolutionError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "email", e.Column)
			},
		},
		{
			name:   "no sources",
			mutate: func(b *reqdoc.ModelBlock) { b.Sources = nil },
			check: func(t *testing.T, err error) {
				var e *spec.MissingSourceError
				require.ErrorAs(t, err, &e)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := customersBlock()
			tt.mutate(&block)
			_, err := BuildModel(&block)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestBuildModel_JoinChainOrder(t *testing.T) {
	block := customersBlock()
	block.Sources = append(block.Sources, "crm_phones")
	block.Joins = []reqdoc.JoinRow{
		{Row: 1, LeftTable: "crm_customers", RightTable: "crm_addresses", Condition: "crm_customers.id = crm_phones.customer_id"},
		{Row: 2, LeftTable: "crm_customers", RightTable: "crm_phones", Condition: "crm_customers.id = crm_phones.customer_id"},
	}
	_, err := BuildModel(&block)
	var e *spec.MalformedTableError
	require.ErrorAs(t, err, &e)
	assert.Equal(t, spec.TableJoins, e.Table)
	assert.Equal(t, 1, e.Row)
	assert.Contains(t, e.Message, `"crm_phones"`)

	// Once crm_phones is in the chain, later conditions may use it.
	block.Joins = []reqdoc.JoinRow{
		{Row: 1, LeftTable: "crm_customers", RightTable: "crm_phones", Condition: "crm_customers.id = crm_phones.customer_id"},
		{Row: 2, LeftTable: "crm_customers", RightTable: "crm_addresses",
			Condition: "crm_customers.id = crm_addresses.customer_id AND crm_phones.region = crm_addresses.region"},
	}
	_, err = BuildModel(&block)
	require.NoError(t, err)

	// A later join must hang off a table that is already joined.
	block.Joins[1].LeftTable = "crm_addresses"
	block.Joins[1].RightTable = "crm_customers"
	_, err = BuildModel(&block)
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 2, e.Row)
}

func TestBuild_SelfReference(t *testing.T) {
	doc := &reqdoc.Document{Models: []reqdoc.ModelBlock{{
		Name:    "stg_a",
		Layer:   spec.LayerStaging,
		Sources: []string{"stg_a"},
		Columns: []reqdoc.ColumnMappingRow{{Row: 1, TargetColumn: "id", Type: "int64", FromTable: "stg_a", FromColumn: "id"}},
	}}}
	_, err := New(nil).Build(doc)
	var e *spec.CyclicDependencyError
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"stg_a", "stg_a"}, e.Cycle)
}

func TestCheck(t *testing.T) {
	block := customersBlock()
	m, err := BuildModel(&block)
	require.NoError(t, err)
	ps := &spec.PipelineSpec{Namespaces: spec.DefaultNamespaces(), Models: []*spec.ModelSpec{m}}
	require.NoError(t, Check(ps))

	m.Columns[1].Transform = "LOWER(crm_orders.email)"
	var ref *spec.UnknownSourceReferenceError
	require.ErrorAs(t, Check(ps), &ref)
	assert.Equal(t, "crm_orders", ref.Table)

	m.Columns[1].Transform = ""
	m.Sources = append(m.Sources, m.Name)
	m.Joins = append(m.Joins, spec.Join{LeftTable: "crm_customers", RightTable: m.Name, Kind: spec.JoinLeft,
		Condition: "crm_customers.id = stg_customers.customer_id"})
	var cyc *spec.CyclicDependencyError
	require.ErrorAs(t, Check(ps), &cyc)
}

func TestBuildModel_NullableUniqueInPrimaryKey(t *testing.T) {
	block := customersBlock()
	block.Columns[0].Nullable = "yes"
	m, err := BuildModel(&block)
	require.NoError(t, err)
	assert.False(t, m.Columns[0].Nullable)
}

func TestBuild_FromMarkdown(t *testing.T) {
	src := "## Model: fct_orders\nSources: stg_orders, stg_customers\n\n### Column mapping\n\n" + mappingHeader +
		"| order_id | INT64 | stg_orders | order_id | | no | unique | |\n" +
		"| customer_name | STRING | stg_customers | name | | | | |\n\n" +
		"### Joins\n\n| left_table | right_table | type | condition |\n|---|---|---|---|\n" +
		"| stg_orders | stg_customers | INNER | stg_orders.customer_id = stg_customers.customer_id |\n\n" +
		"## Model: stg_orders\nSources: raw_orders\n\n### Column mapping\n\n" + mappingHeader +
		"| order_id | INT64 | raw_orders | id | | | | |\n" +
		"| customer_id | INT64 | raw_orders | customer_id | | | | |\n\n" +
		"## Model: stg_customers\nSources: raw_customers\n\n### Column mapping\n\n" + mappingHeader +
		"| customer_id | INT64 | raw_customers | id | | | | |\n" +
		"| name | STRING | raw_customers | name | | | | |\n"

	doc, err := reqdoc.Parse(src, reqdoc.Options{})
	require.NoError(t, err)

	ps, err := New(testutil.NewTestLogger(t)).Build(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"fct_orders", "stg_orders", "stg_customers"}, ps.Names())
	assert.Equal(t, spec.DefaultNamespaces(), ps.Namespaces)

	order, err := ResolveOrder(ps)
	require.NoError(t, err)
	assert.Equal(t, []string{"stg_orders", "stg_customers", "fct_orders"}, order)

	levels, err := Levels(ps)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"stg_orders", "stg_customers"}, {"fct_orders"}}, levels)
}

func TestBuild_DuplicateModel(t *testing.T) {
	doc := &reqdoc.Document{Models: []reqdoc.ModelBlock{customersBlock(), customersBlock()}}
	_, err := New(nil).Build(doc)
	var e *spec.MalformedTableError
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Message, "defined twice")
}

func TestResolveOrder_Cycle(t *testing.T) {
	ps := &spec.PipelineSpec{Models: []*spec.ModelSpec{
		{Name: "a", Layer: spec.LayerStaging, Sources: []string{"c"}},
		{Name: "b", Layer: spec.LayerStaging, Sources: []string{"a"}},
		{Name: "c", Layer: spec.LayerStaging, Sources: []string{"b"}},
	}}
	_, err := ResolveOrder(ps)
	var e *spec.CyclicDependencyError
	require.ErrorAs(t, err, &e)
	assert.Len(t, e.Cycle, 4)
	assert.Equal(t, e.Cycle[0], e.Cycle[len(e.Cycle)-1])
}

func TestResolveOrder_IsTopological(t *testing.T) {
	ps := &spec.PipelineSpec{Models: []*spec.ModelSpec{
		{Name: "report", Sources: []string{"fct", "dim"}},
		{Name: "fct", Sources: []string{"stg_a", "stg_b"}},
		{Name: "stg_b", Sources: []string{"raw_b"}},
		{Name: "dim", Sources: []string{"stg_a"}},
		{Name: "stg_a", Sources: []string{"raw_a"}},
	}}
	order, err := ResolveOrder(ps)
	require.NoError(t, err)

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	for _, m := range ps.Models {
		for _, dep := range ps.DependsOn(m) {
			assert.Less(t, pos[dep], pos[m.Name], "%s before %s", dep, m.Name)
		}
	}
	assert.Equal(t, []string{"stg_b", "stg_a", "fct", "dim", "report"}, order)
}

func TestSelect(t *testing.T) {
	ps := &spec.PipelineSpec{Models: []*spec.ModelSpec{
		{Name: "report", Sources: []string{"fct", "dim"}},
		{Name: "fct", Sources: []string{"stg_a", "stg_b"}},
		{Name: "stg_b", Sources: []string{"raw_b"}},
		{Name: "dim", Sources: []string{"stg_a"}},
		{Name: "stg_a", Sources: []string{"raw_a"}},
	}}

	tests := []struct {
		name       string
		selected   []string
		downstream bool
		want       []string
	}{
		{name: "leaf only", selected: []string{"stg_b"}, want: []string{"stg_b"}},
		{name: "with upstream", selected: []string{"fct"}, want: []string{"fct", "stg_b", "stg_a"}},
		{
			name:       "downstream pulls dependents and their inputs",
			selected:   []string{"stg_a"},
			downstream: true,
			want:       []string{"report", "fct", "stg_b", "dim", "stg_a"},
		},
		{name: "downstream of a sink", selected: []string{"report"}, downstream: true, want: []string{"report", "fct", "stg_b", "dim", "stg_a"}},
		{name: "two models", selected: []string{"dim", "stg_b"}, want: []string{"stg_b", "dim", "stg_a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := Select(ps, tt.selected, tt.downstream)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sub.Names())
		})
	}

	_, err := Select(ps, []string{"missing"}, false)
	assert.EqualError(t, err, `unknown model "missing"`)
}

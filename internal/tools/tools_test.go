package tools_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/domainscribe/internal/observe"
	"github.com/MrWong99/domainscribe/internal/tools"
	"github.com/MrWong99/domainscribe/pkg/domain"
)

// ── helpers ─────────────────────────────────────────────────────────────────

type fakeGenerator struct {
	model *domain.Model
	err   error
	langs []string
}

func (g *fakeGenerator) GenerateIn(_ context.Context, _ string, lang string) (*domain.Model, error) {
	g.langs = append(g.langs, lang)
	return g.model, g.err
}

// connect serves s over an in-memory transport pair and returns a client.
func connect(t *testing.T, s *mcpsdk.Server) *tools.Client {
	t.Helper()
	ctx := context.Background()
	clientT, serverT := mcpsdk.NewInMemoryTransports()
	ss, err := s.Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	c, err := tools.Connect(ctx, clientT)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func orderModel() *domain.Model {
	return &domain.Model{
		Entities: []domain.Entity{
			{ID: "customer", Name: "Customer", Attributes: []domain.Attribute{
				{Name: "email", Type: "email", Required: domain.Ptr(true), Unique: domain.Ptr(true)},
			}},
			{ID: "order", Name: "Order", PrimaryKey: []string{"number"}, Attributes: []domain.Attribute{
				{Name: "number", Type: "integer", Required: domain.Ptr(true)},
			}},
		},
		Relations: []domain.Relation{{
			ID: "places", Name: "places",
			From:        domain.RelationEnd{EntityID: "customer"},
			To:          domain.RelationEnd{EntityID: "order"},
			Cardinality: domain.Cardinality{From: "1", To: "0..n"},
		}},
		Invariants: []domain.Invariant{},
	}
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestServer_ListsTools(t *testing.T) {
	t.Parallel()
	c := connect(t, tools.NewServer())
	names, err := c.Tools(context.Background())
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	slices.Sort(names)
	want := []string{tools.ToolEmitMarkdown, tools.ToolEmitMermaid, tools.ToolValidateModel}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}

	c = connect(t, tools.NewServer(tools.WithGenerator(&fakeGenerator{model: orderModel()})))
	names, _ = c.Tools(context.Background())
	if !slices.Contains(names, tools.ToolGenerateModel) {
		t.Errorf("tools = %v, want %s registered with a generator", names, tools.ToolGenerateModel)
	}
}

func TestClient_EmitMarkdown(t *testing.T) {
	t.Parallel()
	c := connect(t, tools.NewServer())
	m := orderModel()

	got, err := c.EmitMarkdown(context.Background(), m, domain.AudienceBusiness)
	if err != nil {
		t.Fatalf("EmitMarkdown: %v", err)
	}
	if want := domain.RenderMarkdown(m, domain.AudienceBusiness); got != want {
		t.Errorf("markdown over MCP differs from local rendering\n--- got ---\n%s\n--- want ---\n%s", got, want)
	}
}

func TestClient_EmitMermaid(t *testing.T) {
	t.Parallel()
	c := connect(t, tools.NewServer())
	m := orderModel()

	er, err := c.EmitMermaid(context.Background(), m, "")
	if err != nil {
		t.Fatalf("EmitMermaid: %v", err)
	}
	if !strings.Contains(er, `    customer ||--o{ order : "places"`) {
		t.Errorf("ER diagram missing relation line:\n%s", er)
	}
	class, err := c.EmitMermaid(context.Background(), m, domain.StyleClass)
	if err != nil {
		t.Fatalf("EmitMermaid(class): %v", err)
	}
	if !strings.HasPrefix(class, "classDiagram\n") || !strings.Contains(class, "customer --> order : places") {
		t.Errorf("class diagram unexpected:\n%s", class)
	}
}

func TestClient_ValidateModel(t *testing.T) {
	t.Parallel()
	c := connect(t, tools.NewServer())

	r, err := c.ValidateModel(context.Background(), orderModel())
	if err != nil {
		t.Fatalf("ValidateModel: %v", err)
	}
	if !r.OK {
		t.Errorf("OK = false, errors %v", r.Errors)
	}

	bad := orderModel()
	bad.Relations[0].To.EntityID = "invoice"
	r, err = c.ValidateModel(context.Background(), bad)
	if err != nil {
		t.Fatalf("ValidateModel: %v", err)
	}
	if r.OK || len(r.Errors) != 1 || !strings.Contains(r.Errors[0], `"invoice"`) {
		t.Errorf("report = %+v, want one error about invoice", r)
	}
}

func TestClient_GenerateModel(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{model: orderModel()}
	c := connect(t, tools.NewServer(tools.WithGenerator(gen)))

	m, err := c.GenerateModel(context.Background(), "customers place orders", "en")
	if err != nil {
		t.Fatalf("GenerateModel: %v", err)
	}
	if len(m.Entities) != 2 || m.Entities[1].ID != "order" {
		t.Errorf("model = %+v", m)
	}
	if len(gen.langs) != 1 || gen.langs[0] != "en" {
		t.Errorf("generator languages = %v, want [en]", gen.langs)
	}
}

func TestClient_GenerateModel_ToolError(t *testing.T) {
	t.Parallel()
	c := connect(t, tools.NewServer(tools.WithGenerator(&fakeGenerator{err: errors.New("llm unreachable")})))

	_, err := c.GenerateModel(context.Background(), "x", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "llm unreachable") {
		t.Errorf("error = %v, want generator message", err)
	}
}

func TestClient_UnknownTool(t *testing.T) {
	t.Parallel()
	c := connect(t, tools.NewServer())
	if err := c.Call(context.Background(), "normalize_terms", map[string]any{}, nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestServer_RecordsToolMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	c := connect(t, tools.NewServer(tools.WithServerMetrics(m)))
	if _, err := c.EmitMermaid(context.Background(), orderModel(), ""); err != nil {
		t.Fatalf("EmitMermaid: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "domainscribe.tool.calls" {
				continue
			}
			sum := met.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("tool"); ok && v.AsString() == tools.ToolEmitMermaid {
					found = dp.Value == 1
				}
			}
		}
	}
	if !found {
		t.Error("tool call for emit_mermaid not recorded")
	}
}

func TestConnectInProcess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, err := tools.ConnectInProcess(ctx, tools.NewServer())
	if err != nil {
		t.Fatalf("ConnectInProcess: %v", err)
	}

	m := orderModel()
	got, err := c.EmitMermaid(ctx, m, domain.StyleER)
	if err != nil {
		t.Fatalf("EmitMermaid: %v", err)
	}
	if got != domain.RenderMermaid(m, domain.StyleER) {
		t.Error("mermaid over in-process server differs from local rendering")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

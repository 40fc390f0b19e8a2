package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/config"
	"github.com/cgs-mvp/cgs/go/engine/internal/db"
	"github.com/cgs-mvp/cgs/go/engine/internal/llm"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
)

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*models.Run
	briefs   map[uuid.UUID]*models.Brief
	contexts map[uuid.UUID]*models.Context
	packs    map[uuid.UUID]*models.AgentPack
	cards    []models.Card
	items    []models.ContextItem
	numbers  []int

	outputs []*models.Output
	archive []*models.ArchiveItem
	logs    []models.RunLog
	updates []db.RunUpdate

	// updateErr, when set, can reject an update before it is applied.
	updateErr func(u db.RunUpdate) error
}

func (s *memStore) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, apperrors.NotFound("run", id.String())
}

func (s *memStore) runStatus(id uuid.UUID) models.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id].Status
}

func (s *memStore) GetBrief(_ context.Context, id uuid.UUID) (*models.Brief, error) {
	if b, ok := s.briefs[id]; ok {
		return b, nil
	}
	return nil, apperrors.NotFound("brief", id.String())
}

func (s *memStore) GetContext(_ context.Context, id uuid.UUID) (*models.Context, error) {
	if c, ok := s.contexts[id]; ok {
		return c, nil
	}
	return nil, apperrors.NotFound("context", id.String())
}

func (s *memStore) GetPack(_ context.Context, id uuid.UUID) (*models.AgentPack, error) {
	if p, ok := s.packs[id]; ok {
		return p, nil
	}
	return nil, apperrors.NotFound("agent pack", id.String())
}

func (s *memStore) ListCards(context.Context, uuid.UUID) ([]models.Card, error) { return s.cards, nil }

func (s *memStore) ListContextItems(context.Context, uuid.UUID) ([]models.ContextItem, error) {
	return s.items, nil
}

func (s *memStore) NextOutputNumber(context.Context, uuid.UUID) (int, error) {
	max := 0
	for _, n := range s.numbers {
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

func (s *memStore) InsertOutputWithArchive(_ context.Context, o *models.Output, a *models.ArchiveItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.OutputID = o.ID
	s.outputs = append(s.outputs, o)
	s.archive = append(s.archive, a)
	return nil
}

func (s *memStore) InsertRunLog(_ context.Context, l models.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

func (s *memStore) UpdateRun(_ context.Context, id uuid.UUID, u db.RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return apperrors.NotFound("run", id.String())
	}
	if u.From != nil && r.Status != *u.From {
		return apperrors.Conflict(fmt.Sprintf("run %s is not %s", id, *u.From))
	}
	if s.updateErr != nil {
		if err := s.updateErr(u); err != nil {
			return err
		}
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	s.updates = append(s.updates, u)
	return nil
}

func (s *memStore) lastUpdate() db.RunUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[len(s.updates)-1]
}

type fakeArchive struct {
	refs, guards []models.ArchiveItem
}

func (f *fakeArchive) GetReferences(context.Context, uuid.UUID, *uuid.UUID, int) ([]models.ArchiveItem, error) {
	return f.refs, nil
}

func (f *fakeArchive) GetGuardrails(context.Context, uuid.UUID, *uuid.UUID, int) ([]models.ArchiveItem, error) {
	return f.guards, nil
}

type fakeTools struct {
	calls []string
}

func (f *fakeTools) Execute(_ context.Context, name, topic string, _, _ uuid.UUID) (string, error) {
	f.calls = append(f.calls, name)
	if name == "perplexity_search" {
		return "research about " + topic, nil
	}
	return "", nil
}

type call struct {
	messages []llm.Message
	opts     llm.GenerateOptions
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []call
	respond func(n int, msgs []llm.Message) (*llm.Response, error)
}

func (g *fakeGateway) Generate(_ context.Context, msgs []llm.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	g.mu.Lock()
	n := len(g.calls)
	g.calls = append(g.calls, call{messages: msgs, opts: opts})
	g.mu.Unlock()
	return g.respond(n, msgs)
}

type fakeGateways map[models.Provider]*fakeGateway

func (f fakeGateways) For(p models.Provider) (llm.Gateway, error) {
	if g, ok := f[p]; ok {
		return g, nil
	}
	return nil, apperrors.LLM(string(p), errors.New("provider not configured"))
}

func cannedGateway(outputs ...string) *fakeGateway {
	return &fakeGateway{respond: func(n int, _ []llm.Message) (*llm.Response, error) {
		return &llm.Response{Content: outputs[n], Model: "gpt-4o", TokensIn: 100, TokensOut: 50, CostUSD: 0.00075}, nil
	}}
}

type fixture struct {
	store    *memStore
	archive  *fakeArchive
	tools    *fakeTools
	gateways fakeGateways
	runID    uuid.UUID
	userID   uuid.UUID
	brief    *models.Brief
	pack     *models.AgentPack
}

func newFixture(agents ...models.Agent) *fixture {
	runID, userID := uuid.New(), uuid.New()
	ctxRec := &models.Context{ID: uuid.New(), BrandName: "Acme Bikes"}
	pack := &models.AgentPack{ID: uuid.New(), Slug: "blog-post", Name: "Blog", AgentsConfig: agents}
	brief := &models.Brief{ID: uuid.New(), ContextID: ctxRec.ID, PackID: pack.ID, UserID: userID, Name: "Spring"}
	run := &models.Run{ID: runID, BriefID: brief.ID, UserID: userID, Topic: "electric bikes", Status: models.RunPending}

	return &fixture{
		store: &memStore{
			runs:     map[uuid.UUID]*models.Run{runID: run},
			briefs:   map[uuid.UUID]*models.Brief{brief.ID: brief},
			contexts: map[uuid.UUID]*models.Context{ctxRec.ID: ctxRec},
			packs:    map[uuid.UUID]*models.AgentPack{pack.ID: pack},
		},
		archive:  &fakeArchive{},
		tools:    &fakeTools{},
		gateways: fakeGateways{},
		runID:    runID,
		userID:   userID,
		brief:    brief,
		pack:     pack,
	}
}

func (f *fixture) execute(t *testing.T, cfg config.WorkflowConfig, opts ...Option) []streaming.Event {
	t.Helper()
	e := NewExecutor(f.store, f.archive, f.tools, f.gateways, cfg, zaptest.NewLogger(t), opts...)
	var events []streaming.Event
	timeout := time.After(5 * time.Second)
	ch := e.Execute(context.Background(), f.runID, f.userID)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatal("timeout waiting for run events")
		}
	}
}

func ofType(events []streaming.Event, typ string) []streaming.Event {
	var out []streaming.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func researcherWriter() *fixture {
	return newFixture(
		models.Agent{Name: "Researcher", Role: "researcher", Prompt: "Research {{topic}}"},
		models.Agent{Name: "Writer", Role: "writer", Prompt: "Write using {{agent.Researcher.output}}"},
	)
}

func TestExecuteTwoAgentPipeline(t *testing.T) {
	f := researcherWriter()
	gw := cannedGateway("bike facts", "final article")
	f.gateways[models.ProviderOpenAI] = gw

	events := f.execute(t, config.WorkflowConfig{})

	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	assert.Equal(t, []string{"status", "progress", "agent_complete", "progress", "agent_complete", "completed"}, types)

	progress := ofType(events, streaming.TypeProgress)
	require.Len(t, progress, 2)
	assert.Equal(t, 0, progress[0].Data["progress"])
	assert.Equal(t, 45, progress[1].Data["progress"])
	assert.Equal(t, "Researcher", progress[0].Data["step"])
	assert.Equal(t, "researcher", progress[0].Data["agent"])

	complete := ofType(events, streaming.TypeAgentComplete)
	assert.Equal(t, "Researcher", complete[0].Data["agent"])
	assert.Equal(t, 150, complete[0].Data["tokens"])

	require.Len(t, f.store.outputs, 1)
	out := f.store.outputs[0]
	assert.Equal(t, "final article", *out.TextContent)
	assert.Equal(t, "Writer", *out.Author)
	assert.Equal(t, "electric bikes", *out.Title)
	assert.Equal(t, models.OutputPendingReview, out.Status)
	assert.Equal(t, 1, *out.Number)
	assert.True(t, out.IsNew)
	assert.Equal(t, "text/markdown", out.MimeType)

	require.Len(t, f.store.archive, 1)
	assert.Equal(t, models.ReviewPending, f.store.archive[0].ReviewStatus)
	assert.Equal(t, "blog-post", f.store.archive[0].ContentType)
	assert.Equal(t, f.brief.ContextID, f.store.archive[0].ContextID)

	done := events[len(events)-1]
	assert.Equal(t, out.ID.String(), done.Data["output_id"])
	assert.Equal(t, 300, done.Data["total_tokens"])
	assert.Equal(t, 0.0015, done.Data["total_cost_usd"])

	// the writer saw the researcher's output through the template and the prior outputs section
	require.Len(t, gw.calls, 2)
	writerSystem := gw.calls[1].messages[0].Content
	assert.True(t, strings.HasPrefix(writerSystem, "Write using bike facts"))
	assert.Contains(t, writerSystem, "## PREVIOUS AGENT OUTPUTS\n- Researcher: bike facts")
	assert.NotContains(t, strings.ToLower(writerSystem), "mandatory rules")
	assert.Equal(t, "Topic: electric bikes", gw.calls[0].messages[1].Content)

	final := f.store.lastUpdate()
	assert.Equal(t, models.RunCompleted, *final.Status)
	assert.Equal(t, models.RunRunning, *final.From)
	assert.Equal(t, models.RunCompleted, f.store.runStatus(f.runID))
	assert.Equal(t, 100, *final.Progress)
	assert.Equal(t, "final article", *final.FinalOutput)
	assert.Equal(t, map[string]string{"Researcher": "bike facts", "Writer": "final article"}, final.TaskOutputs)
	assert.Equal(t, 300, *final.TotalTokens)
	require.NotNil(t, final.CompletedAt)
}

func TestProgressIsFlooredAndMonotonic(t *testing.T) {
	f := newFixture(
		models.Agent{Name: "A", Role: "a"},
		models.Agent{Name: "B", Role: "b"},
		models.Agent{Name: "C", Role: "c"},
	)
	f.gateways[models.ProviderOpenAI] = cannedGateway("1", "2", "3")

	events := f.execute(t, config.WorkflowConfig{})
	var got []int
	for _, e := range ofType(events, streaming.TypeProgress) {
		got = append(got, e.Data["progress"].(int))
	}
	assert.Equal(t, []int{0, 30, 60}, got)
}

func TestGuardrailReachesEveryStep(t *testing.T) {
	f := researcherWriter()
	fb := "Never mention price"
	f.archive.guards = []models.ArchiveItem{{Topic: "old post", Feedback: &fb, FeedbackCategories: []string{"tone"}}}
	gw := cannedGateway("facts", "article")
	f.gateways[models.ProviderOpenAI] = gw

	events := f.execute(t, config.WorkflowConfig{})
	require.Equal(t, streaming.TypeCompleted, events[len(events)-1].Type)

	require.Len(t, gw.calls, 2)
	for _, c := range gw.calls {
		assert.Contains(t, c.messages[0].Content, "Never mention price")
		assert.Contains(t, c.messages[1].Content, "Never mention price")
		assert.Contains(t, c.messages[1].Content, "MANDATORY RULES")
	}
}

func TestExecuteFailureMidPipeline(t *testing.T) {
	f := researcherWriter()
	f.gateways[models.ProviderOpenAI] = &fakeGateway{respond: func(n int, _ []llm.Message) (*llm.Response, error) {
		if n == 1 {
			return nil, apperrors.LLM("openai", errors.New("rate limited"))
		}
		return &llm.Response{Content: "facts", TokensIn: 10, TokensOut: 5, CostUSD: 0.001}, nil
	}}

	events := f.execute(t, config.WorkflowConfig{})
	last := events[len(events)-1]
	assert.Equal(t, streaming.TypeError, last.Type)
	assert.Equal(t, "openai generation failed: rate limited", last.Data["error"])
	assert.Len(t, ofType(events, streaming.TypeError), 1)
	assert.Empty(t, ofType(events, streaming.TypeCompleted))
	assert.Empty(t, f.store.outputs)

	final := f.store.lastUpdate()
	assert.Equal(t, models.RunFailed, *final.Status)
	assert.Equal(t, "openai generation failed: rate limited", *final.ErrorMessage)
	assert.Nil(t, final.TotalTokens)

	var errorLogs int
	for _, l := range f.store.logs {
		if l.Level == "ERROR" {
			errorLogs++
			assert.Equal(t, "openai generation failed: rate limited", l.Message)
		}
	}
	assert.Equal(t, 1, errorLogs)
}

func TestPartialTelemetryOnFailure(t *testing.T) {
	f := researcherWriter()
	f.gateways[models.ProviderOpenAI] = &fakeGateway{respond: func(n int, _ []llm.Message) (*llm.Response, error) {
		if n == 1 {
			return nil, errors.New("boom")
		}
		return &llm.Response{Content: "facts", TokensIn: 10, TokensOut: 5, CostUSD: 0.001}, nil
	}}

	f.execute(t, config.WorkflowConfig{PersistPartialTelemetry: true})

	final := f.store.lastUpdate()
	assert.Equal(t, models.RunFailed, *final.Status)
	require.NotNil(t, final.TotalTokens)
	assert.Equal(t, 15, *final.TotalTokens)
	assert.Equal(t, 0.001, *final.TotalCostUSD)
}

func TestMissingRunFails(t *testing.T) {
	f := researcherWriter()
	f.runID = uuid.New()

	events := f.execute(t, config.WorkflowConfig{})
	require.Len(t, events, 1)
	assert.Equal(t, streaming.TypeError, events[0].Type)
	assert.Equal(t, fmt.Sprintf("run not found: %s", f.runID), events[0].Data["error"])
}

func TestEmptyPackFails(t *testing.T) {
	f := newFixture()
	events := f.execute(t, config.WorkflowConfig{})
	require.Len(t, events, 1)
	assert.Equal(t, streaming.TypeError, events[0].Type)
	assert.Contains(t, events[0].Data["error"], "has no agents")
	assert.Equal(t, models.RunFailed, f.store.runStatus(f.runID))
}

func TestFinishedRunIsNotExecutedAgain(t *testing.T) {
	for _, status := range []models.RunStatus{models.RunRunning, models.RunCompleted, models.RunFailed, models.RunCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := researcherWriter()
			f.store.runs[f.runID].Status = status
			gw := cannedGateway("facts", "article")
			f.gateways[models.ProviderOpenAI] = gw

			events := f.execute(t, config.WorkflowConfig{})
			require.Len(t, events, 1)
			assert.Equal(t, streaming.TypeError, events[0].Type)
			assert.Equal(t, fmt.Sprintf("run %s is already %s", f.runID, status), events[0].Data["error"])

			assert.Empty(t, gw.calls)
			assert.Empty(t, f.store.outputs)
			assert.Empty(t, f.store.updates)
			assert.Empty(t, f.store.logs)
			assert.Equal(t, status, f.store.runStatus(f.runID))
		})
	}
}

func TestConcurrentExecuteRunsOnce(t *testing.T) {
	f := researcherWriter()
	gw := &fakeGateway{respond: func(n int, _ []llm.Message) (*llm.Response, error) {
		return &llm.Response{Content: fmt.Sprintf("out %d", n), TokensIn: 1, TokensOut: 1}, nil
	}}
	f.gateways[models.ProviderOpenAI] = gw
	e := NewExecutor(f.store, f.archive, f.tools, f.gateways, config.WorkflowConfig{}, zaptest.NewLogger(t))

	results := make(chan []streaming.Event, 2)
	for i := 0; i < 2; i++ {
		go func() {
			var events []streaming.Event
			for evt := range e.Execute(context.Background(), f.runID, f.userID) {
				events = append(events, evt)
			}
			results <- events
		}()
	}

	var completed, rejected int
	for i := 0; i < 2; i++ {
		select {
		case events := <-results:
			switch last := events[len(events)-1]; last.Type {
			case streaming.TypeCompleted:
				completed++
			case streaming.TypeError:
				rejected++
				assert.Len(t, events, 1)
				assert.Contains(t, last.Data["error"], f.runID.String())
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for runs")
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, rejected)
	assert.Len(t, f.store.outputs, 1)
	assert.Len(t, gw.calls, 2)
	assert.Equal(t, models.RunCompleted, f.store.runStatus(f.runID))
}

func TestDuplicateAgentNameFailsBeforeGeneration(t *testing.T) {
	f := newFixture(
		models.Agent{Name: "Writer", Role: "writer"},
		models.Agent{Name: "Editor", Role: "editor"},
		models.Agent{Name: "Writer", Role: "rewriter"},
	)
	gw := cannedGateway("a", "b", "c")
	f.gateways[models.ProviderOpenAI] = gw

	events := f.execute(t, config.WorkflowConfig{})
	require.Len(t, events, 1)
	assert.Equal(t, streaming.TypeError, events[0].Type)
	assert.Equal(t, `agent pack blog-post lists agent "Writer" more than once`, events[0].Data["error"])
	assert.Empty(t, gw.calls)
	assert.Empty(t, f.store.outputs)

	require.Len(t, f.store.updates, 1)
	final := f.store.lastUpdate()
	assert.Equal(t, models.RunPending, *final.From)
	assert.Equal(t, models.RunFailed, *final.Status)
	assert.Nil(t, final.StartedAt)
	assert.Equal(t, models.RunFailed, f.store.runStatus(f.runID))
}

func TestTaskOutputsAreTruncated(t *testing.T) {
	f := newFixture(models.Agent{Name: "Writer", Role: "writer"})
	long := strings.Repeat("x", taskOutputLimit+500)
	f.gateways[models.ProviderOpenAI] = cannedGateway(long)

	events := f.execute(t, config.WorkflowConfig{})
	require.Equal(t, streaming.TypeCompleted, events[len(events)-1].Type)

	final := f.store.lastUpdate()
	assert.Len(t, final.TaskOutputs["Writer"], taskOutputLimit)
	assert.Len(t, *final.FinalOutput, finalOutputLimit)
	// the stored output keeps the full text
	assert.Len(t, *f.store.outputs[0].TextContent, len(long))
}

func TestCompletionUpdateFailureMarksRunFailed(t *testing.T) {
	f := researcherWriter()
	f.gateways[models.ProviderOpenAI] = cannedGateway("facts", "article")
	f.store.updateErr = func(u db.RunUpdate) error {
		if u.Status != nil && *u.Status == models.RunCompleted {
			return apperrors.Storage("failed to update run", errors.New("connection reset"))
		}
		return nil
	}

	events := f.execute(t, config.WorkflowConfig{})
	last := events[len(events)-1]
	assert.Equal(t, streaming.TypeError, last.Type)
	assert.Contains(t, last.Data["error"], "connection reset")
	assert.Empty(t, ofType(events, streaming.TypeCompleted))

	// the stored output is not rolled back
	require.Len(t, f.store.outputs, 1)
	assert.Equal(t, models.OutputPendingReview, f.store.outputs[0].Status)
	assert.Equal(t, models.RunFailed, f.store.runStatus(f.runID))
	assert.Equal(t, models.RunRunning, *f.store.lastUpdate().From)
}

func TestToolResultsInPrompt(t *testing.T) {
	f := newFixture(models.Agent{
		Name:  "Researcher",
		Role:  "researcher",
		Tools: []models.ToolKind{models.ToolPerplexitySearch, models.ToolKind("legacy_tool")},
	})
	gw := cannedGateway("done")
	f.gateways[models.ProviderOpenAI] = gw

	events := f.execute(t, config.WorkflowConfig{})
	require.Equal(t, streaming.TypeCompleted, events[len(events)-1].Type)

	assert.Equal(t, []string{"perplexity_search", "legacy_tool"}, f.tools.calls)
	system := gw.calls[0].messages[0].Content
	assert.True(t, strings.HasPrefix(system, "You are a researcher."))
	assert.Contains(t, system, "## TOOL RESULTS\n- perplexity_search: research about electric bikes")
}

func TestBriefOverridesSelectProvider(t *testing.T) {
	f := researcherWriter()
	model := "gpt-4o-mini"
	f.pack.DefaultLLMModel = &model

	anthropic := "anthropic"
	temp := 0.2
	replace := "Edit {{agent.Researcher.output}} for {{context.brand}}"
	appendText := "Keep it short."
	global := "Use British spelling."
	f.brief.Settings = models.BriefSettings{
		AgentOverrides: map[string]models.AgentOverride{
			"Writer": {Provider: &anthropic, Temperature: &temp, PromptReplace: &replace, PromptAppend: &appendText},
		},
		GlobalInstructions: &global,
	}
	openai := cannedGateway("facts")
	claude := cannedGateway("edited")
	f.gateways[models.ProviderOpenAI] = openai
	f.gateways[models.ProviderAnthropic] = claude

	events := f.execute(t, config.WorkflowConfig{Temperature: 0.7, MaxTokens: 2048})
	require.Equal(t, streaming.TypeCompleted, events[len(events)-1].Type)

	require.Len(t, openai.calls, 1)
	assert.Equal(t, "gpt-4o-mini", openai.calls[0].opts.Model)
	assert.Equal(t, 0.7, *openai.calls[0].opts.Temperature)
	assert.Equal(t, 2048, openai.calls[0].opts.MaxTokens)

	require.Len(t, claude.calls, 1)
	// pack model belongs to another provider, so the provider default applies
	assert.Equal(t, "", claude.calls[0].opts.Model)
	assert.Equal(t, 0.2, *claude.calls[0].opts.Temperature)
	system := claude.calls[0].messages[0].Content
	assert.True(t, strings.HasPrefix(system, "Edit facts for Acme Bikes\n\nKeep it short.\n\n## BRIEF INSTRUCTIONS\nUse British spelling."))
}

func TestUnknownProviderFails(t *testing.T) {
	f := researcherWriter()
	f.pack.DefaultLLMProvider = "mistral"

	events := f.execute(t, config.WorkflowConfig{})
	last := events[len(events)-1]
	assert.Equal(t, streaming.TypeError, last.Type)
	assert.Contains(t, last.Data["error"], "mistral")
}

func TestPublisherSequencesEvents(t *testing.T) {
	f := researcherWriter()
	f.gateways[models.ProviderOpenAI] = cannedGateway("a", "b")
	mgr := streaming.NewManager(16, zaptest.NewLogger(t))

	events := f.execute(t, config.WorkflowConfig{}, WithPublisher(mgr))
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}

	replayed, err := mgr.ReplaySince(context.Background(), f.runID.String(), 4)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, streaming.TypeCompleted, replayed[1].Type)
}

func TestNextOutputNumberContinuesSequence(t *testing.T) {
	f := researcherWriter()
	f.store.numbers = []int{1, 2, 3}
	f.gateways[models.ProviderOpenAI] = cannedGateway("a", "b")

	f.execute(t, config.WorkflowConfig{})
	require.Len(t, f.store.outputs, 1)
	assert.Equal(t, 4, *f.store.outputs[0].Number)
}

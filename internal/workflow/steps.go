package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cgs-mvp/cgs/go/engine/internal/apperrors"
	"github.com/cgs-mvp/cgs/go/engine/internal/db"
	"github.com/cgs-mvp/cgs/go/engine/internal/llm"
	ometrics "github.com/cgs-mvp/cgs/go/engine/internal/metrics"
	"github.com/cgs-mvp/cgs/go/engine/internal/models"
	"github.com/cgs-mvp/cgs/go/engine/internal/prompts"
	"github.com/cgs-mvp/cgs/go/engine/internal/streaming"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracing"
	"github.com/cgs-mvp/cgs/go/engine/internal/tracker"
)

// progressShare is the part of the progress bar spent on agent steps; the
// rest is reserved for finalization.
const progressShare = 90

// runInput is everything loaded before the first step.
type runInput struct {
	run     *models.Run
	brief   *models.Brief
	context *models.Context
	pack    *models.AgentPack

	execContext string
	archive     string
	guardrails  []models.ArchiveItem
}

func (e *Executor) load(ctx context.Context, runID uuid.UUID) (*runInput, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunPending {
		return nil, apperrors.Conflict(fmt.Sprintf("run %s is already %s", runID, run.Status))
	}
	brief, err := e.store.GetBrief(ctx, run.BriefID)
	if err != nil {
		return nil, err
	}
	bctx, err := e.store.GetContext(ctx, brief.ContextID)
	if err != nil {
		return nil, err
	}
	pack, err := e.store.GetPack(ctx, brief.PackID)
	if err != nil {
		return nil, err
	}
	cards, err := e.store.ListCards(ctx, brief.ContextID)
	if err != nil {
		return nil, wrap("failed to load cards", err)
	}
	items, err := e.store.ListContextItems(ctx, brief.ContextID)
	if err != nil {
		return nil, wrap("failed to load context items", err)
	}

	briefID := brief.ID
	refs, err := e.archive.GetReferences(ctx, brief.ContextID, &briefID, e.cfg.ArchiveLimit)
	if err != nil {
		return nil, wrap("failed to load archive references", err)
	}
	guards, err := e.archive.GetGuardrails(ctx, brief.ContextID, &briefID, e.cfg.ArchiveLimit)
	if err != nil {
		return nil, wrap("failed to load archive guardrails", err)
	}

	return &runInput{
		run:     run,
		brief:   brief,
		context: bctx,
		pack:    pack,
		execContext: prompts.BuildExecutionContext(prompts.ExecutionInput{
			Context: bctx,
			Brief:   brief,
			Cards:   cards,
			Items:   items,
			Topic:   run.Topic,
		}),
		archive:    prompts.BuildArchivePrompt(refs, guards),
		guardrails: guards,
	}, nil
}

// runAgents executes the pack's agents strictly in order.
func (e *Executor) runAgents(ctx context.Context, st *runState, in *runInput) (*prompts.AgentOutputs, error) {
	agents := in.pack.AgentsConfig
	outputs := prompts.NewAgentOutputs()

	for i, agent := range agents {
		progress := i * progressShare / len(agents)
		e.emit(ctx, st, streaming.TypeProgress, map[string]interface{}{
			"progress": progress,
			"step":     agent.Name,
			"agent":    agent.Role,
		})
		step := agent.Name
		if err := st.tracker.UpdateRun(ctx, db.RunUpdate{Progress: &progress, CurrentStep: &step}); err != nil {
			return nil, err
		}
		st.tracker.Info(ctx, "Starting agent: "+agent.Name, tracker.Fields{AgentName: agent.Name, Step: i + 1})

		resp, err := e.runAgent(ctx, st, in, agent, outputs)
		if err != nil {
			return nil, err
		}
		if err := outputs.Add(agent.Name, resp.Content); err != nil {
			return nil, wrap("failed to record agent output", err)
		}

		tokens := resp.TokensIn + resp.TokensOut
		st.tokens += tokens
		st.costUSD += resp.CostUSD

		st.tracker.Info(ctx, "Agent completed: "+agent.Name, tracker.Fields{
			AgentName: agent.Name,
			Step:      i + 1,
			Tokens:    tokens,
			CostUSD:   resp.CostUSD,
			Metadata:  models.JSONB{"model": resp.Model},
		})
		e.emit(ctx, st, streaming.TypeAgentComplete, map[string]interface{}{
			"agent":  agent.Name,
			"tokens": tokens,
		})
	}
	return outputs, nil
}

func (e *Executor) runAgent(ctx context.Context, st *runState, in *runInput, agent models.Agent, prior *prompts.AgentOutputs) (*llm.Response, error) {
	provider, opts, err := e.resolveLLM(in.pack, agent, in.brief.Settings)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "workflow.step",
		attribute.String("agent", agent.Name),
		attribute.String("llm.provider", string(provider)),
	)
	start := time.Now()

	var toolResults []prompts.NamedText
	for _, tool := range agent.Tools {
		res, err := e.tools.Execute(ctx, string(tool), in.run.Topic, st.userID, st.runID)
		if err != nil {
			tracing.EndSpan(span, err)
			return nil, err
		}
		toolResults = append(toolResults, prompts.NamedText{Name: string(tool), Text: res})
	}

	settings := in.brief.Settings
	rendered := prompts.RenderAgentPrompt(prompts.AgentTemplate(in.pack, agent, settings), prompts.Variables{
		InputData: in.run.InputData,
		Topic:     in.run.Topic,
		Context:   in.context,
		Brief:     &settings,
		Agents:    prior,
	})
	system := prompts.ComposeSystemPrompt(prompts.SystemPromptParts{
		Template:         prompts.ApplyBriefInstructions(rendered, agent, settings),
		Archive:          in.archive,
		Language:         e.cfg.OutputLanguage,
		ExecutionContext: in.execContext,
		ToolResults:      toolResults,
		PriorOutputs:     prompts.PriorOutputs(prior),
	})
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: prompts.UserMessage(in.run.Topic, in.guardrails)},
	}

	gw, err := e.gateways.For(provider)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	resp, err := gw.Generate(ctx, messages, opts)
	tracing.EndSpan(span, err)
	ometrics.StepDuration.WithLabelValues(string(provider)).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Agent step finished",
		zap.String("run_id", st.runID.String()),
		zap.String("agent", agent.Name),
		zap.String("model", resp.Model),
		zap.Int("system_prompt_chars", len(system)),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// resolveLLM picks provider, model and sampling for one agent. Brief
// overrides win over the pack. A pack model is kept only while the
// provider is the pack's own.
func (e *Executor) resolveLLM(pack *models.AgentPack, agent models.Agent, settings models.BriefSettings) (models.Provider, llm.GenerateOptions, error) {
	provider, err := models.ParseProvider(pack.DefaultLLMProvider)
	if err != nil {
		return "", llm.GenerateOptions{}, apperrors.Validation(fmt.Sprintf("pack %s: %v", pack.Slug, err), err)
	}
	opts := llm.GenerateOptions{MaxTokens: e.cfg.MaxTokens}
	if pack.DefaultLLMModel != nil {
		opts.Model = *pack.DefaultLLMModel
	}
	if e.cfg.Temperature > 0 {
		t := e.cfg.Temperature
		opts.Temperature = &t
	}

	o, ok := settings.Override(agent.Name)
	if !ok {
		return provider, opts, nil
	}
	if o.Provider != nil && *o.Provider != "" {
		p, err := models.ParseProvider(*o.Provider)
		if err != nil {
			return "", llm.GenerateOptions{}, apperrors.Validation(fmt.Sprintf("brief override for %s: %v", agent.Name, err), err)
		}
		if p != provider {
			opts.Model = ""
		}
		provider = p
	}
	if o.Model != nil && *o.Model != "" {
		opts.Model = *o.Model
	}
	if o.Temperature != nil {
		t := *o.Temperature
		opts.Temperature = &t
	}
	return provider, opts, nil
}

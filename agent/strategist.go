// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/flotilla-foundation/flotilla/protocol"
)

// Intent classes the strategist can assign.
const (
	IntentChat       = "chat"
	IntentAutomation = "automation"
	IntentResearch   = "research"
	IntentBuild      = "build"
	IntentDeploy     = "deploy"
	IntentOperate    = "operate"
	IntentGeneral    = "general"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// fallbackInstruction stands in for an empty directive so every plan
// has something executable.
const fallbackInstruction = "handle this task with safe defaults"

// Intent is the classification of one directive.
type Intent struct {
	Class            string `json:"intent_class"`
	Risk             string `json:"risk_level"`
	RequiresApproval bool   `json:"requires_approval"`
}

// intentRule binds a class to its trigger keywords. Matching is
// whole-word over the lowercased directive.
type intentRule struct {
	class            string
	keywords         []string
	risk             string
	requiresApproval bool
}

// intentRules is ordered: the first rule with a keyword hit claims
// the directive, so "fix the deploy" classifies as deploy, not
// operate. Deploy and operate act on live systems and always gate
// behind approval.
var intentRules = []intentRule{
	{IntentChat, []string{"hi", "hello", "hey", "ping", "test", "wake", "status"}, RiskLow, false},
	{IntentAutomation, []string{"automate", "workflow", "schedule", "cron"}, RiskMedium, false},
	{IntentResearch, []string{"research", "analyze", "compare", "summarize", "investigate"}, RiskLow, false},
	{IntentBuild, []string{"build", "create", "implement", "code", "script", "project"}, RiskMedium, false},
	{IntentDeploy, []string{"deploy", "release", "ship", "publish", "production"}, RiskHigh, true},
	{IntentOperate, []string{"fix", "debug", "incident", "monitor", "health"}, RiskHigh, true},
}

// stepTitles names the single execution step each class expands to.
var stepTitles = map[string]string{
	IntentResearch:   "Gather and synthesize findings",
	IntentBuild:      "Implement code changes",
	IntentAutomation: "Run automation pipeline",
	IntentDeploy:     "Execute controlled operation",
	IntentOperate:    "Execute controlled operation",
	IntentChat:       "General orchestration response",
	IntentGeneral:    "General orchestration response",
}

// ClassifyIntent matches a directive against the rule table. Unmatched
// directives are general: low risk, no approval.
func ClassifyIntent(text string) Intent {
	words := wordSet(text)
	for _, rule := range intentRules {
		for _, keyword := range rule.keywords {
			if words[keyword] {
				return Intent{Class: rule.class, Risk: rule.risk, RequiresApproval: rule.requiresApproval}
			}
		}
	}
	return Intent{Class: IntentGeneral, Risk: RiskLow, RequiresApproval: false}
}

// wordSet lowercases text and splits it into letter-or-digit runs, so
// keyword matching respects word boundaries ("shipment" does not
// trigger "ship").
func wordSet(text string) map[string]bool {
	words := make(map[string]bool)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[word] = true
	}
	return words
}

// CapabilityForIntent maps an intent class to the execution capability
// that serves it. Chat, research, and general ride the research
// capability; deploy and operate share the operate capability.
func CapabilityForIntent(class string) string {
	switch class {
	case IntentBuild:
		return protocol.CapabilityCode
	case IntentAutomation:
		return protocol.CapabilityAutomation
	case IntentDeploy, IntentOperate:
		return protocol.CapabilityOperate
	default:
		return protocol.CapabilityResearch
	}
}

// PlanStep is one ordered unit of a plan.
type PlanStep struct {
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
	Capability  string `json:"capability"`
}

// Plan is the strategist's output: a classified directive expanded
// into executable steps.
type Plan struct {
	TaskID           int64      `json:"task_id"`
	IntentClass      string     `json:"intent_class"`
	RiskLevel        string     `json:"risk_level"`
	RequiresApproval bool       `json:"requires_approval"`
	Steps            []PlanStep `json:"steps"`
}

// BuildPlan classifies a directive and expands it into steps. A
// directive under eight words is treated as underspecified and gets a
// briefing step prepended so execution starts from stated assumptions
// rather than guesses.
func BuildPlan(directive Directive) Plan {
	instruction := strings.Join(strings.Fields(directive.Instruction), " ")
	if instruction == "" {
		instruction = fallbackInstruction
	}
	intent := ClassifyIntent(instruction)

	var steps []PlanStep
	if len(strings.Fields(instruction)) < 8 {
		steps = append(steps, PlanStep{
			Title:       "Expand request into execution brief",
			Instruction: "Write a concise execution brief and assumptions before executing.\n" + instruction,
			Capability:  protocol.CapabilityResearch,
		})
	}
	steps = append(steps, PlanStep{
		Title:       stepTitles[intent.Class],
		Instruction: instruction,
		Capability:  CapabilityForIntent(intent.Class),
	})

	return Plan{
		TaskID:           directive.TaskID,
		IntentClass:      intent.Class,
		RiskLevel:        intent.Risk,
		RequiresApproval: intent.RequiresApproval,
		Steps:            steps,
	}
}

// Strategist is the planning runtime: deterministic keyword
// classification and step expansion, no model calls.
type Strategist struct {
	logger *slog.Logger
}

var _ Runtime = (*Strategist)(nil)

// NewStrategist builds the planning runtime.
func NewStrategist(cfg Config) *Strategist {
	cfg = cfg.withDefaults()
	return &Strategist{logger: cfg.Logger.With("component", "agent", "runtime", "strategist")}
}

func (s *Strategist) Name() string { return "strategist" }

func (s *Strategist) Capability() string { return protocol.CapabilityResearch }

// Process expands the directive into a plan. The result content is
// the plan as JSON; RequiresApproval carries the plan's gate.
func (s *Strategist) Process(_ context.Context, directive Directive) (Result, error) {
	plan := BuildPlan(directive)
	encoded, err := json.Marshal(plan)
	if err != nil {
		return Result{}, &ExecutionError{Agent: s.Name(), Err: fmt.Errorf("encoding plan: %w", err)}
	}

	s.logger.Info("directive planned",
		"task_id", directive.TaskID,
		"intent", plan.IntentClass,
		"risk", plan.RiskLevel,
		"requires_approval", plan.RequiresApproval,
		"steps", len(plan.Steps),
	)
	return Result{
		Content:          string(encoded),
		Kind:             KindPlan,
		RequiresApproval: plan.RequiresApproval,
	}, nil
}

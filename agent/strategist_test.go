// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/flotilla-foundation/flotilla/protocol"
)

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name             string
		text             string
		class            string
		risk             string
		requiresApproval bool
	}{
		{"greeting", "hey there, anyone awake?", IntentChat, RiskLow, false},
		{"probe", "ping", IntentChat, RiskLow, false},
		{"workflow", "automate the nightly backup workflow", IntentAutomation, RiskMedium, false},
		{"analysis", "analyze last week's error budget", IntentResearch, RiskLow, false},
		{"implementation", "implement a rate limiter for the gateway", IntentBuild, RiskMedium, false},
		{"release", "ship the new version to production", IntentDeploy, RiskHigh, true},
		{"incident", "debug the checkout incident", IntentOperate, RiskHigh, true},
		{"unmatched", "the quarterly numbers look reasonable", IntentGeneral, RiskLow, false},
		{"empty", "", IntentGeneral, RiskLow, false},
		{"case insensitive", "DEPLOY IT NOW", IntentDeploy, RiskHigh, true},
		// "shipment" contains "ship" but is not the word "ship".
		{"word boundary", "track the shipment arrival", IntentGeneral, RiskLow, false},
		// Rule order is authoritative: deploy outranks operate.
		{"precedence", "fix the broken deploy", IntentDeploy, RiskHigh, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyIntent(tt.text)
			if got.Class != tt.class {
				t.Errorf("Class = %q, want %q", got.Class, tt.class)
			}
			if got.Risk != tt.risk {
				t.Errorf("Risk = %q, want %q", got.Risk, tt.risk)
			}
			if got.RequiresApproval != tt.requiresApproval {
				t.Errorf("RequiresApproval = %v, want %v", got.RequiresApproval, tt.requiresApproval)
			}
		})
	}
}

func TestCapabilityForIntent(t *testing.T) {
	tests := []struct {
		class      string
		capability string
	}{
		{IntentBuild, protocol.CapabilityCode},
		{IntentAutomation, protocol.CapabilityAutomation},
		{IntentDeploy, protocol.CapabilityOperate},
		{IntentOperate, protocol.CapabilityOperate},
		{IntentResearch, protocol.CapabilityResearch},
		{IntentChat, protocol.CapabilityResearch},
		{IntentGeneral, protocol.CapabilityResearch},
	}
	for _, tt := range tests {
		if got := CapabilityForIntent(tt.class); got != tt.capability {
			t.Errorf("CapabilityForIntent(%q) = %q, want %q", tt.class, got, tt.capability)
		}
	}
}

func TestBuildPlanDetailedDirective(t *testing.T) {
	directive := Directive{
		TaskID:      42,
		Source:      "cli",
		Instruction: "implement a bounded retry helper for the bus client with tests and docs",
	}
	plan := BuildPlan(directive)

	if plan.TaskID != 42 {
		t.Errorf("TaskID = %d, want 42", plan.TaskID)
	}
	if plan.IntentClass != IntentBuild {
		t.Errorf("IntentClass = %q, want %q", plan.IntentClass, IntentBuild)
	}
	if plan.RequiresApproval {
		t.Error("RequiresApproval = true, want false for build")
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("Steps = %d, want 1", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.Title != "Implement code changes" {
		t.Errorf("Title = %q, want %q", step.Title, "Implement code changes")
	}
	if step.Capability != protocol.CapabilityCode {
		t.Errorf("Capability = %q, want %q", step.Capability, protocol.CapabilityCode)
	}
	if step.Instruction != directive.Instruction {
		t.Errorf("Instruction = %q, want the directive text", step.Instruction)
	}
}

func TestBuildPlanUnderspecifiedGetsBriefStep(t *testing.T) {
	plan := BuildPlan(Directive{TaskID: 7, Instruction: "deploy the api"})

	if len(plan.Steps) != 2 {
		t.Fatalf("Steps = %d, want 2 (brief + execution)", len(plan.Steps))
	}
	if plan.Steps[0].Title != "Expand request into execution brief" {
		t.Errorf("first step = %q, want the briefing step", plan.Steps[0].Title)
	}
	if plan.Steps[0].Capability != protocol.CapabilityResearch {
		t.Errorf("brief capability = %q, want %q", plan.Steps[0].Capability, protocol.CapabilityResearch)
	}
	if plan.Steps[1].Capability != protocol.CapabilityOperate {
		t.Errorf("execution capability = %q, want %q", plan.Steps[1].Capability, protocol.CapabilityOperate)
	}
	if !plan.RequiresApproval {
		t.Error("RequiresApproval = false, want true for deploy")
	}
}

func TestBuildPlanEmptyDirectiveFallsBack(t *testing.T) {
	plan := BuildPlan(Directive{TaskID: 3, Instruction: "   "})

	if plan.IntentClass != IntentGeneral {
		t.Errorf("IntentClass = %q, want %q", plan.IntentClass, IntentGeneral)
	}
	last := plan.Steps[len(plan.Steps)-1]
	if last.Instruction != fallbackInstruction {
		t.Errorf("Instruction = %q, want the fallback", last.Instruction)
	}
}

func TestStrategistProcess(t *testing.T) {
	strategist := NewStrategist(Config{})

	result, err := strategist.Process(context.Background(), Directive{
		TaskID:      9,
		Source:      "cli",
		Instruction: "release the scheduler service to production this afternoon",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Kind != KindPlan {
		t.Errorf("Kind = %q, want %q", result.Kind, KindPlan)
	}
	if !result.RequiresApproval {
		t.Error("RequiresApproval = false, want true for a release directive")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(result.Content), &plan); err != nil {
		t.Fatalf("plan content is not JSON: %v", err)
	}
	if plan.TaskID != 9 {
		t.Errorf("plan TaskID = %d, want 9", plan.TaskID)
	}
	if plan.IntentClass != IntentDeploy {
		t.Errorf("plan IntentClass = %q, want %q", plan.IntentClass, IntentDeploy)
	}
	if len(plan.Steps) == 0 {
		t.Error("plan has no steps")
	}
}

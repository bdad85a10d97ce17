// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"strings"
)

// Subject constants. These are protocol identifiers shared by every
// node on the mesh — renaming one is a wire-breaking change.
const (
	// SubjectTaskNew is the intake root: new directives enter here.
	SubjectTaskNew = "tasks.new"

	// SubjectTaskResult carries execution results back from workers.
	SubjectTaskResult = "tasks.exec.result"

	// SubjectTaskStatus carries task lifecycle transitions (claimed,
	// completed, failed, requeued) for observers.
	SubjectTaskStatus = "tasks.status"

	// SubjectApprovalRequest announces a proposal awaiting sign-off.
	SubjectApprovalRequest = "tasks.approval.request"

	// SubjectApprovalDecision carries an operator's approve/reject.
	SubjectApprovalDecision = "tasks.approval.decision"

	// SubjectCoreRequest is the administrative command channel.
	SubjectCoreRequest = "core.request"

	// SubjectNodeHeartbeat carries periodic node liveness records.
	SubjectNodeHeartbeat = "node.heartbeat"

	// Log relay subjects for agent output streams.
	SubjectLogInfo    = "log.info"
	SubjectLogError   = "log.error"
	SubjectLogThought = "log.thought"

	// SubjectTasksAll subscribes to the entire task hierarchy.
	SubjectTasksAll = "tasks.>"
)

// execRequestPrefix roots the per-capability directive subjects:
// tasks.exec.request.code, tasks.exec.request.research, and so on.
const execRequestPrefix = "tasks.exec.request."

// Capabilities a worker node may advertise. A node subscribes to one
// execution-request subject per capability in its identity.
const (
	CapabilityCode       = "code"
	CapabilityResearch   = "research"
	CapabilityAutomation = "automation"
	CapabilityOperate    = "operate"
)

// ExecRequestSubject returns the directive subject for a capability.
func ExecRequestSubject(capability string) string {
	return execRequestPrefix + capability
}

// ExecRequestPattern returns the wildcard pattern matching every
// per-capability directive subject.
func ExecRequestPattern() string {
	return execRequestPrefix + ">"
}

// CapabilityFromSubject extracts the capability from an execution
// request subject. ok is false for any other subject.
func CapabilityFromSubject(subject string) (capability string, ok bool) {
	if !strings.HasPrefix(subject, execRequestPrefix) {
		return "", false
	}
	capability = subject[len(execRequestPrefix):]
	if capability == "" || strings.Contains(capability, ".") {
		return "", false
	}
	return capability, true
}

// ValidateSubject checks that a subject or subscription pattern is
// well-formed: non-empty dot-separated tokens, "*" only as a whole
// token, and ">" only as the final token.
func ValidateSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("protocol: empty subject")
	}
	tokens := strings.Split(subject, ".")
	for i, token := range tokens {
		switch {
		case token == "":
			return fmt.Errorf("protocol: subject %q has an empty token", subject)
		case token == ">" && i != len(tokens)-1:
			return fmt.Errorf("protocol: subject %q has %q before the final token", subject, ">")
		case strings.ContainsAny(token, "*>") && token != "*" && token != ">":
			return fmt.Errorf("protocol: subject %q mixes wildcard and literal in token %q", subject, token)
		}
	}
	return nil
}

// MatchSubject reports whether a concrete subject matches a
// subscription pattern under broker rules: "*" matches exactly one
// token, a trailing ">" matches one or more remaining tokens.
func MatchSubject(pattern, subject string) bool {
	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")

	for i, token := range patternTokens {
		if token == ">" {
			// ">" must match at least one token.
			return i < len(subjectTokens)
		}
		if i >= len(subjectTokens) {
			return false
		}
		if token != "*" && token != subjectTokens[i] {
			return false
		}
	}
	return len(patternTokens) == len(subjectTokens)
}

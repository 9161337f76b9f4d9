package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jb-612/dox-asdlc/pkg/worker"
)

type stubAgent struct {
	agentType string
	result    *worker.AgentResult
	err       error
	calls     int
	lastMeta  map[string]any
}

func (a *stubAgent) Execute(_ context.Context, _ *worker.AgentContext, eventMetadata map[string]any) (*worker.AgentResult, error) {
	a.calls++
	a.lastMeta = eventMetadata
	return a.result, a.err
}

func (a *stubAgent) AgentType() string { return a.agentType }

type stubGates struct {
	requests []*EvidenceBundle
	err      error
}

func (g *stubGates) RequestGate(_ context.Context, taskID, sessionID string, gateType GateType, bundle *EvidenceBundle, _ string) (*GateRequest, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, bundle)
	return &GateRequest{
		RequestID: "req-" + string(gateType),
		TaskID:    taskID,
		SessionID: sessionID,
		GateType:  gateType,
	}, nil
}

func passingValidation() *stubAgent {
	return &stubAgent{agentType: "validation", result: &worker.AgentResult{
		AgentType:     "validation",
		Success:       true,
		ArtifactPaths: []string{"/artifacts/validation_report.json"},
		Metadata: map[string]any{
			"validation_report": &ValidationReport{
				FeatureID:  "feat-1",
				Passed:     true,
				E2EResults: E2EResults{Passed: 12, Failed: 0, Coverage: 87.5},
			},
		},
	}}
}

func passingSecurity() *stubAgent {
	return &stubAgent{agentType: "security", result: &worker.AgentResult{
		AgentType:     "security",
		Success:       true,
		ArtifactPaths: []string{"/artifacts/security_scan.json"},
		Metadata: map[string]any{
			"security_report": &SecurityReport{
				FeatureID: "feat-1",
				Passed:    true,
				Findings: []SecurityFinding{
					{ID: "SEC-1", Severity: SeverityLow, Description: "informational"},
				},
				ScanCoverage: 95.0,
			},
		},
	}}
}

func passingRelease() *stubAgent {
	return &stubAgent{agentType: "release", result: &worker.AgentResult{
		AgentType:     "release",
		Success:       true,
		ArtifactPaths: []string{"/artifacts/release_notes.md"},
		Metadata: map[string]any{
			"release_manifest": &ReleaseManifest{
				Version:  "1.4.0",
				Features: []string{"feat-1"},
			},
		},
	}}
}

func passingDeployment() *stubAgent {
	return &stubAgent{agentType: "deployment", result: &worker.AgentResult{
		AgentType:     "deployment",
		Success:       true,
		ArtifactPaths: []string{"/artifacts/deployment_plan.json"},
		Metadata: map[string]any{
			"deployment_plan": &DeploymentPlan{
				ReleaseVersion:    "1.4.0",
				TargetEnvironment: "staging",
				Strategy:          "rolling",
				Steps:             []DeploymentStep{{Order: 1, Name: "deploy", Command: "kubectl apply"}},
				RollbackTriggers:  []string{"error rate > 5%"},
			},
		},
	}}
}

func passingMonitor() *stubAgent {
	return &stubAgent{agentType: "monitor", result: &worker.AgentResult{
		AgentType: "monitor",
		Success:   true,
		Metadata: map[string]any{
			"monitoring_config": &MonitoringConfig{
				DeploymentID: "deploy-1",
				Metrics:      []MetricDefinition{{Name: "http_requests_total"}},
			},
		},
	}}
}

func newCoordinator(gates GateDispatcher, skipHITL bool) (*Coordinator, map[string]*stubAgent) {
	agents := map[string]*stubAgent{
		"validation": passingValidation(),
		"security":   passingSecurity(),
		"release":    passingRelease(),
		"deployment": passingDeployment(),
		"monitor":    passingMonitor(),
	}
	return &Coordinator{
		ValidationAgent: agents["validation"],
		SecurityAgent:   agents["security"],
		ReleaseAgent:    agents["release"],
		DeploymentAgent: agents["deployment"],
		MonitorAgent:    agents["monitor"],
		Gates:           gates,
		SkipHITL:        skipHITL,
	}, agents
}

func testAgentContext() *worker.AgentContext {
	return &worker.AgentContext{
		SessionID: "sess-1",
		TaskID:    "task-1",
		TenantID:  "default",
		Metadata:  map[string]any{"git_sha": "abc123"},
	}
}

func TestRunValidationSubmitsHITL5(t *testing.T) {
	gates := &stubGates{}
	c, _ := newCoordinator(gates, false)

	result := c.RunValidation(context.Background(), testAgentContext(),
		map[string]any{"feature_id": "feat-1"}, []string{"works end to end"})

	require.True(t, result.Success)
	assert.True(t, result.PendingHITL5)
	assert.NotEmpty(t, result.HITL5RequestID)
	require.NotNil(t, result.ValidationReport)
	require.NotNil(t, result.SecurityReport)

	require.Len(t, gates.requests, 1)
	bundle := gates.requests[0]
	assert.Equal(t, GateHITL5Validation, bundle.GateType)
	assert.Equal(t, "task-1", bundle.TaskID)
	assert.Equal(t, "abc123", bundle.GitSHA)
	assert.Contains(t, bundle.Summary, "Validation & Security Review")
	assert.Contains(t, bundle.Summary, "Passed: 12")
	assert.Contains(t, bundle.Summary, "Failed: 0")
	require.Len(t, bundle.Items, 2)
	assert.Equal(t, "integration_tests", bundle.Items[0].ItemType)
	assert.Equal(t, "security_scan", bundle.Items[1].ItemType)
}

func TestRunValidationSkipHITL(t *testing.T) {
	gates := &stubGates{}
	c, _ := newCoordinator(gates, true)

	result := c.RunValidation(context.Background(), testAgentContext(), map[string]any{}, nil)

	assert.True(t, result.Success)
	assert.False(t, result.PendingHITL5)
	assert.Empty(t, gates.requests)
}

func TestRunValidationFailsAtValidation(t *testing.T) {
	c, agents := newCoordinator(nil, true)
	agents["validation"].result = &worker.AgentResult{
		AgentType:    "validation",
		Success:      false,
		ErrorMessage: "e2e suite crashed",
	}

	result := c.RunValidation(context.Background(), testAgentContext(), map[string]any{}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, "validation", result.FailedAt)
	assert.Equal(t, "e2e suite crashed", result.Error)
	assert.Zero(t, agents["security"].calls) // phase short-circuits
}

func TestRunValidationFailsOnFailedReport(t *testing.T) {
	c, agents := newCoordinator(nil, true)
	agents["validation"].result.Metadata = map[string]any{
		"validation_report": &ValidationReport{FeatureID: "feat-1", Passed: false},
	}

	result := c.RunValidation(context.Background(), testAgentContext(), map[string]any{}, nil)

	assert.Equal(t, "validation", result.FailedAt)
}

func TestRunValidationFailsAtSecurity(t *testing.T) {
	c, agents := newCoordinator(nil, true)
	agents["security"].result.Metadata = map[string]any{
		"security_report": &SecurityReport{
			FeatureID: "feat-1",
			Passed:    false,
			Findings:  []SecurityFinding{{ID: "SEC-9", Severity: SeverityCritical}},
		},
	}

	result := c.RunValidation(context.Background(), testAgentContext(), map[string]any{}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, "security", result.FailedAt)
}

func TestRunValidationAgentError(t *testing.T) {
	c, agents := newCoordinator(nil, true)
	agents["validation"].result = nil
	agents["validation"].err = errors.New("llm backend unavailable")

	result := c.RunValidation(context.Background(), testAgentContext(), map[string]any{}, nil)

	assert.Equal(t, "validation", result.FailedAt)
	assert.Contains(t, result.Error, "llm backend unavailable")
}

func TestRunDeploymentSubmitsHITL6(t *testing.T) {
	gates := &stubGates{}
	c, agents := newCoordinator(gates, false)

	validation := &ValidationReport{FeatureID: "feat-1", Passed: true}
	security := &SecurityReport{FeatureID: "feat-1", Passed: true}

	result := c.RunDeployment(context.Background(), testAgentContext(), validation, security, "staging")

	require.True(t, result.Success)
	assert.True(t, result.PendingHITL6)
	assert.NotEmpty(t, result.HITL6RequestID)
	require.NotNil(t, result.ReleaseManifest)
	require.NotNil(t, result.DeploymentPlan)
	assert.Nil(t, result.MonitoringConfig)
	assert.Zero(t, agents["monitor"].calls) // monitor waits for approval

	require.Len(t, gates.requests, 1)
	bundle := gates.requests[0]
	assert.Equal(t, GateHITL6Release, bundle.GateType)
	assert.Contains(t, bundle.Summary, "Release & Deployment Review")
	assert.Contains(t, bundle.Summary, "1.4.0")
	assert.Contains(t, bundle.Summary, "staging")
	require.Len(t, bundle.Items, 2)
	assert.Equal(t, "release_notes", bundle.Items[0].ItemType)
	assert.Equal(t, "deployment_plan", bundle.Items[1].ItemType)
}

func TestRunDeploymentSkipHITLRunsMonitor(t *testing.T) {
	c, agents := newCoordinator(nil, true)

	result := c.RunDeployment(context.Background(), testAgentContext(),
		&ValidationReport{Passed: true}, &SecurityReport{Passed: true}, "production")

	require.True(t, result.Success)
	assert.False(t, result.PendingHITL6)
	require.NotNil(t, result.MonitoringConfig)
	assert.Equal(t, "deploy-1", result.MonitoringConfig.DeploymentID)
	assert.Equal(t, 1, agents["monitor"].calls)
}

func TestRunDeploymentFailsAtRelease(t *testing.T) {
	c, agents := newCoordinator(nil, true)
	agents["release"].result = &worker.AgentResult{AgentType: "release", Success: false, ErrorMessage: "changelog generation failed"}

	result := c.RunDeployment(context.Background(), testAgentContext(),
		&ValidationReport{Passed: true}, &SecurityReport{Passed: true}, "staging")

	assert.False(t, result.Success)
	assert.Equal(t, "release", result.FailedAt)
	assert.Zero(t, agents["deployment"].calls)
}

func TestRunDeploymentFailsWithoutManifest(t *testing.T) {
	c, agents := newCoordinator(nil, true)
	agents["release"].result.Metadata = map[string]any{}

	result := c.RunDeployment(context.Background(), testAgentContext(),
		&ValidationReport{Passed: true}, &SecurityReport{Passed: true}, "staging")

	assert.Equal(t, "release", result.FailedAt)
	assert.Equal(t, "Failed to generate release manifest", result.Error)
}

func TestRunDeploymentMonitorFailureIsNonFatal(t *testing.T) {
	c, agents := newCoordinator(nil, true)
	agents["monitor"].result = nil
	agents["monitor"].err = errors.New("metrics backend down")

	result := c.RunDeployment(context.Background(), testAgentContext(),
		&ValidationReport{Passed: true}, &SecurityReport{Passed: true}, "staging")

	assert.True(t, result.Success)
	assert.Nil(t, result.MonitoringConfig)
}

func TestContinueFromHITL6Approval(t *testing.T) {
	c, agents := newCoordinator(nil, false)

	manifest := &ReleaseManifest{Version: "1.4.0"}
	plan := &DeploymentPlan{TargetEnvironment: "staging"}

	result := c.ContinueFromHITL6Approval(context.Background(), testAgentContext(), manifest, plan)

	require.True(t, result.Success)
	assert.Same(t, manifest, result.ReleaseManifest)
	assert.Same(t, plan, result.DeploymentPlan)
	require.NotNil(t, result.MonitoringConfig)
	assert.Equal(t, 1, agents["monitor"].calls)
}

func TestGateSubmissionFailureFallsThrough(t *testing.T) {
	gates := &stubGates{err: errors.New("hitl service unavailable")}
	c, _ := newCoordinator(gates, false)

	result := c.RunValidation(context.Background(), testAgentContext(), map[string]any{}, nil)

	// Submission failure degrades to a completed phase with no gate.
	assert.True(t, result.Success)
	assert.False(t, result.PendingHITL5)
}

func TestHandleRejection(t *testing.T) {
	c, _ := newCoordinator(nil, false)

	result := c.HandleRejection(testAgentContext(), GateHITL5Validation, "coverage is too low")

	assert.False(t, result.Success)
	assert.Contains(t, result.RejectionReason, string(GateHITL5Validation))
	assert.Equal(t, "coverage is too low", result.Feedback)
}

func TestReportFromMetadataAcceptsDecodedMaps(t *testing.T) {
	// Handlers on the far side of the wire hand back decoded JSON maps
	// rather than typed structs; extraction must accept both.
	metadata := map[string]any{
		"validation_report": map[string]any{
			"feature_id": "feat-1",
			"passed":     true,
			"e2e_results": map[string]any{
				"passed":   float64(7),
				"failed":   float64(1),
				"coverage": 81.25,
			},
		},
	}

	var report ValidationReport
	require.True(t, reportFromMetadata(metadata, "validation_report", &report))
	assert.Equal(t, "feat-1", report.FeatureID)
	assert.True(t, report.Passed)
	assert.Equal(t, 7, report.E2EResults.Passed)

	assert.False(t, reportFromMetadata(metadata, "missing_key", &report))
	assert.False(t, reportFromMetadata(nil, "validation_report", &report))
}

func TestSecurityReportBlockingFindings(t *testing.T) {
	report := &SecurityReport{Findings: []SecurityFinding{
		{ID: "SEC-1", Severity: SeverityCritical},
		{ID: "SEC-2", Severity: SeverityHigh},
		{ID: "SEC-3", Severity: SeverityMedium},
		{ID: "SEC-4", Severity: SeverityInfo},
	}}
	assert.Equal(t, 2, report.BlockingFindings())
}

func TestHITL6SummaryCapsRollbackTriggers(t *testing.T) {
	plan := &DeploymentPlan{
		TargetEnvironment: "staging",
		Strategy:          "canary",
		RollbackTriggers: []string{
			"error rate > 5%", "latency p99 > 2s", "pod crash loop",
			"disk pressure", "memory pressure", "manual trigger",
		},
	}
	summary := hitl6Summary(&ReleaseManifest{Version: "2.0.0"}, plan)

	assert.Contains(t, summary, "memory pressure")
	assert.NotContains(t, summary, "manual trigger") // only the first five listed
}

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jb-612/dox-asdlc/pkg/worker"
)

const requestedBy = "validation_deployment_coordinator"

// Coordinator drives the two-phase workflow:
//
//	validation: validation agent -> security agent -> HITL-5
//	deployment: release agent -> deployment agent -> HITL-6 -> monitor agent
//
// Each stage's agent returns its typed report in result metadata; any
// failed stage short-circuits the phase with FailedAt set. Gate submission
// never blocks on the decision — the phase result reports pending state and
// the request ID, and a separate entrypoint resumes after approval.
type Coordinator struct {
	ValidationAgent worker.Agent
	SecurityAgent   worker.Agent
	ReleaseAgent    worker.Agent
	DeploymentAgent worker.Agent
	MonitorAgent    worker.Agent

	// Gates may be nil; SkipHITL bypasses submission and proceeds as if
	// approved (tests and the single-tenant no-gate configuration).
	Gates    GateDispatcher
	SkipHITL bool
}

// RunValidation runs the validation phase: validation agent, then security
// agent, then HITL-5 submission once both pass.
func (c *Coordinator) RunValidation(ctx context.Context, agentCtx *worker.AgentContext, implementation map[string]any, acceptanceCriteria []string) *ValidationResult {
	log := slog.With("task_id", agentCtx.TaskID)
	log.Info("Starting validation workflow")

	featureID := agentCtx.TaskID
	if fid, ok := implementation["feature_id"].(string); ok && fid != "" {
		featureID = fid
	}

	validationResult, err := c.ValidationAgent.Execute(ctx, agentCtx, map[string]any{
		"implementation":      implementation,
		"acceptance_criteria": acceptanceCriteria,
		"feature_id":          featureID,
	})
	if err != nil {
		log.Error("Validation agent failed", "error", err)
		return ValidationFailed("validation", err.Error())
	}
	if !validationResult.Success {
		log.Warn("Validation failed", "error_message", validationResult.ErrorMessage)
		return ValidationFailed("validation", orDefault(validationResult.ErrorMessage, "Validation failed"))
	}

	var validationReport ValidationReport
	if !reportFromMetadata(validationResult.Metadata, "validation_report", &validationReport) || !validationReport.Passed {
		return ValidationFailed("validation", "Validation checks failed")
	}

	securityResult, err := c.SecurityAgent.Execute(ctx, agentCtx, map[string]any{
		"implementation": implementation,
		"feature_id":     featureID,
	})
	if err != nil {
		log.Error("Security agent failed", "error", err)
		return ValidationFailed("security", err.Error())
	}
	if !securityResult.Success {
		log.Warn("Security scan failed", "error_message", securityResult.ErrorMessage)
		return ValidationFailed("security", orDefault(securityResult.ErrorMessage, "Security scan failed"))
	}

	var securityReport SecurityReport
	if !reportFromMetadata(securityResult.Metadata, "security_report", &securityReport) || !securityReport.Passed {
		return ValidationFailed("security", "Security scan found blocking findings")
	}

	if !c.SkipHITL && c.Gates != nil {
		artifacts := append(append([]string{}, validationResult.ArtifactPaths...), securityResult.ArtifactPaths...)
		requestID := c.submitHITL5(ctx, agentCtx, &validationReport, &securityReport, artifacts)
		if requestID != "" {
			log.Info("Submitted HITL-5 request", "request_id", requestID)
			return ValidationPending(&validationReport, &securityReport, requestID)
		}
	}

	log.Info("Validation workflow completed")
	return ValidationSucceeded(&validationReport, &securityReport)
}

// RunDeployment runs the deployment phase after HITL-5 approval: release
// agent, then deployment agent, then HITL-6 submission, then the monitor
// agent. Monitor failure is non-fatal; the result still reports success
// with a nil MonitoringConfig.
func (c *Coordinator) RunDeployment(ctx context.Context, agentCtx *worker.AgentContext, validationReport *ValidationReport, securityReport *SecurityReport, targetEnvironment string) *DeploymentResult {
	log := slog.With("task_id", agentCtx.TaskID)
	log.Info("Starting deployment workflow", "target_environment", targetEnvironment)

	releaseResult, err := c.ReleaseAgent.Execute(ctx, agentCtx, map[string]any{
		"validation_report": validationReport,
		"security_report":   securityReport,
	})
	if err != nil {
		log.Error("Release agent failed", "error", err)
		return DeploymentFailed("release", err.Error())
	}
	if !releaseResult.Success {
		log.Warn("Release generation failed", "error_message", releaseResult.ErrorMessage)
		return DeploymentFailed("release", orDefault(releaseResult.ErrorMessage, "Release generation failed"))
	}

	var manifest ReleaseManifest
	if !reportFromMetadata(releaseResult.Metadata, "release_manifest", &manifest) {
		return DeploymentFailed("release", "Failed to generate release manifest")
	}

	deploymentResult, err := c.DeploymentAgent.Execute(ctx, agentCtx, map[string]any{
		"release_manifest":   manifest,
		"target_environment": targetEnvironment,
	})
	if err != nil {
		log.Error("Deployment agent failed", "error", err)
		return DeploymentFailed("deployment", err.Error())
	}
	if !deploymentResult.Success {
		log.Warn("Deployment planning failed", "error_message", deploymentResult.ErrorMessage)
		return DeploymentFailed("deployment", orDefault(deploymentResult.ErrorMessage, "Deployment planning failed"))
	}

	var plan DeploymentPlan
	if !reportFromMetadata(deploymentResult.Metadata, "deployment_plan", &plan) {
		return DeploymentFailed("deployment", "Failed to generate deployment plan")
	}

	if !c.SkipHITL && c.Gates != nil {
		artifacts := append(append([]string{}, releaseResult.ArtifactPaths...), deploymentResult.ArtifactPaths...)
		requestID := c.submitHITL6(ctx, agentCtx, &manifest, &plan, artifacts)
		if requestID != "" {
			log.Info("Submitted HITL-6 request", "request_id", requestID)
			return DeploymentPending(&manifest, &plan, requestID)
		}
	}

	monitoring := c.runMonitor(ctx, agentCtx, &plan)
	log.Info("Deployment workflow completed")
	return DeploymentSucceeded(&manifest, &plan, monitoring)
}

// ContinueFromHITL6Approval resumes the workflow after HITL-6 approval.
// The caller supplies the approved manifest and plan (the coordinator keeps
// no state across calls); the monitor stage runs and the final result is
// returned.
func (c *Coordinator) ContinueFromHITL6Approval(ctx context.Context, agentCtx *worker.AgentContext, manifest *ReleaseManifest, plan *DeploymentPlan) *DeploymentResult {
	slog.Info("Continuing from HITL-6 approval", "task_id", agentCtx.TaskID)
	monitoring := c.runMonitor(ctx, agentCtx, plan)
	return DeploymentSucceeded(manifest, plan, monitoring)
}

// HandleRejection converts a human gate rejection into a RejectionResult
// echoing the reviewer's feedback.
func (c *Coordinator) HandleRejection(agentCtx *worker.AgentContext, gateType GateType, feedback string) *RejectionResult {
	slog.Warn("Handling gate rejection", "task_id", agentCtx.TaskID, "gate_type", gateType, "feedback", feedback)
	return &RejectionResult{
		RejectionReason: fmt.Sprintf("Rejected at %s", gateType),
		Feedback:        feedback,
	}
}

// runMonitor runs the monitor agent and extracts its config. Failures are
// logged and reported as nil; monitoring never blocks a deployment.
func (c *Coordinator) runMonitor(ctx context.Context, agentCtx *worker.AgentContext, plan *DeploymentPlan) *MonitoringConfig {
	result, err := c.MonitorAgent.Execute(ctx, agentCtx, map[string]any{
		"deployment_plan": plan,
	})
	if err != nil || !result.Success {
		slog.Warn("Monitoring config generation failed", "task_id", agentCtx.TaskID)
		return nil
	}

	var monitoring MonitoringConfig
	if !reportFromMetadata(result.Metadata, "monitoring_config", &monitoring) {
		slog.Warn("Monitor agent returned no monitoring_config", "task_id", agentCtx.TaskID)
		return nil
	}
	return &monitoring
}

// submitHITL5 builds and submits the validation-phase evidence bundle.
// Submission failures are logged and reported as an empty request ID; the
// phase then completes without a gate.
func (c *Coordinator) submitHITL5(ctx context.Context, agentCtx *worker.AgentContext, validation *ValidationReport, security *SecurityReport, artifactPaths []string) string {
	items := make([]EvidenceItem, 0, len(artifactPaths))
	for _, path := range artifactPaths {
		itemType := "security_scan"
		if strings.Contains(path, "validation") {
			itemType = "integration_tests"
		}
		items = append(items, EvidenceItem{
			ItemType:    itemType,
			Path:        path,
			Description: fmt.Sprintf("Artifact: %s", path),
		})
	}

	bundle := &EvidenceBundle{
		TaskID:   agentCtx.TaskID,
		GateType: GateHITL5Validation,
		GitSHA:   metadataString(agentCtx.Metadata, "git_sha"),
		Items:    items,
		Summary:  hitl5Summary(validation, security),
	}

	request, err := c.Gates.RequestGate(ctx, agentCtx.TaskID, agentCtx.SessionID, GateHITL5Validation, bundle, requestedBy)
	if err != nil {
		slog.Error("Failed to submit HITL-5", "error", err)
		return ""
	}
	return request.RequestID
}

// submitHITL6 builds and submits the deployment-phase evidence bundle.
func (c *Coordinator) submitHITL6(ctx context.Context, agentCtx *worker.AgentContext, manifest *ReleaseManifest, plan *DeploymentPlan, artifactPaths []string) string {
	items := make([]EvidenceItem, 0, len(artifactPaths))
	for _, path := range artifactPaths {
		itemType := "deployment_plan"
		if strings.Contains(path, "release") {
			itemType = "release_notes"
		}
		items = append(items, EvidenceItem{
			ItemType:    itemType,
			Path:        path,
			Description: fmt.Sprintf("Artifact: %s", path),
		})
	}

	bundle := &EvidenceBundle{
		TaskID:   agentCtx.TaskID,
		GateType: GateHITL6Release,
		GitSHA:   metadataString(agentCtx.Metadata, "git_sha"),
		Items:    items,
		Summary:  hitl6Summary(manifest, plan),
	}

	request, err := c.Gates.RequestGate(ctx, agentCtx.TaskID, agentCtx.SessionID, GateHITL6Release, bundle, requestedBy)
	if err != nil {
		slog.Error("Failed to submit HITL-6", "error", err)
		return ""
	}
	return request.RequestID
}

// hitl5Summary renders the validation-phase evidence summary.
func hitl5Summary(validation *ValidationReport, security *SecurityReport) string {
	status := func(passed bool) string {
		if passed {
			return "PASSED"
		}
		return "FAILED"
	}

	lines := []string{
		"## Validation & Security Review",
		"",
		fmt.Sprintf("**Feature:** %s", validation.FeatureID),
		fmt.Sprintf("**Validation Status:** %s", status(validation.Passed)),
		fmt.Sprintf("**Security Status:** %s", status(security.Passed)),
		"",
		"### E2E Test Results",
		fmt.Sprintf("- Passed: %d", validation.E2EResults.Passed),
		fmt.Sprintf("- Failed: %d", validation.E2EResults.Failed),
		fmt.Sprintf("- Coverage: %.1f%%", validation.E2EResults.Coverage),
		"",
		"### Security Findings",
		fmt.Sprintf("- Total: %d", len(security.Findings)),
		fmt.Sprintf("- Blocking: %d", security.BlockingFindings()),
	}
	return strings.Join(lines, "\n")
}

// hitl6Summary renders the deployment-phase evidence summary.
func hitl6Summary(manifest *ReleaseManifest, plan *DeploymentPlan) string {
	features := "N/A"
	if len(manifest.Features) > 0 {
		features = strings.Join(manifest.Features, ", ")
	}

	lines := []string{
		"## Release & Deployment Review",
		"",
		fmt.Sprintf("**Version:** %s", manifest.Version),
		fmt.Sprintf("**Features:** %s", features),
		fmt.Sprintf("**Target Environment:** %s", plan.TargetEnvironment),
		fmt.Sprintf("**Strategy:** %s", plan.Strategy),
		"",
		"### Deployment Steps",
		fmt.Sprintf("- Total Steps: %d", len(plan.Steps)),
		"",
		"### Health Checks",
		fmt.Sprintf("- Total Checks: %d", len(plan.HealthChecks)),
		"",
		"### Rollback Triggers",
	}
	for i, trigger := range plan.RollbackTriggers {
		if i == 5 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s", trigger))
	}
	return strings.Join(lines, "\n")
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	s, _ := metadata[key].(string)
	return s
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

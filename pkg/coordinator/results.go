package coordinator

// ValidationResult is the outcome of the validation phase.
type ValidationResult struct {
	Success          bool
	ValidationReport *ValidationReport
	SecurityReport   *SecurityReport
	PendingHITL5     bool
	HITL5RequestID   string
	FailedAt         string
	Error            string
}

// ValidationFailed builds a failed validation result naming the stage.
func ValidationFailed(at, errMsg string) *ValidationResult {
	return &ValidationResult{FailedAt: at, Error: errMsg}
}

// ValidationPending builds a result awaiting HITL-5 approval.
func ValidationPending(validation *ValidationReport, security *SecurityReport, requestID string) *ValidationResult {
	return &ValidationResult{
		Success:          true,
		ValidationReport: validation,
		SecurityReport:   security,
		PendingHITL5:     true,
		HITL5RequestID:   requestID,
	}
}

// ValidationSucceeded builds a successful validation result with no gate
// outstanding.
func ValidationSucceeded(validation *ValidationReport, security *SecurityReport) *ValidationResult {
	return &ValidationResult{
		Success:          true,
		ValidationReport: validation,
		SecurityReport:   security,
	}
}

// DeploymentResult is the outcome of the deployment phase. A nil
// MonitoringConfig on a successful result means the monitor stage failed,
// which is non-fatal.
type DeploymentResult struct {
	Success          bool
	ReleaseManifest  *ReleaseManifest
	DeploymentPlan   *DeploymentPlan
	MonitoringConfig *MonitoringConfig
	PendingHITL6     bool
	HITL6RequestID   string
	FailedAt         string
	Error            string
}

// DeploymentFailed builds a failed deployment result naming the stage.
func DeploymentFailed(at, errMsg string) *DeploymentResult {
	return &DeploymentResult{FailedAt: at, Error: errMsg}
}

// DeploymentPending builds a result awaiting HITL-6 approval.
func DeploymentPending(manifest *ReleaseManifest, plan *DeploymentPlan, requestID string) *DeploymentResult {
	return &DeploymentResult{
		Success:         true,
		ReleaseManifest: manifest,
		DeploymentPlan:  plan,
		PendingHITL6:    true,
		HITL6RequestID:  requestID,
	}
}

// DeploymentSucceeded builds a successful deployment result.
func DeploymentSucceeded(manifest *ReleaseManifest, plan *DeploymentPlan, monitoring *MonitoringConfig) *DeploymentResult {
	return &DeploymentResult{
		Success:          true,
		ReleaseManifest:  manifest,
		DeploymentPlan:   plan,
		MonitoringConfig: monitoring,
	}
}

// RejectionResult echoes a human rejection back to the caller. Rejection is
// distinct from failure: no FailedAt stage is involved.
type RejectionResult struct {
	Success         bool
	RejectionReason string
	Feedback        string
}

// Package coordinator sequences the validation and deployment sub-workflows
// around the two human approval gates. The coordinator is a deterministic
// state machine driven by agent results and gate decisions; it holds no
// state between calls, so a restart resumes by re-supplying the reports to
// the continue entrypoint.
package coordinator

import "encoding/json"

// Severity of a security finding.
type Severity string

// Finding severities; critical and high block the gate.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// ValidationCheck is one acceptance-criteria check run during validation.
type ValidationCheck struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Passed   bool   `json:"passed"`
	Details  string `json:"details"`
	Evidence string `json:"evidence,omitempty"`
}

// E2EResults summarizes the end-to-end test run backing a validation report.
type E2EResults struct {
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Coverage float64 `json:"coverage"`
}

// ValidationReport is the validation agent's typed report, carried in agent
// result metadata under "validation_report".
type ValidationReport struct {
	FeatureID       string            `json:"feature_id"`
	Checks          []ValidationCheck `json:"checks"`
	E2EResults      E2EResults        `json:"e2e_results"`
	Passed          bool              `json:"passed"`
	Recommendations []string          `json:"recommendations"`
}

// SecurityFinding is one issue raised by the security scan.
type SecurityFinding struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Remediation string   `json:"remediation"`
}

// IsBlocking reports whether the finding blocks gate submission.
func (f SecurityFinding) IsBlocking() bool {
	return f.Severity == SeverityCritical || f.Severity == SeverityHigh
}

// SecurityReport is the security agent's typed report, carried under
// "security_report".
type SecurityReport struct {
	FeatureID        string            `json:"feature_id"`
	Findings         []SecurityFinding `json:"findings"`
	Passed           bool              `json:"passed"`
	ScanCoverage     float64           `json:"scan_coverage"`
	ComplianceStatus map[string]bool   `json:"compliance_status,omitempty"`
}

// BlockingFindings counts findings that block the gate.
func (r *SecurityReport) BlockingFindings() int {
	n := 0
	for _, f := range r.Findings {
		if f.IsBlocking() {
			n++
		}
	}
	return n
}

// ArtifactReference points at a build artifact included in a release.
type ArtifactReference struct {
	Name     string `json:"name"`
	Type     string `json:"artifact_type"`
	Location string `json:"location"`
	Checksum string `json:"checksum,omitempty"`
}

// ReleaseManifest is the release agent's typed report, carried under
// "release_manifest".
type ReleaseManifest struct {
	Version      string              `json:"version"`
	Features     []string            `json:"features"`
	Changelog    string              `json:"changelog"`
	Artifacts    []ArtifactReference `json:"artifacts"`
	RollbackPlan string              `json:"rollback_plan"`
}

// DeploymentStep is one ordered step of a deployment plan.
type DeploymentStep struct {
	Order           int    `json:"order"`
	Name            string `json:"name"`
	StepType        string `json:"step_type"`
	Command         string `json:"command"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	RollbackCommand string `json:"rollback_command,omitempty"`
}

// HealthCheck verifies a deployment target after rollout.
type HealthCheck struct {
	Name             string `json:"name"`
	CheckType        string `json:"check_type"`
	Target           string `json:"target"`
	IntervalSeconds  int    `json:"interval_seconds"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	SuccessThreshold int    `json:"success_threshold"`
	FailureThreshold int    `json:"failure_threshold"`
}

// DeploymentPlan is the deployment agent's typed report, carried under
// "deployment_plan".
type DeploymentPlan struct {
	ReleaseVersion    string           `json:"release_version"`
	TargetEnvironment string           `json:"target_environment"`
	Strategy          string           `json:"strategy"`
	Steps             []DeploymentStep `json:"steps"`
	RollbackTriggers  []string         `json:"rollback_triggers"`
	HealthChecks      []HealthCheck    `json:"health_checks"`
}

// MetricDefinition declares one metric emitted by a deployment.
type MetricDefinition struct {
	Name        string   `json:"name"`
	MetricType  string   `json:"metric_type"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

// AlertRule declares one alerting rule over the deployment's metrics.
type AlertRule struct {
	Name        string `json:"name"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	RunbookURL  string `json:"runbook_url,omitempty"`
}

// DashboardConfig declares one operational dashboard.
type DashboardConfig struct {
	Name                   string   `json:"name"`
	Title                  string   `json:"title"`
	Panels                 []string `json:"panels"`
	RefreshIntervalSeconds int      `json:"refresh_interval_seconds"`
}

// MonitoringConfig is the monitor agent's typed report, carried under
// "monitoring_config".
type MonitoringConfig struct {
	DeploymentID string             `json:"deployment_id"`
	Metrics      []MetricDefinition `json:"metrics"`
	Alerts       []AlertRule        `json:"alerts"`
	Dashboards   []DashboardConfig  `json:"dashboards"`
}

// reportFromMetadata extracts the typed report stored under key in an agent
// result's metadata. Handlers may supply the typed struct or a decoded map;
// a JSON round-trip normalizes both. Returns false when the key is absent.
func reportFromMetadata(metadata map[string]any, key string, target any) bool {
	if metadata == nil {
		return false
	}
	value, ok := metadata[key]
	if !ok || value == nil {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}

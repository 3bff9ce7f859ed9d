package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// BuildPhase is the lifecycle phase of a BuildRequest
type BuildPhase string

const (
	BuildPhasePending   BuildPhase = "Pending"
	BuildPhaseBuilding  BuildPhase = "Building"
	BuildPhaseChecking  BuildPhase = "Checking"
	BuildPhaseDeploying BuildPhase = "Deploying"
	BuildPhaseCompleted BuildPhase = "Completed"
	BuildPhaseFailed    BuildPhase = "Failed"
	BuildPhaseDeployed  BuildPhase = "Deployed"
)

// phaseOrder ranks the non-terminal phases along the happy path. Terminal phases rank above all of them.
var phaseOrder = map[BuildPhase]int{
	BuildPhasePending:   0,
	BuildPhaseBuilding:  1,
	BuildPhaseChecking:  2,
	BuildPhaseDeploying: 3,
	BuildPhaseCompleted: 4,
	BuildPhaseFailed:    4,
	BuildPhaseDeployed:  4,
}

// IsTerminal returns true if no transition leaves the phase until the spec generation changes
func (p BuildPhase) IsTerminal() bool {
	return p == BuildPhaseCompleted || p == BuildPhaseFailed || p == BuildPhaseDeployed
}

// IsValid returns true if the phase is one of the known phases
func (p BuildPhase) IsValid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Before returns true if p comes strictly earlier than other on the build path
func (p BuildPhase) Before(other BuildPhase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

const (
	// ConditionTypeReady reports whether the build produced a usable result
	ConditionTypeReady = "Ready"
)

const (
	ReasonBuildStarting  = "BuildStarting"
	ReasonBuilding       = "Building"
	ReasonChecking       = "Checking"
	ReasonBuildSucceeded = "BuildSucceeded"
	ReasonBuildFailed    = "BuildFailed"
	ReasonDeploying      = "Deploying"
	ReasonDeployed       = "Deployed"
	ReasonDeployFailed   = "DeployFailed"
)

// EffectivePhase returns the phase, treating an empty status as Pending
func (s *BuildRequestStatus) EffectivePhase() BuildPhase {
	if s.Phase == "" {
		return BuildPhasePending
	}
	return s.Phase
}

func (s *BuildRequestStatus) IsTerminal() bool {
	return s.EffectivePhase().IsTerminal()
}

// GetCondition returns the condition with the given type, or nil
func (s *BuildRequestStatus) GetCondition(conditionType string) *metav1.Condition {
	for i := range s.Conditions {
		if s.Conditions[i].Type == conditionType {
			return &s.Conditions[i]
		}
	}
	return nil
}

// SetCondition upserts the condition of the given type. The transition time of an existing
// condition moves only when its status or message changes. Returns true if a transition happened.
func (s *BuildRequestStatus) SetCondition(conditionType string, status metav1.ConditionStatus, reason, message string, now metav1.Time) bool {
	byType := make(map[string]metav1.Condition, len(s.Conditions)+1)
	order := make([]string, 0, len(s.Conditions)+1)
	for _, c := range s.Conditions {
		if _, ok := byType[c.Type]; ok {
			continue
		}
		byType[c.Type] = c
		order = append(order, c.Type)
	}

	transitioned := false
	existing, ok := byType[conditionType]
	switch {
	case !ok:
		byType[conditionType] = metav1.Condition{
			Type:               conditionType,
			Status:             status,
			Reason:             reason,
			Message:            message,
			LastTransitionTime: now,
			ObservedGeneration: s.ObservedGeneration,
		}
		order = append(order, conditionType)
		transitioned = true
	case existing.Status != status || existing.Message != message:
		existing.Status = status
		existing.Reason = reason
		existing.Message = message
		existing.LastTransitionTime = now
		existing.ObservedGeneration = s.ObservedGeneration
		byType[conditionType] = existing
		transitioned = true
	default:
		existing.Reason = reason
		byType[conditionType] = existing
	}

	conditions := make([]metav1.Condition, 0, len(order))
	for _, t := range order {
		conditions = append(conditions, byType[t])
	}
	s.Conditions = conditions
	if transitioned {
		s.LastTransitionTime = now.DeepCopy()
	}
	return transitioned
}

// NeedsUpdate compares the fields the controller owns and returns true if other differs from s
func (s *BuildRequestStatus) NeedsUpdate(other *BuildRequestStatus) bool {
	if s.Phase != other.Phase ||
		s.JobName != other.JobName ||
		s.Message != other.Message ||
		s.ObservedGeneration != other.ObservedGeneration {
		return true
	}
	if len(s.Conditions) != len(other.Conditions) {
		return true
	}
	for i := range other.Conditions {
		want := other.Conditions[i]
		got := s.GetCondition(want.Type)
		if got == nil || got.Status != want.Status || got.Reason != want.Reason || got.Message != want.Message {
			return true
		}
	}
	return false
}

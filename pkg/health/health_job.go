package health

import (
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
)

// GetJobHealth assesses a build Job from its pod counters. Success wins over failure, failure
// over activity. A Job that has not reported any counter yet is Unknown.
func GetJobHealth(job *batchv1.Job) *HealthStatus {
	status := job.Status
	switch {
	case status.Succeeded > 0:
		return &HealthStatus{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("%d pod(s) succeeded", status.Succeeded),
		}
	case status.Failed > 0:
		return &HealthStatus{
			Status:  HealthStatusDegraded,
			Message: fmt.Sprintf("%d pod(s) failed", status.Failed),
		}
	case status.Active > 0:
		return &HealthStatus{
			Status:  HealthStatusProgressing,
			Message: fmt.Sprintf("%d pod(s) running", status.Active),
		}
	default:
		return &HealthStatus{
			Status:  HealthStatusUnknown,
			Message: "Job has not reported any pod yet",
		}
	}
}

package api

import "github.com/agentmemory/memoryd/internal/memory"

// TriggerReflect schedules an asynchronous reflection pipeline run and
// returns its job id immediately.
func (s *Service) TriggerReflect(agentID, sessionID, sessionTranscript string) (string, error) {
	if agentID == "" {
		return "", validationErr("agentId is required")
	}
	jobID, err := s.Reflection.TriggerReflect(agentID, sessionID, sessionTranscript)
	if err != nil {
		return "", newErr(KindInternal, "triggerReflect failed", err)
	}
	return jobID, nil
}

// GetJob fetches a reflection job by id.
func (s *Service) GetJob(jobID string) (*memory.ReflectJob, error) {
	if jobID == "" {
		return nil, validationErr("jobId is required")
	}
	job, err := s.Store.GetReflectJob(jobID)
	if err != nil {
		return nil, translate("getJob", err)
	}
	return job, nil
}

// ListJobs returns the most recent reflection jobs for agentID.
func (s *Service) ListJobs(agentID string, limit int) ([]*memory.ReflectJob, error) {
	if agentID == "" {
		return nil, validationErr("agentId is required")
	}
	jobs, err := s.Store.ListReflectJobs(agentID, limit)
	if err != nil {
		return nil, newErr(KindInternal, "listJobs failed", err)
	}
	return jobs, nil
}

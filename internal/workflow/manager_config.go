package workflow

import (
	"fmt"

	"tweetcast/internal/pipeline"
)

var stageNames = map[pipeline.JobType]string{
	pipeline.FetchTweets:     "fetcher",
	pipeline.AnalyzeEmotions: "analyzer",
	pipeline.GenerateAudio:   "synthesizer",
	pipeline.AssemblePodcast: "assembler",
}

// ConfigureStages registers the stage handlers and builds one executor per
// registered type. Concurrency overrides from the workers config section are
// applied on top of each type's policy.
func (m *Manager) ConfigureStages(set StageSet) error {
	executors := make(map[pipeline.JobType]*executor)
	order := make([]pipeline.JobType, 0, len(pipeline.Types()))

	for _, jobType := range pipeline.Types() {
		handler := set.handlerFor(jobType)
		if handler == nil {
			continue
		}
		policy, err := m.policyFor(jobType)
		if err != nil {
			return err
		}
		policy = policy.WithConcurrency(m.cfg.ConcurrencyOverride(string(jobType)))
		ex := newExecutor(jobType, stageNames[jobType], handler, policy)
		ex.logger = m.executorLogger(ex)
		executors[jobType] = ex
		order = append(order, jobType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("configure stages: workflow already running")
	}
	m.executors = executors
	m.order = order
	return nil
}

func (m *Manager) policyFor(jobType pipeline.JobType) (pipeline.Policy, error) {
	if policy, ok := m.overrides[jobType]; ok {
		if err := policy.Validate(); err != nil {
			return pipeline.Policy{}, err
		}
		return policy, nil
	}
	policy, ok := pipeline.PolicyFor(jobType)
	if !ok {
		return pipeline.Policy{}, fmt.Errorf("no policy for job type %s", jobType)
	}
	return policy, nil
}

// Policy returns the effective policy for jobType, including overrides.
func (m *Manager) Policy(jobType pipeline.JobType) (pipeline.Policy, bool) {
	m.mu.RLock()
	ex := m.executors[jobType]
	m.mu.RUnlock()
	if ex != nil {
		return ex.policy, true
	}
	policy, err := m.policyFor(jobType)
	return policy, err == nil
}

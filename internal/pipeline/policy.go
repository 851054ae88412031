package pipeline

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"tweetcast/internal/services"
)

// JobType names one stage of the podcast pipeline.
type JobType string

const (
	FetchTweets     JobType = "fetch_tweets"
	AnalyzeEmotions JobType = "analyze_emotions"
	GenerateAudio   JobType = "generate_audio"
	AssemblePodcast JobType = "assemble_podcast"
)

var orderedTypes = []JobType{FetchTweets, AnalyzeEmotions, GenerateAudio, AssemblePodcast}

// Types returns the job types in pipeline order.
func Types() []JobType {
	return slices.Clone(orderedTypes)
}

// ParseType resolves a job type name. Unknown names report services.ErrNotFound.
func ParseType(value string) (JobType, error) {
	candidate := JobType(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(orderedTypes, candidate) {
		return candidate, nil
	}
	return "", services.NotFound("pipeline", "job type", value)
}

// Next returns the stage that follows t, or false for the final stage.
func (t JobType) Next() (JobType, bool) {
	idx := slices.Index(orderedTypes, t)
	if idx < 0 || idx == len(orderedTypes)-1 {
		return "", false
	}
	return orderedTypes[idx+1], true
}

func (t JobType) String() string { return string(t) }

// Priority orders waiting jobs within a type. Higher values lease first. Any
// integer is accepted; the named levels are conventions.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 5
	PriorityHigh   Priority = 10
)

// Backoff selects how retry delays grow.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Policy is the immutable retry, retention and concurrency contract for a job type.
type Policy struct {
	Type            JobType
	MaxAttempts     int
	Backoff         Backoff
	BaseDelay       time.Duration
	KeepCompleted   int
	KeepFailed      int
	Concurrency     int
	DefaultPriority Priority
}

// MaxDelay is the ceiling for computed retry delays.
const MaxDelay = time.Duration(math.MaxInt64)

// Delay returns the wait before the next attempt once attempts have been made.
// Exponential delays double per attempt: 1x, 2x, 4x of the base delay.
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if p.Backoff != BackoffExponential {
		return p.BaseDelay
	}
	if p.BaseDelay <= 0 {
		return p.BaseDelay
	}
	// Saturate rather than overflow into a negative delay.
	shift := attempts - 1
	if shift >= 62 || p.BaseDelay > MaxDelay>>shift {
		return MaxDelay
	}
	return p.BaseDelay << shift
}

// Validate checks the policy is internally consistent.
func (p Policy) Validate() error {
	var problems []string
	if p.MaxAttempts < 1 {
		problems = append(problems, "maxAttempts must be >= 1")
	}
	if p.Backoff != BackoffFixed && p.Backoff != BackoffExponential {
		problems = append(problems, fmt.Sprintf("unknown backoff %q", p.Backoff))
	}
	if p.BaseDelay <= 0 {
		problems = append(problems, "baseDelay must be positive")
	}
	if p.KeepCompleted < 0 || p.KeepFailed < 0 {
		problems = append(problems, "retention counts must be >= 0")
	}
	if p.Concurrency < 1 {
		problems = append(problems, "concurrency must be >= 1")
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("policy %s: %s", p.Type, strings.Join(problems, "; "))
}

// WithConcurrency returns a copy of p with the cap replaced when override is positive.
func (p Policy) WithConcurrency(override int) Policy {
	if override > 0 {
		p.Concurrency = override
	}
	return p
}

var policies = map[JobType]Policy{
	FetchTweets: {
		Type:            FetchTweets,
		MaxAttempts:     3,
		Backoff:         BackoffExponential,
		BaseDelay:       time.Second,
		KeepCompleted:   100,
		KeepFailed:      500,
		Concurrency:     5,
		DefaultPriority: PriorityMedium,
	},
	AnalyzeEmotions: {
		Type:            AnalyzeEmotions,
		MaxAttempts:     3,
		Backoff:         BackoffExponential,
		BaseDelay:       5 * time.Second,
		KeepCompleted:   100,
		KeepFailed:      500,
		Concurrency:     3,
		DefaultPriority: PriorityMedium,
	},
	GenerateAudio: {
		Type:            GenerateAudio,
		MaxAttempts:     3,
		Backoff:         BackoffExponential,
		BaseDelay:       5 * time.Second,
		KeepCompleted:   50,
		KeepFailed:      200,
		Concurrency:     2,
		DefaultPriority: PriorityMedium,
	},
	AssemblePodcast: {
		Type:            AssemblePodcast,
		MaxAttempts:     3,
		Backoff:         BackoffExponential,
		BaseDelay:       2 * time.Second,
		KeepCompleted:   50,
		KeepFailed:      200,
		Concurrency:     2,
		DefaultPriority: PriorityLow,
	},
}

// PolicyFor returns the policy for t.
func PolicyFor(t JobType) (Policy, bool) {
	p, ok := policies[t]
	return p, ok
}

// ValidatePolicies checks that every job type has a usable policy. It runs at
// daemon startup.
func ValidatePolicies() error {
	var errs []error
	for _, t := range orderedTypes {
		p, ok := policies[t]
		if !ok {
			errs = append(errs, fmt.Errorf("policy %s: missing", t))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package stage

import (
	"tweetcast/internal/pipeline"
	"tweetcast/internal/queue"
	"tweetcast/internal/services"
)

// DecodePayload parses the stored payload of job into T. Payloads are
// validated at enqueue, so a failure here means the row was edited or written
// by an incompatible version.
func DecodePayload[T any](job *queue.Job) (T, error) {
	var zero T
	if job == nil {
		return zero, services.NewValidationError("job", []string{"job is nil"})
	}
	payload, err := pipeline.Decode[T](job.Payload)
	if err != nil {
		return zero, services.Wrap(
			services.ErrValidation, string(job.Type), "decode payload",
			"Stored payload is unreadable; enqueue the job again", err)
	}
	return payload, nil
}

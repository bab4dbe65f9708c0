package out

import "context"

// EmailIngestedJob is published when intake stores a new raw email.
type EmailIngestedJob struct {
	EmailID string `json:"email_id"`
	Folder  string `json:"folder"`
}

// MessageProducer publishes pipeline jobs to the stream.
type MessageProducer interface {
	PublishEmailIngested(ctx context.Context, job *EmailIngestedJob) error
}

package webhook

// MessageIndex answers whether a platform message id was already persisted
type MessageIndex interface {
	ExternalIDSeen(externalID string) (bool, error)
}

// JobIndex answers whether a platform message id is already sitting in the
// work queue
type JobIndex interface {
	PendingExternalID(externalID string) (bool, error)
}

// StoreDedup is the idempotency gate: a message is a duplicate when its
// external id was processed before or is currently queued. It exists to make
// the platform's at-least-once retry delivery safe.
type StoreDedup struct {
	messages MessageIndex
	jobs     JobIndex
}

// NewStoreDedup creates a dedup gate over the message and job stores
func NewStoreDedup(messages MessageIndex, jobs JobIndex) *StoreDedup {
	return &StoreDedup{messages: messages, jobs: jobs}
}

// Seen reports whether the external id was already queued or processed
func (d *StoreDedup) Seen(externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	seen, err := d.messages.ExternalIDSeen(externalID)
	if err != nil || seen {
		return seen, err
	}
	return d.jobs.PendingExternalID(externalID)
}

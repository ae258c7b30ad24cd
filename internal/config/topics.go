package config

const (
	// TopicRunRequested carries manual requests for an ingestion run.
	TopicRunRequested = "scuolakb.run.requested"

	// TopicDocumentIndexed is published once per document whose chunks reached the index.
	TopicDocumentIndexed = "scuolakb.document.indexed"

	// TopicRunCompleted carries the final report of every run.
	TopicRunCompleted = "scuolakb.run.completed"

	// ChannelIngest is the consumer channel used by serve mode.
	ChannelIngest = "ingest"
)

// Topics lists every topic the service touches, for pre-creation.
func Topics() []string {
	return []string{TopicRunRequested, TopicDocumentIndexed, TopicRunCompleted}
}

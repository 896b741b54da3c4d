package consts

const (
	// BoardUpdatesChannel is the default Redis channel relaying board-updated frames between instances.
	BoardUpdatesChannel = "board-updates"
	// DedupeKeyPrefix prefixes request id keys held by the deduper.
	DedupeKeyPrefix = "dedupe:"
	// UserNamesKey is the Redis hash mapping user ids to display names.
	UserNamesKey = "users:names"
)

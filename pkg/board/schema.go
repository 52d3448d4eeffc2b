package board

import "fmt"

// Redis key pattern helpers
//
// Key pattern: easel:{namespace}:board:{name}:{entity}
// Channel pattern: easel:{namespace}:board:{name}:events

// ObjectsKey returns the Redis hash key holding a board's objects.
func ObjectsKey(namespace, name string) string {
	return fmt.Sprintf("easel:%s:board:%s:objects", namespace, name)
}

// BackgroundKey returns the Redis key holding a board's background metadata.
func BackgroundKey(namespace, name string) string {
	return fmt.Sprintf("easel:%s:board:%s:background", namespace, name)
}

// EventsChannel returns the Pub/Sub channel carrying a board's accepted mutations.
func EventsChannel(namespace, name string) string {
	return fmt.Sprintf("easel:%s:board:%s:events", namespace, name)
}

// AllEventsPattern returns the Pub/Sub pattern matching every board's events channel.
func AllEventsPattern(namespace string) string {
	return fmt.Sprintf("easel:%s:board:*:events", namespace)
}

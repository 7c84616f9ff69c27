package messaging

// Subjects follow the pattern {domain}.{action}.{resource}.
const (
	// SubjectNotificationsGuard carries notifications raised by the HTTP guard.
	SubjectNotificationsGuard = "querybot.notify.guard"

	// SubjectQueriesExecuted announces every query a conversation executed.
	SubjectQueriesExecuted = "querybot.queries.executed"
)

// QueueRelayWorkers groups relay instances so each notification is delivered once.
const QueueRelayWorkers = "querybot-relay"

package instrumentation

// Cardinality helpers for metric labels. Raw HTTP status codes, page ids and
// user ids must never become label values.

// StatusClass collapses an HTTP status code into its class ("2xx", "4xx", ...).
// Zero and out-of-range codes map to StatusUnknown.
//
//	StatusClass(201) // "2xx"
//	StatusClass(429) // "4xx"
//	StatusClass(0)   // "unknown"
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return StatusUnknown
	}
}

// Remote operation names used in metrics and span names.
const (
	OperationSearch         = "search"
	OperationListChildren   = "list_children"
	OperationGetPage        = "get_page"
	OperationCreatePage     = "create_page"
	OperationAppendChildren = "append_children"
	OperationGetSelf        = "get_self"
	OperationTokenExchange  = "token_exchange"
	OperationChatCompletion = "chat_completion"
)

// Credential store operation names.
const (
	OperationStore  = "store"
	OperationGet    = "get"
	OperationDelete = "delete"
	OperationList   = "list"
	OperationExpire = "expire"
)

// Package mcptypes holds the typed MCP payloads carried over the jsonrpc
// envelope: capabilities, tools, resources, prompts, content parts, and
// tasks.
package mcptypes

// LatestProtocolVersion is the protocol version this module speaks by default.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists every version a client/server in this
// module will accept during the initialize handshake.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// SupportsProtocolVersion reports whether v is one this module can speak.
func SupportsProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// Reserved request method names.
const (
	MethodInitialize            = "initialize"
	MethodPing                  = "ping"
	MethodToolsList              = "tools/list"
	MethodToolsCall               = "tools/call"
	MethodResourcesList          = "resources/list"
	MethodResourceTemplatesList  = "resources/templates/list"
	MethodResourcesRead          = "resources/read"
	MethodResourcesSubscribe     = "resources/subscribe"
	MethodResourcesUnsubscribe   = "resources/unsubscribe"
	MethodPromptsList            = "prompts/list"
	MethodPromptsGet             = "prompts/get"
	MethodCompletionComplete     = "completion/complete"
	MethodSamplingCreateMessage  = "sampling/createMessage"
	MethodElicitationCreate      = "elicitation/create"
	MethodTasksList              = "tasks/list"
	MethodTasksGet               = "tasks/get"
	MethodTasksResult            = "tasks/result"
	MethodTasksCancel            = "tasks/cancel"
	MethodLoggingSetLevel        = "logging/setLevel"
	MethodRootsList              = "roots/list"
)

// Reserved notification names.
const (
	NotificationInitialized           = "notifications/initialized"
	NotificationCancelled             = "notifications/cancelled"
	NotificationProgress              = "notifications/progress"
	NotificationMessage               = "notifications/message"
	NotificationToolsListChanged       = "notifications/tools/list_changed"
	NotificationResourcesListChanged   = "notifications/resources/list_changed"
	NotificationResourcesUpdated       = "notifications/resources/updated"
	NotificationPromptsListChanged     = "notifications/prompts/list_changed"
	NotificationTasksStatus            = "notifications/tasks/status"
	NotificationElicitationComplete    = "notifications/elicitation/complete"
	NotificationRootsListChanged       = "notifications/roots/list_changed"
)

package mcptypes

// SamplingMessage is one turn offered to sampling/createMessage.
type SamplingMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

type ModelPreferences struct {
	Hints                []ModelHint `json:"hints,omitempty"`
	CostPriority         float64     `json:"costPriority,omitempty"`
	SpeedPriority        float64     `json:"speedPriority,omitempty"`
	IntelligencePriority float64     `json:"intelligencePriority,omitempty"`
}

type ModelHint struct {
	Name string `json:"name,omitempty"`
}

// CreateMessageParams is the payload of a server->client sampling/createMessage.
type CreateMessageParams struct {
	Messages         []SamplingMessage `json:"messages"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens"`
	ModelPreferences *ModelPreferences `json:"modelPreferences,omitempty"`
	StopSequences    []string          `json:"stopSequences,omitempty"`
	Temperature      float64           `json:"temperature,omitempty"`
}

type CreateMessageResult struct {
	Role       string  `json:"role"`
	Content    Content `json:"content"`
	Model      string  `json:"model,omitempty"`
	StopReason string  `json:"stopReason,omitempty"`
}

// ElicitAction is the outcome of a client's response to elicitation/create.
type ElicitAction string

const (
	ElicitActionAccept  ElicitAction = "accept"
	ElicitActionDecline ElicitAction = "decline"
	ElicitActionCancel  ElicitAction = "cancel"
)

// ElicitParams is the payload of a server->client elicitation/create.
// Mode "form" (default) asks the client to collect structured input against
// Schema; mode "url" asks the client to navigate the user to URL, completed
// asynchronously via notifications/elicitation/complete.
type ElicitParams struct {
	Message       string         `json:"message"`
	Schema        map[string]any `json:"requestedSchema,omitempty"`
	Mode          string         `json:"mode,omitempty"` // "form" | "url"
	URL           string         `json:"url,omitempty"`
	ElicitationID string         `json:"elicitationId,omitempty"`
}

type ElicitResult struct {
	Action  ElicitAction   `json:"action"`
	Content map[string]any `json:"content,omitempty"`
}

// ElicitationCompleteParams is the payload of the advisory completion
// notification for url-mode elicitation.
type ElicitationCompleteParams struct {
	ElicitationID string `json:"elicitationId"`
}

// Root is a filesystem root advertised by a client.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

type ListRootsResult struct {
	Roots []Root `json:"roots"`
}

// LoggingLevel mirrors RFC 5424 severity levels used by logging/setLevel.
type LoggingLevel string

const (
	LogDebug     LoggingLevel = "debug"
	LogInfo      LoggingLevel = "info"
	LogNotice    LoggingLevel = "notice"
	LogWarning   LoggingLevel = "warning"
	LogError     LoggingLevel = "error"
	LogCritical  LoggingLevel = "critical"
	LogAlert     LoggingLevel = "alert"
	LogEmergency LoggingLevel = "emergency"
)

var logLevelRank = map[LoggingLevel]int{
	LogDebug: 0, LogInfo: 1, LogNotice: 2, LogWarning: 3,
	LogError: 4, LogCritical: 5, LogAlert: 6, LogEmergency: 7,
}

// Enabled reports whether a message at level `msg` should be emitted given a
// configured minimum severity `min`.
func (min LoggingLevel) Enabled(msg LoggingLevel) bool {
	return logLevelRank[msg] >= logLevelRank[min]
}

type SetLevelParams struct {
	Level LoggingLevel `json:"level"`
}

// LoggingMessageParams is the payload of notifications/message.
type LoggingMessageParams struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
	Data   any          `json:"data"`
}

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID any    `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// ProgressParams is the payload of notifications/progress.
type ProgressParams struct {
	ProgressToken any     `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
	Message       string  `json:"message,omitempty"`
}

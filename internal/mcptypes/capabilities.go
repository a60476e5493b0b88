package mcptypes

// ClientCapabilities is advertised by a client during initialize.
type ClientCapabilities struct {
	Roots        *RootsCapability       `json:"roots,omitempty"`
	Sampling     *struct{}              `json:"sampling,omitempty"`
	Elicitation  *struct{}              `json:"elicitation,omitempty"`
	Tasks        *TasksCapability       `json:"tasks,omitempty"`
	Experimental map[string]any         `json:"experimental,omitempty"`
	Extensions   map[string]any         `json:"extensions,omitempty"`
}

// RootsCapability advertises filesystem-root support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// TasksCapability advertises task-management support. Present on either side;
// direction determines whether it means "I issue tasks/*" (client) or
// "I expose tasks/*" (server).
type TasksCapability struct {
	List   *struct{} `json:"list,omitempty"`
	Cancel *struct{} `json:"cancel,omitempty"`
}

// ServerCapabilities is advertised by a server during initialize.
type ServerCapabilities struct {
	Tools        *ToolsCapability       `json:"tools,omitempty"`
	Resources    *ResourcesCapability   `json:"resources,omitempty"`
	Prompts      *PromptsCapability     `json:"prompts,omitempty"`
	Completions  *struct{}              `json:"completions,omitempty"`
	Sampling     *struct{}              `json:"sampling,omitempty"`
	Elicitation  *struct{}              `json:"elicitation,omitempty"`
	Tasks        *TasksCapability       `json:"tasks,omitempty"`
	Logging      *struct{}              `json:"logging,omitempty"`
	Experimental map[string]any         `json:"experimental,omitempty"`
	Extensions   map[string]any         `json:"extensions,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Implementation identifies a client or server implementation.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is sent by the client to start the handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's reply.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Has reports whether a client capability is present.
func (c ClientCapabilities) HasSampling() bool    { return c.Sampling != nil }
func (c ClientCapabilities) HasElicitation() bool { return c.Elicitation != nil }
func (c ClientCapabilities) HasTasks() bool       { return c.Tasks != nil }
func (c ClientCapabilities) TasksCancel() bool     { return c.Tasks != nil && c.Tasks.Cancel != nil }
func (c ClientCapabilities) TasksList() bool       { return c.Tasks != nil && c.Tasks.List != nil }

func (s ServerCapabilities) HasTools() bool       { return s.Tools != nil }
func (s ServerCapabilities) HasResources() bool    { return s.Resources != nil }
func (s ServerCapabilities) HasPrompts() bool      { return s.Prompts != nil }
func (s ServerCapabilities) HasCompletions() bool  { return s.Completions != nil }
func (s ServerCapabilities) HasSampling() bool     { return s.Sampling != nil }
func (s ServerCapabilities) HasElicitation() bool  { return s.Elicitation != nil }
func (s ServerCapabilities) HasTasks() bool        { return s.Tasks != nil }
func (s ServerCapabilities) HasLogging() bool      { return s.Logging != nil }
func (s ServerCapabilities) ResourcesSubscribe() bool {
	return s.Resources != nil && s.Resources.Subscribe
}

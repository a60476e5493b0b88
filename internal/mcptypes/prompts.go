package mcptypes

// Prompt is a named, parameterized prompt template.
type Prompt struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Arguments   []PromptArgument   `json:"arguments,omitempty"`
	Icon        *Icon              `json:"icon,omitempty"`
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

type ListPromptsResult struct {
	Prompts    []*Prompt `json:"prompts"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one turn of a rendered prompt.
type PromptMessage struct {
	Role    string  `json:"role"` // "user" | "assistant"
	Content Content `json:"content"`
}

type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// CompletionReference discriminates what a completion/complete request is
// completing arguments for: a prompt or a resource template.
type CompletionReference struct {
	Type string `json:"type"` // "ref/prompt" | "ref/resource"
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type CompletionArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CompleteParams struct {
	Ref      CompletionReference `json:"ref"`
	Argument CompletionArgument  `json:"argument"`
}

type Completion struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

type CompleteResult struct {
	Completion Completion `json:"completion"`
}

// MaxCompletionValues bounds completion/complete results.
const MaxCompletionValues = 100

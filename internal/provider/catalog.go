package provider

import "time"

// ReasoningMode is the convention a vendor uses to switch on its reasoning phase.
type ReasoningMode string

const (
	// ReasoningNone sends no reasoning fields.
	ReasoningNone ReasoningMode = "none"
	// ReasoningEnableFlag sends enable_thinking=true.
	ReasoningEnableFlag ReasoningMode = "enable_flag"
	// ReasoningBudgetOnly sends thinking_budget and never enable_thinking.
	ReasoningBudgetOnly ReasoningMode = "budget_only"
)

const (
	// ThinkingBudget caps the hidden reasoning phase for budget-only vendors.
	ThinkingBudget = 2048

	defaultMaxTokens = 2048
	defaultTimeout   = 10 * time.Second
)

type catalogEntry struct {
	id        string
	baseURL   string
	model     string
	maxTokens int
	reasoning ReasoningMode
	timeout   time.Duration
}

// catalog lists the built-in vendors. Adding a vendor means adding one row.
var catalog = []catalogEntry{
	{id: "openai", baseURL: "https://api.openai.com/v1", model: "gpt-4o", maxTokens: 2048, reasoning: ReasoningNone, timeout: defaultTimeout},
	{id: "anthropic", baseURL: "https://api.anthropic.com/v1", model: "claude-3-5-sonnet-20241022", maxTokens: 2048, reasoning: ReasoningNone, timeout: defaultTimeout},
	{id: "qwen", baseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", model: "qwen-plus", maxTokens: 2048, reasoning: ReasoningNone, timeout: defaultTimeout},
	{id: "deepseek", baseURL: "https://api.deepseek.com/v1", model: "deepseek-chat", maxTokens: 4096, reasoning: ReasoningEnableFlag, timeout: defaultTimeout},
	{id: "zhipu", baseURL: "https://open.bigmodel.cn/api/paas/v4", model: "glm-4-flash", maxTokens: 2048, reasoning: ReasoningNone, timeout: defaultTimeout},
	{id: "minimax", baseURL: "https://api.minimax.chat/v1", model: "abab6.5s-chat", maxTokens: 2048, reasoning: ReasoningNone, timeout: defaultTimeout},
	{id: "kimi", baseURL: "https://api.moonshot.cn/v1", model: "moonshot-v1-8k", maxTokens: 4096, reasoning: ReasoningBudgetOnly, timeout: defaultTimeout},
	// First-token latency on the hosted R1 regularly exceeds 10s.
	{id: "ms-deepseek", baseURL: "https://api-inference.modelscope.cn/v1", model: "deepseek-ai/DeepSeek-R1-0528", maxTokens: 4096, reasoning: ReasoningEnableFlag, timeout: 30 * time.Second},
	{id: "ms-glm", baseURL: "https://api-inference.modelscope.cn/v1", model: "ZhipuAI/GLM-4.7", maxTokens: 4096, reasoning: ReasoningEnableFlag, timeout: defaultTimeout},
	{id: "ms-qwen", baseURL: "https://api-inference.modelscope.cn/v1", model: "Qwen/Qwen3-235B-A22B-Instruct-2507", maxTokens: 4096, reasoning: ReasoningEnableFlag, timeout: defaultTimeout},
}

// defaultPriority is used when no preference order is configured.
var defaultPriority = []string{"deepseek", "qwen", "zhipu", "kimi", "minimax", "openai"}

// CatalogIDs returns the identifiers of every built-in vendor in catalog order.
func CatalogIDs() []string {
	ids := make([]string, 0, len(catalog))
	for _, entry := range catalog {
		ids = append(ids, entry.id)
	}
	return ids
}

// DefaultPriority returns a copy of the built-in preference order.
func DefaultPriority() []string {
	return append([]string(nil), defaultPriority...)
}

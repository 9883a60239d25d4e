package gemini

// FallbackTable 模型到降级链的映射，链的第一个元素通常是模型本身
type FallbackTable map[string][]string

// DefaultFallbacks 内置降级表
func DefaultFallbacks() FallbackTable {
	return FallbackTable{
		"gemini-3-pro-preview": {"gemini-3-pro-preview", "gemini-2.5-pro", "gemini-2.5-flash"},
		"gemini-2.5-pro":       {"gemini-2.5-pro", "gemini-2.5-flash"},
		"gemini-2.5-flash":     {"gemini-2.5-flash", "gemini-2.5-flash-lite"},
	}
}

// Chain 返回模型的降级链副本；没有配置时返回只含该模型的链
func (t FallbackTable) Chain(model string) []string {
	chain, ok := t[model]
	if !ok || len(chain) == 0 {
		return []string{model}
	}
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}

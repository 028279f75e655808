package engine

// DefaultMaxTokens applies when neither the request nor the model bounds generation.
const DefaultMaxTokens = 2048

// EffectiveMaxTokens bounds a requested token count by the context window left
// after the prompt. A zero maxContext means the window is unknown.
func EffectiveMaxTokens(requested, promptTokens, maxContext int) int {
	if maxContext <= 0 {
		if requested <= 0 {
			return DefaultMaxTokens
		}
		return requested
	}
	if promptTokens >= maxContext {
		return 0
	}
	available := maxContext - promptTokens
	if requested <= 0 || requested > available {
		return available
	}
	return requested
}

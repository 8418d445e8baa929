package config

import "fmt"

// Validate checks every setting that could wedge a component at runtime.
// Called by Load before the configuration reaches any constructor.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini:
		// Gemini reads GEMINI_API_KEY itself; nothing to check here.
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host is required with the ollama provider", ErrInvalidOllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOllama)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (want 0.0-2.0)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxAnswerTokens <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidMaxTokens, c.MaxAnswerTokens)
	}
	if c.MaxSources < 1 || c.MaxSources > 20 {
		return fmt.Errorf("%w: %d (want 1-20)", ErrInvalidMaxSources, c.MaxSources)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size %d must be positive", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.PostgresHost == "" || c.PostgresDBName == "" || c.PostgresUser == "" {
		return fmt.Errorf("%w: host, user and db name are required", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}

	return nil
}

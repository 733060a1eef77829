package slowdownload

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// Config tunes the Slow Downloader + Hint Queue (C6).
type Config struct {
	// MinCapacity is the minimum source capacity a hint must carry to be
	// stored (§4.6 step 3). The default, strict rule requires capacity
	// >= 1; LegacyMinCapacity (0) accepts hints from any scored source,
	// matching the source's pre-incremental IdentityFetcher path kept
	// only for A/B comparison per the original spec's Open Question.
	MinCapacity int `json:"min_capacity" validate:"min=0"`

	// MaxConcurrentFetches bounds how many hints are being fetched at
	// once (§4.6: "at most K concurrent requests").
	MaxConcurrentFetches int `json:"max_concurrent_fetches" validate:"min=1"`
}

// DefaultMinCapacity is the strict default rule.
const DefaultMinCapacity = 1

// LegacyMinCapacity matches the pre-incremental reference
// implementation's acceptance of any positively-scored source.
const LegacyMinCapacity = 0

func DefaultConfig() *Config {
	return &Config{
		MinCapacity:          DefaultMinCapacity,
		MaxConcurrentFetches: 4,
	}
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}

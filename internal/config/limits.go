package config

import "time"

const (
	// MaxAnnotationBodyLength is the maximum length for an annotation body.
	// Suggestion bodies exceeding it are truncated with a visible marker
	// rather than rejected.
	MaxAnnotationBodyLength = 200

	// MinSelectedTextLength is the shortest span an anchored suggestion may
	// target. Shorter spans are almost never unique in real documents, so
	// they are rejected up front instead of burning retry attempts.
	MinSelectedTextLength = 5

	// MaxSuggestionsPerRun caps how many suggestions one run will process.
	// The generator is told this cap up front.
	MaxSuggestionsPerRun = 20

	// MaxAnchorAttempts is the total number of anchoring attempts per
	// suggestion, including the first one.
	MaxAnchorAttempts = 3

	// StaleSimilarityThreshold is the similarity ratio below which an
	// anchored annotation's span is considered to have drifted from its
	// original meaning.
	StaleSimilarityThreshold = 0.5

	// SyncDebounceWindow is how long the annotation writer coalesces
	// edit-driven anchor updates before persisting them.
	SyncDebounceWindow = 2 * time.Second

	// MaxNoteTitleLength is the maximum length for note titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255).
	MaxNoteTitleLength = 255
)

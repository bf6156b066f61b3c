// Package embedding implements the Embedding/Similarity Service (spec §4.2):
// text-to-vector conversion with caching, and cosine similarity. The real
// embedding model is an external collaborator (spec §1 "LLM inference
// backend... out of scope"); Provider is the seam at which that collaborator
// is plugged in, grounded on itsneelabh-gomind/ai's AIClient/provider
// pattern.
package embedding

import "context"

// Provider converts text to a fixed-dimension vector. Implementations may
// suspend on external I/O (spec §4.2: "calls may suspend while waiting on
// the external model").
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// HashProvider is the deterministic degraded-mode fallback described in
// spec §4.1 ("retried once with an inline fallback... marked degraded=true")
// and §4.2. It never fails and never suspends, so it is always available as
// a last resort when the real Provider errors out after one retry.
type HashProvider struct {
	dim int
}

func NewHashProvider(dim int) *HashProvider {
	return &HashProvider{dim: dim}
}

func (h *HashProvider) Dim() int { return h.dim }

// Embed derives a unit vector deterministically from text's SHA-256 digest.
// Identical input always yields an identical vector (L3 idempotence law).
func (h *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return hashEmbed(text, h.dim), nil
}

func (h *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t, h.dim)
	}
	return out, nil
}

func hashEmbed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(text)
	counter := uint32(0)
	for i := 0; i < dim; i++ {
		if i%8 == 0 {
			counter++
		}
		h := sha256.New()
		h.Write(seed)
		var cbuf [4]byte
		binary.BigEndian.PutUint32(cbuf[:], counter)
		h.Write(cbuf[:])
		var ibuf [4]byte
		binary.BigEndian.PutUint32(ibuf[:], uint32(i))
		h.Write(ibuf[:])
		sum := h.Sum(nil)
		// Map the first 4 bytes of the digest to a signed float in [-1, 1].
		raw := binary.BigEndian.Uint32(sum[:4])
		vec[i] = float32(int32(raw)) / float32(math.MaxInt32)
	}
	return Normalize(vec)
}

// Normalize L2-normalizes v in place and returns it (spec I2: within ±1e-6).
func Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

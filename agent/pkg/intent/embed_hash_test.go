package intent

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "查詢工務局的函")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	b, err := e.Embed(ctx, "查詢工務局的函")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if sim := Cosine(a, b); sim < 0.999999 {
		t.Errorf("identical texts similarity = %v, want 1", sim)
	}
}

func TestHashEmbedder_Normalized(t *testing.T) {
	e := NewHashEmbedder()

	vec, err := e.Embed(context.Background(), "上個月的派工單")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if len(vec) != hashDims {
		t.Fatalf("Embed() returned %d dims, want %d", len(vec), hashDims)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("vector norm² = %v, want 1", norm)
	}
}

func TestHashEmbedder_SimilarTextsScoreHigher(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()

	base, _ := e.Embed(ctx, "查詢工務局上個月的函")
	near, _ := e.Embed(ctx, "查詢工務局上個月的公文")
	far, _ := e.Embed(ctx, "天氣如何")

	if simNear, simFar := Cosine(base, near), Cosine(base, far); simNear <= simFar {
		t.Errorf("similarity near=%.3f far=%.3f, want near > far", simNear, simFar)
	}
}

package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(label string, conf float32, x1, y1, x2, y2 float32) Detection {
	return Detection{Box: BoundingBox{x1, y1, x2, y2}, Label: label, Confidence: conf}
}

func TestSuppressKeepsHighestOfOverlapping(t *testing.T) {
	t.Parallel()

	input := []Detection{
		det("nailong", 0.6, 0, 0, 100, 100),
		det("nailong", 0.9, 2, 2, 102, 102),
		det("nailong", 0.8, 300, 300, 400, 400),
	}
	original := append([]Detection(nil), input...)

	kept := Suppress(input, 0.7)

	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-6)
	assert.InDelta(t, 0.8, kept[1].Confidence, 1e-6)
	assert.Equal(t, original, input, "input must not be reordered")
}

func TestSuppressIsClassAgnostic(t *testing.T) {
	t.Parallel()

	kept := Suppress([]Detection{
		det("xiong", 0.95, 0, 0, 50, 50),
		det("nailong", 0.9, 0, 0, 50, 50),
	}, 0.7)

	require.Len(t, kept, 1)
	assert.Equal(t, "xiong", kept[0].Label)
}

func TestSuppressProperties(t *testing.T) {
	t.Parallel()

	input := []Detection{
		det("nailong", 0.5, 0, 0, 10, 10),
		det("nailong", 0.7, 1, 1, 11, 11),
		det("nailong", 0.7, 40, 40, 50, 50),
		det("nailong", 0.3, 41, 41, 51, 51),
		det("nailong", 0.9, 5, 5, 15, 15),
		det("nailong", 0.4, 3, 3, 3, 3),
		det("nailong", 0.4, 3, 3, 3, 3),
	}
	const threshold = 0.5
	kept := Suppress(input, threshold)

	require.NotEmpty(t, kept)
	assert.LessOrEqual(t, len(kept), len(input))
	for i := 1; i < len(kept); i++ {
		assert.GreaterOrEqual(t, kept[i-1].Confidence, kept[i].Confidence, "descending order")
	}
	for i := range kept {
		for j := i + 1; j < len(kept); j++ {
			assert.Less(t, IoU(kept[i].Box, kept[j].Box), float32(threshold), "kept boxes %d and %d overlap", i, j)
		}
	}
	// degenerate boxes have IoU 0 with everything and both survive
	degenerate := 0
	for _, d := range kept {
		if d.Box.Area() == 0 {
			degenerate++
		}
	}
	assert.Equal(t, 2, degenerate)
}

func TestSuppressStableOnTies(t *testing.T) {
	t.Parallel()

	kept := Suppress([]Detection{
		det("a", 0.8, 0, 0, 10, 10),
		det("b", 0.8, 100, 100, 110, 110),
	}, 0.7)

	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].Label)
	assert.Equal(t, "b", kept[1].Label)
}

func TestSuppressEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, Suppress(nil, 0.7))
}

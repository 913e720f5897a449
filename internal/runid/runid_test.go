package runid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		r, err := Parse("151119_NB500892_0045_AHGFJTBGXX")
		require.NoError(t, err)
		assert.Equal(t, "151119", r.Date)
		assert.Equal(t, "NB500892", r.Instrument)
		assert.Equal(t, 45, r.Count)
		assert.Equal(t, "AHGFJTBGXX", r.FlowCell)
		assert.Equal(t, "HGFJTBGXX", r.FlowCellID())
		assert.Equal(t, "151119_NB500892_0045_AHGFJTBGXX", r.String())
	})

	invalid := map[string]string{
		"TooFewFields":   "151119_NB500892_0045",
		"TooManyFields":  "151119_NB500892_0045_AHGFJTBGXX_extra",
		"ShortDate":      "15119_NB500892_0045_AHGFJTBGXX",
		"AlphaDate":      "15111A_NB500892_0045_AHGFJTBGXX",
		"ShortCount":     "151119_NB500892_045_AHGFJTBGXX",
		"ShortFlowCell":  "151119_NB500892_0045_AHGFJTBGX",
		"PunctFlowCell":  "151119_NB500892_0045_AHGFJ-BGXX",
		"LeadingSpace":   " 151119_NB500892_0045_AHGFJTBGXX",
		"LockMarkerName": "151119_NB500892_0045_AHGFJTBGXX.lock",
		"Empty":          "",
	}
	for name, raw := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			require.Error(t, err)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
			assert.False(t, IsValid(raw))
		})
	}
}

func TestSortByPriority(t *testing.T) {
	set := func(ids ...string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, id := range ids {
			m[id] = struct{}{}
		}
		return m
	}

	t.Run("NoPriority", func(t *testing.T) {
		got := SortByPriority(set("c", "a", "b"), nil)
		assert.Equal(t, []string{"a", "b", "c"}, got)
	})

	t.Run("PriorityFirst", func(t *testing.T) {
		got := SortByPriority(set("a", "b", "c", "d"), set("d", "b", "zz"))
		assert.Equal(t, []string{"b", "d", "a", "c"}, got)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, SortByPriority(set(), set("a")))
	})
}

package personalization

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `{
  "family": {
    "lastName": "Johnson",
    "members": [
      {"name": "Mark", "age": 42},
      {"name": "Emma", "age": 7, "behavior": "very good"},
      {"name": "Liam", "age": 5}
    ],
    "traditions": ["baking cookies", "caroling"]
  },
  "location": {"city": "Portland", "state": "Oregon"},
  "pets": [{"name": "Rex"}, {"name": "Whiskers"}],
  "emergencyOverrides": {"specialMessage": "Emma lost a tooth today"},
  "metadata": {"lastUpdated": "2025-12-20"}
}`

func TestProfileContext(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		want    string
	}{
		{
			name:    "full profile",
			profile: sampleProfile,
			want: "You're visiting the Johnson family. in Portland, Oregon. " +
				"The children Emma and Liam have all been wonderful. " +
				"Don't forget to say hello to Rex, Whiskers. " +
				"They love baking cookies as a family tradition. " +
				"SPECIAL: Emma lost a tooth today.",
		},
		{
			name:    "single child with default behavior",
			profile: `{"family": {"members": [{"name": "Ava", "age": 6}]}}`,
			want:    "Little Ava has been good.",
		},
		{
			name:    "missing age counts as child",
			profile: `{"family": {"members": [{"name": "Noah", "behavior": "helpful"}]}}`,
			want:    "Little Noah has been helpful.",
		},
		{
			name:    "city without state is skipped",
			profile: `{"family": {"lastName": "Ng"}, "location": {"city": "Austin"}}`,
			want:    "You're visiting the Ng family.",
		},
		{
			name:    "empty profile",
			profile: `{}`,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProfile([]byte(tt.profile))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Context())
		})
	}
}

func TestSummarize(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	require.NoError(t, err)

	s := Summarize(p)
	assert.True(t, s.HasData)
	assert.Equal(t, "Johnson", s.FamilyName)
	assert.Equal(t, 3, s.MemberCount)
	assert.Equal(t, "Portland", s.Location)
	assert.Equal(t, "2025-12-20", s.LastUpdated)
	assert.LessOrEqual(t, len([]rune(s.ContextPreview)), previewLimit)
	assert.True(t, strings.HasSuffix(s.ContextPreview, "..."))

	empty := Summarize(nil)
	assert.False(t, empty.HasData)
	assert.Empty(t, empty.ContextPreview)

	sparse := Summarize(&Profile{})
	assert.Equal(t, "Unknown", sparse.FamilyName)
	assert.Equal(t, "Unknown", sparse.Location)
}

func TestSupplierMissingFile(t *testing.T) {
	s := NewSupplier(filepath.Join(t.TempDir(), "family.json"), nil)

	assert.Empty(t, s.Preamble())
	assert.False(t, s.Summary().HasData)
	assert.False(t, s.Reload())
}

func TestSupplierMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "family.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := NewSupplier(path, nil)
	assert.Empty(t, s.Preamble())
	assert.False(t, s.Summary().HasData)
}

func TestSupplierPreambleAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "family.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"family": {"lastName": "Garcia"}}`), 0644))

	s := NewSupplier(path, nil)
	assert.Equal(t, PreambleLead+"You're visiting the Garcia family.", s.Preamble())

	require.NoError(t, os.WriteFile(path, []byte(`{"family": {"lastName": "Okafor"}}`), 0644))
	assert.Contains(t, s.Preamble(), "Garcia", "no reload without a trigger")

	assert.True(t, s.Reload())
	assert.Contains(t, s.Preamble(), "Okafor")
}

func TestSupplierWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "family.json")
	s := NewSupplier(path, nil)
	require.NoError(t, s.Watch())
	defer s.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"family": {"lastName": "Rossi"}}`), 0644))
	require.Eventually(t, func() bool {
		return s.Summary().FamilyName == "Rossi"
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return !s.Summary().HasData
	}, 3*time.Second, 20*time.Millisecond)
}

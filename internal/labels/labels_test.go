package labels

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikancheck/ikancheck/internal/errors"
)

func TestDefaultTable(t *testing.T) {
	t.Parallel()

	table := Default()
	require.Equal(t, 8, table.Len())

	tests := []struct {
		index int
		name  string
	}{
		{0, "Bacterial Red disease"},
		{1, "Bacterial diseases - Aeromoniasis"},
		{2, "Bacterial gill disease"},
		{3, "Fungal diseases Saprolegniasis"},
		{4, "Healthy Fish"},
		{5, "Parasitic diseases"},
		{6, "Viral diseases White tail disease"},
		{7, "bukan ikan"},
	}
	for _, tt := range tests {
		name, ok := table.Name(tt.index)
		require.True(t, ok)
		assert.Equal(t, tt.name, name)

		idx, ok := table.Index(tt.name)
		require.True(t, ok)
		assert.Equal(t, tt.index, idx, "index and name must map both ways")
	}

	assert.Equal(t, NotSubject, table.NotSubject())
	assert.Equal(t, Healthy, table.Healthy())
	assert.True(t, table.IsNotSubject("bukan ikan"))
	assert.False(t, table.IsNotSubject("Healthy Fish"))
	assert.Len(t, table.Diseases(), 6)

	_, ok := table.Name(8)
	assert.False(t, ok)
	_, ok = table.Name(-1)
	assert.False(t, ok)
}

func TestNamesReturnsCopy(t *testing.T) {
	t.Parallel()

	table := Default()
	names := table.Names()
	names[0] = "changed"

	name, _ := table.Name(0)
	assert.Equal(t, "Bacterial Red disease", name)
}

func TestNewRejectsInvalidTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		names   []string
		wantErr string
	}{
		{"empty", nil, "empty"},
		{"duplicate", []string{"a", "b", "a", NotSubject, Healthy}, "appears at index 0 and 2"},
		{"blank name", []string{"a", " ", NotSubject, Healthy}, "label 1 is empty"},
		{"missing sentinel", []string{"a", Healthy}, "not-a-fish"},
		{"missing healthy", []string{"a", NotSubject}, "healthy"},
		{"path separator", []string{"a/b", NotSubject, Healthy}, "label 0 cannot be stored in the history"},
		{"backslash", []string{"a", `c:\fish`, NotSubject, Healthy}, "label 1 cannot be stored in the history"},
		{"parent reference", []string{"..", NotSubject, Healthy}, "label 0 cannot be stored in the history"},
		{"control character", []string{"a\tb", NotSubject, Healthy}, "label 0 cannot be stored in the history"},
		{"too long", []string{strings.Repeat("x", 250), NotSubject, Healthy}, "label 0 cannot be stored in the history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.names, NotSubject, Healthy)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestLoadLabelFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.txt")
	content := "Sehat\n\n  Bintik Putih \nBukan Ikan\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	table, err := Load(path, "Bukan Ikan", "Sehat")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sehat", "Bintik Putih", "Bukan Ikan"}, table.Names())
}

func TestLoadRejectsUnstorableLabel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("Sehat\nBintik/Putih\nBukan Ikan\n"), 0o600))

	_, err := Load(path, "Bukan Ikan", "Sehat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label 1 cannot be stored in the history")
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"), NotSubject, Healthy)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLabelLoad))
}

func TestEmbeddedContentCoversDefaultLabels(t *testing.T) {
	t.Parallel()

	content, err := LoadContent()
	require.NoError(t, err)

	assert.Empty(t, content.Missing(Default()), "every label except the sentinel needs advice")
	assert.Equal(t, "Ikan Anda terlihat sehat! Terus jaga kualitas air dan berikan pakan yang baik.", content.Advice(Healthy))
	assert.Contains(t, content.Advice("Bacterial Red disease"), "Oxytetracycline")
	assert.Equal(t, "Tidak ada saran spesifik.", content.Advice("unknown label"))

	edu, ok := content.Education("Bacterial Red disease")
	require.True(t, ok)
	assert.Equal(t, "image/bacterial.jpg", edu.Image)
	assert.Contains(t, edu.OtherNames, "Epizootic Ulcerative Syndrome")
	assert.NotEmpty(t, edu.Symptoms)
	assert.NotEmpty(t, edu.Treatment)
	assert.NotEmpty(t, edu.Prevention)

	assert.Equal(t, []string{"Bacterial Red disease", "Healthy Fish"}, content.EducationTopics())
}

func TestParseContentRejectsBadYAML(t *testing.T) {
	t.Parallel()

	_, err := ParseContent([]byte("advice: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

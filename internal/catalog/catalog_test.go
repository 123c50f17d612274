package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSkipsIDColumn(t *testing.T) {
	data := "ID,DR,ARMD,MH\n1,0,1,0\n2,1,0,0\n"

	c, err := Read(strings.NewReader(data), DefaultIDColumn)
	require.NoError(t, err)

	assert.Equal(t, []string{"DR", "ARMD", "MH"}, c.Codes())
	assert.Equal(t, 3, c.Len())

	i, ok := c.Index("ARMD")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestReadKeepsColumnOrderWhenIDIsNotFirst(t *testing.T) {
	c, err := Read(strings.NewReader("ODC,ID,TSLN,Disease_Risk\n"), DefaultIDColumn)
	require.NoError(t, err)
	assert.Equal(t, []string{"ODC", "TSLN", "Disease_Risk"}, c.Codes())
}

func TestReadStripsByteOrderMark(t *testing.T) {
	c, err := Read(strings.NewReader("\ufeffID,DR\n"), DefaultIDColumn)
	require.NoError(t, err)
	assert.Equal(t, []string{"DR"}, c.Codes())
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"only id column", "ID\n1\n"},
		{"duplicate code", "ID,DR,DR\n"},
		{"blank column", "ID,DR, \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.data), DefaultIDColumn)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train_data.csv")
	require.NoError(t, os.WriteFile(path, []byte("ID,NORMAL,DR\n"), 0o644))

	c, err := Load(path, DefaultIDColumn)
	require.NoError(t, err)
	assert.Equal(t, []string{"NORMAL", "DR"}, c.Codes())

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), DefaultIDColumn)
	assert.Error(t, err)
}

func TestCodesReturnsCopy(t *testing.T) {
	c, err := New([]string{"DR", "MH"})
	require.NoError(t, err)

	codes := c.Codes()
	codes[0] = "X"
	assert.Equal(t, []string{"DR", "MH"}, c.Codes())
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "Diabetic Retinopathy", FullName("DR"))
	assert.Equal(t, "Tessellated Fundus", FullName("TSLN"))
	assert.Equal(t, "Disease_Risk", FullName("Disease_Risk"))
	assert.Len(t, DiseaseNames, 20)
}

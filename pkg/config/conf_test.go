package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOrCreate_Defaults(t *testing.T) {
	dir := t.TempDir()

	c, err := ReadOrCreate(dir)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.FileExists(t, filepath.Join(dir, ConfigFileName))
	assert.Equal(t, "balanced", c.Assignment.Mode)
	assert.Equal(t, 4, c.Assignment.PerStudent)
	assert.False(t, c.Assignment.AllowSelf)
	assert.Equal(t, 1.0, c.Scale.Min)
	assert.Equal(t, 10.0, c.Scale.Max)
	assert.NoError(t, c.Algorithm.Validate())
}

func TestConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	c1, err := ReadOrCreate(dir)
	require.NoError(t, err)

	c1.Course.Name = "Intro to Blockchain"
	c1.Assignment.PerStudent = 6
	c1.Algorithm.VG = 12.5
	c1.SMTP.Host = "smtp.example.com"

	require.NoError(t, Save(dir, c1))

	c2, err := ReadOrCreate(dir)
	require.NoError(t, err)
	assert.Equal(t, c1.Course.Name, c2.Course.Name)
	assert.Equal(t, c1.Assignment.PerStudent, c2.Assignment.PerStudent)
	assert.Equal(t, c1.Algorithm.VG, c2.Algorithm.VG)
	assert.Equal(t, c1.SMTP.Host, c2.SMTP.Host)
}

func TestReadOrCreate_EmptyDir(t *testing.T) {
	_, err := ReadOrCreate("")
	assert.Error(t, err)
}

func TestSave_NilConfig(t *testing.T) {
	err := Save(t.TempDir(), nil)
	assert.Error(t, err)
}

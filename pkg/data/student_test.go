package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestImportRoster(t *testing.T) {
	db := setupTestDB(t)

	path := writeRoster(t, "id,name,email,class\n"+
		"s1,Ada,ada@school.edu,A\n"+
		"s2,Grace,grace@school.edu,A\n"+
		"s3,Alan,alan@school.edu,B\n")

	res, err := ImportRoster(db, path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Imported)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, res.Errors)

	students, err := GetStudents(db)
	require.NoError(t, err)
	require.Len(t, students, 3)
	assert.Equal(t, "s1", students[0].ID)
	assert.Equal(t, "Ada", students[0].Name)
	assert.Equal(t, "B", students[2].Class)

	n, err := CountStudents(db)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestImportRoster_HeaderAnyOrder(t *testing.T) {
	db := setupTestDB(t)

	path := writeRoster(t, "Email,ID,Name\nada@school.edu,s1,Ada\n")

	res, err := ImportRoster(db, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	s, err := GetStudent(db, "s1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "ada@school.edu", s.Email)
	assert.Empty(t, s.Class)
}

func TestImportRoster_SkipsBadRows(t *testing.T) {
	db := setupTestDB(t)

	path := writeRoster(t, "id,name,email\n"+
		"s1,Ada,ada@school.edu\n"+
		",Ghost,ghost@school.edu\n"+
		"s3,NoMail,\n")

	res, err := ImportRoster(db, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, res.Errors, 2)
}

func TestImportRoster_MissingColumn(t *testing.T) {
	db := setupTestDB(t)

	path := writeRoster(t, "id,name\ns1,Ada\n")

	_, err := ImportRoster(db, path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "email")
}

func TestImportRoster_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	path := writeRoster(t, "id,name,email\ns1,Ada,ada@school.edu\n")

	_, err := ImportRoster(db, path)
	require.NoError(t, err)
	res, err := ImportRoster(db, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	n, err := CountStudents(db)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetStudent_NotFound(t *testing.T) {
	db := setupTestDB(t)
	s, err := GetStudent(db, "nope")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestImportQuestions(t *testing.T) {
	db := setupTestDB(t)

	path := filepath.Join(t.TempDir(), "questions.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,prompt\nQ1,Correctness\nQ2,Clarity\n"), 0600))

	qs, err := ImportQuestions(db, path)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, 1, qs[0].Ord)
	assert.Equal(t, "Clarity", qs[1].Prompt)

	got, err := GetQuestions(db)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestImportQuestions_NoIDColumn(t *testing.T) {
	db := setupTestDB(t)

	path := filepath.Join(t.TempDir(), "questions.csv")
	require.NoError(t, os.WriteFile(path, []byte("prompt\nCorrectness\n"), 0600))

	_, err := ImportQuestions(db, path)
	assert.Error(t, err)
}

func TestSaveQuestions(t *testing.T) {
	db := setupTestDB(t)

	qs := []*Question{
		{ID: "Q2", Ord: 2, Prompt: "Clarity"},
		{ID: "Q1", Ord: 1, Prompt: "Correctness"},
	}
	require.NoError(t, SaveQuestions(db, qs))

	got, err := GetQuestions(db)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Q1", got[0].ID)
	assert.Equal(t, "Q2", got[1].ID)

	// upsert updates prompt in place
	qs[0].Prompt = "Clarity of argument"
	require.NoError(t, SaveQuestions(db, qs))
	got, err = GetQuestions(db)
	require.NoError(t, err)
	assert.Equal(t, "Clarity of argument", got[1].Prompt)
}

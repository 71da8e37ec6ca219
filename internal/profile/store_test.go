package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCredential = "correct horse battery staple"

var validProfileJSON = []byte(`{
	"identity": {
		"given_name": "Ada",
		"family_name": "Lovelace",
		"email": "ada@example.com",
		"phone": "+44 20 555 0100",
		"location": "London, UK"
	},
	"links": {"linkedin": "https://www.linkedin.com/in/ada"},
	"work": {"authorized": true, "needs_sponsorship": false},
	"answers": {"notice period": "two weeks"}
}`)

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte("the applicant's private data")

	envelope, err := seal(plaintext, testCredential)
	require.NoError(t, err)
	assert.NotContains(t, string(envelope), "private data", "envelope must not leak plaintext")

	got, err := open(envelope, testCredential)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpenWrongCredential(t *testing.T) {
	envelope, err := seal([]byte("secret"), testCredential)
	require.NoError(t, err)

	_, err = open(envelope, "wrong passphrase")
	assert.ErrorIs(t, err, ErrWrongCredential)
}

func TestOpenTamperedEnvelope(t *testing.T) {
	envelope, err := seal([]byte("secret"), testCredential)
	require.NoError(t, err)

	envelope[len(envelope)-1] ^= 0xFF
	_, err = open(envelope, testCredential)
	assert.ErrorIs(t, err, ErrWrongCredential)
}

func TestOpenTruncatedEnvelope(t *testing.T) {
	_, err := open([]byte{envelopeVersion, 1, 2, 3}, testCredential)
	assert.ErrorIs(t, err, ErrWrongCredential)
}

func TestSealsAreUnique(t *testing.T) {
	// Fresh salt and nonce per seal: identical plaintext never repeats bytes
	a, err := seal([]byte("same"), testCredential)
	require.NoError(t, err)
	b, err := seal([]byte("same"), testCredential)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFileStoreProfileRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// Missing section loads as nil, nil
	got, err := store.Load(ctx, SectionProfile, testCredential)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, SectionProfile, validProfileJSON, testCredential))

	got, err = store.Load(ctx, SectionProfile, testCredential)
	require.NoError(t, err)
	assert.JSONEq(t, string(validProfileJSON), string(got))

	// Wrong credential cannot read it back
	_, err = store.Load(ctx, SectionProfile, "nope")
	assert.ErrorIs(t, err, ErrWrongCredential)
}

func TestFileStoreRejectsInvalidProfile(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	invalid := []byte(`{"identity": {"given_name": "Ada"}}`)
	err = store.Save(ctx, SectionProfile, invalid, testCredential)
	require.Error(t, err)

	// Nothing may touch disk on a failed validation
	got, loadErr := store.Load(ctx, SectionProfile, testCredential)
	require.NoError(t, loadErr)
	assert.Nil(t, got)
}

func TestFileStoreEncryptsOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), SectionProfile, validProfileJSON, testCredential))

	raw, err := os.ReadFile(filepath.Join(dir, SectionProfile+".enc"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ada@example.com")
	assert.NotContains(t, string(raw), "Lovelace")
}

func TestResumeRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// No resume yet
	got, err := store.Resume(ctx, testCredential)
	require.NoError(t, err)
	assert.Nil(t, got)

	pdf := []byte("%PDF-1.7 fake resume bytes")
	require.NoError(t, store.SaveResume(ctx, pdf, "/home/ada/cv/Ada_Lovelace.pdf", testCredential))

	got, err = store.Resume(ctx, testCredential)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada_Lovelace.pdf", got.Filename, "path should be stripped to base name")
	assert.Equal(t, pdf, got.Data)
}

func TestSaveResumeRejectsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = store.SaveResume(context.Background(), nil, "cv.pdf", testCredential)
	assert.Error(t, err)
}

func TestMaterializeResume(t *testing.T) {
	resume := &ResumeFile{Filename: "cv.pdf", Data: []byte("resume bytes")}

	path, cleanup, err := MaterializeResume(resume)
	require.NoError(t, err)
	require.NotNil(t, cleanup)

	assert.Equal(t, "cv.pdf", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, resume.Data, data)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "cleanup must remove the copy")
}

func TestMaterializeResumeNil(t *testing.T) {
	_, _, err := MaterializeResume(nil)
	assert.Error(t, err)
}

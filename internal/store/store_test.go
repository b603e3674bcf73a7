package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"anonfeedback-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenBackend struct{}

func (brokenBackend) Read(ctx context.Context) ([]byte, error) {
	return nil, errors.New("disk on fire")
}
func (brokenBackend) Write(ctx context.Context, data []byte) error {
	return errors.New("disk on fire")
}

func sampleRounds() []models.Round {
	return []models.Round{
		{ID: "a", Prompt: "first", CreatedAt: 1, Feedback: []models.Feedback{{Content: "hi", CreatedAt: 2}}},
		{ID: "b", Prompt: "second", ContentLink: "https://example.com", CreatedAt: 3, Feedback: []models.Feedback{}},
	}
}

func TestLoad_AbsentIsEmpty(t *testing.T) {
	s := New(NewMemoryBackend(), nil)
	rounds := s.Load(context.Background())
	assert.NotNil(t, rounds)
	assert.Empty(t, rounds)
}

func TestLoad_UnparsableIsEmpty(t *testing.T) {
	b := NewMemoryBackend()
	b.Put([]byte("{not json"))
	s := New(b, nil)
	assert.Empty(t, s.Load(context.Background()))
}

func TestLoad_ReadErrorIsEmpty(t *testing.T) {
	s := New(brokenBackend{}, nil)
	assert.Empty(t, s.Load(context.Background()))
}

func TestLoad_NullFeedbackNormalized(t *testing.T) {
	b := NewMemoryBackend()
	b.Put([]byte(`[{"id":"x","prompt":"p","contentLink":"","createdAt":5}]`))
	rounds := New(b, nil).Load(context.Background())
	require.Len(t, rounds, 1)
	assert.NotNil(t, rounds[0].Feedback)
	assert.Empty(t, rounds[0].Feedback)
}

func TestLoad_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), nil)
	require.NoError(t, s.Save(ctx, sampleRounds()))
	assert.Equal(t, s.Load(ctx), s.Load(ctx))
}

func TestSaveLoad_RoundTripBytes(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	s := New(b, nil)
	require.NoError(t, s.Save(ctx, sampleRounds()))
	before := b.Raw()

	require.NoError(t, s.Save(ctx, s.Load(ctx)))
	assert.Equal(t, string(before), string(b.Raw()))
}

func TestSave_WireFieldNames(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.NoError(t, New(b, nil).Save(ctx, sampleRounds()[1:]))
	assert.JSONEq(t,
		`[{"id":"b","prompt":"second","contentLink":"https://example.com","createdAt":3,"feedback":[]}]`,
		string(b.Raw()))
}

func TestSave_NilWritesEmptyArray(t *testing.T) {
	b := NewMemoryBackend()
	require.NoError(t, New(b, nil).Save(context.Background(), nil))
	assert.Equal(t, "[]", string(b.Raw()))
}

func TestSave_BackendErrorPropagates(t *testing.T) {
	err := New(brokenBackend{}, nil).Save(context.Background(), sampleRounds())
	assert.Error(t, err)
}

func TestFileBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fb, err := NewFileBackend(dir, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "feedback_rounds.json"), fb.Path())

	_, err = fb.Read(ctx)
	assert.ErrorIs(t, err, ErrAbsent)

	s := New(fb, nil)
	require.NoError(t, s.Save(ctx, sampleRounds()))
	assert.Equal(t, sampleRounds(), s.Load(ctx))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

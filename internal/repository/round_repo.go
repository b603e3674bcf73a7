package repository

import (
	"context"
	"errors"
	"strings"
	"sync"

	"anonfeedback-backend/internal/models"
	"anonfeedback-backend/internal/store"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("round not found")
	ErrValidation = errors.New("validation failed")
)

// RoundRepo is the read/write view over the round store. Every write reloads
// the full sequence, applies the change, and saves the full sequence back.
type RoundRepo struct {
	store store.Store
	newID func() string

	// serializes read-modify-write within this process; other processes
	// sharing the backend still race with last-writer-wins.
	mu sync.Mutex
}

func NewRoundRepo(s store.Store) *RoundRepo {
	return &RoundRepo{
		store: s,
		newID: newRoundID,
	}
}

// UUIDv7 ids are time-ordered like the creation timestamps and unique without
// consulting the store.
func newRoundID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func (r *RoundRepo) List(ctx context.Context) []models.Round {
	return r.store.Load(ctx)
}

func (r *RoundRepo) FindByID(ctx context.Context, id string) (models.Round, error) {
	for _, round := range r.store.Load(ctx) {
		if round.ID == id {
			return round, nil
		}
	}
	return models.Round{}, ErrNotFound
}

func (r *RoundRepo) Create(ctx context.Context, prompt, contentLink string) (models.Round, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return models.Round{}, ErrValidation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rounds := r.store.Load(ctx)
	id := r.newID()
	for containsID(rounds, id) {
		id = r.newID()
	}

	round := models.Round{
		ID:          id,
		Prompt:      prompt,
		ContentLink: strings.TrimSpace(contentLink),
		CreatedAt:   models.NowMillis(),
		Feedback:    []models.Feedback{},
	}
	if err := r.store.Save(ctx, append(rounds, round)); err != nil {
		return models.Round{}, err
	}
	return round, nil
}

// AppendFeedback adds trimmed content to the round and returns the round as
// persisted. An unknown round id leaves the store untouched.
func (r *RoundRepo) AppendFeedback(ctx context.Context, roundID, content string) (models.Round, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Round{}, ErrValidation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rounds := r.store.Load(ctx)
	fb := models.Feedback{Content: content, CreatedAt: models.NowMillis()}

	var (
		updated models.Round
		found   bool
	)
	next := make([]models.Round, len(rounds))
	for i, round := range rounds {
		if round.ID == roundID {
			round = round.WithFeedback(fb)
			updated, found = round, true
		}
		next[i] = round
	}
	if !found {
		return models.Round{}, ErrNotFound
	}

	if err := r.store.Save(ctx, next); err != nil {
		return models.Round{}, err
	}
	return updated, nil
}

func containsID(rounds []models.Round, id string) bool {
	for _, round := range rounds {
		if round.ID == id {
			return true
		}
	}
	return false
}

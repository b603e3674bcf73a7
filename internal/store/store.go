// Package store keeps the whole list of rounds as one serialized value under a
// single key. Backends only move bytes; Adapter owns the JSON encoding and the
// fail-soft read policy.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"anonfeedback-backend/internal/models"

	"go.uber.org/zap"
)

// DefaultKey is the storage key used when none is configured.
const DefaultKey = "feedback_rounds"

// ErrAbsent is returned by a Backend when nothing has been stored under its key yet.
var ErrAbsent = errors.New("store: key not present")

// Backend reads and writes the raw serialized value for one key.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Store is the contract the repository depends on.
type Store interface {
	Load(ctx context.Context) []models.Round
	Save(ctx context.Context, rounds []models.Round) error
}

type Adapter struct {
	backend Backend
	logger  *zap.Logger
}

func New(backend Backend, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{backend: backend, logger: logger}
}

// Load returns the stored rounds. A missing or unreadable value is treated as an
// empty store; the cause is logged and never returned.
func (a *Adapter) Load(ctx context.Context) []models.Round {
	data, err := a.backend.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrAbsent) {
			a.logger.Warn("round store read failed, using empty store", zap.Error(err))
		}
		return []models.Round{}
	}
	rounds, err := Decode(data)
	if err != nil {
		a.logger.Warn("round store content unparsable, using empty store", zap.Error(err))
		return []models.Round{}
	}
	return rounds
}

// Save overwrites the stored value with the full sequence.
func (a *Adapter) Save(ctx context.Context, rounds []models.Round) error {
	data, err := Encode(rounds)
	if err != nil {
		return err
	}
	if err := a.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	return nil
}

func Decode(data []byte) ([]models.Round, error) {
	var rounds []models.Round
	if err := json.Unmarshal(data, &rounds); err != nil {
		return nil, fmt.Errorf("store: decode: %w", err)
	}
	if rounds == nil {
		rounds = []models.Round{}
	}
	for i := range rounds {
		if rounds[i].Feedback == nil {
			rounds[i].Feedback = []models.Feedback{}
		}
	}
	return rounds, nil
}

func Encode(rounds []models.Round) ([]byte, error) {
	if rounds == nil {
		rounds = []models.Round{}
	}
	data, err := json.Marshal(rounds)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

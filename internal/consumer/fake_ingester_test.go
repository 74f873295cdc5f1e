package consumer

import (
	"context"
	"errors"
	"sync"

	"github.com/gitter-badger/DiaBLE/internal/models"
)

type ingestCall struct {
	source   models.Source
	readings []models.Reading
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []ingestCall
	err   error
	state models.ConnectionState
}

func (f *fakeIngester) IngestReadings(_ context.Context, source models.Source, readings []models.Reading) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if !source.Valid() {
		return 0, errors.New("invalid source")
	}
	f.calls = append(f.calls, ingestCall{source: source, readings: readings})
	return len(readings), nil
}

func (f *fakeIngester) UpdateConnection(_ context.Context, fn func(*models.ConnectionState)) models.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.state)
	return f.state
}

func (f *fakeIngester) Calls() []ingestCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingestCall(nil), f.calls...)
}

package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evolveme/config"
	"evolveme/services"
)

type closeRecordingStore struct {
	*services.InMemoryStore
	closed bool
}

func (s *closeRecordingStore) Close() error {
	s.closed = true
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Port:             "0",
		StoreBackend:     "memory",
		MetricsNamespace: "test",
		LLM: config.LLMConfig{
			Client:  "resty",
			APIKey:  "test-key",
			BaseURL: "http://127.0.0.1:1",
			Timeout: time.Second,
		},
		Memory: config.DefaultMemoryConfig(),
	}
}

func recordingOpener(store *closeRecordingStore) storeOpener {
	return func(context.Context, config.Config) (services.Store, error) {
		return store, nil
	}
}

func TestRunClosesStoreOnStartupFailure(t *testing.T) {
	store := &closeRecordingStore{InMemoryStore: services.NewInMemoryStore()}
	cfg := testConfig()
	cfg.LLM.Client = "carrier-pigeon"

	err := run(context.Background(), cfg, recordingOpener(store))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create LLM client")
	assert.True(t, store.closed)
}

func TestRunClosesStoreOnShutdown(t *testing.T) {
	store := &closeRecordingStore{InMemoryStore: services.NewInMemoryStore()}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, testConfig(), recordingOpener(store)) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.True(t, store.closed)
}

func TestRunReportsStoreOpenFailure(t *testing.T) {
	unavailable := errors.New("store unavailable")
	err := run(context.Background(), testConfig(), func(context.Context, config.Config) (services.Store, error) {
		return nil, unavailable
	})
	assert.ErrorIs(t, err, unavailable)
}

package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/stubby/pkg/config"
	"github.com/getmockd/stubby/pkg/logging"
)

type fakeManager struct {
	mu       sync.Mutex
	params   config.Params
	starts   int
	stops    int
	startErr error
	stopErr  error
}

func (m *fakeManager) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return m.startErr
}

func (m *fakeManager) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.stopErr
}

type recordingFactory struct {
	mu         sync.Mutex
	built      []*fakeManager
	configPath string
	startErr   error
	err        error
}

func (f *recordingFactory) Construct(configPath string, params config.Params) (Manager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.configPath = configPath
	m := &fakeManager{params: params, startErr: f.startErr}
	f.built = append(f.built, m)
	return m, nil
}

func (f *recordingFactory) last() *fakeManager {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[len(f.built)-1]
}

func TestFacade_StartUsesDefaultPorts(t *testing.T) {
	factory := &recordingFactory{}
	f := New("stubby.yaml", factory)

	require.NoError(t, f.Start(context.Background()))

	m := factory.last()
	assert.Equal(t, "stubby.yaml", factory.configPath)
	assert.Equal(t, "8882", m.params[config.OptionClientPort])
	assert.Equal(t, "8889", m.params[config.OptionAdminPort])
	assert.Equal(t, 1, m.starts)
	assert.Equal(t, StateRunning, f.State())
	assert.Same(t, m, f.Manager())
}

func TestFacade_StartOn(t *testing.T) {
	factory := &recordingFactory{}
	f := New("", factory)

	require.NoError(t, f.StartOn(context.Background(), 9000, 9001))

	m := factory.last()
	assert.Equal(t, config.Params{config.OptionClientPort: "9000", config.OptionAdminPort: "9001"}, m.params)
	assert.Equal(t, m.params, f.Params())
}

func TestFacade_ParamsIsACopy(t *testing.T) {
	f := New("", &recordingFactory{})
	require.NoError(t, f.StartOn(context.Background(), 9000, 9001))

	p := f.Params()
	p[config.OptionClientPort] = "1"
	assert.Equal(t, "9000", f.Params()[config.OptionClientPort])
}

func TestFacade_StopWithoutStartIsNoop(t *testing.T) {
	f := New("", &recordingFactory{})

	assert.NoError(t, f.Stop(context.Background()))
	assert.NoError(t, f.Stop(context.Background()))
	assert.Equal(t, StateStopped, f.State())
	assert.Nil(t, f.Manager())
}

func TestFacade_StopIsIdempotent(t *testing.T) {
	factory := &recordingFactory{}
	f := New("", factory)
	ctx := context.Background()

	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.Stop(ctx))
	require.NoError(t, f.Stop(ctx))

	assert.Equal(t, 1, factory.last().stops)
	assert.Equal(t, StateStopped, f.State())
}

func TestFacade_RestartAfterStop(t *testing.T) {
	factory := &recordingFactory{}
	f := New("", factory)
	ctx := context.Background()

	require.NoError(t, f.StartOn(ctx, 9000, 9001))
	require.NoError(t, f.Stop(ctx))
	require.NoError(t, f.StartOn(ctx, 9100, 9101))

	assert.Len(t, factory.built, 2)
	assert.Equal(t, StateRunning, f.State())
	assert.Equal(t, "9100", f.Params()[config.OptionClientPort])
}

func TestFacade_ConstructFailure(t *testing.T) {
	cause := errors.New("config file unreadable")
	f := New("missing.yaml", &recordingFactory{err: cause})

	err := f.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "construct server manager")
	assert.Equal(t, StateStopped, f.State())
	assert.Nil(t, f.Manager())
}

func TestFacade_StartFailure(t *testing.T) {
	cause := errors.New("address already in use")
	f := New("", &recordingFactory{startErr: cause})

	err := f.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "start server manager")
	assert.Equal(t, StateStopped, f.State())
	assert.Nil(t, f.Params())
}

func TestFacade_StopFailureKeepsRunning(t *testing.T) {
	factory := &recordingFactory{}
	f := New("", factory)
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))

	m := factory.last()
	m.stopErr = errors.New("shutdown timed out")

	err := f.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, m.stopErr)
	assert.Equal(t, StateRunning, f.State())

	m.stopErr = nil
	require.NoError(t, f.Stop(ctx))
	assert.Equal(t, StateStopped, f.State())
	assert.Equal(t, 2, m.stops)
}

func TestFacade_NilFactory(t *testing.T) {
	f := New("", nil)
	assert.ErrorIs(t, f.Start(context.Background()), ErrNilFactory)
	assert.Equal(t, StateStopped, f.State())
}

func TestFacade_FactoryFunc(t *testing.T) {
	var got config.Params
	m := &fakeManager{}
	f := New("", FactoryFunc(func(_ string, params config.Params) (Manager, error) {
		got = params
		return m, nil
	}))

	require.NoError(t, f.StartOn(context.Background(), 1234, 5678))
	assert.Equal(t, "1234", got[config.OptionClientPort])
	assert.Equal(t, 1, m.starts)
}

func TestFacade_DoubleStart(t *testing.T) {
	ctx := context.Background()

	t.Run("error by default", func(t *testing.T) {
		factory := &recordingFactory{}
		f := New("", factory)
		require.NoError(t, f.StartOn(ctx, 9000, 9001))

		assert.ErrorIs(t, f.StartOn(ctx, 9100, 9101), ErrAlreadyRunning)
		assert.Len(t, factory.built, 1)
		assert.Equal(t, "9000", f.Params()[config.OptionClientPort])
	})

	t.Run("replace leaves the old manager running", func(t *testing.T) {
		var buf bytes.Buffer
		factory := &recordingFactory{}
		f := New("", factory,
			WithDoubleStart(DoubleStartReplace),
			WithLogger(logging.New(logging.Config{Level: logging.LevelWarn, Output: &buf})),
		)
		require.NoError(t, f.StartOn(ctx, 9000, 9001))
		first := factory.last()

		require.NoError(t, f.StartOn(ctx, 9100, 9101))
		second := factory.last()

		assert.NotSame(t, first, second)
		assert.Equal(t, 0, first.stops)
		assert.Same(t, second, f.Manager())
		assert.Contains(t, buf.String(), "previous one is left running")

		require.NoError(t, f.Stop(ctx))
		assert.Equal(t, 0, first.stops)
		assert.Equal(t, 1, second.stops)
	})

	t.Run("restart stops the old manager first", func(t *testing.T) {
		factory := &recordingFactory{}
		f := New("", factory, WithDoubleStart(DoubleStartRestart))
		require.NoError(t, f.StartOn(ctx, 9000, 9001))
		first := factory.last()

		require.NoError(t, f.StartOn(ctx, 9100, 9101))
		assert.Equal(t, 1, first.stops)
		assert.Equal(t, StateRunning, f.State())
		assert.Equal(t, "9100", f.Params()[config.OptionClientPort])
	})
}

func TestFacade_ConcurrentStartSerializes(t *testing.T) {
	factory := &recordingFactory{}
	f := New("", factory)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.Start(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyRunning):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, rejected)
	assert.Len(t, factory.built, 1)
}

func TestParseDoubleStartPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want DoubleStartPolicy
	}{
		{"", DoubleStartError},
		{"error", DoubleStartError},
		{"replace", DoubleStartReplace},
		{"restart", DoubleStartRestart},
	}
	for _, tt := range tests {
		got, err := ParseDoubleStartPolicy(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		if tt.in != "" {
			assert.Equal(t, tt.in, got.String())
		}
	}

	_, err := ParseDoubleStartPolicy("ignore")
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "State(7)", State(7).String())
}

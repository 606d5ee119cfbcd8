package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/persist"
	"github.com/sells-group/prospect-cli/pkg/discovery"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) Save(ctx context.Context, account string, leads []model.Lead, sc *model.SearchContext) error {
	args := m.Called(ctx, account, leads, sc)
	return args.Error(0)
}

func (m *mockRemote) Fetch(ctx context.Context, account string, limit int) (*persist.RemoteSnapshot, error) {
	args := m.Called(ctx, account, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*persist.RemoteSnapshot), args.Error(1)
}

func (m *mockRemote) Delete(ctx context.Context, account string, criteria persist.DeleteCriteria) error {
	args := m.Called(ctx, account, criteria)
	return args.Error(0)
}

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Enrich(ctx context.Context, req discovery.EnrichRequest) (*discovery.EnrichResponse, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, discovery.EnrichRequest) *discovery.EnrichResponse); ok {
		return fn(ctx, req), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discovery.EnrichResponse), args.Error(1)
}

// scriptedProvider replays one event script per call. A nil script fails the
// connect with connectErr. Scripts listed in hold keep the stream open after
// their last event until the run is cancelled.
type scriptedProvider struct {
	mu         sync.Mutex
	scripts    [][]discovery.Event
	hold       map[int]bool
	connectErr error
	calls      int
}

func (p *scriptedProvider) Search(ctx context.Context, _ discovery.Request) (<-chan discovery.Event, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	if idx >= len(p.scripts) || p.scripts[idx] == nil {
		return nil, p.connectErr
	}
	script := p.scripts[idx]
	hold := p.hold[idx]
	ch := make(chan discovery.Event)
	go func() {
		defer close(ch)
		for _, ev := range script {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

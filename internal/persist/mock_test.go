package persist

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospect-cli/internal/model"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) Save(ctx context.Context, account string, leads []model.Lead, sc *model.SearchContext) error {
	args := m.Called(ctx, account, leads, sc)
	return args.Error(0)
}

func (m *mockRemote) Fetch(ctx context.Context, account string, limit int) (*RemoteSnapshot, error) {
	args := m.Called(ctx, account, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RemoteSnapshot), args.Error(1)
}

func (m *mockRemote) Delete(ctx context.Context, account string, criteria DeleteCriteria) error {
	args := m.Called(ctx, account, criteria)
	return args.Error(0)
}

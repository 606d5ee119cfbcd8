package persist

import (
	"context"
	"time"

	"github.com/sells-group/prospect-cli/internal/model"
)

// RemoteSnapshot is what the backup service returns for an account.
type RemoteSnapshot struct {
	Leads   []model.Lead         `json:"leads"`
	Context *model.SearchContext `json:"context,omitempty"`
	SavedAt time.Time            `json:"saved_at"`
}

// DeleteCriteria selects which remote leads to delete. All wins over IDs.
type DeleteCriteria struct {
	All bool
	IDs []string
}

// Remote is the cross-device backup service. Fetch returns (nil, nil) when
// the account has no backup.
type Remote interface {
	Save(ctx context.Context, account string, leads []model.Lead, sc *model.SearchContext) error
	Fetch(ctx context.Context, account string, limit int) (*RemoteSnapshot, error)
	Delete(ctx context.Context, account string, criteria DeleteCriteria) error
}

// NopRemote is used when no backup service is configured.
type NopRemote struct{}

func (NopRemote) Save(context.Context, string, []model.Lead, *model.SearchContext) error {
	return nil
}

func (NopRemote) Fetch(context.Context, string, int) (*RemoteSnapshot, error) {
	return nil, nil
}

func (NopRemote) Delete(context.Context, string, DeleteCriteria) error {
	return nil
}

package persist

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// SocialProfiles is the cached social-profile entry for one lead.
type SocialProfiles struct {
	LeadID   string            `json:"lead_id"`
	Profiles map[string]string `json:"profiles"`
	CachedAt time.Time         `json:"cached_at"`
}

// SocialCache stores social profiles discovered by enrichment so outreach
// tooling can read them without the lead set.
type SocialCache struct {
	kv      KeyValueStore
	account string
	nowFunc func() time.Time
}

// NewSocialCache creates a cache over kv scoped to account.
func NewSocialCache(kv KeyValueStore, account string) *SocialCache {
	return &SocialCache{kv: kv, account: account, nowFunc: time.Now}
}

func (c *SocialCache) key(leadID string) string {
	return "social:" + c.account + ":" + leadID
}

// Put merges profiles into the cached entry for leadID. Newer URLs replace
// older ones per platform.
func (c *SocialCache) Put(ctx context.Context, leadID string, profiles map[string]string) error {
	if len(profiles) == 0 {
		return nil
	}
	cur, err := c.Get(ctx, leadID)
	if err != nil {
		return err
	}
	if cur == nil {
		cur = &SocialProfiles{LeadID: leadID, Profiles: make(map[string]string, len(profiles))}
	}
	for platform, url := range profiles {
		cur.Profiles[platform] = url
	}
	cur.CachedAt = c.nowFunc().UTC()
	return eris.Wrap(setJSON(ctx, c.kv, c.key(leadID), cur), "persist: cache social profiles")
}

// Get returns the cached profiles for leadID, or nil.
func (c *SocialCache) Get(ctx context.Context, leadID string) (*SocialProfiles, error) {
	p, err := getJSON[SocialProfiles](ctx, c.kv, c.key(leadID))
	if err != nil {
		return nil, eris.Wrap(err, "persist: read social profiles")
	}
	if p != nil && p.Profiles == nil {
		p.Profiles = make(map[string]string)
	}
	return p, nil
}

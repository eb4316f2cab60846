package cache

import (
	"encoding/json"
	"time"

	"github.com/ppiankov/psyclass/internal/model"
)

// Memo stores validated scores by query
type Memo struct {
	store Cache
	ttl   time.Duration
}

// NewMemo wraps store. A nil store yields a memo that never hits.
func NewMemo(store Cache, ttl time.Duration) *Memo {
	return &Memo{store: store, ttl: ttl}
}

// Lookup returns the scores remembered for q. Entries that no longer
// validate are dropped and reported as misses.
func (m *Memo) Lookup(q model.Query) (model.Scores, bool) {
	if m == nil || m.store == nil {
		return nil, false
	}
	key := CacheKey(q)
	data, ok := m.store.Get(key)
	if !ok {
		return nil, false
	}

	var scores model.Scores
	if err := json.Unmarshal(data, &scores); err != nil || scores.Validate() != nil {
		_ = m.store.Delete(key)
		return nil, false
	}
	return scores, true
}

// Remember stores scores for q
func (m *Memo) Remember(q model.Query, scores model.Scores) error {
	if m == nil || m.store == nil {
		return nil
	}
	data, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	return m.store.Set(CacheKey(q), data, m.ttl)
}

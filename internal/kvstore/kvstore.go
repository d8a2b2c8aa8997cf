// Package kvstore wraps Redis for all ephemeral coordination: send-group
// admission, webhook event dedup, click-burst dedup, the spam-verdict cache
// and the MessageBird rate caches. Everything uses atomic primitives; there
// are no application-level locks.
package kvstore

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	groupTTL = 24 * time.Hour
	eventTTL = 24 * time.Hour
	clickTTL = 60 * time.Second
	spamTTL  = 24 * time.Hour
	ratesTTL = 24 * time.Hour
	mccTTL   = 365 * 24 * time.Hour

	ratesKey = "messagebird-rates"
)

// Store provides the ephemeral key-value operations.
type Store struct {
	rdb *redis.Client
}

// New returns a Store backed by the given Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// AdmitGroup atomically claims the group uid. The first caller wins; any
// later caller within 24h gets admitted=false (duplicate send request).
func (s *Store) AdmitGroup(ctx context.Context, uid string) (bool, error) {
	key := "group:" + uid
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("admit group %s: %w", uid, err)
	}
	if n > 1 {
		return false, nil
	}
	if err := s.rdb.Expire(ctx, key, groupTTL).Err(); err != nil {
		return false, fmt.Errorf("expire group %s: %w", uid, err)
	}
	return true, nil
}

// EventRef computes the dedup key for a webhook event from the provider's
// message id. Extra is serialized with sorted keys so equal events always
// hash identically.
func EventRef(externalID string, ts time.Time, status string, extra map[string]any) string {
	extraJSON, _ := json.Marshal(extra) // encoding/json sorts map keys
	sum := md5.Sum(fmt.Appendf(nil, "%s|%d|%s|%s", externalID, ts.UnixMilli(), status, extraJSON))
	return "event-" + hex.EncodeToString(sum[:])
}

// EventSeen atomically records a webhook event, returning true if this exact
// event was already applied within the last 24h.
func (s *Store) EventSeen(ctx context.Context, ref string) (bool, error) {
	n, err := s.rdb.Incr(ctx, ref).Result()
	if err != nil {
		return false, fmt.Errorf("event dedup %s: %w", ref, err)
	}
	if n > 1 {
		return true, nil
	}
	if err := s.rdb.Expire(ctx, ref, eventTTL).Err(); err != nil {
		return false, fmt.Errorf("expire %s: %w", ref, err)
	}
	return false, nil
}

// ClickSeen atomically records a click on (link, ip), returning true if a
// click from the same pair landed within the last 60s.
func (s *Store) ClickSeen(ctx context.Context, linkID int64, ip string) (bool, error) {
	key := fmt.Sprintf("click-%d-%s", linkID, ip)
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("click dedup %s: %w", key, err)
	}
	if n > 1 {
		return true, nil
	}
	if err := s.rdb.Expire(ctx, key, clickTTL).Err(); err != nil {
		return false, fmt.Errorf("expire %s: %w", key, err)
	}
	return false, nil
}

// SpamVerdict returns the cached classifier verdict for (body, company), or
// "" if none is cached.
func (s *Store) SpamVerdict(ctx context.Context, body, companyCode string) (string, error) {
	val, err := s.rdb.Get(ctx, spamKey(body, companyCode)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("spam verdict: %w", err)
	}
	return val, nil
}

// SetSpamVerdict caches a classifier verdict for 24h.
func (s *Store) SetSpamVerdict(ctx context.Context, body, companyCode, verdict string) error {
	return s.rdb.SetEx(ctx, spamKey(body, companyCode), verdict, spamTTL).Err()
}

func spamKey(body, companyCode string) string {
	sum := sha256.Sum256([]byte(body))
	return fmt.Sprintf("spam_content:%s:%s", hex.EncodeToString(sum[:]), companyCode)
}

// SetRates replaces the per-MCC SMS rate table and resets its 24h TTL.
func (s *Store) SetRates(ctx context.Context, rates map[string]string) error {
	if len(rates) == 0 {
		return nil
	}
	if err := s.rdb.HSet(ctx, ratesKey, rates).Err(); err != nil {
		return fmt.Errorf("set rates: %w", err)
	}
	return s.rdb.Expire(ctx, ratesKey, ratesTTL).Err()
}

// Rate returns the cached rate for the given MCC. found=false means either
// the MCC is unknown or the table has expired.
func (s *Store) Rate(ctx context.Context, mcc string) (string, bool, error) {
	val, err := s.rdb.HGet(ctx, ratesKey, mcc).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rate %s: %w", mcc, err)
	}
	return val, true, nil
}

// HasRates reports whether the rate table is present at all.
func (s *Store) HasRates(ctx context.Context) (bool, error) {
	n, err := s.rdb.Exists(ctx, ratesKey).Result()
	if err != nil {
		return false, fmt.Errorf("rates exists: %w", err)
	}
	return n > 0, nil
}

// CountryMCC returns the cached mobile-country-code for an ISO country code.
func (s *Store) CountryMCC(ctx context.Context, cc string) (string, error) {
	val, err := s.rdb.Get(ctx, "messagebird-cc:"+cc).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("country mcc %s: %w", cc, err)
	}
	return val, nil
}

// SetCountryMCC caches the MCC for a country for a year. Country→MCC is a
// stable mapping, an HLR lookup per country per year is plenty.
func (s *Store) SetCountryMCC(ctx context.Context, cc, mcc string) error {
	return s.rdb.SetEx(ctx, "messagebird-cc:"+cc, mcc, mccTTL).Err()
}

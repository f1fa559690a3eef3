package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
)

// Entitlement is the subscription state consulted by permission-adjacent
// checks. This core only reads it; billing logic lives elsewhere.
type Entitlement struct {
	Tier        string    `json:"tier"`
	Active      bool      `json:"active"`
	Trialing    bool      `json:"trialing"`
	LastChecked time.Time `json:"last_checked"`
	Offline     bool      `json:"offline"`
}

type Config struct {
	SecretKey       string
	RefreshInterval time.Duration
}

type cached struct {
	ent       Entitlement
	fetchedAt time.Time
}

// Client looks up entitlement by billing customer id. Results are cached
// briefly to spare the billing API, but the cache is advisory: it is
// refreshed on interval and a lookup failure falls back to the last-known
// state flagged Offline rather than inventing one.
type Client struct {
	mu    sync.RWMutex
	cfg   Config
	cache map[string]cached
}

func NewClient(cfg Config) *Client {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg, cache: make(map[string]cached)}
}

// Configured returns true if the secret key is set. Unconfigured clients
// report a free tier for every lookup.
func (c *Client) Configured() bool {
	return c.cfg.SecretKey != ""
}

// Lookup returns the entitlement for a billing customer id.
func (c *Client) Lookup(ctx context.Context, customerID string) (Entitlement, error) {
	if !c.Configured() || customerID == "" {
		return Entitlement{Tier: "free", LastChecked: time.Now().UTC()}, nil
	}

	c.mu.RLock()
	entry, ok := c.cache[customerID]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.cfg.RefreshInterval {
		return entry.ent, nil
	}

	ent, err := c.fetch(ctx, customerID)
	if err != nil {
		if ok {
			// Keep serving the last-known state, marked stale.
			stale := entry.ent
			stale.Offline = true
			return stale, nil
		}
		return Entitlement{}, err
	}

	c.mu.Lock()
	c.cache[customerID] = cached{ent: ent, fetchedAt: time.Now()}
	c.mu.Unlock()
	return ent, nil
}

func (c *Client) fetch(ctx context.Context, customerID string) (Entitlement, error) {
	var ent Entitlement

	backoff := retry.WithMaxRetries(3, retry.NewExponential(300*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
		}
		params.Limit = stripe.Int64(1)

		iter := subscription.List(params)
		ent = Entitlement{Tier: "free", LastChecked: time.Now().UTC()}
		for iter.Next() {
			sub := iter.Subscription()
			switch sub.Status {
			case stripe.SubscriptionStatusActive:
				ent.Active = true
			case stripe.SubscriptionStatusTrialing:
				ent.Active = true
				ent.Trialing = true
			default:
				continue
			}
			if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
				ent.Tier = sub.Items.Data[0].Price.LookupKey
			}
			if ent.Tier == "" || ent.Tier == "free" {
				ent.Tier = "pro"
			}
			break
		}
		if err := iter.Err(); err != nil {
			return retry.RetryableError(fmt.Errorf("list subscriptions: %w", err))
		}
		return nil
	})
	if err != nil {
		return Entitlement{}, err
	}
	return ent, nil
}

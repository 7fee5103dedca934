package directory

import (
	"context"
	"slices"
	"time"

	"github.com/clinicops/clinic-portal/internal/cache"
	"github.com/clinicops/clinic-portal/internal/crm"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const listingKey = "insurance-providers"

// DefaultTTL is how long a fetched provider list is served.
const DefaultTTL = time.Hour

// Listing is the cached form of the active provider list.
type Listing struct {
	Providers []crm.InsuranceProvider `json:"providers"`
	FetchedAt time.Time               `json:"fetchedAt"`
}

// ProviderSource fetches the complete provider list from the CRM.
type ProviderSource interface {
	InsuranceProviders(ctx context.Context) ([]crm.InsuranceProvider, error)
}

// Insurers serves the active insurance providers, sorted by name, from a
// cache refreshed from the CRM once the TTL has passed. A refresh failure is
// returned to the caller: an expired list is never served.
type Insurers struct {
	source ProviderSource
	cache  cache.Cache[Listing]
	ttl    time.Duration
	now    func() time.Time
	tag    language.Tag
}

type Option func(*Insurers)

func WithClock(now func() time.Time) Option {
	return func(i *Insurers) {
		i.now = now
	}
}

// WithCollation sets the language whose collation orders provider names.
func WithCollation(tag language.Tag) Option {
	return func(i *Insurers) {
		i.tag = tag
	}
}

func NewInsurers(source ProviderSource, listingCache cache.Cache[Listing], ttl time.Duration, opts ...Option) *Insurers {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	i := &Insurers{
		source: source,
		cache:  listingCache,
		ttl:    ttl,
		now:    time.Now,
		tag:    language.BrazilianPortuguese,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// ListActive returns the active providers sorted by name.
func (i *Insurers) ListActive(ctx context.Context) ([]crm.InsuranceProvider, error) {
	listing, found, err := i.cache.Get(ctx, listingKey)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("insurer cache read failed, fetching from CRM")
		found = false
	}

	if found && i.fresh(listing) {
		return slices.Clone(listing.Providers), nil
	}

	all, err := i.source.InsuranceProviders(ctx)
	if err != nil {
		return nil, err
	}

	active := i.activeSorted(all)

	// an empty list is served but never cached
	if len(active) > 0 {
		listing = Listing{Providers: active, FetchedAt: i.now()}
		if err := i.cache.Set(ctx, listingKey, listing); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("insurer cache write failed")
		}
	}

	log.Ctx(ctx).Debug().
		Int("fetched", len(all)).
		Int("active", len(active)).
		Msg("insurance providers refreshed")

	return slices.Clone(active), nil
}

func (i *Insurers) fresh(listing Listing) bool {
	return len(listing.Providers) > 0 && i.now().Sub(listing.FetchedAt) < i.ttl
}

// activeSorted filters to active providers and orders them by name. A
// collator is not safe for concurrent use, so one is built per call.
func (i *Insurers) activeSorted(all []crm.InsuranceProvider) []crm.InsuranceProvider {
	active := make([]crm.InsuranceProvider, 0, len(all))
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}

	collator := collate.New(i.tag)
	slices.SortStableFunc(active, func(a, b crm.InsuranceProvider) int {
		return collator.CompareString(a.Name, b.Name)
	})

	return active
}

package seeder

import "rental-sync/internal/domain/market"

func Defaults() []Seeder {
	return []Seeder{
		MarketsSeeder{Markets: DefaultMarkets()},
	}
}

func DefaultMarkets() []market.Market {
	return []market.Market{
		{Slug: "austin", DisplayName: "Austin, TX", City: "Austin", State: "TX"},
		{Slug: "denver", DisplayName: "Denver, CO", City: "Denver", State: "CO"},
		{Slug: "nashville", DisplayName: "Nashville, TN", City: "Nashville", State: "TN"},
		{Slug: "phoenix", DisplayName: "Phoenix, AZ", City: "Phoenix", State: "AZ"},
		{Slug: "springfield", DisplayName: "Springfield, IL", City: "Springfield", State: "IL"},
	}
}

// Package domain models the daily epidemiological reports and the dense
// entity × date panel assembled from them.
//
// # Data Sources
//
// Three inputs feed one assembly run:
//
//   - The primary feed, a daily workbook of per-country new cases and new
//     deaths published under a dated URL. Only entity/date pairs with
//     reported activity appear, so the feed is sparse.
//   - The entity-code table (ISO 3166-1), the authoritative list of
//     entities that must exist in the panel whether or not they reported.
//   - The region table, mapping an ISO alpha-3 code to a continent and up
//     to two sub-region labels.
//
// # Feed Conventions
//
// Workbook columns, in order:
//
//	dateRep, day, month, year, cases, deaths, countriesAndTerritories,
//	geoId, countryterritoryCode, popData, [continentExp]
//
// Display names are underscore-joined in the source ("United_States_of_America")
// and are rendered with spaces in the panel. Long codes (ISO alpha-3) are
// blank for a few non-country rows such as cruise ships; those rows cannot be
// placed in the panel. Population is blank when unknown. Daily counts can be
// negative when the publisher corrects an earlier over-count.
//
// # Panel Invariants
//
//   - Every entity of the entity-code table has exactly one row for every
//     date in [min(dateRep), max(dateRep)].
//   - Cumulative columns are running sums of the daily counts and so are
//     non-decreasing whenever the daily counts are non-negative.
//   - mortality_rate is 0 wherever cumulative cases is 0, never null.
//   - Growth rates are null on the first date, on each entity's first row,
//     and wherever the previous cumulative value was zero.
//   - Fractions of population are null when population is unknown.
package domain

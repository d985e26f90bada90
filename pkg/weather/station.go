// Package weather provides the city/station registry, provider clients
// for NWS and Open-Meteo, and the multi-source forecast consensus.
package weather

import (
	"strings"
	"time"
)

// ET is the fixed settlement timezone. Kalshi temperature markets settle
// on a UTC-5 clock year round, ignoring daylight saving.
var ET = time.FixedZone("ET", -5*3600)

// NowET returns the current time on the settlement clock.
func NowET() time.Time {
	return time.Now().In(ET)
}

// HourET returns the settlement-clock hour for a time.
func HourET(t time.Time) int {
	return t.In(ET).Hour()
}

// DateET returns the settlement-clock date key (YYYY-MM-DD) for a time.
func DateET(t time.Time) string {
	return t.In(ET).Format("2006-01-02")
}

// MarketType distinguishes daily-high from daily-low markets.
type MarketType string

const (
	MarketHigh MarketType = "high"
	MarketLow  MarketType = "low"
)

// City binds a settlement station, its cross-check stations, and the
// Kalshi series for both market types.
type City struct {
	Code        string   // Short code (NYC, MIA, ...)
	Name        string   // Display name
	Primary     string   // Settlement METAR station
	Surrounding []string // Nearby stations for the area cross-check

	Lat float64
	Lon float64

	HighSeries string // Kalshi series for daily-high markets
	LowSeries  string // Kalshi series for daily-low markets, empty if none

	// Model calibration. Biases are added to the raw forecast; StdFloor
	// is the minimum spread of the temperature estimate.
	HighBias float64
	LowBias  float64
	StdFloor float64
}

// DefaultCities is the registry of traded cities.
var DefaultCities = map[string]*City{
	"NYC": {
		Code: "NYC", Name: "New York",
		Primary:     "KNYC",
		Surrounding: []string{"KLGA", "KJFK", "KEWR"},
		Lat:         40.7128, Lon: -74.0060,
		HighSeries: "KXHIGHNY", LowSeries: "KXLOWTNYC",
		HighBias: 3.0, LowBias: -4.0, StdFloor: 3.5,
	},
	"PHI": {
		Code: "PHI", Name: "Philadelphia",
		Primary:     "KPHL",
		Surrounding: []string{"KPNE", "KILG"},
		Lat:         39.9526, Lon: -75.1652,
		HighSeries: "KXHIGHPHIL", LowSeries: "KXLOWTPHIL",
		StdFloor: 2.5,
	},
	"MIA": {
		Code: "MIA", Name: "Miami",
		Primary:     "KMIA",
		Surrounding: []string{"KFLL", "KHWO", "KOPF"},
		Lat:         25.7617, Lon: -80.1918,
		HighSeries: "KXHIGHMIA", LowSeries: "KXLOWTMIA",
		HighBias: 5.0, LowBias: -6.0, StdFloor: 4.5,
	},
	"BOS": {
		Code: "BOS", Name: "Boston",
		Primary:     "KBOS",
		Surrounding: []string{"KOWD", "KBED"},
		Lat:         42.3601, Lon: -71.0589,
		HighSeries: "KXHIGHTBOS",
		StdFloor:   2.5,
	},
	"DC": {
		Code: "DC", Name: "Washington",
		Primary:     "KDCA",
		Surrounding: []string{"KIAD", "KADW"},
		Lat:         38.9072, Lon: -77.0369,
		HighSeries: "KXHIGHTDC",
		StdFloor:   3.5,
	},
	"ATL": {
		Code: "ATL", Name: "Atlanta",
		Primary:     "KATL",
		Surrounding: []string{"KFTY", "KPDK"},
		Lat:         33.7490, Lon: -84.3880,
		HighSeries: "KXHIGHTATL",
		HighBias:   5.0, StdFloor: 5.0,
	},
}

// GetCity returns a city by code.
func GetCity(code string) *City {
	return DefaultCities[code]
}

// CityBySeries returns the city and market type owning a Kalshi series.
func CityBySeries(series string) (*City, MarketType) {
	for _, c := range DefaultCities {
		if c.HighSeries == series {
			return c, MarketHigh
		}
		if c.LowSeries != "" && c.LowSeries == series {
			return c, MarketLow
		}
	}
	return nil, ""
}

// CityByEventTicker resolves an event ticker like KXHIGHNY-26FEB15.
func CityByEventTicker(eventTicker string) (*City, MarketType) {
	i := strings.Index(eventTicker, "-")
	if i < 0 {
		return CityBySeries(eventTicker)
	}
	return CityBySeries(eventTicker[:i])
}

// AllCities returns all registered cities.
func AllCities() []*City {
	result := make([]*City, 0, len(DefaultCities))
	for _, c := range DefaultCities {
		result = append(result, c)
	}
	return result
}

// Stations returns the settlement station plus the surrounding ones.
func (c *City) Stations() []string {
	return append([]string{c.Primary}, c.Surrounding...)
}

// HasLowMarket reports whether the city trades a daily-low series.
func (c *City) HasLowMarket() bool {
	return c.LowSeries != ""
}

// Series returns the Kalshi series for a market type.
func (c *City) Series(mt MarketType) string {
	if mt == MarketLow {
		return c.LowSeries
	}
	return c.HighSeries
}

// EventTicker builds the event ticker for a market type and date,
// e.g. KXHIGHNY-26FEB15.
func (c *City) EventTicker(mt MarketType, date time.Time) string {
	series := c.Series(mt)
	if series == "" {
		return ""
	}
	return series + "-" + strings.ToUpper(date.In(ET).Format("06Jan02"))
}

package weather

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
)

const nwsBaseURL = "https://api.weather.gov"

// Observation is a single station observation, converted to trading
// units. City and IsPrimary are stamped by the collector, which knows
// which city's pass fetched the station.
type Observation struct {
	Station    string
	City       string
	IsPrimary  bool
	Time       time.Time
	TempF      float64
	Humidity   float64 // relative humidity, percent
	WindMPH    float64
	WindDirDeg float64
	PressureMB float64
	SkyCover   string // METAR sky group: CLR, FEW, SCT, BKN, OVC
	Text       string
}

// ForecastPeriod is one NWS forecast period.
type ForecastPeriod struct {
	Name      string
	StartTime time.Time
	IsDaytime bool
	TempF     float64
	Short     string
}

// NWSClient talks to the National Weather Service API.
type NWSClient struct {
	http *resty.Client
}

// NewNWSClient creates an NWS client. Transient failures are retried
// once with backoff before surfacing.
func NewNWSClient() *NWSClient {
	client := resty.New().
		SetBaseURL(nwsBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(2 * time.Second).
		SetHeader("User-Agent", "weathertrader (contact: ops@weathertrader.dev)").
		SetHeader("Accept", "application/geo+json")
	return &NWSClient{http: client}
}

type nwsObservationResponse struct {
	Properties struct {
		Timestamp   time.Time `json:"timestamp"`
		Temperature struct {
			Value *float64 `json:"value"`
		} `json:"temperature"`
		RelativeHumidity struct {
			Value *float64 `json:"value"`
		} `json:"relativeHumidity"`
		WindSpeed struct {
			Value *float64 `json:"value"`
		} `json:"windSpeed"`
		WindDirection struct {
			Value *float64 `json:"value"`
		} `json:"windDirection"`
		BarometricPressure struct {
			Value *float64 `json:"value"`
		} `json:"barometricPressure"`
		TextDescription string `json:"textDescription"`
		CloudLayers     []struct {
			Amount string `json:"amount"`
		} `json:"cloudLayers"`
	} `json:"properties"`
}

// LatestObservation fetches the most recent observation for a station.
func (c *NWSClient) LatestObservation(ctx context.Context, station string) (*Observation, error) {
	var body nwsObservationResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("/stations/%s/observations/latest", station))
	if err != nil {
		return nil, fmt.Errorf("fetch observation %s: %w", station, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch observation %s: status %d", station, resp.StatusCode())
	}

	p := body.Properties
	if p.Temperature.Value == nil {
		return nil, fmt.Errorf("observation %s: no temperature", station)
	}

	obs := &Observation{
		Station: station,
		Time:    p.Timestamp,
		TempF:   CToF(*p.Temperature.Value),
		Text:    p.TextDescription,
	}
	if p.RelativeHumidity.Value != nil {
		obs.Humidity = *p.RelativeHumidity.Value
	}
	if p.WindSpeed.Value != nil {
		obs.WindMPH = KMHToMPH(*p.WindSpeed.Value)
	}
	if p.WindDirection.Value != nil {
		obs.WindDirDeg = *p.WindDirection.Value
	}
	if p.BarometricPressure.Value != nil {
		obs.PressureMB = PaToMB(*p.BarometricPressure.Value)
	}
	if len(p.CloudLayers) > 0 {
		obs.SkyCover = p.CloudLayers[0].Amount
	}

	return obs, nil
}

type nwsPointsResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type nwsForecastResponse struct {
	Properties struct {
		Periods []struct {
			Name          string    `json:"name"`
			StartTime     time.Time `json:"startTime"`
			IsDaytime     bool      `json:"isDaytime"`
			Temperature   float64   `json:"temperature"`
			ShortForecast string    `json:"shortForecast"`
		} `json:"periods"`
	} `json:"properties"`
}

// Forecast fetches the period forecast for a point. The points endpoint
// resolves the gridpoint forecast URL, which is then fetched directly.
func (c *NWSClient) Forecast(ctx context.Context, lat, lon float64) ([]ForecastPeriod, error) {
	var points nwsPointsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&points).
		Get(fmt.Sprintf("/points/%.4f,%.4f", lat, lon))
	if err != nil {
		return nil, fmt.Errorf("resolve gridpoint: %w", err)
	}
	if resp.IsError() || points.Properties.Forecast == "" {
		return nil, fmt.Errorf("resolve gridpoint: status %d", resp.StatusCode())
	}

	var forecast nwsForecastResponse
	resp, err = c.http.R().
		SetContext(ctx).
		SetResult(&forecast).
		Get(points.Properties.Forecast)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch forecast: status %d", resp.StatusCode())
	}

	periods := make([]ForecastPeriod, 0, len(forecast.Properties.Periods))
	for _, p := range forecast.Properties.Periods {
		periods = append(periods, ForecastPeriod{
			Name:      p.Name,
			StartTime: p.StartTime,
			IsDaytime: p.IsDaytime,
			TempF:     p.Temperature,
			Short:     p.ShortForecast,
		})
	}
	return periods, nil
}

// TomorrowOutlook scans the early forecast periods for tomorrow's
// daytime high and overnight low on the settlement calendar.
func (c *NWSClient) TomorrowOutlook(ctx context.Context, city *City) (high, low float64, err error) {
	periods, err := c.Forecast(ctx, city.Lat, city.Lon)
	if err != nil {
		return 0, 0, err
	}

	tomorrow := NowET().AddDate(0, 0, 1).Format("2006-01-02")
	if len(periods) > 8 {
		periods = periods[:8]
	}

	var haveHigh, haveLow bool
	for _, p := range periods {
		if DateET(p.StartTime) != tomorrow {
			continue
		}
		if p.IsDaytime && !haveHigh {
			high, haveHigh = p.TempF, true
		}
		if !p.IsDaytime && !haveLow {
			low, haveLow = p.TempF, true
		}
	}
	if !haveHigh && !haveLow {
		return 0, 0, fmt.Errorf("no forecast periods for %s", tomorrow)
	}
	return high, low, nil
}

// CToF converts Celsius to Fahrenheit, rounded to one decimal.
func CToF(c float64) float64 {
	return math.Round((c*9/5+32)*10) / 10
}

// KMHToMPH converts kilometers per hour to miles per hour.
func KMHToMPH(kmh float64) float64 {
	return kmh * 0.621371
}

// PaToMB converts Pascals to millibars.
func PaToMB(pa float64) float64 {
	return pa / 100
}

package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const openMeteoBaseURL = "https://api.open-meteo.com"

// OpenMeteoClient fetches daily forecasts from Open-Meteo. It is the
// second consensus source next to NWS and needs no API key.
type OpenMeteoClient struct {
	http *resty.Client
}

// NewOpenMeteoClient creates an Open-Meteo client.
func NewOpenMeteoClient() *OpenMeteoClient {
	client := resty.New().
		SetBaseURL(openMeteoBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(2 * time.Second)
	return &OpenMeteoClient{http: client}
}

type openMeteoResponse struct {
	Daily struct {
		Time    []string  `json:"time"`
		TempMax []float64 `json:"temperature_2m_max"`
		TempMin []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// TomorrowOutlook fetches tomorrow's forecast high and low for a point.
// Index 0 is today, index 1 tomorrow.
func (c *OpenMeteoClient) TomorrowOutlook(ctx context.Context, city *City) (high, low float64, err error) {
	var body openMeteoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		SetQueryParams(map[string]string{
			"latitude":         fmt.Sprintf("%.4f", city.Lat),
			"longitude":        fmt.Sprintf("%.4f", city.Lon),
			"daily":            "temperature_2m_max,temperature_2m_min",
			"temperature_unit": "fahrenheit",
			"timezone":         "America/New_York",
			"forecast_days":    "2",
		}).
		Get("/v1/forecast")
	if err != nil {
		return 0, 0, fmt.Errorf("fetch open-meteo: %w", err)
	}
	if resp.IsError() {
		return 0, 0, fmt.Errorf("fetch open-meteo: status %d", resp.StatusCode())
	}

	if len(body.Daily.TempMax) < 2 || len(body.Daily.TempMin) < 2 {
		return 0, 0, fmt.Errorf("open-meteo: missing tomorrow for %s", city.Code)
	}
	return body.Daily.TempMax[1], body.Daily.TempMin[1], nil
}

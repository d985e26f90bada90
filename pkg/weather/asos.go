package weather

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const asosBaseURL = "https://mesonet.agron.iastate.edu"

// DayExtremes holds the observed extremes for one station-day.
type DayExtremes struct {
	Station string
	Date    string // Settlement-clock date key
	High    float64
	HighAt  time.Time
	Low     float64
	LowAt   time.Time
	Count   int
}

// ASOSClient fetches historical METAR temperatures from the Iowa State
// archive. Used to backfill daily extremes after collector downtime.
type ASOSClient struct {
	http *resty.Client
}

// NewASOSClient creates an ASOS archive client.
func NewASOSClient() *ASOSClient {
	client := resty.New().
		SetBaseURL(asosBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(2 * time.Second)
	return &ASOSClient{http: client}
}

// DayExtremes fetches all observations for a station on a settlement-clock
// day and reduces them to the running extremes.
func (c *ASOSClient) DayExtremes(ctx context.Context, station string, date time.Time) (*DayExtremes, error) {
	// The archive indexes stations without the ICAO 'K' prefix.
	code := station
	if len(code) > 1 && code[0] == 'K' {
		code = code[1:]
	}

	day := date.In(ET)
	next := day.AddDate(0, 0, 1)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"station": code,
			"data":    "tmpf",
			"year1":   strconv.Itoa(day.Year()),
			"month1":  strconv.Itoa(int(day.Month())),
			"day1":    strconv.Itoa(day.Day()),
			"year2":   strconv.Itoa(next.Year()),
			"month2":  strconv.Itoa(int(next.Month())),
			"day2":    strconv.Itoa(next.Day()),
			"tz":      "Etc/GMT+5",
			"format":  "onlycomma",
			"latlon":  "no",
			"elev":    "no",
			"missing": "M",
			"trace":   "T",
			"direct":  "no",
			"report_type": "3",
		}).
		Get("/cgi-bin/request/asos.py")
	if err != nil {
		return nil, fmt.Errorf("fetch asos %s: %w", station, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch asos %s: status %d", station, resp.StatusCode())
	}

	return parseASOSExtremes(station, DateET(day), resp.String())
}

func parseASOSExtremes(station, dateKey, data string) (*DayExtremes, error) {
	code := station
	if len(code) > 1 && code[0] == 'K' {
		code = code[1:]
	}

	result := &DayExtremes{Station: station, Date: dateKey, High: -999, Low: 999}

	for _, line := range strings.Split(data, "\n") {
		if !strings.HasPrefix(line, code+",") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}

		t, err := time.ParseInLocation("2006-01-02 15:04", parts[1], ET)
		if err != nil {
			continue
		}
		temp, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			continue
		}

		result.Count++
		if temp > result.High {
			result.High, result.HighAt = temp, t
		}
		if temp < result.Low {
			result.Low, result.LowAt = temp, t
		}
	}

	if result.Count == 0 {
		return nil, fmt.Errorf("no asos data for %s on %s", station, dateKey)
	}
	return result, nil
}

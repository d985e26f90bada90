package weather

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleASOS = `station,valid,tmpf
NYC,2026-02-15 00:51,31.0
NYC,2026-02-15 06:51,28.0
NYC,2026-02-15 13:51,36.0
NYC,2026-02-15 14:51,37.9
NYC,2026-02-15 20:51,M
LGA,2026-02-15 14:51,39.0
NYC,2026-02-15 23:51,33.1
`

func TestParseASOSExtremes(t *testing.T) {
	ext, err := parseASOSExtremes("KNYC", "2026-02-15", sampleASOS)
	require.NoError(t, err)

	require.Equal(t, "KNYC", ext.Station)
	require.Equal(t, 5, ext.Count, "missing values and other stations are skipped")
	require.InDelta(t, 37.9, ext.High, 1e-9)
	require.InDelta(t, 28.0, ext.Low, 1e-9)
	require.Equal(t, 14, ext.HighAt.Hour())
	require.Equal(t, 6, ext.LowAt.Hour())
}

func TestParseASOSExtremes_NoData(t *testing.T) {
	_, err := parseASOSExtremes("KNYC", "2026-02-15", "station,valid,tmpf\n")
	require.Error(t, err)
}

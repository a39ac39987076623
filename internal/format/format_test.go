package format_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/notifica/internal/format"
	"github.com/stretchr/testify/require"
)

func TestDateFormatting(t *testing.T) {
	ts := time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC)

	// 02:30 UTC is still the previous evening in Brasilia.
	require.Equal(t, "09/03/2025", format.Date(ts))
	require.Equal(t, "09/03/2025 23:30", format.DateTime(ts))
	require.Equal(t, "2025-03-09", format.ISODate(ts))
	require.Equal(t, format.NotAvailable, format.Date(time.Time{}))
}

func TestParseBirthDate(t *testing.T) {
	cases := map[string]string{
		"15-03-2005": "2005-03-15",
		"15/03/2005": "2005-03-15",
		"2005-03-15": "2005-03-15",
	}
	for in, want := range cases {
		got, err := format.ParseBirthDate(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}

	_, err := format.ParseBirthDate("31-02-2005")
	require.Error(t, err)
	_, err = format.ParseBirthDate("2005/03/15")
	require.Error(t, err)
}

func TestParseLocalDateTime(t *testing.T) {
	got, err := format.ParseLocalDateTime("2025-03-09T23:30")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC), got.UTC())
}

func TestPhone(t *testing.T) {
	require.Equal(t, "+55 (81) 99999-8888", format.Phone("5581999998888"))
	require.Equal(t, "(81) 99999-8888", format.Phone("(81) 99999-8888"))
	require.Equal(t, format.NotAvailable, format.Phone(""))

	require.True(t, format.ValidPhone("(81) 99999-8888"))
	require.True(t, format.ValidPhone("+55 81 99999-8888"))
	require.False(t, format.ValidPhone("9999-8888"))
}

func TestSlug(t *testing.T) {
	require.Equal(t, "media", format.Slug("Média"))
	require.Equal(t, "grave", format.Slug(" Grave "))
	require.Equal(t, "acao", format.Slug("Ação"))
}

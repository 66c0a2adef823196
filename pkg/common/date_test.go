package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dp(y, m, d int) *Date {
	return &Date{Year: y, Month: m, Day: d}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want Date
		prec Precision
	}{
		{"1815", Date{Year: 1815}, PrecisionYear},
		{"1815-12", Date{Year: 1815, Month: 12}, PrecisionMonth},
		{"1815-12-23", Date{Year: 1815, Month: 12, Day: 23}, PrecisionDay},
		{"-0044-03-15", Date{Year: -44, Month: 3, Day: 15}, PrecisionDay},
		{" 2000-02-29 ", Date{Year: 2000, Month: 2, Day: 29}, PrecisionDay},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.prec, got.Precision())
		})
	}

	for _, bad := range []string{"", "abc", "1815-00", "1815-13", "1815-02-30", "1900-02-29", "1815-01-01-01", "1815-01-00", "0000", "0000-03"} {
		_, err := ParseDate(bad)
		assert.Error(t, err, bad)
	}
}

func TestDateString(t *testing.T) {
	assert.Equal(t, "0987", Date{Year: 987}.String())
	assert.Equal(t, "-0044-03-15", Date{Year: -44, Month: 3, Day: 15}.String())
	assert.Equal(t, "1815-06", Date{Year: 1815, Month: 6}.String())

	for _, s := range []string{"1815", "1815-06", "1815-06-18", "-0500"} {
		d, err := ParseDate(s)
		require.NoError(t, err)
		assert.Equal(t, s, d.String())
	}
}

func TestCompatible(t *testing.T) {
	assert.True(t, Compatible(Date{Year: 1815}, Date{Year: 1815, Month: 12, Day: 23}))
	assert.True(t, Compatible(Date{Year: 1815, Month: 12}, Date{Year: 1815, Month: 12, Day: 23}))
	assert.False(t, Compatible(Date{Year: 1815, Month: 11}, Date{Year: 1815, Month: 12, Day: 23}))
	assert.False(t, Compatible(Date{Year: 1815}, Date{Year: 1816}))
}

func TestShouldUpgrade(t *testing.T) {
	tests := []struct {
		name     string
		existing *Date
		incoming *Date
		want     bool
	}{
		{"year to day", dp(1815, 0, 0), dp(1815, 12, 23), true},
		{"year to month", dp(1815, 0, 0), dp(1815, 12, 0), true},
		{"month to day", dp(1815, 12, 0), dp(1815, 12, 23), true},
		{"day to year", dp(1815, 12, 23), dp(1815, 0, 0), false},
		{"equal", dp(1815, 12, 23), dp(1815, 12, 23), false},
		{"other year", dp(1815, 0, 0), dp(1816, 3, 1), false},
		{"conflicting month", dp(1815, 11, 0), dp(1815, 12, 23), false},
		{"suspect jan first", dp(1815, 1, 1), dp(1815, 12, 23), true},
		{"suspect jan first to year", dp(1815, 1, 1), dp(1815, 0, 0), true},
		{"suspect jan first other year", dp(1815, 1, 1), dp(1816, 12, 23), false},
		{"nil existing", nil, dp(1815, 0, 0), false},
		{"nil incoming", dp(1815, 0, 0), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldUpgrade(tt.existing, tt.incoming))
		})
	}
}

func TestUpgradeDate_PrecisionNeverDecreases(t *testing.T) {
	values := []*Date{
		dp(1815, 0, 0), dp(1815, 12, 0), dp(1815, 12, 23), dp(1815, 11, 0),
		dp(1815, 1, 1), dp(1815, 1, 0), dp(1816, 0, 0), dp(1815, 2, 14),
	}
	for _, a := range values {
		for _, b := range values {
			got, _ := UpgradeDate(a, b)
			if a.IsSuspectJanFirst() {
				continue
			}
			assert.GreaterOrEqual(t, got.Precision(), a.Precision(), "%s then %s", a, b)
		}
	}

	got, changed := UpgradeDate(nil, dp(1815, 0, 0))
	assert.True(t, changed)
	assert.Equal(t, dp(1815, 0, 0), got)

	in := dp(1815, 12, 23)
	got, _ = UpgradeDate(dp(1815, 0, 0), in)
	in.Day = 1
	assert.Equal(t, 23, got.Day, "result must not alias incoming")
}

func TestDateWithoutYear(t *testing.T) {
	assert.True(t, Date{}.IsZero())
	assert.False(t, Date{Year: -1}.IsZero())

	assert.Error(t, Date{Month: 3}.Validate())
	assert.Error(t, Date{Month: 3, Day: 12}.Validate())
	assert.NoError(t, Date{Year: -1, Month: 3}.Validate())

	assert.Nil(t, NormalizeDate(nil))
	assert.Nil(t, NormalizeDate(&Date{}))
	assert.Equal(t, dp(0, 3, 0), NormalizeDate(dp(0, 3, 0)))

	assert.Equal(t, StatePlaceholder, DeriveState(&Date{}))
	assert.Equal(t, StateComplete, DeriveState(dp(1815, 0, 0)))
}

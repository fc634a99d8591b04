package protection

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dayrunner/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// §8 scenario 1: trailing-stop ladder for long AAPL.
func TestTrailingStopTarget_LadderScenario(t *testing.T) {
	entry := dec("100.00")
	risk := dec("2.00")

	cases := []struct {
		r    float64
		want string
	}{
		{0.25, ""},
		{1.0, "100.00"},
		{1.75, "101.00"},
		{2.25, "102.00"},
		{3.25, "103.00"},
		{4.25, "104.00"},
	}

	for _, c := range cases {
		target, ok := trailingStopTarget(models.SideLong, entry, risk, c.r)
		if c.want == "" {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		require.True(t, target.Equal(dec(c.want)), "r=%v got %v want %v", c.r, target, c.want)
	}
}

func TestTrailingStopTarget_ShortMirrored(t *testing.T) {
	entry := dec("30.00")
	risk := dec("1.00")

	target, ok := trailingStopTarget(models.SideShort, entry, risk, 2.5)
	require.True(t, ok)
	require.True(t, target.Equal(dec("29.00")))
}

func TestDefaultSchedule_SumsToOriginal(t *testing.T) {
	sched := DefaultSchedule()
	sum := decimal.Zero
	for _, m := range sched.Milestones {
		sum = sum.Add(m.Fraction)
	}
	require.True(t, sum.Equal(decimal.NewFromFloat(1.0)))
}

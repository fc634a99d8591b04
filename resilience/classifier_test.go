package resilience

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultClassifier_ClassifiesKnownIndicators(t *testing.T) {
	class, severity := DefaultClassifier.Classify("403 Forbidden: unauthorized")
	require.Equal(t, ClassPermanent, class)
	require.Equal(t, SeverityHigh, severity)

	class, severity = DefaultClassifier.Classify("upstream returned 503")
	require.Equal(t, ClassTransient, class)
	require.Equal(t, SeverityMedium, severity)
}

func TestDefaultClassifier_UnknownIsAmbiguousLow(t *testing.T) {
	class, severity := DefaultClassifier.Classify("something totally unexpected happened")
	require.Equal(t, ClassAmbiguous, class)
	require.Equal(t, SeverityLow, severity)
}

func TestIsCancelRace(t *testing.T) {
	require.True(t, IsCancelRace("error: cannot cancel filled order 123"))
	require.False(t, IsCancelRace("order not found"))
}

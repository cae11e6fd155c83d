package estimator

import "testing"

func TestZScore_KnownConfidenceLevels(t *testing.T) {
	tests := []struct {
		confidence float64
		want       float64
	}{
		{0.90, 1.6448536269514722},
		{0.95, 1.959963984540054},
		{0.99, 2.5758293035489004},
		{0.42, 1.959963984540054}, // unrecognized level falls back to 95%
	}

	for _, tt := range tests {
		if got := ZScore(tt.confidence); got != tt.want {
			t.Errorf("ZScore(%v) = %v, want %v", tt.confidence, got, tt.want)
		}
	}
}

func TestSumCI_ScalesEstimateByInverseFraction(t *testing.T) {
	ci := SumCI(1000, 4.0, 100, 0.1, 0.95)
	if want := 10000.0; ci.Estimate != want {
		t.Errorf("Estimate = %v, want %v", ci.Estimate, want)
	}
	if ci.Lower >= ci.Estimate || ci.Upper <= ci.Estimate {
		t.Errorf("CI [%v, %v] does not bracket estimate %v", ci.Lower, ci.Upper, ci.Estimate)
	}
	if ci.RelativeError <= 0 {
		t.Errorf("RelativeError = %v, want > 0", ci.RelativeError)
	}
}

func TestSumCI_ZeroEstimateHasZeroRelativeError(t *testing.T) {
	ci := SumCI(0, 0, 100, 0.1, 0.95)
	if ci.RelativeError != 0 {
		t.Errorf("RelativeError = %v, want 0 for a zero estimate", ci.RelativeError)
	}
}

func TestCountCI_ScalesByInverseFraction(t *testing.T) {
	ci := CountCI(200, 0.1, 0.95)
	if want := 2000.0; ci.Estimate != want {
		t.Errorf("Estimate = %v, want %v", ci.Estimate, want)
	}
	if ci.Lower >= ci.Estimate || ci.Upper <= ci.Estimate {
		t.Errorf("CI [%v, %v] does not bracket estimate %v", ci.Lower, ci.Upper, ci.Estimate)
	}
}

func TestCountCI_NarrowerAtHigherFraction(t *testing.T) {
	wide := CountCI(20, 0.01, 0.95)
	narrow := CountCI(800, 0.4, 0.95)

	wideWidth := wide.Upper - wide.Lower
	narrowWidth := narrow.Upper - narrow.Lower
	if narrowWidth >= wideWidth {
		t.Errorf("CI width at fraction 0.4 (%v) not narrower than at fraction 0.01 (%v)", narrowWidth, wideWidth)
	}
}

package models

import "math"

// roundingEpsilon absorbs binary float error such as 1.005*100 = 100.49999...
const roundingEpsilon = 1e-9

// RoundMoney rounds to 2 decimal places, half away from zero
func RoundMoney(v float64) float64 {
	if v < 0 {
		return -RoundMoney(-v)
	}
	return math.Floor(v*100+0.5+roundingEpsilon) / 100
}

// ToMinorUnits converts an amount to the integer minor units gateways expect
func ToMinorUnits(v float64) int64 {
	return int64(math.Round(RoundMoney(v) * 100))
}

// AmountsMatch compares two amounts within a cent
func AmountsMatch(a, b float64) bool {
	return math.Abs(a-b) <= 0.01+roundingEpsilon
}

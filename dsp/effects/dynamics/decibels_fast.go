//go:build fastmath

package dynamics

import "github.com/meko-christian/algo-approx"

func naturalLog(x float64) float64 { return approx.FastLog(x) }

func naturalExp(x float64) float64 { return approx.FastExp(x) }

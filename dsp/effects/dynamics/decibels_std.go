//go:build !fastmath

package dynamics

import "math"

func naturalLog(x float64) float64 { return math.Log(x) }

func naturalExp(x float64) float64 { return math.Exp(x) }

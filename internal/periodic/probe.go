package periodic

// Sample reduces a per-resource metric vector according to the probe's
// aggregation selector: none yields the vector itself, sum and mean
// collapse it to a scalar.
func Sample(values []float64, agg Aggregation) any {
	switch agg {
	case AggregationSum:
		var total float64
		for _, v := range values {
			total += v
		}
		return total
	case AggregationMean:
		if len(values) == 0 {
			return 0.0
		}
		var total float64
		for _, v := range values {
			total += v
		}
		return total / float64(len(values))
	default:
		return values
	}
}

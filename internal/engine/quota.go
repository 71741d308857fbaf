package engine

// stepQuota counts rule firings in one flow against a maximum. Checked
// before every firing; exceeding the limit terminates the flow with a
// QuotaError.
type stepQuota struct {
	maxSteps int
	current  int
}

func newStepQuota(maxSteps int) *stepQuota {
	return &stepQuota{maxSteps: maxSteps}
}

// check increments the step counter and validates against the limit.
func (q *stepQuota) check(flow string) error {
	q.current++
	if q.current > q.maxSteps {
		return &QuotaError{FlowToken: flow, Steps: q.current, Limit: q.maxSteps}
	}
	return nil
}

package batch

// Observer receives progress from a running batch. The orchestrator calls it
// from the goroutine running the batch; implementations shared between
// batches must be safe for concurrent use.
type Observer interface {
	OnBatchStart(id string, total int)
	OnJobDone(id string, res JobResult, progress ProgressState)
	OnBatchDone(id string, res BatchResult, err error)
}

// Observers fans every event out to each non-nil member, in order.
type Observers []Observer

func (m Observers) OnBatchStart(id string, total int) {
	for _, o := range m {
		if o != nil {
			o.OnBatchStart(id, total)
		}
	}
}

func (m Observers) OnJobDone(id string, res JobResult, progress ProgressState) {
	for _, o := range m {
		if o != nil {
			o.OnJobDone(id, res, progress)
		}
	}
}

func (m Observers) OnBatchDone(id string, res BatchResult, err error) {
	for _, o := range m {
		if o != nil {
			o.OnBatchDone(id, res, err)
		}
	}
}

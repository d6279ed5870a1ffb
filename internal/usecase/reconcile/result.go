package reconcile

// Summary is the job result body shared with the HTTP API and the CLI.
type Summary struct {
	NewProperties         int      `json:"newProperties"`
	UpdatedProperties     int      `json:"updatedProperties"`
	DeactivatedProperties int      `json:"deactivatedProperties"`
	Skipped               int      `json:"skipped"`
	Errors                []string `json:"errors"`
}

type Result struct {
	Success bool    `json:"success"`
	Summary Summary `json:"summary"`

	// Reactivated counts previously inactive listings that reappeared. They
	// are included in NewProperties for sync and UpdatedProperties for import.
	Reactivated int `json:"reactivated"`

	// DeactivationAlert is set when more listings were deactivated than the
	// configured threshold, which usually points at a scraper fault.
	DeactivationAlert bool `json:"deactivationAlert"`
}

func newResult() Result {
	return Result{Success: true, Summary: Summary{Errors: []string{}}}
}

func (r *Result) addError(err error) {
	r.Summary.Errors = append(r.Summary.Errors, err.Error())
}

func failed(err error) Result {
	res := newResult()
	res.Success = false
	res.addError(err)
	return res
}

package reactorerrors

// priorityRank orders error kinds for the admission response's
// single-error selection: when several handlers on one request raised
// errors, the most specific one wins, per spec: AdmissionError >
// PermanentError > TemporaryError > any other exception.
func priorityRank(err error) int {
	switch err.(type) {
	case *AdmissionError:
		return 0
	case *PermanentError:
		return 1
	case *TemporaryError:
		return 2
	default:
		return 3
	}
}

// SelectMostSpecific picks the single most specific error among errs by
// priority (AdmissionError > PermanentError > TemporaryError >
// anything else), tie-breaking by order of occurrence -- i.e. the first
// error at the best rank wins. Returns nil if errs is empty.
func SelectMostSpecific(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	best := errs[0]
	bestRank := priorityRank(best)
	for _, err := range errs[1:] {
		if r := priorityRank(err); r < bestRank {
			best = err
			bestRank = r
		}
	}
	return best
}

// AdmissionCode extracts the status code the admission response should
// report for err: the AdmissionError's own code if it is one, else 500.
func AdmissionCode(err error) int {
	if ae, ok := err.(*AdmissionError); ok {
		return ae.Code
	}
	return 500
}

package conversation

import "search-assist/internal/stream"

// ReduceSearch folds one event into a message's search progress. It never
// mutates prev. Progress events that arrive before any search_start leave the
// result nil.
func ReduceSearch(prev *SearchInfo, ev stream.Event) *SearchInfo {
	switch ev := ev.(type) {
	case stream.SearchStart:
		return &SearchInfo{
			Stages: []Stage{StageSearching},
			Query:  ev.Query,
			URLs:   []string{},
		}
	case stream.SearchResults:
		if prev == nil {
			return nil
		}
		next := withStage(prev, StageReading)
		next.URLs = append([]string{}, ev.URLs...)
		return next
	case stream.SearchError:
		if prev == nil {
			return nil
		}
		next := withStage(prev, StageError)
		next.Error = ev.Message
		return next
	case stream.End:
		if prev == nil {
			return nil
		}
		return withStage(prev, StageWriting)
	default:
		return prev
	}
}

func withStage(prev *SearchInfo, stage Stage) *SearchInfo {
	next := prev.Clone()
	if !next.Has(stage) {
		next.Stages = append(next.Stages, stage)
	}
	return next
}

package conversation

type Stage string

const (
	StageSearching Stage = "searching"
	StageReading   Stage = "reading"
	StageWriting   Stage = "writing"
	StageError     Stage = "error"
)

const Greeting = "Hi there, how can I help you?"

type SearchInfo struct {
	Stages []Stage
	Query  string
	URLs   []string
	Error  string
}

func (s *SearchInfo) Has(stage Stage) bool {
	if s == nil {
		return false
	}
	for _, st := range s.Stages {
		if st == stage {
			return true
		}
	}
	return false
}

func (s *SearchInfo) Clone() *SearchInfo {
	if s == nil {
		return nil
	}
	out := &SearchInfo{
		Stages: append([]Stage(nil), s.Stages...),
		Query:  s.Query,
		URLs:   append([]string(nil), s.URLs...),
		Error:  s.Error,
	}
	if out.Stages == nil {
		out.Stages = []Stage{}
	}
	if out.URLs == nil {
		out.URLs = []string{}
	}
	return out
}

type Message struct {
	ID        int
	Content   string
	IsUser    bool
	IsLoading bool
	Search    *SearchInfo
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Content   *string
	IsLoading *bool
	Search    *SearchInfo
}

func (m Message) clone() Message {
	m.Search = m.Search.Clone()
	return m
}

func (m *Message) apply(p Patch) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.IsLoading != nil {
		m.IsLoading = *p.IsLoading
	}
	if p.Search != nil {
		m.Search = p.Search.Clone()
	}
}

package settlement

import "tecnoico/internal/domain"

// MultiSink fans one settled purchase out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Record(s *domain.Settlement, deferred bool) {
	for _, sink := range m {
		if sink != nil {
			sink.Record(s, deferred)
		}
	}
}

package span

import (
	"fmt"
	"sort"
	"strings"
)

// Resolution is the outcome of one conflict-resolution pass.
type Resolution struct {
	// Spans is the full candidate arena with Applied/Ignored/AmbiguousWith
	// flags set. AmbiguousWith entries index into this slice.
	Spans []Span `json:"spans"`
	// Applied holds the indices of the surviving spans in CharacterStart
	// order. The referenced spans are pairwise non-overlapping.
	Applied []int `json:"applied"`
	// RedactedText is the input with every applied span substituted.
	RedactedText string `json:"redacted_text"`
	// RedactionCount is the number of substitutions written.
	RedactionCount int `json:"redaction_count"`
}

// DefaultPlaceholder returns the substitute text used when a span carries no
// explicit replacement.
func DefaultPlaceholder(ft FilterType) string {
	return fmt.Sprintf("[REDACTED:%s]", ft)
}

// Resolve merges candidate spans into a non-overlapping redaction plan and
// produces the redacted text. It is Plan followed by Materialize; callers
// that run a post-filter veto stage use the two steps directly.
func Resolve(candidates []Span, text string) Resolution {
	res := Plan(candidates)
	res.Materialize(text)
	return res
}

// Plan deduplicates and orders candidate spans, sweeps them left to right,
// and marks each as Applied or Ignored without touching the text.
//
// Candidates are deduplicated (same range and type keeps the highest
// confidence), ordered by CharacterStart ascending then CharacterEnd
// descending, and swept left to right carrying the current winning span.
// Overlap ties break on priority (higher wins), then confidence, then
// length, then earlier start. Losers are marked Ignored; the winner records
// the loser's index and the score delta that decided.
func Plan(candidates []Span) Resolution {
	res := Resolution{Spans: candidates}
	if len(candidates) == 0 {
		return res
	}

	order := dedupe(candidates)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := &candidates[order[i]], &candidates[order[j]]
		if a.CharacterStart != b.CharacterStart {
			return a.CharacterStart < b.CharacterStart
		}
		return a.CharacterEnd > b.CharacterEnd
	})

	winner := -1
	for _, idx := range order {
		cand := &candidates[idx]
		if winner < 0 {
			winner = idx
			continue
		}
		w := &candidates[winner]
		if !w.Overlaps(cand) {
			w.Applied = true
			res.Applied = append(res.Applied, winner)
			winner = idx
			continue
		}

		kept, lost, score := breakTie(winner, idx, candidates)
		candidates[lost].Ignored = true
		candidates[kept].AmbiguousWith = append(candidates[kept].AmbiguousWith, lost)
		candidates[kept].DisambiguationScore = score
		winner = kept
	}
	if winner >= 0 {
		candidates[winner].Applied = true
		res.Applied = append(res.Applied, winner)
	}
	return res
}

// Veto flips an applied span to ignored. Used by the post-filter stage,
// which is the only collaborator allowed to do this after planning.
func (r *Resolution) Veto(idx int) {
	if idx < 0 || idx >= len(r.Spans) || !r.Spans[idx].Applied {
		return
	}
	r.Spans[idx].Applied = false
	r.Spans[idx].Ignored = true
	for i, a := range r.Applied {
		if a == idx {
			r.Applied = append(r.Applied[:i], r.Applied[i+1:]...)
			break
		}
	}
}

// Materialize writes the redacted text for the current applied set.
func (r *Resolution) Materialize(text string) {
	r.RedactedText, r.RedactionCount = substitute(text, r.Spans, r.Applied)
}

// dedupe drops exact duplicates (identical range and filter type), keeping
// the highest-confidence instance, and returns the surviving indices.
func dedupe(spans []Span) []int {
	type key struct {
		start, end int
		ft         FilterType
	}
	best := make(map[key]int, len(spans))
	for i := range spans {
		k := key{spans[i].CharacterStart, spans[i].CharacterEnd, spans[i].FilterType}
		if j, ok := best[k]; ok {
			if spans[i].Confidence > spans[j].Confidence {
				spans[j].Ignored = true
				best[k] = i
			} else {
				spans[i].Ignored = true
			}
			continue
		}
		best[k] = i
	}
	order := make([]int, 0, len(best))
	for i := range spans {
		if !spans[i].Ignored {
			order = append(order, i)
		}
	}
	return order
}

// breakTie decides between two overlapping spans and returns the kept index,
// the lost index, and the delta that broke the tie.
func breakTie(a, b int, spans []Span) (kept, lost int, score float64) {
	sa, sb := &spans[a], &spans[b]
	if sa.Priority != sb.Priority {
		if sa.Priority > sb.Priority {
			return a, b, float64(sa.Priority - sb.Priority)
		}
		return b, a, float64(sb.Priority - sa.Priority)
	}
	if sa.Confidence != sb.Confidence {
		if sa.Confidence > sb.Confidence {
			return a, b, sa.Confidence - sb.Confidence
		}
		return b, a, sb.Confidence - sa.Confidence
	}
	la, lb := sa.effectiveLength(), sb.effectiveLength()
	if la != lb {
		if la > lb {
			return a, b, float64(la - lb)
		}
		return b, a, float64(lb - la)
	}
	if sa.CharacterStart <= sb.CharacterStart {
		return a, b, 0
	}
	return b, a, 0
}

// substitute walks the applied spans left to right, copying untouched text
// verbatim and writing each span's replacement (or the filter-type default).
// An explicitly empty replacement still counts as a substitution.
func substitute(text string, spans []Span, applied []int) (string, int) {
	if len(applied) == 0 {
		return text, 0
	}
	var out strings.Builder
	cursor := 0
	count := 0
	for _, idx := range applied {
		s := &spans[idx]
		start := ByteOffset(text, s.CharacterStart)
		end := ByteOffset(text, s.CharacterEnd)
		out.WriteString(text[cursor:start])
		if s.Replacement != nil {
			out.WriteString(*s.Replacement)
		} else {
			out.WriteString(DefaultPlaceholder(s.FilterType))
		}
		cursor = end
		count++
	}
	out.WriteString(text[cursor:])
	return out.String(), count
}

package extract

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/hackgods/sms-booking-engine/internal/catalog"
)

var nameStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "of": true, "for": true,
	"with": true, "&": true, "service": true, "treatment": true,
}

// recognizeService matches the message against service names in tiers:
// exact name, full name contained in the message, name words, then a
// typo-tolerant pass over distinctive name words. The first tier with any hit
// decides; several hits in that tier make the match ambiguous unless one name
// is strictly longer (more specific) than the others.
func recognizeService(_ *Extractor, s *scan) []Match {
	services := s.in.Services
	if len(services) == 0 {
		return nil
	}
	text := strings.Trim(s.text, " .")

	// exact
	for _, svc := range services {
		if normalize(svc.Name) == text {
			return []Match{ServiceMatch{Service: svc, Exact: true}}
		}
	}

	// full name inside the message
	var contained []catalog.Service
	padded := " " + strings.Join(words(text), " ") + " "
	for _, svc := range services {
		name := strings.Join(words(normalize(svc.Name)), " ")
		if name != "" && strings.Contains(padded, " "+name+" ") {
			contained = append(contained, svc)
		}
	}
	if len(contained) > 0 {
		return []Match{pickLongest(contained, true)}
	}

	// name words
	msgWords := words(text)
	index := nameWordIndex(services)
	var hit map[int64]bool
	for _, w := range msgWords {
		ids, ok := index[w]
		if !ok {
			continue
		}
		if hit == nil {
			hit = make(map[int64]bool, len(ids))
			for _, id := range ids {
				hit[id] = true
			}
			continue
		}
		next := make(map[int64]bool)
		for _, id := range ids {
			if hit[id] {
				next[id] = true
			}
		}
		if len(next) > 0 {
			hit = next
		}
	}
	if len(hit) > 0 {
		return []Match{fromIDs(services, hit, false)}
	}

	// typo tolerance on distinctive words
	distinct, owner := distinctiveWords(services, index)
	if len(distinct) == 0 {
		return nil
	}
	fuzzyHit := make(map[int64]bool)
	for _, w := range msgWords {
		if len(w) < 5 || nameStopwords[w] {
			continue
		}
		for _, m := range fuzzy.Find(w, distinct) {
			if m.Str[0] != w[0] || len(m.Str)-len(w) > 2 {
				continue
			}
			fuzzyHit[owner[m.Str]] = true
		}
	}
	if len(fuzzyHit) == 0 {
		return nil
	}
	m := fromIDs(services, fuzzyHit, false)
	if sm, ok := m.(ServiceMatch); ok {
		sm.Fuzzy = true
		return []Match{sm}
	}
	return []Match{m}
}

// nameWordIndex maps every non-stopword of every service name to the services using it.
func nameWordIndex(services []catalog.Service) map[string][]int64 {
	index := make(map[string][]int64)
	for _, svc := range services {
		seen := make(map[string]bool)
		for _, w := range words(normalize(svc.Name)) {
			if nameStopwords[w] || seen[w] {
				continue
			}
			seen[w] = true
			index[w] = append(index[w], svc.ID)
		}
	}
	return index
}

// distinctiveWords returns name words used by exactly one service.
func distinctiveWords(services []catalog.Service, index map[string][]int64) ([]string, map[string]int64) {
	owner := make(map[string]int64)
	var out []string
	for w, ids := range index {
		if len(ids) == 1 && len(w) >= 4 {
			owner[w] = ids[0]
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out, owner
}

func fromIDs(services []catalog.Service, ids map[int64]bool, exact bool) Match {
	var picked []catalog.Service
	for _, svc := range services {
		if ids[svc.ID] {
			picked = append(picked, svc)
		}
	}
	if len(picked) == 1 {
		return ServiceMatch{Service: picked[0], Exact: exact}
	}
	return AmbiguousService{Candidates: picked}
}

func pickLongest(cands []catalog.Service, exact bool) Match {
	sort.SliceStable(cands, func(i, j int) bool { return len(cands[i].Name) > len(cands[j].Name) })
	if len(cands) > 1 && len(cands[0].Name) == len(cands[1].Name) {
		return AmbiguousService{Candidates: cands}
	}
	return ServiceMatch{Service: cands[0], Exact: exact}
}

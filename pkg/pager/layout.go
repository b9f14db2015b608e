package pager

import (
	"sort"
	"time"
)

// victimScore implements spec.md's victim-selection formula:
//
//	lru_score = 0.4*(now-last_accessed)/3600 + 0.3*1/(access_count+1) + 0.3*(1-importance)
//	victim_score = lru_score * (1 - importance*0.5)
//
// Pages with importance >= 0.95 are never eligible (treated as critical).
func victimScore(p *Page, now time.Time) (score float64, eligible bool) {
	if p.Importance >= 0.95 {
		return 0, false
	}
	ageHours := now.Sub(p.LastAccess).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	lru := 0.4*ageHours + 0.3*(1.0/float64(p.AccessCount+1)) + 0.3*(1-p.Importance)
	return lru * (1 - p.Importance*0.5), true
}

// selectVictim finds the IN_MEMORY page with the maximum victim score among
// the supplied candidates. Returns nil if none are eligible (all critical).
func selectVictim(candidates []*Page, now time.Time) *Page {
	var best *Page
	var bestScore float64
	for _, p := range candidates {
		if p.Status != StatusInMemory {
			continue
		}
		score, ok := victimScore(p, now)
		if !ok {
			continue
		}
		if best == nil || score > bestScore {
			best = p
			bestScore = score
		}
	}
	return best
}

// orderForCache implements the KV-cache layout policy (spec.md L1-L3):
// system/tools pages first (insertion order among themselves), then the
// rest ordered by access count descending, ties broken by insertion order.
func orderForCache(pages []*Page) []*Page {
	prefix := make([]*Page, 0, len(pages))
	rest := make([]*Page, 0, len(pages))
	for _, p := range pages {
		if p.Type == PageSystem || p.Type == PageTools {
			prefix = append(prefix, p)
		} else {
			rest = append(rest, p)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].AccessCount > rest[j].AccessCount
	})
	return append(prefix, rest...)
}

// orderByRecency sorts by (importance desc, last-access desc) — the
// non-cache-optimized ordering get_agent_context can apply instead.
func orderByRecency(pages []*Page) []*Page {
	out := append([]*Page(nil), pages...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].LastAccess.After(out[j].LastAccess)
	})
	return out
}

package nanny

import (
	"sort"
	"sync"
	"time"
)

// ledger is the pure accounting half of the Nanny. It never sleeps and
// never performs I/O. Every resource carries its own lock and no method
// holds two of them.
type ledger struct {
	limits     map[Name]float64
	renewable  map[Name]*renewable
	level      map[Name]*level
	fungible   map[Name]*fungible
	individual map[Name]*individual
}

type renewable struct {
	mu      sync.Mutex
	rate    float64
	used    float64
	updated time.Time
}

// decay drains the resource for the time elapsed since the last update.
// A clock that moved backwards only resets the reference point. Callers
// hold mu.
func (r *renewable) decay(now time.Time) {
	elapsed := now.Sub(r.updated)
	r.updated = now
	if elapsed < 0 {
		return
	}
	reduction := elapsed.Seconds() * r.rate
	if reduction >= r.used {
		r.used = 0
		return
	}
	r.used -= reduction
}

type level struct {
	mu    sync.Mutex
	limit float64
	value float64
}

type fungible struct {
	mu    sync.Mutex
	limit int
	set   map[any]struct{}
}

type individual struct {
	mu      sync.Mutex
	allowed map[int]struct{}
	used    map[int]struct{}
}

func newLedger(defs Definitions, now time.Time) *ledger {
	l := &ledger{
		limits:     make(map[Name]float64),
		renewable:  make(map[Name]*renewable),
		level:      make(map[Name]*level),
		fungible:   make(map[Name]*fungible),
		individual: make(map[Name]*individual),
	}
	for name, cat := range categories {
		limit := defs.Limits[name]
		switch cat {
		case CategoryRenewable:
			l.limits[name] = limit
			l.renewable[name] = &renewable{rate: limit, updated: now}
		case CategoryLevel:
			l.limits[name] = limit
			l.level[name] = &level{limit: limit}
		case CategoryFungible:
			l.limits[name] = limit
			l.fungible[name] = &fungible{limit: int(limit), set: make(map[any]struct{})}
		case CategoryIndividual:
			ind := &individual{
				allowed: make(map[int]struct{}),
				used:    make(map[int]struct{}),
			}
			for _, p := range defs.Allowed[name] {
				ind.allowed[p] = struct{}{}
			}
			l.individual[name] = ind
		}
	}
	return l
}

func (l *ledger) usage(now time.Time) (map[Name]float64, map[Name][]int) {
	usage := make(map[Name]float64, len(l.limits))
	for name, r := range l.renewable {
		r.mu.Lock()
		r.decay(now)
		usage[name] = r.used
		r.mu.Unlock()
	}
	for name, lv := range l.level {
		lv.mu.Lock()
		usage[name] = lv.value
		lv.mu.Unlock()
	}
	for name, f := range l.fungible {
		f.mu.Lock()
		usage[name] = float64(len(f.set))
		f.mu.Unlock()
	}
	items := make(map[Name][]int, len(l.individual))
	for name, ind := range l.individual {
		ind.mu.Lock()
		items[name] = sortedPorts(ind.used)
		ind.mu.Unlock()
	}
	return usage, items
}

func (l *ledger) allowed() map[Name][]int {
	out := make(map[Name][]int, len(l.individual))
	for name, ind := range l.individual {
		out[name] = sortedPorts(ind.allowed)
	}
	return out
}

func sortedPorts(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

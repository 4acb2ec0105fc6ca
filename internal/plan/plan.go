// Package plan holds the subscription plan catalog shared by user-service
// (selection validation) and payment-service (pricing).
package plan

import "sort"

type Plan struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

var catalog = map[int]Plan{
	1: {ID: 1, Name: "Plan Básico", Price: 19.99},
	2: {ID: 2, Name: "Plan Estándar", Price: 49.99},
	3: {ID: 3, Name: "Plan Premium", Price: 79.99},
}

func ByID(id int) (Plan, bool) {
	p, ok := catalog[id]
	return p, ok
}

func All() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package model

import "sort"

// SortByPriority orders change sets by the event type priority, ascending.
// The sort is stable, items with the same priority keep the input order.
func SortByPriority(items []ChangeSet) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].EventType.Priority() < items[j].EventType.Priority()
	})
}

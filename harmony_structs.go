package main

import (
	"golang.org/x/exp/slices"

	"github.com/zabeloliver/harmony-exporter/harmony-api/harmonyStructs"
)

type ActivityLabelMap map[string]string

func createMapping(activities []harmonyStructs.ActivitySummary) (mapping ActivityLabelMap) {
	mapping = make(ActivityLabelMap)
	for _, el := range activities {
		mapping[el.Id] = el.Label
	}
	return
}

func (m ActivityLabelMap) label(id string) string {
	if l, ok := m[id]; ok {
		return l
	}
	if id == "-1" {
		return "PowerOff"
	}
	return id
}

// sortedIds lists the known activity ids, PowerOff first.
func (m ActivityLabelMap) sortedIds() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

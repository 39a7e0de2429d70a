// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package memory

import (
	"sort"
	"strings"
	"time"
)

type observation struct {
	severity int
	at       time.Time
}

// AnalyzeSymptomTrend 按症状描述分组比较最早与最晚一次的严重程度：
// 最晚 > 最早+1 为加重，最晚 < 最早-1 为好转，其余（含只出现一次）为稳定。
// 缺少发生时间的观测按 Unix 零点排序。
func AnalyzeSymptomTrend(records []MemoryRecord) TrendReport {
	report := TrendReport{
		Worsening: []string{},
		Improving: []string{},
		Stable:    []string{},
		Details:   []SymptomTrend{},
	}

	var order []string
	display := make(map[string]string)
	groups := make(map[string][]observation)
	for _, r := range records {
		for _, s := range r.Content.ExtractedSymptoms {
			key := normalizeSymptom(s.Description)
			if key == "" {
				continue
			}
			if _, ok := groups[key]; !ok {
				order = append(order, key)
				display[key] = strings.TrimSpace(s.Description)
			}
			at := time.Unix(0, 0).UTC()
			if s.OccurredAt != nil {
				at = *s.OccurredAt
			}
			groups[key] = append(groups[key], observation{severity: s.Severity, at: at})
		}
	}

	for _, key := range order {
		obs := groups[key]
		sort.SliceStable(obs, func(i, j int) bool { return obs[i].at.Before(obs[j].at) })
		first, last := obs[0].severity, obs[len(obs)-1].severity

		dir := TrendStable
		if len(obs) > 1 {
			switch {
			case last > first+1:
				dir = TrendWorsening
			case last < first-1:
				dir = TrendImproving
			}
		}

		name := display[key]
		switch dir {
		case TrendWorsening:
			report.Worsening = append(report.Worsening, name)
		case TrendImproving:
			report.Improving = append(report.Improving, name)
		default:
			report.Stable = append(report.Stable, name)
		}
		report.Details = append(report.Details, SymptomTrend{
			Symptom:       name,
			Direction:     dir,
			Observations:  len(obs),
			FirstSeverity: first,
			LastSeverity:  last,
		})
	}
	return report
}

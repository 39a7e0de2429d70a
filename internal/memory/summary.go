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
	"fmt"
	"sort"
	"strings"
)

// NoMemoriesSummary 空输入时的固定摘要
const NoMemoriesSummary = "No relevant memories found."

// summaryTypeOrder 摘要中类型的固定顺序
var summaryTypeOrder = []MemoryType{TypeSymptom, TypeMedicalEvent, TypeConversation, TypePreference}

// GenerateSummary 生成确定性的文字摘要：按类型计数，列出去重后的症状（首次出现顺序）
func GenerateSummary(records []MemoryRecord) string {
	if len(records) == 0 {
		return NoMemoriesSummary
	}

	counts := make(map[MemoryType]int)
	var symptoms []string
	seen := make(map[string]struct{})
	for _, r := range records {
		counts[r.Type]++
		for _, s := range r.Content.ExtractedSymptoms {
			desc := strings.TrimSpace(s.Description)
			key := normalizeSymptom(desc)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			symptoms = append(symptoms, desc)
		}
	}

	order := append([]MemoryType(nil), summaryTypeOrder...)
	var extra []string
	for t := range counts {
		if !t.Valid() {
			extra = append(extra, string(t))
		}
	}
	sort.Strings(extra)
	for _, t := range extra {
		order = append(order, MemoryType(t))
	}

	parts := make([]string, 0, len(counts))
	for _, t := range order {
		if n := counts[t]; n > 0 {
			label := string(t)
			if label == "" {
				label = "unknown"
			}
			parts = append(parts, fmt.Sprintf("%s: %d", label, n))
		}
	}

	noun := "memories"
	if len(records) == 1 {
		noun = "memory"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant %s (%s).", len(records), noun, strings.Join(parts, ", "))
	if len(symptoms) > 0 {
		fmt.Fprintf(&b, " Reported symptoms: %s.", strings.Join(symptoms, ", "))
	}
	return b.String()
}

func normalizeSymptom(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(day int) *time.Time {
	t := time.Date(2024, 3, day, 9, 0, 0, 0, time.UTC)
	return &t
}

func symptomRecord(desc string, severity int, at *time.Time) MemoryRecord {
	return MemoryRecord{
		Type: TypeSymptom,
		Content: MemoryContent{ExtractedSymptoms: []ExtractedSymptom{
			{Description: desc, Severity: severity, OccurredAt: at},
		}},
	}
}

func TestAnalyzeSymptomTrend(t *testing.T) {
	records := []MemoryRecord{
		// 乱序输入，按发生时间排序后比较
		symptomRecord("headache", 8, ts(5)),
		symptomRecord("headache", 4, ts(1)),
		symptomRecord("cough", 7, ts(1)),
		symptomRecord("Cough", 2, ts(3)),
		symptomRecord("fatigue", 5, ts(1)),
		symptomRecord("fatigue", 6, ts(2)),
		symptomRecord("rash", 3, ts(2)),
	}
	report := AnalyzeSymptomTrend(records)

	assert.Equal(t, []string{"headache"}, report.Worsening)
	assert.Equal(t, []string{"cough"}, report.Improving)
	assert.Equal(t, []string{"fatigue", "rash"}, report.Stable)
	if assert.Len(t, report.Details, 4) {
		assert.Equal(t, SymptomTrend{Symptom: "headache", Direction: TrendWorsening, Observations: 2, FirstSeverity: 4, LastSeverity: 8}, report.Details[0])
		assert.Equal(t, 1, report.Details[3].Observations)
	}
}

func TestAnalyzeSymptomTrend_Boundaries(t *testing.T) {
	// 差值恰为 1 视为稳定，差值 2 才算变化
	report := AnalyzeSymptomTrend([]MemoryRecord{
		symptomRecord("a", 3, ts(1)), symptomRecord("a", 4, ts(2)),
		symptomRecord("b", 3, ts(1)), symptomRecord("b", 5, ts(2)),
		symptomRecord("c", 5, ts(1)), symptomRecord("c", 3, ts(2)),
	})
	assert.Equal(t, []string{"b"}, report.Worsening)
	assert.Equal(t, []string{"c"}, report.Improving)
	assert.Equal(t, []string{"a"}, report.Stable)
}

func TestAnalyzeSymptomTrend_MissingTimeSortsFirst(t *testing.T) {
	report := AnalyzeSymptomTrend([]MemoryRecord{
		symptomRecord("nausea", 2, ts(4)),
		symptomRecord("nausea", 9, nil),
	})
	assert.Equal(t, []string{"nausea"}, report.Improving)
}

func TestAnalyzeSymptomTrend_Empty(t *testing.T) {
	report := AnalyzeSymptomTrend(nil)
	assert.NotNil(t, report.Worsening)
	assert.NotNil(t, report.Improving)
	assert.NotNil(t, report.Stable)
	assert.Empty(t, report.Details)
}

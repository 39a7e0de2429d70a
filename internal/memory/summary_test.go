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

	"github.com/stretchr/testify/assert"
)

func TestGenerateSummary_Empty(t *testing.T) {
	assert.Equal(t, NoMemoriesSummary, GenerateSummary(nil))
	assert.Equal(t, NoMemoriesSummary, GenerateSummary([]MemoryRecord{}))
}

func TestGenerateSummary(t *testing.T) {
	records := []MemoryRecord{
		{Type: TypeConversation},
		{Type: TypeSymptom, Content: MemoryContent{ExtractedSymptoms: []ExtractedSymptom{{Description: "Headache"}, {Description: "fever"}}}},
		{Type: TypeSymptom, Content: MemoryContent{ExtractedSymptoms: []ExtractedSymptom{{Description: "headache "}, {Description: "  "}}}},
		{Type: "diary"},
		{Type: TypeMedicalEvent},
	}
	want := "Found 5 relevant memories (symptom: 2, medical_event: 1, conversation: 1, diary: 1). Reported symptoms: Headache, fever."
	assert.Equal(t, want, GenerateSummary(records))
	// 重复调用结果一致
	assert.Equal(t, want, GenerateSummary(records))
}

func TestGenerateSummary_NoSymptoms(t *testing.T) {
	got := GenerateSummary([]MemoryRecord{{Type: TypePreference}})
	assert.Equal(t, "Found 1 relevant memory (preference: 1).", got)
}

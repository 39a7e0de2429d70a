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
package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTime(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want TimeValue
	}{
		{
			name: "snake_case",
			in:   `{"current_time":"2024-03-01T10:00:00Z","timezone":"UTC","timestamp":1709287200,"formatted":"Fri 10:00"}`,
			want: TimeValue{CurrentTime: "2024-03-01T10:00:00.000Z", Timezone: "UTC", Timestamp: 1709287200, Formatted: "Fri 10:00"},
		},
		{
			name: "camelCase without timestamp",
			in:   `{"currentTime":"2024-03-01T10:00:00.250Z","timezone":"UTC"}`,
			want: TimeValue{CurrentTime: "2024-03-01T10:00:00.250Z", Timezone: "UTC", Timestamp: 1709287200},
		},
		{
			name: "timestamp only uses default timezone",
			in:   `{"timestamp":1709287200}`,
			want: TimeValue{CurrentTime: "2024-03-01T18:00:00.000+08:00", Timezone: "Asia/Shanghai", Timestamp: 1709287200},
		},
		{
			name: "millisecond timestamp",
			in:   `{"current_time":"2024-03-01T10:00:00Z","time_zone":"UTC","timestamp":1709287200000,"formatted_time":"x"}`,
			want: TimeValue{CurrentTime: "2024-03-01T10:00:00.000Z", Timezone: "UTC", Timestamp: 1709287200, Formatted: "x"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeTime([]byte(tc.in), "Asia/Shanghai")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeTime_Invalid(t *testing.T) {
	for _, in := range []string{`{}`, `{"current_time":"yesterday"}`, `[1,2]`} {
		_, err := NormalizeTime([]byte(in), "UTC")
		assert.Error(t, err, in)
	}
}

func TestLocalTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tv := LocalTime(now, "Asia/Shanghai")
	assert.Equal(t, "2024-03-01T18:00:00.000+08:00", tv.CurrentTime)
	assert.Equal(t, "Asia/Shanghai", tv.Timezone)
	assert.Equal(t, now.Unix(), tv.Timestamp)
	assert.Equal(t, "2024-03-01 18:00:00 CST", tv.Formatted)

	tv = LocalTime(now, "Mars/Olympus")
	assert.Equal(t, "UTC", tv.Timezone)
	assert.Equal(t, "2024-03-01T10:00:00.000Z", tv.CurrentTime)
}
